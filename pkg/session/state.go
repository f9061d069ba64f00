package session

// State is the per-session lifecycle. The handshake is modeled as an explicit
// state rather than a sent/not-sent flag: a session that has opened but not
// yet seen audio sits in AwaitingFirstFrame, and frames arriving after Closed
// have no legal transition and are dropped.
type State int32

const (
	StateConnecting State = iota
	StateAwaitingFirstFrame
	StateStreaming
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingFirstFrame:
		return "awaiting_first_frame"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// open reports whether the session accepts audio frames.
func (s State) open() bool {
	return s == StateAwaitingFirstFrame || s == StateStreaming
}
