package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonCredentialFetch ReasonCode = "credential_fetch"

	ReasonSessionConnect   ReasonCode = "session_connect"
	ReasonSessionHandshake ReasonCode = "session_handshake"
	ReasonSessionSend      ReasonCode = "session_send"
	ReasonSessionProtocol  ReasonCode = "session_protocol"

	ReasonCaptureStart ReasonCode = "capture_start"

	ReasonUpload       ReasonCode = "upload"
	ReasonStatusUpdate ReasonCode = "status_update"
)
