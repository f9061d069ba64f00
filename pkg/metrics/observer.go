package metrics

import "time"

// Event names emitted by the interpretation pipeline.
const (
	EventFrameFanout   = "frame_fanout"
	EventResultPartial = "result_partial"
	EventResultFinal   = "result_final"
	EventChunkClosed   = "chunk_closed"
	EventUploadFailed  = "upload_failed"
	EventSessionFailed = "session_failed"
)

type Event struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev Event)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(Event) {}
