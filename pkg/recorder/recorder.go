package recorder

import (
	"context"

	"github.com/teu-im/teuim/pkg/frames"
)

// Recorder consumes the same frames the live sessions see and produces a
// durable artifact. Implementations must never block the fan-out path on
// network I/O: uploads happen off the AddFrame path and are best-effort.
type Recorder interface {
	// Start is called once the first frame reveals the sample rate.
	Start(sampleRate int) error
	AddFrame(f frames.AudioFrame) error
	// Stop finalizes the artifact and hands it to storage.
	Stop(ctx context.Context) error
	// Abort discards whatever has not already been uploaded.
	Abort() error
}

// Chunk describes one closed segment of a chunked recording.
type Chunk struct {
	Index         int
	StoragePath   string
	StartMs       int64
	EndMs         int64
	FileSizeBytes int
}
