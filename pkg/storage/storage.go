package storage

import (
	"context"
	"fmt"
)

// Uploader pushes a finished audio artifact to object storage. Uploads are
// idempotent: re-uploading a path overwrites the previous object.
type Uploader interface {
	Upload(ctx context.Context, path, contentType string, data []byte) error
}

// RecordingPath is where a whole-file recording lives.
func RecordingPath(sessionID string) string {
	return sessionID + "/recording.wav"
}

// ChunkPath is where one chunked-recording segment lives:
// {sessionID}/chunks/{index}.{ext}. The extension follows the chunk encoder:
// the hosted web client uploads webm segments, while this client defaults to
// wav because no pure-Go webm/opus encoder is available. A webm
// recorder.Encoder restores the .webm layout without any path changes here.
func ChunkPath(sessionID string, index int, ext string) string {
	return fmt.Sprintf("%s/chunks/%d.%s", sessionID, index, ext)
}
