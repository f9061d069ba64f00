package recorder

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teu-im/teuim/pkg/audio"
	"github.com/teu-im/teuim/pkg/frames"
	"github.com/teu-im/teuim/pkg/logging"
	"github.com/teu-im/teuim/pkg/storage"
)

// WholeFile accumulates every frame and emits a single WAV blob on Stop.
type WholeFile struct {
	sessionID string
	uploader  storage.Uploader
	logger    *slog.Logger

	mu      sync.Mutex
	started bool
	rate    int
	buf     bytes.Buffer
	blob    []byte
}

func NewWholeFile(sessionID string, uploader storage.Uploader, logger *slog.Logger) *WholeFile {
	return &WholeFile{
		sessionID: sessionID,
		uploader:  uploader,
		logger:    logging.NewComponentLogger(logger, "recorder"),
	}
}

func (r *WholeFile) Start(sampleRate int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("recorder already started")
	}
	r.started = true
	r.rate = sampleRate
	r.buf.Reset()
	r.blob = nil
	return nil
}

func (r *WholeFile) AddFrame(f frames.AudioFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return fmt.Errorf("recorder not started")
	}
	_, err := r.buf.Write(f.RawPayload())
	return err
}

// Stop synthesizes the WAV container and uploads it. Upload failures are
// logged, never returned: audio loss is preferred over blocking teardown.
func (r *WholeFile) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	pcm := r.buf.Bytes()
	rate := r.rate
	r.blob = audio.EncodeWAV(pcm, rate)
	blob := r.blob
	r.mu.Unlock()

	if r.uploader == nil {
		return nil
	}
	path := storage.RecordingPath(r.sessionID)
	if err := r.uploader.Upload(ctx, path, "audio/wav", blob); err != nil {
		r.logger.Warn("recording upload failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return nil
	}
	r.logger.Info("recording uploaded",
		slog.String("path", path),
		slog.Int("size_bytes", len(blob)))
	return nil
}

func (r *WholeFile) Abort() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = false
	r.buf.Reset()
	r.blob = nil
	return nil
}

// Bytes returns the finished WAV blob after Stop.
func (r *WholeFile) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blob
}
