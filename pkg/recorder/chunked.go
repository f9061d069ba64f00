package recorder

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teu-im/teuim/pkg/frames"
	"github.com/teu-im/teuim/pkg/logging"
	"github.com/teu-im/teuim/pkg/metrics"
	"github.com/teu-im/teuim/pkg/storage"
)

const DefaultSegmentDuration = 5 * time.Second

type ChunkedConfig struct {
	SessionID       string
	SegmentDuration time.Duration
	Encoder         Encoder
	Uploader        storage.Uploader
	// OnSegment fires after each segment closes, with its timing metadata.
	OnSegment func(Chunk)
	Logger  *slog.Logger
	Metrics metrics.Observer
	// Clock is swappable for tests.
	Clock func() time.Time
}

func (c ChunkedConfig) withDefaults() ChunkedConfig {
	if c.SegmentDuration <= 0 {
		c.SegmentDuration = DefaultSegmentDuration
	}
	if c.Encoder == nil {
		c.Encoder = WAVEncoder{}
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NoopObserver{}
	}
	return c
}

// Chunked flushes a segment file on a wall-clock cadence. Segment boundaries
// are time-driven, not audio-content-driven, so only the very last segment of
// a session may be shorter than the nominal duration. Each closed segment is
// uploaded immediately, best-effort.
type Chunked struct {
	cfg    ChunkedConfig
	logger *slog.Logger

	mu        sync.Mutex
	started   bool
	rate      int
	buf       bytes.Buffer
	index     int
	lastEndMs int64
	startedAt time.Time
	chunks    []Chunk

	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewChunked(cfg ChunkedConfig) *Chunked {
	cfg = cfg.withDefaults()
	return &Chunked{
		cfg:    cfg,
		logger: logging.NewComponentLogger(cfg.Logger, "recorder"),
	}
}

func (r *Chunked) Start(sampleRate int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("recorder already started")
	}
	r.started = true
	r.rate = sampleRate
	r.buf.Reset()
	r.index = 0
	r.lastEndMs = 0
	r.chunks = nil
	r.startedAt = r.cfg.Clock()

	r.ticker = time.NewTicker(r.cfg.SegmentDuration)
	r.done = make(chan struct{})
	r.wg.Add(1)
	go r.rotateLoop()
	return nil
}

func (r *Chunked) rotateLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case <-r.ticker.C:
			r.rotate(context.Background())
		}
	}
}

func (r *Chunked) AddFrame(f frames.AudioFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return fmt.Errorf("recorder not started")
	}
	_, err := r.buf.Write(f.RawPayload())
	return err
}

// rotate closes the currently open segment, if it holds any audio, and opens
// the next one. Runs on the ticker goroutine and at Stop, never on the
// frame-delivery path.
func (r *Chunked) rotate(ctx context.Context) {
	r.mu.Lock()
	if r.buf.Len() == 0 {
		r.mu.Unlock()
		return
	}
	pcm := append([]byte(nil), r.buf.Bytes()...)
	r.buf.Reset()
	rate := r.rate
	endMs := r.cfg.Clock().Sub(r.startedAt).Milliseconds()
	chunk := Chunk{
		Index:       r.index,
		StoragePath: storage.ChunkPath(r.cfg.SessionID, r.index, r.cfg.Encoder.Ext()),
		StartMs:     r.lastEndMs,
		EndMs:       endMs,
	}
	r.lastEndMs = endMs
	r.index++
	r.mu.Unlock()

	encoded := r.cfg.Encoder.Encode(pcm, rate)
	chunk.FileSizeBytes = len(encoded)

	if r.cfg.Uploader != nil {
		if err := r.cfg.Uploader.Upload(ctx, chunk.StoragePath, r.cfg.Encoder.ContentType(), encoded); err != nil {
			r.logger.Warn("chunk upload failed",
				slog.String("path", chunk.StoragePath),
				slog.String("error", err.Error()))
			r.cfg.Metrics.RecordEvent(metrics.Event{
				Name: metrics.EventUploadFailed,
				Time: r.cfg.Clock(),
				Tags: map[string]string{"path": chunk.StoragePath},
			})
		}
	}
	r.cfg.Metrics.RecordEvent(metrics.Event{
		Name:  metrics.EventChunkClosed,
		Time:  r.cfg.Clock(),
		Value: float64(chunk.FileSizeBytes),
		Tags:  map[string]string{"path": chunk.StoragePath},
	})

	r.mu.Lock()
	r.chunks = append(r.chunks, chunk)
	r.mu.Unlock()

	if r.cfg.OnSegment != nil {
		r.cfg.OnSegment(chunk)
	}
}

// Stop flushes the final partial segment the same way a timed boundary would.
func (r *Chunked) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	r.mu.Unlock()

	r.ticker.Stop()
	close(r.done)
	r.wg.Wait()
	r.rotate(ctx)
	return nil
}

// Abort drops the open segment. Chunks that already closed stay uploaded.
func (r *Chunked) Abort() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	r.buf.Reset()
	r.mu.Unlock()

	r.ticker.Stop()
	close(r.done)
	r.wg.Wait()
	return nil
}

// Chunks returns the closed segments so far.
func (r *Chunked) Chunks() []Chunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Chunk(nil), r.chunks...)
}
