package interpreter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teu-im/teuim/pkg/audio"
	"github.com/teu-im/teuim/pkg/errorsx"
	"github.com/teu-im/teuim/pkg/frames"
	"github.com/teu-im/teuim/pkg/logging"
	"github.com/teu-im/teuim/pkg/metrics"
	"github.com/teu-im/teuim/pkg/recorder"
	"github.com/teu-im/teuim/pkg/session"
	"github.com/teu-im/teuim/pkg/status"
)

// DefaultConnectTimeout bounds each session's handshake.
const DefaultConnectTimeout = 10 * time.Second

// CredentialIssuer is the credential provider boundary: one short-lived
// streaming credential, shared by every session in a pool.
type CredentialIssuer interface {
	Issue(ctx context.Context) (string, error)
}

// StatusReporter persists the caller's logical session status. Failures are
// logged and never affect the local state machine.
type StatusReporter interface {
	Report(ctx context.Context, st status.Status) error
}

type Config struct {
	// SessionID names the caller's logical session; it survives
	// pause/resume and anchors recording storage paths.
	SessionID string

	StreamURL       string
	Model           string
	LanguageHints   []string
	IncludeNonFinal bool
	ConnectTimeout  time.Duration

	Source      audio.Source
	Credentials CredentialIssuer
	Status      StatusReporter    // optional
	Recorder    recorder.Recorder // optional
	Dialer      session.Dialer    // optional, defaults to a real websocket dialer

	// OnResult receives every partial and final result from every session.
	OnResult func(session.Result)
	// OnError fires once per pool failure, with the target language that
	// failed when the failure is session-scoped.
	OnError func(targetLanguage string, err error)

	Logger  *slog.Logger
	Metrics metrics.Observer
}

// Coordinator owns one pool of connection sessions plus the capture source
// and recorder, fanning every captured frame to all of them. Construct with
// New and drive with Start/Stop/Pause/Resume/Cancel; a Coordinator holds no
// package-level state, so independent pools can coexist in tests.
type Coordinator struct {
	cfg    Config
	logger *slog.Logger
	observ metrics.Observer

	mu          sync.Mutex
	active      bool
	starting    bool
	sessions    []*session.Session
	lastTargets []string
	recStarted  bool

	pumpCancel context.CancelFunc
	pumpWG     sync.WaitGroup

	teardownOnce *sync.Once
}

func New(cfg Config) (*Coordinator, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("audio source is required")
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("credential issuer is required")
	}
	if cfg.StreamURL == "" {
		return nil, fmt.Errorf("stream url is required")
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	obs := cfg.Metrics
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	return &Coordinator{
		cfg:    cfg,
		logger: logging.NewComponentLogger(cfg.Logger, "coordinator").With(slog.String("session_id", cfg.SessionID)),
		observ: obs,
	}, nil
}

func (c *Coordinator) SessionID() string { return c.cfg.SessionID }

// Active reports whether a pool is currently running.
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Start opens one session per target language and, only once every session
// is open, begins audio capture. If any session fails or misses the connect
// timeout, every session opened so far is torn down and the error is
// returned: no partial pools. Start on an active coordinator, or one whose
// start is still in flight, is a no-op.
func (c *Coordinator) Start(ctx context.Context, targets []string) error {
	c.mu.Lock()
	if c.active || c.starting {
		c.mu.Unlock()
		return nil
	}
	c.starting = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
	}()

	if len(targets) == 0 {
		return fmt.Errorf("at least one target language is required")
	}

	credential, err := c.cfg.Credentials.Issue(ctx)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonCredentialFetch)
	}

	sessions, err := c.openAll(ctx, credential, targets)
	if err != nil {
		return err
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	if err := c.cfg.Source.Start(pumpCtx); err != nil {
		cancel()
		for _, s := range sessions {
			_ = s.Close(false)
		}
		return errorsx.Wrapf(errorsx.ReasonCaptureStart, "start capture: %w", err)
	}

	c.mu.Lock()
	c.active = true
	c.sessions = sessions
	c.lastTargets = append([]string(nil), targets...)
	c.recStarted = false
	c.pumpCancel = cancel
	c.teardownOnce = &sync.Once{}
	c.pumpWG.Add(1)
	c.mu.Unlock()

	go c.pump(pumpCtx, sessions)

	c.reportStatus(ctx, status.Active)
	c.logger.Info("pool started", slog.Int("sessions", len(sessions)))
	return nil
}

// openAll opens every session concurrently and waits for all of them. Each
// open is bounded by the per-session connect timeout.
func (c *Coordinator) openAll(ctx context.Context, credential string, targets []string) ([]*session.Session, error) {
	sessions := make([]*session.Session, len(targets))
	for i, target := range targets {
		sessions[i] = session.New(session.Config{
			URL:             c.cfg.StreamURL,
			Model:           c.cfg.Model,
			LanguageHints:   c.cfg.LanguageHints,
			IncludeNonFinal: c.cfg.IncludeNonFinal,
			Credential:      credential,
			TargetLanguage:  target,
			Dialer:          c.cfg.Dialer,
			OnResult:        c.onResult,
			OnFailure:       c.onSessionFailure,
			Logger:          c.cfg.Logger,
		})
	}

	errs := make(chan error, len(sessions))
	for _, s := range sessions {
		go func(s *session.Session) {
			openCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
			defer cancel()
			errs <- s.Open(openCtx)
		}(s)
	}

	var firstErr error
	for range sessions {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		for _, s := range sessions {
			_ = s.Close(false)
		}
		return nil, firstErr
	}
	return sessions, nil
}

// pump is the single producer loop: every captured frame is fanned out
// synchronously to all sessions and to the recorder, so recording and all
// live sessions see byte-identical audio.
func (c *Coordinator) pump(ctx context.Context, sessions []*session.Session) {
	defer c.pumpWG.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-c.cfg.Source.Frames():
			if !ok {
				return
			}
			c.fanOut(f, sessions)
		}
	}
}

func (c *Coordinator) fanOut(f frames.AudioFrame, sessions []*session.Session) {
	if rec := c.cfg.Recorder; rec != nil {
		c.mu.Lock()
		needStart := !c.recStarted
		if needStart {
			c.recStarted = true
		}
		c.mu.Unlock()
		if needStart {
			if err := rec.Start(f.Rate()); err != nil {
				c.logger.Warn("recorder start failed", slog.String("error", err.Error()))
			}
		}
	}
	for _, s := range sessions {
		s.Forward(f)
	}
	if rec := c.cfg.Recorder; rec != nil {
		if err := rec.AddFrame(f); err != nil {
			c.logger.Warn("recorder frame dropped", slog.String("error", err.Error()))
		}
	}
	c.observ.RecordEvent(metrics.Event{
		Name:  metrics.EventFrameFanout,
		Time:  time.Now(),
		Value: float64(len(f.RawPayload())),
		Tags:  map[string]string{"session_id": c.cfg.SessionID},
	})
	frames.Release(f)
}

func (c *Coordinator) onResult(r session.Result) {
	name := metrics.EventResultPartial
	if r.IsFinal {
		name = metrics.EventResultFinal
	}
	c.observ.RecordEvent(metrics.Event{
		Name: name,
		Time: time.Now(),
		Tags: map[string]string{
			"session_id":      c.cfg.SessionID,
			"target_language": r.TargetLanguage,
		},
	})
	if c.cfg.OnResult != nil {
		c.cfg.OnResult(r)
	}
}

// onSessionFailure handles a mid-stream failure: the whole pool comes down.
// Teardown runs on its own goroutine because this callback arrives on the
// failing session's read loop.
func (c *Coordinator) onSessionFailure(target string, err error) {
	c.observ.RecordEvent(metrics.Event{
		Name: metrics.EventSessionFailed,
		Time: time.Now(),
		Tags: map[string]string{"target_language": target},
	})
	c.logger.Error("session failed, tearing down pool",
		slog.String("target_language", target),
		slog.String("error", err.Error()))
	go func() {
		_ = c.shutdown(context.Background(), false, status.Ended)
	}()
	if c.cfg.OnError != nil {
		c.cfg.OnError(target, err)
	}
}

// Stop gracefully finishes every session, stops capture, and finalizes the
// recording.
func (c *Coordinator) Stop(ctx context.Context) error {
	return c.shutdown(ctx, true, status.Ended)
}

// Pause is a graceful stop that leaves the caller's logical session record
// in place, marked paused.
func (c *Coordinator) Pause(ctx context.Context) error {
	return c.shutdown(ctx, true, status.Paused)
}

// Resume builds a fresh pool for the previously requested targets. Sessions
// are never reused across a pause: sequence counters restart at zero.
func (c *Coordinator) Resume(ctx context.Context) error {
	c.mu.Lock()
	targets := append([]string(nil), c.lastTargets...)
	c.mu.Unlock()
	if len(targets) == 0 {
		return fmt.Errorf("nothing to resume")
	}
	return c.Start(ctx, targets)
}

// Cancel closes sockets immediately: no finish message, no recording
// finalization beyond what already closed.
func (c *Coordinator) Cancel(ctx context.Context) error {
	return c.shutdown(ctx, false, status.Ended)
}

func (c *Coordinator) shutdown(ctx context.Context, graceful bool, st status.Status) error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return nil
	}
	c.active = false
	sessions := c.sessions
	c.sessions = nil
	cancel := c.pumpCancel
	once := c.teardownOnce
	c.mu.Unlock()

	var err error
	once.Do(func() {
		for _, s := range sessions {
			_ = s.Close(graceful)
		}
		if cancel != nil {
			cancel()
		}
		if serr := c.cfg.Source.Stop(); serr != nil {
			c.logger.Warn("capture stop", slog.String("error", serr.Error()))
		}
		c.pumpWG.Wait()

		if rec := c.cfg.Recorder; rec != nil {
			if graceful {
				err = rec.Stop(ctx)
			} else {
				err = rec.Abort()
			}
		}
		c.reportStatus(ctx, st)
		c.logger.Info("pool stopped",
			slog.Bool("graceful", graceful),
			slog.String("status", string(st)))
	})
	return err
}

// reportStatus is best-effort: the local state machine stays authoritative.
func (c *Coordinator) reportStatus(ctx context.Context, st status.Status) {
	if c.cfg.Status == nil {
		return
	}
	if err := c.cfg.Status.Report(ctx, st); err != nil {
		c.logger.Warn("status transition not persisted",
			slog.String("status", string(st)),
			slog.String("error", err.Error()))
	}
}
