package audio

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teu-im/teuim/pkg/frames"
)

// Source delivers captured audio frames. A source may be started at most once
// per acquisition; the coordinator owns it for the lifetime of one pool.
type Source interface {
	Start(ctx context.Context) error
	Frames() <-chan frames.AudioFrame
	Stop() error
}

// ScriptedSource replays a fixed set of frames at a configurable interval.
// Used in tests and for offline playback.
type ScriptedSource struct {
	Script   []frames.AudioFrame
	Interval time.Duration

	running atomic.Bool
	out     chan frames.AudioFrame
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewScriptedSource(script []frames.AudioFrame, interval time.Duration) *ScriptedSource {
	return &ScriptedSource{Script: script, Interval: interval}
}

func (s *ScriptedSource) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyCapturing
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.out = make(chan frames.AudioFrame, 16)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.out)
		for _, f := range s.Script {
			if s.Interval > 0 {
				select {
				case <-runCtx.Done():
					return
				case <-time.After(s.Interval):
				}
			} else if runCtx.Err() != nil {
				return
			}
			select {
			case s.out <- f:
			case <-runCtx.Done():
				return
			}
		}
		<-runCtx.Done()
	}()
	return nil
}

func (s *ScriptedSource) Frames() <-chan frames.AudioFrame { return s.out }

func (s *ScriptedSource) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.cancel()
	s.wg.Wait()
	return nil
}
