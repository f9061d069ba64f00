package runner

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of the lifecycle runner.
type State int

const (
	StateNew State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// LifecycleRunner parks in Run until its context ends or Stop is called,
// then drains the wrapped Drainer with a bounded timeout. Run may be called
// once per runner.
type LifecycleRunner struct {
	drainer Drainer
	hooks   Hooks
	timeout time.Duration

	mu      sync.Mutex
	state   State
	stopped chan struct{}

	drainOnce sync.Once
	drainErr  error
}

func NewLifecycleRunner(drainer Drainer, hooks Hooks, timeout time.Duration) *LifecycleRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LifecycleRunner{
		drainer: drainer,
		hooks:   hooks,
		timeout: timeout,
		stopped: make(chan struct{}),
	}
}

// Run prints the banner, fires the start hook, and blocks until ctx ends or
// Stop is called, then drains.
func (r *LifecycleRunner) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateNew {
		r.mu.Unlock()
		return errors.New("runner already started")
	}
	r.state = StateRunning
	r.mu.Unlock()

	PrintBanner(nil)
	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-ctx.Done():
	case <-r.stopped:
	}
	return r.drain()
}

// Stop unblocks Run and performs the same bounded drain.
func (r *LifecycleRunner) Stop() error {
	r.mu.Lock()
	select {
	case <-r.stopped:
	default:
		close(r.stopped)
	}
	r.mu.Unlock()
	return r.drain()
}

func (r *LifecycleRunner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *LifecycleRunner) drain() error {
	r.drainOnce.Do(func() {
		r.setState(StateDraining)
		if r.drainer != nil {
			done := make(chan struct{})
			go func() {
				defer close(done)
				_ = r.drainer.Drain()
			}()
			select {
			case <-done:
			case <-time.After(r.timeout):
				r.drainErr = errors.New("drain timed out")
			}
		}
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.setState(StateStopped)
	})
	return r.drainErr
}

func (r *LifecycleRunner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}
