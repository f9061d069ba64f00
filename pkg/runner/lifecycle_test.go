package runner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingDrainer struct {
	calls atomic.Int32
	block chan struct{}
}

func (d *countingDrainer) Drain() error {
	d.calls.Add(1)
	if d.block != nil {
		<-d.block
	}
	return nil
}

func TestRunDrainsOnContextCancel(t *testing.T) {
	d := &countingDrainer{}
	var started, stopped atomic.Bool
	r := NewLifecycleRunner(d, Hooks{
		OnStart: func() { started.Store(true) },
		OnStop:  func() { stopped.Store(true) },
	}, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for r.State() != StateRunning {
		if time.Now().After(deadline) {
			t.Fatal("runner never reached running state")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if got := d.calls.Load(); got != 1 {
		t.Fatalf("drain calls = %d, want 1", got)
	}
	if !started.Load() || !stopped.Load() {
		t.Fatalf("hooks fired start=%v stop=%v", started.Load(), stopped.Load())
	}
	if r.State() != StateStopped {
		t.Fatalf("state = %s, want stopped", r.State())
	}
}

func TestStopDrainsOnce(t *testing.T) {
	d := &countingDrainer{}
	r := NewLifecycleRunner(d, Hooks{}, time.Second)
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if got := d.calls.Load(); got != 1 {
		t.Fatalf("drain calls = %d, want 1", got)
	}
}

func TestDrainTimeout(t *testing.T) {
	d := &countingDrainer{block: make(chan struct{})}
	r := NewLifecycleRunner(d, Hooks{}, 10*time.Millisecond)
	err := r.Stop()
	if err == nil {
		t.Fatal("expected drain timeout error")
	}
	close(d.block)
}

func TestRunTwiceFails(t *testing.T) {
	r := NewLifecycleRunner(nil, Hooks{}, time.Second)
	_ = r.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Run(ctx); err == nil {
		t.Fatal("Run must reject a runner that already stopped")
	}
}
