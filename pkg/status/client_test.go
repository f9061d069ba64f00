package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teu-im/teuim/pkg/resilience"
)

func TestReportPatchesStatus(t *testing.T) {
	var gotMethod, gotPath, gotStatus string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotStatus = body["status"]
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(Config{Endpoint: srv.URL}, "sess-7", resilience.Options{Sleep: func(time.Duration) {}}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := c.Report(context.Background(), Paused); err != nil {
		t.Fatalf("report: %v", err)
	}
	if gotMethod != http.MethodPatch {
		t.Fatalf("expected PATCH, got %s", gotMethod)
	}
	if gotPath != "/sessions/sess-7" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotStatus != "paused" {
		t.Fatalf("unexpected status %q", gotStatus)
	}
}

func TestReportRetriesTransientThenSurfaces(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, _ := NewClient(Config{Endpoint: srv.URL}, "sess-1", resilience.Options{MaxRetries: 2, Sleep: func(time.Duration) {}}, nil)
	if err := c.Report(context.Background(), Ended); err == nil {
		t.Fatalf("expected error after exhaustion")
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}
