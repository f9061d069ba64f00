package interpreter

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teu-im/teuim/pkg/audio"
	"github.com/teu-im/teuim/pkg/frames"
	"github.com/teu-im/teuim/pkg/session"
	"github.com/teu-im/teuim/pkg/status"
)

type fakeConn struct {
	mu      sync.Mutex
	writes  []capturedWrite
	closed  bool
	done    chan struct{}
	inbound chan []byte
}

type capturedWrite struct {
	messageType int
	data        []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{done: make(chan struct{}), inbound: make(chan []byte, 8)}
}

func (c *fakeConn) push(raw string) { c.inbound <- []byte(raw) }

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case raw := <-c.inbound:
		return session.TextMessage, raw, nil
	case <-c.done:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write on closed connection")
	}
	c.writes = append(c.writes, capturedWrite{messageType, append([]byte(nil), data...)})
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

func (c *fakeConn) snapshot() []capturedWrite {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]capturedWrite(nil), c.writes...)
}

func (c *fakeConn) textWrites() []string {
	var out []string
	for _, w := range c.snapshot() {
		if w.messageType == session.TextMessage {
			out = append(out, string(w.data))
		}
	}
	return out
}

// fakeDialer hands out one fakeConn per dial. failAt makes the Nth dial
// (1-based) fail; blockAt makes the Nth dial wait for ctx cancellation, and
// blockAll does the same for every dial.
type fakeDialer struct {
	mu       sync.Mutex
	conns    []*fakeConn
	dials    int
	failAt   int
	blockAt  int
	blockAll bool
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (session.Conn, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	d.mu.Unlock()
	if d.blockAll || (d.blockAt != 0 && n == d.blockAt) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.failAt != 0 && n == d.failAt {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) connList() []*fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeConn(nil), d.conns...)
}

type staticCredentials struct {
	credential string
	err        error
}

func (s staticCredentials) Issue(ctx context.Context) (string, error) {
	return s.credential, s.err
}

type recordingStatus struct {
	mu      sync.Mutex
	reports []status.Status
}

func (r *recordingStatus) Report(ctx context.Context, st status.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, st)
	return nil
}

func (r *recordingStatus) list() []status.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]status.Status(nil), r.reports...)
}

type fakeRecorder struct {
	mu         sync.Mutex
	sampleRate int
	frameCount int
	stopped    bool
	aborted    bool
}

func (r *fakeRecorder) Start(sampleRate int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sampleRate = sampleRate
	return nil
}

func (r *fakeRecorder) AddFrame(f frames.AudioFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frameCount++
	return nil
}

func (r *fakeRecorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	return nil
}

func (r *fakeRecorder) Abort() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborted = true
	return nil
}

func pcmFrame(pts int64) frames.AudioFrame {
	return frames.NewAudioFrame(pts, []byte{0x01, 0x00, 0x02, 0x00}, 48000)
}

func testConfig(dialer *fakeDialer, script []frames.AudioFrame) Config {
	return Config{
		SessionID:   "sess-test",
		StreamURL:   "wss://stream.example.com/transcribe",
		Model:       "rt-v3",
		Source:      audio.NewScriptedSource(script, time.Millisecond),
		Credentials: staticCredentials{credential: "tok-123"},
		Dialer:      dialer,
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestStartFansOutToEverySession(t *testing.T) {
	dialer := &fakeDialer{}
	cfg := testConfig(dialer, []frames.AudioFrame{pcmFrame(0), pcmFrame(100)})
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background(), []string{"en", "ja"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Cancel(context.Background())

	if got := dialer.dialCount(); got != 2 {
		t.Fatalf("dials = %d, want 2", got)
	}
	waitUntil(t, time.Second, func() bool {
		for _, conn := range dialer.connList() {
			if len(conn.snapshot()) < 3 { // handshake + two audio frames
				return false
			}
		}
		return true
	})

	targets := map[string]bool{}
	for _, conn := range dialer.connList() {
		texts := conn.textWrites()
		if len(texts) != 1 {
			t.Fatalf("text writes = %d, want exactly one handshake", len(texts))
		}
		var hs map[string]any
		if err := json.Unmarshal([]byte(texts[0]), &hs); err != nil {
			t.Fatalf("handshake decode: %v", err)
		}
		if hs["api_key"] != "tok-123" {
			t.Fatalf("handshake api_key = %v", hs["api_key"])
		}
		if hs["sample_rate"] != float64(48000) {
			t.Fatalf("handshake sample_rate = %v", hs["sample_rate"])
		}
		tr, _ := hs["translation"].(map[string]any)
		if tr == nil {
			t.Fatalf("handshake missing translation directive: %s", texts[0])
		}
		targets[tr["target_language"].(string)] = true

		var binary int
		for _, w := range conn.snapshot() {
			if w.messageType == session.BinaryMessage {
				binary++
			}
		}
		if binary != 2 {
			t.Fatalf("binary frames = %d, want 2", binary)
		}
	}
	if !targets["en"] || !targets["ja"] {
		t.Fatalf("handshake targets = %v, want en and ja", targets)
	}
}

func TestStartIsAllOrNothing(t *testing.T) {
	dialer := &fakeDialer{failAt: 2}
	c, err := New(testConfig(dialer, nil))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = c.Start(context.Background(), []string{"en", "ja", "zh"})
	if err == nil {
		t.Fatal("Start succeeded despite a failed dial")
	}
	if c.Active() {
		t.Fatal("coordinator active after failed start")
	}
	for i, conn := range dialer.connList() {
		conn.mu.Lock()
		closed := conn.closed
		conn.mu.Unlock()
		if !closed {
			t.Fatalf("conn %d left open after failed start", i)
		}
	}
}

func TestStartTimesOutSlowSessions(t *testing.T) {
	dialer := &fakeDialer{blockAll: true}
	cfg := testConfig(dialer, nil)
	cfg.ConnectTimeout = 30 * time.Millisecond
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	start := time.Now()
	err = c.Start(context.Background(), []string{"en", "ja"})
	if err == nil {
		t.Fatal("Start succeeded despite blocked dials")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Start took %v, connect timeout not enforced", elapsed)
	}
	if c.Active() {
		t.Fatal("coordinator active after timed-out start")
	}
}

func TestTimedOutSessionClosesOpenedPeer(t *testing.T) {
	dialer := &fakeDialer{blockAt: 2}
	cfg := testConfig(dialer, nil)
	cfg.ConnectTimeout = 50 * time.Millisecond
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = c.Start(context.Background(), []string{"en", "ja"})
	if err == nil {
		t.Fatal("Start succeeded despite one session never connecting")
	}
	conns := dialer.connList()
	if len(conns) != 1 {
		t.Fatalf("opened conns = %d, want 1", len(conns))
	}
	conns[0].mu.Lock()
	closed := conns[0].closed
	conns[0].mu.Unlock()
	if !closed {
		t.Fatal("the successfully opened session was left dangling")
	}
	if c.Active() {
		t.Fatal("coordinator active after partial connect")
	}
}

func TestStartIsIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	c, err := New(testConfig(dialer, nil))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background(), []string{"en"}); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer c.Cancel(context.Background())
	if err := c.Start(context.Background(), []string{"en"}); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if got := dialer.dialCount(); got != 1 {
		t.Fatalf("dials = %d, want 1 (second start must be a no-op)", got)
	}
}

func TestConcurrentStartsDialOnePool(t *testing.T) {
	dialer := &fakeDialer{}
	c, err := New(testConfig(dialer, nil))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Start(context.Background(), []string{"en", "ja"}); err != nil {
				t.Errorf("Start: %v", err)
			}
		}()
	}
	wg.Wait()
	defer c.Cancel(context.Background())
	if got := dialer.dialCount(); got != 2 {
		t.Fatalf("dials = %d, want 2 (one pool despite racing starts)", got)
	}
}

func TestStopFinishesSessionsAndRecording(t *testing.T) {
	dialer := &fakeDialer{}
	rec := &fakeRecorder{}
	st := &recordingStatus{}
	cfg := testConfig(dialer, []frames.AudioFrame{pcmFrame(0)})
	cfg.Recorder = rec
	cfg.Status = st
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background(), []string{"en"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitUntil(t, time.Second, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.frameCount >= 1
	})
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	conn := dialer.connList()[0]
	var sawFinish bool
	for _, text := range conn.textWrites() {
		if strings.Contains(text, `"finish":true`) {
			sawFinish = true
		}
	}
	if !sawFinish {
		t.Fatal("graceful stop did not send finish message")
	}
	if rec.sampleRate != 48000 {
		t.Fatalf("recorder sample rate = %d, want 48000 from first frame", rec.sampleRate)
	}
	if !rec.stopped || rec.aborted {
		t.Fatalf("recorder stopped=%v aborted=%v, want finalized", rec.stopped, rec.aborted)
	}
	reports := st.list()
	if len(reports) != 2 || reports[0] != status.Active || reports[1] != status.Ended {
		t.Fatalf("status reports = %v, want [active ended]", reports)
	}
}

func TestCancelSkipsFinishAndAbortsRecording(t *testing.T) {
	dialer := &fakeDialer{}
	rec := &fakeRecorder{}
	cfg := testConfig(dialer, []frames.AudioFrame{pcmFrame(0)})
	cfg.Recorder = rec
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background(), []string{"en"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitUntil(t, time.Second, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.frameCount >= 1
	})
	if err := c.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	for _, text := range dialer.connList()[0].textWrites() {
		if strings.Contains(text, `"finish"`) {
			t.Fatal("cancel sent a finish message")
		}
	}
	if !rec.aborted || rec.stopped {
		t.Fatalf("recorder aborted=%v stopped=%v, want abort only", rec.aborted, rec.stopped)
	}
}

func TestPauseThenResumeBuildsFreshPool(t *testing.T) {
	dialer := &fakeDialer{}
	st := &recordingStatus{}
	cfg := testConfig(dialer, nil)
	cfg.Status = st
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background(), []string{"en", "ja"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Pause(context.Background()); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if c.Active() {
		t.Fatal("coordinator active while paused")
	}
	if err := c.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	defer c.Cancel(context.Background())
	if got := dialer.dialCount(); got != 4 {
		t.Fatalf("dials = %d, want 4 (two targets, fresh sessions after resume)", got)
	}
	reports := st.list()
	want := []status.Status{status.Active, status.Paused, status.Active}
	if len(reports) != len(want) {
		t.Fatalf("status reports = %v, want %v", reports, want)
	}
	for i := range want {
		if reports[i] != want[i] {
			t.Fatalf("status reports = %v, want %v", reports, want)
		}
	}
}

func TestResumedPoolSequenceRestartsAtOne(t *testing.T) {
	dialer := &fakeDialer{}
	var mu sync.Mutex
	var finals []session.Result
	cfg := testConfig(dialer, nil)
	cfg.OnResult = func(r session.Result) {
		if r.IsFinal {
			mu.Lock()
			finals = append(finals, r)
			mu.Unlock()
		}
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background(), []string{"en"}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	final := `{"tokens":[{"text":"하나","translation_status":"original"},{"text":"one","translation_status":"translation"}],"finished":true}`
	dialer.connList()[0].push(final)
	dialer.connList()[0].push(final)
	waitUntil(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(finals) == 2
	})
	mu.Lock()
	if finals[0].Sequence != 1 || finals[1].Sequence != 2 {
		t.Fatalf("pre-pause sequences = %d,%d, want 1,2", finals[0].Sequence, finals[1].Sequence)
	}
	mu.Unlock()

	if err := c.Pause(context.Background()); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := c.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	defer c.Cancel(context.Background())

	conns := dialer.connList()
	if len(conns) != 2 {
		t.Fatalf("conns = %d, want a fresh one after resume", len(conns))
	}
	conns[1].push(final)
	waitUntil(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(finals) == 3
	})
	mu.Lock()
	defer mu.Unlock()
	if finals[2].Sequence != 1 {
		t.Fatalf("post-resume sequence = %d, want reset to 1", finals[2].Sequence)
	}
}

func TestResumeWithoutPriorStartFails(t *testing.T) {
	c, err := New(testConfig(&fakeDialer{}, nil))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Resume(context.Background()); err == nil {
		t.Fatal("Resume succeeded with no prior targets")
	}
}

func TestSessionFailureTearsDownPool(t *testing.T) {
	dialer := &fakeDialer{}
	cfg := testConfig(dialer, nil)
	var (
		mu       sync.Mutex
		failures []string
	)
	cfg.OnError = func(target string, err error) {
		mu.Lock()
		failures = append(failures, target)
		mu.Unlock()
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background(), []string{"en", "ja"}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The session read loop treats a transport error as a mid-stream
	// failure once the service has not finished the stream.
	dialer.connList()[0].Close()

	waitUntil(t, time.Second, func() bool { return !c.Active() })
	waitUntil(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(failures) == 1
	})
	waitUntil(t, time.Second, func() bool {
		for _, conn := range dialer.connList() {
			conn.mu.Lock()
			closed := conn.closed
			conn.mu.Unlock()
			if !closed {
				return false
			}
		}
		return true
	})
}

func TestCredentialFailureAbortsStart(t *testing.T) {
	cfg := testConfig(&fakeDialer{}, nil)
	cfg.Credentials = staticCredentials{err: errors.New("project suspended")}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background(), []string{"en"}); err == nil {
		t.Fatal("Start succeeded without a credential")
	}
	if c.Active() {
		t.Fatal("coordinator active after credential failure")
	}
}
