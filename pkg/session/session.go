package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/teu-im/teuim/pkg/errorsx"
	"github.com/teu-im/teuim/pkg/frames"
	"github.com/teu-im/teuim/pkg/logging"
	"github.com/teu-im/teuim/pkg/protocol"
)

// Result is one decoded interpretation update for a session's target
// language. Final results are sequence-numbered and durable; partials carry
// the next sequence as a provisional label and only ever overwrite the
// caller's current-partial view.
type Result struct {
	OriginalText   string
	TranslatedText string
	TargetLanguage string
	IsFinal        bool
	Sequence       int
	// Recognition-reported span of the source audio, -1 when not reported.
	StartMs int64
	EndMs   int64
}

type Config struct {
	URL             string
	Model           string
	LanguageHints   []string
	IncludeNonFinal bool
	Credential      string
	TargetLanguage  string

	Dialer Dialer
	// OnResult receives every decoded partial and final result.
	OnResult func(Result)
	// OnFailure fires at most once, when the session fails mid-stream.
	OnFailure func(targetLanguage string, err error)
	Logger    *slog.Logger
}

// Session owns one duplex connection to the streaming service for a single
// target language. It is driven from two sides: the coordinator forwards
// captured frames, and its own read loop decodes inbound messages.
type Session struct {
	cfg    Config
	id     string
	logger *slog.Logger

	mu    sync.Mutex
	state State
	conn  Conn
	seq   int

	// Serializes writes: the fan-out pump and graceful close can both write.
	writeMu sync.Mutex

	failOnce sync.Once
	wg       sync.WaitGroup
}

func New(cfg Config) *Session {
	if cfg.Dialer == nil {
		cfg.Dialer = WebsocketDialer{}
	}
	id := uuid.NewString()
	logger := logging.NewComponentLogger(cfg.Logger, "session").With(
		slog.String("session_id", id),
		slog.String("target_language", cfg.TargetLanguage))
	return &Session{
		cfg:    cfg,
		id:     id,
		logger: logger,
		state:  StateConnecting,
	}
}

func (s *Session) ID() string             { return s.id }
func (s *Session) TargetLanguage() string { return s.cfg.TargetLanguage }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Sequence returns the last final sequence emitted.
func (s *Session) Sequence() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Open dials the streaming service and returns once the remote is ready to
// receive. The caller bounds the wait through ctx; on timeout or dial failure
// the session ends up Failed.
func (s *Session) Open(ctx context.Context) error {
	conn, err := s.cfg.Dialer.Dial(ctx, s.cfg.URL)
	if err != nil {
		s.mu.Lock()
		s.state = StateFailed
		s.mu.Unlock()
		return errorsx.Wrapf(errorsx.ReasonSessionConnect,
			"open session for %s: %w", s.cfg.TargetLanguage, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.state = StateAwaitingFirstFrame
	s.mu.Unlock()

	s.logger.Info("session open")
	s.wg.Add(1)
	go s.readLoop(conn)
	return nil
}

// Forward delivers one captured frame. The first frame triggers the one-time
// handshake carrying the now-known sample rate; afterwards the raw PCM bytes
// follow as a binary message. Frames arriving while the session is not open
// are dropped silently.
func (s *Session) Forward(f frames.AudioFrame) {
	s.mu.Lock()
	if !s.state.open() {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	if s.state == StateAwaitingFirstFrame {
		hs := protocol.Handshake{
			Credential:      s.cfg.Credential,
			Model:           s.cfg.Model,
			LanguageHints:   s.cfg.LanguageHints,
			IncludeNonFinal: s.cfg.IncludeNonFinal,
			AudioFormat:     protocol.FormatPCMS16LE,
			SampleRate:      f.Rate(),
			NumChannels:     1,
			Translation:     protocol.NewTranslationDirective(s.cfg.TargetLanguage),
		}
		raw, err := json.Marshal(hs)
		if err == nil {
			err = s.write(conn, TextMessage, raw)
		}
		if err != nil {
			s.mu.Unlock()
			s.fail(errorsx.Wrapf(errorsx.ReasonSessionHandshake,
				"handshake for %s: %w", s.cfg.TargetLanguage, err))
			return
		}
		s.state = StateStreaming
		s.logger.Info("handshake sent", slog.Int("sample_rate", f.Rate()))
	}
	s.mu.Unlock()

	if err := s.write(conn, BinaryMessage, f.RawPayload()); err != nil {
		s.fail(errorsx.Wrapf(errorsx.ReasonSessionSend,
			"send audio for %s: %w", s.cfg.TargetLanguage, err))
	}
}

func (s *Session) readLoop(conn Conn) {
	defer s.wg.Done()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closing := s.state == StateClosing || s.state == StateClosed
			s.mu.Unlock()
			if closing {
				return
			}
			s.fail(errorsx.Wrapf(errorsx.ReasonSessionProtocol,
				"session %s read: %w", s.cfg.TargetLanguage, err))
			return
		}
		if !s.handleMessage(raw) {
			return
		}
	}
}

// handleMessage decodes one inbound record. Returns false when the read loop
// should stop.
func (s *Session) handleMessage(raw []byte) bool {
	msg, err := protocol.DecodeServerMessage(raw)
	if err != nil {
		// Malformed payloads are dropped; the stream continues.
		s.logger.Warn("malformed message dropped", slog.String("error", err.Error()))
		return true
	}
	if msg.Error != "" {
		s.fail(errorsx.Wrapf(errorsx.ReasonSessionProtocol,
			"service error for %s: %s", s.cfg.TargetLanguage, msg.Error))
		return false
	}
	if len(msg.Tokens) == 0 && !msg.Finished {
		return true
	}

	seg := protocol.MergeTokens(msg.Tokens)
	s.mu.Lock()
	var result Result
	if msg.Finished {
		s.seq++
		result = s.resultFromSegment(seg, true, s.seq)
	} else {
		result = s.resultFromSegment(seg, false, s.seq+1)
	}
	s.mu.Unlock()

	if s.cfg.OnResult != nil {
		s.cfg.OnResult(result)
	}
	return true
}

func (s *Session) resultFromSegment(seg protocol.Segment, final bool, seq int) Result {
	return Result{
		OriginalText:   seg.OriginalText,
		TranslatedText: seg.TranslatedText,
		TargetLanguage: s.cfg.TargetLanguage,
		IsFinal:        final,
		Sequence:       seq,
		StartMs:        seg.StartMs,
		EndMs:          seg.EndMs,
	}
}

// Close tears the session down. Graceful close sends the finish control
// message and a close frame first; non-graceful close drops the socket
// immediately.
func (s *Session) Close(graceful bool) error {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateFailed {
		s.mu.Unlock()
		return nil
	}
	wasOpen := s.state.open()
	s.state = StateClosing
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		if graceful && wasOpen {
			if raw, err := json.Marshal(protocol.Finish{Finish: true}); err == nil {
				_ = s.write(conn, TextMessage, raw)
			}
			s.writeMu.Lock()
			writeCloseFrame(conn)
			s.writeMu.Unlock()
		}
		_ = conn.Close()
	}
	s.wg.Wait()

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	s.logger.Info("session closed", slog.Bool("graceful", graceful))
	return nil
}

func (s *Session) write(conn Conn, messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(messageType, data)
}

func (s *Session) fail(err error) {
	s.failOnce.Do(func() {
		s.mu.Lock()
		// A write that loses the race against a graceful close surfaces a
		// dead-conn error here; that is a dropped frame, not a failure.
		if s.state == StateClosing || s.state == StateClosed {
			s.mu.Unlock()
			return
		}
		s.state = StateFailed
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		s.logger.Error("session failed", slog.String("error", err.Error()))
		if s.cfg.OnFailure != nil {
			s.cfg.OnFailure(s.cfg.TargetLanguage, err)
		}
	})
}
