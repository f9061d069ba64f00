package protocol

import (
	"encoding/json"
	"fmt"
)

// Audio format tag sent in the handshake. Frames are raw 16-bit signed
// little-endian PCM, mono.
const FormatPCMS16LE = "pcm_s16le"

// Token roles. Every recognized token belongs to either the original-language
// stream or the translated stream.
const (
	RoleOriginal   = "original"
	RoleTranslated = "translation"
)

// Handshake is the one-time configuration record for a session, sent after
// the first captured frame reveals the sample rate. When several sessions
// share one credential it rides in the handshake body rather than in a
// connection-level parameter.
type Handshake struct {
	Credential      string                `json:"api_key"`
	Model           string                `json:"model"`
	LanguageHints   []string              `json:"language_hints,omitempty"`
	IncludeNonFinal bool                  `json:"include_nonfinal"`
	AudioFormat     string                `json:"audio_format"`
	SampleRate      int                   `json:"sample_rate"`
	NumChannels     int                   `json:"num_channels"`
	Translation     *TranslationDirective `json:"translation,omitempty"`
}

// TranslationDirective names the session's single target language.
type TranslationDirective struct {
	Type           string `json:"type"`
	TargetLanguage string `json:"target_language"`
}

// NewTranslationDirective builds the one-way directive used by live
// interpretation sessions.
func NewTranslationDirective(target string) *TranslationDirective {
	return &TranslationDirective{Type: "one_way", TargetLanguage: target}
}

// Finish is the graceful termination control message, sent once on
// stop/pause and never on cancel.
type Finish struct {
	Finish bool `json:"finish"`
}

// Token is one recognized unit of text within a server message.
type Token struct {
	Text    string `json:"text"`
	Role    string `json:"translation_status,omitempty"`
	StartMs int64  `json:"start_ms,omitempty"`
	EndMs   int64  `json:"end_ms,omitempty"`
}

func (t Token) Translated() bool { return t.Role == RoleTranslated }

// ServerMessage is one inbound record: either an error, or a token list with
// a finished marker. A finished message closes the current speech segment;
// non-finished messages carry progressively refined partial text for it.
type ServerMessage struct {
	Error    string  `json:"error,omitempty"`
	Tokens   []Token `json:"tokens,omitempty"`
	Finished bool    `json:"finished,omitempty"`
}

// DecodeServerMessage parses a raw inbound payload.
func DecodeServerMessage(raw []byte) (ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ServerMessage{}, fmt.Errorf("decode server message: %w", err)
	}
	return msg, nil
}

// Segment is the merged view of one server message: same-stream tokens
// concatenated in arrival order, with the recognition-reported audio span
// when any token carried timing (-1 otherwise).
type Segment struct {
	OriginalText   string
	TranslatedText string
	StartMs        int64
	EndMs          int64
}

// MergeTokens folds a token list into a Segment.
func MergeTokens(tokens []Token) Segment {
	seg := Segment{StartMs: -1, EndMs: -1}
	for _, tok := range tokens {
		if tok.Translated() {
			seg.TranslatedText += tok.Text
		} else {
			seg.OriginalText += tok.Text
		}
		if tok.EndMs > 0 {
			if seg.StartMs < 0 || tok.StartMs < seg.StartMs {
				seg.StartMs = tok.StartMs
			}
			if tok.EndMs > seg.EndMs {
				seg.EndMs = tok.EndMs
			}
		}
	}
	return seg
}
