package recorder

import "github.com/teu-im/teuim/pkg/audio"

// Encoder turns a buffered run of PCM into one self-contained segment file.
type Encoder interface {
	Ext() string
	ContentType() string
	Encode(pcm []byte, sampleRate int) []byte
}

// WAVEncoder is the default chunk container. The browser client uploads webm
// segments, but no pure-Go webm/opus encoder exists, so this client records
// WAV; the storage path extension follows whichever encoder is wired, so a
// webm Encoder restores the .webm chunk layout with no other changes.
type WAVEncoder struct{}

func (WAVEncoder) Ext() string         { return "wav" }
func (WAVEncoder) ContentType() string { return "audio/wav" }
func (WAVEncoder) Encode(pcm []byte, sampleRate int) []byte {
	return audio.EncodeWAV(pcm, sampleRate)
}
