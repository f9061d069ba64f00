package audio

import (
	"encoding/binary"
	"io"
)

// WAVHeaderSize is the length of the canonical RIFF/WAVE header this package
// writes: RIFF descriptor, "fmt " block, and "data" chunk header.
const WAVHeaderSize = 44

// EncodeWAV wraps raw PCM16LE mono audio bytes in a WAV container.
// The declared RIFF chunk size is 36+len(pcm) and the data chunk size is
// exactly len(pcm).
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	out := make([]byte, WAVHeaderSize+len(pcm))
	copy(out, WAVHeader(len(pcm), sampleRate))
	copy(out[WAVHeaderSize:], pcm)
	return out
}

// WriteWAVTo streams a WAV container for the given PCM bytes to w.
func WriteWAVTo(w io.Writer, pcm []byte, sampleRate int) error {
	if _, err := w.Write(WAVHeader(len(pcm), sampleRate)); err != nil {
		return err
	}
	_, err := w.Write(pcm)
	return err
}

// WAVHeader builds the 44-byte header for a PCM16LE mono stream of dataLen
// bytes at the given sample rate.
func WAVHeader(dataLen, sampleRate int) []byte {
	const (
		numChannels   = 1
		bitsPerSample = 16
		pcmFormat     = 1
	)
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8

	h := make([]byte, WAVHeaderSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+dataLen))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], pcmFormat)
	binary.LittleEndian.PutUint16(h[22:24], numChannels)
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(h[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:36], bitsPerSample)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataLen))
	return h
}
