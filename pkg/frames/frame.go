package frames

import "sync"

// AudioFrame is one capture buffer of 16-bit signed little-endian PCM, mono.
// The sample rate travels with the frame because the capture device picks it
// and downstream consumers only learn it from the first frame they see.
type AudioFrame struct {
	pts    int64
	data   []byte
	rate   int
	pooled bool
}

func NewAudioFrame(pts int64, data []byte, rate int) AudioFrame {
	return AudioFrame{pts: pts, data: data, rate: rate}
}

// NewAudioFrameFromPool copies data into a pooled buffer. The frame must be
// handed back with Release once every consumer is done with it.
func NewAudioFrameFromPool(pts int64, data []byte, rate int) AudioFrame {
	buf := AcquireAudioBuf(len(data))
	copy(buf, data)
	return AudioFrame{pts: pts, data: buf, rate: rate, pooled: true}
}

func (a AudioFrame) PTS() int64 { return a.pts }
func (a AudioFrame) Rate() int  { return a.rate }

// Data returns a copy safe to hold past Release.
func (a AudioFrame) Data() []byte { return append([]byte(nil), a.data...) }

// RawPayload returns the backing buffer without copying. Valid only until
// the frame is released.
func (a AudioFrame) RawPayload() []byte { return a.data }

// DurationMs reports how much audio the frame carries at its sample rate.
func (a AudioFrame) DurationMs() int64 {
	if a.rate <= 0 {
		return 0
	}
	samples := int64(len(a.data) / 2)
	return samples * 1000 / int64(a.rate)
}

// Release returns a pooled frame's buffer to the pool. Returns false for
// frames that were not pool-backed.
func Release(f AudioFrame) bool {
	if !f.pooled {
		return false
	}
	ReleaseAudioBuf(f.data)
	return true
}

var audioBufPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 4096)
	},
}

func AcquireAudioBuf(size int) []byte {
	b := audioBufPool.Get().([]byte)
	if cap(b) < size {
		return make([]byte, size)
	}
	return b[:size]
}

func ReleaseAudioBuf(b []byte) {
	audioBufPool.Put(b[:0])
}
