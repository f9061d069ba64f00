package audio

import "encoding/binary"

// BytesFromInt16 serializes samples as little-endian PCM bytes.
func BytesFromInt16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Int16FromFloat32 converts normalized float samples to int16. Negative and
// positive halves scale asymmetrically so -1.0 and 1.0 both land on the
// extremes of the int16 range.
func Int16FromFloat32(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if s < -1.0 {
			s = -1.0
		} else if s > 1.0 {
			s = 1.0
		}
		if s < 0 {
			out[i] = int16(s * 32768.0)
		} else {
			out[i] = int16(s * 32767.0)
		}
	}
	return out
}

// DownmixChannel0 keeps only the first channel of interleaved samples.
func DownmixChannel0(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	out := make([]int16, 0, len(samples)/channels)
	for i := 0; i < len(samples); i += channels {
		out = append(out, samples[i])
	}
	return out
}
