package audio

import (
	"encoding/binary"
	"time"
)

// Duration returns the playback duration of raw 16-bit mono PCM at rate.
func Duration(byteLen, rate int) time.Duration {
	if rate <= 0 || byteLen <= 0 {
		return 0
	}
	return time.Duration(float64(byteLen) / float64(rate*2) * float64(time.Second))
}

// Seconds returns the audio length in seconds of raw 16-bit mono PCM at rate.
func Seconds(byteLen, rate int) float64 {
	if rate <= 0 || byteLen <= 0 {
		return 0
	}
	return float64(byteLen) / float64(rate*2)
}

// Resample converts 16-bit little-endian mono PCM between sample rates using
// linear interpolation. Adequate for speech; providers that synthesize at a
// non-engine rate are brought to the fixed egress rate here rather than at
// the client.
func Resample(pcm []byte, from, to int) []byte {
	if from == to || from <= 0 || to <= 0 {
		return pcm
	}
	n := len(pcm) / 2
	if n < 2 {
		return pcm
	}
	in := make([]int16, n)
	for i := 0; i < n; i++ {
		in[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	outLen := int(int64(n) * int64(to) / int64(from))
	if outLen < 1 {
		outLen = 1
	}
	out := make([]byte, outLen*2)
	ratio := float64(from) / float64(to)
	for i := 0; i < outLen; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= n-1 {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(in[n-1]))
			continue
		}
		frac := pos - float64(idx)
		sample := float64(in[idx])*(1-frac) + float64(in[idx+1])*frac
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sample)))
	}
	return out
}
