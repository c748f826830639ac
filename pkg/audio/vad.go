package audio

import "encoding/binary"

const (
	// IngressSampleRate is the fixed rate for audio arriving from clients.
	IngressSampleRate = 16000
	// EgressSampleRate is the fixed rate for synthesized audio sent to clients.
	EgressSampleRate = 24000
	// FrameSamples is the VAD decision window (256ms at 16kHz mono).
	FrameSamples = 4096

	baseThreshold = 200
	minThreshold  = 80
	maxThreshold  = 400
)

// VAD is a stateless energy classifier over 16-bit little-endian PCM frames.
// Hysteresis (endpointing) lives in the session state machine, not here.
type VAD struct {
	threshold int
}

// NewVAD derives the amplitude threshold from the assistant's endpointing
// sensitivity (0..1). Sensitivity 0.5 reproduces the default threshold of 200;
// higher sensitivity lowers the threshold so quieter speech is detected.
func NewVAD(sensitivity float64) VAD {
	if sensitivity <= 0 {
		sensitivity = 0.5
	}
	if sensitivity > 1 {
		sensitivity = 1
	}
	threshold := int(float64(baseThreshold) * (1.5 - sensitivity))
	if threshold < minThreshold {
		threshold = minThreshold
	}
	if threshold > maxThreshold {
		threshold = maxThreshold
	}
	return VAD{threshold: threshold}
}

func (v VAD) Threshold() int { return v.threshold }

// HasVoice reports whether the mean absolute sample amplitude of the frame
// exceeds the threshold. Odd trailing bytes are ignored.
func (v VAD) HasVoice(frame []byte) bool {
	n := len(frame) / 2
	if n == 0 {
		return false
	}
	var sum int64
	for i := 0; i < n*2; i += 2 {
		s := int16(binary.LittleEndian.Uint16(frame[i:]))
		if s < 0 {
			sum -= int64(s)
		} else {
			sum += int64(s)
		}
	}
	return sum/int64(n) > int64(v.threshold)
}
