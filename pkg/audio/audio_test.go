package audio

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func pcmFrame(amplitude int16, samples int) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := amplitude
		if i%2 == 1 {
			v = -amplitude
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func TestVADVoiceAboveThreshold(t *testing.T) {
	vad := NewVAD(0.5)
	if vad.Threshold() != 200 {
		t.Fatalf("expected default threshold 200, got %d", vad.Threshold())
	}
	if !vad.HasVoice(pcmFrame(1200, 320)) {
		t.Fatalf("expected voice for loud frame")
	}
	if vad.HasVoice(pcmFrame(50, 320)) {
		t.Fatalf("expected silence for quiet frame")
	}
}

func TestVADSensitivityScalesThreshold(t *testing.T) {
	sensitive := NewVAD(1.0)
	strict := NewVAD(0.1)
	if sensitive.Threshold() >= strict.Threshold() {
		t.Fatalf("expected higher sensitivity to lower the threshold: %d vs %d",
			sensitive.Threshold(), strict.Threshold())
	}
	// A frame between the two thresholds flips the decision.
	frame := pcmFrame(int16(sensitive.Threshold()+50), 320)
	if !sensitive.HasVoice(frame) {
		t.Fatalf("expected sensitive VAD to detect voice")
	}
	if strict.HasVoice(frame) {
		t.Fatalf("expected strict VAD to classify the same frame as silence")
	}
}

func TestVADEmptyFrame(t *testing.T) {
	if NewVAD(0.5).HasVoice(nil) {
		t.Fatalf("expected no voice for empty frame")
	}
}

func TestDuration(t *testing.T) {
	// One second of 16kHz mono 16-bit PCM.
	if d := Duration(32000, 16000); d != time.Second {
		t.Fatalf("expected 1s, got %v", d)
	}
	if d := Duration(0, 16000); d != 0 {
		t.Fatalf("expected 0, got %v", d)
	}
}

func TestResampleLengthRatio(t *testing.T) {
	in := pcmFrame(1000, 1600) // 100ms at 16kHz
	out := Resample(in, 16000, 24000)
	wantSamples := 1600 * 24000 / 16000
	if len(out)/2 != wantSamples {
		t.Fatalf("expected %d samples, got %d", wantSamples, len(out)/2)
	}
}

func TestResampleIdentity(t *testing.T) {
	in := pcmFrame(500, 100)
	out := Resample(in, 16000, 16000)
	if &out[0] != &in[0] {
		t.Fatalf("expected identity resample to return input")
	}
}

func TestResamplePreservesSine(t *testing.T) {
	// A 440Hz tone resampled 24k->16k keeps roughly the same peak amplitude.
	const n = 2400
	in := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(10000 * math.Sin(2*math.Pi*440*float64(i)/24000))
		binary.LittleEndian.PutUint16(in[i*2:], uint16(v))
	}
	out := Resample(in, 24000, 16000)
	var peak int16
	for i := 0; i+1 < len(out); i += 2 {
		v := int16(binary.LittleEndian.Uint16(out[i:]))
		if v > peak {
			peak = v
		}
	}
	if peak < 9000 || peak > 11000 {
		t.Fatalf("expected peak near 10000, got %d", peak)
	}
}

func TestMuLawRoundTrip(t *testing.T) {
	in := pcmFrame(8000, 160)
	encoded := MuLawEncode(in)
	if len(encoded) != 160 {
		t.Fatalf("expected 160 mu-law bytes, got %d", len(encoded))
	}
	decoded := MuLawDecode(encoded)
	if len(decoded) != len(in) {
		t.Fatalf("expected %d bytes, got %d", len(in), len(decoded))
	}
	for i := 0; i < len(in); i += 2 {
		want := int16(binary.LittleEndian.Uint16(in[i:]))
		got := int16(binary.LittleEndian.Uint16(decoded[i:]))
		diff := int(want) - int(got)
		if diff < 0 {
			diff = -diff
		}
		// mu-law is lossy; tolerance scales with amplitude.
		if diff > 512 {
			t.Fatalf("sample %d: expected ~%d, got %d", i/2, want, got)
		}
	}
}

func TestMuLawSilence(t *testing.T) {
	decoded := MuLawDecode([]byte{0xFF, 0xFF})
	for i := 0; i+1 < len(decoded); i += 2 {
		v := int16(binary.LittleEndian.Uint16(decoded[i:]))
		if v < -8 || v > 8 {
			t.Fatalf("expected near-zero sample, got %d", v)
		}
	}
}
