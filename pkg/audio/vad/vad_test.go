package vad

import (
	"encoding/binary"
	"testing"
)

// frame builds a PCM frame where every sample has the given amplitude.
func frame(amplitude int16, n int) []byte {
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(amplitude))
	}
	return buf
}

func TestNewThresholdScaling(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		sensitivity float64
		want        float64
	}{
		{"baseline at 0.5", 0.5, 200},
		{"least sensitive", 0, 300},
		{"most sensitive", 1, 100},
		{"clamped below", -3, 300},
		{"clamped above", 7, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := New(tt.sensitivity).Threshold(); got != tt.want {
				t.Errorf("Threshold() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHasVoice(t *testing.T) {
	t.Parallel()

	d := New(0.5) // threshold 200

	if d.HasVoice(frame(100, 256)) {
		t.Error("quiet frame classified as voice")
	}
	if !d.HasVoice(frame(500, 256)) {
		t.Error("loud frame classified as silence")
	}
	if d.HasVoice(nil) {
		t.Error("empty frame classified as voice")
	}
	// Exactly at threshold is silence: the rule is strictly greater than.
	if d.HasVoice(frame(200, 256)) {
		t.Error("threshold-amplitude frame classified as voice")
	}
}
