// Package vad implements energy-based voice-activity detection over fixed
// PCM frames.
//
// The detector is stateless per frame: it classifies a frame as voiced when
// its mean absolute amplitude exceeds a threshold derived from the
// assistant's endpointing sensitivity. Hysteresis (speech start/end and
// silence timeouts) lives in the session's turn-taking state machine, not
// here.
package vad

import "github.com/voxpipe-ai/voxpipe/pkg/audio"

const (
	// baselineThreshold is the default mean-amplitude threshold on the
	// int16 scale, tuned for push-to-talk-quality endpointing.
	baselineThreshold = 200.0

	// minThreshold and maxThreshold bound the sensitivity-scaled threshold.
	minThreshold = 50.0
	maxThreshold = 400.0
)

// Detector classifies PCM frames as voiced or silent.
type Detector struct {
	threshold float64
}

// New creates a Detector tuned by sensitivity in [0, 1]. Higher sensitivity
// lowers the amplitude threshold so quieter speech is detected. A sensitivity
// of 0.5 yields the baseline threshold of 200.
func New(sensitivity float64) *Detector {
	if sensitivity < 0 {
		sensitivity = 0
	}
	if sensitivity > 1 {
		sensitivity = 1
	}
	t := baselineThreshold * (1.5 - sensitivity)
	if t < minThreshold {
		t = minThreshold
	}
	if t > maxThreshold {
		t = maxThreshold
	}
	return &Detector{threshold: t}
}

// Threshold returns the effective amplitude threshold.
func (d *Detector) Threshold() float64 { return d.threshold }

// HasVoice reports whether the PCM frame contains voice: its mean absolute
// sample amplitude exceeds the detector's threshold. Empty frames are silent.
func (d *Detector) HasVoice(frame []byte) bool {
	return audio.MeanAbsAmplitude(frame) > d.threshold
}
