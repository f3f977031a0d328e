// Package audio provides helpers for the engine's fixed linear-PCM audio
// format: signed 16-bit little-endian mono samples.
//
// The engine carries exactly one format per direction — 16 kHz on ingress and
// 24 kHz (web) or 16 kHz (telephony) on egress — so the helpers here are
// limited to duration arithmetic, amplitude measurement for voice-activity
// detection, and a linear resampler that aligns provider-native output with
// the session's egress rate.
package audio

import (
	"encoding/binary"
	"time"
)

const (
	// IngressSampleRate is the fixed sample rate of client → engine audio.
	IngressSampleRate = 16000

	// EgressSampleRateWeb is the engine → client rate for web/widget calls.
	EgressSampleRateWeb = 24000

	// EgressSampleRateTelephony is the engine → client rate for carrier
	// media bridges.
	EgressSampleRateTelephony = 16000

	// BytesPerSample is the size of one signed 16-bit sample.
	BytesPerSample = 2
)

// Duration returns the playback duration of a PCM byte buffer at the given
// sample rate. Returns 0 for a non-positive sample rate.
func Duration(numBytes, sampleRate int) time.Duration {
	if sampleRate <= 0 || numBytes <= 0 {
		return 0
	}
	samples := numBytes / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// MeanAbsAmplitude returns the mean absolute sample amplitude of a PCM frame
// on the int16 scale (0..32768). An odd trailing byte is ignored.
func MeanAbsAmplitude(frame []byte) float64 {
	n := len(frame) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum int64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(frame[i*BytesPerSample:]))
		if s < 0 {
			// -32768 negates to itself in int16; widen first.
			sum += -int64(s)
		} else {
			sum += int64(s)
		}
	}
	return float64(sum) / float64(n)
}

// Resample converts PCM audio from one sample rate to another using linear
// interpolation. It returns the input unchanged when the rates match or when
// either rate is non-positive. The result always holds whole samples.
func Resample(pcm []byte, fromRate, toRate int) []byte {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 {
		return pcm
	}
	in := len(pcm) / BytesPerSample
	if in < 2 {
		return pcm
	}

	out := int(int64(in) * int64(toRate) / int64(fromRate))
	if out == 0 {
		return nil
	}

	result := make([]byte, out*BytesPerSample)
	ratio := float64(in-1) / float64(out)
	for i := 0; i < out; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := int16(binary.LittleEndian.Uint16(pcm[idx*BytesPerSample:]))
		s1 := s0
		if idx+1 < in {
			s1 = int16(binary.LittleEndian.Uint16(pcm[(idx+1)*BytesPerSample:]))
		}
		sample := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		binary.LittleEndian.PutUint16(result[i*BytesPerSample:], uint16(sample))
	}
	return result
}
