// Package mock provides a test double for the tts.Synthesizer interface.
//
// Set Audio (or AudioPerCall for per-call sequencing) before use; every call
// is recorded so tests can assert what text the orchestrator synthesized.
package mock

import (
	"context"
	"sync"

	"github.com/voxpipe-ai/voxpipe/pkg/provider/tts"
)

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Audio is returned by every Synthesize call when AudioPerCall is
	// empty. When both are empty, Synthesize fabricates 320 bytes per call
	// so playback durations are non-zero.
	Audio []byte

	// AudioPerCall, when non-empty, is consumed one entry per call; the
	// last entry repeats once exhausted.
	AudioPerCall [][]byte

	// Err, if non-nil, is returned by Synthesize.
	Err error

	// Rate is the value SampleRate reports. Zero defaults to 16000.
	Rate int

	// Texts records every text passed to Synthesize, in order.
	Texts []string

	calls int
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(_ context.Context, text string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Texts = append(s.Texts, text)

	if s.Err != nil {
		return nil, s.Err
	}
	if len(s.AudioPerCall) > 0 {
		i := s.calls
		if i >= len(s.AudioPerCall) {
			i = len(s.AudioPerCall) - 1
		}
		s.calls++
		return s.AudioPerCall[i], nil
	}
	if s.Audio != nil {
		return s.Audio, nil
	}
	return make([]byte, 320), nil
}

// SampleRate implements tts.Synthesizer.
func (s *Synthesizer) SampleRate() int {
	if s.Rate > 0 {
		return s.Rate
	}
	return 16000
}

// CallCount returns the number of Synthesize invocations.
func (s *Synthesizer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Texts)
}

// LastText returns the most recent synthesized text, or "" if Synthesize was
// never called.
func (s *Synthesizer) LastText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Texts) == 0 {
		return ""
	}
	return s.Texts[len(s.Texts)-1]
}
