// Package mock provides a test double for the stt.Transcriber interface.
//
// Set Transcript (or Transcripts for per-call sequencing) before use; each
// call is recorded so tests can assert what audio the orchestrator sent.
package mock

import (
	"context"
	"sync"

	"github.com/voxpipe-ai/voxpipe/pkg/provider/stt"
)

// Call records a single invocation of Transcribe.
type Call struct {
	// PCM is the audio buffer passed to Transcribe.
	PCM []byte
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Transcript is returned by every Transcribe call when Transcripts is
	// empty.
	Transcript string

	// Transcripts, when non-empty, is consumed one entry per call; the
	// last entry repeats once exhausted.
	Transcripts []string

	// Err, if non-nil, is returned by Transcribe.
	Err error

	// Calls records every invocation in order.
	Calls []Call

	calls int
}

var _ stt.Transcriber = (*Transcriber)(nil)

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(_ context.Context, pcm []byte) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	t.Calls = append(t.Calls, Call{PCM: cp})

	if t.Err != nil {
		return "", t.Err
	}
	if len(t.Transcripts) > 0 {
		i := t.calls
		if i >= len(t.Transcripts) {
			i = len(t.Transcripts) - 1
		}
		t.calls++
		return t.Transcripts[i], nil
	}
	return t.Transcript, nil
}

// CallCount returns the number of Transcribe invocations.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}
