// Package tts defines the Synthesizer interface for text-to-speech backends.
//
// Synthesis is per-utterance: the orchestrator hands over one complete
// sentence or reply and receives the full PCM rendering. Barge-in is handled
// above this layer by discarding audio whose synthesis generation is stale,
// so implementations never need to support mid-stream cancellation beyond
// honoring ctx.
package tts

import "context"

// Synthesizer is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use.
type Synthesizer interface {
	// Synthesize renders text as 16-bit little-endian mono PCM at the rate
	// reported by SampleRate. Vendor failures are returned as a
	// *provider.Error.
	Synthesize(ctx context.Context, text string) ([]byte, error)

	// SampleRate reports the PCM sample rate in Hz of Synthesize output.
	SampleRate() int
}
