// Package stt defines the Transcriber interface for speech-to-text backends.
//
// The engine endpoints user speech itself, so the primary contract is batch:
// Transcribe receives one complete utterance as linear-PCM 16-bit mono audio
// at the ingress sample rate and returns its text. Providers that support
// low-latency streaming may additionally implement StreamTranscriber; the
// session orchestrator falls back to accumulating frames and calling the
// batch form when it is absent.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Config describes the audio format and recognition hints for a Transcriber.
type Config struct {
	// SampleRate is the PCM sample rate in Hz of all audio passed to
	// Transcribe. The engine ingress rate is 16000.
	SampleRate int

	// Model is the provider-specific recognition model (e.g., "nova-3").
	Model string

	// Language is the BCP-47 recognition language tag. Empty lets the
	// provider auto-detect where supported.
	Language string
}

// Transcriber is the abstraction over any STT backend.
type Transcriber interface {
	// Transcribe converts one complete utterance of linear-PCM 16-bit mono
	// audio into text. An empty transcript with a nil error means the
	// provider heard nothing intelligible; the caller must not treat it as
	// a failure. Non-2xx responses and timeouts are returned as a
	// *provider.Error.
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}

// StreamTranscriber is an optional extension for providers that accept audio
// incrementally. Frames are delivered in arrival order on the frames channel;
// the returned channel emits transcript chunks and is closed when the input
// channel closes or ctx is cancelled.
type StreamTranscriber interface {
	Transcriber

	TranscribeStream(ctx context.Context, frames <-chan []byte) (<-chan string, error)
}
