package session

// State is the turn-taking state of a session.
type State string

const (
	// StateIdle is the pre-start state.
	StateIdle State = "idle"

	// StateListening means the session is accepting user audio.
	StateListening State = "listening"

	// StateThinking means a user utterance is in the STT→LLM pipeline.
	StateThinking State = "thinking"

	// StateSpeaking means assistant audio is being synthesized or played.
	StateSpeaking State = "speaking"

	// StateTerminated is terminal; all socket traffic is discarded.
	StateTerminated State = "terminated"
)

// transitions is the permitted state graph. Any state may move to
// terminated via end().
var transitions = map[State][]State{
	StateIdle:      {StateListening, StateSpeaking},
	StateListening: {StateThinking},
	StateThinking:  {StateSpeaking, StateListening},
	StateSpeaking:  {StateListening},
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	if next == StateTerminated {
		return s != StateTerminated
	}
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}
