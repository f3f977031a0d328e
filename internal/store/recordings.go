package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Recordings writes per-call raw PCM recordings to the local filesystem.
// Each call produces two files: {callID}-user.pcm and {callID}-assistant.pcm.
// A zero-length direction produces no file.
type Recordings struct {
	dir string

	mu   sync.Mutex
	open map[string]*recording
}

type recording struct {
	user      []byte
	assistant []byte
}

// NewRecordings creates the recordings directory if needed. An empty dir
// disables recording: all methods become no-ops.
func NewRecordings(dir string) (*Recordings, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create recordings dir: %w", err)
		}
	}
	return &Recordings{dir: dir, open: make(map[string]*recording)}, nil
}

// Enabled reports whether recording is configured.
func (r *Recordings) Enabled() bool { return r.dir != "" }

// AppendUser buffers inbound user audio for the call.
func (r *Recordings) AppendUser(callID string, pcm []byte) {
	r.append(callID, pcm, true)
}

// AppendAssistant buffers outbound assistant audio for the call.
func (r *Recordings) AppendAssistant(callID string, pcm []byte) {
	r.append(callID, pcm, false)
}

func (r *Recordings) append(callID string, pcm []byte, user bool) {
	if r.dir == "" || len(pcm) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.open[callID]
	if !ok {
		rec = &recording{}
		r.open[callID] = rec
	}
	if user {
		rec.user = append(rec.user, pcm...)
	} else {
		rec.assistant = append(rec.assistant, pcm...)
	}
}

// Flush writes the call's buffers to disk and returns the resulting file
// paths. Empty directions return empty paths. The buffers are released.
func (r *Recordings) Flush(callID string) (userURI, assistantURI string, err error) {
	if r.dir == "" {
		return "", "", nil
	}
	r.mu.Lock()
	rec, ok := r.open[callID]
	delete(r.open, callID)
	r.mu.Unlock()
	if !ok {
		return "", "", nil
	}

	if len(rec.user) > 0 {
		userURI = filepath.Join(r.dir, callID+"-user.pcm")
		if err := os.WriteFile(userURI, rec.user, 0o644); err != nil {
			return "", "", fmt.Errorf("store: write user recording: %w", err)
		}
	}
	if len(rec.assistant) > 0 {
		assistantURI = filepath.Join(r.dir, callID+"-assistant.pcm")
		if err := os.WriteFile(assistantURI, rec.assistant, 0o644); err != nil {
			return userURI, "", fmt.Errorf("store: write assistant recording: %w", err)
		}
	}
	return userURI, assistantURI, nil
}

// Discard drops any buffered audio for the call without writing files.
func (r *Recordings) Discard(callID string) {
	r.mu.Lock()
	delete(r.open, callID)
	r.mu.Unlock()
}
