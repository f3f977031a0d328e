package deepgram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/voxpipe-ai/voxpipe/pkg/provider"
)

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestBuildURL(t *testing.T) {
	t.Parallel()

	tr, err := New("key", WithModel("nova-3"), WithLanguage("de"), WithSampleRate(16000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	u := tr.buildURL()
	for _, want := range []string{
		"model=nova-3",
		"language=de",
		"encoding=linear16",
		"sample_rate=16000",
		"channels=1",
	} {
		if !strings.Contains(u, want) {
			t.Errorf("URL %q missing %q", u, want)
		}
	}
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token secret" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(`{"results":{"channels":[{"alternatives":[{"transcript":"what time is it","confidence":0.98}]}]}}`))
	}))
	defer srv.Close()

	tr, err := New("secret", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	text, err := tr.Transcribe(context.Background(), make([]byte, 640))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "what time is it" {
		t.Errorf("transcript = %q", text)
	}
}

func TestTranscribeEmptyAudio(t *testing.T) {
	t.Parallel()

	tr, _ := New("key")
	text, err := tr.Transcribe(context.Background(), nil)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "" {
		t.Errorf("transcript = %q, want empty", text)
	}
}

func TestTranscribeServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr, _ := New("key", WithBaseURL(srv.URL))
	_, err := tr.Transcribe(context.Background(), make([]byte, 640))
	if err == nil {
		t.Fatal("expected error")
	}
	var pe *provider.Error
	if !errors.As(err, &pe) {
		t.Fatalf("error type %T, want *provider.Error", err)
	}
	if pe.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d", pe.StatusCode)
	}
	if pe.Stage != "stt" {
		t.Errorf("Stage = %q", pe.Stage)
	}
}

func TestTranscribeNoAlternatives(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":{"channels":[]}}`))
	}))
	defer srv.Close()

	tr, _ := New("key", WithBaseURL(srv.URL))
	text, err := tr.Transcribe(context.Background(), make([]byte, 640))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "" {
		t.Errorf("transcript = %q, want empty", text)
	}
}
