package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxpipe-ai/voxpipe/pkg/provider"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "voice-1"); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := New("key", ""); err == nil {
		t.Error("expected error for empty voice ID")
	}
}

func TestSynthesize(t *testing.T) {
	t.Parallel()

	wantPCM := bytes.Repeat([]byte{0x01, 0x02}, 480)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("xi-api-key"); got != "el-key" {
			t.Errorf("xi-api-key = %q", got)
		}
		if r.URL.Path != "/v1/text-to-speech/voice-1/stream" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("output_format"); got != "pcm_24000" {
			t.Errorf("output_format = %q", got)
		}

		var req synthesizeRequest
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("unmarshal body: %v", err)
		}
		if req.Text != "Hello there." {
			t.Errorf("text = %q", req.Text)
		}
		if req.ModelID != "eleven_flash_v2_5" {
			t.Errorf("model = %q", req.ModelID)
		}

		w.Write(wantPCM)
	}))
	defer srv.Close()

	s, err := New("el-key", "voice-1", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pcm, err := s.Synthesize(context.Background(), "Hello there.")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !bytes.Equal(pcm, wantPCM) {
		t.Errorf("pcm length = %d, want %d", len(pcm), len(wantPCM))
	}
	if s.SampleRate() != 24000 {
		t.Errorf("SampleRate = %d, want 24000", s.SampleRate())
	}
}

func TestSynthesizeEmptyText(t *testing.T) {
	t.Parallel()

	s, err := New("el-key", "voice-1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pcm, err := s.Synthesize(context.Background(), "")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if pcm != nil {
		t.Errorf("expected nil audio for empty text, got %d bytes", len(pcm))
	}
}

func TestSynthesizeServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "voice not found", http.StatusNotFound)
	}))
	defer srv.Close()

	s, err := New("el-key", "nope", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = s.Synthesize(context.Background(), "hello")
	var perr *provider.Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *provider.Error, got %v", err)
	}
	if perr.StatusCode != http.StatusNotFound || perr.Provider != "elevenlabs" || perr.Stage != "tts" {
		t.Errorf("error = %+v", perr)
	}
}

func TestWithSampleRate(t *testing.T) {
	t.Parallel()

	s, err := New("el-key", "voice-1", WithSampleRate(16000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.SampleRate() != 16000 {
		t.Errorf("SampleRate = %d, want 16000", s.SampleRate())
	}
	if s.outputFormat != "pcm_16000" {
		t.Errorf("outputFormat = %q, want pcm_16000", s.outputFormat)
	}
}
