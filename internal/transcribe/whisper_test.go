package transcribe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeAudioFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audio.wav")
	if err := os.WriteFile(path, []byte("RIFFfake"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	return path
}

func TestTranscribeSuccess(t *testing.T) {
	t.Parallel()

	var gotModel string
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotModel = r.FormValue("model")
		gotAuth = r.Header.Get("Authorization")
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file field: %v", err)
		}
		w.Write([]byte(`{"text":"hello from whisper"}`))
	}))
	defer srv.Close()

	client := NewWhisperClient(srv.URL, "secret", time.Second)
	text, err := client.Transcribe(context.Background(), writeAudioFile(t), "base.en")
	if err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}
	if text != "hello from whisper" {
		t.Fatalf("unexpected text: %q", text)
	}
	if gotModel != "base.en" {
		t.Fatalf("unexpected model: %q", gotModel)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}
}

func TestTranscribeModelUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewWhisperClient(srv.URL, "", time.Second)
	_, err := client.Transcribe(context.Background(), writeAudioFile(t), "base.en")
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
}

func TestTranscribeDecodeFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "corrupt audio", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewWhisperClient(srv.URL, "", time.Second)
	_, err := client.Transcribe(context.Background(), writeAudioFile(t), "")
	if !errors.Is(err, ErrDecodeFailure) {
		t.Fatalf("expected ErrDecodeFailure, got %v", err)
	}
}

func TestTranscribeMalformedResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	client := NewWhisperClient(srv.URL, "", time.Second)
	_, err := client.Transcribe(context.Background(), writeAudioFile(t), "")
	if !errors.Is(err, ErrDecodeFailure) {
		t.Fatalf("expected ErrDecodeFailure, got %v", err)
	}
}

func TestTranscribeCancelled(t *testing.T) {
	t.Parallel()

	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	ctx, cancel := context.WithCancel(context.Background())
	client := NewWhisperClient(srv.URL, "", time.Minute)
	audioPath := writeAudioFile(t)

	done := make(chan error, 1)
	go func() {
		_, err := client.Transcribe(ctx, audioPath, "")
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("transcribe did not honor cancellation")
	}
}

func TestTranscribeMissingFile(t *testing.T) {
	t.Parallel()

	client := NewWhisperClient("http://127.0.0.1:0", "", time.Second)
	_, err := client.Transcribe(context.Background(), filepath.Join(t.TempDir(), "missing.wav"), "")
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}
