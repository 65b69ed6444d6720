package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeScript(t *testing.T, name string, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func newTestRecorder(t *testing.T, script string) *Recorder {
	t.Helper()
	return NewRecorder(Config{
		Command:    script,
		SampleRate: 16000,
		Channels:   1,
		TempDir:    t.TempDir(),
	}, zerolog.Nop())
}

const captureScript = "#!/usr/bin/env bash\ntrap 'exit 0' INT TERM\nhead -c 4000 /dev/urandom\nsleep 2\n"

func TestRecorderBeginEndProducesWav(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "capture.sh", captureScript)
	rec := newTestRecorder(t, script)

	if err := rec.Begin(context.Background()); err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	// Let the drain goroutine pick up the PCM.
	deadline := time.Now().Add(time.Second)
	for rec.Level().Peak == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rec.Level().Peak == 0 {
		t.Fatalf("expected a non-zero level while capturing")
	}

	res, err := rec.End()
	if err != nil {
		t.Fatalf("end failed: %v", err)
	}
	t.Cleanup(func() { os.Remove(res.AudioPath) })

	// 4000 bytes of s16le mono at 16kHz is 125ms of audio.
	if res.Duration <= 0 || res.Duration > time.Second {
		t.Fatalf("unexpected duration: %v", res.Duration)
	}

	info, err := os.Stat(res.AudioPath)
	if err != nil {
		t.Fatalf("stat wav: %v", err)
	}
	if info.Size() <= 44 {
		t.Fatalf("wav file suspiciously small: %d bytes", info.Size())
	}

	// The meter goes quiet once the capture is gone.
	if lvl := rec.Level(); lvl.Peak != 0 || lvl.Average != 0 {
		t.Fatalf("expected zero level after end, got %+v", lvl)
	}
}

func TestRecorderBeginTwiceFails(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "capture.sh", captureScript)
	rec := newTestRecorder(t, script)

	if err := rec.Begin(context.Background()); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	defer rec.Abort()

	if err := rec.Begin(context.Background()); !errors.Is(err, ErrCaptureActive) {
		t.Fatalf("expected ErrCaptureActive, got %v", err)
	}
}

func TestRecorderAbortDiscardsAudio(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	script := writeScript(t, "capture.sh", captureScript)
	rec := NewRecorder(Config{Command: script, TempDir: tempDir}, zerolog.Nop())

	if err := rec.Begin(context.Background()); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := rec.Abort(); err != nil {
		t.Fatalf("abort failed: %v", err)
	}

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "talkey-capture-") {
			t.Fatalf("expected capture file to be discarded, found %s", e.Name())
		}
	}

	// Aborting again is a no-op.
	if err := rec.Abort(); err != nil {
		t.Fatalf("repeat abort failed: %v", err)
	}
}

func TestRecorderEndWithoutCapture(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "capture.sh", captureScript)
	rec := newTestRecorder(t, script)

	if _, err := rec.End(); !errors.Is(err, ErrNoCapture) {
		t.Fatalf("expected ErrNoCapture, got %v", err)
	}
}

func TestRecorderBeginEarlyExit(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'no such device' 1>&2\nexit 1\n")
	rec := newTestRecorder(t, script)

	err := rec.Begin(context.Background())
	if err == nil {
		t.Fatalf("expected early exit error")
	}
	if !strings.Contains(err.Error(), "no such device") {
		t.Fatalf("expected stderr in error, got: %v", err)
	}
}
