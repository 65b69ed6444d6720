package sound

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"talkey/internal/domain"
)

// fakePlayer writes a script that records every sample path it is invoked
// with, one per line, into outFile.
func fakePlayer(t *testing.T, outFile string) string {
	t.Helper()
	script := filepath.Join(t.TempDir(), "player.sh")
	body := "#!/bin/sh\necho \"$1\" >> " + outFile + "\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write fake player: %v", err)
	}
	return script
}

func waitForFile(t *testing.T, path string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			return string(data)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("player was never invoked")
	return ""
}

func TestPlayInvokesPlayerWithSample(t *testing.T) {
	t.Parallel()

	soundsDir := t.TempDir()
	sample := filepath.Join(soundsDir, "start.wav")
	if err := os.WriteFile(sample, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("write sample: %v", err)
	}

	outFile := filepath.Join(t.TempDir(), "invocations")
	player := NewPlayer(Config{
		Enabled:       true,
		PlayerCommand: fakePlayer(t, outFile),
		SoundsDir:     soundsDir,
	}, zerolog.Nop())

	player.Play(domain.SoundStart)

	got := waitForFile(t, outFile)
	if got != sample+"\n" {
		t.Fatalf("unexpected invocation: %q", got)
	}
}

func TestPlayDisabledDoesNothing(t *testing.T) {
	t.Parallel()

	soundsDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(soundsDir, "stop.wav"), []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("write sample: %v", err)
	}

	outFile := filepath.Join(t.TempDir(), "invocations")
	player := NewPlayer(Config{
		Enabled:       false,
		PlayerCommand: fakePlayer(t, outFile),
		SoundsDir:     soundsDir,
	}, zerolog.Nop())

	player.Play(domain.SoundStop)

	time.Sleep(50 * time.Millisecond)
	if _, err := os.Stat(outFile); !os.IsNotExist(err) {
		t.Fatalf("player invoked while disabled")
	}
}

func TestPlayMissingSampleSkips(t *testing.T) {
	t.Parallel()

	outFile := filepath.Join(t.TempDir(), "invocations")
	player := NewPlayer(Config{
		Enabled:       true,
		PlayerCommand: fakePlayer(t, outFile),
		SoundsDir:     t.TempDir(),
	}, zerolog.Nop())

	player.Play(domain.SoundCancel)

	time.Sleep(50 * time.Millisecond)
	if _, err := os.Stat(outFile); !os.IsNotExist(err) {
		t.Fatalf("player invoked without a sample file")
	}
}
