package deliver

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDeliverCommandReceivesTextOnStdin(t *testing.T) {
	t.Parallel()

	outFile := filepath.Join(t.TempDir(), "delivered")
	script := filepath.Join(t.TempDir(), "sink.sh")
	body := "#!/bin/sh\ncat > " + outFile + "\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write sink script: %v", err)
	}

	target := NewTarget(Config{Command: []string{script}}, zerolog.Nop())
	if err := target.Deliver(context.Background(), "hello world"); err != nil {
		t.Fatalf("deliver failed: %v", err)
	}

	got, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatalf("read delivered text: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("unexpected delivered text: %q", got)
	}
}

func TestDeliverCommandFailureIncludesStderr(t *testing.T) {
	t.Parallel()

	script := filepath.Join(t.TempDir(), "fail.sh")
	body := "#!/bin/sh\necho 'no display' >&2\nexit 1\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write fail script: %v", err)
	}

	target := NewTarget(Config{Command: []string{script}}, zerolog.Nop())
	err := target.Deliver(context.Background(), "text")
	if err == nil {
		t.Fatalf("expected delivery failure")
	}
	if !strings.Contains(err.Error(), "no display") {
		t.Fatalf("error does not carry stderr: %v", err)
	}
}

func TestDeliverCommandHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	target := NewTarget(Config{Command: []string{"sleep", "10"}}, zerolog.Nop())
	if err := target.Deliver(ctx, "text"); err == nil {
		t.Fatalf("expected error from cancelled context")
	}
}
