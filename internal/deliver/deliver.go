// Package deliver places finished transcripts at the user's cursor, either
// through a user-supplied command or via the clipboard with an optional
// synthesized paste keystroke.
package deliver

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/micmonay/keybd_event"
	"github.com/rs/zerolog"
)

// Config selects the delivery mechanism.
type Config struct {
	// Command, when non-empty, is an argv invoked with the transcript on
	// stdin. It takes precedence over clipboard delivery.
	Command []string
	// Paste synthesizes ctrl+v after the clipboard write.
	Paste bool
	// RestoreClipboard saves the clipboard before delivery and restores it
	// after the paste has had time to land.
	RestoreClipboard bool
	// PasteSettle is how long the pasted text is given before the clipboard
	// is restored.
	PasteSettle time.Duration
}

// Target implements ports.DeliveryTarget.
type Target struct {
	cfg Config
	log zerolog.Logger

	kbOnce sync.Once
	kb     keybd_event.KeyBonding
	kbErr  error
}

func NewTarget(cfg Config, log zerolog.Logger) *Target {
	if cfg.PasteSettle <= 0 {
		cfg.PasteSettle = 300 * time.Millisecond
	}
	return &Target{cfg: cfg, log: log}
}

func (t *Target) Deliver(ctx context.Context, text string) error {
	if len(t.cfg.Command) > 0 {
		return t.deliverCommand(ctx, text)
	}
	return t.deliverClipboard(text)
}

func (t *Target) deliverCommand(ctx context.Context, text string) error {
	cmd := exec.CommandContext(ctx, t.cfg.Command[0], t.cfg.Command[1:]...)
	cmd.Stdin = strings.NewReader(text)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("delivery command: %w: %s", err, msg)
		}
		return fmt.Errorf("delivery command: %w", err)
	}
	return nil
}

func (t *Target) deliverClipboard(text string) error {
	var previous string
	var havePrevious bool
	if t.cfg.RestoreClipboard {
		if saved, err := clipboard.ReadAll(); err == nil {
			previous, havePrevious = saved, true
		}
	}

	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("clipboard write: %w", err)
	}

	if t.cfg.Paste {
		if err := t.sendPaste(); err != nil {
			return fmt.Errorf("paste keystroke: %w", err)
		}
	}

	if havePrevious {
		time.Sleep(t.cfg.PasteSettle)
		if err := clipboard.WriteAll(previous); err != nil {
			t.log.Warn().Err(err).Msg("clipboard restore failed")
		}
	}
	return nil
}

func (t *Target) sendPaste() error {
	t.kbOnce.Do(func() {
		t.kb, t.kbErr = keybd_event.NewKeyBonding()
		if t.kbErr == nil {
			// keybd_event needs the uinput device to settle on linux.
			time.Sleep(2 * time.Second)
		}
	})
	if t.kbErr != nil {
		return t.kbErr
	}

	t.kb.SetKeys(keybd_event.VK_V)
	t.kb.HasCTRL(true)
	return t.kb.Launching()
}
