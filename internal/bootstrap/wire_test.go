package bootstrap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"talkey/internal/config"
)

func loadConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(config.Overrides{
		ConfigFile: filepath.Join(t.TempDir(), "missing.env"),
	})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func TestBuildSuccess(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg := loadConfig(t)
	cfg.SocketPath = filepath.Join(t.TempDir(), "talkey.sock")

	services, err := Build(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer services.Close()

	if services.Orchestrator == nil || services.Classifier == nil || services.Server == nil {
		t.Fatalf("incomplete graph: %+v", services)
	}
	if got := services.Classifier.Hotkey().String(); got != "super" {
		t.Fatalf("unexpected hotkey: %q", got)
	}
}

func TestBuildFailsOnBadHotkey(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg := loadConfig(t)
	cfg.Hotkey = ""

	if _, err := Build(cfg, zerolog.Nop()); err == nil {
		t.Fatalf("expected build error for empty hotkey")
	}
}

func TestBuildFailsOnInvalidRules(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	rulesFile := filepath.Join(t.TempDir(), "bad.rules")
	if err := os.WriteFile(rulesFile, []byte("not a valid rule\n"), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	cfg := loadConfig(t)
	cfg.RulesFile = rulesFile

	if _, err := Build(cfg, zerolog.Nop()); err == nil {
		t.Fatalf("expected build error due to invalid rules")
	}
}
