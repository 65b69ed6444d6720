// Package config loads daemon configuration from an env-style file,
// process environment variables and CLI flag overrides.
// Priority: CLI flags > environment variables > config file > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Hotkey   string `env:"TALKEY_HOTKEY" envDefault:"super"`
	LogLevel string `env:"TALKEY_LOG_LEVEL" envDefault:"info"`

	WhisperURL        string        `env:"TALKEY_WHISPER_URL" envDefault:"http://127.0.0.1:8080"`
	WhisperKey        string        `env:"TALKEY_WHISPER_KEY"`
	Model             string        `env:"TALKEY_MODEL" envDefault:"base.en"`
	TranscribeTimeout time.Duration `env:"TALKEY_TRANSCRIBE_TIMEOUT" envDefault:"120s"`

	DataDir    string `env:"TALKEY_DATA_DIR"`
	RulesFile  string `env:"TALKEY_RULES_FILE"`
	SocketPath string `env:"TALKEY_SOCKET"`

	Devices       []string `env:"TALKEY_DEVICES" envSeparator:","`
	CaptureCmd    string   `env:"TALKEY_CAPTURE_COMMAND" envDefault:"ffmpeg"`
	CaptureFormat string   `env:"TALKEY_CAPTURE_FORMAT" envDefault:"pulse"`
	CaptureInput  string   `env:"TALKEY_CAPTURE_INPUT" envDefault:"default"`
	SampleRate    int      `env:"TALKEY_SAMPLE_RATE" envDefault:"16000"`

	InhibitSleep bool `env:"TALKEY_INHIBIT_SLEEP" envDefault:"true"`
	PauseMedia   bool `env:"TALKEY_PAUSE_MEDIA" envDefault:"true"`
	Notify       bool `env:"TALKEY_NOTIFY" envDefault:"true"`

	SoundsEnabled bool   `env:"TALKEY_SOUNDS" envDefault:"true"`
	SoundsDir     string `env:"TALKEY_SOUNDS_DIR"`
	SoundPlayer   string `env:"TALKEY_SOUND_PLAYER" envDefault:"paplay"`
	BeepFallback  bool   `env:"TALKEY_BEEP_FALLBACK" envDefault:"false"`

	// DeliverCmd, when set, receives the transcript on stdin instead of the
	// clipboard path.
	DeliverCmd       []string `env:"TALKEY_DELIVER_COMMAND" envSeparator:" "`
	Paste            bool     `env:"TALKEY_PASTE" envDefault:"true"`
	RestoreClipboard bool     `env:"TALKEY_RESTORE_CLIPBOARD" envDefault:"false"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	ConfigFile string
	Hotkey     string
	Model      string
	SocketPath string
	LogLevel   string
	WhisperURL string
}

// DefaultFile is the config file location when no flag names one.
func DefaultFile() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "talkey", "talkey.env")
	}
	return ""
}

// Load builds the effective configuration. The config file is read into a
// map rather than loaded into the process environment, so repeated Loads
// (live reload) always see the file's current contents.
func Load(overrides Overrides) (*Config, error) {
	file := overrides.ConfigFile
	if file == "" {
		file = DefaultFile()
	}

	merged := map[string]string{}
	if file != "" {
		if fromFile, err := godotenv.Read(file); err == nil {
			for key, value := range fromFile {
				merged[key] = value
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file %q: %w", file, err)
		}
	}
	// Process environment wins over the file.
	for _, entry := range os.Environ() {
		if key, value, ok := strings.Cut(entry, "="); ok {
			merged[key] = value
		}
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: merged}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// CLI overrides (non-empty values win).
	if overrides.Hotkey != "" {
		cfg.Hotkey = overrides.Hotkey
	}
	if overrides.Model != "" {
		cfg.Model = overrides.Model
	}
	if overrides.SocketPath != "" {
		cfg.SocketPath = overrides.SocketPath
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.WhisperURL != "" {
		cfg.WhisperURL = overrides.WhisperURL
	}

	if err := cfg.fillPathDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) fillPathDefaults() error {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve data dir: %w", err)
		}
		c.DataDir = filepath.Join(home, ".local", "share", "talkey")
	}
	if c.RulesFile == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			c.RulesFile = filepath.Join(dir, "talkey", "corrections.rules")
		}
	}
	return nil
}

// DBPath is the transcript database location under the data dir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "talkey.db")
}

// RecordingsDir holds persisted session audio.
func (c *Config) RecordingsDir() string {
	return filepath.Join(c.DataDir, "recordings")
}
