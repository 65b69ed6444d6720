// Package bootstrap assembles the runtime graph for the daemon.
package bootstrap

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"talkey/internal/audio"
	"talkey/internal/config"
	"talkey/internal/daemon"
	"talkey/internal/deliver"
	"talkey/internal/domain"
	"talkey/internal/hotkey"
	"talkey/internal/keyboard"
	"talkey/internal/media"
	"talkey/internal/power"
	"talkey/internal/rules"
	"talkey/internal/session"
	"talkey/internal/sound"
	"talkey/internal/store"
	"talkey/internal/transcribe"
)

// Services is the assembled runtime graph.
type Services struct {
	Orchestrator *session.Orchestrator
	Classifier   *hotkey.Classifier
	Keys         *keyboard.EvdevSource
	Server       *daemon.Server
	Store        *store.Store
}

// Close releases resources the graph holds open.
func (s Services) Close() error {
	return s.Store.Close()
}

// SessionSettings derives orchestrator settings from config, shared between
// initial wiring and live reload.
func SessionSettings(cfg *config.Config) session.Settings {
	return session.Settings{
		Model:        cfg.Model,
		InhibitSleep: cfg.InhibitSleep,
		PauseMedia:   cfg.PauseMedia,
	}
}

// Build wires all backend dependencies for the daemon. The daemon server is
// constructed first so it can act as the orchestrator's event sink, then the
// orchestrator is attached to it.
func Build(cfg *config.Config, log zerolog.Logger) (Services, error) {
	hk, err := domain.ParseHotkey(cfg.Hotkey)
	if err != nil {
		return Services{}, fmt.Errorf("hotkey: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return Services{}, fmt.Errorf("create data dir: %w", err)
	}

	transcripts, err := store.Open(cfg.DBPath())
	if err != nil {
		return Services{}, fmt.Errorf("open transcript store: %w", err)
	}

	recordings, err := store.NewAudioDir(cfg.RecordingsDir())
	if err != nil {
		transcripts.Close()
		return Services{}, fmt.Errorf("open recordings dir: %w", err)
	}

	rulesEngine, err := rules.NewEngine(cfg.RulesFile, 0)
	if err != nil {
		transcripts.Close()
		return Services{}, fmt.Errorf("rules: %w", err)
	}

	server := daemon.NewServer(daemon.ServerConfig{
		SocketPath: cfg.SocketPath,
		Notify:     cfg.Notify,
	}, transcripts, recordings, log.With().Str("component", "daemon").Logger())

	orch := session.NewOrchestrator(session.Deps{
		Recorder: audio.NewRecorder(audio.Config{
			Command:     cfg.CaptureCmd,
			InputFormat: cfg.CaptureFormat,
			InputDevice: cfg.CaptureInput,
			SampleRate:  cfg.SampleRate,
		}, log.With().Str("component", "audio").Logger()),
		Transcriber: transcribe.NewWhisperClient(cfg.WhisperURL, cfg.WhisperKey, cfg.TranscribeTimeout),
		Sleep:       power.NewLogindInhibitor(log.With().Str("component", "power").Logger()),
		Media:       media.NewMPRISController(log.With().Str("component", "media").Logger()),
		Sounds: sound.NewPlayer(sound.Config{
			Enabled:       cfg.SoundsEnabled,
			PlayerCommand: cfg.SoundPlayer,
			SoundsDir:     cfg.SoundsDir,
			BeepFallback:  cfg.BeepFallback,
		}, log.With().Str("component", "sound").Logger()),
		Delivery: deliver.NewTarget(deliver.Config{
			Command:          cfg.DeliverCmd,
			Paste:            cfg.Paste,
			RestoreClipboard: cfg.RestoreClipboard,
		}, log.With().Str("component", "deliver").Logger()),
		Audio:       recordings,
		Transcripts: transcripts,
		Rules:       rulesEngine,
		Events:      server,
	}, SessionSettings(cfg), session.Config{}, log.With().Str("component", "session").Logger())

	server.Attach(orch)

	keys := keyboard.NewEvdevSource(keyboard.Config{Devices: cfg.Devices},
		log.With().Str("component", "keyboard").Logger())

	return Services{
		Orchestrator: orch,
		Classifier:   hotkey.NewClassifier(hk),
		Keys:         keys,
		Server:       server,
		Store:        transcripts,
	}, nil
}
