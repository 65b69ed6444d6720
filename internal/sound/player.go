// Package sound plays short lifecycle cues (recording started, stopped,
// transcript pasted, cancelled) through an external audio player.
package sound

import (
	"os"
	"os/exec"
	"path/filepath"

	"github.com/gen2brain/beeep"
	"github.com/rs/zerolog"

	"talkey/internal/domain"
)

// Config controls cue playback. Empty fields fall back to defaults.
type Config struct {
	// Enabled gates all cue playback.
	Enabled bool
	// PlayerCommand is the external player invoked with the sample path as
	// its only argument. Defaults to paplay.
	PlayerCommand string
	// SoundsDir holds per-effect sample files named <effect>.wav.
	SoundsDir string
	// BeepFallback sounds a terminal/system beep when the sample file for an
	// effect is missing.
	BeepFallback bool
}

// Player implements ports.SoundPlayer. Playback is fire-and-forget; a
// session never waits on a cue.
type Player struct {
	cfg Config
	log zerolog.Logger
}

func NewPlayer(cfg Config, log zerolog.Logger) *Player {
	if cfg.PlayerCommand == "" {
		cfg.PlayerCommand = "paplay"
	}
	return &Player{cfg: cfg, log: log}
}

func (p *Player) Play(effect domain.SoundEffect) {
	if !p.cfg.Enabled {
		return
	}

	sample := filepath.Join(p.cfg.SoundsDir, string(effect)+".wav")
	if _, err := os.Stat(sample); err != nil {
		if p.cfg.BeepFallback {
			go func() {
				if err := beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration); err != nil {
					p.log.Debug().Err(err).Msg("beep fallback failed")
				}
			}()
		}
		return
	}

	go func() {
		cmd := exec.Command(p.cfg.PlayerCommand, sample)
		if err := cmd.Run(); err != nil {
			p.log.Warn().Err(err).Str("effect", string(effect)).Msg("cue playback failed")
		}
	}()
}
