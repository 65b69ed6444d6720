// Package media pauses and resumes external media players over MPRIS on the
// D-Bus session bus, so dictation is not transcribed over music.
package media

import (
	"context"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
)

const (
	mprisPrefix     = "org.mpris.MediaPlayer2."
	playerInterface = "org.mpris.MediaPlayer2.Player"
	playerPath      = dbus.ObjectPath("/org/mpris/MediaPlayer2")
)

// MPRISController implements ports.MediaController. Player identifiers are
// the players' bus names, so resuming targets exactly what was paused.
type MPRISController struct {
	log zerolog.Logger
}

func NewMPRISController(log zerolog.Logger) *MPRISController {
	return &MPRISController{log: log}
}

func (m *MPRISController) IsPlaying(ctx context.Context) (bool, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return false, fmt.Errorf("connect session bus: %w", err)
	}
	defer conn.Close()

	playing, err := m.playingPlayers(ctx, conn)
	if err != nil {
		return false, err
	}
	return len(playing) > 0, nil
}

// PauseAll pauses every playing player and returns their bus names.
func (m *MPRISController) PauseAll(ctx context.Context) ([]string, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	defer conn.Close()

	playing, err := m.playingPlayers(ctx, conn)
	if err != nil {
		return nil, err
	}

	var paused []string
	for _, name := range playing {
		obj := conn.Object(name, playerPath)
		if call := obj.CallWithContext(ctx, playerInterface+".Pause", 0); call.Err != nil {
			m.log.Warn().Err(call.Err).Str("player", name).Msg("pause failed")
			continue
		}
		paused = append(paused, name)
	}
	return paused, nil
}

// Resume resumes exactly the given players. Players that vanished since the
// pause are skipped.
func (m *MPRISController) Resume(ctx context.Context, players []string) error {
	if len(players) == 0 {
		return nil
	}
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("connect session bus: %w", err)
	}
	defer conn.Close()

	for _, name := range players {
		obj := conn.Object(name, playerPath)
		if call := obj.CallWithContext(ctx, playerInterface+".Play", 0); call.Err != nil {
			m.log.Warn().Err(call.Err).Str("player", name).Msg("resume failed")
		}
	}
	return nil
}

func (m *MPRISController) playingPlayers(ctx context.Context, conn *dbus.Conn) ([]string, error) {
	var names []string
	err := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.ListNames", 0).Store(&names)
	if err != nil {
		return nil, fmt.Errorf("list bus names: %w", err)
	}

	var playing []string
	for _, name := range names {
		if !strings.HasPrefix(name, mprisPrefix) {
			continue
		}
		obj := conn.Object(name, playerPath)
		variant, err := obj.GetProperty(playerInterface + ".PlaybackStatus")
		if err != nil {
			m.log.Debug().Err(err).Str("player", name).Msg("playback status unavailable")
			continue
		}
		if status, ok := variant.Value().(string); ok && status == "Playing" {
			playing = append(playing, name)
		}
	}
	return playing, nil
}
