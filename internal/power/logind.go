// Package power blocks system idle/sleep while recording, via the
// systemd-logind inhibitor interface on the D-Bus system bus.
package power

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"

	"talkey/internal/ports"
)

// LogindInhibitor implements ports.SleepInhibitor. Each Acquire takes a
// logind idle/sleep inhibitor lock; logind drops the lock when the returned
// file descriptor closes.
type LogindInhibitor struct {
	log zerolog.Logger
}

func NewLogindInhibitor(log zerolog.Logger) *LogindInhibitor {
	return &LogindInhibitor{log: log}
}

func (i *LogindInhibitor) Acquire(ctx context.Context) (ports.SleepToken, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}

	obj := conn.Object("org.freedesktop.login1", "/org/freedesktop/login1")
	call := obj.CallWithContext(ctx, "org.freedesktop.login1.Manager.Inhibit", 0,
		"idle:sleep", "talkey", "recording in progress", "block")
	if call.Err != nil {
		conn.Close()
		return nil, fmt.Errorf("logind inhibit: %w", call.Err)
	}

	var fd dbus.UnixFD
	if err := call.Store(&fd); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read inhibit fd: %w", err)
	}

	i.log.Debug().Msg("sleep inhibition acquired")
	return &inhibitToken{
		conn: conn,
		file: os.NewFile(uintptr(fd), "talkey-inhibit"),
		log:  i.log,
	}, nil
}

type inhibitToken struct {
	once sync.Once
	conn *dbus.Conn
	file *os.File
	log  zerolog.Logger
}

// Release drops the inhibitor lock. Safe to call more than once.
func (t *inhibitToken) Release() {
	t.once.Do(func() {
		if t.file != nil {
			if err := t.file.Close(); err != nil {
				t.log.Warn().Err(err).Msg("inhibit fd close failed")
			}
		}
		t.conn.Close()
		t.log.Debug().Msg("sleep inhibition released")
	})
}
