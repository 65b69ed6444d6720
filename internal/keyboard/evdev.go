// Package keyboard reads raw key events from /dev/input evdev devices and
// reduces them to key-chord samples. It needs read access to the input
// devices (typically membership in the input group).
package keyboard

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"talkey/internal/domain"
)

const evKey = 0x01

// Linux input-event-codes for the keys the chord tracker cares about.
const (
	codeEsc        = 1
	codeLeftCtrl   = 29
	codeRightCtrl  = 97
	codeLeftShift  = 42
	codeRightShift = 54
	codeLeftAlt    = 56
	codeRightAlt   = 100
	codeLeftMeta   = 125
	codeRightMeta  = 126
)

var modifierBits = map[uint16]domain.Modifiers{
	codeLeftCtrl:   domain.ModCtrl,
	codeRightCtrl:  domain.ModCtrl,
	codeLeftShift:  domain.ModShift,
	codeRightShift: domain.ModShift,
	codeLeftAlt:    domain.ModAlt,
	codeRightAlt:   domain.ModAlt,
	codeLeftMeta:   domain.ModSuper,
	codeRightMeta:  domain.ModSuper,
}

var keyNames = map[uint16]string{
	codeEsc: "esc",
	2:       "1", 3: "2", 4: "3", 5: "4", 6: "5",
	7: "6", 8: "7", 9: "8", 10: "9", 11: "0",
	14: "backspace", 15: "tab", 28: "enter", 57: "space",
	16: "q", 17: "w", 18: "e", 19: "r", 20: "t", 21: "y",
	22: "u", 23: "i", 24: "o", 25: "p",
	30: "a", 31: "s", 32: "d", 33: "f", 34: "g", 35: "h",
	36: "j", 37: "k", 38: "l",
	44: "z", 45: "x", 46: "c", 47: "v", 48: "b", 49: "n", 50: "m",
	59: "f1", 60: "f2", 61: "f3", 62: "f4", 63: "f5", 64: "f6",
	65: "f7", 66: "f8", 67: "f9", 68: "f10", 87: "f11", 88: "f12",
}

func keyName(code uint16) string {
	if name, ok := keyNames[code]; ok {
		return name
	}
	return fmt.Sprintf("key%d", code)
}

// inputEvent mirrors struct input_event on 64-bit linux.
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// chordTracker folds per-key press/release events from any number of
// devices into the currently-held chord. Left and right variants of a
// modifier share one bit, so both key codes are tracked individually.
type chordTracker struct {
	mu       sync.Mutex
	heldMods map[uint16]struct{}
	heldKeys []uint16 // press order, newest last
}

func newChordTracker() *chordTracker {
	return &chordTracker{heldMods: make(map[uint16]struct{})}
}

// handle applies one key event and returns the resulting chord. ok is false
// for events that do not change chord state (autorepeat, non-key types).
func (t *chordTracker) handle(code uint16, value int32) (domain.KeyChord, bool) {
	if value != 0 && value != 1 {
		return domain.KeyChord{}, false // autorepeat
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, isMod := modifierBits[code]; isMod {
		if value == 1 {
			t.heldMods[code] = struct{}{}
		} else {
			delete(t.heldMods, code)
		}
	} else {
		if value == 1 {
			t.heldKeys = append(t.heldKeys, code)
		} else {
			for i, held := range t.heldKeys {
				if held == code {
					t.heldKeys = append(t.heldKeys[:i], t.heldKeys[i+1:]...)
					break
				}
			}
		}
	}

	var chord domain.KeyChord
	for code := range t.heldMods {
		chord.Mods |= modifierBits[code]
	}
	if n := len(t.heldKeys); n > 0 {
		chord.Key = keyName(t.heldKeys[n-1])
	}
	return chord, true
}

// Config selects the devices to read.
type Config struct {
	// Devices is an explicit list of evdev device paths. Empty means
	// auto-discover keyboards under /dev/input/by-path.
	Devices []string
}

// EvdevSource implements ports.KeySource over one or more evdev devices.
type EvdevSource struct {
	cfg Config
	log zerolog.Logger
}

func NewEvdevSource(cfg Config, log zerolog.Logger) *EvdevSource {
	return &EvdevSource{cfg: cfg, log: log}
}

func discoverKeyboards() ([]string, error) {
	matches, err := filepath.Glob("/dev/input/by-path/*-event-kbd")
	if err != nil {
		return nil, fmt.Errorf("scan input devices: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no keyboard devices found under /dev/input/by-path")
	}
	return matches, nil
}

// Samples opens the configured devices and merges their key events into a
// single chord-sample stream. The channel closes once ctx ends and all
// device readers have stopped.
func (s *EvdevSource) Samples(ctx context.Context) (<-chan domain.KeySample, error) {
	devices := s.cfg.Devices
	if len(devices) == 0 {
		discovered, err := discoverKeyboards()
		if err != nil {
			return nil, err
		}
		devices = discovered
	}

	files := make([]*os.File, 0, len(devices))
	for _, path := range devices {
		f, err := os.Open(path)
		if err != nil {
			for _, opened := range files {
				opened.Close()
			}
			return nil, fmt.Errorf("open input device %q: %w", path, err)
		}
		files = append(files, f)
	}

	out := make(chan domain.KeySample, 64)
	tracker := newChordTracker()

	var wg sync.WaitGroup
	for _, f := range files {
		wg.Add(1)
		go s.readDevice(ctx, f, tracker, out, &wg)
	}

	// Closing the device files unblocks any reader stuck in a blocking read.
	go func() {
		<-ctx.Done()
		for _, f := range files {
			f.Close()
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	s.log.Info().Strs("devices", devices).Msg("keyboard sources opened")
	return out, nil
}

func (s *EvdevSource) readDevice(ctx context.Context, f *os.File, tracker *chordTracker, out chan<- domain.KeySample, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		var ev inputEvent
		if err := binary.Read(f, binary.LittleEndian, &ev); err != nil {
			if ctx.Err() == nil {
				s.log.Warn().Err(err).Str("device", f.Name()).Msg("input device read failed")
			}
			return
		}
		if ev.Type != evKey {
			continue
		}

		chord, ok := tracker.handle(ev.Code, ev.Value)
		if !ok {
			continue
		}

		select {
		case out <- domain.KeySample{Chord: chord, At: time.Now()}:
		default:
			// Consumer is behind; dropping a sample only delays the next
			// classification, it never corrupts chord state.
		}
	}
}
