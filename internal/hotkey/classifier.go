// Package hotkey classifies raw key-chord samples into recording intents.
//
// The classifier distinguishes an accidental chord from a deliberate
// press-and-hold or a double-tap lock. It is purely deterministic given the
// sample stream, the supplied timestamps and the configured hotkey; it holds
// no I/O collaborators and never fails.
package hotkey

import (
	"sync"
	"time"

	"talkey/internal/domain"
)

const (
	doubleTapThreshold          = 300 * time.Millisecond
	pressAndHoldCancelThreshold = time.Second
)

// EscapeKey aborts any in-flight match and cancels the session.
const EscapeKey = "esc"

type chordState int

const (
	stateIdle chordState = iota
	statePressAndHold
	stateDoubleTapLock
)

// Classifier turns timestamped key-chord samples into intents.
//
// The hotkey may be swapped between samples; each Process call reads it once
// so a concurrent swap never produces a torn evaluation.
type Classifier struct {
	mu     sync.Mutex
	hotkey domain.Hotkey

	state     chordState
	heldSince time.Time

	lastRelease    time.Time
	hasLastRelease bool

	// dirty suppresses re-matching until a full release is observed, so a
	// chord excursion folding back onto the hotkey is not mistaken for a
	// fresh press.
	dirty bool
}

func NewClassifier(hk domain.Hotkey) *Classifier {
	return &Classifier{hotkey: hk}
}

// SetHotkey swaps the configured chord. Takes effect from the next sample.
func (c *Classifier) SetHotkey(hk domain.Hotkey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hotkey = hk
}

// Hotkey returns the currently configured chord.
func (c *Classifier) Hotkey() domain.Hotkey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hotkey
}

// Matched reports whether the classifier currently considers the hotkey
// engaged (held or locked).
func (c *Classifier) Matched() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != stateIdle
}

// Process evaluates one sample and returns at most one intent.
func (c *Classifier) Process(sample domain.KeyChord, now time.Time) domain.Intent {
	c.mu.Lock()
	defer c.mu.Unlock()

	hk := c.hotkey

	// Escape overrides everything, dirty flag included.
	if sample.Key == EscapeKey && c.state != stateIdle {
		c.state = stateIdle
		c.hasLastRelease = false
		return domain.IntentCancel
	}

	if c.dirty {
		if !sample.IsFullRelease() {
			return domain.IntentNone
		}
		c.dirty = false
		// The clearing sample is still evaluated normally below.
	}

	if sample.Key == hk.Key && sample.Mods == hk.Mods {
		switch c.state {
		case stateIdle:
			c.state = statePressAndHold
			c.heldSince = now
			return domain.IntentStartRecording
		case statePressAndHold:
			// Already matched; never start twice for one hold.
			return domain.IntentNone
		default: // stateDoubleTapLock
			// Pressing the hotkey again while locked stops it.
			c.state = stateIdle
			return domain.IntentStopRecording
		}
	}

	switch c.state {
	case stateIdle:
		c.markExcursion(sample, hk)
		return domain.IntentNone

	case statePressAndHold:
		if isHotkeyRelease(sample, hk) {
			if c.hasLastRelease && now.Sub(c.lastRelease) < doubleTapThreshold {
				// Second release within the threshold latches the lock.
				// Only releases enter the lock, never presses.
				c.state = stateDoubleTapLock
				return domain.IntentNone
			}
			c.state = stateIdle
			c.lastRelease = now
			c.hasLastRelease = true
			return domain.IntentStopRecording
		}
		if now.Sub(c.heldSince) < pressAndHoldCancelThreshold {
			// The chord changed shortly after matching: treat it as an
			// accidental chord and cancel the hold.
			c.dirty = true
			c.state = stateIdle
			return domain.IntentStopRecording
		}
		// A chord change after a long hold is deliberate. This includes a
		// partial modifier release, which keeps the hold engaged with no
		// output; recording continues until a clean release or escape.
		return domain.IntentNone

	default: // stateDoubleTapLock
		// Non-matching samples are ignored while locked.
		return domain.IntentNone
	}
}

// markExcursion flags chord shapes that must not fold back onto the hotkey
// without a genuine full release in between.
func (c *Classifier) markExcursion(sample domain.KeyChord, hk domain.Hotkey) {
	if !sample.Mods.SubsetOf(hk.Mods) {
		c.dirty = true
		return
	}
	if hk.Key != "" && sample.Key != "" && sample.Key != hk.Key {
		c.dirty = true
	}
}

// isHotkeyRelease reports whether the sample is a release for the active
// hotkey. With a concrete key configured the modifiers must match exactly;
// for a modifier-only hotkey any reduction toward empty counts.
func isHotkeyRelease(sample domain.KeyChord, hk domain.Hotkey) bool {
	if sample.Key != "" {
		return false
	}
	if hk.Key != "" {
		return sample.Mods == hk.Mods
	}
	return sample.Mods.SubsetOf(hk.Mods)
}
