package domain

import (
	"fmt"
	"strings"
	"time"
)

// Modifiers is a bitmask of held modifier keys.
type Modifiers uint8

const (
	ModCtrl Modifiers = 1 << iota
	ModShift
	ModAlt
	ModSuper
)

// SubsetOf reports whether every modifier in m is also set in other.
func (m Modifiers) SubsetOf(other Modifiers) bool {
	return m&^other == 0
}

func (m Modifiers) String() string {
	var parts []string
	if m&ModCtrl != 0 {
		parts = append(parts, "ctrl")
	}
	if m&ModShift != 0 {
		parts = append(parts, "shift")
	}
	if m&ModAlt != 0 {
		parts = append(parts, "alt")
	}
	if m&ModSuper != 0 {
		parts = append(parts, "super")
	}
	return strings.Join(parts, "+")
}

// KeyChord is the set of held modifiers plus at most one non-modifier key,
// sampled at an instant. Chords are transient and never stored.
type KeyChord struct {
	Key  string // symbolic key name, "" when no non-modifier key is held
	Mods Modifiers
}

// IsFullRelease reports whether nothing at all is held.
func (c KeyChord) IsFullRelease() bool {
	return c.Key == "" && c.Mods == 0
}

// KeySample is a key chord with the instant it was observed.
type KeySample struct {
	Chord KeyChord
	At    time.Time
}

// Hotkey is the user-configured chord that drives recording. It may be
// modifier-only (Key empty) or carry one concrete key.
type Hotkey struct {
	Key  string
	Mods Modifiers
}

func (h Hotkey) String() string {
	mods := h.Mods.String()
	switch {
	case mods == "":
		return h.Key
	case h.Key == "":
		return mods
	default:
		return mods + "+" + h.Key
	}
}

// ParseHotkey parses a chord spec such as "super", "ctrl+shift" or
// "super+alt+a" into a Hotkey. At most one non-modifier key is allowed.
func ParseHotkey(spec string) (Hotkey, error) {
	var hk Hotkey
	for _, tok := range strings.Split(strings.ToLower(strings.TrimSpace(spec)), "+") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		switch tok {
		case "ctrl", "control":
			hk.Mods |= ModCtrl
		case "shift":
			hk.Mods |= ModShift
		case "alt", "option", "meta":
			hk.Mods |= ModAlt
		case "super", "cmd", "win":
			hk.Mods |= ModSuper
		default:
			if hk.Key != "" {
				return Hotkey{}, fmt.Errorf("hotkey %q has more than one non-modifier key", spec)
			}
			hk.Key = tok
		}
	}
	if hk.Key == "" && hk.Mods == 0 {
		return Hotkey{}, fmt.Errorf("hotkey %q is empty", spec)
	}
	return hk, nil
}

// Intent is the high-level command a classified chord stream produces.
type Intent string

const (
	IntentNone           Intent = "none"
	IntentStartRecording Intent = "start_recording"
	IntentStopRecording  Intent = "stop_recording"
	IntentCancel         Intent = "cancel"
)

// SessionState models the recording lifecycle.
type SessionState string

const (
	SessionStateIdle         SessionState = "idle"
	SessionStatePendingStart SessionState = "pending_start"
	SessionStateRecording    SessionState = "recording"
	SessionStateTranscribing SessionState = "transcribing"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonStartPending        SessionStateReason = "start_pending"
	SessionReasonStartAbsorbed       SessionStateReason = "start_absorbed"
	SessionReasonRecordingStarted    SessionStateReason = "recording_started"
	SessionReasonRecordingDiscarded  SessionStateReason = "recording_discarded"
	SessionReasonTranscribing        SessionStateReason = "transcribing"
	SessionReasonTranscriptDelivered SessionStateReason = "transcript_delivered"
	SessionReasonNoTranscript        SessionStateReason = "no_transcript"
	SessionReasonCaptureFailed       SessionStateReason = "capture_failed"
	SessionReasonTranscriptionFailed SessionStateReason = "transcription_failed"
	SessionReasonCancelled           SessionStateReason = "cancelled"
)

// ErrorCode identifies non-fatal backend errors surfaced to the user.
type ErrorCode string

const (
	ErrorCodeCapture       ErrorCode = "capture"
	ErrorCodeTranscription ErrorCode = "transcription"
	ErrorCodeStorage       ErrorCode = "storage"
	ErrorCodeDelivery      ErrorCode = "delivery"
)

// SoundEffect identifies a lifecycle cue sound.
type SoundEffect string

const (
	SoundStart  SoundEffect = "start"
	SoundStop   SoundEffect = "stop"
	SoundPaste  SoundEffect = "paste"
	SoundCancel SoundEffect = "cancel"
)

// MeterLevel is an instantaneous audio level sample used for UI feedback.
type MeterLevel struct {
	Average float64 `json:"average"`
	Peak    float64 `json:"peak"`
}

// Transcript is a finalized transcription of one recording session.
type Transcript struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Text      string    `json:"text"`
	AudioPath string    `json:"audioPath"`
	Duration  float64   `json:"duration"` // seconds
}

// Status summarizes the current runtime status.
type Status struct {
	State     SessionState `json:"state"`
	Active    bool         `json:"active"`
	LastError string       `json:"lastError,omitempty"`
	Completed uint64       `json:"completed"`
	Failed    uint64       `json:"failed"`
}
