package ports

import (
	"context"
	"time"

	"talkey/internal/domain"
)

// CaptureResult describes a finished microphone capture.
type CaptureResult struct {
	AudioPath string        // temporary WAV file owned by the caller
	Duration  time.Duration // derived from captured PCM, 0 if unknown
}

// Recorder captures microphone audio, one session at a time.
type Recorder interface {
	// Begin starts a new capture. It fails if a capture is already active.
	Begin(ctx context.Context) error
	// End finalizes the active capture and hands back the audio file.
	End() (CaptureResult, error)
	// Abort stops the active capture and discards its audio. Aborting when
	// nothing is active is a no-op.
	Abort() error
	// Level reports the instantaneous level of the active capture.
	Level() domain.MeterLevel
}

// Transcriber converts a recorded audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, model string) (string, error)
}

// SleepToken releases a held sleep inhibition. Release is idempotent-safe.
type SleepToken interface {
	Release()
}

// SleepInhibitor blocks system idle/sleep while recording.
type SleepInhibitor interface {
	Acquire(ctx context.Context) (SleepToken, error)
}

// MediaController pauses and resumes external media players.
type MediaController interface {
	IsPlaying(ctx context.Context) (bool, error)
	// PauseAll pauses every playing player and returns their identifiers.
	PauseAll(ctx context.Context) ([]string, error)
	// Resume resumes exactly the given players.
	Resume(ctx context.Context, players []string) error
}

// SoundPlayer plays lifecycle cue sounds. Play never blocks the caller.
type SoundPlayer interface {
	Play(effect domain.SoundEffect)
}

// DeliveryTarget places transcribed text at the user's cursor or clipboard.
type DeliveryTarget interface {
	Deliver(ctx context.Context, text string) error
}

// AudioStore moves temporary capture files into permanent storage.
type AudioStore interface {
	// Persist moves a temporary audio file into permanent storage and
	// returns its new path.
	Persist(tempPath string, id string) (string, error)
	// Delete removes a stored or temporary audio file. Missing files are
	// not an error.
	Delete(path string) error
}

// TranscriptSink receives finalized transcripts, newest first.
type TranscriptSink interface {
	Insert(t domain.Transcript) error
}

// RulesEngine transforms transcripts using deterministic substitutions.
type RulesEngine interface {
	Apply(text string) (string, error)
}

// KeySource produces timestamped key-chord samples from the keyboard.
type KeySource interface {
	// Samples starts reading and returns a channel closed when ctx ends.
	Samples(ctx context.Context) (<-chan domain.KeySample, error)
}

// EventSink publishes orchestrator state and results to observers.
type EventSink interface {
	StateChanged(state domain.SessionState, reason domain.SessionStateReason)
	MeterLevel(level domain.MeterLevel)
	TranscriptFinalized(t domain.Transcript)
	SessionError(code domain.ErrorCode, detail string)
}
