package session

import (
	"time"

	"talkey/internal/domain"
	"talkey/internal/ports"
)

// event is a queue entry for the orchestrator's run loop. Every async task
// reports back as exactly one event carrying the generation it was spawned
// under.
type event interface{}

type intentEvent struct {
	intent domain.Intent
}

type debounceElapsed struct {
	gen uint64
}

// captureBegun reports the capture start task, including the side effects it
// acquired so a stale arrival can undo them.
type captureBegun struct {
	gen    uint64
	token  ports.SleepToken
	paused []string
	err    error
}

// transcriptionDone reports the end-capture/transcribe/persist chain.
type transcriptionDone struct {
	gen       uint64
	id        string
	text      string
	audioPath string // permanent audio path, "" when nothing was persisted
	duration  time.Duration
	err       error
	storage   bool // err originated in storage rather than transcription
}
