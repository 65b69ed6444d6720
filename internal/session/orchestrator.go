// Package session sequences the record, transcribe, deliver lifecycle as a
// single serialized state machine reacting to intents, timers and
// asynchronous completions.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"talkey/internal/domain"
	"talkey/internal/ports"
)

// Config fixes the orchestrator timings at construction.
type Config struct {
	DebounceDelay time.Duration // matched press to actual capture start
	MinDuration   time.Duration // captures shorter than this are discarded
	MeterInterval time.Duration // level sampler cadence
	QueueSize     int
}

func (c *Config) applyDefaults() {
	if c.DebounceDelay <= 0 {
		c.DebounceDelay = 200 * time.Millisecond
	}
	if c.MinDuration <= 0 {
		c.MinDuration = 200 * time.Millisecond
	}
	if c.MeterInterval <= 0 {
		c.MeterInterval = 100 * time.Millisecond
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
}

// Settings are the user preferences read at each use point, so a config
// reload applies from the next session.
type Settings struct {
	Model        string
	InhibitSleep bool
	PauseMedia   bool
}

// Orchestrator drives one recording session at a time. All state transitions
// happen on a single goroutine consuming an event queue; public entry points
// only enqueue. Long-running work runs in spawned tasks that report back
// through the same queue.
type Orchestrator struct {
	recorder    ports.Recorder
	transcriber ports.Transcriber
	sleep       ports.SleepInhibitor
	media       ports.MediaController
	sounds      ports.SoundPlayer
	delivery    ports.DeliveryTarget
	audio       ports.AudioStore
	transcripts ports.TranscriptSink
	rules       ports.RulesEngine
	events      ports.EventSink
	cfg         Config
	log         zerolog.Logger
	now         func() time.Time

	queue chan event
	done  chan struct{}

	settingsMu sync.Mutex
	settings   Settings

	// effects tracks spawned cleanup work (aborts, releases, resumes,
	// deletes) so shutdown can wait for it to settle.
	effects sync.WaitGroup

	// Reducer-owned state, touched only from the run loop.
	state     domain.SessionState
	startedAt time.Time
	// gen invalidates outstanding async work: every event carries the gen
	// it was spawned under and stale events only clean up after themselves.
	gen uint64
	// beginPending is set between spawning the capture start task and its
	// captureBegun report. A stop that lands in that window is recorded in
	// stopPending/stopAt and decided once the recorder is actually up, so
	// End is never called on a capture that has not begun.
	beginPending     bool
	stopPending      bool
	stopAt           time.Time
	debounce         *time.Timer
	meterCancel      context.CancelFunc
	transcribeCancel context.CancelFunc
	sleepToken       ports.SleepToken
	paused           []string
	lastError        string
	completed        uint64
	failed           uint64

	statusMu sync.Mutex
	status   domain.Status
}

// Deps bundles the collaborators an orchestrator drives.
type Deps struct {
	Recorder    ports.Recorder
	Transcriber ports.Transcriber
	Sleep       ports.SleepInhibitor
	Media       ports.MediaController
	Sounds      ports.SoundPlayer
	Delivery    ports.DeliveryTarget
	Audio       ports.AudioStore
	Transcripts ports.TranscriptSink
	Rules       ports.RulesEngine
	Events      ports.EventSink
}

func NewOrchestrator(deps Deps, settings Settings, cfg Config, log zerolog.Logger) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		recorder:    deps.Recorder,
		transcriber: deps.Transcriber,
		sleep:       deps.Sleep,
		media:       deps.Media,
		sounds:      deps.Sounds,
		delivery:    deps.Delivery,
		audio:       deps.Audio,
		transcripts: deps.Transcripts,
		rules:       deps.Rules,
		events:      deps.Events,
		cfg:         cfg,
		log:         log,
		now:         time.Now,
		queue:       make(chan event, cfg.QueueSize),
		done:        make(chan struct{}),
		state:       domain.SessionStateIdle,
		settings:    settings,
		status:      domain.Status{State: domain.SessionStateIdle},
	}
}

// UpdateSettings swaps the user preferences. Applies from the next use point.
func (o *Orchestrator) UpdateSettings(s Settings) {
	o.settingsMu.Lock()
	defer o.settingsMu.Unlock()
	o.settings = s
}

func (o *Orchestrator) currentSettings() Settings {
	o.settingsMu.Lock()
	defer o.settingsMu.Unlock()
	return o.settings
}

// HandleIntent enqueues a classified intent.
func (o *Orchestrator) HandleIntent(intent domain.Intent) {
	if intent == domain.IntentNone {
		return
	}
	o.enqueue(intentEvent{intent: intent})
}

// Cancel enqueues an explicit cancel request. A no-op while idle.
func (o *Orchestrator) Cancel() {
	o.enqueue(intentEvent{intent: domain.IntentCancel})
}

// Status returns a snapshot of the current runtime status.
func (o *Orchestrator) Status() domain.Status {
	o.statusMu.Lock()
	defer o.statusMu.Unlock()
	return o.status
}

// Run consumes the event queue until ctx ends. Any active session is
// cancelled on the way out, and Run returns only after the spawned cleanup
// work (inhibition release, media resume, capture abort) has settled.
func (o *Orchestrator) Run(ctx context.Context) {
	defer close(o.done)
	for {
		select {
		case <-ctx.Done():
			o.cancelActive()
			o.settle()
			return
		case ev := <-o.queue:
			o.handle(ev)
		}
	}
}

// settle waits out the in-flight task chains and processes their late
// completion events, which cancelActive has already made stale, so the
// resources they carry (capture, inhibition token, paused players) are
// released before Run returns. Intents still in the queue are discarded.
func (o *Orchestrator) settle() {
	for {
		o.effects.Wait()
		select {
		case ev := <-o.queue:
			switch ev := ev.(type) {
			case captureBegun:
				o.onCaptureBegun(ev)
			case transcriptionDone:
				o.onTranscriptionDone(ev)
			}
		default:
			return
		}
	}
}

// Done is closed once Run has exited and its cleanup has settled.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// spawn runs cleanup work that shutdown must wait for.
func (o *Orchestrator) spawn(fn func()) {
	o.effects.Add(1)
	go func() {
		defer o.effects.Done()
		fn()
	}()
}

func (o *Orchestrator) enqueue(ev event) {
	select {
	case o.queue <- ev:
	case <-o.done:
	}
}

func (o *Orchestrator) handle(ev event) {
	switch ev := ev.(type) {
	case intentEvent:
		switch ev.intent {
		case domain.IntentStartRecording:
			o.onStartIntent()
		case domain.IntentStopRecording:
			o.onStopIntent()
		case domain.IntentCancel:
			o.cancelActive()
		}
	case debounceElapsed:
		if ev.gen == o.gen && o.state == domain.SessionStatePendingStart {
			o.beginCapture()
		}
	case captureBegun:
		o.onCaptureBegun(ev)
	case transcriptionDone:
		o.onTranscriptionDone(ev)
	}
}

func (o *Orchestrator) onStartIntent() {
	switch o.state {
	case domain.SessionStateIdle:
		o.armDebounce()
	case domain.SessionStatePendingStart:
		// Re-entrant start re-arms the debounce window.
		o.stopDebounce()
		o.armDebounce()
	case domain.SessionStateRecording:
		// Already capturing; nothing to start.
	case domain.SessionStateTranscribing:
		// Starting a new capture supersedes the in-flight transcription.
		o.cancelTranscription()
		o.armDebounce()
	}
}

func (o *Orchestrator) onStopIntent() {
	switch o.state {
	case domain.SessionStatePendingStart:
		// No capture ever began; nothing to stop.
		o.stopDebounce()
		o.setState(domain.SessionStateIdle, domain.SessionReasonStartAbsorbed)
	case domain.SessionStateRecording:
		if o.beginPending {
			// The recorder is still spinning up; remember when the stop
			// landed and decide once captureBegun reports back.
			o.stopPending = true
			o.stopAt = o.now()
			return
		}
		o.finishCapture(o.now())
	}
}

func (o *Orchestrator) armDebounce() {
	o.gen++
	gen := o.gen
	o.debounce = time.AfterFunc(o.cfg.DebounceDelay, func() {
		o.enqueue(debounceElapsed{gen: gen})
	})
	o.setState(domain.SessionStatePendingStart, domain.SessionReasonStartPending)
}

func (o *Orchestrator) stopDebounce() {
	if o.debounce != nil {
		o.debounce.Stop()
		o.debounce = nil
	}
}

// beginCapture transitions into Recording and spawns the capture start task.
// The task also acquires the sleep inhibition and pauses external media so
// the reducer never blocks on D-Bus or the recorder process.
func (o *Orchestrator) beginCapture() {
	o.stopDebounce()
	o.startedAt = o.now()
	o.beginPending = true
	o.stopPending = false
	o.setState(domain.SessionStateRecording, domain.SessionReasonRecordingStarted)

	gen := o.gen
	set := o.currentSettings()
	o.spawn(func() {
		ctx := context.Background()
		ev := captureBegun{gen: gen}
		ev.err = o.recorder.Begin(ctx)
		if ev.err == nil {
			if set.InhibitSleep {
				token, err := o.sleep.Acquire(ctx)
				if err != nil {
					o.log.Warn().Err(err).Msg("sleep inhibition unavailable")
				} else {
					ev.token = token
				}
			}
			if set.PauseMedia {
				if playing, err := o.media.IsPlaying(ctx); err != nil {
					o.log.Warn().Err(err).Msg("media playback query failed")
				} else if playing {
					paused, err := o.media.PauseAll(ctx)
					if err != nil {
						o.log.Warn().Err(err).Msg("media pause failed")
					}
					ev.paused = paused
				}
			}
			o.sounds.Play(domain.SoundStart)
		}
		o.enqueue(ev)
	})
}

func (o *Orchestrator) onCaptureBegun(ev captureBegun) {
	if ev.gen != o.gen || o.state != domain.SessionStateRecording {
		// The session was cancelled or superseded while the recorder was
		// spinning up (a plain stop is deferred via stopPending, so it never
		// lands here). Undo the side effects this task acquired and abort
		// the capture it started.
		if ev.token != nil {
			o.spawn(ev.token.Release)
		}
		if len(ev.paused) > 0 {
			paused := ev.paused
			o.spawn(func() {
				if err := o.media.Resume(context.Background(), paused); err != nil {
					o.log.Warn().Err(err).Msg("media resume failed")
				}
			})
		}
		if ev.err == nil && ev.gen != o.gen {
			o.spawn(func() {
				if err := o.recorder.Abort(); err != nil {
					o.log.Warn().Err(err).Msg("abort of stale capture failed")
				}
			})
		}
		return
	}

	o.beginPending = false

	if ev.err != nil {
		o.stopPending = false
		o.log.Error().Err(ev.err).Msg("capture failed to start")
		o.events.SessionError(domain.ErrorCodeCapture, fmt.Sprintf("could not start recording: %v", ev.err))
		o.surfaceError(fmt.Sprintf("could not start recording: %v", ev.err))
		o.sounds.Play(domain.SoundCancel)
		o.failed++
		o.gen++
		o.setState(domain.SessionStateIdle, domain.SessionReasonCaptureFailed)
		return
	}

	o.sleepToken = ev.token
	o.paused = ev.paused

	if o.stopPending {
		// A stop landed while the recorder was spinning up; finish the
		// session now as of the moment the user actually released.
		o.stopPending = false
		o.finishCapture(o.stopAt)
		return
	}
	o.startMetering()
}

// finishCapture ends a session whose capture has begun. The minimum-duration
// decision is made from the moment the stop landed; ending the capture and
// transcribing happen in a spawned task chain. Only called once captureBegun
// has been processed, so the recorder is guaranteed to be active.
func (o *Orchestrator) finishCapture(stoppedAt time.Time) {
	o.stopMetering()
	// Release the inhibition and resume media unconditionally, even if the
	// settings changed mid-session, so neither is ever leaked.
	o.releaseSleep()
	o.resumeMedia()

	elapsed := stoppedAt.Sub(o.startedAt)
	if elapsed < o.cfg.MinDuration {
		o.spawn(func() {
			res, err := o.recorder.End()
			if err != nil {
				o.log.Warn().Err(err).Msg("end of short capture failed")
				return
			}
			if err := o.audio.Delete(res.AudioPath); err != nil {
				o.log.Warn().Err(err).Str("path", res.AudioPath).Msg("discard of short capture failed")
			}
		})
		o.setState(domain.SessionStateIdle, domain.SessionReasonRecordingDiscarded)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.transcribeCancel = cancel
	o.setState(domain.SessionStateTranscribing, domain.SessionReasonTranscribing)
	o.sounds.Play(domain.SoundStop)
	gen := o.gen
	model := o.currentSettings().Model
	o.spawn(func() { o.transcribeCaptured(ctx, gen, model, elapsed) })
}

// transcribeCaptured is the async chain: end capture, transcribe, persist.
// Every outcome is reported back into the queue as one transcriptionDone.
func (o *Orchestrator) transcribeCaptured(ctx context.Context, gen uint64, model string, elapsed time.Duration) {
	res, err := o.recorder.End()
	if err != nil {
		o.enqueue(transcriptionDone{gen: gen, err: fmt.Errorf("end capture: %w", err)})
		return
	}
	if res.Duration > 0 {
		elapsed = res.Duration
	}

	text, err := o.transcriber.Transcribe(ctx, res.AudioPath, model)
	if err != nil {
		if derr := o.audio.Delete(res.AudioPath); derr != nil {
			o.log.Warn().Err(derr).Msg("cleanup of failed capture audio failed")
		}
		o.enqueue(transcriptionDone{gen: gen, err: err})
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		if derr := o.audio.Delete(res.AudioPath); derr != nil {
			o.log.Warn().Err(derr).Msg("cleanup of empty capture audio failed")
		}
		o.enqueue(transcriptionDone{gen: gen, duration: elapsed})
		return
	}

	if o.rules != nil {
		transformed, rerr := o.rules.Apply(text)
		if rerr != nil {
			o.log.Warn().Err(rerr).Msg("substitution rules failed, using raw transcript")
		} else {
			text = transformed
		}
	}

	id := uuid.NewString()
	perm, err := o.audio.Persist(res.AudioPath, id)
	if err != nil {
		// The transcript cannot be finalized without its audio reference.
		if derr := o.audio.Delete(res.AudioPath); derr != nil {
			o.log.Warn().Err(derr).Msg("cleanup of unpersisted audio failed")
		}
		o.enqueue(transcriptionDone{gen: gen, err: fmt.Errorf("persist audio: %w", err), storage: true})
		return
	}

	o.enqueue(transcriptionDone{gen: gen, id: id, text: text, audioPath: perm, duration: elapsed})
}

func (o *Orchestrator) onTranscriptionDone(ev transcriptionDone) {
	if ev.gen != o.gen {
		// Cancelled or superseded; drop any audio the chain persisted.
		if ev.audioPath != "" {
			path := ev.audioPath
			o.spawn(func() {
				if err := o.audio.Delete(path); err != nil {
					o.log.Warn().Err(err).Msg("cleanup of stale transcription audio failed")
				}
			})
		}
		return
	}
	o.clearTranscribeHandle()

	if ev.err != nil {
		code := domain.ErrorCodeTranscription
		if ev.storage {
			code = domain.ErrorCodeStorage
		}
		msg := fmt.Sprintf("transcription failed: %v", ev.err)
		o.log.Error().Err(ev.err).Msg("transcription failed")
		o.events.SessionError(code, msg)
		o.surfaceError(msg)
		o.sounds.Play(domain.SoundCancel)
		o.failed++
		o.gen++
		o.setState(domain.SessionStateIdle, domain.SessionReasonTranscriptionFailed)
		return
	}

	if ev.text == "" {
		o.gen++
		o.setState(domain.SessionStateIdle, domain.SessionReasonNoTranscript)
		return
	}

	rec := domain.Transcript{
		ID:        ev.id,
		CreatedAt: o.now(),
		Text:      ev.text,
		AudioPath: ev.audioPath,
		Duration:  ev.duration.Seconds(),
	}
	if err := o.transcripts.Insert(rec); err != nil {
		msg := fmt.Sprintf("could not store transcript: %v", err)
		o.log.Error().Err(err).Msg("transcript insert failed")
		o.events.SessionError(domain.ErrorCodeStorage, msg)
		o.surfaceError(msg)
		o.sounds.Play(domain.SoundCancel)
		o.failed++
		o.gen++
		path := ev.audioPath
		o.spawn(func() {
			if derr := o.audio.Delete(path); derr != nil {
				o.log.Warn().Err(derr).Msg("cleanup of unstored transcript audio failed")
			}
		})
		o.setState(domain.SessionStateIdle, domain.SessionReasonTranscriptionFailed)
		return
	}

	go func() {
		if err := o.delivery.Deliver(context.Background(), rec.Text); err != nil {
			o.log.Error().Err(err).Msg("text delivery failed")
			o.events.SessionError(domain.ErrorCodeDelivery, "transcript ready but delivery failed")
		}
	}()

	o.sounds.Play(domain.SoundPaste)
	o.events.TranscriptFinalized(rec)
	o.surfaceError("")
	o.completed++
	o.gen++
	o.setState(domain.SessionStateIdle, domain.SessionReasonTranscriptDelivered)
}

// cancelActive aborts whatever is in flight and returns to Idle. Cancelling
// while idle is a no-op.
func (o *Orchestrator) cancelActive() {
	if o.state == domain.SessionStateIdle {
		return
	}

	o.stopDebounce()
	o.stopMetering()
	o.cancelTranscription()
	// While the begin task is still in flight the capture is aborted by the
	// stale captureBegun branch instead, which sees the bumped gen.
	if o.state == domain.SessionStateRecording && !o.beginPending {
		o.spawn(func() {
			if err := o.recorder.Abort(); err != nil {
				o.log.Warn().Err(err).Msg("capture abort failed")
			}
		})
	}
	o.beginPending = false
	o.stopPending = false
	o.releaseSleep()
	o.resumeMedia()
	o.gen++
	o.sounds.Play(domain.SoundCancel)
	o.setState(domain.SessionStateIdle, domain.SessionReasonCancelled)
}

// startMetering spawns the periodic level sampler. It has its own
// cancellation handle, independent of the transcription domain.
func (o *Orchestrator) startMetering() {
	ctx, cancel := context.WithCancel(context.Background())
	o.meterCancel = cancel
	go func() {
		ticker := time.NewTicker(o.cfg.MeterInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.events.MeterLevel(o.recorder.Level())
			}
		}
	}()
}

func (o *Orchestrator) stopMetering() {
	if o.meterCancel != nil {
		o.meterCancel()
		o.meterCancel = nil
	}
}

// cancelTranscription cancels the in-flight transcription chain and bumps
// gen so its completion event is treated as stale.
func (o *Orchestrator) cancelTranscription() {
	if o.transcribeCancel != nil {
		o.transcribeCancel()
		o.transcribeCancel = nil
		o.gen++
	}
}

func (o *Orchestrator) clearTranscribeHandle() {
	if o.transcribeCancel != nil {
		o.transcribeCancel()
		o.transcribeCancel = nil
	}
}

func (o *Orchestrator) releaseSleep() {
	if o.sleepToken != nil {
		token := o.sleepToken
		o.sleepToken = nil
		o.spawn(token.Release)
	}
}

func (o *Orchestrator) resumeMedia() {
	if len(o.paused) == 0 {
		return
	}
	paused := o.paused
	o.paused = nil
	o.spawn(func() {
		if err := o.media.Resume(context.Background(), paused); err != nil {
			o.log.Warn().Err(err).Msg("media resume failed")
		}
	})
}

func (o *Orchestrator) surfaceError(msg string) {
	o.lastError = msg
}

func (o *Orchestrator) setState(state domain.SessionState, reason domain.SessionStateReason) {
	o.state = state
	o.statusMu.Lock()
	o.status = domain.Status{
		State:     state,
		Active:    state != domain.SessionStateIdle,
		LastError: o.lastError,
		Completed: o.completed,
		Failed:    o.failed,
	}
	o.statusMu.Unlock()
	o.log.Debug().Str("state", string(state)).Str("reason", string(reason)).Msg("session state changed")
	o.events.StateChanged(state, reason)
}
