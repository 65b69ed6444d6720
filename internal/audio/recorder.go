// Package audio captures microphone PCM with an ffmpeg subprocess, teeing it
// into a temporary WAV file and deriving instantaneous levels for metering.
package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"

	"talkey/internal/domain"
	"talkey/internal/ports"
)

// ErrCaptureActive is returned by Begin while a capture is running.
var ErrCaptureActive = errors.New("capture already active")

// ErrNoCapture is returned by End when nothing is being captured.
var ErrNoCapture = errors.New("no active capture")

// Config describes how the microphone should be captured.
type Config struct {
	Command     string // ffmpeg binary, overridable for tests
	InputFormat string
	InputDevice string
	SampleRate  int
	Channels    int
	TempDir     string
}

func (c *Config) applyDefaults() {
	if c.Command == "" {
		c.Command = "ffmpeg"
	}
	if c.InputFormat == "" {
		c.InputFormat = "pulse"
	}
	if c.InputDevice == "" {
		c.InputDevice = "default"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
}

// Recorder implements ports.Recorder with one ffmpeg process per capture.
type Recorder struct {
	cfg Config
	log zerolog.Logger

	mu     sync.Mutex
	active *capture
}

func NewRecorder(cfg Config, log zerolog.Logger) *Recorder {
	cfg.applyDefaults()
	return &Recorder{cfg: cfg, log: log}
}

// Begin spawns ffmpeg and starts draining PCM into a temporary WAV file.
func (r *Recorder) Begin(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return ErrCaptureActive
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", r.cfg.InputFormat,
		"-i", r.cfg.InputDevice,
		"-ac", strconv.Itoa(r.cfg.Channels),
		"-ar", strconv.Itoa(r.cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	cmd := exec.CommandContext(ctx, r.cfg.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create capture stdout pipe: %w", err)
	}

	file, err := os.CreateTemp(r.cfg.TempDir, "talkey-capture-*.wav")
	if err != nil {
		return fmt.Errorf("create temporary capture file: %w", err)
	}

	if err := cmd.Start(); err != nil {
		file.Close()
		os.Remove(file.Name())
		return fmt.Errorf("start capture process: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	// Give the process a moment to fail fast on a bad device.
	select {
	case err := <-waitErr:
		file.Close()
		os.Remove(file.Name())
		if err != nil {
			return fmt.Errorf("capture process exited early: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
		}
		return errors.New("capture process exited before producing audio")
	case <-time.After(250 * time.Millisecond):
	}

	c := &capture{
		process:  cmd.Process,
		stdout:   stdout,
		stderr:   &stderr,
		waitErr:  waitErr,
		file:     file,
		enc:      wav.NewEncoder(file, r.cfg.SampleRate, 16, r.cfg.Channels, 1),
		rate:     r.cfg.SampleRate,
		channels: r.cfg.Channels,
		readDone: make(chan struct{}),
	}
	go c.drain()

	r.active = c
	return nil
}

// End stops the active capture, finalizes the WAV file and reports its
// duration derived from the captured PCM.
func (r *Recorder) End() (ports.CaptureResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return ports.CaptureResult{}, ErrNoCapture
	}
	c := r.active
	r.active = nil

	if err := c.finish(); err != nil {
		os.Remove(c.file.Name())
		return ports.CaptureResult{}, err
	}
	return ports.CaptureResult{
		AudioPath: c.file.Name(),
		Duration:  c.duration(),
	}, nil
}

// Abort stops the active capture and discards its audio. A no-op when idle.
func (r *Recorder) Abort() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil
	}
	c := r.active
	r.active = nil

	err := c.finish()
	if rmErr := os.Remove(c.file.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
		err = rmErr
	}
	return err
}

// Level reports the level of the most recent PCM chunk, zero when idle.
func (r *Recorder) Level() domain.MeterLevel {
	r.mu.Lock()
	c := r.active
	r.mu.Unlock()
	if c == nil {
		return domain.MeterLevel{}
	}
	return c.currentLevel()
}

type capture struct {
	process *os.Process
	stdout  io.ReadCloser
	stderr  *bytes.Buffer
	waitErr <-chan error

	file     *os.File
	enc      *wav.Encoder
	rate     int
	channels int

	readDone chan struct{}
	readErr  error

	levelMu    sync.Mutex
	level      domain.MeterLevel
	frameCount int64

	finishOnce sync.Once
	finishErr  error
}

// drain copies PCM from the process into the WAV encoder and keeps the
// instantaneous level current.
func (c *capture) drain() {
	defer close(c.readDone)

	buf := make([]byte, 4096)
	ints := make([]int, len(buf)/2)
	for {
		n, err := c.stdout.Read(buf)
		if n > 0 {
			chunk := buf[:n&^1]
			samples := ints[:len(chunk)/2]
			var sumSquares float64
			var peak float64
			for i := range samples {
				s := int16(binary.LittleEndian.Uint16(chunk[2*i:]))
				samples[i] = int(s)
				v := math.Abs(float64(s)) / 32768
				sumSquares += v * v
				if v > peak {
					peak = v
				}
			}
			if len(samples) > 0 {
				avg := math.Sqrt(sumSquares / float64(len(samples)))
				c.levelMu.Lock()
				c.level = domain.MeterLevel{Average: avg, Peak: peak}
				c.frameCount += int64(len(samples) / c.channels)
				c.levelMu.Unlock()

				if encErr := c.enc.Write(&goaudio.IntBuffer{
					Format:         &goaudio.Format{NumChannels: c.channels, SampleRate: c.rate},
					Data:           samples,
					SourceBitDepth: 16,
				}); encErr != nil {
					c.readErr = encErr
					return
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				c.readErr = err
			}
			return
		}
	}
}

// finish interrupts the process, waits for it and closes out the WAV file.
func (c *capture) finish() error {
	c.finishOnce.Do(func() {
		if c.process != nil {
			_ = c.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-c.waitErr:
			if ok {
				c.finishErr = normalizeWaitErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if c.process != nil {
				_ = c.process.Kill()
			}
			if err, ok := <-c.waitErr; ok {
				c.finishErr = normalizeWaitErr(err)
			}
		}

		<-c.readDone
		if c.finishErr == nil {
			c.finishErr = c.readErr
		}

		if err := c.enc.Close(); err != nil && c.finishErr == nil {
			c.finishErr = fmt.Errorf("finalize wav: %w", err)
		}
		if err := c.file.Close(); err != nil && c.finishErr == nil {
			c.finishErr = err
		}

		if c.finishErr != nil && c.stderr.Len() > 0 {
			c.finishErr = fmt.Errorf("%w: %s", c.finishErr, bytes.TrimSpace(c.stderr.Bytes()))
		}
	})
	return c.finishErr
}

func (c *capture) duration() time.Duration {
	c.levelMu.Lock()
	defer c.levelMu.Unlock()
	if c.rate <= 0 {
		return 0
	}
	return time.Duration(float64(c.frameCount) / float64(c.rate) * float64(time.Second))
}

func (c *capture) currentLevel() domain.MeterLevel {
	c.levelMu.Lock()
	defer c.levelMu.Unlock()
	return c.level
}

// Interrupting ffmpeg is the normal stop path, so its exit status is noise.
func normalizeWaitErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
