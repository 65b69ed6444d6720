// Package daemon exposes the running session over a unix socket. The wire
// format is newline-delimited JSON: one Command in, one Response out, except
// for subscribe which turns the connection into an Event stream.
package daemon

import (
	"os"
	"path/filepath"

	"talkey/internal/domain"
)

// Command operations accepted by the daemon.
const (
	OpStatus    = "status"
	OpStart     = "start"
	OpStop      = "stop"
	OpCancel    = "cancel"
	OpToggle    = "toggle"
	OpList      = "list"
	OpDelete    = "delete"
	OpClear     = "clear"
	OpSubscribe = "subscribe"
)

// Command is one request line from a client.
type Command struct {
	Op    string `json:"op"`
	ID    string `json:"id,omitempty"`    // delete
	Limit int    `json:"limit,omitempty"` // list
}

// Response is the single reply line for a command.
type Response struct {
	OK          bool                `json:"ok"`
	Error       string              `json:"error,omitempty"`
	Status      *domain.Status      `json:"status,omitempty"`
	Transcripts []domain.Transcript `json:"transcripts,omitempty"`
	Removed     int                 `json:"removed,omitempty"`
}

// Event kinds published on a subscribed connection.
const (
	EventState      = "state"
	EventLevel      = "level"
	EventTranscript = "transcript"
	EventError      = "error"
)

// Event is one line of the subscription stream.
type Event struct {
	Kind       string                    `json:"kind"`
	State      domain.SessionState       `json:"state,omitempty"`
	Reason     domain.SessionStateReason `json:"reason,omitempty"`
	Level      *domain.MeterLevel        `json:"level,omitempty"`
	Transcript *domain.Transcript        `json:"transcript,omitempty"`
	Code       domain.ErrorCode          `json:"code,omitempty"`
	Detail     string                    `json:"detail,omitempty"`
}

// DefaultSocketPath resolves the control socket location.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "talkey.sock")
	}
	return filepath.Join(os.TempDir(), "talkey.sock")
}
