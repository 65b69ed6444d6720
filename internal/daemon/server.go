package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/gen2brain/beeep"
	"github.com/rs/zerolog"

	"talkey/internal/domain"
	"talkey/internal/ports"
)

// SessionControl is the slice of the orchestrator the daemon drives.
type SessionControl interface {
	HandleIntent(intent domain.Intent)
	Cancel()
	Status() domain.Status
}

// History is the transcript store surface exposed to clients.
type History interface {
	List(limit int) ([]domain.Transcript, error)
	Delete(id string) (string, error)
	Clear() ([]string, error)
}

// ServerConfig configures the control socket.
type ServerConfig struct {
	SocketPath string
	// Notify raises a desktop notification for surfaced session errors.
	Notify bool
	// SubscriberBuffer is the per-subscriber event buffer. Slow subscribers
	// drop events once it fills.
	SubscriberBuffer int
}

// Server accepts control connections and fans out session events. It is
// also the orchestrator's EventSink, so it is built before the orchestrator
// and attached afterwards.
type Server struct {
	cfg     ServerConfig
	log     zerolog.Logger
	history History
	audio   ports.AudioStore

	mu          sync.Mutex
	control     SessionControl
	subscribers map[*subscriber]struct{}
}

type subscriber struct {
	events chan Event
}

var _ ports.EventSink = (*Server)(nil)

func NewServer(cfg ServerConfig, history History, audio ports.AudioStore, log zerolog.Logger) *Server {
	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultSocketPath()
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = 64
	}
	return &Server{
		cfg:         cfg,
		log:         log,
		history:     history,
		audio:       audio,
		subscribers: make(map[*subscriber]struct{}),
	}
}

// Attach wires the orchestrator in after construction.
func (s *Server) Attach(control SessionControl) {
	s.mu.Lock()
	s.control = control
	s.mu.Unlock()
}

// Serve listens on the unix socket until ctx ends. The socket file is
// removed on shutdown.
func (s *Server) Serve(ctx context.Context) error {
	// A stale socket from an unclean shutdown blocks the bind.
	if err := os.Remove(s.cfg.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on %q: %w", s.cfg.SocketPath, err)
	}

	go func() {
		<-ctx.Done()
		listener.Close()
		os.Remove(s.cfg.SocketPath)
	}()

	s.log.Info().Str("socket", s.cfg.SocketPath).Msg("control socket ready")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		var cmd Command
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			encoder.Encode(Response{Error: fmt.Sprintf("malformed command: %v", err)})
			return
		}

		if cmd.Op == OpSubscribe {
			s.streamEvents(ctx, conn, encoder)
			return
		}

		resp := s.execute(cmd)
		if err := encoder.Encode(resp); err != nil {
			return
		}
	}
}

func (s *Server) execute(cmd Command) Response {
	control := s.attachedControl()
	if control == nil {
		return Response{Error: "daemon not ready"}
	}

	switch cmd.Op {
	case OpStatus:
		status := control.Status()
		return Response{OK: true, Status: &status}

	case OpStart:
		control.HandleIntent(domain.IntentStartRecording)
		return s.statusResponse(control)

	case OpStop:
		control.HandleIntent(domain.IntentStopRecording)
		return s.statusResponse(control)

	case OpCancel:
		control.Cancel()
		return s.statusResponse(control)

	case OpToggle:
		status := control.Status()
		if status.State == domain.SessionStateRecording || status.State == domain.SessionStatePendingStart {
			control.HandleIntent(domain.IntentStopRecording)
		} else {
			control.HandleIntent(domain.IntentStartRecording)
		}
		return s.statusResponse(control)

	case OpList:
		transcripts, err := s.history.List(cmd.Limit)
		if err != nil {
			return Response{Error: err.Error()}
		}
		return Response{OK: true, Transcripts: transcripts}

	case OpDelete:
		audioPath, err := s.history.Delete(cmd.ID)
		if err != nil {
			return Response{Error: err.Error()}
		}
		if audioPath != "" {
			if err := s.audio.Delete(audioPath); err != nil {
				s.log.Warn().Err(err).Str("path", audioPath).Msg("audio delete failed")
			}
		}
		return Response{OK: true, Removed: 1}

	case OpClear:
		audioPaths, err := s.history.Clear()
		if err != nil {
			return Response{Error: err.Error()}
		}
		for _, path := range audioPaths {
			if path == "" {
				continue
			}
			if err := s.audio.Delete(path); err != nil {
				s.log.Warn().Err(err).Str("path", path).Msg("audio delete failed")
			}
		}
		return Response{OK: true, Removed: len(audioPaths)}

	default:
		return Response{Error: fmt.Sprintf("unknown op %q", cmd.Op)}
	}
}

func (s *Server) statusResponse(control SessionControl) Response {
	status := control.Status()
	return Response{OK: true, Status: &status}
}

func (s *Server) attachedControl() SessionControl {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.control
}

func (s *Server) streamEvents(ctx context.Context, conn net.Conn, encoder *json.Encoder) {
	sub := &subscriber{events: make(chan Event, s.cfg.SubscriberBuffer)}

	// Register before acknowledging so no event published after the client
	// sees the OK can be missed.
	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.subscribers, sub)
		s.mu.Unlock()
	}()

	if err := encoder.Encode(Response{OK: true}); err != nil {
		return
	}

	// Detect the client going away; reads return only on disconnect because
	// subscribed clients never send again.
	readerGone := make(chan struct{})
	go func() {
		io := make([]byte, 1)
		conn.Read(io)
		close(readerGone)
	}()

	for {
		select {
		case ev := <-sub.events:
			if err := encoder.Encode(ev); err != nil {
				return
			}
		case <-readerGone:
			return
		case <-ctx.Done():
			return
		}
	}
}

// broadcast delivers an event to every subscriber, dropping it for those
// whose buffers are full.
func (s *Server) broadcast(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subscribers {
		select {
		case sub.events <- ev:
		default:
		}
	}
}

func (s *Server) StateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	s.broadcast(Event{Kind: EventState, State: state, Reason: reason})
}

func (s *Server) MeterLevel(level domain.MeterLevel) {
	s.broadcast(Event{Kind: EventLevel, Level: &level})
}

func (s *Server) TranscriptFinalized(t domain.Transcript) {
	s.broadcast(Event{Kind: EventTranscript, Transcript: &t})
}

func (s *Server) SessionError(code domain.ErrorCode, detail string) {
	s.broadcast(Event{Kind: EventError, Code: code, Detail: detail})
	if s.cfg.Notify {
		go func() {
			if err := beeep.Notify("talkey", detail, ""); err != nil {
				s.log.Debug().Err(err).Msg("desktop notification failed")
			}
		}()
	}
}
