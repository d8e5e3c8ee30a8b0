package sender

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/glizzus/tau/internal/shutdown"
	"github.com/glizzus/tau/internal/transport"
)

// State is the lifecycle position of a Session.
type State int

const (
	Disconnected State = iota
	Connecting
	Authenticated
	Streaming
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Authenticated:
		return "authenticated"
	case Streaming:
		return "streaming"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// errInputClosed ends a session when the upstream encoder has stopped.
var errInputClosed = errors.New("chunk channel closed")

// StateFunc observes session transitions. It is called from both the
// sender loop and session goroutines and must be safe for concurrent use.
type StateFunc func(sessionID string, state State)

// Session is one connection attempt and, if the handshake succeeds, the
// streaming lifetime of that connection.
type Session struct {
	id      string
	attempt uint64
	state   State
	conn    transport.Conn
	onState StateFunc
	logger  *slog.Logger
}

func newSession(id string, attempt uint64, onState StateFunc, logger *slog.Logger) *Session {
	return &Session{
		id:      id,
		attempt: attempt,
		state:   Disconnected,
		onState: onState,
		logger: logger.With(
			slog.String("session", id),
			slog.Uint64("attempt", attempt),
		),
	}
}

func (s *Session) ID() string   { return s.id }
func (s *Session) State() State { return s.state }

func (s *Session) setState(state State) {
	s.state = state
	s.logger.Debug("session state", slog.String("state", state.String()))
	if s.onState != nil {
		s.onState(s.id, state)
	}
}

// stream sends chunks in arrival order until a send fails, the input
// closes, or shutdown is signalled. It always closes the connection.
func (s *Session) stream(in <-chan []byte, signal *shutdown.Signal) (sent uint64, err error) {
	s.setState(Streaming)
	defer func() {
		if cerr := s.conn.Close(); cerr != nil {
			s.logger.Debug("close connection", slog.Any("error", cerr))
		}
		s.setState(Closed)
	}()

	for {
		select {
		case <-signal.Done():
			return sent, nil
		case chunk, ok := <-in:
			if !ok {
				return sent, errInputClosed
			}
			if err := s.conn.Send(chunk); err != nil {
				return sent, fmt.Errorf("send chunk: %w", err)
			}
			sent++
		}
	}
}
