// Package sender delivers encoded chunks to the listening server.
//
// The Sender keeps at most one Session alive. When a session ends, for any
// reason other than shutdown, the Sender waits a fixed backoff and dials
// again, forever. Chunks produced while no session is streaming stay in the
// input channel and are simply read by the next session; nothing is replayed.
package sender

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glizzus/tau/internal/generator"
	"github.com/glizzus/tau/internal/shutdown"
	"github.com/glizzus/tau/internal/transport"
)

const (
	DefaultBackoff      = 50 * time.Millisecond
	DefaultPollInterval = 50 * time.Millisecond
)

type Options struct {
	// Backoff is the fixed wait after a failed attempt or a dropped session.
	Backoff time.Duration
	// PollInterval is how often the loop checks a live session.
	PollInterval time.Duration
	IDs          generator.Generator[string]
	OnState      StateFunc
	Logger       *slog.Logger
}

type Sender struct {
	dialer transport.Dialer
	creds  transport.Credentials
	in     <-chan []byte
	signal *shutdown.Signal

	backoff time.Duration
	poll    time.Duration
	ids     generator.Generator[string]
	onState StateFunc
	logger  *slog.Logger

	// connected is set by Run when a handshake succeeds and cleared by the
	// session goroutine when it ends.
	connected   atomic.Bool
	inputClosed atomic.Bool
	wg          sync.WaitGroup

	attempts atomic.Uint64
	sessions atomic.Uint64
	sent     atomic.Uint64
}

func New(dialer transport.Dialer, creds transport.Credentials, in <-chan []byte, signal *shutdown.Signal, opts Options) *Sender {
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.IDs == nil {
		opts.IDs = &generator.UUIDV4Generator{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Sender{
		dialer:  dialer,
		creds:   creds,
		in:      in,
		signal:  signal,
		backoff: opts.Backoff,
		poll:    opts.PollInterval,
		ids:     opts.IDs,
		onState: opts.OnState,
		logger:  opts.Logger.With(slog.String("component", "sender")),
	}
}

type Stats struct {
	Attempts   uint64
	Sessions   uint64
	ChunksSent uint64
}

func (s *Sender) Stats() Stats {
	return Stats{
		Attempts:   s.attempts.Load(),
		Sessions:   s.sessions.Load(),
		ChunksSent: s.sent.Load(),
	}
}

// Attempts returns the number of connection attempts made.
func (s *Sender) Attempts() uint64 { return s.attempts.Load() }

// Sessions returns the number of sessions that reached Authenticated.
func (s *Sender) Sessions() uint64 { return s.sessions.Load() }

// ChunksSent returns the number of chunks handed to a connection.
func (s *Sender) ChunksSent() uint64 { return s.sent.Load() }

// Connected reports whether a session is currently live.
func (s *Sender) Connected() bool { return s.connected.Load() }

// Run connects and reconnects until shutdown or until the chunk channel is
// closed, then waits for the live session to end.
func (s *Sender) Run() {
	ctx, cancel := s.signal.Context(context.Background())
	defer cancel()
	defer s.wg.Wait()

	for {
		if s.signal.Triggered() {
			s.logger.Debug("sender stopping")
			return
		}
		if s.inputClosed.Load() {
			s.logger.Info("no more chunks to send, sender stopping")
			return
		}

		if s.connected.Load() {
			if !s.sleep(s.poll) {
				return
			}
			if !s.connected.Load() && !s.inputClosed.Load() {
				// The session dropped; back off before redialling.
				if !s.sleep(s.backoff) {
					return
				}
			}
			continue
		}

		if !s.connect(ctx) {
			if !s.sleep(s.backoff) {
				return
			}
		}
	}
}

// connect makes one attempt and reports whether a session was started.
func (s *Sender) connect(ctx context.Context) bool {
	attempt := s.attempts.Add(1)
	id, err := s.ids.Next()
	if err != nil {
		id = "attempt-" + strconv.FormatUint(attempt, 10)
	}
	sess := newSession(id, attempt, s.onState, s.logger)
	sess.setState(Connecting)

	conn, err := s.dialer.Dial(ctx, s.creds)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, transport.ErrUnauthorized) {
			level = slog.LevelError
		}
		sess.logger.Log(ctx, level, "connection attempt failed, retrying",
			slog.Duration("backoff", s.backoff),
			slog.Any("error", err),
		)
		sess.setState(Closed)
		return false
	}

	sess.conn = conn
	sess.setState(Authenticated)
	s.sessions.Add(1)
	s.connected.Store(true)
	sess.logger.Info("connected")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.connected.Store(false)

		sent, err := sess.stream(s.in, s.signal)
		s.sent.Add(sent)
		switch {
		case errors.Is(err, errInputClosed):
			s.inputClosed.Store(true)
			sess.logger.Info("session ended, input closed", slog.Uint64("chunks", sent))
		case err != nil:
			sess.logger.Warn("session ended, reconnecting",
				slog.Uint64("chunks", sent),
				slog.Any("error", err),
			)
		default:
			sess.logger.Info("session closed", slog.Uint64("chunks", sent))
		}
	}()
	return true
}

// sleep waits for d and reports false if shutdown was signalled first.
func (s *Sender) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.signal.Done():
		return false
	case <-t.C:
		return true
	}
}
