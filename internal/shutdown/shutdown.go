// Package shutdown provides the cancellation token shared by every loop of
// the pipeline.
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Signal is a one-way flag. It starts unset, may be triggered any number of
// times, and is never reset. The zero value is not usable; call New.
type Signal struct {
	once sync.Once
	done chan struct{}
}

func New() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Trigger sets the signal. Calls after the first are no-ops.
func (s *Signal) Trigger() {
	s.once.Do(func() {
		close(s.done)
	})
}

// Triggered reports whether Trigger has been called.
func (s *Signal) Triggered() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed once the signal is triggered.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Context returns a child of parent that is cancelled when s is triggered,
// for handing the signal to context-aware APIs.
func (s *Signal) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// NotifyOnInterrupt triggers s when the process receives SIGINT or SIGTERM.
// The returned func stops listening for the signals.
func NotifyOnInterrupt(s *Signal) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)

	quit := make(chan struct{})
	go func() {
		select {
		case sig := <-ch:
			slog.Info("received signal, shutting down", slog.String("signal", sig.String()))
			s.Trigger()
		case <-quit:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(quit)
		})
	}
}
