package pipeline

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// task is one spawned loop. A panic inside it becomes its error.
type task struct {
	name string
	done chan struct{}
	err  error
}

func spawn(logger *slog.Logger, name string, fn func() error) *task {
	t := &task{name: name, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		defer func() {
			if r := recover(); r != nil {
				t.err = fmt.Errorf("%s panicked: %v", name, r)
				logger.Error("loop panicked",
					slog.String("loop", name),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
			}
		}()
		t.err = fn()
	}()
	return t
}

func (t *task) join() error {
	<-t.done
	return t.err
}
