package services

import (
	"context"

	"github.com/rs/zerolog"
)

// Executor runs functions on the goroutine that owns room and game state.
type Executor interface {
	Post(fn func())
}

// Loop is the single event loop every state mutation goes through.
// Socket reads, timers and HTTP queries all post into it.
type Loop struct {
	tasks chan func()
	done  chan struct{}
	log   zerolog.Logger
}

func NewLoop(buffer int, log zerolog.Logger) *Loop {
	return &Loop{
		tasks: make(chan func(), buffer),
		done:  make(chan struct{}),
		log:   log.With().Str("component", "loop").Logger(),
	}
}

// Post queues fn. It is dropped once the loop has stopped.
func (l *Loop) Post(fn func()) {
	select {
	case l.tasks <- fn:
	case <-l.done:
	}
}

func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	l.log.Info().Msg("Event loop started")
	for {
		select {
		case <-ctx.Done():
			l.log.Info().Msg("Event loop stopped")
			return
		case fn := <-l.tasks:
			l.run(fn)
		}
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Interface("panic", r).Msg("Recovered from panic in event loop")
		}
	}()
	fn()
}

// await posts fn and blocks until it ran or ctx is done.
func await(ctx context.Context, exec Executor, fn func()) error {
	ran := make(chan struct{})
	exec.Post(func() {
		defer close(ran)
		fn()
	})
	select {
	case <-ran:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
