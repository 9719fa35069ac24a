// Package telemetry coordinates the publish and subscribe sides of the
// room telemetry feed. All coordinator state (broker session, publishing
// intent, subscription status) is owned by a single Loop goroutine;
// network completions and timer wakeups are posted to it as closures.
package telemetry

import (
	"context"
	"errors"
	"sync"
)

// ErrLoopStopped is returned by Call once the loop is no longer running.
var ErrLoopStopped = errors.New("telemetry: loop stopped")

const defaultMailbox = 256

// Loop runs posted closures one at a time on the goroutine calling Run.
type Loop struct {
	mailbox  chan func()
	done     chan struct{}
	stopOnce sync.Once
}

// NewLoop returns a loop with the given mailbox capacity.
func NewLoop(size int) *Loop {
	if size <= 0 {
		size = defaultMailbox
	}
	return &Loop{
		mailbox: make(chan func(), size),
		done:    make(chan struct{}),
	}
}

// Run drains the mailbox until ctx is cancelled. It must be called once.
func (l *Loop) Run(ctx context.Context) error {
	defer l.stopOnce.Do(func() { close(l.done) })
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.mailbox:
			fn()
		}
	}
}

// Post enqueues fn. It returns false when the loop has stopped and fn
// will never run. Post must not be called from the loop goroutine while
// the mailbox may be full.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.mailbox <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Call runs fn on the loop and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		fn()
		close(finished)
	}) {
		return ErrLoopStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrLoopStopped
		}
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }
