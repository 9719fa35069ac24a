package telemetry

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Andria35/SmartRoom/pkg/broker"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// inline runs posted work immediately on the caller's goroutine.
func inline(fn func()) bool { fn(); return true }

// fakeSession is a synchronous stand-in for broker.Session.
type fakeSession struct {
	state     broker.State
	connects  int
	published [][]byte
	subs      []broker.Subscription
	listeners []func(broker.State)
}

func (f *fakeSession) Connect() {
	f.connects++
	if f.state.Phase == broker.Connecting || f.state.Phase == broker.Connected {
		return
	}
	f.set(broker.State{Phase: broker.Connecting})
}

func (f *fakeSession) Publish(_ string, payload []byte) {
	f.published = append(f.published, payload)
}

func (f *fakeSession) Subscribe(sub broker.Subscription) { f.subs = append(f.subs, sub) }

func (f *fakeSession) State() broker.State { return f.state }

func (f *fakeSession) OnStateChange(fn func(broker.State)) {
	f.listeners = append(f.listeners, fn)
}

func (f *fakeSession) set(st broker.State) {
	f.state = st
	for _, fn := range f.listeners {
		fn(st)
	}
}

// fakeClock records timers and fires them on demand.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) pending() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// fire runs every pending timer once.
func (c *fakeClock) fire() int {
	ts := c.pending()
	for _, t := range ts {
		t.fired = true
		t.f()
	}
	return len(ts)
}
