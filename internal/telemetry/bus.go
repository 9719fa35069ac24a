package telemetry

import (
	"sync"
	"time"

	"github.com/Andria35/SmartRoom/internal/model"
	"github.com/Andria35/SmartRoom/pkg/broker"
)

// EventKind says which field of an Event is meaningful.
type EventKind string

const (
	// KindState carries a new broker connection state.
	KindState EventKind = "state"
	// KindSnapshot carries a newly decoded inbound snapshot.
	KindSnapshot EventKind = "snapshot"
	// KindStatus carries a new subscription status string.
	KindStatus EventKind = "status"
	// KindPublishing carries a change of publishing intent.
	KindPublishing EventKind = "publishing"
)

// Event is a typed state-change notification.
type Event struct {
	Timestamp  time.Time            `json:"ts"`
	Kind       EventKind            `json:"kind"`
	State      broker.State         `json:"state"`
	Snapshot   model.SensorSnapshot `json:"snapshot"`
	Status     string               `json:"status,omitempty"`
	Publishing bool                 `json:"publishing,omitempty"`
}

// Bus is a non-blocking broadcast bus. Slow subscribers miss events
// rather than stalling the loop. Publish on a nil *Bus is a no-op.
type Bus struct {
	mu         sync.RWMutex
	subs       map[chan Event]struct{}
	recvToSend map[<-chan Event]chan Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish delivers e to every subscriber with buffer room.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel of future events. Callers must
// Unsubscribe when done.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes and closes ch. Unknown channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
