package broker

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// fakeToken is an mqtt.Token completed by the test.
type fakeToken struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newToken() *fakeToken { return &fakeToken{done: make(chan struct{})} }

func doneToken(err error) *fakeToken {
	t := newToken()
	t.complete(err)
	return t
}

func (t *fakeToken) complete(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

func (t *fakeToken) Wait() bool { <-t.done; return true }

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type publishCall struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	mu          sync.Mutex
	connects    int
	disconnects int
	connectTok  *fakeToken
	publishes   []publishCall
	publishErr  error
	subscribed  []string
	handlers    map[string]mqtt.MessageHandler
	subErr      error
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: map[string]mqtt.MessageHandler{}}
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	c.connectTok = newToken()
	return c.connectTok
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnects++
	c.mu.Unlock()
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishes = append(c.publishes, publishCall{topic: topic, payload: payload.([]byte)})
	return doneToken(c.publishErr)
}

func (c *fakeClient) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = append(c.subscribed, topic)
	c.handlers[topic] = cb
	return doneToken(c.subErr)
}

func (c *fakeClient) finishConnect(err error) {
	c.mu.Lock()
	tok := c.connectTok
	c.mu.Unlock()
	tok.complete(err)
}

func (c *fakeClient) deliver(topic string, payload []byte) {
	c.mu.Lock()
	cb := c.handlers[topic]
	c.mu.Unlock()
	cb(nil, fakeMessage{topic: topic, payload: payload})
}

func (c *fakeClient) counts() (connects, disconnects, publishes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects, c.disconnects, len(c.publishes)
}

// queue stands in for the owning loop: posted work runs only when the
// test steps it.
type queue struct{ ch chan func() }

func newQueue() *queue { return &queue{ch: make(chan func(), 64)} }

func (q *queue) post(fn func()) bool { q.ch <- fn; return true }

func (q *queue) step(t *testing.T) {
	t.Helper()
	select {
	case fn := <-q.ch:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for posted work")
	}
}

func (q *queue) empty() bool { return len(q.ch) == 0 }

func newTestSession(t *testing.T) (*Session, *fakeClient, *queue, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c := newFakeClient()
	q := newQueue()
	s := NewSession(Config{ClientIDPrefix: "test", ConnectTimeout: time.Second}, q.post, logger, WithClient(c))
	return s, c, q, &buf
}

func connectOK(t *testing.T, s *Session, c *fakeClient, q *queue) {
	t.Helper()
	s.Connect()
	c.finishConnect(nil)
	q.step(t)
	if got := s.State().Phase; got != Connected {
		t.Fatalf("phase = %v, want connected", got)
	}
}

func TestConnectIsIdempotentWhilePending(t *testing.T) {
	s, c, q, _ := newTestSession(t)

	s.Connect()
	s.Connect()

	if connects, _, _ := c.counts(); connects != 1 {
		t.Fatalf("connect attempts = %d, want 1", connects)
	}
	if got := s.State().Phase; got != Connecting {
		t.Fatalf("phase = %v, want connecting", got)
	}

	c.finishConnect(nil)
	q.step(t)
	s.Connect()

	if connects, _, _ := c.counts(); connects != 1 {
		t.Errorf("connect attempts after connected = %d, want 1", connects)
	}
}

func TestConnectFailureSetsFailedWithReason(t *testing.T) {
	s, c, q, _ := newTestSession(t)

	var seen []Phase
	s.OnStateChange(func(st State) { seen = append(seen, st.Phase) })

	s.Connect()
	c.finishConnect(errors.New("network unreachable"))
	q.step(t)

	st := s.State()
	if st.Phase != Failed || st.Reason != "network unreachable" {
		t.Fatalf("state = %+v, want failed/network unreachable", st)
	}
	want := []Phase{Connecting, Failed}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition[%d] = %v, want %v", i, seen[i], want[i])
		}
	}

	// a failed session may be retried
	s.Connect()
	if connects, _, _ := c.counts(); connects != 2 {
		t.Errorf("connect attempts = %d, want 2", connects)
	}
}

func TestPublishDroppedWhenNotConnected(t *testing.T) {
	s, c, _, buf := newTestSession(t)

	s.Publish("smartroom/test", []byte(`{"light":1}`))

	if _, _, pubs := c.counts(); pubs != 0 {
		t.Fatalf("publishes = %d, want 0", pubs)
	}
	if !bytes.Contains(buf.Bytes(), []byte("publish dropped")) {
		t.Errorf("expected drop to be logged, got %q", buf.String())
	}
}

func TestPublishFailureKeepsConnected(t *testing.T) {
	s, c, q, _ := newTestSession(t)
	connectOK(t, s, c, q)

	c.publishErr = errors.New("write: broken pipe")
	s.Publish("smartroom/test", []byte("x"))

	if _, _, pubs := c.counts(); pubs != 1 {
		t.Fatalf("publishes = %d, want 1", pubs)
	}
	if got := s.State().Phase; got != Connected {
		t.Errorf("phase = %v, want connected", got)
	}
}

func TestDisconnectAlwaysEndsDisconnected(t *testing.T) {
	s, c, q, _ := newTestSession(t)
	connectOK(t, s, c, q)

	s.Disconnect()
	s.Disconnect()
	q.step(t)

	if got := s.State().Phase; got != Disconnected {
		t.Fatalf("phase = %v, want disconnected", got)
	}
	if _, disc, _ := c.counts(); disc != 1 {
		t.Errorf("disconnects = %d, want 1", disc)
	}

	s.Disconnect()
	if _, disc, _ := c.counts(); disc != 1 {
		t.Errorf("disconnect on disconnected session issued a call")
	}
}

func TestDisconnectDropsPendingConnectCompletion(t *testing.T) {
	s, c, q, _ := newTestSession(t)

	s.Connect()
	s.Disconnect()
	c.finishConnect(nil)

	// two completions are posted: the disconnect and the stale connect
	q.step(t)
	q.step(t)

	if got := s.State().Phase; got != Disconnected {
		t.Fatalf("phase = %v, want disconnected", got)
	}
}

func TestConnectDuringDisconnectIsDeferred(t *testing.T) {
	s, c, q, _ := newTestSession(t)
	connectOK(t, s, c, q)

	s.Disconnect()
	s.Connect()
	if connects, _, _ := c.counts(); connects != 1 {
		t.Fatalf("connect issued while disconnecting")
	}

	q.step(t)
	if got := s.State().Phase; got != Connecting {
		t.Fatalf("phase = %v, want connecting", got)
	}
	if connects, _, _ := c.counts(); connects != 2 {
		t.Errorf("connect attempts = %d, want 2", connects)
	}
}

func TestSubscribeIssuedOnConnectAndDelivered(t *testing.T) {
	s, c, q, _ := newTestSession(t)

	var got []string
	var ackErr = errors.New("unset")
	s.Subscribe(Subscription{
		Filter:    "smartroom/test",
		OnMessage: func(topic string, payload []byte) { got = append(got, topic+" "+string(payload)) },
		OnResult:  func(err error) { ackErr = err },
	})
	if len(c.subscribed) != 0 {
		t.Fatalf("subscribed before connect: %v", c.subscribed)
	}

	connectOK(t, s, c, q)
	q.step(t) // subscribe ack
	if ackErr != nil {
		t.Fatalf("ack err = %v, want nil", ackErr)
	}

	c.deliver("smartroom/test", []byte("hello"))
	q.step(t)
	if len(got) != 1 || got[0] != "smartroom/test hello" {
		t.Errorf("messages = %v", got)
	}
}

func TestConnectionLostMarksFailed(t *testing.T) {
	s, c, q, _ := newTestSession(t)
	connectOK(t, s, c, q)

	s.connectionLost(errors.New("EOF"))
	q.step(t)

	if st := s.State(); st.Phase != Failed || st.Reason != "EOF" {
		t.Fatalf("state = %+v, want failed/EOF", st)
	}
	if !q.empty() {
		t.Errorf("unexpected posted work after connection lost")
	}
}

func TestClientIDUsesPrefixAndMillis(t *testing.T) {
	now := time.UnixMilli(1718000000123)
	if got, want := ClientID("smartroom-android", now), "smartroom-android-1718000000123"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()
	if cfg.Port != 1883 || cfg.Topic != "smartroom/test" || cfg.Host != "localhost" {
		t.Errorf("defaults = %+v", cfg)
	}
	if got, want := cfg.Address(), "tcp://localhost:1883"; got != want {
		t.Errorf("address = %q, want %q", got, want)
	}
}
