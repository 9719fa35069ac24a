package broker

import (
	"errors"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrTimeout is reported when a publish or subscribe token does not
// complete in time.
var ErrTimeout = errors.New("broker: operation timed out")

// Client is the subset of mqtt.Client used by a Session.
type Client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// Subscription registers interest in a topic filter. OnMessage and
// OnResult run on the owning loop.
type Subscription struct {
	Filter    string
	QoS       byte
	OnMessage func(topic string, payload []byte)
	OnResult  func(err error)
}

// Publish outcomes passed to Recorder.ObservePublish.
const (
	PublishOK      = "ok"
	PublishFailed  = "failed"
	PublishDropped = "dropped"
)

// Recorder receives session counters. Implementations must be safe for
// concurrent use.
type Recorder interface {
	ObserveConnect(ok bool)
	ObservePublish(result string)
	ObserveMessage(topic string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveConnect(bool)   {}
func (nopRecorder) ObservePublish(string) {}
func (nopRecorder) ObserveMessage(string) {}

// Session owns one logical broker connection. Every method must be called
// from the goroutine that drains post; network completions are handed back
// through post before they touch session state.
type Session struct {
	cfg      Config
	clientID string
	client   Client
	post     func(func()) bool
	log      *slog.Logger
	rec      Recorder

	state         State
	epoch         uint64
	disconnecting bool
	connectAfter  bool
	subs          []Subscription
	listeners     []func(State)
}

// Option configures a Session.
type Option func(*Session)

// WithClient replaces the paho client built from the config.
func WithClient(c Client) Option {
	return func(s *Session) { s.client = c }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Session) {
		if r != nil {
			s.rec = r
		}
	}
}

// NewSession creates a disconnected session. post must enqueue fn on the
// owning loop and return false once that loop has stopped.
func NewSession(cfg Config, post func(func()) bool, logger *slog.Logger, opts ...Option) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.WithDefaults()
	s := &Session{
		cfg:      cfg,
		clientID: ClientID(cfg.ClientIDPrefix, time.Now()),
		post:     post,
		rec:      nopRecorder{},
	}
	for _, o := range opts {
		o(s)
	}
	s.log = logger.With("component", "broker", "client_id", s.clientID)
	if s.client == nil {
		s.client = mqtt.NewClient(NewClientOptions(cfg, s.clientID, s.connectionLost))
	}
	return s
}

// ClientID returns the identifier presented to the broker.
func (s *Session) ClientID() string { return s.clientID }

// Config returns the effective configuration.
func (s *Session) Config() Config { return s.cfg }

// State returns the current connection state.
func (s *Session) State() State { return s.state }

// OnStateChange registers fn to be called after every transition.
func (s *Session) OnStateChange(fn func(State)) {
	s.listeners = append(s.listeners, fn)
}

// Connect starts a connection attempt unless one is already pending or
// established.
func (s *Session) Connect() {
	if s.disconnecting {
		s.connectAfter = true
		s.log.Debug("connect deferred until disconnect completes")
		return
	}
	switch s.state.Phase {
	case Connecting, Connected:
		s.log.Debug("connect ignored", "state", s.state.String())
		return
	}

	s.epoch++
	epoch := s.epoch
	s.setState(State{Phase: Connecting})
	s.log.Info("connecting to broker", "addr", s.cfg.Address())

	tok := s.client.Connect()
	go func() {
		tok.Wait()
		err := tok.Error()
		s.post(func() { s.connectDone(epoch, err) })
	}()
}

func (s *Session) connectDone(epoch uint64, err error) {
	if epoch != s.epoch || s.state.Phase != Connecting {
		s.log.Debug("stale connect completion dropped", "err", err)
		return
	}
	if err != nil {
		s.rec.ObserveConnect(false)
		s.log.Warn("broker connection failed", "addr", s.cfg.Address(), "err", err)
		s.setState(State{Phase: Failed, Reason: err.Error()})
		return
	}
	s.rec.ObserveConnect(true)
	s.log.Info("connected to broker", "addr", s.cfg.Address())
	s.setState(State{Phase: Connected})
	if s.disconnecting || !s.state.Connected() {
		// a listener already tore the session down
		return
	}
	for _, sub := range s.subs {
		s.issue(sub)
	}
}

// Disconnect closes the connection. The session ends up Disconnected once
// the attempt returns, whatever its outcome.
func (s *Session) Disconnect() {
	s.connectAfter = false
	if s.disconnecting || s.state.Phase == Disconnected {
		return
	}
	s.epoch++
	s.disconnecting = true
	s.log.Info("disconnecting from broker", "state", s.state.String())

	quiesce := uint(s.cfg.Quiesce.Milliseconds())
	go func() {
		s.client.Disconnect(quiesce)
		s.post(s.disconnectDone)
	}()
}

func (s *Session) disconnectDone() {
	s.disconnecting = false
	s.setState(State{Phase: Disconnected})
	s.log.Info("disconnected from broker")
	if s.connectAfter {
		s.connectAfter = false
		s.Connect()
	}
}

// Publish sends payload when connected and drops it otherwise. Failures
// are logged only; they never change the connection state.
func (s *Session) Publish(topic string, payload []byte) {
	if !s.state.Connected() {
		s.rec.ObservePublish(PublishDropped)
		s.log.Warn("publish dropped, not connected", "topic", topic, "state", s.state.String())
		return
	}
	tok := s.client.Publish(topic, s.cfg.QoS, false, payload)
	timeout := s.cfg.ConnectTimeout
	go func() {
		if err := waitToken(tok, timeout); err != nil {
			s.rec.ObservePublish(PublishFailed)
			s.log.Warn("publish failed", "topic", topic, "err", err)
			return
		}
		s.rec.ObservePublish(PublishOK)
		s.log.Debug("published", "topic", topic, "bytes", len(payload))
	}()
}

// Subscribe registers sub. It is sent to the broker now when connected
// and again after every later successful connect.
func (s *Session) Subscribe(sub Subscription) {
	s.subs = append(s.subs, sub)
	if s.state.Connected() {
		s.issue(sub)
	}
}

func (s *Session) issue(sub Subscription) {
	epoch := s.epoch
	s.log.Info("subscribing", "filter", sub.Filter, "qos", sub.QoS)

	tok := s.client.Subscribe(sub.Filter, sub.QoS, func(_ mqtt.Client, m mqtt.Message) {
		topic := m.Topic()
		payload := append([]byte(nil), m.Payload()...)
		s.rec.ObserveMessage(topic)
		s.post(func() {
			if sub.OnMessage != nil {
				sub.OnMessage(topic, payload)
			}
		})
	})
	timeout := s.cfg.ConnectTimeout
	go func() {
		err := waitToken(tok, timeout)
		s.post(func() {
			if epoch != s.epoch {
				return
			}
			if err != nil {
				s.log.Warn("subscribe failed", "filter", sub.Filter, "err", err)
			} else {
				s.log.Info("subscribed", "filter", sub.Filter)
			}
			if sub.OnResult != nil {
				sub.OnResult(err)
			}
		})
	}()
}

// connectionLost is called by paho from its own goroutine.
func (s *Session) connectionLost(err error) {
	s.post(func() {
		if s.disconnecting || !s.state.Connected() {
			return
		}
		s.epoch++
		reason := "connection lost"
		if err != nil {
			reason = err.Error()
		}
		s.log.Warn("broker connection lost", "err", err)
		s.setState(State{Phase: Failed, Reason: reason})
	})
}

func (s *Session) setState(st State) {
	if st == s.state {
		return
	}
	s.state = st
	for _, fn := range s.listeners {
		fn(st)
	}
}

func waitToken(tok mqtt.Token, timeout time.Duration) error {
	if timeout > 0 {
		if !tok.WaitTimeout(timeout) {
			return ErrTimeout
		}
	} else {
		tok.Wait()
	}
	return tok.Error()
}
