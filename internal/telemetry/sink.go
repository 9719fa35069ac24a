package telemetry

import (
	"log/slog"
	"time"

	"github.com/Andria35/SmartRoom/internal/model"
	"github.com/Andria35/SmartRoom/pkg/broker"
	"github.com/Andria35/SmartRoom/pkg/dedup"
)

// Subscription status stages, in the order a healthy subscribe goes
// through them.
const (
	StatusIdle         = "idle"
	StatusConnecting   = "connecting"
	StatusSubscribing  = "connected, subscribing"
	StatusListening    = "listening"
	StatusFailed       = "failed"
	StatusDisconnected = "disconnected"
)

type subscriber interface {
	Connect()
	Subscribe(broker.Subscription)
	State() broker.State
	OnStateChange(func(broker.State))
}

// SinkConfig configures a Sink.
type SinkConfig struct {
	Topic string
	QoS   byte
	// Dedup drops repeated payloads; nil disables it.
	Dedup *dedup.Deduper
	// OnSnapshot and OnStatus are called on the loop.
	OnSnapshot func(model.SensorSnapshot)
	OnStatus   func(string)
	// OnDecodeError is called for every dropped payload.
	OnDecodeError func(error)
	Now           func() time.Time
}

// Sink subscribes to the telemetry topic and keeps the latest decoded
// snapshot. It lives on the loop.
type Sink struct {
	session subscriber
	cfg     SinkConfig
	log     *slog.Logger

	active     bool
	registered bool
	status     string
	latest     model.SensorSnapshot
	received   uint64
	dropped    uint64
	lastAt     time.Time
}

// NewSink wires a sink to session.
func NewSink(session subscriber, cfg SinkConfig, logger *slog.Logger) *Sink {
	if cfg.Topic == "" {
		cfg.Topic = broker.DefaultTopic
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	k := &Sink{
		session: session,
		cfg:     cfg,
		log:     logger.With("component", "sink", "topic", cfg.Topic),
		status:  StatusIdle,
	}
	session.OnStateChange(k.onState)
	return k
}

// ConnectAndSubscribe connects the session and subscribes to the topic
// once connected.
func (k *Sink) ConnectAndSubscribe() {
	k.active = true
	first := !k.registered
	if first {
		k.registered = true
		k.session.Subscribe(broker.Subscription{
			Filter:    k.cfg.Topic,
			QoS:       k.cfg.QoS,
			OnMessage: k.onMessage,
			OnResult:  k.onSubscribed,
		})
	}
	if k.session.State().Connected() {
		if first {
			k.setStatus(StatusSubscribing)
		}
		return
	}
	k.setStatus(StatusConnecting)
	k.session.Connect()
}

// Status returns the current status stage.
func (k *Sink) Status() string { return k.status }

// Latest returns the last decoded snapshot and whether one has arrived.
func (k *Sink) Latest() (model.SensorSnapshot, bool) { return k.latest, k.received > 0 }

// LastReceived returns when the last snapshot was accepted.
func (k *Sink) LastReceived() time.Time { return k.lastAt }

// Counts returns accepted and dropped message counts.
func (k *Sink) Counts() (received, dropped uint64) { return k.received, k.dropped }

func (k *Sink) onState(st broker.State) {
	if !k.active {
		return
	}
	switch st.Phase {
	case broker.Connecting:
		k.setStatus(StatusConnecting)
	case broker.Connected:
		k.setStatus(StatusSubscribing)
	case broker.Failed:
		k.setStatus(StatusFailed)
	case broker.Disconnected:
		k.active = false
		k.setStatus(StatusDisconnected)
	}
}

func (k *Sink) onSubscribed(err error) {
	if !k.active {
		return
	}
	if err != nil {
		k.setStatus(StatusFailed)
		return
	}
	k.setStatus(StatusListening)
}

func (k *Sink) onMessage(topic string, payload []byte) {
	if !k.cfg.Dedup.ShouldProcess(dedup.Key(payload)) {
		k.log.Debug("duplicate payload dropped")
		return
	}
	snap, err := Decode(payload, k.latest)
	if err != nil {
		k.dropped++
		k.log.Warn("dropping undecodable message", "msg_topic", topic, "err", err, "payload", string(payload))
		if k.cfg.OnDecodeError != nil {
			k.cfg.OnDecodeError(err)
		}
		return
	}
	k.latest = snap
	k.received++
	k.lastAt = k.cfg.Now()
	if k.cfg.OnSnapshot != nil {
		k.cfg.OnSnapshot(snap)
	}
}

func (k *Sink) setStatus(s string) {
	if k.status == s {
		return
	}
	k.status = s
	k.log.Info("subscription status", "status", s)
	if k.cfg.OnStatus != nil {
		k.cfg.OnStatus(s)
	}
}
