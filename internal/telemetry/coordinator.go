package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/Andria35/SmartRoom/internal/model"
	"github.com/Andria35/SmartRoom/pkg/broker"
	"github.com/Andria35/SmartRoom/pkg/dedup"
)

// Config configures a Coordinator.
type Config struct {
	Broker   broker.Config
	Interval time.Duration
	// DedupTTL bounds how long an identical inbound payload is ignored.
	// Zero disables deduplication.
	DedupTTL time.Duration
	Clock    Clock
	Recorder broker.Recorder
	// Client overrides the paho client, for tests.
	Client broker.Client
	// OnSnapshot receives every accepted inbound snapshot on the loop
	// goroutine. It must not block.
	OnSnapshot func(model.SensorSnapshot)
	// OnDecodeError observes dropped inbound payloads.
	OnDecodeError func(error)
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	ClientID     string               `json:"client_id"`
	State        broker.State         `json:"state"`
	Publishing   bool                 `json:"publishing"`
	Published    uint64               `json:"published"`
	Local        model.SensorSnapshot `json:"local"`
	Subscription string               `json:"subscription"`
	Latest       model.SensorSnapshot `json:"latest"`
	HasLatest    bool                 `json:"has_latest"`
	LastReceived time.Time            `json:"last_received,omitempty"`
	Received     uint64               `json:"received"`
	Dropped      uint64               `json:"dropped"`
}

// Coordinator owns one broker session together with the publish
// scheduler and the subscription sink that share it.
type Coordinator struct {
	loop      *Loop
	session   *broker.Session
	store     *Store
	scheduler *Scheduler
	sink      *Sink
	bus       *Bus
	log       *slog.Logger

	// closed on the next Disconnected state; loop-owned
	disconnectWaiters []chan struct{}
}

// New builds a coordinator. Nothing happens on the network until Run is
// called and one of StartPublishing, Connect or Listen is requested.
func New(cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		loop:  NewLoop(defaultMailbox),
		store: NewStore(),
		bus:   NewBus(),
		log:   logger.With("component", "coordinator"),
	}

	var opts []broker.Option
	if cfg.Client != nil {
		opts = append(opts, broker.WithClient(cfg.Client))
	}
	if cfg.Recorder != nil {
		opts = append(opts, broker.WithRecorder(cfg.Recorder))
	}
	c.session = broker.NewSession(cfg.Broker, c.loop.Post, logger, opts...)
	topic := c.session.Config().Topic

	c.scheduler = NewScheduler(c.session, c.store, c.loop.Post, SchedulerConfig{
		Topic:    topic,
		Interval: cfg.Interval,
		Clock:    cfg.Clock,
		OnIntent: func(v bool) {
			c.bus.Publish(Event{Kind: KindPublishing, Publishing: v})
		},
	}, logger)

	var d *dedup.Deduper
	if cfg.DedupTTL > 0 {
		d = dedup.New(cfg.DedupTTL, 1024)
	}
	c.sink = NewSink(c.session, SinkConfig{
		Topic: topic,
		QoS:   c.session.Config().QoS,
		Dedup: d,
		OnSnapshot: func(s model.SensorSnapshot) {
			if cfg.OnSnapshot != nil {
				cfg.OnSnapshot(s)
			}
			c.bus.Publish(Event{Kind: KindSnapshot, Snapshot: s})
		},
		OnStatus: func(s string) {
			c.bus.Publish(Event{Kind: KindStatus, Status: s})
		},
		OnDecodeError: cfg.OnDecodeError,
	}, logger)

	c.session.OnStateChange(func(st broker.State) {
		c.bus.Publish(Event{Kind: KindState, State: st})
		if st.Phase == broker.Disconnected {
			for _, ch := range c.disconnectWaiters {
				close(ch)
			}
			c.disconnectWaiters = nil
		}
	})
	return c
}

// Run drives the coordinator until ctx is done, then disconnects.
func (c *Coordinator) Run(ctx context.Context) error {
	c.log.Info("coordinator started", "client_id", c.session.ClientID(), "broker", c.session.Config().Address())
	err := c.loop.Run(ctx)
	c.log.Info("coordinator stopped")
	return err
}

// Shutdown stops publishing, disconnects and waits until the session
// reports Disconnected or ctx is done. Call it before cancelling the Run
// context.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	err := c.loop.Call(ctx, func() {
		c.scheduler.Stop()
		c.session.Disconnect()
		if c.session.State().Phase == broker.Disconnected {
			close(done)
			return
		}
		c.disconnectWaiters = append(c.disconnectWaiters, done)
	})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Store returns the snapshot store fed by sensor callbacks.
func (c *Coordinator) Store() *Store { return c.store }

// Bus returns the event bus.
func (c *Coordinator) Bus() *Bus { return c.bus }

func (c *Coordinator) UpdateLight(lux float64)     { c.store.UpdateLight(lux) }
func (c *Coordinator) UpdateAccel(x, y, z float64) { c.store.UpdateAccel(x, y, z) }
func (c *Coordinator) UpdateSound(amp float64)     { c.store.UpdateSound(amp) }

// StartPublishing turns on publishing and connects if needed.
func (c *Coordinator) StartPublishing(ctx context.Context) error {
	return c.loop.Call(ctx, c.scheduler.Start)
}

// StopPublishing turns publishing off without disconnecting.
func (c *Coordinator) StopPublishing(ctx context.Context) error {
	return c.loop.Call(ctx, c.scheduler.Stop)
}

// Connect connects the session. When publishing is wanted the tick chain
// is restarted as well.
func (c *Coordinator) Connect(ctx context.Context) error {
	return c.loop.Call(ctx, func() {
		if c.scheduler.Publishing() {
			c.scheduler.Start()
			return
		}
		c.session.Connect()
	})
}

// Disconnect closes the session. Publishing intent is kept.
func (c *Coordinator) Disconnect(ctx context.Context) error {
	return c.loop.Call(ctx, c.session.Disconnect)
}

// Listen connects and subscribes to the telemetry topic.
func (c *Coordinator) Listen(ctx context.Context) error {
	return c.loop.Call(ctx, c.sink.ConnectAndSubscribe)
}

// Status snapshots the coordinator state.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.loop.Call(ctx, func() {
		latest, ok := c.sink.Latest()
		received, dropped := c.sink.Counts()
		st = Status{
			ClientID:     c.session.ClientID(),
			State:        c.session.State(),
			Publishing:   c.scheduler.Publishing(),
			Published:    c.scheduler.Published(),
			Local:        c.store.Load(),
			Subscription: c.sink.Status(),
			Latest:       latest,
			HasLatest:    ok,
			LastReceived: c.sink.LastReceived(),
			Received:     received,
			Dropped:      dropped,
		}
	})
	return st, err
}
