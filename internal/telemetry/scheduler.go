package telemetry

import (
	"log/slog"
	"time"

	"github.com/Andria35/SmartRoom/pkg/broker"
)

// DefaultInterval is the publish cadence.
const DefaultInterval = 2 * time.Second

// Timer is a cancellable scheduled wakeup.
type Timer interface {
	Stop() bool
}

// Clock schedules wakeups. The real clock is time.AfterFunc.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// publisher is the part of broker.Session the scheduler drives.
type publisher interface {
	Connect()
	Publish(topic string, payload []byte)
	State() broker.State
	OnStateChange(func(broker.State))
}

// Scheduler publishes the current snapshot at a fixed interval while
// publishing is wanted and the session is connected. It lives on the
// loop: every method must be called there.
type Scheduler struct {
	session  publisher
	store    *Store
	topic    string
	interval time.Duration
	clock    Clock
	post     func(func()) bool
	log      *slog.Logger
	onIntent func(bool)

	intent    bool
	timer     Timer
	gen       uint64
	published uint64
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Topic    string
	Interval time.Duration
	Clock    Clock
	// OnIntent is called on the loop whenever publishing intent changes.
	OnIntent func(bool)
}

// NewScheduler wires a scheduler to session. It arms itself whenever the
// session reaches Connected while publishing is wanted, and drops the
// pending tick when the session is Disconnected. A Failed session keeps
// ticking without publishing.
func NewScheduler(session publisher, store *Store, post func(func()) bool, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Topic == "" {
		cfg.Topic = broker.DefaultTopic
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		session:  session,
		store:    store,
		topic:    cfg.Topic,
		interval: cfg.Interval,
		clock:    cfg.Clock,
		post:     post,
		log:      logger.With("component", "scheduler"),
		onIntent: cfg.OnIntent,
	}
	session.OnStateChange(func(st broker.State) {
		switch {
		case st.Connected() && s.intent:
			s.arm()
		case st.Phase == broker.Disconnected:
			s.cancel()
		}
	})
	return s
}

// Start records the intent to publish and asks the session to connect.
// When the session is already connected the tick chain restarts now.
func (s *Scheduler) Start() {
	s.setIntent(true)
	s.session.Connect()
	if s.session.State().Connected() {
		s.arm()
	}
}

// Stop clears the intent and cancels the pending tick. The connection is
// left alone.
func (s *Scheduler) Stop() {
	s.setIntent(false)
	s.cancel()
}

// Publishing reports the current intent.
func (s *Scheduler) Publishing() bool { return s.intent }

// Published returns how many snapshots were handed to the session.
func (s *Scheduler) Published() uint64 { return s.published }

// Interval returns the tick period.
func (s *Scheduler) Interval() time.Duration { return s.interval }

func (s *Scheduler) setIntent(v bool) {
	if s.intent == v {
		return
	}
	s.intent = v
	s.log.Info("publishing intent changed", "publishing", v)
	if s.onIntent != nil {
		s.onIntent(v)
	}
}

// arm replaces any pending tick chain with a new one whose first tick
// runs immediately.
func (s *Scheduler) arm() {
	s.cancel()
	s.tick(s.gen)
}

func (s *Scheduler) cancel() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}

func (s *Scheduler) tick(gen uint64) {
	if gen != s.gen {
		return
	}
	s.timer = nil
	if st := s.session.State(); s.intent && st.Connected() {
		s.session.Publish(s.topic, Encode(s.store.Load()))
		s.published++
	} else {
		s.log.Debug("tick without publish", "publishing", s.intent, "state", st.String())
	}
	s.schedule(gen)
}

func (s *Scheduler) schedule(gen uint64) {
	s.timer = s.clock.AfterFunc(s.interval, func() {
		s.post(func() { s.tick(gen) })
	})
}
