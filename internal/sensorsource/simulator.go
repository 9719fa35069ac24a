// Package sensorsource feeds simulated room sensor readings into a
// telemetry store: illuminance, acceleration and microphone amplitude.
package sensorsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNoSensor is reported once at setup for every missing sensor.
var ErrNoSensor = errors.New("sensorsource: sensor not available")

// Kind names a sensor.
type Kind string

const (
	KindLight         Kind = "light"
	KindAccelerometer Kind = "accelerometer"
	KindMicrophone    Kind = "microphone"
)

// Updater receives readings. telemetry.Store implements it.
type Updater interface {
	UpdateLight(lux float64)
	UpdateAccel(x, y, z float64)
	UpdateSound(amp float64)
}

// Config selects which sensors exist and how often they report.
type Config struct {
	Light          bool          `yaml:"light"`
	Accelerometer  bool          `yaml:"accelerometer"`
	Microphone     bool          `yaml:"microphone"`
	LightInterval  time.Duration `yaml:"light_interval"`
	AccelInterval  time.Duration `yaml:"accel_interval"`
	SampleInterval time.Duration `yaml:"sample_interval"`
	Seed           int64         `yaml:"seed"`
}

// DefaultConfig enables every sensor with phone-like cadences.
func DefaultConfig() Config {
	return Config{
		Light:          true,
		Accelerometer:  true,
		Microphone:     true,
		LightInterval:  time.Second,
		AccelInterval:  200 * time.Millisecond,
		SampleInterval: 500 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LightInterval <= 0 {
		c.LightInterval = d.LightInterval
	}
	if c.AccelInterval <= 0 {
		c.AccelInterval = d.AccelInterval
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = d.SampleInterval
	}
	return c
}

// Simulator drives an Updater from simulated sensors.
type Simulator struct {
	id      string
	cfg     Config
	gen     *Generator
	mic     Microphone
	out     Updater
	log     *slog.Logger
	missing []error
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithMicrophone replaces the simulated microphone.
func WithMicrophone(m Microphone) Option {
	return func(s *Simulator) { s.mic = m }
}

// New builds a simulator. Sensors disabled in cfg are reported once here
// and never produce readings.
func New(cfg Config, out Updater, logger *slog.Logger, opts ...Option) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	s := &Simulator{
		id:  uuid.NewString(),
		cfg: cfg,
		gen: NewGenerator(cfg.Seed),
		out: out,
	}
	s.log = logger.With("component", "sensorsource", "instance", s.id)
	for _, o := range opts {
		o(s)
	}
	if s.mic == nil {
		s.mic = newSimMicrophone(s.gen)
	}

	for _, k := range []struct {
		kind Kind
		ok   bool
	}{
		{KindLight, cfg.Light},
		{KindAccelerometer, cfg.Accelerometer},
		{KindMicrophone, cfg.Microphone},
	} {
		if !k.ok {
			err := fmt.Errorf("%w: %s", ErrNoSensor, k.kind)
			s.missing = append(s.missing, err)
			s.log.Warn("sensor not available", "sensor", k.kind)
		}
	}
	return s
}

// Missing returns the setup errors for unavailable sensors.
func (s *Simulator) Missing() []error { return s.missing }

// ID returns the simulator instance id.
func (s *Simulator) ID() string { return s.id }

// Run reports readings until ctx is done. If the microphone was started
// it is torn down before Run returns and the per-step results are
// returned.
func (s *Simulator) Run(ctx context.Context) []TeardownResult {
	var wg sync.WaitGroup
	every := func(d time.Duration, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t := time.NewTicker(d)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					fn()
				}
			}
		}()
	}

	if s.cfg.Light {
		every(s.cfg.LightInterval, func() { s.out.UpdateLight(s.gen.Light()) })
	}
	if s.cfg.Accelerometer {
		every(s.cfg.AccelInterval, func() { s.out.UpdateAccel(s.gen.Accel()) })
	}

	micStarted := false
	if s.cfg.Microphone {
		if err := s.mic.Start(); err != nil {
			s.log.Error("microphone start failed, sound disabled", "err", err)
		} else {
			micStarted = true
			every(s.cfg.SampleInterval, s.sampleSound)
		}
	}

	s.log.Info("sensor simulator running",
		"light", s.cfg.Light, "accelerometer", s.cfg.Accelerometer, "microphone", micStarted)
	<-ctx.Done()
	wg.Wait()

	if !micStarted {
		return nil
	}
	return Teardown(s.mic, s.log)
}

func (s *Simulator) sampleSound() {
	amp, err := s.mic.MaxAmplitude()
	if err != nil {
		s.log.Debug("amplitude sample failed", "err", err)
		return
	}
	s.out.UpdateSound(float64(amp))
}
