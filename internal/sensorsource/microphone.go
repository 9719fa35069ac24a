package sensorsource

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrNotRecording is returned when the microphone is read before Start.
var ErrNotRecording = errors.New("sensorsource: microphone not recording")

// Microphone is an amplitude capture device. Stop, Reset and Release are
// separate teardown steps and each may fail on its own.
type Microphone interface {
	Start() error
	MaxAmplitude() (int, error)
	Stop() error
	Reset() error
	Release() error
}

// Teardown step names.
const (
	StepStop    = "stop"
	StepReset   = "reset"
	StepRelease = "release"
)

// TeardownResult is the outcome of one teardown step.
type TeardownResult struct {
	Step string
	Err  error
}

// OK reports whether the step succeeded.
func (r TeardownResult) OK() bool { return r.Err == nil }

// Teardown runs stop, reset and release in order. Every step runs even if
// an earlier one failed or panicked, and each outcome is logged.
func Teardown(mic Microphone, logger *slog.Logger) []TeardownResult {
	if logger == nil {
		logger = slog.Default()
	}
	steps := []struct {
		name string
		fn   func() error
	}{
		{StepStop, mic.Stop},
		{StepReset, mic.Reset},
		{StepRelease, mic.Release},
	}
	out := make([]TeardownResult, 0, len(steps))
	for _, s := range steps {
		err := runStep(s.fn)
		if err != nil {
			logger.Warn("microphone teardown step failed", "step", s.name, "err", err)
		} else {
			logger.Debug("microphone teardown step done", "step", s.name)
		}
		out = append(out, TeardownResult{Step: s.name, Err: err})
	}
	return out
}

func runStep(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// simMicrophone is a Microphone backed by a Generator.
type simMicrophone struct {
	mu        sync.Mutex
	gen       *Generator
	recording bool
	released  bool
}

func newSimMicrophone(g *Generator) *simMicrophone { return &simMicrophone{gen: g} }

func (m *simMicrophone) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return errors.New("sensorsource: microphone released")
	}
	m.recording = true
	return nil
}

func (m *simMicrophone) MaxAmplitude() (int, error) {
	m.mu.Lock()
	rec := m.recording
	m.mu.Unlock()
	if !rec {
		return 0, ErrNotRecording
	}
	return m.gen.Amplitude(), nil
}

func (m *simMicrophone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.recording {
		return ErrNotRecording
	}
	m.recording = false
	return nil
}

func (m *simMicrophone) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recording = false
	return nil
}

func (m *simMicrophone) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = true
	return nil
}
