package sensorsource

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingUpdater struct {
	mu     sync.Mutex
	lights int
	accels int
	sounds []float64
}

func (r *recordingUpdater) UpdateLight(float64) {
	r.mu.Lock()
	r.lights++
	r.mu.Unlock()
}

func (r *recordingUpdater) UpdateAccel(_, _, _ float64) {
	r.mu.Lock()
	r.accels++
	r.mu.Unlock()
}

func (r *recordingUpdater) UpdateSound(a float64) {
	r.mu.Lock()
	r.sounds = append(r.sounds, a)
	r.mu.Unlock()
}

type faultyMic struct {
	stopErr    error
	panicReset bool
	calls      []string
}

func (m *faultyMic) Start() error {
	m.calls = append(m.calls, "start")
	return nil
}

func (m *faultyMic) MaxAmplitude() (int, error) { return 1000, nil }

func (m *faultyMic) Stop() error {
	m.calls = append(m.calls, StepStop)
	return m.stopErr
}

func (m *faultyMic) Reset() error {
	m.calls = append(m.calls, StepReset)
	if m.panicReset {
		panic("native reset crashed")
	}
	return nil
}

func (m *faultyMic) Release() error {
	m.calls = append(m.calls, StepRelease)
	return nil
}

func TestTeardownRunsEveryStep(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	mic := &faultyMic{stopErr: errors.New("stop called in invalid state"), panicReset: true}

	res := Teardown(mic, logger)

	if len(res) != 3 {
		t.Fatalf("results = %d, want 3", len(res))
	}
	wantSteps := []string{StepStop, StepReset, StepRelease}
	for i, r := range res {
		if r.Step != wantSteps[i] {
			t.Errorf("step[%d] = %q, want %q", i, r.Step, wantSteps[i])
		}
	}
	if res[0].OK() || res[1].OK() || !res[2].OK() {
		t.Errorf("outcomes = %v/%v/%v, want fail/fail/ok", res[0].Err, res[1].Err, res[2].Err)
	}
	if !strings.Contains(res[1].Err.Error(), "native reset crashed") {
		t.Errorf("reset err = %v", res[1].Err)
	}
	if got := strings.Count(buf.String(), "teardown step"); got != 3 {
		t.Errorf("logged %d teardown lines, want 3", got)
	}
}

func TestMissingSensorsReportedOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	up := &recordingUpdater{}
	s := New(Config{Light: true}, up, logger)

	missing := s.Missing()
	if len(missing) != 2 {
		t.Fatalf("missing = %v, want accelerometer and microphone", missing)
	}
	for _, err := range missing {
		if !errors.Is(err, ErrNoSensor) {
			t.Errorf("err %v is not ErrNoSensor", err)
		}
	}
	if got := strings.Count(buf.String(), "sensor not available"); got != 2 {
		t.Errorf("logged %d times, want 2", got)
	}
}

func TestRunFeedsUpdaterAndTearsDown(t *testing.T) {
	up := &recordingUpdater{}
	mic := &faultyMic{}
	s := New(Config{
		Light:          true,
		Accelerometer:  true,
		Microphone:     true,
		LightInterval:  5 * time.Millisecond,
		AccelInterval:  5 * time.Millisecond,
		SampleInterval: 5 * time.Millisecond,
		Seed:           7,
	}, up, slog.New(slog.NewTextHandler(io.Discard, nil)), WithMicrophone(mic))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	res := s.Run(ctx)

	up.mu.Lock()
	defer up.mu.Unlock()
	if up.lights == 0 || up.accels == 0 || len(up.sounds) == 0 {
		t.Errorf("readings light=%d accel=%d sound=%d", up.lights, up.accels, len(up.sounds))
	}
	for _, a := range up.sounds {
		if a != 1000 {
			t.Fatalf("sound = %v, want 1000", a)
		}
	}
	if len(res) != 3 {
		t.Fatalf("teardown results = %d, want 3", len(res))
	}
	for _, r := range res {
		if !r.OK() {
			t.Errorf("step %s failed: %v", r.Step, r.Err)
		}
	}
}

func TestGeneratorRanges(t *testing.T) {
	g := NewGenerator(42)
	for i := 0; i < 1000; i++ {
		if l := g.Light(); l < 0 {
			t.Fatalf("negative lux %v", l)
		}
		if a := g.Amplitude(); a < 0 || a > 32767 {
			t.Fatalf("amplitude %d out of range", a)
		}
		if _, _, z := g.Accel(); z < 9 || z > 10.6 {
			t.Fatalf("z = %v, expected near gravity", z)
		}
	}
}

func TestSimMicrophoneLifecycle(t *testing.T) {
	m := newSimMicrophone(NewGenerator(1))
	if _, err := m.MaxAmplitude(); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("err = %v, want ErrNotRecording", err)
	}
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.MaxAmplitude(); err != nil {
		t.Fatal(err)
	}
	res := Teardown(m, slog.New(slog.NewTextHandler(io.Discard, nil)))
	for _, r := range res {
		if !r.OK() {
			t.Errorf("%s: %v", r.Step, r.Err)
		}
	}
	if err := m.Start(); err == nil {
		t.Error("start after release succeeded")
	}
}
