package telemetry

import (
	"sync"
	"time"

	"github.com/Andria35/SmartRoom/internal/model"
)

// Store holds the current snapshot. Sensor callbacks write it from any
// goroutine; each update replaces one field group under a single lock so
// readers never see a half-written accelerometer triple.
type Store struct {
	mu      sync.RWMutex
	snap    model.SensorSnapshot
	updated time.Time
}

// NewStore returns a store holding the zero snapshot.
func NewStore() *Store { return &Store{} }

func (s *Store) UpdateLight(lux float64) {
	s.mu.Lock()
	s.snap = s.snap.WithLight(lux)
	s.updated = time.Now()
	s.mu.Unlock()
}

func (s *Store) UpdateAccel(x, y, z float64) {
	s.mu.Lock()
	s.snap = s.snap.WithAccel(x, y, z)
	s.updated = time.Now()
	s.mu.Unlock()
}

func (s *Store) UpdateSound(amp float64) {
	s.mu.Lock()
	s.snap = s.snap.WithSound(amp)
	s.updated = time.Now()
	s.mu.Unlock()
}

// Load returns a copy of the current snapshot.
func (s *Store) Load() model.SensorSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// UpdatedAt returns the time of the last update, zero if none.
func (s *Store) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}
