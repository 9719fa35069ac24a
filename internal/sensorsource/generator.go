package sensorsource

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/Andria35/SmartRoom/internal/model"
)

// ====== Tunables ======
const (
	// baseLux is the indoor illuminance the light walk drifts around.
	baseLux = 320.0
	// luxStep bounds a single light step.
	luxStep = 15.0
	// gravity on the z axis with the phone lying flat.
	gravity = 9.81
	// accelJitter is the stddev of the accelerometer noise.
	accelJitter = 0.05
	// quietAmplitude is the background microphone level.
	quietAmplitude = 400.0
)

// Generator produces plausible room readings. Each sensor keeps its own
// walk so readings move smoothly between samples.
type Generator struct {
	mu    sync.Mutex
	rng   *rand.Rand
	lux   float64
	noise float64
}

// NewGenerator returns a generator seeded with seed; zero seeds from the
// clock.
func NewGenerator(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		rng:   rand.New(rand.NewSource(seed)),
		lux:   baseLux,
		noise: quietAmplitude,
	}
}

// Light returns the next illuminance in lux, never negative.
func (g *Generator) Light() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	step := (g.rng.Float64()*2 - 1) * luxStep
	// pull back toward the base level
	g.lux += step + (baseLux-g.lux)*0.05
	g.lux = math.Max(0, g.lux)
	return round(g.lux, 1)
}

// Accel returns the next acceleration triple in m/s².
func (g *Generator) Accel() (x, y, z float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	x = g.rng.NormFloat64() * accelJitter
	y = g.rng.NormFloat64() * accelJitter
	z = gravity + g.rng.NormFloat64()*accelJitter
	return round(x, 3), round(y, 3), round(z, 3)
}

// Amplitude returns the next raw microphone amplitude in 0..32767.
// Occasional spikes stand in for speech or a door closing.
func (g *Generator) Amplitude() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.noise += (quietAmplitude - g.noise) * 0.3
	v := g.noise + g.rng.NormFloat64()*80
	if g.rng.Float64() < 0.05 {
		v += g.rng.Float64() * 20000
	}
	return int(clamp(v, 0, model.MaxSoundAmplitude))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
