package model

// MaxSoundAmplitude is the upper bound of a raw microphone amplitude sample.
const MaxSoundAmplitude = 32767

// SensorSnapshot is the latest combined reading of the room sensors.
// The zero value is the reading before any sensor reported.
type SensorSnapshot struct {
	IlluminanceLux float64 `json:"light"`
	AccelX         float64 `json:"ax"`
	AccelY         float64 `json:"ay"`
	AccelZ         float64 `json:"az"`
	SoundAmplitude float64 `json:"sound"` // raw 0..32767
}

// WithLight returns a copy with the illuminance replaced.
func (s SensorSnapshot) WithLight(lux float64) SensorSnapshot {
	s.IlluminanceLux = lux
	return s
}

// WithAccel returns a copy with all three axes replaced.
func (s SensorSnapshot) WithAccel(x, y, z float64) SensorSnapshot {
	s.AccelX, s.AccelY, s.AccelZ = x, y, z
	return s
}

// WithSound returns a copy with the amplitude replaced.
func (s SensorSnapshot) WithSound(amp float64) SensorSnapshot {
	s.SoundAmplitude = amp
	return s
}
