package telemetry

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Andria35/SmartRoom/internal/model"
)

// ErrDecode marks a payload that could not be turned into a snapshot.
var ErrDecode = errors.New("telemetry: decode failed")

// Wire keys of the flat telemetry payload, in encoding order.
const (
	KeyLight  = "light"
	KeyAccelX = "ax"
	KeyAccelY = "ay"
	KeyAccelZ = "az"
	KeySound  = "sound"
)

// Encode renders s as {"light":..,"ax":..,"ay":..,"az":..,"sound":..}.
// Numbers use the shortest decimal form that round-trips, independent of
// locale.
func Encode(s model.SensorSnapshot) []byte {
	b := make([]byte, 0, 96)
	b = append(b, '{')
	for i, kv := range [...]struct {
		k string
		v float64
	}{
		{KeyLight, s.IlluminanceLux},
		{KeyAccelX, s.AccelX},
		{KeyAccelY, s.AccelY},
		{KeyAccelZ, s.AccelZ},
		{KeySound, s.SoundAmplitude},
	} {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '"')
		b = append(b, kv.k...)
		b = append(b, '"', ':')
		b = strconv.AppendFloat(b, kv.v, 'f', -1, 64)
	}
	return append(b, '}')
}

// Decode parses a flat key/value payload on top of base. Keys missing from
// the payload keep their base value and unknown keys are ignored. Any
// recognised key whose value is not a finite number fails the whole
// decode, as does a payload with no recognised key at all.
func Decode(payload []byte, base model.SensorSnapshot) (model.SensorSnapshot, error) {
	body := strings.NewReplacer("{", "", "}", "").Replace(string(payload))
	if strings.TrimSpace(body) == "" {
		return base, fmt.Errorf("%w: empty payload", ErrDecode)
	}

	out := base
	matched := 0
	for _, part := range strings.Split(body, ",") {
		k, v, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		key := strings.TrimSpace(strings.ReplaceAll(k, `"`, ""))
		dst := field(&out, key)
		if dst == nil {
			continue
		}
		raw := strings.TrimSpace(strings.ReplaceAll(v, `"`, ""))
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return base, fmt.Errorf("%w: key %q: %v", ErrDecode, key, err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return base, fmt.Errorf("%w: key %q: non-finite value %q", ErrDecode, key, raw)
		}
		*dst = f
		matched++
	}
	if matched == 0 {
		return base, fmt.Errorf("%w: no telemetry keys", ErrDecode)
	}
	return out, nil
}

func field(s *model.SensorSnapshot, key string) *float64 {
	switch key {
	case KeyLight:
		return &s.IlluminanceLux
	case KeyAccelX:
		return &s.AccelX
	case KeyAccelY:
		return &s.AccelY
	case KeyAccelZ:
		return &s.AccelZ
	case KeySound:
		return &s.SoundAmplitude
	}
	return nil
}
