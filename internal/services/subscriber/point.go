package subscriber

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/Andria35/SmartRoom/internal/model"
	"github.com/Andria35/SmartRoom/internal/telemetry"
)

// Measurement holds one point per received snapshot.
const Measurement = "smartroom_telemetry"

// SnapshotToPoint maps a snapshot to an Influx point, one field per
// sensor value, tagged with the topic it arrived on.
func SnapshotToPoint(topic string, s model.SensorSnapshot, ts time.Time) *write.Point {
	tags := map[string]string{"topic": topic}
	fields := map[string]interface{}{
		telemetry.KeyLight:  s.IlluminanceLux,
		telemetry.KeyAccelX: s.AccelX,
		telemetry.KeyAccelY: s.AccelY,
		telemetry.KeyAccelZ: s.AccelZ,
		telemetry.KeySound:  s.SoundAmplitude,
	}
	return influxdb2.NewPoint(Measurement, tags, fields, ts)
}
