package app

import (
	"github.com/Andria35/SmartRoom/internal/airquality"
	"github.com/Andria35/SmartRoom/internal/model"
)

// TelemetryLatest mirrors the subscriber /telemetry/latest body.
type TelemetryLatest struct {
	Status       string               `json:"status"`
	Snapshot     model.SensorSnapshot `json:"snapshot"`
	HasSnapshot  bool                 `json:"has_snapshot"`
	Received     uint64               `json:"received"`
	LastReceived string               `json:"last_received,omitempty"`
}

// DashboardData is the single document the dashboard polls.
type DashboardData struct {
	Telemetry         TelemetryLatest `json:"telemetry"`
	TelemetryStale    bool            `json:"telemetry_stale"`
	AirQuality        airquality.View `json:"airquality"`
	AccessibilityMode bool            `json:"accessibility_mode"`
}

type accessibilityBody struct {
	AccessibilityMode *bool `json:"accessibility_mode"`
}
