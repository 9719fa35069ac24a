package model

// AirQualityItem is one display-ready air-quality reading.
type AirQualityItem struct {
	Station   string `json:"station"`
	Pollutant string `json:"pollutant"`
	Value     string `json:"value"`     // includes the unit suffix
	Timestamp string `json:"timestamp"` // "YYYY-MM-DD HH:MM"
}
