// Package airquality fetches the Madrid real-time air-quality feed and
// turns its station rows into display-ready items.
package airquality

import (
	"strconv"

	"github.com/Andria35/SmartRoom/internal/model"
)

// Normalize converts raw records into items, keeping input order.
// Records from stations outside the allow-list, and records without any
// valid hour, produce nothing.
func Normalize(records []Record) []model.AirQualityItem {
	out := make([]model.AirQualityItem, 0, len(records))
	for _, r := range records {
		if item, ok := normalize(r); ok {
			out = append(out, item)
		}
	}
	return out
}

func normalize(r Record) (model.AirQualityItem, bool) {
	station, ok := StationName(r.StationCode())
	if !ok {
		return model.AirQualityItem{}, false
	}
	value, hour, ok := latestValid(r)
	if !ok {
		return model.AirQualityItem{}, false
	}
	return model.AirQualityItem{
		Station:   station,
		Pollutant: PollutantName(r.Pollutant),
		Value:     value + ValueSuffix,
		Timestamp: r.Year + "-" + pad2(r.Month) + "-" + pad2(r.Day) + " " + pad2(strconv.Itoa(hour-1)) + ":00",
	}, true
}

// latestValid scans hours 24 down to 1 and returns the first valid
// reading with its 1-based hour.
func latestValid(r Record) (string, int, bool) {
	for h := Hours; h >= 1; h-- {
		if r.Valid[h-1] == validMarker && r.Values[h-1] != "" {
			return r.Values[h-1], h, true
		}
	}
	return "", 0, false
}

// pad2 left-pads single characters to two digits.
func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

// pad3 left-pads one or two characters to three digits. Empty stays empty.
func pad3(s string) string {
	switch len(s) {
	case 1:
		return "00" + s
	case 2:
		return "0" + s
	default:
		return s
	}
}
