package airquality

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Hours is the number of hourly slots in a record.
const Hours = 24

// Record is one station/pollutant/day row of the open-data feed.
// Values[i] and Valid[i] hold H<i+1> and V<i+1>.
type Record struct {
	Province     string
	Municipality string
	Station      string
	Pollutant    string
	Year         string
	Month        string
	Day          string
	Values       [Hours]string
	Valid        [Hours]string
}

// StationCode joins province, municipality and the 3-digit station.
func (r Record) StationCode() string {
	return r.Province + r.Municipality + pad3(r.Station)
}

// UnmarshalJSON accepts every field as a JSON string or number. Numbers
// keep their literal text, so MES 6 becomes "6". Objects and arrays read
// as empty, which normalization then drops.
func (r *Record) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var firstErr error
	get := func(k string) string {
		s, err := scalar(raw[k])
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("field %s: %w", k, err)
		}
		return s
	}

	r.Province = get("PROVINCIA")
	r.Municipality = get("MUNICIPIO")
	r.Station = get("ESTACION")
	r.Pollutant = get("MAGNITUD")
	r.Year = get("ANO")
	r.Month = get("MES")
	r.Day = get("DIA")
	for h := 1; h <= Hours; h++ {
		r.Values[h-1] = get(fmt.Sprintf("H%02d", h))
		r.Valid[h-1] = get(fmt.Sprintf("V%02d", h))
	}
	return firstErr
}

func scalar(m json.RawMessage) (string, error) {
	m = bytes.TrimSpace(m)
	if len(m) == 0 || bytes.Equal(m, []byte("null")) {
		return "", nil
	}
	switch m[0] {
	case '"':
		var s string
		err := json.Unmarshal(m, &s)
		return s, err
	case 't', 'f':
		var v bool
		if err := json.Unmarshal(m, &v); err != nil {
			return "", err
		}
		return strconv.FormatBool(v), nil
	case '{', '[':
		return "", nil
	default:
		var n json.Number
		if err := json.Unmarshal(m, &n); err != nil {
			return "", err
		}
		return n.String(), nil
	}
}

// Feed is the top-level document of the air-quality endpoint.
type Feed struct {
	Records []Record
}

// UnmarshalJSON requires the records array to be present.
func (f *Feed) UnmarshalJSON(b []byte) error {
	var raw struct {
		Records *[]Record `json:"records"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Records == nil {
		return errors.New("airquality: feed has no records array")
	}
	f.Records = *raw.Records
	return nil
}
