package subscriber

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/Andria35/SmartRoom/internal/model"
	"github.com/Andria35/SmartRoom/internal/telemetry"
)

// StatusSource is satisfied by *telemetry.Coordinator.
type StatusSource interface {
	Status(ctx context.Context) (telemetry.Status, error)
}

// Latest is the /telemetry/latest response.
type Latest struct {
	Status       string               `json:"status"`
	Snapshot     model.SensorSnapshot `json:"snapshot"`
	HasSnapshot  bool                 `json:"has_snapshot"`
	Received     uint64               `json:"received"`
	Dropped      uint64               `json:"dropped"`
	LastReceived string               `json:"last_received,omitempty"`
}

// NewLatestHandler serves GET /telemetry/latest.
func NewLatestHandler(src StatusSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		st, err := src.Status(ctx)
		if err != nil {
			http.Error(w, "coordinator unavailable", http.StatusServiceUnavailable)
			return
		}
		out := Latest{
			Status:      st.Subscription,
			Snapshot:    st.Latest,
			HasSnapshot: st.HasLatest,
			Received:    st.Received,
			Dropped:     st.Dropped,
		}
		if !st.LastReceived.IsZero() {
			out.LastReceived = st.LastReceived.UTC().Format(time.RFC3339)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})
}

// Sample is one historical snapshot.
type Sample struct {
	model.SensorSnapshot
	Time string `json:"time"`
}

type historyParams struct {
	Minutes   int
	Limit     int
	TimeoutMS int
}

func parseHistory(r *http.Request, defMin, defLim, defTOms int) historyParams {
	q := r.URL.Query()
	get := func(k string, def, min, max int) int {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				if n < min {
					return min
				}
				if max > 0 && n > max {
					return max
				}
				return n
			}
		}
		return def
	}
	return historyParams{
		Minutes:   get("minutes", defMin, 1, 7*24*60),
		Limit:     get("limit", defLim, 1, 500),
		TimeoutMS: get("timeout_ms", defTOms, 200, 5000),
	}
}

func buildFlux(bucket string, minutes, limit int) string {
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%dm)
  |> filter(fn: (r) => r._measurement == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> keep(columns: ["_time","light","ax","ay","az","sound"])
  |> sort(columns: ["_time"], desc: true)
  |> limit(n:%d)
`, bucket, minutes, Measurement, limit)
}

// FluxQuerier is the part of the Influx QueryAPI the handler needs.
type FluxQuerier interface {
	Query(ctx context.Context, query string) (*api.QueryTableResult, error)
}

func toFloat(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return f
		}
	}
	return 0
}

// NewHistoryHandler serves GET /telemetry/history. Query failures answer
// an empty list with an X-Error header so the dashboard keeps rendering.
func NewHistoryHandler(q FluxQuerier, bucket string, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := parseHistory(r, 60, 100, 2000)

		ctx, cancel := context.WithTimeout(r.Context(), time.Duration(p.TimeoutMS)*time.Millisecond)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if q == nil {
			w.Header().Set("X-Error", "history-disabled")
			_, _ = w.Write([]byte("[]"))
			return
		}
		res, err := q.Query(ctx, buildFlux(bucket, p.Minutes, p.Limit))
		if err != nil {
			logger.Warn("history query failed", "err", err)
			w.Header().Set("X-Error", "influx-query-error")
			_, _ = w.Write([]byte("[]"))
			return
		}
		defer res.Close()

		out := make([]Sample, 0, p.Limit)
		for res.Next() {
			rec := res.Record()
			out = append(out, Sample{
				SensorSnapshot: model.SensorSnapshot{
					IlluminanceLux: toFloat(rec.ValueByKey(telemetry.KeyLight)),
					AccelX:         toFloat(rec.ValueByKey(telemetry.KeyAccelX)),
					AccelY:         toFloat(rec.ValueByKey(telemetry.KeyAccelY)),
					AccelZ:         toFloat(rec.ValueByKey(telemetry.KeyAccelZ)),
					SoundAmplitude: toFloat(rec.ValueByKey(telemetry.KeySound)),
				},
				Time: rec.Time().UTC().Format(time.RFC3339),
			})
		}
		if res.Err() != nil {
			w.Header().Set("X-Error", "influx-iter-error")
		}
		_ = json.NewEncoder(w).Encode(out)
	})
}
