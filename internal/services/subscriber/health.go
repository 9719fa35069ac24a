package subscriber

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Andria35/SmartRoom/internal/telemetry"
)

type healthHandler struct {
	src    StatusSource
	writer *Writer
	influx bool
}

// NewHealthHandler reports ok, degraded or down. History is only
// considered when influx is true.
func NewHealthHandler(src StatusSource, w *Writer, influx bool) http.Handler {
	return &healthHandler{src: src, writer: w, influx: influx}
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type status struct {
		Status          string  `json:"status"`
		MQTTConnected   bool    `json:"mqtt_connected"`
		Subscription    string  `json:"subscription"`
		InfluxOK        bool    `json:"influx_ok"`
		LastWriteErrorS float64 `json:"last_write_error_age_sec,omitempty"`
	}
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	var st status
	if s, err := h.src.Status(ctx); err == nil {
		st.MQTTConnected = s.State.Connected()
		st.Subscription = s.Subscription
	}
	st.InfluxOK = !h.influx || h.writer.LastErrorAge() > 30*time.Second
	if h.influx {
		st.LastWriteErrorS = h.writer.LastErrorAge().Seconds()
	}

	switch {
	case st.MQTTConnected && st.InfluxOK:
		st.Status = "ok"
	case st.MQTTConnected || (h.influx && st.InfluxOK):
		st.Status = "degraded"
	default:
		st.Status = "down"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

// readyHandler answers 200 only while subscribed and writes are healthy.
type readyHandler struct {
	src      StatusSource
	writer   *Writer
	influx   bool
	minError time.Duration
}

func NewReadyHandler(src StatusSource, w *Writer, influx bool, minOkErrorAge time.Duration) http.Handler {
	return &readyHandler{src: src, writer: w, influx: influx, minError: minOkErrorAge}
}

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	ready := false
	if s, err := h.src.Status(ctx); err == nil {
		ready = s.State.Connected() && s.Subscription == telemetry.StatusListening
	}
	if h.influx && h.writer.LastErrorAge() <= h.minError {
		ready = false
	}
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	type resp struct {
		Ready bool `json:"ready"`
	}
	_ = json.NewEncoder(w).Encode(resp{Ready: ready})
}
