package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// latestTelemetry asks the subscriber and falls back to the last good
// answer while it is failing or its breaker is open.
func (g *Gateway) latestTelemetry(ctx context.Context) (TelemetryLatest, bool, error) {
	var latest TelemetryLatest
	err := g.telemetry.GetJSON(ctx, &latest)
	if err == nil {
		g.mu.Lock()
		g.lastGood = &latest
		g.mu.Unlock()
		return latest, false, nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.lastGood != nil {
		return *g.lastGood, true, err
	}
	return TelemetryLatest{Status: "unavailable"}, true, err
}

func (g *Gateway) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.HTTPTimeout)
	defer cancel()

	latest, stale, err := g.latestTelemetry(ctx)
	data := DashboardData{
		Telemetry:         latest,
		TelemetryStale:    stale,
		AirQuality:        g.air.View(),
		AccessibilityMode: g.prefs.Get().AccessibilityMode,
	}
	writeJSON(w, http.StatusOK, data)

	g.log.Debug("dashboard served",
		"request_id", RequestIDFrom(r.Context()),
		"took_ms", time.Since(start).Milliseconds(),
		"cb_subscriber", g.telemetry.State(),
		"stale", stale,
		"upstream_err", err,
		"airquality_items", len(data.AirQuality.Items))
}

func (g *Gateway) HandleAirQuality(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, g.air.View())
}

// HandleAirQualityRefresh answers 202 when a load starts and 409 when one
// is already running.
func (g *Gateway) HandleAirQualityRefresh(w http.ResponseWriter, r *http.Request) {
	if !g.air.RefreshAsync(g.bg) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "refresh already in progress"})
		return
	}
	g.log.Info("air quality refresh requested", "request_id", RequestIDFrom(r.Context()))
	writeJSON(w, http.StatusAccepted, g.air.View())
}

func (g *Gateway) HandleGetAccessibility(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, g.prefs.Get())
}

func (g *Gateway) HandlePutAccessibility(w http.ResponseWriter, r *http.Request) {
	var body accessibilityBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&body); err != nil || body.AccessibilityMode == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be {\"accessibility_mode\": bool}"})
		return
	}
	if err := g.prefs.SetAccessibilityMode(*body.AccessibilityMode); err != nil {
		g.log.Error("saving preferences failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not save preferences"})
		return
	}
	writeJSON(w, http.StatusOK, g.prefs.Get())
}

func (g *Gateway) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	type status struct {
		Status       string `json:"status"`
		CBSubscriber string `json:"cb_subscriber"`
	}
	st := status{Status: "ok", CBSubscriber: g.telemetry.State()}
	if st.CBSubscriber == "open" {
		st.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, st)
}
