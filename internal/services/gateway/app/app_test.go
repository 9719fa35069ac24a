package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Andria35/SmartRoom/internal/airquality"
	"github.com/Andria35/SmartRoom/internal/model"
	"github.com/Andria35/SmartRoom/internal/prefs"
)

type fakeAir struct {
	view    airquality.View
	loading atomic.Bool
}

func (f *fakeAir) View() airquality.View {
	v := f.view
	v.Loading = f.loading.Load()
	return v
}

func (f *fakeAir) RefreshAsync(context.Context) bool { return f.loading.CompareAndSwap(false, true) }

type memPrefs struct{ p prefs.Prefs }

func (m *memPrefs) Get() prefs.Prefs { return m.p }

func (m *memPrefs) SetAccessibilityMode(on bool) error {
	m.p.AccessibilityMode = on
	return nil
}

func newGateway(t *testing.T, subscriberURL string) (*Gateway, *fakeAir, *memPrefs) {
	t.Helper()
	air := &fakeAir{view: airquality.View{Items: []model.AirQualityItem{{Station: "Escuelas Aguirre", Value: "42 µg/m³"}}}}
	p := &memPrefs{}
	g := NewGateway(context.Background(), Config{
		SubscriberBaseURL: subscriberURL,
		HTTPTimeout:       time.Second,
		BreakerFailures:   2,
		BreakerOpenFor:    time.Minute,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, air, p)
	return g, air, p
}

func serve(g *Gateway, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)
	return rec
}

func decodeDashboard(t *testing.T, rec *httptest.ResponseRecorder) DashboardData {
	t.Helper()
	var d DashboardData
	if err := json.NewDecoder(rec.Body).Decode(&d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return d
}

func TestDashboardJoinsSources(t *testing.T) {
	sub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/telemetry/latest" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"status":"listening","snapshot":{"light":43,"ax":0,"ay":0,"az":9.81,"sound":120},"has_snapshot":true,"received":5}`)
	}))
	defer sub.Close()

	g, _, p := newGateway(t, sub.URL)
	p.p.AccessibilityMode = true

	d := decodeDashboard(t, serve(g, http.MethodGet, "/dashboard/data", "", nil))
	if d.TelemetryStale || d.Telemetry.Status != "listening" || d.Telemetry.Snapshot.IlluminanceLux != 43 {
		t.Errorf("telemetry = %+v stale=%v", d.Telemetry, d.TelemetryStale)
	}
	if len(d.AirQuality.Items) != 1 || !d.AccessibilityMode {
		t.Errorf("dashboard = %+v", d)
	}
}

func TestDashboardServesLastGoodWhenUpstreamFails(t *testing.T) {
	var fail atomic.Bool
	var calls atomic.Int32
	sub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"status":"listening","snapshot":{"light":7},"has_snapshot":true}`)
	}))
	defer sub.Close()

	g, _, _ := newGateway(t, sub.URL)
	serve(g, http.MethodGet, "/dashboard/data", "", nil)

	fail.Store(true)
	for i := 0; i < 3; i++ {
		d := decodeDashboard(t, serve(g, http.MethodGet, "/dashboard/data", "", nil))
		if !d.TelemetryStale || d.Telemetry.Snapshot.IlluminanceLux != 7 {
			t.Fatalf("round %d: telemetry = %+v stale=%v", i, d.Telemetry, d.TelemetryStale)
		}
	}
	// two failures trip the breaker, the third call never reaches upstream
	if got := calls.Load(); got != 3 {
		t.Errorf("upstream calls = %d, want 3", got)
	}
	if g.telemetry.State() != "open" {
		t.Errorf("breaker = %s, want open", g.telemetry.State())
	}

	var health struct {
		Status string `json:"status"`
	}
	_ = json.NewDecoder(serve(g, http.MethodGet, "/healthz", "", nil).Body).Decode(&health)
	if health.Status != "degraded" {
		t.Errorf("health = %q, want degraded", health.Status)
	}
}

func TestDashboardWithoutAnyTelemetry(t *testing.T) {
	g, _, _ := newGateway(t, "")
	d := decodeDashboard(t, serve(g, http.MethodGet, "/dashboard/data", "", nil))
	if !d.TelemetryStale || d.Telemetry.Status != "unavailable" {
		t.Errorf("telemetry = %+v", d.Telemetry)
	}
}

func TestAirQualityRefreshConflict(t *testing.T) {
	g, _, _ := newGateway(t, "")

	rec := serve(g, http.MethodPost, "/airquality/refresh", "", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("first refresh = %d", rec.Code)
	}
	var v airquality.View
	_ = json.NewDecoder(rec.Body).Decode(&v)
	if !v.Loading {
		t.Error("view not loading after refresh")
	}
	if rec := serve(g, http.MethodPost, "/airquality/refresh", "", nil); rec.Code != http.StatusConflict {
		t.Errorf("second refresh = %d, want 409", rec.Code)
	}
	if rec := serve(g, http.MethodGet, "/airquality", "", nil); rec.Code != http.StatusOK {
		t.Errorf("GET /airquality = %d", rec.Code)
	}
}

func TestAccessibilitySettings(t *testing.T) {
	g, _, p := newGateway(t, "")

	rec := serve(g, http.MethodPut, "/settings/accessibility", `{"accessibility_mode":true}`, nil)
	if rec.Code != http.StatusOK || !p.p.AccessibilityMode {
		t.Fatalf("PUT = %d, stored = %v", rec.Code, p.p.AccessibilityMode)
	}
	var got prefs.Prefs
	_ = json.NewDecoder(serve(g, http.MethodGet, "/settings/accessibility", "", nil).Body).Decode(&got)
	if !got.AccessibilityMode {
		t.Error("GET did not reflect PUT")
	}

	for _, body := range []string{`{}`, `not json`, `{"accessibility_mode":"yes"}`} {
		if rec := serve(g, http.MethodPut, "/settings/accessibility", body, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("PUT %s = %d, want 400", body, rec.Code)
		}
	}
}

func TestRequestID(t *testing.T) {
	g, _, _ := newGateway(t, "")

	rec := serve(g, http.MethodGet, "/healthz", "", map[string]string{HeaderRequestID: "abc-123"})
	if got := rec.Header().Get(HeaderRequestID); got != "abc-123" {
		t.Errorf("echoed id = %q", got)
	}
	rec = serve(g, http.MethodGet, "/healthz", "", nil)
	if got := rec.Header().Get(HeaderRequestID); len(got) != 36 {
		t.Errorf("generated id = %q", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	g, _, _ := newGateway(t, "")
	if rec := serve(g, http.MethodDelete, "/settings/accessibility", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("code = %d, want 405", rec.Code)
	}
}
