// Package app is the SmartRoom dashboard gateway: it joins the latest
// telemetry, the city air quality feed and the user preferences.
package app

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/Andria35/SmartRoom/internal/airquality"
	"github.com/Andria35/SmartRoom/internal/observability/metrics"
	"github.com/Andria35/SmartRoom/internal/prefs"
)

type Config struct {
	SubscriberBaseURL string
	HTTPTimeout       time.Duration

	BreakerFailures int
	BreakerOpenFor  time.Duration

	Logger *slog.Logger
}

// AirQuality is satisfied by *airquality.Service.
type AirQuality interface {
	View() airquality.View
	RefreshAsync(ctx context.Context) bool
}

// Preferences is satisfied by *prefs.Store.
type Preferences interface {
	Get() prefs.Prefs
	SetAccessibilityMode(on bool) error
}

type Gateway struct {
	cfg       Config
	telemetry *Upstream
	air       AirQuality
	prefs     Preferences
	log       *slog.Logger

	// background refreshes outlive the request that started them
	bg context.Context

	mu       sync.RWMutex
	lastGood *TelemetryLatest
}

func NewGateway(ctx context.Context, cfg Config, air AirQuality, p Preferences) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "gateway")
	return &Gateway{
		cfg:       cfg,
		telemetry: NewUpstream("subscriber", cfg.SubscriberBaseURL, "/telemetry/latest", cfg.HTTPTimeout, cfg.BreakerFailures, cfg.BreakerOpenFor, logger),
		air:       air,
		prefs:     p,
		log:       logger,
		bg:        ctx,
	}
}

// Router returns every gateway route.
func (g *Gateway) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(RequestID)
	r.HandleFunc("/healthz", g.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/dashboard/data", g.HandleDashboard).Methods(http.MethodGet)
	r.HandleFunc("/airquality", g.HandleAirQuality).Methods(http.MethodGet)
	r.HandleFunc("/airquality/refresh", g.HandleAirQualityRefresh).Methods(http.MethodPost)
	r.HandleFunc("/settings/accessibility", g.HandleGetAccessibility).Methods(http.MethodGet)
	r.HandleFunc("/settings/accessibility", g.HandlePutAccessibility).Methods(http.MethodPut)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	return r
}
