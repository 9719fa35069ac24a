package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Andria35/SmartRoom/internal/observability/metrics"
)

// ErrNotConfigured is returned by an Upstream without a base URL.
var ErrNotConfigured = errors.New("upstream not configured")

// Upstream wraps GET calls to one service behind a circuit breaker.
type Upstream struct {
	name    string
	base    string
	path    string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func mkCB(name string, fails int, openFor time.Duration, logger *slog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(fails)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("upstream breaker state change", "upstream", name, "from", from.String(), "to", to.String())
			metrics.SetBreakerOpen(name, to == gobreaker.StateOpen)
		},
	})
}

// NewUpstream builds a client for base+path.
func NewUpstream(name, base, path string, timeout time.Duration, fails int, openFor time.Duration, logger *slog.Logger) *Upstream {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	path = "/" + strings.TrimLeft(strings.TrimSpace(path), "/")
	return &Upstream{
		name:    name,
		base:    base,
		path:    path,
		client:  &http.Client{Timeout: timeout},
		breaker: mkCB(name, fails, openFor, logger),
	}
}

// GetJSON runs the GET through the breaker and decodes into out.
func (u *Upstream) GetJSON(ctx context.Context, out any) error {
	if u == nil || u.base == "" {
		return ErrNotConfigured
	}
	_, err := u.breaker.Execute(func() (any, error) {
		return nil, u.get(ctx, out)
	})
	metrics.ObserveUpstream(u.name, err)
	return err
}

func (u *Upstream) get(ctx context.Context, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.base+u.path, nil)
	if err != nil {
		return err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request error: %w", u.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s upstream status %d", u.name, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s decode error: %w", u.name, err)
	}
	return nil
}

// State names the breaker state.
func (u *Upstream) State() string {
	if u == nil {
		return "none"
	}
	return u.breaker.State().String()
}
