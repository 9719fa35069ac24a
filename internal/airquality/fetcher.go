package airquality

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/Andria35/SmartRoom/internal/observability/metrics"
)

// DefaultURL is the Madrid real-time air-quality endpoint.
const DefaultURL = "https://ciudadesabiertas.madrid.es/dynamicAPI/API/query/calair_tiemporeal.json?pageSize=5000"

// DefaultMaxRetries is how many times a transient failure is retried.
const DefaultMaxRetries = 2

// maxBody caps the feed size read into memory.
const maxBody = 32 << 20

// ErrReadTimeout is returned when the feed body stalls for longer than
// the read timeout.
var ErrReadTimeout = errors.New("airquality: read timeout")

// FetcherConfig configures the HTTP side of the air-quality feed.
// ReadTimeout bounds the wait for the response headers and every read of
// the body after them. Zero MaxRetries makes a single attempt.
type FetcherConfig struct {
	URL             string        `yaml:"url"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerOpen     time.Duration `yaml:"breaker_open"`
}

func (c FetcherConfig) withDefaults() FetcherConfig {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = 3
	}
	if c.BreakerOpen <= 0 {
		c.BreakerOpen = 30 * time.Second
	}
	return c
}

// HTTPError is a non-200 answer from the feed.
type HTTPError struct {
	Code int
}

func (e *HTTPError) Error() string { return fmt.Sprintf("HTTP error: %d", e.Code) }

// Fetcher downloads and decodes the feed. Attempts go through a circuit
// breaker; transient failures are retried with exponential backoff.
type Fetcher struct {
	cfg     FetcherConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *slog.Logger
}

// NewFetcher builds a fetcher with connect and response-header timeouts.
func NewFetcher(cfg FetcherConfig, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	log := logger.With("component", "airquality")

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.DialTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          4,
	}

	failures := uint32(cfg.BreakerFailures)
	return &Fetcher{
		cfg:    cfg,
		client: &http.Client{Transport: transport},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "airquality-feed",
			Timeout: cfg.BreakerOpen,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
				metrics.SetBreakerOpen(name, to == gobreaker.StateOpen)
			},
		}),
		log: log,
	}
}

// BreakerState reports the breaker state name.
func (f *Fetcher) BreakerState() string { return f.breaker.State().String() }

// Fetch downloads the feed and returns its records.
func (f *Fetcher) Fetch(ctx context.Context) ([]Record, error) {
	var records []Record
	attempt := 0
	op := func() error {
		attempt++
		res, err := f.breaker.Execute(func() (any, error) {
			return f.get(ctx)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			var he *HTTPError
			if errors.As(err, &he) && he.Code >= 400 && he.Code < 500 {
				return backoff.Permanent(err)
			}
			f.log.Warn("air quality fetch attempt failed", "attempt", attempt, "err", err)
			return err
		}
		records = res.([]Record)
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 30 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(f.cfg.MaxRetries)), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	f.log.Info("air quality feed fetched", "records", len(records), "attempts", attempt)
	return records, nil
}

func (f *Fetcher) get(ctx context.Context) ([]Record, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &HTTPError{Code: resp.StatusCode}
	}

	var stalled atomic.Bool
	timer := time.AfterFunc(f.cfg.ReadTimeout, func() {
		stalled.Store(true)
		cancel()
	})
	defer timer.Stop()
	body := &idleReader{r: io.LimitReader(resp.Body, maxBody), timer: timer, idle: f.cfg.ReadTimeout}

	var feed Feed
	if err := json.NewDecoder(body).Decode(&feed); err != nil {
		if stalled.Load() {
			return nil, fmt.Errorf("%w after %v", ErrReadTimeout, f.cfg.ReadTimeout)
		}
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	return feed.Records, nil
}

// idleReader pushes the read deadline back every time data arrives.
type idleReader struct {
	r     io.Reader
	timer *time.Timer
	idle  time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.timer.Reset(r.idle)
	}
	return n, err
}
