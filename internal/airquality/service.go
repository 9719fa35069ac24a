package airquality

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Andria35/SmartRoom/internal/model"
)

// ErrAlreadyLoading is returned when a refresh is requested while one is
// in progress.
var ErrAlreadyLoading = errors.New("airquality: load already in progress")

// Source yields raw feed records.
type Source interface {
	Fetch(ctx context.Context) ([]Record, error)
}

// View is what the service exposes to readers.
type View struct {
	Items   []model.AirQualityItem `json:"items"`
	Loading bool                   `json:"loading"`
	Error   string                 `json:"error,omitempty"`
	Updated time.Time              `json:"updated,omitempty"`
}

// Service keeps the latest normalized items. Items are replaced wholesale
// on every successful load and kept as they were when a load fails.
type Service struct {
	src       Source
	log       *slog.Logger
	now       func() time.Time
	onRefresh func(err error, items int, took time.Duration)

	loading atomic.Bool

	mu      sync.RWMutex
	items   []model.AirQualityItem
	lastErr string
	updated time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithRefreshHook observes every completed load.
func WithRefreshHook(fn func(err error, items int, took time.Duration)) ServiceOption {
	return func(s *Service) { s.onRefresh = fn }
}

// NewService creates a service over src.
func NewService(src Source, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		src:   src,
		log:   logger.With("component", "airquality"),
		now:   time.Now,
		items: []model.AirQualityItem{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Refresh loads the feed synchronously. A refresh requested while another
// is running returns ErrAlreadyLoading without touching the network.
func (s *Service) Refresh(ctx context.Context) error {
	if !s.loading.CompareAndSwap(false, true) {
		return ErrAlreadyLoading
	}
	return s.load(ctx)
}

// RefreshAsync starts a load in the background and reports whether it
// started.
func (s *Service) RefreshAsync(ctx context.Context) bool {
	if !s.loading.CompareAndSwap(false, true) {
		return false
	}
	go func() { _ = s.load(ctx) }()
	return true
}

// load runs with the loading flag held and releases it.
func (s *Service) load(ctx context.Context) error {
	defer s.loading.Store(false)
	start := s.now()

	s.mu.Lock()
	s.lastErr = ""
	s.mu.Unlock()

	records, err := s.src.Fetch(ctx)
	took := s.now().Sub(start)
	if err != nil {
		msg := errorMessage(err)
		s.mu.Lock()
		s.lastErr = msg
		s.mu.Unlock()
		s.log.Error("air quality load failed", "err", err)
		if s.onRefresh != nil {
			s.onRefresh(err, 0, took)
		}
		return err
	}

	items := Normalize(records)
	s.mu.Lock()
	s.items = items
	s.updated = s.now()
	s.mu.Unlock()
	s.log.Info("air quality items updated", "records", len(records), "items", len(items))
	if s.onRefresh != nil {
		s.onRefresh(nil, len(items), took)
	}
	return nil
}

func errorMessage(err error) string {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Error()
	}
	return "Error: " + err.Error()
}

// View returns the current items and loading state.
func (s *Service) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]model.AirQualityItem, len(s.items))
	copy(items, s.items)
	return View{
		Items:   items,
		Loading: s.loading.Load(),
		Error:   s.lastErr,
		Updated: s.updated,
	}
}

// Run refreshes now and then every interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if err := s.Refresh(ctx); err != nil && !errors.Is(err, ErrAlreadyLoading) {
		s.log.Debug("initial air quality load failed", "err", err)
	}
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.Refresh(ctx); errors.Is(err, ErrAlreadyLoading) {
				s.log.Debug("scheduled refresh skipped, load in progress")
			}
		}
	}
}
