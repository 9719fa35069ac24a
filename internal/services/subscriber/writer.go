package subscriber

import (
	"log/slog"
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/Andria35/SmartRoom/internal/model"
	"github.com/Andria35/SmartRoom/internal/observability/metrics"
)

// PointWriter is the part of the Influx WriteAPI the writer needs.
type PointWriter interface {
	WritePoint(point *write.Point)
	Errors() <-chan error
}

// Writer hands snapshots to the async Influx WriteAPI and remembers when
// the last write failed, for /healthz and /readyz.
type Writer struct {
	api   PointWriter
	topic string
	log   *slog.Logger
	now   func() time.Time

	mu      sync.RWMutex
	lastErr time.Time
	written int64
}

// NewWriter starts draining the async error channel of w.
func NewWriter(w PointWriter, topic string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	ww := &Writer{
		api:     w,
		topic:   topic,
		log:     logger.With("component", "influx-writer"),
		now:     time.Now,
		lastErr: time.Now().Add(-24 * time.Hour),
	}
	go func() {
		for err := range w.Errors() {
			if err == nil {
				continue
			}
			ww.mu.Lock()
			ww.lastErr = ww.now()
			ww.mu.Unlock()
			metrics.ObserveHistoryWrite(err)
			ww.log.Error("influx write failed", "err", err)
		}
	}()
	return ww
}

// Write queues one point. It never blocks on the network.
func (w *Writer) Write(s model.SensorSnapshot) {
	if w == nil {
		return
	}
	w.api.WritePoint(SnapshotToPoint(w.topic, s, w.now()))
	w.mu.Lock()
	w.written++
	w.mu.Unlock()
	metrics.ObserveHistoryWrite(nil)
}

// LastErrorAge reports how long ago a write last failed. A nil writer
// reports a large age.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return w.now().Sub(t)
}

// Written counts queued points.
func (w *Writer) Written() int64 {
	if w == nil {
		return 0
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.written
}
