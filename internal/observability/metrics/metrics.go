package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "smartroom_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	brokerConnects   *prometheus.CounterVec
	publishTotal     *prometheus.CounterVec
	messagesReceived *prometheus.CounterVec
	decodeErrors     prometheus.Counter

	historyWrites *prometheus.CounterVec

	airQualityRefresh   *prometheus.CounterVec
	airQualityLatency   *prometheus.HistogramVec
	airQualityItems     prometheus.Gauge
	upstreamRequests    *prometheus.CounterVec
	upstreamBreakerOpen *prometheus.GaugeVec
)

// Init registers SmartRoom metrics with the default registry. Safe to
// call more than once.
func Init() {
	registerOnce.Do(func() {
		brokerConnects = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "broker_connects_total",
				Help: "Broker connect attempts by result",
			},
			[]string{"result"},
		)
		publishTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "publish_total",
				Help: "Telemetry publishes by result",
			},
			[]string{"result"},
		)
		messagesReceived = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "messages_received_total",
				Help: "Messages received by topic",
			},
			[]string{"topic"},
		)
		decodeErrors = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "decode_errors_total",
				Help: "Telemetry payloads dropped as undecodable",
			},
		)

		historyWrites = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "history_writes_total",
				Help: "Telemetry points handed to the history store by result",
			},
			[]string{"result"},
		)

		airQualityRefresh = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "airquality_refresh_total",
				Help: "Air quality feed loads by result",
			},
			[]string{"result"},
		)
		airQualityLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "airquality_refresh_seconds",
				Help:    "Air quality feed load latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		airQualityItems = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "airquality_items",
				Help: "Items shown after the last successful load",
			},
		)
		upstreamRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "upstream_requests_total",
				Help: "Gateway upstream calls by upstream and result",
			},
			[]string{"upstream", "result"},
		)
		upstreamBreakerOpen = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "upstream_breaker_open",
				Help: "1 while the upstream circuit breaker is open",
			},
			[]string{"upstream"},
		)

		prometheus.MustRegister(
			brokerConnects,
			publishTotal,
			messagesReceived,
			decodeErrors,
			historyWrites,
			airQualityRefresh,
			airQualityLatency,
			airQualityItems,
			upstreamRequests,
			upstreamBreakerOpen,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func result(ok bool) string {
	if ok {
		return resultSuccess
	}
	return resultError
}

// Recorder feeds broker session events into the counters.
type Recorder struct{}

func (Recorder) ObserveConnect(ok bool) {
	if brokerConnects != nil {
		brokerConnects.WithLabelValues(result(ok)).Inc()
	}
}

func (Recorder) ObservePublish(res string) {
	if res == "" {
		res = "unknown"
	}
	if publishTotal != nil {
		publishTotal.WithLabelValues(res).Inc()
	}
}

func (Recorder) ObserveMessage(topic string) {
	if messagesReceived != nil {
		messagesReceived.WithLabelValues(topic).Inc()
	}
}

// IncDecodeError counts a dropped payload.
func IncDecodeError() {
	if decodeErrors != nil {
		decodeErrors.Inc()
	}
}

// ObserveHistoryWrite counts a point written to, or rejected by, InfluxDB.
func ObserveHistoryWrite(err error) {
	if historyWrites != nil {
		historyWrites.WithLabelValues(result(err == nil)).Inc()
	}
}

// ObserveAirQualityRefresh matches the air quality service refresh hook.
func ObserveAirQualityRefresh(err error, items int, took time.Duration) {
	res := result(err == nil)
	if airQualityRefresh != nil {
		airQualityRefresh.WithLabelValues(res).Inc()
	}
	if airQualityLatency != nil {
		airQualityLatency.WithLabelValues(res).Observe(took.Seconds())
	}
	if err == nil && airQualityItems != nil {
		airQualityItems.Set(float64(items))
	}
}

// ObserveUpstream counts one gateway call to upstream.
func ObserveUpstream(upstream string, err error) {
	if upstreamRequests != nil {
		upstreamRequests.WithLabelValues(upstream, result(err == nil)).Inc()
	}
}

// SetBreakerOpen tracks an upstream breaker transition.
func SetBreakerOpen(upstream string, open bool) {
	if upstreamBreakerOpen == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	upstreamBreakerOpen.WithLabelValues(upstream).Set(v)
}
