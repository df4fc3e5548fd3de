// Package metrics holds the Prometheus instrumentation for the pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// Registry holds all Prometheus collectors for the pipeline.
type Registry struct {
	// Ingest side
	SSIMessagesReceived *prometheus.CounterVec
	ClassifyDuration    prometheus.Histogram

	// Client fan-out side
	WSConnectionsActive *prometheus.GaugeVec
	WSMessagesSent      *prometheus.CounterVec
	WSMessagesDropped   *prometheus.CounterVec

	// Persistence side
	DBWriteDuration  *prometheus.HistogramVec
	DBPoolActive     prometheus.Gauge
	DBRecordsDropped *prometheus.CounterVec

	// Alerts and HTTP surface
	AlertsFired         *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewRegistry builds a Registry registered on the default Prometheus registerer.
func NewRegistry() *Registry {
	return NewRegistryWith(prometheus.DefaultRegisterer)
}

// NewRegistryWith builds a Registry registered on reg. Tests pass a private
// prometheus.NewRegistry to avoid duplicate-registration panics.
func NewRegistryWith(reg prometheus.Registerer) *Registry {
	r := &Registry{
		SSIMessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssi_messages_received_total",
				Help: "Upstream SSI stream messages received, by channel",
			},
			[]string{"channel"},
		),

		ClassifyDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trade_classification_duration_seconds",
				Help:    "Time spent classifying a single trade",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
			},
		),

		WSConnectionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ws_connections_active",
				Help: "Connected browser clients, by channel",
			},
			[]string{"channel"},
		),

		WSMessagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ws_messages_sent_total",
				Help: "Messages pushed to browser clients, by channel",
			},
			[]string{"channel"},
		),

		WSMessagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ws_messages_dropped_total",
				Help: "Messages dropped from full client queues, by channel",
			},
			[]string{"channel"},
		),

		DBWriteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_write_duration_seconds",
				Help:    "Batch insert duration, by table",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"table"},
		),

		DBPoolActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_pool_active_connections",
				Help: "Open connections in the database pool",
			},
		),

		DBRecordsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_records_dropped_total",
				Help: "Records dropped from full persistence queues, by table",
			},
			[]string{"table"},
		),

		AlertsFired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alert_signals_fired_total",
				Help: "Alerts accepted by the alert service, by signal type",
			},
			[]string{"signal_type"},
		),

		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"method", "path", "status_code"},
		),
	}

	reg.MustRegister(
		r.SSIMessagesReceived,
		r.ClassifyDuration,
		r.WSConnectionsActive,
		r.WSMessagesSent,
		r.WSMessagesDropped,
		r.DBWriteDuration,
		r.DBPoolActive,
		r.DBRecordsDropped,
		r.AlertsFired,
		r.HTTPRequestDuration,
	)

	return r
}

// WriteTimer times one batch insert.
type WriteTimer struct {
	registry *Registry
	table    string
	start    time.Time
}

// StartWriteTimer begins timing a batch insert for table.
func (r *Registry) StartWriteTimer(table string) *WriteTimer {
	return &WriteTimer{registry: r, table: table, start: time.Now()}
}

// Stop records the elapsed insert time.
func (t *WriteTimer) Stop() {
	t.registry.DBWriteDuration.WithLabelValues(t.table).Observe(time.Since(t.start).Seconds())
}

// TotalWSConnections sums the active-connection gauge across channels.
func (r *Registry) TotalWSConnections(channels []string) float64 {
	var m dto.Metric
	total := 0.0
	for _, ch := range channels {
		gauge, err := r.WSConnectionsActive.GetMetricWithLabelValues(ch)
		if err != nil {
			continue
		}
		if err := gauge.Write(&m); err == nil {
			total += m.GetGauge().GetValue()
		}
	}
	return total
}

// Handler returns the Prometheus text exposition endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}

// Default is the process-wide registry instance.
var Default *Registry

// Init initializes the global registry.
func Init() {
	Default = NewRegistry()
	log.Info().Msg("Prometheus metrics registry initialized")
}
