// Package metrics exposes the pipeline's Prometheus counters/histograms/
// gauges, grounded on the teacher's PrometheusMetrics (same
// register-then-serve idiom, generalized from gap-detection/exchange-status
// labels to the signal-pipeline's ingestion, detector and repository
// concerns).
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// PrometheusMetrics handles all Prometheus metrics for the signal pipeline.
type PrometheusMetrics struct {
	TicksProcessed    *prometheus.CounterVec
	ProcessingLatency *prometheus.HistogramVec

	AlertsEmitted *prometheus.CounterVec

	CandleIntegrityPercent *prometheus.GaugeVec
	BackfillsTriggered     *prometheus.CounterVec

	ExchangeConnected      *prometheus.GaugeVec
	WebSocketReconnects    *prometheus.CounterVec
	TimeOracleOffsetMillis *prometheus.GaugeVec

	RedisOperations *prometheus.CounterVec

	AlertCooldownLastTriggerMillis *prometheus.GaugeVec

	logger *zap.Logger
	server *http.Server
}

func NewPrometheusMetrics(logger *zap.Logger) *PrometheusMetrics {
	m := &PrometheusMetrics{
		logger: logger.Named("metrics"),

		TicksProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulseintel_ticks_processed_total",
				Help: "Total number of kline ticks processed by the pipeline",
			},
			[]string{"symbol", "closed"},
		),

		ProcessingLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulseintel_processing_latency_seconds",
				Help:    "Time spent running a closed candle through the detector chain",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
			[]string{"symbol"},
		),

		AlertsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulseintel_alerts_emitted_total",
				Help: "Total number of alerts emitted, by kind and whether new or updated",
			},
			[]string{"kind", "event"},
		),

		CandleIntegrityPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pulseintel_candle_integrity_percent",
				Help: "Most recently observed candle integrity percentage per symbol",
			},
			[]string{"symbol"},
		),

		BackfillsTriggered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulseintel_backfills_triggered_total",
				Help: "Total number of REST backfills triggered by integrity checks or new watchlist entries",
			},
			[]string{"symbol", "reason"},
		),

		ExchangeConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pulseintel_exchange_connected",
				Help: "Exchange WebSocket connection status (1=connected, 0=disconnected)",
			},
			[]string{"exchange"},
		),

		WebSocketReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulseintel_websocket_reconnects_total",
				Help: "Total number of WebSocket reconnections",
			},
			[]string{"exchange", "reason"},
		),

		TimeOracleOffsetMillis: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pulseintel_time_oracle_offset_millis",
				Help: "Most recently measured clock offset in milliseconds",
			},
			[]string{"source"},
		),

		RedisOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulseintel_redis_operations_total",
				Help: "Total number of Redis operations",
			},
			[]string{"operation", "status"},
		),

		AlertCooldownLastTriggerMillis: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pulseintel_alert_cooldown_last_trigger_millis",
				Help: "Timestamp of the most recent finalized true-close volume alert per symbol, for cooldown bookkeeping",
			},
			[]string{"symbol"},
		),
	}

	prometheus.MustRegister(
		m.TicksProcessed,
		m.ProcessingLatency,
		m.AlertsEmitted,
		m.CandleIntegrityPercent,
		m.BackfillsTriggered,
		m.ExchangeConnected,
		m.WebSocketReconnects,
		m.TimeOracleOffsetMillis,
		m.RedisOperations,
		m.AlertCooldownLastTriggerMillis,
	)

	return m
}

// Start starts the Prometheus metrics HTTP server.
func (m *PrometheusMetrics) Start(port string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	m.server = &http.Server{Addr: ":" + port, Handler: mux}

	m.logger.Info("starting metrics server", zap.String("port", port))

	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("metrics server error", zap.Error(err))
		}
	}()

	return nil
}

func (m *PrometheusMetrics) Stop() error {
	if m.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.server.Shutdown(ctx)
}

func (m *PrometheusMetrics) RecordTick(symbol string, closed bool) {
	closedLabel := "false"
	if closed {
		closedLabel = "true"
	}
	m.TicksProcessed.WithLabelValues(symbol, closedLabel).Inc()
}

func (m *PrometheusMetrics) RecordProcessingLatency(symbol string, d time.Duration) {
	m.ProcessingLatency.WithLabelValues(symbol).Observe(d.Seconds())
}

func (m *PrometheusMetrics) RecordAlertEmitted(kind, event string) {
	m.AlertsEmitted.WithLabelValues(kind, event).Inc()
}

func (m *PrometheusMetrics) SetCandleIntegrity(symbol string, percent float64) {
	m.CandleIntegrityPercent.WithLabelValues(symbol).Set(percent)
}

func (m *PrometheusMetrics) RecordBackfillTriggered(symbol, reason string) {
	m.BackfillsTriggered.WithLabelValues(symbol, reason).Inc()
}

func (m *PrometheusMetrics) SetExchangeConnected(exchange string, connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	m.ExchangeConnected.WithLabelValues(exchange).Set(v)
}

func (m *PrometheusMetrics) RecordWebSocketReconnect(exchange, reason string) {
	m.WebSocketReconnects.WithLabelValues(exchange, reason).Inc()
}

func (m *PrometheusMetrics) SetTimeOracleOffset(source string, offsetMs int64) {
	m.TimeOracleOffsetMillis.WithLabelValues(source).Set(float64(offsetMs))
}

func (m *PrometheusMetrics) RecordRedisOperation(operation, status string) {
	m.RedisOperations.WithLabelValues(operation, status).Inc()
}

func (m *PrometheusMetrics) SetAlertCooldown(symbol string, triggerMs int64) {
	m.AlertCooldownLastTriggerMillis.WithLabelValues(symbol).Set(float64(triggerMs))
}
