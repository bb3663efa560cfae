package observability

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yungbote/workspace-core/internal/platform/envutil"
	"github.com/yungbote/workspace-core/internal/platform/logger"
)

// Metrics is nil-safe: every method is a no-op on a nil receiver, so callers
// never check whether metrics are enabled.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	revisions      *prometheus.CounterVec
	realtimePub    *prometheus.CounterVec
	realtimeDrop   *prometheus.CounterVec
	realtimeConns  prometheus.Gauge
	permissionDeny *prometheus.CounterVec
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", false)
}

// Init builds the process-wide instance once. It returns nil when metrics
// are disabled.
func Init(log *logger.Logger) *Metrics {
	initOnce.Do(func() {
		if !Enabled() {
			return
		}
		instance = NewMetrics(prometheus.NewRegistry())
		if log != nil {
			log.Info("metrics enabled")
		}
	})
	return instance
}

// NewMetrics registers every collector on reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workspace_api_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "workspace_api_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		apiInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "workspace_api_inflight_requests",
			Help: "HTTP requests currently being served.",
		}),
		revisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workspace_revisions_total",
			Help: "Revisions appended, by operation and actor type.",
		}, []string{"operation", "actor_type"}),
		realtimePub: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workspace_realtime_published_total",
			Help: "Change events published, by channel and outcome.",
		}, []string{"channel", "status"}),
		realtimeDrop: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workspace_realtime_dropped_total",
			Help: "Events dropped because a subscriber buffer was full.",
		}, []string{"channel"}),
		realtimeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "workspace_realtime_connections",
			Help: "Open realtime stream connections.",
		}),
		permissionDeny: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workspace_permission_denied_total",
			Help: "Requests refused by the permission gate.",
		}, []string{"check"}),
	}
	reg.MustRegister(
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.revisions, m.realtimePub, m.realtimeDrop, m.realtimeConns,
		m.permissionDeny,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on addr until ctx is done.
func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route, status).Observe(dur.Seconds())
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) IncRevision(operation, actorType string) {
	if m == nil {
		return
	}
	m.revisions.WithLabelValues(operation, actorType).Inc()
}

func (m *Metrics) IncRealtimePublished(channel, status string) {
	if m == nil {
		return
	}
	m.realtimePub.WithLabelValues(channelLabel(channel), status).Inc()
}

func (m *Metrics) IncRealtimeDropped(channel string) {
	if m == nil {
		return
	}
	m.realtimeDrop.WithLabelValues(channelLabel(channel)).Inc()
}

func (m *Metrics) RealtimeConnInc() {
	if m == nil {
		return
	}
	m.realtimeConns.Inc()
}

func (m *Metrics) RealtimeConnDec() {
	if m == nil {
		return
	}
	m.realtimeConns.Dec()
}

func (m *Metrics) IncPermissionDenied(check string) {
	if m == nil {
		return
	}
	m.permissionDeny.WithLabelValues(check).Inc()
}

// channelLabel folds per-user channels into one label value.
func channelLabel(channel string) string {
	if strings.HasPrefix(channel, "user:") {
		return "user:*"
	}
	return channel
}
