package utils

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Tracks performance metrics across the system
type MetricsCollector struct {
	mu           sync.RWMutex
	requestCount uint64
	errorCount   uint64

	// Maps operation name to list of latencies in nanoseconds
	operationTimes map[string][]int64

	systemStartTime time.Time

	registry    *prometheus.Registry
	opLatency   *prometheus.HistogramVec
	requests    prometheus.Counter
	errors      prometheus.Counter
	wsEvents    *prometheus.CounterVec
	onlineUsers prometheus.Gauge
}

// maxSamples bounds the per-operation latency window kept in memory.
const maxSamples = 1024

func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{
		operationTimes:  make(map[string][]int64),
		systemStartTime: time.Now(),
		registry:        prometheus.NewRegistry(),
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chat_operation_seconds",
			Help:    "Latency of engine operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_requests_total",
			Help: "HTTP and websocket requests handled.",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_errors_total",
			Help: "Requests answered with an error.",
		}),
		wsEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Websocket events by name, inbound and outbound.",
		}, []string{"event"}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_online_users",
			Help: "Users holding a live connection.",
		}),
	}
	mc.registry.MustRegister(mc.opLatency, mc.requests, mc.errors, mc.wsEvents, mc.onlineUsers)
	return mc
}

// Registry exposes the collector's prometheus registry for /metrics.
func (mc *MetricsCollector) Registry() *prometheus.Registry {
	return mc.registry
}

func (mc *MetricsCollector) IncrementRequests() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.requestCount++
	mc.requests.Inc()
}

func (mc *MetricsCollector) IncrementErrors() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.errorCount++
	mc.errors.Inc()
}

func (mc *MetricsCollector) RecordEvent(event string) {
	mc.wsEvents.WithLabelValues(event).Inc()
}

func (mc *MetricsCollector) SetOnlineUsers(n int) {
	mc.onlineUsers.Set(float64(n))
}

func (mc *MetricsCollector) AddOperationLatency(operationName string, duration time.Duration) {
	mc.opLatency.WithLabelValues(operationName).Observe(duration.Seconds())

	mc.mu.Lock()
	defer mc.mu.Unlock()

	samples := append(mc.operationTimes[operationName], duration.Nanoseconds())
	if len(samples) > maxSamples {
		samples = samples[len(samples)-maxSamples:]
	}
	mc.operationTimes[operationName] = samples
}

// Snapshot is a point-in-time view used by the health endpoint.
type Snapshot struct {
	Requests       uint64                   `json:"requests"`
	Errors         uint64                   `json:"errors"`
	Uptime         string                   `json:"uptime"`
	AverageLatency map[string]time.Duration `json:"averageLatency"`
}

func (mc *MetricsCollector) Snapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	avg := make(map[string]time.Duration, len(mc.operationTimes))
	for op, samples := range mc.operationTimes {
		if len(samples) == 0 {
			continue
		}
		var total int64
		for _, s := range samples {
			total += s
		}
		avg[op] = time.Duration(total / int64(len(samples)))
	}
	return Snapshot{
		Requests:       mc.requestCount,
		Errors:         mc.errorCount,
		Uptime:         time.Since(mc.systemStartTime).Round(time.Second).String(),
		AverageLatency: avg,
	}
}
