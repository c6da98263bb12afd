package observability

import (
    "strconv"
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    registerOnce sync.Once

    packets = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "mcpbridge",
            Subsystem: "osc",
            Name:      "packets_total",
            Help:      "OSC packets by direction and outcome.",
        },
        []string{"direction", "outcome"},
    )
    violations = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "mcpbridge",
            Subsystem: "security",
            Name:      "violations_total",
            Help:      "Inbound messages rejected by the security policy.",
        },
        []string{"kind"},
    )
    routed = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "mcpbridge",
            Subsystem: "router",
            Name:      "messages_total",
            Help:      "Route requests by destination channel and outcome.",
        },
        []string{"destination", "outcome"},
    )
    queueDepth = prometheus.NewGauge(
        prometheus.GaugeOpts{
            Namespace: "mcpbridge",
            Subsystem: "router",
            Name:      "queue_depth",
            Help:      "Messages waiting in the priority queue.",
        },
    )
    connState = prometheus.NewGaugeVec(
        prometheus.GaugeOpts{
            Namespace: "mcpbridge",
            Subsystem: "connection",
            Name:      "state",
            Help:      "1 for the current connection state, 0 otherwise.",
        },
        []string{"state"},
    )
    httpRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "mcpbridge",
            Subsystem: "http",
            Name:      "requests_total",
            Help:      "Total HTTP gateway requests.",
        },
        []string{"method", "path", "status"},
    )
    httpDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{
            Namespace: "mcpbridge",
            Subsystem: "http",
            Name:      "request_duration_seconds",
            Help:      "HTTP gateway request duration in seconds.",
            Buckets:   prometheus.DefBuckets,
        },
        []string{"method", "path", "status"},
    )
)

// ConnectionStates lists every label value of the state gauge.
var ConnectionStates = []string{"disconnected", "connecting", "connected", "error"}

func RegisterMetrics() {
    registerOnce.Do(func() {
        prometheus.MustRegister(packets, violations, routed, queueDepth, connState, httpRequests, httpDuration)
    })
}

// RecordPacket counts one packet. direction is in or out; outcome is ok,
// malformed, dropped or failed.
func RecordPacket(direction, outcome string) {
    RegisterMetrics()
    packets.WithLabelValues(direction, outcome).Inc()
}

func RecordViolation(kind string) {
    RegisterMetrics()
    violations.WithLabelValues(kind).Inc()
}

// RecordRoute counts a route request; outcome is queued, rejected, invalid,
// dispatched or failed.
func RecordRoute(destination, outcome string) {
    RegisterMetrics()
    routed.WithLabelValues(destination, outcome).Inc()
}

func SetQueueDepth(n int) {
    RegisterMetrics()
    queueDepth.Set(float64(n))
}

func SetConnectionState(state string) {
    RegisterMetrics()
    for _, s := range ConnectionStates {
        v := 0.0
        if s == state {
            v = 1
        }
        connState.WithLabelValues(s).Set(v)
    }
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
    RegisterMetrics()
    statusLabel := strconv.Itoa(status)
    httpRequests.WithLabelValues(method, path, statusLabel).Inc()
    httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
