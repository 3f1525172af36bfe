// Package metrics holds the prometheus collectors shared by the client packages.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes of one chat reconciliation cycle.
const (
	CycleReplaced  = "replaced"
	CycleUnchanged = "unchanged"
	CycleError     = "error"
	CycleNotFound  = "not_found"
	CycleDiscarded = "discarded"
)

// Outcomes of one request list refresh.
const (
	RefreshChanged   = "changed"
	RefreshUnchanged = "unchanged"
	RefreshError     = "error"
)

var (
	Registry = prometheus.NewRegistry()

	ChatCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voltguard",
		Subsystem: "chat",
		Name:      "cycles_total",
		Help:      "Chat reconciliation cycles by outcome.",
	}, []string{"outcome"})

	ActiveChatLoops = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "voltguard",
		Subsystem: "chat",
		Name:      "active_loops",
		Help:      "Chat polling loops currently running.",
	})

	ListRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voltguard",
		Subsystem: "requests",
		Name:      "refreshes_total",
		Help:      "Fault request list refreshes by outcome.",
	}, []string{"outcome"})

	APIRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "voltguard",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "Backend call latency by method and response class.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "class"})

	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voltguard",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Domain events published on the bus by kind.",
	}, []string{"kind"})

	EventsRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voltguard",
		Subsystem: "notifier",
		Name:      "relayed_total",
		Help:      "Broker events received by the notifier by kind.",
	}, []string{"kind"})
)

func init() {
	Registry.MustRegister(ChatCycles, ActiveChatLoops, ListRefreshes, APIRequestDuration, EventsPublished, EventsRelayed)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
