package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all calfeed metrics
const namespace = "calfeed"

// Registry is the global Prometheus registry for all metrics
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// ExportsTotal counts compiled calendar documents by status
// (ok, empty, degraded, failed).
var ExportsTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "exports_total",
		Help:      "Total number of calendar exports by status",
	},
	[]string{"status"},
)

// EventsCompiled counts events that made it into a document.
var EventsCompiled = promauto.With(Registry).NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_compiled_total",
		Help:      "Total number of events written into calendar documents",
	},
)

// EventsSkipped counts events dropped during compilation by reason.
var EventsSkipped = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_skipped_total",
		Help:      "Total number of events dropped during compilation",
	},
	[]string{"reason"},
)

// DateFallbacks counts field values replaced by their fallback.
var DateFallbacks = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "date_fallbacks_total",
		Help:      "Total number of event fields replaced by a fallback value",
	},
	[]string{"field"},
)

// PublishRuns counts publisher runs by result (ok, partial, failed).
var PublishRuns = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "publish_runs_total",
		Help:      "Total number of scheduled publish runs by result",
	},
	[]string{"result"},
)
