package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ragmon_events_ingested_total",
		Help: "Monitoring messages converted into stream events, grouped by message shape",
	}, []string{"kind"})

	ingestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ragmon_ingest_failures_total",
		Help: "Monitoring messages that could not be decoded or stored, grouped by source",
	}, []string{"source"})

	eventsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ragmon_events_pruned_total",
		Help: "Events dropped from the in-memory store after the retention window",
	})

	storedEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ragmon_events_stored",
		Help: "Events currently held in the in-memory store",
	})

	knownInstances = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ragmon_instances_known",
		Help: "Instances tracked by the registry after the most recent prune",
	})

	streamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ragmon_stream_clients",
		Help: "Push stream clients currently connected",
	})

	proxyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ragmon_proxy_requests_total",
		Help: "Commands forwarded to monitored applications grouped by app and status",
	}, []string{"app", "status"})

	connectionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ragmon_stream_connection_transitions_total",
		Help: "Client-side push connection transitions grouped by kind (open, disconnected, timeout)",
	}, []string{"kind"})
)

// ObserveIngested records a decoded monitoring message.
func ObserveIngested(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	eventsIngested.WithLabelValues(kind).Inc()
}

// ObserveIngestFailure records a message that was dropped.
func ObserveIngestFailure(source string) {
	if source == "" {
		source = "unknown"
	}
	ingestFailures.WithLabelValues(source).Inc()
}

// ObserveEventStore records the store size after a prune pass.
func ObserveEventStore(size, pruned int) {
	storedEvents.Set(float64(size))
	if pruned > 0 {
		eventsPruned.Add(float64(pruned))
	}
}

// ObserveInstances records the registry size.
func ObserveInstances(count int) {
	knownInstances.Set(float64(count))
}

// StreamClientConnected increments the live client gauge and returns its release func.
func StreamClientConnected() func() {
	streamClients.Inc()
	return streamClients.Dec
}

// ObserveProxy records a forwarded command.
func ObserveProxy(app, status string) {
	proxyRequests.WithLabelValues(app, status).Inc()
}

// ObserveConnectionTransition records a push connection open or failure.
func ObserveConnectionTransition(kind string) {
	connectionTransitions.WithLabelValues(kind).Inc()
}
