package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// PromExporter mirrors Collector snapshots into Prometheus gauges/counters,
// registered against its own registry so a caller controls exactly what
// /metrics exposes rather than polluting the global default registerer.
type PromExporter struct {
	registry *prometheus.Registry

	eventsTotal    *prometheus.CounterVec
	lagBytes       prometheus.Gauge
	relationCount  prometheus.Gauge
	reconnectTotal prometheus.Counter
	errorTotal     prometheus.Counter

	seenInsert, seenUpdate, seenDelete, seenCommit int64
	seenReconnect, seenErrors                      int
}

// NewPromExporter builds an exporter with its own registry.
func NewPromExporter() *PromExporter {
	e := &PromExporter{
		registry: prometheus.NewRegistry(),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdcingester",
			Name:      "events_total",
			Help:      "Decoded replication events, by kind.",
		}, []string{"kind"}),
		lagBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cdcingester",
			Name:      "replication_lag_bytes",
			Help:      "Byte distance between the server's WAL position and the last position this ingester reported.",
		}),
		relationCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cdcingester",
			Name:      "relation_cache_size",
			Help:      "Number of relations currently cached from Relation messages.",
		}),
		reconnectTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cdcingester",
			Name:      "reconnects_total",
			Help:      "Number of times the session manager has reconnected after consecutive failures.",
		}),
		errorTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cdcingester",
			Name:      "errors_total",
			Help:      "Number of iteration errors observed.",
		}),
	}
	e.registry.MustRegister(e.eventsTotal, e.lagBytes, e.relationCount, e.reconnectTotal, e.errorTotal)
	return e
}

// Registry returns the registry promhttp.HandlerFor should serve.
func (e *PromExporter) Registry() *prometheus.Registry {
	return e.registry
}

// Run subscribes to collector and updates the exported metrics until ctx is
// cancelled.
func (e *PromExporter) Run(ctx context.Context, collector *Collector) {
	ch := collector.Subscribe()
	defer collector.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			e.apply(snap)
		}
	}
}

func (e *PromExporter) apply(snap Snapshot) {
	e.eventsTotal.WithLabelValues("insert").Add(float64(snap.InsertCount - e.seenInsert))
	e.eventsTotal.WithLabelValues("update").Add(float64(snap.UpdateCount - e.seenUpdate))
	e.eventsTotal.WithLabelValues("delete").Add(float64(snap.DeleteCount - e.seenDelete))
	e.eventsTotal.WithLabelValues("commit").Add(float64(snap.CommitCount - e.seenCommit))
	e.seenInsert, e.seenUpdate, e.seenDelete, e.seenCommit = snap.InsertCount, snap.UpdateCount, snap.DeleteCount, snap.CommitCount

	if delta := snap.ReconnectCount - e.seenReconnect; delta > 0 {
		e.reconnectTotal.Add(float64(delta))
	}
	e.seenReconnect = snap.ReconnectCount

	if delta := snap.ErrorCount - e.seenErrors; delta > 0 {
		e.errorTotal.Add(float64(delta))
	}
	e.seenErrors = snap.ErrorCount

	e.lagBytes.Set(float64(snap.LagBytes))
	e.relationCount.Set(float64(snap.RelationCount))
}
