package metrics

import "github.com/prometheus/client_golang/prometheus"

// PromMetrics bundles the Prometheus gauges/counters exposed alongside the
// in-memory time-series store, for scraping by external monitoring rather
// than the internal aggregation API.
type PromMetrics struct {
	QueueDepth            prometheus.Gauge
	VRAMUsedGB            prometheus.Gauge
	LoadedModels          prometheus.Gauge
	CrashesTotal          *prometheus.CounterVec
	ReconcileDriftTotal   prometheus.Counter
}

// NewPromMetrics registers the gateway's Prometheus metrics against reg.
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	m := &PromMetrics{
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_queue_depth",
			Help: "Number of requests currently waiting in the admission queue.",
		}),
		VRAMUsedGB: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_vram_used_gb",
			Help: "Memory in use as reported by the VRAM probe, in gigabytes.",
		}),
		LoadedModels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_loaded_models",
			Help: "Number of models currently resident in the registry.",
		}),
		CrashesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_crashes_total",
			Help: "Crash-threshold crossings (circuit-breaker trips) per model.",
		}, []string{"model"}),
		ReconcileDriftTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_reconcile_drift_total",
			Help: "Registry entries silently removed because the engine no longer reports them as loaded.",
		}),
	}

	reg.MustRegister(m.QueueDepth, m.VRAMUsedGB, m.LoadedModels, m.CrashesTotal, m.ReconcileDriftTotal)
	return m
}
