package strategy

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Stage labels.
const (
	StageCompile = "compile"
	StageLoad    = "load"
	StageInvoke  = "invoke"
)

// Result labels.
const (
	LabelSuccess      = "success"
	LabelCompileError = "compile_error"
	LabelLoadError    = "load_error"
	LabelNotFound     = "symbol_not_found"
	LabelInvokeError  = "invoke_error"
	LabelEvalError    = "eval_error"
	LabelCanceled     = "canceled"
	LabelCacheHit     = "hit"
	LabelCacheMiss    = "miss"
	LabelGenericError = "generic_err"
)

// Metrics holds the pipeline and strategy metrics.
type Metrics struct {
	Stages        *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	Calculations  *prometheus.CounterVec
	CacheLookups  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	const namespace = "buildexpr"

	return &Metrics{
		Stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stages_total",
			Help:      "Count of pipeline stages run, by outcome",
		}, []string{"stage", "result"}),

		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Histogram of time spent in each pipeline stage",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 5, 8),
		}, []string{"stage"}),

		Calculations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "calculations_total",
			Help:      "Count of strategy calculations, by outcome",
		}, []string{"strategy", "result"}),

		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "cache_lookups_total",
			Help:      "Count of compile cache lookups",
		}, []string{"result"}),
	}
}

func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Stages,
		m.StageDuration,
		m.Calculations,
		m.CacheLookups,
	}
}
