// Package telemetry provides Prometheus metrics, OpenTelemetry tracing
// setup, and correlation-id aware logging helpers. Metrics register with the
// default registry at package load, so call sites never see a nil collector
// regardless of import or initialization order.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters
	PollCycles                 = promauto.NewCounter(prometheus.CounterOpts{Name: "companion_poll_cycles_total", Help: "Number of vision poll cycles"})
	DetectionsInvalid          = promauto.NewCounter(prometheus.CounterOpts{Name: "companion_detections_invalid_total", Help: "Detections rejected by position validation"})
	DetectionErrors            = promauto.NewCounter(prometheus.CounterOpts{Name: "companion_detection_errors_total", Help: "Vision collaborator call failures"})
	PositionChanges            = promauto.NewCounter(prometheus.CounterOpts{Name: "companion_position_changes_total", Help: "Genuine position changes accepted"})
	AnalysesStarted            = promauto.NewCounter(prometheus.CounterOpts{Name: "companion_analyses_started_total", Help: "Dual-perspective analyses started"})
	AnalysesCompleted          = promauto.NewCounter(prometheus.CounterOpts{Name: "companion_analyses_completed_total", Help: "Dual-perspective analyses committed"})
	AnalysesDegraded           = promauto.NewCounter(prometheus.CounterOpts{Name: "companion_analyses_degraded_total", Help: "Perspective bundles produced degraded"})
	StaleCommitsDiscarded      = promauto.NewCounter(prometheus.CounterOpts{Name: "companion_stale_commits_discarded_total", Help: "Late commits discarded after supersession"})
	DuplicateUpdatesSuppressed = promauto.NewCounter(prometheus.CounterOpts{Name: "companion_duplicate_updates_suppressed_total", Help: "BeginUpdate no-ops for already in-flight positions"})
	EngineRestarts             = promauto.NewCounter(prometheus.CounterOpts{Name: "companion_engine_restarts_total", Help: "Engine subprocess restarts after crash"})
	QueriesServed              = promauto.NewCounterVec(prometheus.CounterOpts{Name: "companion_queries_served_total", Help: "Queries answered from cache"}, []string{"perspective_source"})
	QueriesPending             = promauto.NewCounter(prometheus.CounterOpts{Name: "companion_queries_pending_total", Help: "Queries answered with a pending signal"})

	// Histograms (seconds)
	AnalysisDuration       = promauto.NewHistogram(prometheus.HistogramOpts{Name: "companion_analysis_duration_seconds", Help: "Dual-perspective analysis duration seconds", Buckets: prometheus.DefBuckets})
	EngineEvaluateDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "companion_engine_evaluate_duration_seconds", Help: "Engine evaluate duration seconds", Buckets: prometheus.DefBuckets})
	ResolveDuration        = promauto.NewHistogram(prometheus.HistogramOpts{Name: "companion_resolve_duration_seconds", Help: "Query resolve duration seconds", Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1}})

	// Gauges
	AnalysisInFlightGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "companion_analysis_in_flight", Help: "Analysis computing=1 idle=0"})
	EntryAgeGauge         = promauto.NewGauge(prometheus.GaugeOpts{Name: "companion_entry_age_seconds", Help: "Seconds since the current entry was committed"})
	EngineUpGauge         = promauto.NewGauge(prometheus.GaugeOpts{Name: "companion_engine_up", Help: "Engine subprocess healthy=1 down=0"})
)

// SetAnalysisInFlight sets the gauge to 1 while a computation is active.
func SetAnalysisInFlight(active bool) {
	if active {
		AnalysisInFlightGauge.Set(1)
	} else {
		AnalysisInFlightGauge.Set(0)
	}
}

// SetEntryAge records the age of the current cache entry.
func SetEntryAge(age time.Duration) {
	EntryAgeGauge.Set(age.Seconds())
}

// SetEngineUp sets the engine health gauge.
func SetEngineUp(up bool) {
	if up {
		EngineUpGauge.Set(1)
	} else {
		EngineUpGauge.Set(0)
	}
}

// ObserveQueryServed increments the served counter for a perspective source
// ("player_name", "color_phrase", "default_white").
func ObserveQueryServed(source string) {
	QueriesServed.WithLabelValues(source).Inc()
}

// TimeFunc measures the duration of fn and records it in obs if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
