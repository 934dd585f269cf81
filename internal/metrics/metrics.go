package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sdpower/clauditor-go/internal/types"
)

// Metrics holds the Prometheus collectors for the aggregation engine.
type Metrics struct {
	registry *prometheus.Registry

	// Tick metrics.
	TicksTotal       *prometheus.CounterVec
	TickDuration     prometheus.Histogram
	FullReloadsTotal *prometheus.CounterVec

	// Ingestion metrics.
	LinesReadTotal         prometheus.Counter
	RecordsIngestedTotal   prometheus.Counter
	DuplicatesDroppedTotal prometheus.Counter
	ParseFailuresTotal     *prometheus.CounterVec
	ReadErrorsTotal        *prometheus.CounterVec
	TimeInversionsTotal    prometheus.Counter
	DiscontinuitiesTotal   prometheus.Counter
	DiscoveryErrorsTotal   prometheus.Counter

	// Window gauges.
	TrackedSources   prometheus.Gauge
	WindowActive     prometheus.Gauge
	WindowTokens     *prometheus.GaugeVec
	WindowCostUSD    prometheus.Gauge
	BurnRateTokens   prometheus.Gauge
	RemainingMinutes prometheus.Gauge
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clauditor_ticks_total",
			Help: "Total number of aggregation ticks.",
		}, []string{"result"}),

		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clauditor_tick_duration_seconds",
			Help:    "Duration of aggregation ticks in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),

		FullReloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clauditor_full_reloads_total",
			Help: "Total number of full reloads by reason.",
		}, []string{"reason"}),

		LinesReadTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clauditor_lines_read_total",
			Help: "Total number of complete log lines read.",
		}),

		RecordsIngestedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clauditor_records_ingested_total",
			Help: "Total number of usage records ingested.",
		}),

		DuplicatesDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clauditor_duplicates_dropped_total",
			Help: "Total number of records discarded as duplicates.",
		}),

		ParseFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clauditor_parse_failures_total",
			Help: "Total number of lines that did not yield a record.",
		}, []string{"kind"}),

		ReadErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clauditor_read_errors_total",
			Help: "Total number of sources skipped for a tick after read errors.",
		}, []string{"source"}),

		TimeInversionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clauditor_time_inversions_total",
			Help: "Total number of records stamped too far in the future.",
		}),

		DiscontinuitiesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clauditor_discontinuities_total",
			Help: "Total number of truncated files re-read from the start.",
		}),

		DiscoveryErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clauditor_discovery_errors_total",
			Help: "Total number of unusable source roots reported.",
		}),

		TrackedSources: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clauditor_tracked_files",
			Help: "Number of log files currently tracked.",
		}),

		WindowActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clauditor_window_active",
			Help: "1 when a billing window is active, 0 otherwise.",
		}),

		WindowTokens: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clauditor_window_tokens",
			Help: "Tokens used in the active window by token type.",
		}, []string{"type"}),

		WindowCostUSD: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clauditor_window_cost_usd",
			Help: "Cost of the active window in USD.",
		}),

		BurnRateTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clauditor_burn_rate_tokens_per_minute",
			Help: "Tokens per minute in the active window.",
		}),

		RemainingMinutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clauditor_window_remaining_minutes",
			Help: "Minutes until the active window ends.",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.TickDuration,
		m.FullReloadsTotal,
		m.LinesReadTotal,
		m.RecordsIngestedTotal,
		m.DuplicatesDroppedTotal,
		m.ParseFailuresTotal,
		m.ReadErrorsTotal,
		m.TimeInversionsTotal,
		m.DiscontinuitiesTotal,
		m.DiscoveryErrorsTotal,
		m.TrackedSources,
		m.WindowActive,
		m.WindowTokens,
		m.WindowCostUSD,
		m.BurnRateTokens,
		m.RemainingMinutes,
	)

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTick records the outcome of one tick. A nil receiver is a no-op.
func (m *Metrics) ObserveTick(stats types.TickStats, snap types.AggregateSnapshot, err error) {
	if m == nil {
		return
	}

	m.TickDuration.Observe(stats.Duration.Seconds())
	m.DiscoveryErrorsTotal.Add(float64(len(stats.DiscoveryWarnings)))
	if err != nil {
		m.TicksTotal.WithLabelValues("error").Inc()
	} else {
		m.TicksTotal.WithLabelValues("ok").Inc()
	}

	if stats.FullReload {
		m.FullReloadsTotal.WithLabelValues(stats.FullReloadReason).Inc()
	}
	m.LinesReadTotal.Add(float64(stats.LinesRead))
	m.RecordsIngestedTotal.Add(float64(stats.RecordsIngested))
	m.DuplicatesDroppedTotal.Add(float64(stats.DuplicatesDropped))
	for kind, n := range stats.ParseFailures {
		m.ParseFailuresTotal.WithLabelValues(kind).Add(float64(n))
	}
	for source, n := range stats.ReadErrors {
		m.ReadErrorsTotal.WithLabelValues(source).Add(float64(n))
	}
	m.TimeInversionsTotal.Add(float64(stats.TimeInversions))
	m.DiscontinuitiesTotal.Add(float64(stats.Discontinuities))
	m.TrackedSources.Set(float64(stats.Sources))

	m.observeWindow(snap)
}

func (m *Metrics) observeWindow(snap types.AggregateSnapshot) {
	if snap.Window == nil {
		m.WindowActive.Set(0)
		m.WindowTokens.Reset()
		m.WindowCostUSD.Set(0)
		m.BurnRateTokens.Set(0)
		m.RemainingMinutes.Set(0)
		return
	}

	m.WindowActive.Set(1)
	m.WindowTokens.WithLabelValues("input").Set(float64(snap.TokenCounts.InputTokens))
	m.WindowTokens.WithLabelValues("output").Set(float64(snap.TokenCounts.OutputTokens))
	m.WindowTokens.WithLabelValues("cache_creation").Set(float64(snap.TokenCounts.CacheCreationInputTokens))
	m.WindowTokens.WithLabelValues("cache_read").Set(float64(snap.TokenCounts.CacheReadInputTokens))
	m.WindowCostUSD.Set(snap.CostUSD)
	m.BurnRateTokens.Set(snap.BurnRate.TokensPerMinute)
	m.RemainingMinutes.Set(snap.RemainingMinutes)
}
