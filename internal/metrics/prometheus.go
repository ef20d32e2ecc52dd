package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/TobiSchelling/PaperDigest/internal/database"
)

// Manager owns the pipeline's metrics.
type Manager struct {
	namespace string
	registry  *prometheus.Registry
	pushURL   string
	job       string
	log       *slog.Logger

	runs             *prometheus.CounterVec
	runDuration      prometheus.Histogram
	stageDuration    *prometheus.HistogramVec
	papers           *prometheus.GaugeVec
	analysisFailures prometheus.Counter
	deliveredTotal   prometheus.Counter
	lastSuccess      prometheus.Gauge
}

// NewManager creates a metrics manager. Without WithRegistry a fresh
// registry is used so repeated construction never collides.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "paperdigest",
		registry:  prometheus.NewRegistry(),
		job:       "paperdigest",
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.runs = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "runs_total",
		Help:      "Pipeline runs by final status",
	}, []string{"status"})

	m.runDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of a pipeline run",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	m.stageDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "stage_duration_seconds",
		Help:      "Wall time of each pipeline stage",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})

	m.papers = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "papers",
		Help:      "Papers at each stage of the last run",
	}, []string{"stage"})

	m.analysisFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "analysis_failures_total",
		Help:      "Papers dropped because analysis failed or was malformed",
	})

	m.deliveredTotal = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "papers_delivered_total",
		Help:      "Papers delivered to the channel",
	})

	m.lastSuccess = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last run that did not fail",
	})
}

// Registry returns the registry backing this manager.
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

// ObserveStage records how long a stage took.
func (m *Manager) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// AnalysisFailed counts one paper dropped during analysis.
func (m *Manager) AnalysisFailed() {
	m.analysisFailures.Inc()
}

// ObserveRun records the outcome of a finished run.
func (m *Manager) ObserveRun(r database.RunReport) {
	m.runs.WithLabelValues(r.Status).Inc()
	if !r.FinishedAt.IsZero() && !r.StartedAt.IsZero() {
		m.runDuration.Observe(r.FinishedAt.Sub(r.StartedAt).Seconds())
	}

	m.papers.WithLabelValues("candidates").Set(float64(r.Candidates))
	m.papers.WithLabelValues("fresh").Set(float64(r.Fresh))
	m.papers.WithLabelValues("analyzed").Set(float64(r.Analyzed))
	m.papers.WithLabelValues("passed").Set(float64(r.Passed))
	m.papers.WithLabelValues("selected").Set(float64(r.Selected))
	m.papers.WithLabelValues("delivered").Set(float64(r.Delivered))
	m.deliveredTotal.Add(float64(r.Delivered))

	if r.Status != database.RunFailed {
		m.lastSuccess.Set(float64(r.FinishedAt.Unix()))
	}
}

// Push sends gathered metrics to the Pushgateway. It is a no-op when no
// gateway is configured.
func (m *Manager) Push(ctx context.Context) error {
	if m.pushURL == "" {
		return nil
	}
	if err := push.New(m.pushURL, m.job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrPushFailed, err)
	}
	m.log.Debug("metrics pushed", "gateway", m.pushURL, "job", m.job)
	return nil
}
