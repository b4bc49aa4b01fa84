package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"nodeship/api/model"
)

// Metrics records stage and release outcomes. A nil *Metrics records nothing.
type Metrics struct {
	stageDuration *prometheus.HistogramVec
	stageTotal    *prometheus.CounterVec
	releaseTotal  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nodeship_stage_duration_seconds",
			Help:    "Stage run time in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1h
		}, []string{"stage"}),
		stageTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nodeship_stage_total",
			Help: "Stage outcomes by stage and status",
		}, []string{"stage", "status"}),
		releaseTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nodeship_release_total",
			Help: "Finished releases by status",
		}, []string{"status"}),
	}
}

func (m *Metrics) observeStage(stage string, status model.StageStatus, took time.Duration) {
	if m == nil {
		return
	}
	m.stageTotal.WithLabelValues(stage, string(status)).Inc()
	if status == model.StageSucceeded || status == model.StageFailed {
		m.stageDuration.WithLabelValues(stage).Observe(took.Seconds())
	}
}

func (m *Metrics) observeRun(status model.ReleaseStatus) {
	if m == nil {
		return
	}
	m.releaseTotal.WithLabelValues(string(status)).Inc()
}
