package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Collector metrics
	CollectDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arobust_collector_collect_duration_seconds",
			Help:    "Time spent in a collector's Collect call",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collector"},
	)

	CollectErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arobust_collector_errors_total",
			Help: "Total number of failed collections by collector",
		},
		[]string{"collector"},
	)

	ReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arobust_reports_total",
			Help: "Total number of report attempts by data type and result",
		},
		[]string{"data_type", "result"},
	)

	ReportDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arobust_report_duration_seconds",
			Help:    "Time spent handing a record to the reporting client",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"data_type"},
	)

	// Scheduler metrics
	SchedulerTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arobust_scheduler_ticks_total",
			Help: "Total number of ticks handled by collector",
		},
		[]string{"collector"},
	)

	SchedulerTicksSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arobust_scheduler_ticks_skipped_total",
			Help: "Total number of ticks skipped because the previous tick overran",
		},
		[]string{"collector"},
	)

	CollectorsRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "arobust_collectors_registered",
			Help: "Number of collectors registered with the diagnosis engine",
		},
	)

	// Diagnosis metrics
	DiagnosisActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arobust_diagnosis_actions_total",
			Help: "Total number of diagnosis decisions by action",
		},
		[]string{"action"},
	)

	HeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arobust_heartbeats_total",
			Help: "Total number of heartbeats sent by result",
		},
		[]string{"result"},
	)

	// Checkpoint metrics
	CheckpointSavesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arobust_checkpoint_saves_total",
			Help: "Total number of checkpoint saves by role and result",
		},
		[]string{"role", "result"},
	)

	CheckpointSaveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arobust_checkpoint_save_duration_seconds",
			Help:    "Checkpoint save duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"role"},
	)

	CheckpointLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arobust_checkpoint_loads_total",
			Help: "Total number of checkpoint loads by role and result",
		},
		[]string{"role", "result"},
	)

	CheckpointEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arobust_checkpoint_evictions_total",
			Help: "Total number of checkpoints removed by retention",
		},
		[]string{"role"},
	)

	CheckpointsStored = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arobust_checkpoints_stored",
			Help: "Number of published checkpoints by role",
		},
		[]string{"role"},
	)

	// Training metrics
	TrainingGlobalStep = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "arobust_training_global_step",
			Help: "Last global step reported by the training loop",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arobust_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	EventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arobust_events_dropped_total",
			Help: "Events the broker could not deliver, by reason",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(CollectDuration)
	prometheus.MustRegister(CollectErrorsTotal)
	prometheus.MustRegister(ReportsTotal)
	prometheus.MustRegister(ReportDuration)
	prometheus.MustRegister(SchedulerTicksTotal)
	prometheus.MustRegister(SchedulerTicksSkipped)
	prometheus.MustRegister(CollectorsRegistered)
	prometheus.MustRegister(DiagnosisActionsTotal)
	prometheus.MustRegister(HeartbeatsTotal)
	prometheus.MustRegister(CheckpointSavesTotal)
	prometheus.MustRegister(CheckpointSaveDuration)
	prometheus.MustRegister(CheckpointLoadsTotal)
	prometheus.MustRegister(CheckpointEvictionsTotal)
	prometheus.MustRegister(CheckpointsStored)
	prometheus.MustRegister(TrainingGlobalStep)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(EventsDroppedTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
