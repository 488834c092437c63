package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the partition control plane.
type Metrics struct {
	// Request metrics (gRPC and REST control-plane calls)
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestErrors   *prometheus.CounterVec

	// Job lifecycle metrics
	JobsSubmitted prometheus.Counter
	JobsCompleted prometheus.Counter
	JobsFailed    prometheus.Counter
	JobsRunning   prometheus.Gauge

	// Partition run metrics
	PartitionDuration     prometheus.Histogram
	RefineIterationsUsed  prometheus.Histogram
	BucketImbalanceRatio  prometheus.Histogram
	SampleSortBytesMoved  prometheus.Counter
	PartSizeByRank        *prometheus.GaugeVec
	AvgPairwiseDistance   prometheus.Histogram

	// Quota metrics
	SubmittersTotal prometheus.Gauge
	QuotaUsage      *prometheus.GaugeVec

	// System metrics
	GoroutinesCount prometheus.Gauge
	MemoryUsage     prometheus.Gauge
	CPUUsage        prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordpart_requests_total",
				Help: "Total number of control-plane requests by method and status",
			},
			[]string{"method", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coordpart_request_duration_seconds",
				Help:    "Control-plane request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method"},
		),
		RequestErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordpart_request_errors_total",
				Help: "Total number of control-plane request errors by method and error type",
			},
			[]string{"method", "error_type"},
		),

		JobsSubmitted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "coordpart_jobs_submitted_total",
				Help: "Total number of partition jobs submitted",
			},
		),
		JobsCompleted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "coordpart_jobs_completed_total",
				Help: "Total number of partition jobs completed successfully",
			},
		),
		JobsFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "coordpart_jobs_failed_total",
				Help: "Total number of partition jobs that failed",
			},
		),
		JobsRunning: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "coordpart_jobs_running",
				Help: "Current number of partition jobs in progress",
			},
		),

		PartitionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "coordpart_partition_duration_seconds",
				Help:    "End-to-end CoordinatePartition duration in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		RefineIterationsUsed: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "coordpart_refine_iterations_used",
				Help:    "Number of bin-boundary refinement iterations actually run before convergence",
				Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 8, 10},
			},
		),
		BucketImbalanceRatio: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "coordpart_bucket_imbalance_ratio",
				Help:    "Max-over-average histogram bucket count at the point bin refinement stopped",
				Buckets: []float64{1.0, 1.5, 2, 3, 4, 6, 8, 12, 16},
			},
		),
		SampleSortBytesMoved: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "coordpart_sample_sort_bytes_exchanged_total",
				Help: "Total bytes exchanged across all-to-all bucket redistribution during sample sort",
			},
		),
		PartSizeByRank: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "coordpart_part_size_vertices",
				Help: "Number of vertices assigned to each part of the most recently completed job",
			},
			[]string{"job_id", "part"},
		),
		AvgPairwiseDistance: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "coordpart_avg_pairwise_distance",
				Help:    "Average pairwise coordinate distance within a part, a locality quality diagnostic",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10},
			},
		),

		SubmittersTotal: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "coordpart_submitters_total",
				Help: "Total number of distinct job submitters seen",
			},
		),
		QuotaUsage: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "coordpart_quota_usage",
				Help: "Submitter quota usage fraction by submitter and resource",
			},
			[]string{"submitter", "resource"},
		),

		GoroutinesCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "coordpart_goroutines",
				Help: "Current number of goroutines",
			},
		),
		MemoryUsage: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "coordpart_memory_bytes",
				Help: "Memory usage in bytes",
			},
		),
		CPUUsage: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "coordpart_cpu_usage",
				Help: "CPU usage percentage",
			},
		),
	}

	return m
}

// RecordRequest records a control-plane request with duration and status.
func (m *Metrics) RecordRequest(method, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, status).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordError records a control-plane request error.
func (m *Metrics) RecordError(method, errorType string) {
	m.RequestErrors.WithLabelValues(method, errorType).Inc()
}

// RecordJobSubmitted records a new job submission.
func (m *Metrics) RecordJobSubmitted() {
	m.JobsSubmitted.Inc()
	m.JobsRunning.Inc()
}

// RecordJobCompleted records a successful job completion, including its
// final partition result.
func (m *Metrics) RecordJobCompleted(jobID string, duration time.Duration, refineIterations, bucketImbalance float64, partSizes []int64, avgPairwiseDistance float64) {
	m.JobsCompleted.Inc()
	m.JobsRunning.Dec()
	m.PartitionDuration.Observe(duration.Seconds())
	m.RefineIterationsUsed.Observe(refineIterations)
	m.BucketImbalanceRatio.Observe(bucketImbalance)
	m.AvgPairwiseDistance.Observe(avgPairwiseDistance)
	for part, size := range partSizes {
		m.PartSizeByRank.WithLabelValues(jobID, strconv.Itoa(part)).Set(float64(size))
	}
}

// RecordJobFailed records a job that ended in failure.
func (m *Metrics) RecordJobFailed() {
	m.JobsFailed.Inc()
	m.JobsRunning.Dec()
}

// RecordSampleSortExchange records the bytes moved in one all-to-all bucket
// redistribution round of sample sort.
func (m *Metrics) RecordSampleSortExchange(bytes int64) {
	m.SampleSortBytesMoved.Add(float64(bytes))
}

// UpdateSubmitterCount updates the distinct submitter count.
func (m *Metrics) UpdateSubmitterCount(count int) {
	m.SubmittersTotal.Set(float64(count))
}

// UpdateQuotaUsage updates a submitter's quota usage fraction for resource.
func (m *Metrics) UpdateQuotaUsage(submitter, resource string, usage float64) {
	m.QuotaUsage.WithLabelValues(submitter, resource).Set(usage)
}

// UpdateGoroutineCount updates goroutine count.
func (m *Metrics) UpdateGoroutineCount(count int) {
	m.GoroutinesCount.Set(float64(count))
}

// UpdateMemoryUsage updates memory usage.
func (m *Metrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateCPUUsage updates CPU usage.
func (m *Metrics) UpdateCPUUsage(percentage float64) {
	m.CPUUsage.Set(percentage)
}
