// Package jobs tracks partition job lifecycle and enforces per-submitter
// quotas for the control plane.
package jobs

import (
	"fmt"
	"sync"
	"time"
)

// Status is a job's place in its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Quota bounds how large a partition job a submitter may run.
type Quota struct {
	// MaxVertices is the largest GNVtxs a job may request, or <= 0 for
	// unlimited.
	MaxVertices int64
	// MaxRanks is the largest process count a job may request, or <= 0
	// for unlimited.
	MaxRanks int
	// MaxDimensions is the largest ndims a job may request, or <= 0 for
	// unlimited.
	MaxDimensions int
	// RateLimitQPS caps job submissions per second, or <= 0 for
	// unlimited.
	RateLimitQPS int
}

// DefaultQuota is a generous but bounded default.
func DefaultQuota() Quota {
	return Quota{
		MaxVertices:   100_000_000,
		MaxRanks:      256,
		MaxDimensions: 16,
		RateLimitQPS:  10,
	}
}

// UnlimitedQuota disables every limit.
func UnlimitedQuota() Quota {
	return Quota{MaxVertices: -1, MaxRanks: -1, MaxDimensions: -1, RateLimitQPS: -1}
}

// Result captures a completed job's outcome.
type Result struct {
	PartSizes           []int64
	AvgPairwiseDistance float64
}

// Job is one partition request and its lifecycle state.
type Job struct {
	ID          string
	Name        string
	Quota       Quota
	GNVtxs      int64
	Ranks       int
	Dimensions  int
	SubmittedAt time.Time
	StartedAt   time.Time
	FinishedAt  time.Time

	mu     sync.RWMutex
	status Status
	err    string
	result *Result

	rateMu      sync.Mutex
	queryCount  int64
	lastQueryAt time.Time
}

// Status returns the job's current lifecycle status.
func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// MarkRunning transitions a pending job to running.
func (j *Job) MarkRunning() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusRunning
	j.StartedAt = time.Now()
}

// MarkCompleted transitions a running job to completed with result.
func (j *Job) MarkCompleted(result Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusCompleted
	j.result = &result
	j.FinishedAt = time.Now()
}

// MarkFailed transitions a job to failed with the given cause.
func (j *Job) MarkFailed(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusFailed
	if err != nil {
		j.err = err.Error()
	}
	j.FinishedAt = time.Now()
}

// Result returns the job's result, or nil if it has not completed.
func (j *Job) Result() *Result {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.result
}

// Err returns the failure message, if the job failed.
func (j *Job) Err() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

// CheckVertexQuota reports an error if gnvtxs exceeds the job's quota.
func (j *Job) CheckVertexQuota(gnvtxs int64) error {
	if j.Quota.MaxVertices > 0 && gnvtxs > j.Quota.MaxVertices {
		return fmt.Errorf("jobs: vertex quota exceeded: requested=%d max=%d", gnvtxs, j.Quota.MaxVertices)
	}
	return nil
}

// CheckRankQuota reports an error if ranks exceeds the job's quota.
func (j *Job) CheckRankQuota(ranks int) error {
	if j.Quota.MaxRanks > 0 && ranks > j.Quota.MaxRanks {
		return fmt.Errorf("jobs: rank quota exceeded: requested=%d max=%d", ranks, j.Quota.MaxRanks)
	}
	return nil
}

// CheckDimensionQuota reports an error if ndims exceeds the job's quota.
func (j *Job) CheckDimensionQuota(ndims int) error {
	if j.Quota.MaxDimensions > 0 && ndims > j.Quota.MaxDimensions {
		return fmt.Errorf("jobs: dimension quota exceeded: requested=%d max=%d", ndims, j.Quota.MaxDimensions)
	}
	return nil
}

// CheckRateLimit enforces the job's submitter's queries-per-second limit.
// It is intended to be called once per status poll or resubmission.
func (j *Job) CheckRateLimit() error {
	if j.Quota.RateLimitQPS <= 0 {
		return nil
	}
	j.rateMu.Lock()
	defer j.rateMu.Unlock()

	now := time.Now()
	if now.Sub(j.lastQueryAt) < time.Second {
		if j.queryCount >= int64(j.Quota.RateLimitQPS) {
			return fmt.Errorf("jobs: rate limit exceeded: %d queries/sec (max %d)", j.queryCount, j.Quota.RateLimitQPS)
		}
	} else {
		j.queryCount = 0
		j.lastQueryAt = now
	}
	j.queryCount++
	return nil
}

// Manager tracks every submitted job by ID.
type Manager struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	seq  int64
}

// NewManager returns an empty job manager.
func NewManager() *Manager {
	return &Manager{jobs: make(map[string]*Job)}
}

// Submit registers a new job in StatusPending and returns it.
func (m *Manager) Submit(name string, quota Quota, gnvtxs int64, ranks, ndims int) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	job := &Job{
		ID:          fmt.Sprintf("job-%d", m.seq),
		Name:        name,
		Quota:       quota,
		GNVtxs:      gnvtxs,
		Ranks:       ranks,
		Dimensions:  ndims,
		SubmittedAt: time.Now(),
		status:      StatusPending,
	}
	if err := job.CheckVertexQuota(gnvtxs); err != nil {
		return nil, err
	}
	if err := job.CheckRankQuota(ranks); err != nil {
		return nil, err
	}
	if err := job.CheckDimensionQuota(ndims); err != nil {
		return nil, err
	}
	m.jobs[job.ID] = job
	return job, nil
}

// Get retrieves a job by ID.
func (m *Manager) Get(id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("jobs: job %q not found", id)
	}
	return job, nil
}

// List returns every tracked job.
func (m *Manager) List() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	return out
}
