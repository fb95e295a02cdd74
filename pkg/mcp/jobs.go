package mcp

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current state of a crawl job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsActive reports whether a job in this state still holds its source
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// JobOptions are the crawl flags a job was started with
type JobOptions struct {
	Override   bool `json:"override"`
	UpdateMeta bool `json:"update_meta"`
	Repeat     int  `json:"repeat"`
}

// JobResult summarizes a finished crawl
type JobResult struct {
	RunID      string `json:"run_id"`
	Targets    int    `json:"targets"`
	Passes     int    `json:"passes"`
	Dispatched int    `json:"dispatched"`
	Succeeded  int    `json:"succeeded"`
	Pending    int    `json:"pending"`
}

// Job represents a background crawl job
type Job struct {
	ID           string     `json:"id"`
	Source       string     `json:"source"`
	Status       JobStatus  `json:"status"`
	Options      JobOptions `json:"options"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  time.Time  `json:"completed_at,omitempty"`
	Pass         int        `json:"pass"`
	Done         int        `json:"done"`  // Finished targets in the current pass
	Total        int        `json:"total"` // Dispatched targets in the current pass
	Result       *JobResult `json:"result,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`

	ctx    context.Context
	cancel context.CancelFunc
}

// JobManager tracks background crawl jobs, at most one active job per source
type JobManager struct {
	jobs     map[string]*Job
	mu       sync.RWMutex
	bySource map[string]string // source -> jobID for active jobs
}

// NewJobManager creates a new job manager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:     make(map[string]*Job),
		bySource: make(map[string]string),
	}
}

// CreateJob creates a job for source. If one is already active it is returned
// with created set to false.
func (m *JobManager) CreateJob(source string, opts JobOptions) (job *Job, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existingID, ok := m.bySource[source]; ok {
		if existing := m.jobs[existingID]; existing != nil && existing.Status.IsActive() {
			return existing, false
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	job = &Job{
		ID:        uuid.NewString(),
		Source:    source,
		Status:    JobStatusPending,
		Options:   opts,
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	m.jobs[job.ID] = job
	m.bySource[source] = job.ID
	return job, true
}

// GetJob returns a snapshot of the job, or nil if unknown
func (m *JobManager) GetJob(jobID string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil
	}
	snapshot := *job
	return &snapshot
}

// ActiveJob returns a snapshot of the active job for source, or nil
func (m *JobManager) ActiveJob(source string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if jobID, ok := m.bySource[source]; ok {
		if job := m.jobs[jobID]; job != nil && job.Status.IsActive() {
			snapshot := *job
			return &snapshot
		}
	}
	return nil
}

// UpdateStatus moves a job to status. Terminal states release the source.
// A cancelled job stays cancelled.
func (m *JobManager) UpdateStatus(jobID string, status JobStatus, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || job.Status == JobStatusCancelled {
		return
	}
	job.Status = status
	if !status.IsActive() {
		job.CompletedAt = time.Now()
		delete(m.bySource, job.Source)
		job.cancel()
	}
	if errorMsg != "" {
		job.ErrorMessage = errorMsg
	}
}

// UpdateProgress records pass progress
func (m *JobManager) UpdateProgress(jobID string, pass, done, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, ok := m.jobs[jobID]; ok {
		job.Pass, job.Done, job.Total = pass, done, total
	}
}

// SetResult attaches the run summary
func (m *JobManager) SetResult(jobID string, result JobResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, ok := m.jobs[jobID]; ok {
		job.Result = &result
	}
}

// CancelJob cancels an active job
func (m *JobManager) CancelJob(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || !job.Status.IsActive() {
		return false
	}
	job.cancel()
	job.Status = JobStatusCancelled
	job.CompletedAt = time.Now()
	delete(m.bySource, job.Source)
	return true
}

// CancelAll cancels every active job
func (m *JobManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.Status.IsActive() {
			job.cancel()
			job.Status = JobStatusCancelled
			job.CompletedAt = time.Now()
		}
	}
	m.bySource = make(map[string]string)
}

// ListJobs returns snapshots of all jobs, oldest first
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		snapshot := *job
		jobs = append(jobs, &snapshot)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartedAt.Before(jobs[j].StartedAt) })
	return jobs
}

// Context returns the cancellation context of a job
func (m *JobManager) Context(jobID string) context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if job, ok := m.jobs[jobID]; ok {
		return job.ctx
	}
	return context.Background()
}
