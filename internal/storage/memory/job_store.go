package memory

import (
	"context"
	"sync"
	"time"

	"github.com/webman-dev/webman/internal/analyzer"
)

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu      sync.RWMutex
	jobs    map[string]analyzer.Job
	results map[string]analyzer.ResultRecord
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:    make(map[string]analyzer.Job),
		results: make(map[string]analyzer.ResultRecord),
	}
}

// CreateJob stores a new job in queued status.
func (s *JobStore) CreateJob(_ context.Context, job analyzer.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return analyzer.ErrJobExists
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus updates the status and error text for a job.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status analyzer.JobStatus,
	errText string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return analyzer.ErrJobNotFound
	}
	job.Status = status
	job.ErrorText = errText
	now := time.Now().UTC()
	if status == analyzer.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if analyzer.IsTerminal(status) {
		job.Finished = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (analyzer.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return analyzer.Job{}, analyzer.ErrJobNotFound
	}
	return job, nil
}

// StoreResult saves the result record for a completed job.
func (s *JobStore) StoreResult(_ context.Context, record analyzer.ResultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[record.JobID] = record
	return nil
}

// GetResult returns the stored result for a job.
func (s *JobStore) GetResult(_ context.Context, jobID string) (analyzer.ResultRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.results[jobID]
	if !ok {
		return analyzer.ResultRecord{}, analyzer.ErrResultNotFound
	}
	return record, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
