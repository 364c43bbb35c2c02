// Package analyzer defines core types shared across subsystems.
package analyzer

import (
	"encoding/json"
	"net/http"
	"time"
)

// JobStatus represents the lifecycle state of an analysis job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// JobKind selects which analysis a job performs.
type JobKind string

// Supported analysis kinds.
const (
	JobKindAccessibility  JobKind = "accessibility"
	JobKindVitals         JobKind = "vitals"
	JobKindResponsiveness JobKind = "responsiveness"
	JobKindAudit          JobKind = "audit"
)

// ValidKind reports whether k names a supported analysis.
func ValidKind(k JobKind) bool {
	switch k {
	case JobKindAccessibility, JobKindVitals, JobKindResponsiveness, JobKindAudit:
		return true
	default:
		return false
	}
}

// Job represents the metadata persisted for each submitted analysis request.
type Job struct {
	ID        string     `json:"id"`
	Kind      JobKind    `json:"kind"`
	URL       string     `json:"url"`
	Status    JobStatus  `json:"status"`
	Submitted time.Time  `json:"submitted_at"`
	Started   *time.Time `json:"started_at,omitempty"`
	Finished  *time.Time `json:"finished_at,omitempty"`
	ErrorText string     `json:"error_text,omitempty"`
}

// ResultRecord is persisted for each completed analysis.
type ResultRecord struct {
	JobID       string          `json:"job_id"`
	Kind        JobKind         `json:"kind"`
	URL         string          `json:"url"`
	CompletedAt time.Time       `json:"completed_at"`
	Payload     json.RawMessage `json:"payload"`
	SnapshotURI string          `json:"snapshot_uri,omitempty"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Kind      JobKind
	URL       string
	Attempt   int
	Submitted int64
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
