package analyzer

import "errors"

// Store sentinel errors shared across implementations.
var (
	ErrJobNotFound    = errors.New("job not found")
	ErrJobExists      = errors.New("job already exists")
	ErrResultNotFound = errors.New("result not found")
)

// IsTerminal reports whether a job status is final.
func IsTerminal(status JobStatus) bool {
	switch status {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}
