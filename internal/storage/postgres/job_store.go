// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/webman-dev/webman/internal/analyzer"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// JobStoreConfig controls the Postgres connection pool used for job rows.
type JobStoreConfig struct {
	DSN             string
	JobsTable       string
	ResultsTable    string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// JobStore persists jobs and analysis results in Postgres.
type JobStore struct {
	pool         querier
	jobsTable    string
	resultsTable string
}

// NewJobStore creates a Postgres-backed JobStore using the provided config.
func NewJobStore(ctx context.Context, cfg JobStoreConfig) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	jobsTable, resultsTable, err := tableNames(cfg.JobsTable, cfg.ResultsTable)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{
		pool:         pool,
		jobsTable:    jobsTable,
		resultsTable: resultsTable,
	}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(pool querier, jobsTable, resultsTable string) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	jt, rt, err := tableNames(jobsTable, resultsTable)
	if err != nil {
		return nil, err
	}
	return &JobStore{pool: pool, jobsTable: jt, resultsTable: rt}, nil
}

func tableNames(jobs, results string) (string, string, error) {
	if jobs == "" {
		jobs = "jobs"
	}
	if results == "" {
		results = "results"
	}
	for _, table := range []string{jobs, results} {
		if !validTableName.MatchString(table) {
			return "", "", fmt.Errorf("invalid table name %q", table)
		}
	}
	return jobs, results, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job analyzer.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	kind,
	url,
	status,
	submitted_at,
	error_text
) VALUES (
	$1,$2,$3,$4,$5,$6
)`, s.jobsTable)

	args := []any{
		job.ID,
		string(job.Kind),
		job.URL,
		string(job.Status),
		job.Submitted,
		job.ErrorText,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus transitions a job, stamping started/finished times as needed.
func (s *JobStore) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status analyzer.JobStatus,
	errText string,
) error {
	now := time.Now().UTC()
	var started, finished *time.Time
	if status == analyzer.JobStatusRunning {
		started = &now
	}
	if analyzer.IsTerminal(status) {
		finished = &now
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	status = $2,
	error_text = $3,
	started_at = COALESCE(started_at, $4),
	finished_at = COALESCE($5, finished_at)
WHERE id = $1`, s.jobsTable)

	tag, err := s.pool.Exec(ctx, query, jobID, string(status), errText, started, finished)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return analyzer.ErrJobNotFound
	}
	return nil
}

// GetJob fetches a single job row by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (analyzer.Job, error) {
	query := fmt.Sprintf(`
SELECT id, kind, url, status, submitted_at, started_at, finished_at, error_text
FROM %s WHERE id = $1`, s.jobsTable)

	var job analyzer.Job
	var kind, status string
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID,
		&kind,
		&job.URL,
		&status,
		&job.Submitted,
		&job.Started,
		&job.Finished,
		&job.ErrorText,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return analyzer.Job{}, analyzer.ErrJobNotFound
	}
	if err != nil {
		return analyzer.Job{}, fmt.Errorf("select job: %w", err)
	}
	job.Kind = analyzer.JobKind(kind)
	job.Status = analyzer.JobStatus(status)
	return job, nil
}

// StoreResult upserts the result row for a completed job.
func (s *JobStore) StoreResult(ctx context.Context, record analyzer.ResultRecord) error {
	if record.JobID == "" {
		return fmt.Errorf("record job id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	job_id,
	kind,
	url,
	completed_at,
	payload,
	snapshot_uri
) VALUES (
	$1,$2,$3,$4,$5,$6
)
ON CONFLICT (job_id) DO UPDATE SET
	kind = EXCLUDED.kind,
	url = EXCLUDED.url,
	completed_at = EXCLUDED.completed_at,
	payload = EXCLUDED.payload,
	snapshot_uri = EXCLUDED.snapshot_uri`, s.resultsTable)

	args := []any{
		record.JobID,
		string(record.Kind),
		record.URL,
		record.CompletedAt,
		[]byte(record.Payload),
		record.SnapshotURI,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// GetResult fetches the result row for a job.
func (s *JobStore) GetResult(ctx context.Context, jobID string) (analyzer.ResultRecord, error) {
	query := fmt.Sprintf(`
SELECT job_id, kind, url, completed_at, payload, snapshot_uri
FROM %s WHERE job_id = $1`, s.resultsTable)

	var record analyzer.ResultRecord
	var kind string
	var payload []byte
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&record.JobID,
		&kind,
		&record.URL,
		&record.CompletedAt,
		&payload,
		&record.SnapshotURI,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return analyzer.ResultRecord{}, analyzer.ErrResultNotFound
	}
	if err != nil {
		return analyzer.ResultRecord{}, fmt.Errorf("select result: %w", err)
	}
	record.Kind = analyzer.JobKind(kind)
	record.Payload = payload
	return record, nil
}
