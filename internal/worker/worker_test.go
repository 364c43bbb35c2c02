// Package worker contains tests for the analysis execution loop.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/webman-dev/webman/internal/analyzer"
	clockpkg "github.com/webman-dev/webman/internal/clock/system"
	sha256hash "github.com/webman-dev/webman/internal/hash/sha256"
	"github.com/webman-dev/webman/internal/metrics"
	pubmemory "github.com/webman-dev/webman/internal/publisher/memory"
	queuememory "github.com/webman-dev/webman/internal/queue/memory"
	storememory "github.com/webman-dev/webman/internal/storage/memory"
)

type fakeFetcher struct {
	body    []byte
	status  int
	headers http.Header
	err     error
}

func (f *fakeFetcher) Fetch(_ context.Context, req analyzer.FetchRequest) (analyzer.FetchResponse, error) {
	if f.err != nil {
		return analyzer.FetchResponse{}, f.err
	}
	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	return analyzer.FetchResponse{
		URL:        req.URL,
		StatusCode: status,
		Headers:    f.headers,
		Body:       f.body,
		Duration:   1200 * time.Millisecond,
	}, nil
}

type workerHarness struct {
	worker    *Worker
	jobStore  *storememory.JobStore
	blobStore *storememory.BlobStore
	publisher *pubmemory.Publisher
}

func newHarness(t *testing.T, fetcher analyzer.Fetcher) *workerHarness {
	t.Helper()
	metrics.Init()

	jobStore := storememory.NewJobStore()
	blobStore := storememory.NewBlobStore()
	publisher := pubmemory.New()
	w := New(
		queuememory.NewQueue(1),
		jobStore,
		blobStore,
		publisher,
		sha256hash.New(),
		clockpkg.New(),
		fetcher,
		nil,
		nil,
		Config{BlobPrefix: "snapshots", Topic: "analyses"},
		zap.NewNop(),
	)
	return &workerHarness{worker: w, jobStore: jobStore, blobStore: blobStore, publisher: publisher}
}

func seedJob(t *testing.T, h *workerHarness, kind analyzer.JobKind) analyzer.QueueItem {
	t.Helper()
	job := analyzer.Job{
		ID:        "job-1",
		Kind:      kind,
		URL:       "https://example.com",
		Status:    analyzer.JobStatusQueued,
		Submitted: time.Now().UTC(),
	}
	require.NoError(t, h.jobStore.CreateJob(context.Background(), job))
	return analyzer.QueueItem{JobID: job.ID, Kind: kind, URL: job.URL, Attempt: 1}
}

func TestProcessJobAccessibilitySucceeds(t *testing.T) {
	t.Parallel()

	page := []byte(`<html><body><img src="logo.png"><h1>Title</h1></body></html>`)
	h := newHarness(t, &fakeFetcher{body: page})
	item := seedJob(t, h, analyzer.JobKindAccessibility)

	h.worker.processJob(context.Background(), item)

	job, err := h.jobStore.GetJob(context.Background(), item.JobID)
	require.NoError(t, err)
	require.Equal(t, analyzer.JobStatusSucceeded, job.Status)
	require.NotNil(t, job.Started)
	require.NotNil(t, job.Finished)

	record, err := h.jobStore.GetResult(context.Background(), item.JobID)
	require.NoError(t, err)
	require.Equal(t, analyzer.JobKindAccessibility, record.Kind)
	require.Contains(t, record.SnapshotURI, "memory://snapshots/job-1/")

	var result map[string]any
	require.NoError(t, json.Unmarshal(record.Payload, &result))
	require.EqualValues(t, 1, result["total_issues"])

	msgs := h.publisher.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "analyses", msgs[0].Topic)
}

func TestProcessJobAccessibilityFetchFailureStillSucceeds(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeFetcher{err: errors.New("connection refused")})
	item := seedJob(t, h, analyzer.JobKindAccessibility)

	h.worker.processJob(context.Background(), item)

	// Unreachable pages produce a result carrying the error, not a failed job.
	job, err := h.jobStore.GetJob(context.Background(), item.JobID)
	require.NoError(t, err)
	require.Equal(t, analyzer.JobStatusSucceeded, job.Status)

	record, err := h.jobStore.GetResult(context.Background(), item.JobID)
	require.NoError(t, err)
	require.Empty(t, record.SnapshotURI)

	var result map[string]any
	require.NoError(t, json.Unmarshal(record.Payload, &result))
	require.Contains(t, result["error"], "failed to load page")
}

func TestProcessJobAuditSucceeds(t *testing.T) {
	t.Parallel()

	page := []byte(`<html><head><title>Hi</title>` +
		`<meta name="viewport" content="width=device-width">` +
		`<meta name="description" content="d"></head><body><h1>Hi</h1></body></html>`)
	headers := http.Header{"Strict-Transport-Security": {"max-age=63072000"}}
	h := newHarness(t, &fakeFetcher{body: page, headers: headers})
	item := seedJob(t, h, analyzer.JobKindAudit)

	h.worker.processJob(context.Background(), item)

	record, err := h.jobStore.GetResult(context.Background(), item.JobID)
	require.NoError(t, err)

	var report map[string]any
	require.NoError(t, json.Unmarshal(record.Payload, &report))
	require.Equal(t, true, report["mobile_friendly"])
	require.EqualValues(t, 100, report["seo_score"])
	require.NotEmpty(t, record.SnapshotURI)
}

func TestProcessJobAuditFetchFailureFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeFetcher{status: http.StatusServiceUnavailable})
	item := seedJob(t, h, analyzer.JobKindAudit)

	h.worker.processJob(context.Background(), item)

	job, err := h.jobStore.GetJob(context.Background(), item.JobID)
	require.NoError(t, err)
	require.Equal(t, analyzer.JobStatusFailed, job.Status)
	require.Contains(t, job.ErrorText, "unexpected status 503")

	_, err = h.jobStore.GetResult(context.Background(), item.JobID)
	require.ErrorIs(t, err, analyzer.ErrResultNotFound)
	require.Empty(t, h.publisher.Messages())
}

func TestProcessJobSkipsCanceled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeFetcher{body: []byte("<html></html>")})
	item := seedJob(t, h, analyzer.JobKindAccessibility)
	require.NoError(t, h.jobStore.UpdateJobStatus(
		context.Background(), item.JobID, analyzer.JobStatusCanceled, "canceled via API"))

	h.worker.processJob(context.Background(), item)

	job, err := h.jobStore.GetJob(context.Background(), item.JobID)
	require.NoError(t, err)
	require.Equal(t, analyzer.JobStatusCanceled, job.Status)
	_, err = h.jobStore.GetResult(context.Background(), item.JobID)
	require.ErrorIs(t, err, analyzer.ErrResultNotFound)
}

func TestProcessJobHeadlessKindsWithoutDriverFail(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeFetcher{body: []byte("<html></html>")})
	item := seedJob(t, h, analyzer.JobKindVitals)

	h.worker.processJob(context.Background(), item)

	job, err := h.jobStore.GetJob(context.Background(), item.JobID)
	require.NoError(t, err)
	require.Equal(t, analyzer.JobStatusFailed, job.Status)
	require.Contains(t, job.ErrorText, "headless rendering")
}

// steppingClock advances by a fixed step on every Now call, so durations
// derived from it are deterministic and far from wall time.
type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func TestProcessJobDurationComesFromClock(t *testing.T) {
	t.Parallel()
	metrics.Init()

	core, logs := observer.New(zap.InfoLevel)
	clock := &steppingClock{
		now:  time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		step: time.Minute,
	}
	jobStore := storememory.NewJobStore()
	w := New(
		queuememory.NewQueue(1),
		jobStore,
		storememory.NewBlobStore(),
		pubmemory.New(),
		sha256hash.New(),
		clock,
		&fakeFetcher{body: []byte("<html><body></body></html>")},
		nil,
		nil,
		Config{},
		zap.New(core),
	)

	job := analyzer.Job{
		ID:        "job-clock",
		Kind:      analyzer.JobKindAccessibility,
		URL:       "https://example.com",
		Status:    analyzer.JobStatusQueued,
		Submitted: clock.Now(),
	}
	require.NoError(t, jobStore.CreateJob(context.Background(), job))

	w.processJob(context.Background(), analyzer.QueueItem{
		JobID: job.ID, Kind: job.Kind, URL: job.URL, Attempt: 1,
	})

	entries := logs.FilterMessage("job completed").All()
	require.Len(t, entries, 1)
	took, ok := entries[0].ContextMap()["took"].(time.Duration)
	require.True(t, ok)
	// Wall time would report microseconds here; the stepping clock reports
	// whole minutes.
	require.GreaterOrEqual(t, took, time.Minute)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeFetcher{body: []byte("<html></html>")})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.worker.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after context cancel")
	}
}
