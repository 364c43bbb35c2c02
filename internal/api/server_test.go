package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webman-dev/webman/internal/accessibility"
	"github.com/webman-dev/webman/internal/analyzer"
	"github.com/webman-dev/webman/internal/config"
	"github.com/webman-dev/webman/internal/dispatcher"
	"github.com/webman-dev/webman/internal/metrics"
	queueMemory "github.com/webman-dev/webman/internal/queue/memory"
	storeMemory "github.com/webman-dev/webman/internal/storage/memory"
)

type fakeIDGen struct {
	ids  []string
	next int
}

func (g *fakeIDGen) NewID() (string, error) {
	id := g.ids[g.next%len(g.ids)]
	g.next++
	return id, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type fakeFetcher struct {
	body   []byte
	status int
	err    error
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
		Body:       f.body,
		Duration:   time.Second,
	}, nil
}

type serverHarness struct {
	server   *Server
	jobStore *storeMemory.JobStore
	queue    *queueMemory.Queue
}

func newServerHarness(t *testing.T, cfg config.Config) *serverHarness {
	t.Helper()

	metrics.Init()
	jobStore := storeMemory.NewJobStore()
	q := queueMemory.NewQueue(10)
	dispatch := dispatcher.New(q, nil)

	page := []byte(`<html><body><img src="x.png"><h1>t</h1></body></html>`)
	analyzers := Analyzers{
		Accessibility: accessibility.New(&fakeFetcher{body: page}, zap.NewNop()),
	}

	server := NewServer(
		jobStore,
		dispatch,
		analyzers,
		&fakeIDGen{ids: []string{"job-1"}},
		&fakeClock{now: time.Unix(100, 0)},
		cfg,
		zap.NewNop(),
	)
	return &serverHarness{server: server, jobStore: jobStore, queue: q}
}

func doRequest(h *serverHarness, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	h := newServerHarness(t, config.Config{})
	rec := doRequest(h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}

func TestServer_Analyze_Accessibility(t *testing.T) {
	t.Parallel()

	h := newServerHarness(t, config.Config{})
	rec := doRequest(h, http.MethodPost, "/v1/analyze",
		[]byte(`{"url":"example.com","analysis_type":"accessibility"}`))

	require.Equal(t, http.StatusOK, rec.Code)

	var result map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, "http://example.com", result["url"])
	require.EqualValues(t, 1, result["total_issues"])
}

func TestServer_Analyze_DefaultsToAccessibility(t *testing.T) {
	t.Parallel()

	h := newServerHarness(t, config.Config{})
	rec := doRequest(h, http.MethodPost, "/v1/analyze", []byte(`{"url":"example.com"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "total_issues")
}

func TestServer_Analyze_RejectsBadInput(t *testing.T) {
	t.Parallel()

	h := newServerHarness(t, config.Config{})

	rec := doRequest(h, http.MethodPost, "/v1/analyze", []byte(`{"url":""}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(h, http.MethodPost, "/v1/analyze",
		[]byte(`{"url":"example.com","analysis_type":"nonsense"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "unknown analysis type")

	rec = doRequest(h, http.MethodPost, "/v1/analyze", []byte(`{bad json`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Analyze_HeadlessKindUnavailable(t *testing.T) {
	t.Parallel()

	h := newServerHarness(t, config.Config{})
	rec := doRequest(h, http.MethodPost, "/v1/analyze",
		[]byte(`{"url":"example.com","analysis_type":"vitals"}`))
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Contains(t, rec.Body.String(), "headless rendering")
}

func TestServer_SubmitJob_Succeeds(t *testing.T) {
	t.Parallel()

	h := newServerHarness(t, config.Config{})
	rec := doRequest(h, http.MethodPost, "/v1/jobs/",
		[]byte(`{"url":"https://example.com","analysis_type":"audit"}`))

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "job-1")

	item, err := h.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "job-1", item.JobID)
	require.Equal(t, analyzer.JobKindAudit, item.Kind)
	require.Equal(t, "https://example.com", item.URL)

	job, err := h.jobStore.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, analyzer.JobStatusQueued, job.Status)
}

func TestServer_SubmitJob_RequiresKind(t *testing.T) {
	t.Parallel()

	h := newServerHarness(t, config.Config{})
	rec := doRequest(h, http.MethodPost, "/v1/jobs/", []byte(`{"url":"https://example.com"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, analyzer.QueueItem) error {
	return errors.New("queue backend unavailable")
}

func (failingQueue) Dequeue(ctx context.Context) (analyzer.QueueItem, error) {
	<-ctx.Done()
	return analyzer.QueueItem{}, ctx.Err()
}

func TestServer_SubmitJob_EnqueueFailureMarksJobFailed(t *testing.T) {
	t.Parallel()

	metrics.Init()
	jobStore := storeMemory.NewJobStore()
	server := NewServer(
		jobStore,
		dispatcher.New(failingQueue{}, nil),
		Analyzers{},
		&fakeIDGen{ids: []string{"job-9"}},
		&fakeClock{now: time.Unix(100, 0)},
		config.Config{},
		zap.NewNop(),
	)

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/",
		bytes.NewReader([]byte(`{"url":"https://example.com","analysis_type":"audit"}`)))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	// The created row must not stay queued forever.
	job, err := jobStore.GetJob(context.Background(), "job-9")
	require.NoError(t, err)
	require.Equal(t, analyzer.JobStatusFailed, job.Status)
	require.Equal(t, "enqueue failed", job.ErrorText)
}

func TestServer_JobStatusAndResult(t *testing.T) {
	t.Parallel()

	h := newServerHarness(t, config.Config{})
	ctx := context.Background()

	job := analyzer.Job{
		ID:        "job-2",
		Kind:      analyzer.JobKindAccessibility,
		URL:       "https://example.com",
		Status:    analyzer.JobStatusQueued,
		Submitted: time.Unix(100, 0).UTC(),
	}
	require.NoError(t, h.jobStore.CreateJob(ctx, job))

	rec := doRequest(h, http.MethodGet, "/v1/jobs/job-2/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "queued")

	// Result before completion conflicts.
	rec = doRequest(h, http.MethodGet, "/v1/jobs/job-2/result", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	require.NoError(t, h.jobStore.UpdateJobStatus(ctx, "job-2", analyzer.JobStatusSucceeded, ""))
	require.NoError(t, h.jobStore.StoreResult(ctx, analyzer.ResultRecord{
		JobID:   "job-2",
		Kind:    analyzer.JobKindAccessibility,
		URL:     job.URL,
		Payload: json.RawMessage(`{"total_issues":0}`),
	}))

	rec = doRequest(h, http.MethodGet, "/v1/jobs/job-2/result", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "total_issues")
}

func TestServer_JobNotFound(t *testing.T) {
	t.Parallel()

	h := newServerHarness(t, config.Config{})

	rec := doRequest(h, http.MethodGet, "/v1/jobs/missing/status", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(h, http.MethodGet, "/v1/jobs/missing/result", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(h, http.MethodPost, "/v1/jobs/missing/cancel", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CancelJob(t *testing.T) {
	t.Parallel()

	h := newServerHarness(t, config.Config{})
	ctx := context.Background()

	job := analyzer.Job{
		ID:        "job-3",
		Kind:      analyzer.JobKindVitals,
		URL:       "https://example.com",
		Status:    analyzer.JobStatusQueued,
		Submitted: time.Unix(100, 0).UTC(),
	}
	require.NoError(t, h.jobStore.CreateJob(ctx, job))

	rec := doRequest(h, http.MethodPost, "/v1/jobs/job-3/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := h.jobStore.GetJob(ctx, "job-3")
	require.NoError(t, err)
	require.Equal(t, analyzer.JobStatusCanceled, got.Status)

	// A second cancel conflicts.
	rec = doRequest(h, http.MethodPost, "/v1/jobs/job-3/cancel", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	h := newServerHarness(t, cfg)

	rec := doRequest(h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	authRec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(authRec, req)
	require.Equal(t, http.StatusOK, authRec.Code)
}
