// Package worker implements the analysis pipeline execution loop.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/webman-dev/webman/internal/accessibility"
	"github.com/webman-dev/webman/internal/analyzer"
	"github.com/webman-dev/webman/internal/audit"
	"github.com/webman-dev/webman/internal/metrics"
	"github.com/webman-dev/webman/internal/responsive"
	"github.com/webman-dev/webman/internal/vitals"
)

// Config controls Worker behavior.
type Config struct {
	ContentType string
	BlobPrefix  string
	Topic       string
}

// Worker consumes queue items and executes the analysis pipeline.
type Worker struct {
	queue      analyzer.Queue
	jobStore   analyzer.JobStore
	blobStore  analyzer.BlobStore
	publisher  analyzer.Publisher
	hasher     analyzer.Hasher
	clock      analyzer.Clock
	fetcher    analyzer.Fetcher
	vitals     *vitals.Analyzer
	responsive *responsive.Analyzer
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Worker. The vitals and responsive analyzers may be
// nil when headless rendering is disabled; jobs of those kinds fail.
func New(
	queue analyzer.Queue,
	jobStore analyzer.JobStore,
	blobStore analyzer.BlobStore,
	publisher analyzer.Publisher,
	hasher analyzer.Hasher,
	clock analyzer.Clock,
	fetcher analyzer.Fetcher,
	vitalsAnalyzer *vitals.Analyzer,
	responsiveAnalyzer *responsive.Analyzer,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	return &Worker{
		queue:      queue,
		jobStore:   jobStore,
		blobStore:  blobStore,
		publisher:  publisher,
		hasher:     hasher,
		clock:      clock,
		fetcher:    fetcher,
		vitals:     vitalsAnalyzer,
		responsive: responsiveAnalyzer,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item analyzer.QueueItem) {
	job, err := w.jobStore.GetJob(ctx, item.JobID)
	if err != nil {
		w.logger.Error("load job failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	if job.Status == analyzer.JobStatusCanceled {
		w.logger.Info("skipping canceled job", zap.String("job_id", item.JobID))
		metrics.ObserveJob(string(analyzer.JobStatusCanceled))
		return
	}

	if err := w.jobStore.UpdateJobStatus(ctx, item.JobID, analyzer.JobStatusRunning, ""); err != nil {
		w.logger.Error("update job status failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := w.clock.Now()
	payload, snapshotURI, err := w.runAnalysis(ctx, item)
	took := w.clock.Now().Sub(start)

	status := analyzer.JobStatusSucceeded
	errText := ""
	if err != nil {
		status = analyzer.JobStatusFailed
		errText = err.Error()
		if ctx.Err() != nil {
			status = analyzer.JobStatusCanceled
		}
		w.logger.Error("analysis failed",
			zap.String("job_id", item.JobID),
			zap.String("kind", string(item.Kind)),
			zap.Error(err),
		)
	} else {
		record := analyzer.ResultRecord{
			JobID:       item.JobID,
			Kind:        item.Kind,
			URL:         item.URL,
			CompletedAt: w.clock.Now(),
			Payload:     payload,
			SnapshotURI: snapshotURI,
		}
		if storeErr := w.jobStore.StoreResult(ctx, record); storeErr != nil {
			status = analyzer.JobStatusFailed
			errText = fmt.Sprintf("store result: %v", storeErr)
		}
	}

	metrics.ObserveAnalysis(string(item.Kind), string(status), took)
	metrics.ObserveJob(string(status))

	if err := w.jobStore.UpdateJobStatus(ctx, item.JobID, status, errText); err != nil {
		w.logger.Error("final job status update failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}

	if status == analyzer.JobStatusSucceeded {
		w.publishCompletion(ctx, item, snapshotURI)
		w.logger.Info("job completed",
			zap.String("job_id", item.JobID),
			zap.String("kind", string(item.Kind)),
			zap.Duration("took", took),
		)
	}
}

// runAnalysis dispatches on the job kind and returns the JSON payload
// plus the snapshot URI for DOM-based analyses.
func (w *Worker) runAnalysis(ctx context.Context, item analyzer.QueueItem) (json.RawMessage, string, error) {
	switch item.Kind {
	case analyzer.JobKindAccessibility:
		return w.runAccessibility(ctx, item)
	case analyzer.JobKindAudit:
		return w.runAudit(ctx, item)
	case analyzer.JobKindVitals:
		if w.vitals == nil {
			return nil, "", errors.New("web vitals analysis requires headless rendering")
		}
		result, err := w.vitals.Analyze(ctx, item.URL)
		if err != nil {
			return nil, "", err
		}
		payload, err := json.Marshal(result)
		if err != nil {
			return nil, "", fmt.Errorf("encode result: %w", err)
		}
		return payload, "", nil
	case analyzer.JobKindResponsiveness:
		if w.responsive == nil {
			return nil, "", errors.New("responsiveness analysis requires headless rendering")
		}
		report, err := w.responsive.Analyze(ctx, item.URL)
		if err != nil {
			return nil, "", err
		}
		payload, err := json.Marshal(report)
		if err != nil {
			return nil, "", fmt.Errorf("encode report: %w", err)
		}
		return payload, "", nil
	default:
		return nil, "", fmt.Errorf("unknown analysis kind %q", item.Kind)
	}
}

func (w *Worker) runAccessibility(ctx context.Context, item analyzer.QueueItem) (json.RawMessage, string, error) {
	resp, doc, err := w.fetchDocument(ctx, item.URL)

	var result accessibility.Result
	if err != nil {
		result = accessibility.ErrorResult(item.URL, err)
	} else {
		result = accessibility.Assemble(item.URL, doc)
	}

	observeIssueCounts(result)

	payload, encErr := json.Marshal(result)
	if encErr != nil {
		return nil, "", fmt.Errorf("encode result: %w", encErr)
	}

	var snapshotURI string
	if err == nil {
		snapshotURI = w.snapshot(ctx, item.JobID, resp.Body)
	}
	return payload, snapshotURI, nil
}

func (w *Worker) runAudit(ctx context.Context, item analyzer.QueueItem) (json.RawMessage, string, error) {
	resp, doc, err := w.fetchDocument(ctx, item.URL)
	if err != nil {
		return nil, "", err
	}

	report := audit.Evaluate(item.URL, doc, resp.Duration, resp.Headers)
	payload, err := json.Marshal(report)
	if err != nil {
		return nil, "", fmt.Errorf("encode report: %w", err)
	}
	return payload, w.snapshot(ctx, item.JobID, resp.Body), nil
}

func (w *Worker) fetchDocument(ctx context.Context, url string) (analyzer.FetchResponse, *goquery.Document, error) {
	resp, err := w.fetcher.Fetch(ctx, analyzer.FetchRequest{URL: url})
	if err != nil {
		return analyzer.FetchResponse{}, nil, fmt.Errorf("fetch page: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return analyzer.FetchResponse{}, nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return analyzer.FetchResponse{}, nil, fmt.Errorf("parse html: %w", err)
	}
	return resp, doc, nil
}

// snapshot persists the fetched HTML and returns its URI. Snapshot
// failures are logged but never fail the job.
func (w *Worker) snapshot(ctx context.Context, jobID string, body []byte) string {
	if w.blobStore == nil {
		return ""
	}
	hash, err := w.hasher.Hash(body)
	if err != nil {
		w.logger.Warn("hash snapshot failed", zap.String("job_id", jobID), zap.Error(err))
		return ""
	}
	uri, err := w.blobStore.PutObject(ctx, w.buildBlobPath(jobID, hash), w.cfg.ContentType, body)
	if err != nil {
		w.logger.Warn("persist snapshot failed", zap.String("job_id", jobID), zap.Error(err))
		return ""
	}
	metrics.ObserveSnapshot(uri, len(body))
	return uri
}

func (w *Worker) buildBlobPath(jobID, hash string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", jobID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, jobID, hash)
}

func (w *Worker) publishCompletion(ctx context.Context, item analyzer.QueueItem, snapshotURI string) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	payload := map[string]any{
		"job_id":       item.JobID,
		"kind":         string(item.Kind),
		"url":          item.URL,
		"snapshot_uri": snapshotURI,
		"timestamp":    w.clock.Now().Format(time.RFC3339),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		w.logger.Warn("publish completion failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	w.logger.Debug("completion published", zap.String("job_id", item.JobID))
}

func observeIssueCounts(result accessibility.Result) {
	metrics.ObserveIssues("image_alt", len(result.ImageIssues))
	metrics.ObserveIssues("heading_hierarchy", len(result.HeadingIssues))
	metrics.ObserveIssues("form_labels", len(result.FormIssues))
	metrics.ObserveIssues("color_contrast", len(result.ContrastIssues))
	metrics.ObserveIssues("aria", len(result.AriaIssues))
}
