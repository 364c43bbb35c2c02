package accessibility

import (
	"bytes"
	"context"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/webman-dev/webman/internal/analyzer"
)

// Assemble runs the five checks against a parsed document in fixed order and
// totals the issue counts. The total is computed here and nowhere else.
func Assemble(url string, doc *goquery.Document) Result {
	result := Result{
		URL:            url,
		ImageIssues:    CheckImageAlt(doc),
		HeadingIssues:  CheckHeadingHierarchy(doc),
		FormIssues:     CheckFormLabels(doc),
		ContrastIssues: CheckColorContrast(doc),
		AriaIssues:     CheckAria(doc),
	}
	result.TotalIssues = len(result.ImageIssues) +
		len(result.HeadingIssues) +
		len(result.FormIssues) +
		len(result.ContrastIssues) +
		len(result.AriaIssues)
	return result
}

// ErrorResult builds the short-circuit result for a page that could not be
// fetched: all categories empty, total zero, error text set.
func ErrorResult(url string, err error) Result {
	return Result{
		URL:            url,
		ImageIssues:    []Issue{},
		HeadingIssues:  []Issue{},
		FormIssues:     []Issue{},
		ContrastIssues: []Issue{},
		AriaIssues:     []Issue{},
		Error:          fmt.Sprintf("failed to load page: %v", err),
	}
}

// Analyzer fetches a page and runs the heuristics engine against it.
type Analyzer struct {
	fetcher analyzer.Fetcher
	logger  *zap.Logger
}

// New constructs an Analyzer.
func New(fetcher analyzer.Fetcher, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{fetcher: fetcher, logger: logger}
}

// Analyze fetches url and assembles an accessibility report. Fetch failures
// (including non-2xx statuses) short-circuit into an error-marked result;
// the checks never run against a page that failed to load.
func (a *Analyzer) Analyze(ctx context.Context, url string) Result {
	resp, err := a.fetcher.Fetch(ctx, analyzer.FetchRequest{URL: url})
	if err != nil {
		a.logger.Warn("page fetch failed", zap.String("url", url), zap.Error(err))
		return ErrorResult(url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.logger.Warn("page fetch returned non-2xx",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode),
		)
		return ErrorResult(url, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		a.logger.Warn("page parse failed", zap.String("url", url), zap.Error(err))
		return ErrorResult(url, err)
	}

	result := Assemble(url, doc)
	a.logger.Info("accessibility analysis complete",
		zap.String("url", url),
		zap.Int("total_issues", result.TotalIssues),
	)
	return result
}
