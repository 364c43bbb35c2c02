// Package vitals measures Core Web Vitals for a page with a headless browser.
package vitals

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/webman-dev/webman/internal/analyzer"
	"github.com/webman-dev/webman/internal/headless"
)

// Result carries the five measured vitals.
type Result struct {
	URL  string `json:"url"`
	TTFB Metric `json:"TTFB"`
	FCP  Metric `json:"FCP"`
	LCP  Metric `json:"LCP"`
	CLS  Metric `json:"CLS"`
	FID  Metric `json:"FID"`
}

// paintScript resolves {FCP, LCP} in milliseconds, or {} after 10 seconds.
const paintScript = `new Promise((resolve) => {
	const metrics = {};
	const observer = new PerformanceObserver((list) => {
		for (const entry of list.getEntries()) {
			if (entry.entryType === 'paint' && entry.name === 'first-contentful-paint') {
				metrics.FCP = entry.startTime;
			}
			if (entry.entryType === 'largest-contentful-paint') {
				metrics.LCP = entry.startTime;
			}
		}
		resolve(metrics);
	});
	observer.observe({entryTypes: ['paint', 'largest-contentful-paint'], buffered: true});
	setTimeout(() => resolve(metrics), 10000);
})`

// clsScript accumulates layout shifts without recent input over 5 seconds.
const clsScript = `new Promise((resolve) => {
	let cls = 0;
	new PerformanceObserver((list) => {
		for (const entry of list.getEntries()) {
			if (!entry.hadRecentInput) {
				cls += entry.value;
			}
		}
	}).observe({entryTypes: ['layout-shift'], buffered: true});
	setTimeout(() => resolve(cls), 5000);
})`

// fidScript resolves the first-input delay in milliseconds, or 0 after 5 seconds.
const fidScript = `new Promise((resolve) => {
	new PerformanceObserver((list) => {
		const entries = list.getEntries();
		if (entries.length > 0) {
			resolve(entries[0].processingStart - entries[0].startTime);
		}
	}).observe({entryTypes: ['first-input'], buffered: true});
	setTimeout(() => resolve(0), 5000);
})`

// Analyzer measures web vitals: TTFB by a timed fetch, the rest by observer
// scripts evaluated in a headless browser. Each browser metric gets a fresh
// page load so observers see the navigation from the start.
type Analyzer struct {
	fetcher analyzer.Fetcher
	driver  headless.Driver
	logger  *zap.Logger
}

// New constructs an Analyzer.
func New(fetcher analyzer.Fetcher, driver headless.Driver, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{fetcher: fetcher, driver: driver, logger: logger}
}

// Analyze measures all vitals for url.
func (a *Analyzer) Analyze(ctx context.Context, url string) (Result, error) {
	resp, err := a.fetcher.Fetch(ctx, analyzer.FetchRequest{URL: url})
	if err != nil {
		return Result{}, fmt.Errorf("measure ttfb: %w", err)
	}
	ttfb := float64(resp.Duration.Microseconds()) / 1000

	var paint struct {
		FCP float64 `json:"FCP"`
		LCP float64 `json:"LCP"`
	}
	if err := a.measure(ctx, url, paintScript, &paint); err != nil {
		return Result{}, fmt.Errorf("measure paint: %w", err)
	}

	var cls float64
	if err := a.measure(ctx, url, clsScript, &cls); err != nil {
		return Result{}, fmt.Errorf("measure cls: %w", err)
	}

	var fid float64
	if err := a.measure(ctx, url, fidScript, &fid); err != nil {
		return Result{}, fmt.Errorf("measure fid: %w", err)
	}

	result := Result{
		URL:  url,
		TTFB: newMetric("TTFB", ttfb),
		FCP:  newMetric("FCP", paint.FCP),
		LCP:  newMetric("LCP", paint.LCP),
		CLS:  newMetric("CLS", cls),
		FID:  newMetric("FID", fid),
	}
	a.logger.Info("web vitals measured",
		zap.String("url", url),
		zap.Float64("ttfb_ms", result.TTFB.Value),
		zap.Float64("lcp_ms", result.LCP.Value),
	)
	return result, nil
}

func (a *Analyzer) measure(ctx context.Context, url, script string, out any) error {
	return a.driver.WithPage(ctx, url, func(s headless.Session) error {
		return s.Eval(script, out)
	})
}
