// Package responsive checks how a page behaves across viewport sizes.
package responsive

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/webman-dev/webman/internal/analyzer"
	"github.com/webman-dev/webman/internal/headless"
)

// ViewportResult records the layout problems seen at one viewport size.
type ViewportResult struct {
	HasHorizontalScroll bool `json:"has_horizontal_scroll"`
	ElementsOverflow    bool `json:"elements_overflow"`
}

// ResourceTiming records loading stats for one fetched resource.
type ResourceTiming struct {
	Duration float64 `json:"duration"`
	Size     int64   `json:"size"`
}

// InteractiveElement records whether an element is usable.
type InteractiveElement struct {
	Visible   bool `json:"visible"`
	Clickable bool `json:"clickable"`
}

// Results aggregates all responsiveness measurements for one page.
type Results struct {
	LoadTime            float64                       `json:"load_time"`
	ViewportTests       map[string]ViewportResult     `json:"viewport_tests"`
	ResourceLoading     map[string]ResourceTiming     `json:"resource_loading"`
	InteractiveElements map[string]InteractiveElement `json:"interactive_elements"`
}

// Report is the serialized responsiveness report.
type Report struct {
	URL       string  `json:"url"`
	Timestamp string  `json:"timestamp"`
	Results   Results `json:"results"`
}

const reportTimeFormat = "2006-01-02 15:04:05"

// viewportSizes is the fixed device matrix: mobile, tablet, landscape
// tablet, desktop.
var viewportSizes = []struct {
	W, H int
}{
	{320, 568},
	{768, 1024},
	{1024, 768},
	{1920, 1080},
}

const loadTimeScript = `window.performance.timing.responseEnd - window.performance.timing.navigationStart`

const horizontalScrollScript = `document.documentElement.scrollWidth > document.documentElement.clientWidth`

const elementsOverflowScript = `Array.from(document.getElementsByTagName('*')).some(el => el.offsetWidth > window.innerWidth)`

const resourceScript = `window.performance.getEntriesByType('resource').map(e => ({
	name: e.name,
	duration: e.duration,
	size: e.transferSize || 0
}))`

const interactiveScript = `Array.from(document.querySelectorAll('button, a, input, select, textarea')).map(el => ({
	key: (el.getAttribute('type') || el.tagName.toLowerCase()) + '_' + (el.id || el.className),
	visible: !!(el.offsetWidth || el.offsetHeight || el.getClientRects().length),
	clickable: !el.disabled
}))`

// Analyzer runs the responsiveness checks inside a single browser session.
type Analyzer struct {
	driver headless.Driver
	clock  analyzer.Clock
	logger *zap.Logger
}

// New constructs an Analyzer.
func New(driver headless.Driver, clock analyzer.Clock, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{driver: driver, clock: clock, logger: logger}
}

// Analyze loads url once and measures load time, the viewport matrix,
// resource loading, and interactive element usability.
func (a *Analyzer) Analyze(ctx context.Context, url string) (Report, error) {
	results := Results{
		ViewportTests:       map[string]ViewportResult{},
		ResourceLoading:     map[string]ResourceTiming{},
		InteractiveElements: map[string]InteractiveElement{},
	}

	err := a.driver.WithPage(ctx, url, func(s headless.Session) error {
		if err := s.Eval(loadTimeScript, &results.LoadTime); err != nil {
			return fmt.Errorf("load time: %w", err)
		}
		if err := a.runViewportMatrix(s, &results); err != nil {
			return err
		}
		if err := a.collectResources(s, &results); err != nil {
			return err
		}
		return a.collectInteractive(s, &results)
	})
	if err != nil {
		return Report{}, fmt.Errorf("responsiveness analysis: %w", err)
	}

	a.logger.Info("responsiveness analysis complete",
		zap.String("url", url),
		zap.Float64("load_time_ms", results.LoadTime),
		zap.Int("resources", len(results.ResourceLoading)),
	)
	return Report{
		URL:       url,
		Timestamp: a.clock.Now().Format(reportTimeFormat),
		Results:   results,
	}, nil
}

func (a *Analyzer) runViewportMatrix(s headless.Session, results *Results) error {
	for _, size := range viewportSizes {
		if err := s.SetViewport(size.W, size.H); err != nil {
			return fmt.Errorf("viewport %dx%d: %w", size.W, size.H, err)
		}
		var vr ViewportResult
		if err := s.Eval(horizontalScrollScript, &vr.HasHorizontalScroll); err != nil {
			return fmt.Errorf("horizontal scroll check: %w", err)
		}
		if err := s.Eval(elementsOverflowScript, &vr.ElementsOverflow); err != nil {
			return fmt.Errorf("overflow check: %w", err)
		}
		results.ViewportTests[fmt.Sprintf("%dx%d", size.W, size.H)] = vr
	}
	return nil
}

func (a *Analyzer) collectResources(s headless.Session, results *Results) error {
	var entries []struct {
		Name     string  `json:"name"`
		Duration float64 `json:"duration"`
		Size     int64   `json:"size"`
	}
	if err := s.Eval(resourceScript, &entries); err != nil {
		return fmt.Errorf("resource entries: %w", err)
	}
	for _, e := range entries {
		results.ResourceLoading[e.Name] = ResourceTiming{Duration: e.Duration, Size: e.Size}
	}
	return nil
}

func (a *Analyzer) collectInteractive(s headless.Session, results *Results) error {
	var entries []struct {
		Key       string `json:"key"`
		Visible   bool   `json:"visible"`
		Clickable bool   `json:"clickable"`
	}
	if err := s.Eval(interactiveScript, &entries); err != nil {
		return fmt.Errorf("interactive elements: %w", err)
	}
	for _, e := range entries {
		results.InteractiveElements[e.Key] = InteractiveElement{Visible: e.Visible, Clickable: e.Clickable}
	}
	return nil
}
