// Package audit produces a coarse page audit: load time, mobile readiness,
// SEO and accessibility scores, and security header presence.
package audit

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/webman-dev/webman/internal/analyzer"
)

// Report is the serialized audit result for one page.
type Report struct {
	URL                string          `json:"url"`
	LoadTime           float64         `json:"load_time"`
	MobileFriendly     bool            `json:"mobile_friendly"`
	SEOScore           float64         `json:"seo_score"`
	AccessibilityScore float64         `json:"accessibility_score"`
	SecurityHeaders    SecurityHeaders `json:"security_headers"`
}

// SecurityHeaders records the value of each inspected response header, or
// "Missing" when absent.
type SecurityHeaders struct {
	XFrameOptions           string `json:"x_frame_options"`
	XXSSProtection          string `json:"x_xss_protection"`
	ContentSecurityPolicy   string `json:"content_security_policy"`
	StrictTransportSecurity string `json:"strict_transport_security"`
}

// Auditor fetches a page and evaluates the audit heuristics.
type Auditor struct {
	fetcher analyzer.Fetcher
	logger  *zap.Logger
}

// New constructs an Auditor.
func New(fetcher analyzer.Fetcher, logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{fetcher: fetcher, logger: logger}
}

// Audit fetches url and evaluates the report. Unlike the accessibility
// engine, a fetch failure here is an error: there is no partial report.
func (a *Auditor) Audit(ctx context.Context, url string) (Report, error) {
	resp, err := a.fetcher.Fetch(ctx, analyzer.FetchRequest{URL: url})
	if err != nil {
		return Report{}, fmt.Errorf("fetch page: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Report{}, fmt.Errorf("fetch page: unexpected status %d", resp.StatusCode)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return Report{}, fmt.Errorf("parse page: %w", err)
	}
	report := Evaluate(url, doc, resp.Duration, resp.Headers)
	a.logger.Info("page audit complete",
		zap.String("url", url),
		zap.Float64("seo_score", report.SEOScore),
		zap.Float64("accessibility_score", report.AccessibilityScore),
	)
	return report, nil
}

// Evaluate computes the audit report from an already-fetched page.
func Evaluate(url string, doc *goquery.Document, loadTime time.Duration, headers http.Header) Report {
	return Report{
		URL:                url,
		LoadTime:           loadTime.Seconds(),
		MobileFriendly:     hasViewportMeta(doc),
		SEOScore:           SEOScore(doc),
		AccessibilityScore: AccessibilityScore(doc),
		SecurityHeaders:    InspectSecurityHeaders(headers),
	}
}

// SEOScore deducts fixed penalties for a missing title, meta description,
// and top-level heading, floored at zero.
func SEOScore(doc *goquery.Document) float64 {
	score := 100.0
	if doc.Find("title").Length() == 0 {
		score -= 10
	}
	if doc.Find(`meta[name="description"]`).Length() == 0 {
		score -= 15
	}
	if doc.Find("h1, h2").Length() == 0 {
		score -= 10
	}
	return max(0, score)
}

// AccessibilityScore deducts five points per image lacking an alt attribute,
// floored at zero.
func AccessibilityScore(doc *goquery.Document) float64 {
	score := 100.0
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		if _, ok := s.Attr("alt"); !ok {
			score -= 5
		}
	})
	return max(0, score)
}

// InspectSecurityHeaders reports the value of each security-related header.
func InspectSecurityHeaders(headers http.Header) SecurityHeaders {
	return SecurityHeaders{
		XFrameOptions:           headerOrMissing(headers, "X-Frame-Options"),
		XXSSProtection:          headerOrMissing(headers, "X-XSS-Protection"),
		ContentSecurityPolicy:   headerOrMissing(headers, "Content-Security-Policy"),
		StrictTransportSecurity: headerOrMissing(headers, "Strict-Transport-Security"),
	}
}

func headerOrMissing(headers http.Header, name string) string {
	if v := headers.Get(name); v != "" {
		return v
	}
	return "Missing"
}

func hasViewportMeta(doc *goquery.Document) bool {
	return doc.Find(`meta[name="viewport"]`).Length() > 0
}
