// Package collyfetcher implements Fetcher using the Colly collector.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/webman-dev/webman/internal/analyzer"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements analyzer.Fetcher using a Colly collector. Each fetch
// clones the base collector so concurrent analyses stay independent.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New constructs a Fetcher.
func New(cfg Config) *Fetcher {
	collector := colly.NewCollector()
	collector.IgnoreRobotsTxt = true
	return &Fetcher{
		cfg:           cfg,
		baseCollector: collector,
	}
}

// NewWithTransport constructs a Fetcher with a custom transport (tests).
func NewWithTransport(cfg Config, transport http.RoundTripper) *Fetcher {
	f := New(cfg)
	f.transport = transport
	return f
}

// Fetch retrieves the page body for the requested URL. One attempt, no
// retries; a transport or HTTP error surfaces directly.
func (f *Fetcher) Fetch(ctx context.Context, request analyzer.FetchRequest) (analyzer.FetchResponse, error) {
	var (
		result   analyzer.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return analyzer.FetchResponse{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	request analyzer.FetchRequest,
	start time.Time,
	result *analyzer.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	transport := f.transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	collector.WithTransport(transport)

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range request.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		*result = analyzer.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			// Keep the status for non-2xx responses so callers can report it.
			result.StatusCode = r.StatusCode
			result.URL = request.URL
			result.Duration = time.Since(start)
		}
		*fetchErr = err
	})

	return collector
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		// Visit also returns the error OnError saw; prefer the richer one.
		if *fetchErr != nil {
			return fmt.Errorf("response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
