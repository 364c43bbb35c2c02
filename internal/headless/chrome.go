// Package headless drives a headless Chrome for browser-based measurements.
package headless

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// Session exposes the in-page operations measurement code needs.
type Session interface {
	// Eval runs script in the page, awaiting promises, and decodes the
	// JSON result into out.
	Eval(script string, out any) error
	// SetViewport resizes the emulated viewport.
	SetViewport(width, height int) error
}

// Driver opens a page and hands a live session to fn.
type Driver interface {
	WithPage(ctx context.Context, url string, fn func(Session) error) error
}

// Config controls the behavior of the Chrome driver.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Browser implements Driver on top of a shared chromedp exec allocator.
type Browser struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChrome creates a Chrome-backed driver.
func NewChrome(cfg Config) (*Browser, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Browser{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (b *Browser) Close() {
	b.allocCancel()
}

// WithPage opens a fresh tab, navigates to url, waits for the body, and
// invokes fn with the live session. The tab is torn down when fn returns.
func (b *Browser) WithPage(ctx context.Context, url string, fn func(Session) error) error {
	if err := b.acquire(ctx); err != nil {
		return err
	}
	defer b.release()

	taskCtx, taskCancel := chromedp.NewContext(b.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, b.cfg.NavigationTimeout)
	defer cancel()

	// The task context descends from the allocator, not the caller; forward
	// the caller's cancellation so an abandoned request tears the tab down.
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	actions := []chromedp.Action{
		b.userAgentAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return fn(&chromeSession{ctx: taskCtx})
}

func (b *Browser) userAgentAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if b.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func (b *Browser) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

type chromeSession struct {
	ctx context.Context
}

func (s *chromeSession) Eval(script string, out any) error {
	err := chromedp.Run(s.ctx, chromedp.Evaluate(script, out,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		},
	))
	if err != nil {
		return fmt.Errorf("evaluate script: %w", err)
	}
	return nil
}

func (s *chromeSession) SetViewport(width, height int) error {
	if err := chromedp.Run(s.ctx, chromedp.EmulateViewport(int64(width), int64(height))); err != nil {
		return fmt.Errorf("emulate viewport %dx%d: %w", width, height, err)
	}
	return nil
}
