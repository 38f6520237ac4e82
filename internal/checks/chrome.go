package checks

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
)

// ChromeBrowser drives one headless Chromium process. Every page is a tab
// of that process.
type ChromeBrowser struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

func NewChromeBrowser(opts ...chromedp.ExecAllocatorOption) (*ChromeBrowser, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:], opts...)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	// The first Run starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start chromium: %w", err)
	}

	return &ChromeBrowser{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

func (b *ChromeBrowser) NewPage(ctx context.Context) (Page, error) {
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}

	stop := context.AfterFunc(ctx, cancel)
	return &chromePage{tabCtx: tabCtx, cancel: cancel, stop: stop}, nil
}

func (b *ChromeBrowser) Close() error {
	err := chromedp.Cancel(b.browserCtx)
	b.browserCancel()
	b.allocCancel()
	if err != nil {
		return fmt.Errorf("close chromium: %w", err)
	}
	return nil
}

type chromePage struct {
	tabCtx context.Context
	cancel context.CancelFunc
	stop   func() bool
}

// bind derives a context that addresses this tab but honours the caller's
// deadline and cancellation.
func (p *chromePage) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if dl, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(p.tabCtx, dl)
	} else {
		runCtx, cancel = context.WithCancel(p.tabCtx)
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := p.bind(ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, chromedp.Navigate(url)); err != nil {
		return wrapCtxErr(runCtx, err)
	}
	return nil
}

func (p *chromePage) BodyText(ctx context.Context) (string, error) {
	runCtx, cancel := p.bind(ctx)
	defer cancel()

	var text string
	err := chromedp.Run(runCtx,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Text("body", &text, chromedp.ByQuery),
	)
	if err != nil {
		return "", wrapCtxErr(runCtx, err)
	}
	return text, nil
}

func (p *chromePage) Close() error {
	p.stop()
	p.cancel()
	return nil
}

// wrapCtxErr keeps context errors matchable with errors.Is even when
// chromedp reports them as plain strings.
func wrapCtxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && err != ctxErr {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}
