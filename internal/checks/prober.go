package checks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"waker/internal/config"
)

// Prober wakes one target at a time through a shared Browser. It never
// retries; a failed probe is reported in the Result.
type Prober struct {
	browser           Browser
	navigationTimeout time.Duration
	contentTimeout    time.Duration
}

func NewProber(browser Browser, navigationTimeout, contentTimeout time.Duration) *Prober {
	return &Prober{
		browser:           browser,
		navigationTimeout: navigationTimeout,
		contentTimeout:    contentTimeout,
	}
}

func (p *Prober) Probe(ctx context.Context, target config.Target) Result {
	start := time.Now()

	status, response, err := p.load(ctx, target.URL)
	if err != nil {
		status = StatusFailed
		response = stringResponse(err.Error())
	}

	latency := time.Since(start)
	return Result{
		Name:      target.Name,
		Status:    status,
		Response:  response,
		TimeTaken: FormatTimeTaken(latency),
		Latency:   latency,
	}
}

func (p *Prober) load(ctx context.Context, url string) (Status, json.RawMessage, error) {
	page, err := p.browser.NewPage(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, p.navigationTimeout)
	err = page.Navigate(navCtx, url)
	cancel()
	if err != nil {
		return "", nil, describeErr("navigate to "+url, p.navigationTimeout, err)
	}

	bodyCtx, cancel := context.WithTimeout(ctx, p.contentTimeout)
	text, err := page.BodyText(bodyCtx)
	cancel()
	if err != nil {
		return "", nil, describeErr("wait for body", p.contentTimeout, err)
	}

	status, response := Classify(text)
	return status, response, nil
}

func describeErr(op string, timeout time.Duration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: timeout of %s exceeded", op, timeout)
	}
	return fmt.Errorf("%s: %w", op, err)
}
