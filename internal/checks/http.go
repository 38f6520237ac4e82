package checks

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const maxBody = 4 * 1024 * 1024 // 4 MiB

// HTTPBrowser loads pages with plain GET requests. It renders nothing, so
// the body text is the raw response body.
type HTTPBrowser struct {
	client *http.Client
}

func NewHTTPBrowser() *HTTPBrowser {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	return &HTTPBrowser{
		client: &http.Client{
			Transport: transport,
		},
	}
}

func (b *HTTPBrowser) NewPage(ctx context.Context) (Page, error) {
	return &httpPage{client: b.client}, nil
}

func (b *HTTPBrowser) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

type httpPage struct {
	client *http.Client
	body   []byte
	loaded bool
}

// Navigate treats any HTTP status as a loaded page, as a browser would.
func (p *httpPage) Navigate(ctx context.Context, url string) error {
	p.body, p.loaded = nil, false

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(b) > maxBody {
		return fmt.Errorf("body exceeds %d MiB", maxBody>>20)
	}

	p.body, p.loaded = b, true
	return nil
}

func (p *httpPage) BodyText(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !p.loaded {
		return "", errors.New("no document loaded")
	}
	return string(p.body), nil
}

func (p *httpPage) Close() error {
	p.body = nil
	return nil
}
