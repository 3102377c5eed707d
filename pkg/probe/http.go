package probe

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"
)

// HTTPResult is the outcome of a single HEAD probe attempt.
type HTTPResult struct {
	Code    int
	Latency time.Duration
	Err     error
}

// HTTPProber issues a HEAD request against a hostname, trying HTTPS first
// and falling back to HTTP.
type HTTPProber interface {
	Head(ctx context.Context, host string, timeout time.Duration) HTTPResult
}

// HeadProber implements HTTPProber over net/http. TLS verification is
// skipped: the probe's job is reachability and status code, not
// certificate validity, which is not checked here.
type HeadProber struct {
	client *http.Client
}

// NewHeadProber creates a HeadProber. The client is shared across calls;
// individual calls still bound their own deadline via timeout.
func NewHeadProber() *HeadProber {
	return &HeadProber{
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
			// Do not follow redirects: a HEAD probe reports the status of
			// the first hop, not wherever a 3xx eventually lands.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Head attempts an HTTPS HEAD first, then HTTP on any transport-level
// failure (connection refused, TLS handshake failure, timeout on the HTTPS
// leg only). A response with a status code, even non-200, is never
// retried on the other scheme; only a failure to get a response is.
func (p *HeadProber) Head(ctx context.Context, host string, timeout time.Duration) HTTPResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if res := p.attempt(ctx, "https://"+host); res.Err == nil {
		return res
	}
	return p.attempt(ctx, "http://"+host)
}

func (p *HeadProber) attempt(ctx context.Context, url string) HTTPResult {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return HTTPResult{Err: err, Latency: time.Since(start)}
	}

	resp, err := p.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return HTTPResult{Err: err, Latency: latency}
	}
	defer resp.Body.Close()

	return HTTPResult{Code: resp.StatusCode, Latency: latency}
}
