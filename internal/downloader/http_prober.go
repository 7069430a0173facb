package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// HTTPProber checks direct links with HEAD requests.
type HTTPProber struct {
	client    *http.Client
	userAgent string
	logger    *slog.Logger
}

// NewHTTPProber creates a prober with an overall request timeout.
func NewHTTPProber(timeout time.Duration, userAgent string, logger *slog.Logger) *HTTPProber {
	return &HTTPProber{
		client: &http.Client{
			Timeout: timeout,
		},
		userAgent: userAgent,
		logger:    logger,
	}
}

// Probe checks URL accessibility without downloading content. Origins that
// reject HEAD are retried with a one-byte ranged GET. Transport failures are
// reported in the result, not as an error.
func (p *HTTPProber) Probe(ctx context.Context, url string) (*ProbeResult, error) {
	resp, err := p.do(ctx, http.MethodHead, url)
	if err == nil && resp.StatusCode == http.StatusMethodNotAllowed {
		resp.Body.Close()
		resp, err = p.do(ctx, http.MethodGet, url)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Debug("direct link probe failed", "url", url, "error", err)
		return &ProbeResult{
			Accessible: false,
			Error:      err.Error(),
		}, nil
	}
	defer resp.Body.Close()

	result := &ProbeResult{
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		Accessible:    resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent,
	}
	if !result.Accessible {
		result.Error = fmt.Sprintf("status code %d", resp.StatusCode)
	}

	p.logger.Debug("direct link probed",
		"url", url,
		"status", resp.StatusCode,
		"accessible", result.Accessible,
	)
	return result, nil
}

func (p *HTTPProber) do(ctx context.Context, method, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}
	return p.client.Do(req)
}
