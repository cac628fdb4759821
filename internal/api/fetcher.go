package api

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/meshchat/liferaft/internal/cache"
	"github.com/meshchat/liferaft/internal/errors"
)

const (
	originFetchTimeout = 30 * time.Second
	maxResponseBytes   = 32 << 20 // 32MB per fetched resource
)

// OriginFetcher implements cache.Fetcher against the publishing origin
// (a content-addressed gateway). Relative request URLs are resolved
// against the configured origin; absolute URLs are fetched as-is.
type OriginFetcher struct {
	origin *url.URL
	client *http.Client
}

// NewOriginFetcher creates a fetcher for the given origin URL.
func NewOriginFetcher(originURL string) (*OriginFetcher, error) {
	u, err := url.Parse(originURL)
	if err != nil {
		return nil, errors.Wrap(err).
			Component("api").
			Category(errors.CategoryValidation).
			Context("origin_url", originURL).
			Build()
	}
	return &OriginFetcher{
		origin: u,
		client: &http.Client{Timeout: originFetchTimeout},
	}, nil
}

// Fetch performs the network request and buffers the full response.
func (f *OriginFetcher) Fetch(ctx context.Context, req *cache.Request) (*cache.Response, error) {
	target := req.URL
	if target.Host == "" {
		target = f.origin.ResolveReference(req.URL)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), nil)
	if err != nil {
		return nil, err
	}
	for _, h := range []string{"Accept", "Accept-Language", "If-None-Match", "If-Modified-Since"} {
		if v := req.Header.Get(h); v != "" {
			httpReq.Header.Set(h, v)
		}
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	return &cache.Response{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	}, nil
}
