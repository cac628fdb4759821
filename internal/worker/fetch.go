package worker

import (
	"context"
	"net/http"
	"net/url"

	"github.com/meshchat/liferaft/internal/cache"
)

// HandleFetch resolves one intercepted request. Navigations and
// same-origin static assets consult the bundle store first; a hit
// short-circuits every caching strategy, a miss falls through to the
// router unchanged.
func (c *Controller) HandleFetch(ctx context.Context, req *cache.Request) *cache.Response {
	if c.bundleEligible(req) {
		if resp := c.serveFromBundle(ctx, req); resp != nil {
			return resp
		}
	}
	return c.cfg.Router.Handle(ctx, req)
}

func (c *Controller) bundleEligible(req *cache.Request) bool {
	if c.cfg.Bundle == nil {
		return false
	}
	return req.IsNavigation() || req.IsStaticAsset(c.cfg.OriginHost)
}

// serveFromBundle answers a request from the peer-delivered bundle. The
// store already hands back a detached copy of the bytes, so the response
// never aliases stored content.
func (c *Controller) serveFromBundle(ctx context.Context, req *cache.Request) *cache.Response {
	path := req.URL.Path
	if req.IsNavigation() {
		// Any navigation serves the bundled shell.
		path = c.cfg.ShellPath
	}
	asset, err := c.cfg.Bundle.Lookup(ctx, path)
	if err != nil || asset == nil {
		c.recordBundle("miss")
		return nil
	}
	c.recordBundle("hit")
	h := http.Header{}
	h.Set("Content-Type", asset.MIMEType)
	h.Set("X-Liferaft-Source", "bundle")
	return &cache.Response{Status: http.StatusOK, Header: h, Body: asset.Content}
}

func (c *Controller) recordBundle(result string) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordBundleLookup(result)
	}
}

func mustParseURL(path string) *url.URL {
	u, err := url.Parse(path)
	if err != nil {
		return &url.URL{Path: path}
	}
	return u
}
