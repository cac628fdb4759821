package cache

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

const testOrigin = "origin.example"

func makeRequest(rawURL, mode, dest, accept string) *Request {
	u, _ := url.Parse(rawURL)
	return &Request{
		Method:      http.MethodGet,
		URL:         u,
		Mode:        mode,
		Destination: dest,
		Accept:      accept,
		Header:      http.Header{},
	}
}

func TestRequestClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		req   *Request
		class string
	}{
		{
			name:  "navigate mode",
			req:   makeRequest("/inbox", "navigate", "", ""),
			class: "navigation",
		},
		{
			name:  "document destination",
			req:   makeRequest("/", "", "document", ""),
			class: "navigation",
		},
		{
			name:  "html accept header",
			req:   makeRequest("/settings", "", "", "text/html,application/xhtml+xml"),
			class: "navigation",
		},
		{
			name:  "script destination",
			req:   makeRequest("/assets/main.js", "", "script", ""),
			class: "static",
		},
		{
			name:  "css extension without destination",
			req:   makeRequest("/assets/app.css", "", "", ""),
			class: "static",
		},
		{
			name:  "api path",
			req:   makeRequest("/api/messages", "", "", "application/json"),
			class: "api",
		},
		{
			name:  "cross origin",
			req:   makeRequest("https://cdn.example/widget.json", "", "", ""),
			class: "api",
		},
		{
			name:  "websocket scheme",
			req:   makeRequest("wss://relay.example/sub", "", "", ""),
			class: "api",
		},
		{
			name:  "image destination",
			req:   makeRequest("/media/photo", "", "image", ""),
			class: "images",
		},
		{
			name:  "image extension",
			req:   makeRequest("/media/photo.webp", "", "", ""),
			class: "images",
		},
		{
			name:  "font destination",
			req:   makeRequest("/fonts/inter", "", "font", ""),
			class: "fonts",
		},
		{
			name:  "woff2 extension",
			req:   makeRequest("/fonts/inter.woff2", "", "", ""),
			class: "fonts",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := classify(tt.req)
			assert.Equal(t, tt.class, got)
		})
	}
}

// classify mirrors the router's declared matching order.
func classify(req *Request) string {
	switch {
	case req.IsNavigation():
		return "navigation"
	case req.IsStaticAsset(testOrigin):
		return "static"
	case req.IsAPI(testOrigin):
		return "api"
	case req.IsImage():
		return "images"
	case req.IsFont():
		return "fonts"
	default:
		return "passthrough"
	}
}

func TestCrossOriginScriptIsNotStatic(t *testing.T) {
	t.Parallel()

	// A foreign-origin script belongs to the network-first class, not the
	// same-origin static class.
	req := makeRequest("https://cdn.example/lib.js", "", "script", "")
	assert.False(t, req.IsStaticAsset(testOrigin))
	assert.True(t, req.IsAPI(testOrigin))
}

func TestCacheKeyIncludesQuery(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/api/messages?page=2", makeRequest("/api/messages?page=2", "", "", "").CacheKey())
	assert.Equal(t, "/index.html", makeRequest("/index.html", "", "", "").CacheKey())
}

func TestResponseCloneDetachesBody(t *testing.T) {
	t.Parallel()

	orig := &Response{Status: 200, Header: http.Header{}, Body: []byte("abc")}
	clone := orig.Clone()
	clone.Body[0] = 'z'
	assert.Equal(t, byte('a'), orig.Body[0])
}

func TestFromHTTP(t *testing.T) {
	t.Parallel()

	httpReq, _ := http.NewRequest(http.MethodGet, "/page", nil)
	httpReq.Header.Set("Sec-Fetch-Mode", "navigate")
	httpReq.Header.Set("Sec-Fetch-Dest", "document")
	httpReq.Header.Set("Accept", "text/html")

	req := FromHTTP(httpReq)
	assert.Equal(t, "navigate", req.Mode)
	assert.Equal(t, "document", req.Destination)
	assert.True(t, req.IsNavigation())
}
