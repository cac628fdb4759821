package cache

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// Request is the router's view of one intercepted fetch. Mode and
// Destination carry the browser's Sec-Fetch-Mode / Sec-Fetch-Dest values
// when present; classification falls back to path heuristics otherwise.
type Request struct {
	Method      string
	URL         *url.URL
	Mode        string
	Destination string
	Accept      string
	Header      http.Header
}

// Response is a fully buffered response. Handlers always synthesize one
// rather than propagating transport errors.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Clone returns a deep copy so cached entries are never aliased by callers.
func (r *Response) Clone() *Response {
	body := make([]byte, len(r.Body))
	copy(body, r.Body)
	return &Response{Status: r.Status, Header: r.Header.Clone(), Body: body}
}

// Fetcher performs the actual network fetch for a request.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *Request) (*Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// CacheKey identifies a request in a bucket: path plus query, ignoring
// fragment and scheme.
func (r *Request) CacheKey() string {
	key := r.URL.Path
	if r.URL.RawQuery != "" {
		key += "?" + r.URL.RawQuery
	}
	return key
}

// IsNavigation reports whether the request is a page navigation.
func (r *Request) IsNavigation() bool {
	if r.Mode == "navigate" || r.Destination == "document" {
		return true
	}
	return r.Method == http.MethodGet && strings.Contains(r.Accept, "text/html")
}

// IsSameOrigin reports whether the request targets the given origin host.
// A relative URL (no host) is always same-origin.
func (r *Request) IsSameOrigin(originHost string) bool {
	return r.URL.Host == "" || r.URL.Host == originHost
}

var fontExtensions = map[string]bool{
	".woff":  true,
	".woff2": true,
	".ttf":   true,
	".otf":   true,
	".eot":   true,
}

// IsStaticAsset reports whether the request is a same-origin script or
// stylesheet.
func (r *Request) IsStaticAsset(originHost string) bool {
	if !r.IsSameOrigin(originHost) {
		return false
	}
	if r.Destination == "script" || r.Destination == "style" {
		return true
	}
	ext := path.Ext(r.URL.Path)
	return ext == ".js" || ext == ".css"
}

// IsAPI reports whether the request belongs to the network-first class:
// API paths, foreign origins, or websocket-scheme URLs.
func (r *Request) IsAPI(originHost string) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	if r.URL.Scheme == "wss" || r.URL.Scheme == "ws" {
		return true
	}
	return !r.IsSameOrigin(originHost)
}

// IsImage reports whether the request fetches an image.
func (r *Request) IsImage() bool {
	if r.Destination == "image" {
		return true
	}
	switch path.Ext(r.URL.Path) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".ico", ".avif":
		return true
	}
	return false
}

// IsFont reports whether the request fetches a font.
func (r *Request) IsFont() bool {
	return r.Destination == "font" || fontExtensions[path.Ext(r.URL.Path)]
}

// FromHTTP builds a Request from an inbound http.Request.
func FromHTTP(req *http.Request) *Request {
	return &Request{
		Method:      req.Method,
		URL:         req.URL,
		Mode:        req.Header.Get("Sec-Fetch-Mode"),
		Destination: req.Header.Get("Sec-Fetch-Dest"),
		Accept:      req.Header.Get("Accept"),
		Header:      req.Header,
	}
}
