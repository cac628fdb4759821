package cache

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/meshchat/liferaft/internal/logger"
)

// Resource-class policy limits. First-match routing below follows the same
// declaration order.
const (
	staticMaxEntries = 100
	staticMaxAge     = 30 * 24 * time.Hour

	dynamicMaxEntries = 50
	dynamicMaxAge     = 5 * time.Minute

	imageMaxEntries = 60
	imageMaxAge     = 7 * 24 * time.Hour

	fontMaxEntries = 30
	fontMaxAge     = 365 * 24 * time.Hour

	// networkTimeout caps each network-first fetch.
	networkTimeout = 5 * time.Second

	// precacheMaxAge is effectively unbounded; precache entries are
	// replaced by install, not by expiry.
	precacheMaxAge = 10 * 365 * 24 * time.Hour
)

// Bucket name suffixes. Full names are "<app>-<class>-<generation>"; the
// precache bucket carries no generation because the precache mechanism
// owns its lifecycle.
const (
	ClassStatic   = "static"
	ClassDynamic  = "dynamic"
	ClassImages   = "images"
	ClassFonts    = "fonts"
	precacheClass = "precache"
)

// Metrics receives routing outcomes and bucket sizes. The observability
// package provides the prometheus-backed implementation; nil disables
// recording.
type Metrics interface {
	RecordStrategy(route, outcome string)
	SetCacheEntries(bucket string, n int)
}

// RouterConfig wires a Router.
type RouterConfig struct {
	AppName     string
	Generation  string
	OriginHost  string
	ShellPath   string
	OfflinePath string
	Storage     *Storage
	Fetcher     Fetcher
	Log         logger.Logger
	Metrics     Metrics
}

// Route pairs a matcher with the strategy that serves it and the bucket
// the strategy writes to.
type Route struct {
	Name    string
	Match   func(*Request) bool
	Handler Handler
	Bucket  *Bucket
}

// Router evaluates resource-class routes in declared order, first match
// wins. Every path ends in a synthesized response; Handle never returns
// an error alongside a nil response.
type Router struct {
	cfg      RouterConfig
	routes   []Route
	precache *Bucket
	log      logger.Logger
	metrics  Metrics
}

// BucketName builds the full bucket name for a resource class.
func BucketName(appName, class, generation string) string {
	return fmt.Sprintf("%s-%s-%s", appName, class, generation)
}

// PrecacheBucketName returns the name of the precache-owned bucket.
func PrecacheBucketName(appName string) string {
	return fmt.Sprintf("%s-%s", appName, precacheClass)
}

// NewRouter builds the policy table of spec'd resource classes.
func NewRouter(cfg RouterConfig) *Router {
	st := cfg.Storage
	staticBucket := st.Open(BucketName(cfg.AppName, ClassStatic, cfg.Generation), staticMaxEntries, staticMaxAge)
	dynamicBucket := st.Open(BucketName(cfg.AppName, ClassDynamic, cfg.Generation), dynamicMaxEntries, dynamicMaxAge)
	imageBucket := st.Open(BucketName(cfg.AppName, ClassImages, cfg.Generation), imageMaxEntries, imageMaxAge)
	fontBucket := st.Open(BucketName(cfg.AppName, ClassFonts, cfg.Generation), fontMaxEntries, fontMaxAge)
	precache := st.Open(PrecacheBucketName(cfg.AppName), 0, precacheMaxAge)

	r := &Router{cfg: cfg, precache: precache, log: cfg.Log, metrics: cfg.Metrics}
	origin := cfg.OriginHost
	r.routes = []Route{
		{
			Name:  "navigation",
			Match: func(req *Request) bool { return req.IsNavigation() },
			Handler: &navigationHandler{
				precache:    precache,
				fetcher:     cfg.Fetcher,
				shellPath:   cfg.ShellPath,
				offlinePath: cfg.OfflinePath,
				log:         cfg.Log,
			},
			Bucket: precache,
		},
		{
			Name:    "static",
			Match:   func(req *Request) bool { return req.IsStaticAsset(origin) },
			Handler: &CacheFirst{Bucket: staticBucket, Fetcher: cfg.Fetcher, Log: cfg.Log},
			Bucket:  staticBucket,
		},
		{
			Name:    "api",
			Match:   func(req *Request) bool { return req.IsAPI(origin) },
			Handler: &NetworkFirst{Bucket: dynamicBucket, Fetcher: cfg.Fetcher, Timeout: networkTimeout, Log: cfg.Log},
			Bucket:  dynamicBucket,
		},
		{
			Name:    "images",
			Match:   func(req *Request) bool { return req.IsImage() },
			Handler: &StaleWhileRevalidate{Bucket: imageBucket, Fetcher: cfg.Fetcher, Log: cfg.Log},
			Bucket:  imageBucket,
		},
		{
			Name:    "fonts",
			Match:   func(req *Request) bool { return req.IsFont() },
			Handler: &CacheFirst{Bucket: fontBucket, Fetcher: cfg.Fetcher, Log: cfg.Log},
			Bucket:  fontBucket,
		},
	}
	return r
}

// Precache returns the precache-owned bucket the install step writes to.
func (r *Router) Precache() *Bucket { return r.precache }

// CurrentBucketNames is the activation cleanup whitelist: the current
// generation's class buckets plus the precache bucket.
func (r *Router) CurrentBucketNames() []string {
	return []string{
		BucketName(r.cfg.AppName, ClassStatic, r.cfg.Generation),
		BucketName(r.cfg.AppName, ClassDynamic, r.cfg.Generation),
		BucketName(r.cfg.AppName, ClassImages, r.cfg.Generation),
		BucketName(r.cfg.AppName, ClassFonts, r.cfg.Generation),
		PrecacheBucketName(r.cfg.AppName),
	}
}

// Handle routes the request through the first matching strategy. Requests
// matching no class go straight to the network. All failures synthesize a
// response; navigations additionally walk the shell/offline fallback chain.
func (r *Router) Handle(ctx context.Context, req *Request) *Response {
	for i := range r.routes {
		route := &r.routes[i]
		if !route.Match(req) {
			continue
		}
		resp, err := route.Handler.Handle(ctx, req)
		if err == nil {
			r.record(route.Name, "served")
			r.recordSize(route)
			return resp
		}
		r.record(route.Name, "fallback")
		return r.fallback(req, route.Name, err)
	}
	resp, err := r.cfg.Fetcher.Fetch(ctx, req)
	if err != nil {
		r.record("passthrough", "fallback")
		return r.fallback(req, "passthrough", err)
	}
	r.record("passthrough", "served")
	return resp
}

// fallback is the terminal chain: cached shell, then the offline page,
// then a generic network-error response.
func (r *Router) fallback(req *Request, routeName string, cause error) *Response {
	if req.IsNavigation() {
		if e := r.precache.Get(r.cfg.ShellPath); e != nil {
			return entryToResponse(e)
		}
		if e := r.precache.Get(r.cfg.OfflinePath); e != nil {
			return entryToResponse(e)
		}
	}
	if r.log != nil {
		r.log.Debug("serving network-error response",
			logger.String("route", routeName),
			logger.String("path", req.URL.Path),
			logger.Error(cause))
	}
	h := http.Header{}
	h.Set("Content-Type", "text/plain; charset=utf-8")
	return &Response{
		Status: http.StatusServiceUnavailable,
		Header: h,
		Body:   []byte("network error"),
	}
}

func (r *Router) record(route, outcome string) {
	if r.metrics != nil {
		r.metrics.RecordStrategy(route, outcome)
	}
}

// recordSize pushes the served route's live entry count. Keys excludes
// expired entries awaiting the sweeper, so the gauge tracks what the
// bucket can actually serve.
func (r *Router) recordSize(route *Route) {
	if r.metrics == nil || route.Bucket == nil {
		return
	}
	r.metrics.SetCacheEntries(route.Bucket.Name(), len(route.Bucket.Keys()))
}

// navigationHandler serves navigations from the precached shell, fetching
// it on first use. The precache mechanism owns expiry.
type navigationHandler struct {
	precache    *Bucket
	fetcher     Fetcher
	shellPath   string
	offlinePath string
	log         logger.Logger
}

func (h *navigationHandler) Handle(ctx context.Context, req *Request) (*Response, error) {
	if e := h.precache.Get(h.shellPath); e != nil {
		return entryToResponse(e), nil
	}
	resp, err := h.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if Persistable(resp) && req.URL.Path == h.shellPath {
		h.precache.Put(h.shellPath, responseToEntry(resp))
	}
	return resp, nil
}
