package cache

import (
	"context"
	"net/http"
	"time"

	"github.com/meshchat/liferaft/internal/logger"
)

// Handler resolves a request to a response. Implementations synthesize a
// response for every failure mode; an error return means the caller should
// continue down its own fallback chain.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// Persistable reports whether a response may be written to a bucket.
// Status 0 covers opaque responses whose status the transport hides.
func Persistable(resp *Response) bool {
	return resp != nil && (resp.Status == 0 || resp.Status == http.StatusOK)
}

// CacheFirst serves from the bucket and only falls back to the network on
// a miss, persisting cacheable responses. Used for static assets and fonts.
type CacheFirst struct {
	Bucket  *Bucket
	Fetcher Fetcher
	Log     logger.Logger
}

func (s *CacheFirst) Handle(ctx context.Context, req *Request) (*Response, error) {
	key := req.CacheKey()
	if e := s.Bucket.Get(key); e != nil {
		return entryToResponse(e), nil
	}
	resp, err := s.Fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if Persistable(resp) {
		s.Bucket.Put(key, responseToEntry(resp))
	}
	return resp, nil
}

// NetworkFirst tries the network under a deadline and falls back to the
// bucket. Used for API, cross-origin and websocket-scheme requests.
type NetworkFirst struct {
	Bucket  *Bucket
	Fetcher Fetcher
	Timeout time.Duration
	Log     logger.Logger
}

func (s *NetworkFirst) Handle(ctx context.Context, req *Request) (*Response, error) {
	fetchCtx := ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	resp, err := s.Fetcher.Fetch(fetchCtx, req)
	if err == nil {
		if Persistable(resp) {
			s.Bucket.Put(req.CacheKey(), responseToEntry(resp))
		}
		return resp, nil
	}
	if e := s.Bucket.Get(req.CacheKey()); e != nil {
		if s.Log != nil {
			s.Log.Debug("network failed, serving cached response",
				logger.String("path", req.URL.Path),
				logger.Error(err))
		}
		return entryToResponse(e), nil
	}
	return nil, err
}

// StaleWhileRevalidate serves the cached entry immediately and refreshes
// it in the background; a miss fetches synchronously. Used for images.
type StaleWhileRevalidate struct {
	Bucket  *Bucket
	Fetcher Fetcher
	Log     logger.Logger

	// RevalidateTimeout bounds the background refresh fetch.
	RevalidateTimeout time.Duration
}

func (s *StaleWhileRevalidate) Handle(ctx context.Context, req *Request) (*Response, error) {
	key := req.CacheKey()
	if e := s.Bucket.Get(key); e != nil {
		go s.revalidate(req, key)
		return entryToResponse(e), nil
	}
	resp, err := s.Fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if Persistable(resp) {
		s.Bucket.Put(key, responseToEntry(resp))
	}
	return resp, nil
}

func (s *StaleWhileRevalidate) revalidate(req *Request, key string) {
	timeout := s.RevalidateTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	resp, err := s.Fetcher.Fetch(ctx, req)
	if err != nil {
		// Revalidation is best-effort; the stale entry stays.
		return
	}
	if Persistable(resp) {
		s.Bucket.Put(key, responseToEntry(resp))
	}
}

func entryToResponse(e *Entry) *Response {
	body := make([]byte, len(e.Body))
	copy(body, e.Body)
	return &Response{Status: e.Status, Header: e.Header.Clone(), Body: body}
}

func responseToEntry(r *Response) *Entry {
	body := make([]byte, len(r.Body))
	copy(body, r.Body)
	return &Entry{Status: r.Status, Header: r.Header.Clone(), Body: body, StoredAt: time.Now()}
}
