// Package worker implements the gateway's lifecycle controller: the
// install → activate transitions of a cache generation, the strict
// activation sequence, and the fetch pipeline that consults the bundle
// store before the cache strategy router.
package worker

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/meshchat/liferaft/internal/bridge"
	"github.com/meshchat/liferaft/internal/bundle"
	"github.com/meshchat/liferaft/internal/cache"
	"github.com/meshchat/liferaft/internal/logger"
	"github.com/meshchat/liferaft/internal/version"
)

// State is a controller's lifecycle state.
type State string

const (
	StateInstalling State = "installing"
	StateInstalled  State = "installed" // waiting for activation
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// BundleMetrics records bundle store lookups; nil disables recording.
type BundleMetrics interface {
	RecordBundleLookup(result string)
}

// Config wires a Controller.
type Config struct {
	AppName     string
	Generation  string
	OriginHost  string
	ShellPath   string
	OfflinePath string
	ManifestURL string
	Version     version.Info

	Storage  *cache.Storage
	Router   *cache.Router
	Fetcher  cache.Fetcher
	Bundle   *bundle.Store
	Registry *bridge.Registry
	Log      logger.Logger
	Metrics  BundleMetrics
}

// Controller is one worker generation. A generation installs exactly once
// and activates at most once; a replaced generation becomes redundant.
type Controller struct {
	cfg Config
	log logger.Logger

	mu    sync.RWMutex
	state State
}

// NewController creates a controller in the installing state.
func NewController(cfg Config) *Controller {
	return &Controller{
		cfg:   cfg,
		log:   cfg.Log.With(logger.String("generation", cfg.Generation)),
		state: StateInstalling,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Version returns the build this generation serves.
func (c *Controller) Version() version.Info { return c.cfg.Version }

// Install precaches the application shell and the version manifest.
// When the origin is unreachable the shell and offline page are seeded
// from the peer-delivered bundle instead, so a device that received the
// app from a nearby peer installs without ever touching the network.
// A shell that neither the origin nor the bundle can supply fails the
// install; a manifest failure does not, since the checker re-fetches it
// anyway.
func (c *Controller) Install(ctx context.Context) error {
	c.setState(StateInstalling)
	precache := c.cfg.Router.Precache()

	for _, path := range []string{c.cfg.ShellPath, c.cfg.OfflinePath} {
		if err := c.precachePath(ctx, precache, path); err != nil {
			if c.precacheFromBundle(ctx, precache, path) {
				continue
			}
			if path == c.cfg.ShellPath {
				c.setState(StateRedundant)
				return err
			}
			c.log.Warn("failed to precache offline page", logger.Error(err))
		}
	}
	if err := c.precachePath(ctx, precache, c.cfg.ManifestURL); err != nil {
		c.log.Warn("failed to precache version manifest", logger.Error(err))
	}

	c.setState(StateInstalled)
	c.log.Info("install complete",
		logger.String("version", c.cfg.Version.Version),
		logger.Int("precached", precache.Len()))
	return nil
}

func (c *Controller) precachePath(ctx context.Context, precache *cache.Bucket, path string) error {
	req := &cache.Request{Method: http.MethodGet, URL: mustParseURL(path)}
	resp, err := c.cfg.Fetcher.Fetch(ctx, req)
	if err != nil {
		return err
	}
	if !cache.Persistable(resp) {
		return nil
	}
	precache.Put(path, &cache.Entry{
		Status: resp.Status,
		Header: resp.Header.Clone(),
		Body:   resp.Body,
	})
	return nil
}

// precacheFromBundle seeds one precache entry from the bundle store.
// Reports whether the asset was found there.
func (c *Controller) precacheFromBundle(ctx context.Context, precache *cache.Bucket, path string) bool {
	if c.cfg.Bundle == nil {
		return false
	}
	asset, err := c.cfg.Bundle.Lookup(ctx, path)
	if err != nil || asset == nil {
		return false
	}
	h := http.Header{}
	h.Set("Content-Type", asset.MIMEType)
	precache.Put(path, &cache.Entry{
		Status: http.StatusOK,
		Header: h,
		Body:   asset.Content,
	})
	c.log.Info("precached from bundle store", logger.String("path", path))
	return true
}

// Activate runs the strict three-step activation sequence. Each step fully
// completes before the next begins: stale-generation cache cleanup, then
// claiming all open clients, then the SW_UPDATED broadcast. Running them
// out of order could leave clients controlled by a worker whose caches are
// only partially migrated.
func (c *Controller) Activate() {
	c.setState(StateActivating)

	deleted := c.cleanupCaches()

	claimed := c.cfg.Registry.ClaimAll()

	c.cfg.Registry.Broadcast(&bridge.Message{
		Type:      bridge.TypeSWUpdated,
		Version:   c.cfg.Version.Version,
		BuildTime: c.cfg.Version.BuildTime,
	})

	c.setState(StateActivated)
	c.log.Info("activation complete",
		logger.String("version", c.cfg.Version.Version),
		logger.Int("caches_deleted", deleted),
		logger.Int("clients_claimed", claimed))
}

// cleanupCaches deletes every bucket bearing this app's name prefix that
// is not part of the current generation's whitelist. Buckets owned by the
// precache mechanism, and buckets of other applications, are never touched.
func (c *Controller) cleanupCaches() int {
	whitelist := make(map[string]bool)
	for _, name := range c.cfg.Router.CurrentBucketNames() {
		whitelist[name] = true
	}
	prefix := c.cfg.AppName + "-"

	deleted := 0
	for _, name := range c.cfg.Storage.Names() {
		if !strings.HasPrefix(name, prefix) || whitelist[name] {
			continue
		}
		if c.cfg.Storage.Delete(name) {
			deleted++
			c.log.Debug("deleted stale cache", logger.String("bucket", name))
		}
	}
	return deleted
}

// MarkRedundant retires a replaced generation.
func (c *Controller) MarkRedundant() {
	c.setState(StateRedundant)
}
