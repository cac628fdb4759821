// Package update implements the manifest-driven update checker: when and
// how often version.json is consulted, version comparison, rate limiting,
// in-flight deduplication, user dismissals, and subscriber notification.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meshchat/liferaft/internal/bridge"
	"github.com/meshchat/liferaft/internal/datastore/repository"
	"github.com/meshchat/liferaft/internal/errors"
	"github.com/meshchat/liferaft/internal/logger"
	"github.com/meshchat/liferaft/internal/version"
)

// Persisted state keys.
const (
	stateKeyLastCheck = "update.last_check"        // epoch milliseconds
	stateKeyDismissed = "update.dismissed_version" // exact version string
)

const (
	manifestFetchTimeout = 30 * time.Second
	maxManifestBytes     = 1 << 20

	defaultConnectivityWatchInterval = 30 * time.Second
)

// CheckResult is the ephemeral outcome of one check. The latest result is
// retained so late subscribers receive it immediately.
type CheckResult struct {
	HasUpdate      bool      `json:"hasUpdate"`
	CurrentVersion string    `json:"currentVersion"`
	NewVersion     string    `json:"newVersion,omitempty"`
	ReleaseNotes   []string  `json:"releaseNotes,omitempty"`
	IsCritical     bool      `json:"isCritical"`
	CheckTime      time.Time `json:"checkTime"`
}

// Connectivity reports whether the network is reachable.
type Connectivity interface {
	Online() bool
}

// WorkerProber is poked before each manifest fetch so the worker can
// refresh its own precached manifest, mirroring a registration update.
type WorkerProber interface {
	ProbeUpdate(ctx context.Context)
}

// Metrics records check outcomes; nil disables recording.
type Metrics interface {
	RecordUpdateCheck(outcome string)
}

// Config wires a Checker. The checker is an explicit object constructed
// once at startup and passed by reference; Close is ordinary disposal.
type Config struct {
	ManifestURL      string
	CheckInterval    time.Duration
	MinCheckInterval time.Duration
	// DeferInitialCheck postpones the first automatic check to the first
	// ticker firing instead of running it from Start.
	DeferInitialCheck bool
	// ConnectivityWatchInterval is how often the run loop samples
	// Connectivity looking for an offline-to-online transition; such a
	// transition fires NotifyOnline. Zero means the default; watching is
	// skipped entirely without a Connectivity probe.
	ConnectivityWatchInterval time.Duration

	HTTPClient   *http.Client
	State        repository.StateRepository
	Connectivity Connectivity
	Prober       WorkerProber
	// WorkerReady triggers one check when it closes.
	WorkerReady <-chan struct{}
	// Broadcast, when set, emits UPDATE_CHECK_RESULT bridge messages.
	Broadcast func(*bridge.Message)

	Log     logger.Logger
	Metrics Metrics

	// Now is the clock; defaults to time.Now. Injected for tests.
	Now func() time.Time

	// Current overrides the embedded build stamp. Tests use it; production
	// wiring leaves it nil.
	Current *version.Info
}

type subscriber struct {
	id uint64
	fn func(*CheckResult)
}

// Checker orchestrates update checks. All public methods are safe for
// concurrent use.
type Checker struct {
	cfg    Config
	client *http.Client
	log    logger.Logger
	now    func() time.Time

	group singleflight.Group

	mu          sync.RWMutex
	current     version.Info
	lastResult  *CheckResult
	subscribers []subscriber
	nextSubID   uint64
	closed      bool

	triggerCh chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewChecker creates a Checker. Start must be called to activate the
// periodic timer and triggers.
func NewChecker(cfg Config) (*Checker, error) {
	if cfg.ManifestURL == "" {
		return nil, errors.New("manifest URL must not be empty").
			Component("update").
			Category(errors.CategoryValidation).
			Build()
	}
	if cfg.State == nil {
		return nil, errors.New("state repository is required").
			Component("update").
			Category(errors.CategoryValidation).
			Build()
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Hour
	}
	if cfg.MinCheckInterval < 0 {
		cfg.MinCheckInterval = 0
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: manifestFetchTimeout}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	log := cfg.Log
	if log == nil {
		log = logger.Default()
	}
	current := version.Embedded()
	if cfg.Current != nil {
		current = *cfg.Current
	}
	return &Checker{
		cfg:       cfg,
		client:    client,
		log:       log,
		now:       now,
		current:   current,
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start loads the current version (embedded stamp, refined by one manifest
// fetch when reachable), starts the periodic timer and trigger listeners,
// and optionally performs one deferred check.
func (c *Checker) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		if c.online() {
			if info, err := c.fetchManifest(ctx); err == nil && info.Version == c.CurrentVersion() {
				// The manifest agrees with the embedded stamp; adopt its
				// richer fields (build time, cid) as the current snapshot.
				c.mu.Lock()
				c.current = *info
				c.mu.Unlock()
			}
		}
		go c.run()
		if !c.cfg.DeferInitialCheck {
			c.TriggerCheck()
		}
	})
}

func (c *Checker) run() {
	defer close(c.doneCh)
	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()

	// With a connectivity probe wired, sample it so regaining the origin
	// after an offline stretch triggers a check without waiting for the
	// hourly ticker or a page event.
	var connectivityCh <-chan time.Time
	wasOnline := true
	if c.cfg.Connectivity != nil {
		interval := c.cfg.ConnectivityWatchInterval
		if interval <= 0 {
			interval = defaultConnectivityWatchInterval
		}
		watch := time.NewTicker(interval)
		defer watch.Stop()
		connectivityCh = watch.C
		wasOnline = c.online()
	}

	workerReady := c.cfg.WorkerReady
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.checkInBackground()
		case <-c.triggerCh:
			c.checkInBackground()
		case <-connectivityCh:
			online := c.online()
			if online && !wasOnline {
				c.NotifyOnline()
			}
			wasOnline = online
		case <-workerReady:
			workerReady = nil // signal fires once
			c.checkInBackground()
		}
	}
}

func (c *Checker) checkInBackground() {
	ctx, cancel := context.WithTimeout(context.Background(), manifestFetchTimeout)
	defer cancel()
	c.CheckForUpdates(ctx)
}

// TriggerCheck requests an asynchronous check. Used by the bridge's
// CHECK_UPDATE message and by the connectivity/visibility triggers.
// Non-blocking; coalesces with a pending trigger.
func (c *Checker) TriggerCheck() {
	select {
	case c.triggerCh <- struct{}{}:
	default:
	}
}

// NotifyOnline is the connectivity-restored trigger.
func (c *Checker) NotifyOnline() { c.TriggerCheck() }

// NotifyVisible is the page-became-visible trigger.
func (c *Checker) NotifyVisible() { c.TriggerCheck() }

// CurrentVersion returns the running build's version string.
func (c *Checker) CurrentVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current.Version
}

// LastResult returns the most recent check result, or nil before the
// first check completes.
func (c *Checker) LastResult() *CheckResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastResult
}

// CheckForUpdates performs a guarded update check. Guards are evaluated in
// order: offline, rate-limited, and already-in-flight checks all return
// the last known result rather than touching the network. A second caller
// arriving during a check joins the in-flight fetch and receives its
// eventual result. Failures never escape: network, HTTP and parse errors
// all degrade to "no update".
func (c *Checker) CheckForUpdates(ctx context.Context) *CheckResult {
	if !c.online() {
		c.record("skipped")
		return c.lastOrEmpty()
	}
	if c.rateLimited() {
		c.record("skipped")
		return c.lastOrEmpty()
	}

	v, _, _ := c.group.Do("check", func() (any, error) {
		return c.performCheck(ctx), nil
	})
	result, ok := v.(*CheckResult)
	if !ok {
		return c.lastOrEmpty()
	}
	return result
}

// performCheck runs under the singleflight group, so at most one manifest
// fetch is ever in flight.
func (c *Checker) performCheck(ctx context.Context) *CheckResult {
	if c.cfg.Prober != nil {
		c.cfg.Prober.ProbeUpdate(ctx)
	}

	c.persistLastCheck()

	manifest, err := c.fetchManifest(ctx)
	if err != nil {
		c.log.Debug("manifest fetch failed, treating as no update", logger.Error(err))
		c.record("failed")
		return c.lastOrEmpty()
	}

	result := c.evaluate(manifest)
	c.mu.Lock()
	c.lastResult = result
	c.mu.Unlock()

	if result.HasUpdate {
		c.record("update")
	} else {
		c.record("no-update")
	}
	c.publish(result)
	return result
}

// evaluate derives a CheckResult from a fetched manifest. An update is
// available when the manifest version orders after the current one and is
// not the exactly dismissed version.
func (c *Checker) evaluate(manifest *version.Info) *CheckResult {
	current := c.CurrentVersion()
	result := &CheckResult{
		CurrentVersion: current,
		CheckTime:      c.now(),
	}
	if version.Compare(current, manifest.Version) < 0 && manifest.Version != c.dismissedVersion() {
		result.HasUpdate = true
		result.NewVersion = manifest.Version
		result.ReleaseNotes = manifest.ReleaseNotes
		result.IsCritical = manifest.Critical
	}
	return result
}

// ForceCheck clears the dismissed version and the rate-limit timestamp,
// then performs an unconditional check.
func (c *Checker) ForceCheck(ctx context.Context) *CheckResult {
	c.ClearDismissed()
	if err := c.cfg.State.Delete(ctx, stateKeyLastCheck); err != nil {
		c.log.Warn("failed to clear rate-limit state", logger.Error(err))
	}
	if !c.online() {
		c.record("skipped")
		return c.lastOrEmpty()
	}
	v, _, _ := c.group.Do("check", func() (any, error) {
		return c.performCheck(ctx), nil
	})
	if result, ok := v.(*CheckResult); ok {
		return result
	}
	return c.lastOrEmpty()
}

// DismissVersion suppresses update signaling for exactly this version.
// Any later version still surfaces.
func (c *Checker) DismissVersion(v string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.cfg.State.Set(ctx, stateKeyDismissed, v); err != nil {
		c.log.Warn("failed to persist dismissed version", logger.Error(err))
	}
}

// ClearDismissed removes any dismissed version.
func (c *Checker) ClearDismissed() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.cfg.State.Delete(ctx, stateKeyDismissed); err != nil {
		c.log.Warn("failed to clear dismissed version", logger.Error(err))
	}
}

// OnUpdate registers a subscriber and returns its unsubscribe function.
// The last known result, if any, is replayed immediately. A panicking
// subscriber does not prevent delivery to the others.
func (c *Checker) OnUpdate(fn func(*CheckResult)) func() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return func() {}
	}
	id := c.nextSubID
	c.nextSubID++
	c.subscribers = append(c.subscribers, subscriber{id: id, fn: fn})
	last := c.lastResult
	c.mu.Unlock()

	if last != nil {
		safeNotify(fn, last)
	}

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i := range c.subscribers {
			if c.subscribers[i].id == id {
				c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Close stops the timer and trigger listeners and clears all subscribers.
// A fresh Checker can be constructed afterwards; no process-wide state
// survives.
func (c *Checker) Close() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.startOnce.Do(func() { close(c.doneCh) }) // never started: unblock the wait
	<-c.doneCh
	c.mu.Lock()
	c.subscribers = nil
	c.closed = true
	c.mu.Unlock()
}

func (c *Checker) publish(result *CheckResult) {
	c.mu.RLock()
	subs := make([]subscriber, len(c.subscribers))
	copy(subs, c.subscribers)
	c.mu.RUnlock()

	for _, s := range subs {
		safeNotify(s.fn, result)
	}

	if c.cfg.Broadcast != nil {
		c.cfg.Broadcast(&bridge.Message{
			Type: bridge.TypeUpdateCheckResult,
			Data: map[string]any{
				"hasUpdate":      result.HasUpdate,
				"currentVersion": result.CurrentVersion,
				"newVersion":     result.NewVersion,
				"releaseNotes":   result.ReleaseNotes,
				"isCritical":     result.IsCritical,
				"checkTime":      result.CheckTime,
			},
		})
	}
}

func safeNotify(fn func(*CheckResult), result *CheckResult) {
	defer func() { _ = recover() }()
	fn(result)
}

func (c *Checker) online() bool {
	if c.cfg.Connectivity == nil {
		return true
	}
	return c.cfg.Connectivity.Online()
}

// rateLimited reports whether the persisted last-check timestamp is
// younger than the minimum interval. Storage failures do not rate-limit.
func (c *Checker) rateLimited() bool {
	if c.cfg.MinCheckInterval <= 0 {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	raw, err := c.cfg.State.Get(ctx, stateKeyLastCheck)
	if err != nil {
		return false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}
	last := time.UnixMilli(ms)
	return c.now().Sub(last) < c.cfg.MinCheckInterval
}

func (c *Checker) persistLastCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ms := strconv.FormatInt(c.now().UnixMilli(), 10)
	if err := c.cfg.State.Set(ctx, stateKeyLastCheck, ms); err != nil {
		c.log.Warn("failed to persist last-check timestamp", logger.Error(err))
	}
}

func (c *Checker) dismissedVersion() string {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	v, err := c.cfg.State.Get(ctx, stateKeyDismissed)
	if err != nil {
		return ""
	}
	return v
}

func (c *Checker) lastOrEmpty() *CheckResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastResult != nil {
		return c.lastResult
	}
	return &CheckResult{CurrentVersion: c.current.Version, CheckTime: c.now()}
}

// fetchManifest retrieves version.json with a cache-busting query
// parameter and no-store semantics so intermediaries never serve a stale
// manifest.
func (c *Checker) fetchManifest(ctx context.Context) (*version.Info, error) {
	url := fmt.Sprintf("%s?t=%d", c.cfg.ManifestURL, c.now().UnixMilli())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err).
			Component("update").
			Category(errors.CategoryNetwork).
			Context("operation", "fetch_manifest").
			Build()
	}
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("Pragma", "no-cache")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err).
			Component("update").
			Category(errors.CategoryNetwork).
			Context("operation", "fetch_manifest").
			Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Newf("manifest fetch returned %s", resp.Status).
			Component("update").
			Category(errors.CategoryNetwork).
			Context("status", resp.StatusCode).
			Build()
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		return nil, errors.Wrap(err).
			Component("update").
			Category(errors.CategoryNetwork).
			Context("operation", "read_manifest").
			Build()
	}
	var info version.Info
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, errors.Wrap(err).
			Component("update").
			Category(errors.CategoryValidation).
			Context("operation", "parse_manifest").
			Build()
	}
	if info.Version == "" {
		return nil, errors.New("manifest has no version").
			Component("update").
			Category(errors.CategoryValidation).
			Build()
	}
	return &info, nil
}

func (c *Checker) record(outcome string) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordUpdateCheck(outcome)
	}
}
