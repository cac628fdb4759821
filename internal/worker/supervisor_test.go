package worker

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshchat/liferaft/internal/bridge"
	"github.com/meshchat/liferaft/internal/bundle"
	"github.com/meshchat/liferaft/internal/cache"
	"github.com/meshchat/liferaft/internal/datastore/entities"
	"github.com/meshchat/liferaft/internal/notification"
	"github.com/meshchat/liferaft/internal/version"
)

// recordingClient collects worker→page messages for assertions.
type recordingClient struct {
	id string

	mu   sync.Mutex
	msgs []*bridge.Message
}

func (c *recordingClient) ID() string { return c.id }

func (c *recordingClient) Send(msg *bridge.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *recordingClient) received() []*bridge.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*bridge.Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func (c *recordingClient) lastOfType(typ bridge.Type) *bridge.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.msgs) - 1; i >= 0; i-- {
		if c.msgs[i].Type == typ {
			return c.msgs[i]
		}
	}
	return nil
}

type supervisorFixture struct {
	sup      *Supervisor
	bus      *bridge.Bus
	registry *bridge.Registry
	storage  *cache.Storage
	repo     *fakeBundleRepo
	fetcher  *pathFetcher
	notifs   *notification.Service
}

func newSupervisorFixture(t *testing.T) *supervisorFixture {
	t.Helper()
	log := testLog()
	bus := bridge.NewBus()
	t.Cleanup(bus.Stop)
	registry := bridge.NewRegistry()
	storage := cache.NewStorage()
	repo := &fakeBundleRepo{}
	notifs := notification.NewService(nil, nil, log)
	sup := NewSupervisor(bus, registry, bundle.NewStore(repo, log), storage, notifs, log)
	return &supervisorFixture{
		sup:      sup,
		bus:      bus,
		registry: registry,
		storage:  storage,
		repo:     repo,
		fetcher:  newPathFetcher(),
		notifs:   notifs,
	}
}

// newGeneration builds a controller sharing the fixture's storage and
// registry, as successive generations do in the daemon.
func (f *supervisorFixture) newGeneration(t *testing.T, generation, ver string) *Controller {
	t.Helper()
	log := testLog()
	router := cache.NewRouter(cache.RouterConfig{
		AppName:     "app",
		Generation:  generation,
		OriginHost:  "origin.example",
		ShellPath:   "/index.html",
		OfflinePath: "/offline.html",
		Storage:     f.storage,
		Fetcher:     f.fetcher,
		Log:         log,
	})
	return NewController(Config{
		AppName:     "app",
		Generation:  generation,
		OriginHost:  "origin.example",
		ShellPath:   "/index.html",
		OfflinePath: "/offline.html",
		ManifestURL: "/version.json",
		Version:     version.Info{Version: ver, BuildTime: "2026-01-15T00:00:00Z"},
		Storage:     f.storage,
		Router:      router,
		Fetcher:     f.fetcher,
		Bundle:      bundle.NewStore(f.repo, log),
		Registry:    f.registry,
		Log:         log,
	})
}

func TestFirstGenerationActivatesImmediately(t *testing.T) {
	t.Parallel()

	f := newSupervisorFixture(t)
	ctrl := f.newGeneration(t, "v1", "1.0.0")

	require.NoError(t, f.sup.InstallGeneration(context.Background(), ctrl))
	assert.Same(t, ctrl, f.sup.Active())
	assert.Nil(t, f.sup.Waiting())
	assert.Equal(t, StateActivated, ctrl.State())

	select {
	case <-f.sup.Ready():
	default:
		t.Fatal("Ready must be closed after first activation")
	}
}

func TestSecondGenerationWaitsAndAnnounces(t *testing.T) {
	t.Parallel()

	f := newSupervisorFixture(t)
	client := &recordingClient{id: "page-1"}
	f.registry.Register(client)

	first := f.newGeneration(t, "v1", "1.0.0")
	require.NoError(t, f.sup.InstallGeneration(context.Background(), first))

	second := f.newGeneration(t, "v2", "1.1.0")
	require.NoError(t, f.sup.InstallGeneration(context.Background(), second))

	assert.Same(t, first, f.sup.Active(), "waiting generation must not self-promote")
	assert.Same(t, second, f.sup.Waiting())
	assert.Equal(t, StateInstalled, second.State())

	announce := client.lastOfType(bridge.TypeVersionInfo)
	require.NotNil(t, announce, "clients must learn a new version is waiting")
	assert.Equal(t, "1.1.0", announce.Version)
}

func TestSkipWaitingPromotesWaitingGeneration(t *testing.T) {
	t.Parallel()

	f := newSupervisorFixture(t)
	client := &recordingClient{id: "page-1"}
	f.registry.Register(client)

	first := f.newGeneration(t, "v1", "1.0.0")
	require.NoError(t, f.sup.InstallGeneration(context.Background(), first))
	second := f.newGeneration(t, "v2", "1.1.0")
	require.NoError(t, f.sup.InstallGeneration(context.Background(), second))

	f.sup.SkipWaiting()

	assert.Same(t, second, f.sup.Active())
	assert.Nil(t, f.sup.Waiting())
	assert.Equal(t, StateActivated, second.State())
	assert.Equal(t, StateRedundant, first.State())

	updated := client.lastOfType(bridge.TypeSWUpdated)
	require.NotNil(t, updated)
	assert.Equal(t, "1.1.0", updated.Version)

	// Activation cleaned up the replaced generation's class buckets.
	assert.NotContains(t, f.storage.Names(), "app-static-v1")
	assert.Contains(t, f.storage.Names(), "app-static-v2")
}

func TestSkipWaitingWithoutWaitingIsNoOp(t *testing.T) {
	t.Parallel()

	f := newSupervisorFixture(t)
	first := f.newGeneration(t, "v1", "1.0.0")
	require.NoError(t, f.sup.InstallGeneration(context.Background(), first))

	f.sup.SkipWaiting()
	assert.Same(t, first, f.sup.Active())
	assert.Equal(t, StateActivated, first.State())
}

func TestReplacedWaitingGenerationBecomesRedundant(t *testing.T) {
	t.Parallel()

	f := newSupervisorFixture(t)
	require.NoError(t, f.sup.InstallGeneration(context.Background(), f.newGeneration(t, "v1", "1.0.0")))

	second := f.newGeneration(t, "v2", "1.1.0")
	require.NoError(t, f.sup.InstallGeneration(context.Background(), second))
	third := f.newGeneration(t, "v3", "1.2.0")
	require.NoError(t, f.sup.InstallGeneration(context.Background(), third))

	assert.Equal(t, StateRedundant, second.State())
	assert.Same(t, third, f.sup.Waiting())
}

func TestHandleFetchNilBeforeActivation(t *testing.T) {
	t.Parallel()

	f := newSupervisorFixture(t)
	assert.Nil(t, f.sup.HandleFetch(context.Background(), navRequest("/")))
}

func TestDispatchSkipWaitingMessage(t *testing.T) {
	t.Parallel()

	f := newSupervisorFixture(t)
	require.NoError(t, f.sup.InstallGeneration(context.Background(), f.newGeneration(t, "v1", "1.0.0")))
	second := f.newGeneration(t, "v2", "1.1.0")
	require.NoError(t, f.sup.InstallGeneration(context.Background(), second))

	f.bus.Publish(&bridge.Message{Type: bridge.TypeSkipWaiting})

	assert.Eventually(t, func() bool {
		return f.sup.Active() == second
	}, time.Second, 10*time.Millisecond)
}

func TestDispatchGetVersionRepliesToSender(t *testing.T) {
	t.Parallel()

	f := newSupervisorFixture(t)
	require.NoError(t, f.sup.InstallGeneration(context.Background(), f.newGeneration(t, "v1", "1.4.0")))

	asker := &recordingClient{id: "asker"}
	other := &recordingClient{id: "other"}
	f.registry.Register(asker)
	f.registry.Register(other)

	f.bus.Publish(&bridge.Message{Type: bridge.TypeGetVersion, Sender: "asker"})

	assert.Eventually(t, func() bool {
		reply := asker.lastOfType(bridge.TypeVersionInfo)
		return reply != nil && reply.Version == "1.4.0"
	}, time.Second, 10*time.Millisecond)
	assert.Nil(t, other.lastOfType(bridge.TypeVersionInfo), "a reply must target only the asking client")
}

func TestDispatchCheckUpdateKicksTrigger(t *testing.T) {
	t.Parallel()

	f := newSupervisorFixture(t)
	trigger := &recordingTrigger{}
	f.sup.SetUpdateTrigger(trigger)

	f.bus.Publish(&bridge.Message{Type: bridge.TypeCheckUpdate})

	assert.Eventually(t, func() bool { return trigger.checks.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestDispatchPageVisibleNotifiesTrigger(t *testing.T) {
	t.Parallel()

	f := newSupervisorFixture(t)
	trigger := &recordingTrigger{}
	f.sup.SetUpdateTrigger(trigger)

	f.bus.Publish(&bridge.Message{Type: bridge.TypePageVisible})

	assert.Eventually(t, func() bool { return trigger.visible.Load() == 1 }, time.Second, 10*time.Millisecond)
	assert.Zero(t, trigger.online.Load())
}

func TestDispatchNetworkOnlineNotifiesTrigger(t *testing.T) {
	t.Parallel()

	f := newSupervisorFixture(t)
	trigger := &recordingTrigger{}
	f.sup.SetUpdateTrigger(trigger)

	f.bus.Publish(&bridge.Message{Type: bridge.TypeNetworkOnline})

	assert.Eventually(t, func() bool { return trigger.online.Load() == 1 }, time.Second, 10*time.Millisecond)
	assert.Zero(t, trigger.visible.Load())
}

// recordingTrigger counts each UpdateTrigger entry point separately.
type recordingTrigger struct {
	checks  atomic.Int32
	online  atomic.Int32
	visible atomic.Int32
}

func (r *recordingTrigger) TriggerCheck()  { r.checks.Add(1) }
func (r *recordingTrigger) NotifyOnline()  { r.online.Add(1) }
func (r *recordingTrigger) NotifyVisible() { r.visible.Add(1) }

func TestDispatchClearAllCaches(t *testing.T) {
	t.Parallel()

	f := newSupervisorFixture(t)
	bucket := f.storage.Open("app-static-v1", 10, time.Hour)
	bucket.Put("/a.js", &cache.Entry{Status: http.StatusOK, Body: []byte("x")})

	client := &recordingClient{id: "page-1"}
	f.registry.Register(client)

	f.bus.Publish(&bridge.Message{Type: bridge.TypeClearAllCaches})

	assert.Eventually(t, func() bool {
		return client.lastOfType(bridge.TypeCachesCleared) != nil
	}, time.Second, 10*time.Millisecond)
	assert.Zero(t, bucket.Len())
}

func TestDispatchBadgeMessages(t *testing.T) {
	t.Parallel()

	f := newSupervisorFixture(t)

	f.bus.Publish(&bridge.Message{Type: bridge.TypeSetBadgeCount, Count: 7})
	assert.Eventually(t, func() bool { return f.notifs.BadgeCount() == 7 }, time.Second, 10*time.Millisecond)

	f.bus.Publish(&bridge.Message{Type: bridge.TypeClearBadge})
	assert.Eventually(t, func() bool { return f.notifs.BadgeCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestDispatchCheckBundleReportsStatus(t *testing.T) {
	t.Parallel()

	f := newSupervisorFixture(t)
	f.repo.assets = map[string]*entities.BundleAsset{
		"/index.html": {Path: "/index.html", Content: []byte("shell")},
	}

	client := &recordingClient{id: "page-1"}
	f.registry.Register(client)

	f.bus.Publish(&bridge.Message{Type: bridge.TypeCheckBundle, Sender: "page-1"})

	assert.Eventually(t, func() bool {
		status := client.lastOfType(bridge.TypeBundleStatus)
		return status != nil && status.HasBundle
	}, time.Second, 10*time.Millisecond)
}

func TestDispatchBundleUpdatedAnnouncesReady(t *testing.T) {
	t.Parallel()

	f := newSupervisorFixture(t)
	client := &recordingClient{id: "page-1"}
	f.registry.Register(client)

	f.bus.Publish(&bridge.Message{Type: bridge.TypeBundleUpdated, Version: "2.0.0", Hash: "abc123"})

	assert.Eventually(t, func() bool {
		ready := client.lastOfType(bridge.TypeBundleReady)
		return ready != nil && ready.Version == "2.0.0" && ready.Hash == "abc123"
	}, time.Second, 10*time.Millisecond)
}

func TestDispatchUnknownTypeIsIgnored(t *testing.T) {
	t.Parallel()

	f := newSupervisorFixture(t)
	client := &recordingClient{id: "page-1"}
	f.registry.Register(client)

	f.bus.Publish(&bridge.Message{Type: bridge.Type("FUTURE_MESSAGE_KIND")})
	// Outbound-only types on the inbound channel get the same treatment.
	f.bus.Publish(&bridge.Message{Type: bridge.TypeSWUpdated})

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, client.received())
}

func TestNotifyBroadcasts(t *testing.T) {
	t.Parallel()

	f := newSupervisorFixture(t)
	client := &recordingClient{id: "page-1"}
	f.registry.Register(client)

	f.sup.RequestSync("outbox")
	f.sup.NotifyClicked("msg-7")
	f.sup.NotifyAction("msg-7", "reply")

	syncMsg := client.lastOfType(bridge.TypeSyncRequested)
	require.NotNil(t, syncMsg)
	assert.Equal(t, "outbox", syncMsg.Tag)

	click := client.lastOfType(bridge.TypeNotificationClick)
	require.NotNil(t, click)
	assert.Equal(t, "msg-7", click.Tag)

	action := client.lastOfType(bridge.TypeNotificationAction)
	require.NotNil(t, action)
	assert.Equal(t, "reply", action.Action)
}

func TestProbeUpdateRefreshesManifest(t *testing.T) {
	t.Parallel()

	f := newSupervisorFixture(t)
	require.NoError(t, f.sup.InstallGeneration(context.Background(), f.newGeneration(t, "v1", "1.0.0")))
	before := f.fetcher.callCount("/version.json")

	f.sup.ProbeUpdate(context.Background())
	assert.Equal(t, before+1, f.fetcher.callCount("/version.json"))
}

func TestOfflineDeviceWithBundleActivatesAndServesShell(t *testing.T) {
	t.Parallel()

	f := newSupervisorFixture(t)
	f.fetcher.fail["/index.html"] = true
	f.fetcher.fail["/offline.html"] = true
	f.fetcher.fail["/version.json"] = true
	f.repo.assets = map[string]*entities.BundleAsset{
		"/index.html": {Path: "/index.html", Content: []byte("<html>peer shell</html>"), MIMEType: "text/html"},
	}

	ctrl := f.newGeneration(t, "v1", "1.0.0")
	require.NoError(t, f.sup.InstallGeneration(context.Background(), ctrl))
	require.NotNil(t, f.sup.Active())
	assert.Equal(t, StateActivated, ctrl.State())

	resp := f.sup.HandleFetch(context.Background(), navRequest("/"))
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "<html>peer shell</html>", string(resp.Body))
	assert.Equal(t, "bundle", resp.Header.Get("X-Liferaft-Source"))
}
