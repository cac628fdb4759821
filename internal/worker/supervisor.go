package worker

import (
	"context"
	"sync"

	"github.com/meshchat/liferaft/internal/bridge"
	"github.com/meshchat/liferaft/internal/bundle"
	"github.com/meshchat/liferaft/internal/cache"
	"github.com/meshchat/liferaft/internal/logger"
	"github.com/meshchat/liferaft/internal/notification"
	"github.com/meshchat/liferaft/internal/version"
)

// UpdateTrigger lets the supervisor kick the update checker without
// depending on it; the checker registers itself at wiring time. The
// notify methods carry the page-forwarded visibility and online events
// through to the checker's corresponding triggers.
type UpdateTrigger interface {
	TriggerCheck()
	NotifyOnline()
	NotifyVisible()
}

// Supervisor owns the two-generation worker transition. At most one
// controller is active and at most one is waiting; the waiting one is
// promoted only by an explicit skip-waiting instruction, never by itself.
// After promotion the activation broadcast is the clients' cue to reload,
// so a page is always paired with the generation that activated it.
type Supervisor struct {
	bus      *bridge.Bus
	registry *bridge.Registry
	bundles  *bundle.Store
	storage  *cache.Storage
	notifs   *notification.Service
	log      logger.Logger

	mu      sync.RWMutex
	active  *Controller
	waiting *Controller

	trigger   UpdateTrigger
	triggerMu sync.RWMutex

	readyOnce sync.Once
	readyCh   chan struct{}
}

// NewSupervisor creates a Supervisor and subscribes it to the bridge bus.
func NewSupervisor(bus *bridge.Bus, registry *bridge.Registry, bundles *bundle.Store, storage *cache.Storage, notifs *notification.Service, log logger.Logger) *Supervisor {
	s := &Supervisor{
		bus:      bus,
		registry: registry,
		bundles:  bundles,
		storage:  storage,
		notifs:   notifs,
		log:      log,
		readyCh:  make(chan struct{}),
	}
	bus.Subscribe(s.dispatch)
	return s
}

// SetUpdateTrigger registers the checker kicked by CHECK_UPDATE,
// PAGE_VISIBLE and NETWORK_ONLINE messages.
func (s *Supervisor) SetUpdateTrigger(t UpdateTrigger) {
	s.triggerMu.Lock()
	s.trigger = t
	s.triggerMu.Unlock()
}

func (s *Supervisor) updateTrigger() UpdateTrigger {
	s.triggerMu.RLock()
	defer s.triggerMu.RUnlock()
	return s.trigger
}

// Ready is closed once the first generation has activated; the update
// checker uses it as its worker-ready trigger.
func (s *Supervisor) Ready() <-chan struct{} { return s.readyCh }

// Active returns the active controller, or nil before first activation.
func (s *Supervisor) Active() *Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Waiting returns the installed-but-waiting controller, if any.
func (s *Supervisor) Waiting() *Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.waiting
}

// InstallGeneration installs a new controller generation. With no active
// generation it activates immediately; otherwise it stays waiting until an
// explicit SkipWaiting, and clients are told an update is ready via the
// VERSION_INFO broadcast.
func (s *Supervisor) InstallGeneration(ctx context.Context, ctrl *Controller) error {
	if err := ctrl.Install(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if s.active == nil {
		s.active = ctrl
		s.mu.Unlock()
		ctrl.Activate()
		s.readyOnce.Do(func() { close(s.readyCh) })
		return nil
	}
	if s.waiting != nil {
		s.waiting.MarkRedundant()
	}
	s.waiting = ctrl
	s.mu.Unlock()

	info := ctrl.Version()
	s.registry.Broadcast(&bridge.Message{
		Type:      bridge.TypeVersionInfo,
		Version:   info.Version,
		BuildTime: info.BuildTime,
	})
	s.log.Info("generation installed, waiting for skip-waiting",
		logger.String("version", info.Version))
	return nil
}

// SkipWaiting promotes the waiting generation. This is the only path that
// activates a waiting controller; the worker never promotes itself.
func (s *Supervisor) SkipWaiting() {
	s.mu.Lock()
	ctrl := s.waiting
	if ctrl == nil {
		s.mu.Unlock()
		s.log.Debug("skip-waiting with no waiting generation")
		return
	}
	if s.active != nil {
		s.active.MarkRedundant()
	}
	s.active = ctrl
	s.waiting = nil
	s.mu.Unlock()

	ctrl.Activate()
	s.readyOnce.Do(func() { close(s.readyCh) })
}

// ProbeUpdate refreshes the precached version manifest. The update checker
// calls this before each manifest fetch, mirroring a registration.update()
// probe.
func (s *Supervisor) ProbeUpdate(ctx context.Context) {
	s.mu.RLock()
	ctrl := s.active
	s.mu.RUnlock()
	if ctrl == nil {
		return
	}
	if err := ctrl.precachePath(ctx, ctrl.cfg.Router.Precache(), ctrl.cfg.ManifestURL); err != nil {
		s.log.Debug("manifest probe failed", logger.Error(err))
	}
}

// HandleFetch routes a fetch through the active generation. Before first
// activation requests pass straight to the network via the installing
// generation's router, preserving the no-controller browser behavior.
func (s *Supervisor) HandleFetch(ctx context.Context, req *cache.Request) *cache.Response {
	s.mu.RLock()
	ctrl := s.active
	s.mu.RUnlock()
	if ctrl == nil {
		return nil
	}
	return ctrl.HandleFetch(ctx, req)
}

// RequestSync broadcasts SYNC_REQUESTED so the offline message queue
// collaborator can flush.
func (s *Supervisor) RequestSync(tag string) {
	s.registry.Broadcast(&bridge.Message{Type: bridge.TypeSyncRequested, Tag: tag})
}

// NotifyClicked broadcasts a notification click to page clients.
func (s *Supervisor) NotifyClicked(tag string) {
	s.registry.Broadcast(&bridge.Message{Type: bridge.TypeNotificationClick, Tag: tag})
}

// NotifyAction broadcasts a notification action button press.
func (s *Supervisor) NotifyAction(tag, action string) {
	s.registry.Broadcast(&bridge.Message{Type: bridge.TypeNotificationAction, Tag: tag, Action: action})
}

// dispatch is the total match over inbound message types. The default arm
// is an explicit no-op so unrecognized future message kinds are ignored
// rather than failing dispatch.
func (s *Supervisor) dispatch(msg *bridge.Message) {
	switch msg.Type {
	case bridge.TypeSkipWaiting:
		s.SkipWaiting()

	case bridge.TypeGetVersion:
		info := s.currentVersion()
		s.reply(msg, &bridge.Message{
			Type:      bridge.TypeVersionInfo,
			Version:   info.Version,
			BuildTime: info.BuildTime,
		})

	case bridge.TypeCheckUpdate:
		if t := s.updateTrigger(); t != nil {
			t.TriggerCheck()
		}

	case bridge.TypePageVisible:
		if t := s.updateTrigger(); t != nil {
			t.NotifyVisible()
		}

	case bridge.TypeNetworkOnline:
		if t := s.updateTrigger(); t != nil {
			t.NotifyOnline()
		}

	case bridge.TypeClearAllCaches:
		s.storage.FlushAll()
		s.registry.Broadcast(&bridge.Message{Type: bridge.TypeCachesCleared})

	case bridge.TypeSetBadgeCount:
		s.notifs.SetBadgeCount(msg.Count)

	case bridge.TypeClearBadge:
		s.notifs.ClearBadge()

	case bridge.TypeShowNotification:
		s.notifs.Show(&notification.Notification{Title: msg.Title, Body: msg.Body, Tag: msg.Tag})

	case bridge.TypeCloseNotifications:
		s.notifs.CloseByTag(msg.Tag)

	case bridge.TypeCloseAllNotifications:
		s.notifs.CloseAll()

	case bridge.TypeBundleUpdated:
		s.log.Info("bundle updated by transfer component",
			logger.String("version", msg.Version),
			logger.String("hash", msg.Hash))
		s.registry.Broadcast(&bridge.Message{
			Type:    bridge.TypeBundleReady,
			Version: msg.Version,
			Hash:    msg.Hash,
		})

	case bridge.TypeCheckBundle:
		has := s.bundles != nil && s.bundles.HasBundle(context.Background())
		s.reply(msg, &bridge.Message{Type: bridge.TypeBundleStatus, HasBundle: has})

	default:
		// Unknown or outbound-only type on the inbound channel: ignore.
	}
}

// reply answers the sender directly when known, falling back to broadcast.
func (s *Supervisor) reply(in *bridge.Message, out *bridge.Message) {
	if in.Sender != "" && s.registry.SendTo(in.Sender, out) {
		return
	}
	s.registry.Broadcast(out)
}

func (s *Supervisor) currentVersion() version.Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active != nil {
		return s.active.Version()
	}
	if s.waiting != nil {
		return s.waiting.Version()
	}
	return version.Embedded()
}
