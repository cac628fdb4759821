// Package notification carries the badge and notification plumbing the
// bridge rides on. Platform capabilities are injected as interfaces; when
// a capability is absent a no-op implementation is substituted at
// construction time with a single startup warning, so callers never probe
// for support themselves.
package notification

import (
	"sync"

	"github.com/meshchat/liferaft/internal/logger"
)

// BadgeSetter abstracts the platform badge counter.
type BadgeSetter interface {
	SetBadge(count int) error
	ClearBadge() error
}

// Display abstracts showing and closing notifications.
type Display interface {
	Show(n *Notification) error
	CloseByTag(tag string) error
	CloseAll() error
}

// Notification is one displayed notification.
type Notification struct {
	Title string
	Body  string
	Tag   string
}

// noopBadge is substituted when the platform has no badge support.
type noopBadge struct{}

func (noopBadge) SetBadge(int) error { return nil }
func (noopBadge) ClearBadge() error  { return nil }

// noopDisplay is substituted when the platform cannot show notifications.
type noopDisplay struct{}

func (noopDisplay) Show(*Notification) error { return nil }
func (noopDisplay) CloseByTag(string) error  { return nil }
func (noopDisplay) CloseAll() error          { return nil }

// Service routes badge and notification operations to the platform
// capabilities and keeps the current badge count for pull queries.
type Service struct {
	badge   BadgeSetter
	display Display
	log     logger.Logger

	mu         sync.RWMutex
	badgeCount int
}

// NewService creates a Service. Nil capabilities get no-op substitutes;
// each substitution is warned about once, at construction.
func NewService(badge BadgeSetter, display Display, log logger.Logger) *Service {
	if badge == nil {
		log.Warn("badge API unavailable, badge operations are no-ops")
		badge = noopBadge{}
	}
	if display == nil {
		log.Warn("notification display unavailable, show/close operations are no-ops")
		display = noopDisplay{}
	}
	return &Service{badge: badge, display: display, log: log}
}

// SetBadgeCount updates the badge. Failures are logged, never propagated;
// badge state is advisory.
func (s *Service) SetBadgeCount(count int) {
	if count < 0 {
		count = 0
	}
	s.mu.Lock()
	s.badgeCount = count
	s.mu.Unlock()
	if err := s.badge.SetBadge(count); err != nil {
		s.log.Warn("failed to set badge", logger.Int("count", count), logger.Error(err))
	}
}

// ClearBadge resets the badge to zero.
func (s *Service) ClearBadge() {
	s.mu.Lock()
	s.badgeCount = 0
	s.mu.Unlock()
	if err := s.badge.ClearBadge(); err != nil {
		s.log.Warn("failed to clear badge", logger.Error(err))
	}
}

// BadgeCount returns the last pushed badge count.
func (s *Service) BadgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.badgeCount
}

// Show displays a notification.
func (s *Service) Show(n *Notification) {
	if err := s.display.Show(n); err != nil {
		s.log.Warn("failed to show notification",
			logger.String("title", n.Title),
			logger.Error(err))
	}
}

// CloseByTag closes notifications bearing the tag.
func (s *Service) CloseByTag(tag string) {
	if err := s.display.CloseByTag(tag); err != nil {
		s.log.Warn("failed to close notifications", logger.String("tag", tag), logger.Error(err))
	}
}

// CloseAll closes every open notification.
func (s *Service) CloseAll() {
	if err := s.display.CloseAll(); err != nil {
		s.log.Warn("failed to close notifications", logger.Error(err))
	}
}
