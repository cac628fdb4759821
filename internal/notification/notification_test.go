package notification

import (
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshchat/liferaft/internal/logger"
)

type fakeBadge struct {
	mu     sync.Mutex
	counts []int
	clears int
	err    error
}

func (b *fakeBadge) SetBadge(count int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts = append(b.counts, count)
	return b.err
}

func (b *fakeBadge) ClearBadge() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clears++
	return b.err
}

type fakeDisplay struct {
	mu        sync.Mutex
	shown     []*Notification
	closedTag string
	closedAll bool
	err       error
}

func (d *fakeDisplay) Show(n *Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shown = append(d.shown, n)
	return d.err
}

func (d *fakeDisplay) CloseByTag(tag string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closedTag = tag
	return d.err
}

func (d *fakeDisplay) CloseAll() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closedAll = true
	return d.err
}

func testLog() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

func TestSetBadgeCount(t *testing.T) {
	t.Parallel()

	badge := &fakeBadge{}
	svc := NewService(badge, &fakeDisplay{}, testLog())

	svc.SetBadgeCount(5)
	assert.Equal(t, 5, svc.BadgeCount())
	assert.Equal(t, []int{5}, badge.counts)
}

func TestSetBadgeCountClampsNegative(t *testing.T) {
	t.Parallel()

	badge := &fakeBadge{}
	svc := NewService(badge, &fakeDisplay{}, testLog())

	svc.SetBadgeCount(-3)
	assert.Zero(t, svc.BadgeCount())
	assert.Equal(t, []int{0}, badge.counts)
}

func TestClearBadge(t *testing.T) {
	t.Parallel()

	badge := &fakeBadge{}
	svc := NewService(badge, &fakeDisplay{}, testLog())

	svc.SetBadgeCount(9)
	svc.ClearBadge()
	assert.Zero(t, svc.BadgeCount())
	assert.Equal(t, 1, badge.clears)
}

func TestCapabilityFailuresDoNotPropagate(t *testing.T) {
	t.Parallel()

	badge := &fakeBadge{err: assert.AnError}
	display := &fakeDisplay{err: assert.AnError}
	svc := NewService(badge, display, testLog())

	assert.NotPanics(t, func() {
		svc.SetBadgeCount(1)
		svc.ClearBadge()
		svc.Show(&Notification{Title: "hi"})
		svc.CloseByTag("x")
		svc.CloseAll()
	})
	// State still tracks despite the platform error.
	svc.SetBadgeCount(4)
	assert.Equal(t, 4, svc.BadgeCount())
}

func TestNilCapabilitiesGetNoOps(t *testing.T) {
	t.Parallel()

	svc := NewService(nil, nil, testLog())

	assert.NotPanics(t, func() {
		svc.SetBadgeCount(2)
		svc.Show(&Notification{Title: "hi", Body: "there", Tag: "greet"})
		svc.CloseByTag("greet")
		svc.CloseAll()
		svc.ClearBadge()
	})
	assert.Zero(t, svc.BadgeCount())
}

func TestShowAndCloseDelegate(t *testing.T) {
	t.Parallel()

	display := &fakeDisplay{}
	svc := NewService(&fakeBadge{}, display, testLog())

	svc.Show(&Notification{Title: "new message", Body: "hello", Tag: "msg-1"})
	svc.CloseByTag("msg-1")
	svc.CloseAll()

	require.Len(t, display.shown, 1)
	assert.Equal(t, "new message", display.shown[0].Title)
	assert.Equal(t, "msg-1", display.closedTag)
	assert.True(t, display.closedAll)
}

func TestNewPushDisplayEmptyURLs(t *testing.T) {
	t.Parallel()

	p, err := NewPushDisplay(nil, testLog())
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestNewPushDisplayInvalidURL(t *testing.T) {
	t.Parallel()

	_, err := NewPushDisplay([]string{"not-a-service-url"}, testLog())
	assert.Error(t, err)
}
