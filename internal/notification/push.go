package notification

import (
	"sync"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/meshchat/liferaft/internal/logger"
)

// PushDisplay forwards notifications to shoutrrr service URLs (ntfy,
// gotify, telegram, ...). It implements Display for gateways that have no
// local notification surface; Close operations are no-ops because pushed
// notifications live on the remote service.
type PushDisplay struct {
	sender *router.ServiceRouter
	log    logger.Logger

	mu   sync.Mutex // shoutrrr senders are not documented as goroutine-safe
}

// NewPushDisplay builds a PushDisplay for the given shoutrrr URLs.
// Returns nil (caller substitutes the no-op) when urls is empty.
func NewPushDisplay(urls []string, log logger.Logger) (*PushDisplay, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, err
	}
	return &PushDisplay{sender: sender, log: log}, nil
}

func (p *PushDisplay) Show(n *Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	params := &types.Params{"title": n.Title}
	for _, err := range p.sender.Send(n.Body, params) {
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *PushDisplay) CloseByTag(string) error { return nil }
func (p *PushDisplay) CloseAll() error         { return nil }
