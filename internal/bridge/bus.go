package bridge

import (
	"sync"
	"time"
)

// Handler processes inbound bridge messages.
type Handler func(msg *Message)

const (
	// busBufferSize is the capacity of the async message channel. Messages
	// are dropped when the buffer is full so senders are never blocked.
	busBufferSize = 256
)

// Bus is the async page→worker half of the bridge. Publish is
// non-blocking: messages go to a buffered channel and a worker goroutine
// dispatches them, so transport goroutines are never blocked by cache or
// storage work in a handler.
type Bus struct {
	handlers []Handler
	mu       sync.RWMutex
	msgCh    chan *Message
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewBus creates a bus and starts its dispatch goroutine.
func NewBus() *Bus {
	b := &Bus{
		msgCh:  make(chan *Message, busBufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go b.processLoop()
	return b
}

// Subscribe registers a handler for every published message.
func (b *Bus) Subscribe(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish enqueues a message for async dispatch. Messages published after
// Stop, or while the buffer is full, are silently dropped.
func (b *Bus) Publish(msg *Message) {
	select {
	case <-b.stopCh:
		return
	default:
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	select {
	case b.msgCh <- msg:
	default:
		// Buffer full — drop to protect senders.
	}
}

// Stop shuts down the dispatch goroutine after draining queued messages.
// Safe to call multiple times.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	<-b.doneCh
}

func (b *Bus) processLoop() {
	defer close(b.doneCh)
	for {
		select {
		case msg := <-b.msgCh:
			b.dispatch(msg)
		case <-b.stopCh:
			for {
				select {
				case msg := <-b.msgCh:
					b.dispatch(msg)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(msg *Message) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				// A panicking handler must not take down dispatch for
				// the rest.
				_ = recover()
			}()
			h(msg)
		}()
	}
}
