package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/meshchat/liferaft/internal/bridge"
	"github.com/meshchat/liferaft/internal/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10 // must be < pongWait
	wsMaxMsgSize = 64 * 1024

	// wsSendBuffer is each client's outbound queue; broadcasts to a slow
	// client drop rather than block the worker.
	wsSendBuffer = 32

	// Inbound message rate limit per client.
	wsRateLimit = rate.Limit(20)
	wsRateBurst = 40
)

var bridgeUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Browsers set Origin on upgrade; non-browser clients may omit it,
		// which we allow for local tooling. A present Origin must match the
		// request host to block cross-site websocket hijacking.
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

// wsClient is one connected page client on the bridge.
type wsClient struct {
	id      string
	conn    *websocket.Conn
	sendCh  chan *bridge.Message
	closeCh chan struct{}
	once    sync.Once
	log     logger.Logger
}

func (c *wsClient) ID() string { return c.id }

// Send queues a broadcast; drops when the client's buffer is full so one
// slow page never stalls the registry.
func (c *wsClient) Send(msg *bridge.Message) {
	select {
	case c.sendCh <- msg:
	case <-c.closeCh:
	default:
	}
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.closeCh) })
}

// handleBridgeSocket upgrades a page connection and pumps bridge messages
// both ways: inbound JSON messages are published on the bus with the
// sender id stamped, outbound broadcasts are written from the send queue.
func (s *Server) handleBridgeSocket(c echo.Context) error {
	conn, err := bridgeUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	id := bridge.NewClientID()
	client := &wsClient{
		id:      id,
		conn:    conn,
		sendCh:  make(chan *bridge.Message, wsSendBuffer),
		closeCh: make(chan struct{}),
		log:     s.log.With(logger.String("client", id)),
	}

	s.registry.Register(client)
	defer func() {
		s.registry.Unregister(client.id)
		client.close()
		_ = conn.Close()
	}()

	go s.writePump(client)
	s.readPump(client)
	return nil
}

func (s *Server) readPump(c *wsClient) {
	c.conn.SetReadLimit(wsMaxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	limiter := rate.NewLimiter(wsRateLimit, wsRateBurst)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if !limiter.Allow() {
			c.log.Warn("bridge client rate limited, dropping message")
			continue
		}
		var msg bridge.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Debug("discarding malformed bridge message", logger.Error(err))
			continue
		}
		msg.Sender = c.id
		s.bus.Publish(&msg)
	}
}

// writePump serializes all writes for one connection; gorilla/websocket
// allows at most one concurrent writer.
func (s *Server) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.sendCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.closeCh:
			return
		}
	}
}
