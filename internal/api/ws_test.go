package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshchat/liferaft/internal/bridge"
)

func dialBridge(t *testing.T, f *serverFixture) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(f.srv.echo)
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBridgeSocketRoundTrip(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t, staticFetcher("ok"))
	f.activateGeneration(t)
	conn := dialBridge(t, f)

	// Inbound GET_VERSION is published on the bus; the supervisor replies
	// to the sending client with VERSION_INFO.
	require.NoError(t, conn.WriteJSON(&bridge.Message{Type: bridge.TypeGetVersion}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var reply bridge.Message
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, bridge.TypeVersionInfo, reply.Type)
	assert.Equal(t, "1.0.0", reply.Version)
}

func TestBridgeSocketReceivesBroadcasts(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t, staticFetcher("ok"))
	conn := dialBridge(t, f)

	// Registration happens after the handshake the dial observed.
	require.Eventually(t, func() bool {
		return f.srv.registry.Len() == 1
	}, time.Second, 10*time.Millisecond)
	f.supervisor.RequestSync("outbox")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg bridge.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, bridge.TypeSyncRequested, msg.Type)
	assert.Equal(t, "outbox", msg.Tag)
}

func TestBridgeSocketIgnoresMalformedJSON(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t, staticFetcher("ok"))
	f.activateGeneration(t)
	conn := dialBridge(t, f)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	// The connection survives; a well-formed message still gets a reply.
	require.NoError(t, conn.WriteJSON(&bridge.Message{Type: bridge.TypeGetVersion}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var reply bridge.Message
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, bridge.TypeVersionInfo, reply.Type)
}

func TestBridgeUpgraderOriginCheck(t *testing.T) {
	t.Parallel()

	check := bridgeUpgrader.CheckOrigin

	mkReq := func(origin, host string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.Host = host
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		return req
	}

	assert.True(t, check(mkReq("", "gateway.local:8750")), "absent Origin is allowed for local tooling")
	assert.True(t, check(mkReq("http://gateway.local:8750", "gateway.local:8750")))
	assert.False(t, check(mkReq("http://evil.example", "gateway.local:8750")))
	assert.False(t, check(mkReq("http://gateway.local:9999", "gateway.local:8750")))
}
