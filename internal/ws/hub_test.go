package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietquant/vnpulse/internal/config"
)

func testHubConfig() *config.Config {
	cfg := config.Default()
	cfg.WS.HeartbeatSecs = 60 // keep heartbeats out of short tests
	return cfg
}

func newTestServer(t *testing.T, h http.Handler) string {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func startHubServer(t *testing.T, cfg *config.Config) (*Hub, string) {
	t.Helper()
	hub := NewHub(cfg, nil)
	r := mux.NewRouter()
	RegisterRoutes(r, hub)
	return hub, newTestServer(t, r)
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, channel string, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return hub.ClientCount(channel) == want
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcastReachesChannelClients(t *testing.T) {
	hub, base := startHubServer(t, testHubConfig())
	conn := dial(t, base+"/ws/market")
	other := dial(t, base+"/ws/foreign")
	waitClients(t, hub, "market", 1)
	waitClients(t, hub, "foreign", 1)

	hub.Broadcast("market", []byte(`{"type":"market"}`))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"market"}`, string(data))

	// The foreign client must not see market frames.
	other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = other.ReadMessage()
	assert.Error(t, err)
}

func TestPerIPConnectionLimit(t *testing.T) {
	cfg := testHubConfig()
	cfg.WS.MaxConnsPerIP = 2
	hub, base := startHubServer(t, cfg)

	dial(t, base+"/ws/market")
	dial(t, base+"/ws/market")
	waitClients(t, hub, "market", 2)

	over := dial(t, base+"/ws/market")
	over.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := over.ReadMessage()
	require.Error(t, err)
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, 2, hub.ClientCount("market"))
}

func TestAuthTokenEnforced(t *testing.T) {
	cfg := testHubConfig()
	cfg.WS.AuthToken = "sekret"
	hub, base := startHubServer(t, cfg)

	denied := dial(t, base+"/ws/market?token=wrong")
	denied.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := denied.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)

	dial(t, base+"/ws/market?token=sekret")
	waitClients(t, hub, "market", 1)
}

func TestClientDisconnectUnregisters(t *testing.T) {
	hub, base := startHubServer(t, testHubConfig())
	conn := dial(t, base+"/ws/market")
	waitClients(t, hub, "market", 1)

	conn.Close()
	waitClients(t, hub, "market", 0)

	// The IP slot is released too.
	dial(t, base+"/ws/market")
	waitClients(t, hub, "market", 1)
}

func TestDisconnectAll(t *testing.T) {
	hub, base := startHubServer(t, testHubConfig())
	conn := dial(t, base+"/ws/market")
	dial(t, base+"/ws/index")
	waitClients(t, hub, "market", 1)
	waitClients(t, hub, "index", 1)

	hub.DisconnectAll()
	assert.Zero(t, hub.ClientCount("market"))
	assert.Zero(t, hub.ClientCount("index"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestHeartbeatPingFrames(t *testing.T) {
	cfg := testHubConfig()
	cfg.WS.HeartbeatSecs = 0.05
	hub, base := startHubServer(t, cfg)
	conn := dial(t, base+"/ws/market")
	waitClients(t, hub, "market", 1)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, msgType)
	assert.Equal(t, []byte("ping"), data)
}
