// Package ws is the browser-facing fan-out layer: a per-channel connection
// hub and the throttled publisher that feeds it from the run loop.
package ws

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/vietquant/vnpulse/internal/config"
	"github.com/vietquant/vnpulse/internal/metrics"
)

var pingPayload = []byte("ping")

// Client is one connected browser socket. Frames pass through a bounded
// outbound queue serviced by a dedicated writer goroutine, so a slow consumer
// loses old frames instead of stalling the broadcast path.
type Client struct {
	ID      string
	channel string
	ip      string

	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	hub      *Hub
	dropOnce sync.Once
}

// Hub tracks connected clients per channel and broadcasts serialized frames
// to them. All methods are safe for concurrent use.
type Hub struct {
	queueSize    int
	maxPerIP     int
	authToken    string
	pingInterval time.Duration
	writeTimeout time.Duration
	reg          *metrics.Registry

	upgrader websocket.Upgrader

	mu       sync.Mutex
	channels map[string]map[string]*Client
	perIP    map[string]int
}

// NewHub builds a hub from the ws config section. reg may be nil in tests.
func NewHub(cfg *config.Config, reg *metrics.Registry) *Hub {
	return &Hub{
		queueSize:    cfg.WS.QueueSize,
		maxPerIP:     cfg.WS.MaxConnsPerIP,
		authToken:    cfg.WS.AuthToken,
		pingInterval: cfg.HeartbeatInterval(),
		writeTimeout: cfg.HeartbeatSendTimeout(),
		reg:          reg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Browser origins are enforced by the CORS layer on the REST
			// surface; the socket accepts any origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		channels: make(map[string]map[string]*Client),
		perIP:    make(map[string]int),
	}
}

// ServeWS upgrades the request and registers the client on channel. Token and
// per-IP violations are answered after the upgrade with close code 1008 so
// the browser sees a proper close frame rather than a failed handshake.
func (h *Hub) ServeWS(channel string, w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("channel", channel).Msg("websocket upgrade failed")
		return
	}

	if h.authToken != "" && r.URL.Query().Get("token") != h.authToken {
		closeWith(conn, websocket.ClosePolicyViolation, "invalid token")
		return
	}

	ip := remoteIP(r)
	if !h.reserveIP(ip) {
		closeWith(conn, websocket.ClosePolicyViolation, "connection limit reached")
		return
	}

	client := &Client{
		ID:      uuid.NewString(),
		channel: channel,
		ip:      ip,
		conn:    conn,
		send:    make(chan []byte, h.queueSize),
		done:    make(chan struct{}),
		hub:     h,
	}
	h.add(client)

	go client.writeLoop()
	go client.readLoop()
}

func (h *Hub) reserveIP(ip string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.perIP[ip] >= h.maxPerIP {
		return false
	}
	h.perIP[ip]++
	return true
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	if h.channels[c.channel] == nil {
		h.channels[c.channel] = make(map[string]*Client)
	}
	h.channels[c.channel][c.ID] = c
	count := len(h.channels[c.channel])
	h.mu.Unlock()

	if h.reg != nil {
		h.reg.WSConnectionsActive.WithLabelValues(c.channel).Set(float64(count))
	}
	log.Info().
		Str("channel", c.channel).
		Str("client_id", c.ID).
		Str("ip", c.ip).
		Int("channel_clients", count).
		Msg("websocket client connected")
}

// drop unregisters and closes a client. Idempotent: the reader, the writer
// and DisconnectAll may all race to it.
func (h *Hub) drop(c *Client) {
	c.dropOnce.Do(func() {
		h.mu.Lock()
		delete(h.channels[c.channel], c.ID)
		count := len(h.channels[c.channel])
		if h.perIP[c.ip] > 1 {
			h.perIP[c.ip]--
		} else {
			delete(h.perIP, c.ip)
		}
		h.mu.Unlock()

		close(c.done)
		c.conn.Close()

		if h.reg != nil {
			h.reg.WSConnectionsActive.WithLabelValues(c.channel).Set(float64(count))
		}
		log.Info().
			Str("channel", c.channel).
			Str("client_id", c.ID).
			Int("channel_clients", count).
			Msg("websocket client disconnected")
	})
}

// Broadcast enqueues one serialized frame to every client on channel.
func (h *Hub) Broadcast(channel string, data []byte) {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.channels[channel]))
	for _, c := range h.channels[channel] {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if c.enqueue(data) && h.reg != nil {
			h.reg.WSMessagesSent.WithLabelValues(channel).Inc()
		}
	}
}

// ClientCount reports connected clients on channel.
func (h *Hub) ClientCount(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[channel])
}

// DisconnectAll closes every client, used at shutdown.
func (h *Hub) DisconnectAll() {
	h.mu.Lock()
	var clients []*Client
	for _, table := range h.channels {
		for _, c := range table {
			clients = append(clients, c)
		}
	}
	h.mu.Unlock()

	for _, c := range clients {
		closeWith(c.conn, websocket.CloseGoingAway, "server shutdown")
		h.drop(c)
	}
}

// enqueue appends to the client queue, dropping the oldest frame on overflow.
// Reports whether the new frame was accepted.
func (c *Client) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
	}

	select {
	case <-c.send:
		if c.hub.reg != nil {
			c.hub.reg.WSMessagesDropped.WithLabelValues(c.channel).Inc()
		}
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		if c.hub.reg != nil {
			c.hub.reg.WSMessagesDropped.WithLabelValues(c.channel).Inc()
		}
		return false
	}
}

// writeLoop is the single writer for the connection: queued frames plus a
// binary application-level ping every heartbeat interval.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				c.hub.drop(c)
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.BinaryMessage, pingPayload); err != nil {
				log.Debug().Err(err).Str("client_id", c.ID).Msg("heartbeat failed")
				c.hub.drop(c)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.hub.writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}

// readLoop drains inbound frames; clients send nothing meaningful, the read
// is only there to observe the close.
func (c *Client) readLoop() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.hub.drop(c)
			return
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	conn.Close()
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
