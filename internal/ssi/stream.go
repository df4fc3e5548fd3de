package ssi

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	handshakeTimeout = 30 * time.Second
	readDeadline     = 60 * time.Second
	pongWait         = 60 * time.Second
)

// StreamClient is a blocking FastConnect socket reader. Run dials, subscribes
// and reads until the connection drops or ctx is cancelled; the supervisor
// owns the reconnect policy, not this type.
type StreamClient struct {
	streamURL string
	auth      *AuthService

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewStreamClient builds a client for the given stream endpoint.
func NewStreamClient(streamURL string, auth *AuthService) *StreamClient {
	return &StreamClient{streamURL: streamURL, auth: auth}
}

// Run connects, subscribes to channels and delivers every raw frame to
// onMessage from the reader goroutine. onConnect fires once after a
// successful dial. It returns when the socket closes, errors, or ctx is
// cancelled. Always returns a non-nil error.
func (c *StreamClient) Run(ctx context.Context, channels []string, onConnect func(), onMessage func([]byte)) error {
	token, err := c.auth.Token(ctx)
	if err != nil {
		return fmt.Errorf("stream auth failed: %w", err)
	}

	endpoint, err := wsEndpoint(c.streamURL)
	if err != nil {
		return err
	}
	query := endpoint.Query()
	query.Set("access_token", token)
	query.Set("channels", strings.Join(channels, ","))
	endpoint.RawQuery = query.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("stream dial failed: %w", err)
	}
	log.Info().Str("url", c.streamURL).Int("channels", len(channels)).Msg("market stream connected")
	if onConnect != nil {
		onConnect()
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Unblock the reader when ctx is cancelled.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("stream read failed: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		onMessage(msg)
	}
}

// wsEndpoint normalizes the configured stream URL to a websocket scheme.
// The broker documents the https form; the dialer only accepts ws/wss.
func wsEndpoint(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid stream URL %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("stream URL %q has unsupported scheme %q", raw, u.Scheme)
	}
	return u, nil
}

// Close tears down the active connection, if any, unblocking Run.
func (c *StreamClient) Close() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
