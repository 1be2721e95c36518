// Package live provides the transports of the live channel.
// A transport only moves raw frames: decoding happens in the engine.
package live

import (
	"chat-sync/contract"
	"chat-sync/errors"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketTransport dials one websocket per session instantiation.
type WebSocketTransport struct {
	log          *slog.Logger
	base         *url.URL
	dialer       *websocket.Dialer
	writeTimeout time.Duration
}

func NewWebSocketTransport(log *slog.Logger, liveURL string, dialTimeout, writeTimeout time.Duration) (*WebSocketTransport, error) {
	base, err := BaseURL(liveURL)
	if err != nil {
		return nil, err
	}
	return &WebSocketTransport{
		log:  log,
		base: base,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: dialTimeout,
		},
		writeTimeout: writeTimeout,
	}, nil
}

func (t *WebSocketTransport) Connect(ctx context.Context, target contract.Target, handler contract.FrameHandler) (contract.Channel, error) {
	conn, response, err := t.dialer.DialContext(ctx, SessionURL(t.base, target.SessionID, target.Token), nil)
	if err != nil {
		if response != nil && (response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: handshake status %d", errors.ErrCredentialRejected, response.StatusCode)
		}
		return nil, fmt.Errorf("%w: %w", errors.ErrTransportFailure, err)
	}
	ch := &wsChannel{conn: conn, writeTimeout: t.writeTimeout}
	go ch.readLoop(t.log.With("session_id", target.SessionID), handler)
	return ch, nil
}

type wsChannel struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
	closeOnce    sync.Once
	closed       atomic.Bool
}

func (c *wsChannel) Send(ctx context.Context, payload []byte) error {
	if c.closed.Load() {
		return fmt.Errorf("%w: channel closed", errors.ErrTransportFailure)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(c.deadline(ctx))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrTransportFailure, err)
	}
	return nil
}

func (c *wsChannel) deadline(ctx context.Context) time.Time {
	var deadline time.Time
	if c.writeTimeout > 0 {
		deadline = time.Now().Add(c.writeTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	return deadline
}

func (c *wsChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}

func (c *wsChannel) readLoop(log *slog.Logger, handler contract.FrameHandler) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			handler.OnClose(c.classify(log, err))
			return
		}
		handler.OnFrame(data)
	}
}

func (c *wsChannel) classify(log *slog.Logger, err error) error {
	if c.closed.Load() {
		return nil
	}
	_ = c.conn.Close()
	if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		return fmt.Errorf("%w: %w", errors.ErrCredentialRejected, err)
	}
	log.Debug("Websocket read failed", "error", err)
	return fmt.Errorf("%w: %w", errors.ErrTransportFailure, err)
}
