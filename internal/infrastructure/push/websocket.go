package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/oziev02/CommentSync/internal/domain"
)

const writeTimeout = 10 * time.Second

// WebSocketConfig содержит настройки websocket-канала
type WebSocketConfig struct {
	URL            string
	Header         http.Header
	MaxElapsedTime time.Duration
}

// WebSocketChannel канал push-событий поверх websocket с автоматическим
// переподключением
type WebSocketChannel struct {
	*registry
	cfg    WebSocketConfig
	dialer *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	connected chan struct{}
	closed    bool
}

// NewWebSocketChannel создает новый экземпляр WebSocketChannel
func NewWebSocketChannel(cfg WebSocketConfig, logger *slog.Logger) *WebSocketChannel {
	return &WebSocketChannel{
		registry:  newRegistry(logger),
		cfg:       cfg,
		dialer:    websocket.DefaultDialer,
		connected: make(chan struct{}),
	}
}

// Run держит соединение открытым до отмены контекста. После каждого
// повторного подключения вызываются хуки OnReconnect.
func (c *WebSocketChannel) Run(ctx context.Context) error {
	defer c.Close()

	first := true
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			return err
		}

		if !c.setConn(conn) {
			conn.Close()
			return nil
		}
		c.logger.Info("push channel connected", "url", c.cfg.URL)
		if !first {
			c.reconnected()
		}
		first = false

		err = c.readLoop(ctx, conn)
		c.clearConn(conn)
		if ctx.Err() != nil || c.isClosed() {
			return nil
		}
		c.logger.Warn("push channel disconnected", "error", err)
	}
}

func (c *WebSocketChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = c.cfg.MaxElapsedTime

	var conn *websocket.Conn
	op := func() error {
		ws, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return err
		}
		conn = ws
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("failed to connect push channel", "error", err, "retry_in", wait)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to connect push channel: %w", err)
	}
	return conn, nil
}

func (c *WebSocketChannel) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	for {
		mt, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read message: %w", err)
		}
		if mt != websocket.TextMessage {
			continue
		}
		env, err := decodeEnvelope(raw)
		if err != nil {
			c.logger.Warn("dropping malformed push frame", "error", err)
			continue
		}
		c.dispatch(env.Event, env.Data)
	}
}

func (c *WebSocketChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *WebSocketChannel) setConn(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.conn = conn
	select {
	case <-c.connected:
	default:
		close(c.connected)
	}
	return true
}

func (c *WebSocketChannel) clearConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn.Close()
	if c.conn == conn {
		c.conn = nil
		c.connected = make(chan struct{})
	}
}

// WaitConnected блокируется до установки соединения
func (c *WebSocketChannel) WaitConnected(ctx context.Context) error {
	c.mu.Lock()
	ch := c.connected
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Emit отправляет событие на сервер
func (c *WebSocketChannel) Emit(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("failed to encode %s frame: %w", event, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn == nil {
		return domain.ErrChannelClosed
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return domain.ErrChannelClosed
		}
		return fmt.Errorf("failed to emit %s: %w", event, err)
	}
	return nil
}

// Close закрывает текущее соединение
func (c *WebSocketChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn == nil {
		return nil
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}
