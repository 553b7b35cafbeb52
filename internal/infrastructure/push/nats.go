package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/oziev02/CommentSync/internal/domain"
)

// DefaultNATSPrefix префикс тем по умолчанию
const DefaultNATSPrefix = "comments"

// NATSChannel канал push-событий поверх NATS.
// Входящие события приходят в темы <prefix>.in.<EVENT>,
// исходящие публикуются в <prefix>.out.<EVENT>.
type NATSChannel struct {
	*registry
	prefix string
	conn   *nats.Conn
	sub    *nats.Subscription
}

// NewNATSChannel подключается к NATS и подписывается на входящие события
func NewNATSChannel(url, prefix string, logger *slog.Logger) (*NATSChannel, error) {
	if prefix == "" {
		prefix = DefaultNATSPrefix
	}
	c := &NATSChannel{
		registry: newRegistry(logger),
		prefix:   prefix,
	}

	conn, err := nats.Connect(url,
		nats.Name("commentsync"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				c.logger.Warn("push channel disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("push channel reconnected", "url", nc.ConnectedUrl())
			go c.reconnected()
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	sub, err := conn.Subscribe(c.inbound(">"), c.handle)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", c.inbound(">"), err)
	}

	c.conn = conn
	c.sub = sub
	c.logger.Info("push channel connected", "url", conn.ConnectedUrl(), "prefix", prefix)
	return c, nil
}

func (c *NATSChannel) inbound(event string) string {
	return c.prefix + ".in." + event
}

func (c *NATSChannel) outbound(event string) string {
	return c.prefix + ".out." + event
}

// eventFromSubject возвращает имя события из темы входящего сообщения
func (c *NATSChannel) eventFromSubject(subject string) (string, bool) {
	event, ok := strings.CutPrefix(subject, c.prefix+".in.")
	if !ok || event == "" || strings.Contains(event, ".") {
		return "", false
	}
	return event, true
}

func (c *NATSChannel) handle(msg *nats.Msg) {
	event, ok := c.eventFromSubject(msg.Subject)
	if !ok {
		c.logger.Warn("dropping push message with unexpected subject", "subject", msg.Subject)
		return
	}
	if !json.Valid(msg.Data) {
		c.logger.Warn("dropping malformed push message", "event", event)
		return
	}
	c.dispatch(event, msg.Data)
}

// Emit публикует событие в тему <prefix>.out.<EVENT>
func (c *NATSChannel) Emit(_ context.Context, event string, payload any) error {
	if c.conn.IsClosed() {
		return domain.ErrChannelClosed
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	if err := c.conn.Publish(c.outbound(event), data); err != nil {
		return fmt.Errorf("failed to emit %s: %w", event, err)
	}
	return nil
}

// Close отписывается и закрывает соединение
func (c *NATSChannel) Close() error {
	if err := c.sub.Unsubscribe(); err != nil && !c.conn.IsClosed() {
		c.logger.Warn("failed to unsubscribe push channel", "error", err)
	}
	c.conn.Close()
	return nil
}
