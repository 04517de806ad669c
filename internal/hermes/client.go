package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// QueueGroup spreads scan requests across every corpusd on the bus so each
// request runs once.
const QueueGroup = "corpusd"

const (
	maxReconnects = 60
	reconnectWait = 2 * time.Second
	drainTimeout  = 5 * time.Second
)

// Handler receives the subject and raw payload of a delivered message.
type Handler func(subject string, data []byte)

// Client publishes corpus events and delivers scan requests over NATS.
type Client struct {
	conn   *nats.Conn
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NewClient connects to url. The connection keeps retrying in the
// background, so a bus that is still starting does not fail the server.
func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger = logger.With("component", "hermes")
	opts := []nats.Option{
		nats.Name("corpusd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DrainTimeout(drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrlRedacted())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Debug("nats connection closed")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	logger.Info("nats client ready", "connected", nc.IsConnected())

	return &Client{
		conn:   nc,
		logger: logger,
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// Connected reports whether the connection is currently up.
func (c *Client) Connected() bool {
	return c.conn.IsConnected()
}

// Publish sends data on subject as JSON.
func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", subject, err)
	}
	if err := c.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe delivers messages on subject to handler through QueueGroup.
// Subscribing twice to the same subject is an error.
func (c *Client) Subscribe(subject string, handler Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.subs[subject]; ok {
		return fmt.Errorf("already subscribed to %s", subject)
	}

	sub, err := c.conn.QueueSubscribe(subject, QueueGroup, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs[subject] = sub
	c.logger.Info("subscribed", "subject", subject, "queue", QueueGroup)
	return nil
}

// Close drains in-flight messages and closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	clear(c.subs)
	c.mu.Unlock()

	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("nats drain failed", "error", err)
		c.conn.Close()
	}
}
