// Package messaging provides a NATS client wrapper that publishes room events
// for observers outside the API process. It handles connection lifecycle,
// subject naming, and subscriptions to the event feed.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/whisper/chatroom/internal/chat"
)

// NATS subject patterns for room events.
const (
	SubjectEvents    = "chat.events"   // + .<kind>
	SubjectAllEvents = "chat.events.>" // wildcard for every kind
)

// EventSubject returns the subject an event of kind is published on.
func EventSubject(kind chat.EventKind) string {
	return SubjectEvents + "." + string(kind)
}

// NATSClient wraps the NATS connection and implements chat.EventSink.
type NATSClient struct {
	conn *nats.Conn
	log  *slog.Logger
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "chatroom",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig, log *slog.Logger) (*NATSClient, error) {
	log = log.With("component", "nats")
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	log.Info("connected", "url", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		log:  log,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Emit publishes ev on its kind's subject. Failures are logged; the room
// operation that produced the event has already been stored.
func (c *NATSClient) Emit(_ context.Context, ev chat.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		c.log.Error("marshal event", "kind", ev.Kind, "err", err)
		return
	}
	if err := c.conn.Publish(EventSubject(ev.Kind), data); err != nil {
		c.log.Warn("publish event", "kind", ev.Kind, "err", err)
	}
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

// SubscribeEvents delivers every decoded room event to handler. Payloads
// that do not decode are logged and skipped.
func (c *NATSClient) SubscribeEvents(handler func(ev chat.Event)) error {
	return c.Subscribe(SubjectAllEvents, func(msg *nats.Msg) {
		var ev chat.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			c.log.Warn("decode event", "subject", msg.Subject, "err", err)
			return
		}
		handler(ev)
	})
}

// Unsubscribe removes the subscription registered for subject.
func (c *NATSClient) Unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}

// Flush waits until the server has processed everything published so far.
func (c *NATSClient) Flush(timeout time.Duration) error {
	return c.conn.FlushTimeout(timeout)
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.log.Warn("drain subscription", "subject", subject, "err", err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.log.Warn("connection drain", "err", err)
	}
	c.log.Info("client closed")
}

var _ chat.EventSink = (*NATSClient)(nil)
