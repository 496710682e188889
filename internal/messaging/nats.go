// Package messaging provides a NATS client wrapper for participant-addressed
// event fan-out. Every connected participant has two subjects: one for
// pairing lifecycle events and one for relayed signaling traffic. Publishing
// to a subject delivers the already-encoded frame to whichever server
// instance holds that participant's socket.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns. Both are suffixed with ".<handle>".
const (
	SubjectNotify = "pair.notify" // lifecycle events (waiting, matched, peer_gone, timeout)
	SubjectSignal = "pair.signal" // relayed negotiation payloads
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
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
		URL:           "nats://localhost:4222",
		Name:          "glimpse",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// PublishNotify publishes a lifecycle event frame to a participant.
func (c *NATSClient) PublishNotify(handle string, data []byte) error {
	return c.Publish(SubjectNotify+"."+handle, data)
}

// PublishSignal publishes a relayed signaling frame to a participant.
func (c *NATSClient) PublishSignal(handle string, data []byte) error {
	return c.Publish(SubjectSignal+"."+handle, data)
}

// SubscribeNotify subscribes to a participant's lifecycle subject.
func (c *NATSClient) SubscribeNotify(handle string, handler func(data []byte)) error {
	return c.subscribe(SubjectNotify+"."+handle, handler)
}

// SubscribeSignal subscribes to a participant's signaling subject.
func (c *NATSClient) SubscribeSignal(handle string, handler func(data []byte)) error {
	return c.subscribe(SubjectSignal+"."+handle, handler)
}

// UnsubscribeNotify drops the participant's lifecycle subscription.
func (c *NATSClient) UnsubscribeNotify(handle string) error {
	return c.unsubscribe(SubjectNotify + "." + handle)
}

// UnsubscribeSignal drops the participant's signaling subscription.
func (c *NATSClient) UnsubscribeSignal(handle string) error {
	return c.unsubscribe(SubjectSignal + "." + handle)
}

// subscribe registers a handler for a subject and stores the subscription
// internally for later cleanup.
func (c *NATSClient) subscribe(subject string, handler func(data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

// unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) unsubscribe(subject string) error {
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

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}
