package natsbus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"missionforge/internal/config"
	"missionforge/internal/logging"
	"missionforge/internal/swarm"
)

// Client is a NATS connection that doubles as a swarm.EventSink.
type Client struct {
	conn *nats.Conn
}

// NewClient connects to an embedded bus.
func NewClient(bus *Bus) (*Client, error) {
	return NewClientFromURL(bus.ClientURL())
}

// NewClientFromURL connects to an external server.
func NewClientFromURL(url string) (*Client, error) {
	conn, err := nats.Connect(url, nats.Name("missionforge"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Open connects according to cfg. With no URL it starts an embedded server
// first. The returned func closes the client and any embedded server.
func Open(cfg config.NATSConfig) (*Client, func(), error) {
	if cfg.URL != "" {
		c, err := NewClientFromURL(cfg.URL)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	}

	bus, err := New(cfg)
	if err != nil {
		return nil, nil, err
	}
	c, err := NewClient(bus)
	if err != nil {
		bus.Close()
		return nil, nil, err
	}
	return c, func() {
		c.Close()
		bus.Close()
	}, nil
}

// PublishJSON marshals v and publishes it on topic.
func (c *Client) PublishJSON(topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return c.conn.Publish(topic, data)
}

// Publish sends e on its mission subject. Failures are logged, never
// returned, so the coordinator is not held up by the bus.
func (c *Client) Publish(e swarm.Event) {
	topic := TopicMissionEvent(e.MissionID, string(e.Type))
	if err := c.PublishJSON(topic, e); err != nil {
		logging.EventsWarn("NATS publish on %s failed: %v", topic, err)
	}
}

// Subscribe registers handler for topic.
func (c *Client) Subscribe(topic string, handler func(msg *nats.Msg)) (*nats.Subscription, error) {
	return c.conn.Subscribe(topic, handler)
}

// Flush round-trips to the server so pending publishes are delivered.
func (c *Client) Flush() error {
	return c.conn.Flush()
}

// Close closes the connection.
func (c *Client) Close() {
	c.conn.Close()
}

var _ swarm.EventSink = (*Client)(nil)
