package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sony/gobreaker"

	"github.com/sweeney/irrigator/internal/config"
	"github.com/sweeney/irrigator/internal/event"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second

	// bufferCapacity is how many messages are kept while the broker is
	// unreachable.
	bufferCapacity = 256
)

var errPublishTimeout = errors.New("publish timeout")

// Client is a Publisher backed by a real broker. Messages that cannot be
// delivered are buffered and replayed on reconnect. It can also feed
// incoming sensor readings and commands into an event channel.
type Client struct {
	client  paho.Client
	topics  Topics
	breaker *gobreaker.CircuitBreaker
	now     func() time.Time

	mu        sync.Mutex
	buf       *ringBuffer
	connected bool // a connection has been made at least once
	ingest    chan<- event.Event
	ingestCtx context.Context
}

func newClient(topics Topics) *Client {
	return &Client{
		topics: topics,
		now:    time.Now,
		buf:    newRingBuffer(bufferCapacity),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "mqtt-publish",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Printf("mqtt: circuit %s %s -> %s", name, from, to)
			},
		}),
	}
}

// Connect dials the broker, retrying with exponential backoff until ctx is
// done or the retries run out. The broker publishes a retained SHUTDOWN
// message on our behalf if the connection drops uncleanly.
func Connect(ctx context.Context, cfg config.MQTT) (*Client, error) {
	c := newClient(NewTopics(cfg.Prefix))

	will, err := FormatSystemPayload(willEvent(c.now()))
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute).
		SetBinaryWill(c.topics.System(), will, 1, true).
		SetOnConnectHandler(func(paho.Client) { c.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})
	c.client = paho.NewClient(opts)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = time.Minute
	err = backoff.Retry(func() error {
		token := c.client.Connect()
		if !token.WaitTimeout(connectTimeout) {
			return errors.New("connection timeout")
		}
		if err := token.Error(); err != nil {
			log.Printf("mqtt: connect to %s: %v", cfg.Broker, err)
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 5), ctx))
	if err != nil {
		return nil, fmt.Errorf("connect to broker %s: %w", cfg.Broker, err)
	}

	log.Printf("mqtt: connected to %s", cfg.Broker)
	return c, nil
}

// onConnect runs on every (re)connection: restore subscriptions, announce
// the reconnect and replay whatever was buffered.
func (c *Client) onConnect() {
	c.mu.Lock()
	reconnect := c.connected
	c.connected = true
	subscribed := c.ingest != nil
	pending := c.buf.len()
	c.mu.Unlock()

	if subscribed {
		if err := c.subscribe(); err != nil {
			log.Printf("mqtt: resubscribe: %v", err)
		}
	}

	if reconnect {
		log.Printf("mqtt: reconnected, replaying %d buffered message(s)", pending)
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: c.now(), Event: "RECONNECTED"})
		if err := c.send(bufferedMsg{topic: c.topics.System(), payload: payload, qos: 1}); err != nil {
			log.Printf("mqtt: publish reconnect: %v", err)
		}
	}

	if err := c.flush(); err != nil {
		log.Printf("mqtt: replay failed: %v", err)
	}
}

// flush sends buffered messages oldest first. On failure the unsent ones go
// back into the buffer.
func (c *Client) flush() error {
	c.mu.Lock()
	pending := c.buf.drainAll()
	c.mu.Unlock()

	for i, m := range pending {
		if err := c.send(m); err != nil {
			c.mu.Lock()
			for _, rest := range pending[i:] {
				c.buf.push(rest)
			}
			c.mu.Unlock()
			return err
		}
	}
	return nil
}

// Publish sends ev as JSON on its kind's event topic.
func (c *Client) Publish(ev event.Event) error {
	payload, err := event.FormatJSON(ev)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return c.publish(bufferedMsg{topic: c.topics.Event(ev.Kind()), payload: payload})
}

// PublishSystem sends a system lifecycle event.
func (c *Client) PublishSystem(ev SystemEvent) error {
	payload, err := FormatSystemPayload(ev)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) - we want to ensure delivery
	return c.publish(bufferedMsg{topic: c.topics.System(), payload: payload, qos: 1, retained: ev.Retained})
}

// Observe publishes every event the controller has handled.
func (c *Client) Observe(ev event.Event) {
	if err := c.Publish(ev); err != nil {
		log.Printf("mqtt: publish %s: %v", ev.Kind(), err)
	}
}

// publish sends m, or buffers it while offline. Buffering is not an error.
func (c *Client) publish(m bufferedMsg) error {
	if !c.client.IsConnectionOpen() {
		c.buffer(m)
		return nil
	}
	if c.Buffered() > 0 {
		if err := c.flush(); err != nil {
			c.buffer(m)
			return fmt.Errorf("publish %s: %w", m.topic, err)
		}
	}
	if err := c.send(m); err != nil {
		c.buffer(m)
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

func (c *Client) send(m bufferedMsg) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		token := c.client.Publish(m.topic, m.qos, m.retained, m.payload)
		if !token.WaitTimeout(publishTimeout) {
			return nil, errPublishTimeout
		}
		return nil, token.Error()
	})
	return err
}

func (c *Client) buffer(m bufferedMsg) {
	c.mu.Lock()
	c.buf.push(m)
	c.mu.Unlock()
}

// Buffered returns the number of messages waiting for the broker.
func (c *Client) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.len()
}

// Subscribe feeds incoming readings and commands into events until ctx is
// done. Malformed messages are logged and dropped. Subscriptions are
// restored after a reconnect.
func (c *Client) Subscribe(ctx context.Context, events chan<- event.Event) error {
	c.mu.Lock()
	c.ingest = events
	c.ingestCtx = ctx
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		// onConnect subscribes once the connection is back.
		return nil
	}
	return c.subscribe()
}

func (c *Client) subscribe() error {
	filters := make(map[string]byte)
	for _, f := range c.topics.Subscriptions() {
		filters[f] = 1
	}
	token := c.client.SubscribeMultiple(filters, c.handle)
	if !token.WaitTimeout(connectTimeout) {
		return errors.New("subscribe timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	log.Printf("mqtt: subscribed to %d topic filter(s)", len(filters))
	return nil
}

func (c *Client) handle(_ paho.Client, msg paho.Message) {
	ev, err := c.topics.Decode(msg.Topic(), msg.Payload(), c.now())
	if err != nil {
		log.Printf("mqtt: dropping message on %s: %v", msg.Topic(), err)
		return
	}

	c.mu.Lock()
	events, ctx := c.ingest, c.ingestCtx
	c.mu.Unlock()
	if events == nil {
		return
	}

	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

// IsConnected reports whether the broker connection is currently up.
func (c *Client) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (c *Client) Close() error {
	c.client.Disconnect(1000) // 1 second timeout
	return nil
}
