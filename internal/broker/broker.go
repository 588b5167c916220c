// Package broker keeps a durable AMQP connection, declares the exchange
// and queue topology, publishes task and ws payloads and runs consumers
// with ack-on-success, counted retries and dead-lettering.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

const (
	QueueWS                 = "ws"
	QueuePushNotifications  = "api.tasks.push_notifications"
	QueueThumbnails         = "api.tasks.thumbnails"
	QueueWebsocketsCommands = "api.management.commands.websockets"

	// MaxRetries is how many times a failed delivery is re-queued before
	// it is dead-lettered.
	MaxRetries  = 5
	RetryHeader = "x-retries"

	publishTimeout    = 5 * time.Second
	publishRetryDelay = 50 * time.Millisecond
	maxBackoff        = 30 * time.Second
)

// Names lists every exchange the client declares.
var Names = []string{QueueWS, QueuePushNotifications, QueueThumbnails, QueueWebsocketsCommands}

// durableQueues are shared work queues; the others are fanned out to one
// exclusive queue per process.
var durableQueues = map[string]bool{
	QueuePushNotifications: true,
	QueueThumbnails:        true,
}

// IsWorkQueue reports whether name is a shared durable work queue rather
// than a per-process fan-out.
func IsWorkQueue(name string) bool {
	return durableQueues[name]
}

// Publisher submits payloads to the broker.
type Publisher interface {
	Publish(ctx context.Context, exchange string, body []byte) error
}

// Subscription binds a handler to an exchange. Durable work queues are
// shared by every worker; fan-out exchanges (ws, management commands)
// get a private queue per process so every gateway sees every message.
type Subscription struct {
	Exchange string
	Handler  Handler
}

// Client owns one logical AMQP connection and reconnects with capped
// exponential backoff.
type Client struct {
	url string
	log *zap.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	pub    channelPublisher
	up     chan struct{} // closed while connected
	subs   []Subscription
	runCtx context.Context
}

func NewClient(url string, log *zap.Logger) *Client {
	return &Client{
		url: url,
		log: log.Named("broker"),
		up:  make(chan struct{}),
	}
}

// Subscribe registers a consumer. Subscriptions made after Run has
// connected are started immediately.
func (c *Client) Subscribe(sub Subscription) {
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	conn, ctx := c.conn, c.runCtx
	c.mu.Unlock()

	if conn != nil && ctx != nil {
		go c.serve(ctx, conn, sub)
	}
}

// Run connects and keeps the connection alive until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		closed, err := c.connect(ctx)
		if err == nil {
			backoff = time.Second
			select {
			case <-ctx.Done():
				c.shutdown()
				return ctx.Err()
			case amqpErr := <-closed:
				c.markDown()
				c.log.Warn("connection closed", zap.Any("reason", amqpErr))
			}
		} else {
			c.log.Warn("connect failed", zap.Error(err), zap.Duration("retry_in", backoff))
		}

		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff)
	}
}

// nextBackoff doubles d, capped at maxBackoff.
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func (c *Client) connect(ctx context.Context) (chan *amqp.Error, error) {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return nil, fmt.Errorf("broker: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker: open channel: %w", err)
	}
	if err := declareTopology(ch); err != nil {
		conn.Close()
		return nil, err
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	c.mu.Lock()
	c.conn = conn
	c.pub = ch
	c.runCtx = ctx
	subs := append([]Subscription(nil), c.subs...)
	close(c.up)
	c.mu.Unlock()

	for _, sub := range subs {
		go c.serve(ctx, conn, sub)
	}
	c.log.Info("connected", zap.Int("subscriptions", len(subs)))
	return closed, nil
}

func (c *Client) markDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = nil
	c.pub = nil
	c.up = make(chan struct{})
}

func (c *Client) shutdown() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	c.markDown()
}

// declareTopology declares, for every name: a durable direct exchange,
// its dead-letter exchange and dead-letter queue, and for work queues
// the durable queue bound with routing key == name.
func declareTopology(ch *amqp.Channel) error {
	for _, name := range Names {
		if err := ch.ExchangeDeclare(name, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
			return fmt.Errorf("broker: declare exchange %s: %w", name, err)
		}
		dlx := name + ".dlx"
		if err := ch.ExchangeDeclare(dlx, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
			return fmt.Errorf("broker: declare exchange %s: %w", dlx, err)
		}
		dead := name + ".dead"
		if _, err := ch.QueueDeclare(dead, true, false, false, false, nil); err != nil {
			return fmt.Errorf("broker: declare queue %s: %w", dead, err)
		}
		if err := ch.QueueBind(dead, name, dlx, false, nil); err != nil {
			return fmt.Errorf("broker: bind queue %s: %w", dead, err)
		}

		if !durableQueues[name] {
			continue
		}
		if _, err := ch.QueueDeclare(name, true, false, false, false, deadLetterArgs(name)); err != nil {
			return fmt.Errorf("broker: declare queue %s: %w", name, err)
		}
		if err := ch.QueueBind(name, name, name, false, nil); err != nil {
			return fmt.Errorf("broker: bind queue %s: %w", name, err)
		}
	}
	return nil
}

func deadLetterArgs(name string) amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    name + ".dlx",
		"x-dead-letter-routing-key": name,
	}
}

// Publish sends body to exchange with routing key == exchange. It waits
// up to 5 s for a live connection.
func (c *Client) Publish(ctx context.Context, exchange string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	for {
		c.mu.Lock()
		ch, up := c.pub, c.up
		c.mu.Unlock()

		if ch != nil {
			err := ch.PublishWithContext(ctx, exchange, exchange, false, false, amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    uuid.NewString(),
				Timestamp:    time.Now().UTC(),
				Body:         body,
			})
			if err == nil {
				return nil
			}
			if !errors.Is(err, amqp.ErrClosed) {
				return apperr.Wrap(apperr.UpstreamUnavailable, "broker: publish", err)
			}
			if c.reopenPublisher(ch) {
				continue
			}
			// The connection is going down but Run has not marked it yet,
			// so up is still the old closed channel.
			select {
			case <-time.After(publishRetryDelay):
				continue
			case <-ctx.Done():
				return apperr.Wrap(apperr.UpstreamUnavailable, "broker: publish", ctx.Err())
			}
		}

		select {
		case <-up:
		case <-ctx.Done():
			return apperr.Wrap(apperr.UpstreamUnavailable, "broker: publish", ctx.Err())
		}
	}
}

// reopenPublisher replaces a closed publisher channel while the connection
// is still alive. It reports whether a usable channel is in place.
func (c *Client) reopenPublisher(stale channelPublisher) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pub != stale {
		return c.pub != nil
	}
	if c.conn == nil || c.conn.IsClosed() {
		return false
	}
	ch, err := c.conn.Channel()
	if err != nil {
		c.log.Warn("reopen publisher channel", zap.Error(err))
		return false
	}
	c.pub = ch
	c.log.Info("publisher channel reopened")
	return true
}

// Submit wraps payload in the args envelope and publishes it on queue.
func Submit(ctx context.Context, p Publisher, queue string, payload interface{}) error {
	body, err := EncodeTask(payload)
	if err != nil {
		return err
	}
	return p.Publish(ctx, queue, body)
}

// PublishWS publishes a {subject, body} frame on the ws exchange.
func PublishWS(ctx context.Context, p Publisher, subject string, body interface{}) error {
	data, err := EncodeWS(subject, body)
	if err != nil {
		return err
	}
	return p.Publish(ctx, QueueWS, data)
}

// serve consumes one subscription on its own channel with prefetch 1
// until the connection drops or ctx is done.
func (c *Client) serve(ctx context.Context, conn *amqp.Connection, sub Subscription) {
	log := c.log.With(zap.String("exchange", sub.Exchange))

	ch, err := conn.Channel()
	if err != nil {
		log.Warn("open consumer channel", zap.Error(err))
		return
	}
	defer ch.Close()

	if err := ch.Qos(1, 0, false); err != nil {
		log.Warn("set prefetch", zap.Error(err))
		return
	}

	queue := sub.Exchange
	if !durableQueues[sub.Exchange] {
		q, err := ch.QueueDeclare("", false, true, true, false, deadLetterArgs(sub.Exchange))
		if err != nil {
			log.Warn("declare private queue", zap.Error(err))
			return
		}
		if err := ch.QueueBind(q.Name, sub.Exchange, sub.Exchange, false, nil); err != nil {
			log.Warn("bind private queue", zap.Error(err))
			return
		}
		queue = q.Name
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		log.Warn("consume", zap.Error(err))
		return
	}
	log.Info("consuming", zap.String("queue", queue))

	d := &dispatcher{log: log, pub: ch, queue: queue, exchange: sub.Exchange, handler: sub.Handler}
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				return
			}
			d.dispatch(ctx, delivery)
		}
	}
}
