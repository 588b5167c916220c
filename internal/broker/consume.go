package broker

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/5l1v3r1/tellecast-sub000/internal/observability"
	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

// Delivery is what a Handler sees of an AMQP delivery.
type Delivery struct {
	Exchange  string
	Queue     string
	MessageID string
	Body      []byte
	Retries   int
}

// Handler processes one delivery. A nil return acks it. Errors re-queue
// it with an incremented retry count; apperr.Permanent errors and
// deliveries past MaxRetries are dead-lettered.
type Handler func(ctx context.Context, d Delivery) error

// channelPublisher is the part of *amqp.Channel used to re-queue.
type channelPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type dispatcher struct {
	log      *zap.Logger
	pub      channelPublisher
	queue    string
	exchange string
	handler  Handler
}

func (d *dispatcher) dispatch(ctx context.Context, delivery amqp.Delivery) {
	retries := retryCount(delivery.Headers)
	err := d.call(ctx, Delivery{
		Exchange:  d.exchange,
		Queue:     d.queue,
		MessageID: delivery.MessageId,
		Body:      delivery.Body,
		Retries:   retries,
	})

	if err == nil {
		observability.BrokerMessages.WithLabelValues(d.exchange, "ack").Inc()
		if ackErr := delivery.Ack(false); ackErr != nil {
			d.log.Warn("ack", zap.Error(ackErr))
		}
		return
	}

	log := d.log.With(zap.String("message_id", delivery.MessageId), zap.Int("retries", retries), zap.Error(err))

	if apperr.Is(err, apperr.Permanent) || retries >= MaxRetries {
		observability.BrokerMessages.WithLabelValues(d.exchange, "dead_letter").Inc()
		log.Error("dead-lettering delivery")
		observability.Report(err, map[string]interface{}{
			"exchange":   d.exchange,
			"message_id": delivery.MessageId,
			"retries":    retries,
		})
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			d.log.Warn("nack", zap.Error(nackErr))
		}
		return
	}

	observability.BrokerMessages.WithLabelValues(d.exchange, "retry").Inc()
	log.Warn("re-queueing delivery")

	headers := amqp.Table{}
	for k, v := range delivery.Headers {
		headers[k] = v
	}
	headers[RetryHeader] = int32(retries + 1)

	// Straight back onto this consumer's queue through the default
	// exchange, so fan-out exchanges do not re-deliver to other processes.
	pubErr := d.pub.PublishWithContext(ctx, "", d.queue, false, false, amqp.Publishing{
		Headers:      headers,
		ContentType:  delivery.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    delivery.MessageId,
		Body:         delivery.Body,
	})
	if pubErr != nil {
		// Let the broker redeliver the original instead.
		d.log.Warn("re-queue publish failed", zap.Error(pubErr))
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			d.log.Warn("nack", zap.Error(nackErr))
		}
		return
	}
	if ackErr := delivery.Ack(false); ackErr != nil {
		d.log.Warn("ack", zap.Error(ackErr))
	}
}

// call runs the handler, converting a panic into an error.
func (d *dispatcher) call(ctx context.Context, delivery Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("broker: handler panic: %v", r)
		}
	}()
	return d.handler(ctx, delivery)
}

func retryCount(headers amqp.Table) int {
	switch v := headers[RetryHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case int16:
		return int(v)
	case int8:
		return int(v)
	}
	return 0
}
