// Package workers runs broker consumers and background loops of one
// process under a single errgroup.
package workers

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/5l1v3r1/tellecast-sub000/internal/broker"
)

// Consumer is the part of broker.Client the pool drives.
type Consumer interface {
	Subscribe(sub broker.Subscription)
	Run(ctx context.Context) error
}

// Pool fans each work queue out to size concurrent consumers. Fan-out
// exchanges get exactly one consumer per process.
type Pool struct {
	consumer Consumer
	size     int
	tasks    []func(ctx context.Context) error
	log      *zap.Logger
}

func NewPool(consumer Consumer, size int, log *zap.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{consumer: consumer, size: size, log: log.Named("workers")}
}

// Handle subscribes h to exchange.
func (p *Pool) Handle(exchange string, h broker.Handler) {
	n := 1
	if broker.IsWorkQueue(exchange) {
		n = p.size
	}
	for i := 0; i < n; i++ {
		p.consumer.Subscribe(broker.Subscription{Exchange: exchange, Handler: h})
	}
	p.log.Info("consumers registered", zap.String("exchange", exchange), zap.Int("count", n))
}

// HandleAll subscribes every subscription in subs.
func (p *Pool) HandleAll(subs []broker.Subscription) {
	for _, sub := range subs {
		p.Handle(sub.Exchange, sub.Handler)
	}
}

// Go adds a task that runs alongside the consumers. A task returning an
// error stops the pool.
func (p *Pool) Go(task func(ctx context.Context) error) {
	p.tasks = append(p.tasks, task)
}

// Run blocks until ctx is done or a task fails. Cancellation is a clean
// shutdown and returns nil.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.consumer.Run(ctx)
	})
	for _, task := range p.tasks {
		task := task
		g.Go(func() error {
			return task(ctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
