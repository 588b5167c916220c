package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/5l1v3r1/tellecast-sub000/internal/broker"
)

type fakeConsumer struct {
	mu   sync.Mutex
	subs map[string]int
}

func (f *fakeConsumer) Subscribe(sub broker.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = map[string]int{}
	}
	f.subs[sub.Exchange]++
}

func (f *fakeConsumer) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func noop(ctx context.Context, d broker.Delivery) error { return nil }

func TestHandleSizesConsumers(t *testing.T) {
	c := &fakeConsumer{}
	p := NewPool(c, 4, zap.NewNop())
	p.Handle(broker.QueuePushNotifications, noop)
	p.Handle(broker.QueueThumbnails, noop)
	p.HandleAll([]broker.Subscription{
		{Exchange: broker.QueueWS, Handler: noop},
		{Exchange: broker.QueueWebsocketsCommands, Handler: noop},
	})

	want := map[string]int{
		broker.QueuePushNotifications:  4,
		broker.QueueThumbnails:         4,
		broker.QueueWS:                 1,
		broker.QueueWebsocketsCommands: 1,
	}
	for exchange, n := range want {
		if c.subs[exchange] != n {
			t.Errorf("%s: %d consumers, want %d", exchange, c.subs[exchange], n)
		}
	}
}

func TestRunStopsCleanlyOnCancel(t *testing.T) {
	p := NewPool(&fakeConsumer{}, 1, zap.NewNop())
	started := make(chan struct{})
	p.Go(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	<-started
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunStopsOnTaskFailure(t *testing.T) {
	p := NewPool(&fakeConsumer{}, 1, zap.NewNop())
	boom := errors.New("listener failed")
	p.Go(func(ctx context.Context) error { return boom })

	if err := p.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Run() = %v, want %v", err, boom)
	}
}
