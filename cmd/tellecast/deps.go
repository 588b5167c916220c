package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/5l1v3r1/tellecast-sub000/internal/broker"
	"github.com/5l1v3r1/tellecast-sub000/internal/database"
	"github.com/5l1v3r1/tellecast-sub000/internal/location"
	"github.com/5l1v3r1/tellecast-sub000/internal/notifications"
	"github.com/5l1v3r1/tellecast-sub000/internal/services"
	"github.com/5l1v3r1/tellecast-sub000/internal/store"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// backends are the connections a process opened. Redis and MongoDB are
// optional: without them the replay cache, push claims and the location
// archive are skipped.
type backends struct {
	db    *sql.DB
	store *store.Store
	rdb   *redis.Client
	mongo *mongo.Client
	mdb   *mongo.Database
}

func (a *app) connect(ctx context.Context, withMongo bool) (*backends, error) {
	a.log.Info("connecting to postgres")
	db, err := database.ConnectPostgres(ctx, a.cfg.PostgresURI)
	if err != nil {
		return nil, err
	}
	b := &backends{db: db, store: store.New(db)}

	if rdb, err := database.ConnectRedis(ctx, a.cfg.RedisURI); err != nil {
		a.log.Warn("redis unavailable, continuing without cache", zap.Error(err))
	} else {
		b.rdb = rdb
	}

	if withMongo {
		client, mdb, err := database.ConnectMongo(ctx, a.cfg.MongoURI)
		if err != nil {
			a.log.Warn("mongodb unavailable, location history disabled", zap.Error(err))
		} else {
			b.mongo, b.mdb = client, mdb
		}
	}
	return b, nil
}

func (b *backends) Close() {
	if b.mongo != nil {
		_ = database.DisconnectMongo(b.mongo)
	}
	if b.rdb != nil {
		_ = b.rdb.Close()
	}
	_ = b.db.Close()
}

func (a *app) ingestor(ctx context.Context, b *backends, pub broker.Publisher) *location.Ingestor {
	var archive location.Archive
	if b.mdb != nil {
		history := services.NewLocationHistory(b.mdb)
		if err := history.EnsureIndexes(ctx); err != nil {
			a.log.Warn("location history indexes", zap.Error(err))
		}
		archive = history
	}
	return location.NewIngestor(b.store, archive, pub, a.log)
}

func (a *app) dispatcher(b *backends, pub broker.Publisher) *notifications.Dispatcher {
	var cache notifications.Cache
	if b.rdb != nil {
		cache = services.NewNotificationCache(b.rdb, a.log)
	}
	return notifications.NewDispatcher(b.store, cache, pub, a.log)
}

// serveHTTP runs srv until ctx is done, then drains it.
func serveHTTP(ctx context.Context, srv *http.Server, log *zap.Logger) error {
	errc := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", srv.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// withPublisher runs fn while a broker connection is kept up, then closes
// the connection.
func (a *app) withPublisher(ctx context.Context, fn func(ctx context.Context, pub broker.Publisher) error) error {
	client := broker.NewClient(a.cfg.BrokerURL, a.log)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return client.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return fn(gctx, client)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
