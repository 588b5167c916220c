package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/5l1v3r1/tellecast-sub000/internal/broker"
	"github.com/5l1v3r1/tellecast-sub000/internal/push"
	"github.com/5l1v3r1/tellecast-sub000/internal/services"
	"github.com/5l1v3r1/tellecast-sub000/internal/thumbnails"
	"github.com/5l1v3r1/tellecast-sub000/internal/workers"
)

// pushClaimTTL outlives the broker's full retry cycle.
const pushClaimTTL = 24 * time.Hour

func (a *app) workersCommand() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "Run the push notification and thumbnail consumers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			b, err := a.connect(ctx, false)
			if err != nil {
				return err
			}
			defer b.Close()

			var claims push.Claimer
			if b.rdb != nil {
				claims = services.NewClaims(b.rdb, "push", pushClaimTTL)
			}
			pushWorker := push.NewWorker(b.store, claims, a.log,
				push.NewAPNS(push.APNSConfig{URL: a.cfg.APNSURL, Topic: a.cfg.APNSTopic, AuthToken: a.cfg.APNSAuthToken}, a.log),
				push.NewGCM(push.GCMConfig{URL: a.cfg.GCMURL, APIKey: a.cfg.GCMAPIKey}, a.log),
			)

			var objects thumbnails.ObjectStore
			if a.cfg.HasCloudinary() {
				cs, err := thumbnails.NewCloudinaryStore(a.cfg.CloudinaryName, a.cfg.CloudinaryAPIKey, a.cfg.CloudinaryAPISecret, a.cfg.CloudinaryFolder)
				if err != nil {
					return err
				}
				objects = cs
			} else {
				a.log.Warn("cloudinary credentials missing, derivatives are kept in memory")
				objects = thumbnails.NewMemoryStore()
			}
			thumbWorker := thumbnails.NewWorker(b.store, objects, thumbnails.Options{}, a.log)

			if concurrency <= 0 {
				concurrency = a.cfg.Workers
			}
			client := broker.NewClient(a.cfg.BrokerURL, a.log)
			pool := workers.NewPool(client, concurrency, a.log)
			pool.Handle(broker.QueuePushNotifications, pushWorker.Handle)
			pool.Handle(broker.QueueThumbnails, thumbWorker.Handle)

			a.log.Info("workers starting", zap.Int("concurrency", concurrency))
			return pool.Run(ctx)
		},
	}
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "consumers per work queue (default WORKERS)")
	return cmd
}
