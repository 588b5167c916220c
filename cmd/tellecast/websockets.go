package main

import (
	"context"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/5l1v3r1/tellecast-sub000/internal/broker"
	"github.com/5l1v3r1/tellecast-sub000/internal/gateway"
	"github.com/5l1v3r1/tellecast-sub000/internal/identity"
	"github.com/5l1v3r1/tellecast-sub000/internal/workers"
)

func (a *app) websocketsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "websockets",
		Short: "Run the WebSocket gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			b, err := a.connect(ctx, true)
			if err != nil {
				return err
			}
			defer b.Close()

			client := broker.NewClient(a.cfg.BrokerURL, a.log)
			validator := identity.NewValidator(identity.NewSigner(a.cfg.SecretKey), b.store)
			gw := gateway.New(validator, a.ingestor(ctx, b, client), a.dispatcher(b, client), gateway.Options{}, a.log)

			srv := &http.Server{
				Addr:              a.cfg.WebSocketsAddr,
				Handler:           gw.Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			pool := workers.NewPool(client, 1, a.log)
			pool.HandleAll(gw.Subscriptions())
			pool.Go(func(ctx context.Context) error {
				return serveHTTP(ctx, srv, a.log)
			})
			// Hijacked connections are not closed by http.Server.Shutdown.
			pool.Go(func(ctx context.Context) error {
				<-ctx.Done()
				gw.Shutdown()
				return nil
			})
			return pool.Run(ctx)
		},
	}
}
