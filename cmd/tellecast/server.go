package main

import (
	"context"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/5l1v3r1/tellecast-sub000/internal/broker"
	"github.com/5l1v3r1/tellecast-sub000/internal/geo"
	"github.com/5l1v3r1/tellecast-sub000/internal/handlers"
	"github.com/5l1v3r1/tellecast-sub000/internal/identity"
	"github.com/5l1v3r1/tellecast-sub000/internal/middleware"
	"github.com/5l1v3r1/tellecast-sub000/internal/routes"
	"github.com/5l1v3r1/tellecast-sub000/internal/workers"
	"github.com/5l1v3r1/tellecast-sub000/pkg/clientip"
)

const (
	perIPRate  = 20
	perIPBurst = 40
)

func (a *app) serverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Run the REST API",
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
			signer := identity.NewSigner(a.cfg.SecretKey)
			validator := identity.NewValidator(signer, b.store)

			h := handlers.New(handlers.Deps{
				Principals:    b.store,
				Tokens:        signer,
				Devices:       b.store,
				Notifications: a.dispatcher(b, client),
				Tells:         b.store,
				Messages:      b.store,
				Locations:     a.ingestor(ctx, b, client),
				Proximity:     geo.NewEngine(b.store),
			}, a.log)

			resolver, err := clientip.NewResolver(a.cfg.TrustedProxies)
			if err != nil {
				return err
			}
			ipLimiter := middleware.NewIPLimiter(rate.Limit(perIPRate), perIPBurst)
			ipLimiter.ClientIP = resolver.ClientIP
			tokenLimiter := middleware.NewWindowLimiter(b.rdb, "tokens",
				middleware.TokenIssueMax, middleware.TokenIssueWindow, a.log)
			tokenLimiter.ClientIP = resolver.ClientIP

			router := routes.NewRouter(h, routes.Options{
				AllowedOrigins: a.cfg.AllowedOrigins,
				Production:     a.cfg.IsProduction(),
				Tokens:         validator,
				IPLimiter:      ipLimiter,
				TokenLimiter:   tokenLimiter,
			})
			srv := &http.Server{
				Addr:              a.cfg.HTTPAddr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			// The API only publishes; the pool keeps the broker connection
			// and the server under one lifetime.
			pool := workers.NewPool(client, 1, a.log)
			pool.Go(func(ctx context.Context) error {
				ipLimiter.Cleanup(ctx)
				return nil
			})
			pool.Go(func(ctx context.Context) error {
				return serveHTTP(ctx, srv, a.log)
			})
			return pool.Run(ctx)
		},
	}
}
