package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/5l1v3r1/tellecast-sub000/internal/broker"
	"github.com/5l1v3r1/tellecast-sub000/internal/database"
	"github.com/5l1v3r1/tellecast-sub000/internal/identity"
	"github.com/5l1v3r1/tellecast-sub000/internal/store"
)

// usersCommand places every tellzone owner at their tellzone.
func (a *app) usersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "Post a casting fix for each tellzone owner at the tellzone's point",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			b, err := a.connect(ctx, true)
			if err != nil {
				return err
			}
			defer b.Close()

			tellzones, err := b.store.TellzonesWithOwners(ctx)
			if err != nil {
				return err
			}
			return a.withPublisher(ctx, func(ctx context.Context, pub broker.Publisher) error {
				n, err := a.ingestor(ctx, b, pub).SeedOwners(ctx, tellzones)
				a.log.Info("owners seeded", zap.Int("fixes", n), zap.Int("tellzones", len(tellzones)))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %d owners\n", n)
				return nil
			})
		},
	}
}

// userCommand prints True when the token resolves to a principal and
// False otherwise. A rejected token is not a command failure.
func (a *app) userCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "user <token>",
		Short: "Check a session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			db, err := database.ConnectPostgres(ctx, a.cfg.PostgresURI)
			if err != nil {
				return err
			}
			defer db.Close()

			validator := identity.NewValidator(identity.NewSigner(a.cfg.SecretKey), store.New(db))
			_, err = validator.Validate(ctx, args[0])
			if err != nil {
				a.log.Debug("token rejected", zap.Error(err))
				fmt.Fprintln(cmd.OutOrStdout(), "False")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "True")
			return nil
		},
	}
}
