package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/5l1v3r1/tellecast-sub000/internal/broker"
	"github.com/5l1v3r1/tellecast-sub000/internal/thumbnails"
)

func (a *app) thumbnailsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "thumbnails",
		Short: "Queue a thumbnail job for every stored object",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			b, err := a.connect(ctx, false)
			if err != nil {
				return err
			}
			defer b.Close()

			return a.withPublisher(ctx, func(ctx context.Context, pub broker.Publisher) error {
				n, err := thumbnails.Backfill(ctx, b.store, pub, a.log)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued %d thumbnail jobs\n", n)
				return nil
			})
		},
	}
}
