package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/nfrund/bizdash/internal/domain"
	"github.com/nfrund/bizdash/internal/messaging"
	"github.com/spf13/cobra"
)

func newWatchCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow new messages until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := opts.actor()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withSynchronizer(ctx, opts, func(s *messaging.Synchronizer) error {
				out := cmd.OutOrStdout()
				encoder := json.NewEncoder(out)
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

				sub, err := s.Subscribe(ctx, actor.ID, actor.Elevated, func(_ context.Context, d messaging.Delivery) {
					if opts.format == "json" {
						_ = encoder.Encode(struct {
							Stream  messaging.Stream `json:"stream"`
							Message *domain.Message  `json:"message"`
						}{d.Stream, d.Message})
						return
					}
					fmt.Fprintf(tw, "[%s]\t", d.Stream)
					printRow(tw, actor.ID, d.Message)
					tw.Flush()
				})
				if err != nil {
					return err
				}
				defer sub.Unsubscribe()

				<-ctx.Done()
				return nil
			})
		},
	}
}
