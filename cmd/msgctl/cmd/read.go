package cmd

import (
	"fmt"

	"github.com/nfrund/bizdash/internal/messaging"
	"github.com/spf13/cobra"
)

func newReadCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "read <message-id>...",
		Short: "Mark messages as read by the acting user",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := opts.actor()
			if err != nil {
				return err
			}

			return withSynchronizer(cmd.Context(), opts, func(s *messaging.Synchronizer) error {
				for _, id := range args {
					if err := s.MarkRead(cmd.Context(), id, actor.ID); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "marked %s read\n", id)
				}
				return nil
			})
		},
	}
}
