package cmd

import (
	"fmt"

	"github.com/nfrund/bizdash/internal/messaging"
	"github.com/spf13/cobra"
)

func newLoadCmd(opts *globalOptions) *cobra.Command {
	var unreadOnly bool

	cmd := &cobra.Command{
		Use:   "load",
		Short: "List the messages visible to the acting user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := opts.actor()
			if err != nil {
				return err
			}

			return withSynchronizer(cmd.Context(), opts, func(s *messaging.Synchronizer) error {
				if unreadOnly {
					n, err := s.UnreadCount(cmd.Context(), actor.ID, actor.Elevated)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), n)
					return nil
				}

				msgs, err := s.Load(cmd.Context(), actor.ID, actor.Elevated)
				if err != nil {
					return err
				}
				return printMessages(cmd.OutOrStdout(), opts.format, actor.ID, msgs)
			})
		},
	}

	cmd.Flags().BoolVar(&unreadOnly, "unread", false, "print only the unread count")
	return cmd
}
