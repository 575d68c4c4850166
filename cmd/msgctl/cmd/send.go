package cmd

import (
	"fmt"
	"strings"

	"github.com/nfrund/bizdash/internal/domain"
	"github.com/nfrund/bizdash/internal/messaging"
	"github.com/spf13/cobra"
)

func newSendCmd(opts *globalOptions) *cobra.Command {
	var req messaging.SendRequest
	var msgType string

	cmd := &cobra.Command{
		Use:   "send <content>",
		Short: "Send a message",
		Long: `Send a message as the acting user. Without --to the message is routed to
the admins; --to BROADCAST reaches everyone.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := opts.actor()
			if err != nil {
				return err
			}
			req.Content = strings.Join(args, " ")
			req.Type = domain.MessageType(strings.ToUpper(msgType))

			return withSynchronizer(cmd.Context(), opts, func(s *messaging.Synchronizer) error {
				res, err := s.SendDetailed(cmd.Context(), actor, req)
				if err != nil {
					return err
				}
				if opts.format == "json" {
					return printMessages(cmd.OutOrStdout(), opts.format, actor.ID, []*domain.Message{res.Message})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %s (%s)\n", res.Message.ID, res.Message.RecipientID, res.Replication)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&msgType, "type", string(domain.TypeChat), "CHAT, ACCESS_REQUEST, BROADCAST or BUG_REPORT")
	cmd.Flags().StringVar(&req.RecipientID, "to", "", "recipient id, ADMIN or BROADCAST (default ADMIN)")
	cmd.Flags().StringVar(&req.Image, "image", "", "image URL to attach")
	cmd.Flags().StringVar(&req.RelatedModule, "module", "", "business module the message relates to")
	return cmd
}
