package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/nfrund/bizdash/internal/app"
	"github.com/nfrund/bizdash/internal/config"
	"github.com/nfrund/bizdash/internal/domain"
	"github.com/nfrund/bizdash/internal/logging"
	"github.com/nfrund/bizdash/internal/messaging"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	actorID   string
	actorName string
	elevated  bool
	ephemeral bool
	format    string
}

func (o *globalOptions) actor() (domain.Actor, error) {
	if o.actorID == "" {
		return domain.Actor{}, errors.New("--actor is required")
	}
	return domain.Actor{ID: o.actorID, Name: o.actorName, Elevated: o.elevated}, nil
}

// NewRootCmd builds the msgctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "msgctl",
		Short: "Operate the message synchronizer from the command line",
		Long: `msgctl sends, lists and follows internal messages using the same cache and
remote feed configuration as the server.

Examples:
  msgctl --actor U1 send "printer on fire" --type BUG_REPORT
  msgctl --actor A1 --elevated load --format json
  msgctl --actor U1 read 5f0c...
  msgctl --actor U1 watch`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.actorID, "actor", "", "id of the acting user")
	flags.StringVar(&opts.actorName, "name", "", "display name of the acting user")
	flags.BoolVar(&opts.elevated, "elevated", false, "act with admin privileges")
	flags.BoolVar(&opts.ephemeral, "ephemeral", false, "keep the cache in memory for this run")
	flags.StringVar(&opts.format, "format", "table", "output format: table or json")

	root.AddCommand(
		newSendCmd(opts),
		newLoadCmd(opts),
		newReadCmd(opts),
		newWatchCmd(opts),
		newVersionCmd(),
	)
	return root
}

// Execute executes the root command
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// withSynchronizer builds the container for one command run and tears it
// down afterwards.
func withSynchronizer(ctx context.Context, opts *globalOptions, fn func(*messaging.Synchronizer) error) error {
	cfg, err := config.New()
	if err != nil {
		return err
	}

	// Output goes to stdout; keep logs out of it.
	logger := slog.New(logging.NewHandler(os.Stderr, cfg.LogFormat, cfg.LogLevel))
	slog.SetDefault(logger)

	injector := app.New(cfg, app.Options{Ephemeral: opts.ephemeral, Logger: logger})
	defer func() {
		if report := injector.ShutdownWithContext(context.WithoutCancel(ctx)); !report.Succeed {
			logger.Warn("shutdown incomplete", "error", report.Error())
		}
	}()

	syncer, err := do.Invoke[*messaging.Synchronizer](injector)
	if err != nil {
		return fmt.Errorf("start synchronizer: %w", err)
	}
	return fn(syncer)
}
