package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mind-engage/mindengage-lti-provider/internal/app"
	"github.com/mind-engage/mindengage-lti-provider/internal/config"
	"github.com/mind-engage/mindengage-lti-provider/internal/logging"
)

type rootOptions struct {
	cfg   config.Config
	store string
	dsn   string
	level string
}

// newRootCmd builds the command tree. Settings come from the same
// environment as the server; flags override them.
func newRootCmd() *cobra.Command {
	o := &rootOptions{cfg: config.FromEnv()}
	cmd := &cobra.Command{
		Use:   "ltictl",
		Short: "Administer the LTI tool provider's consumers and shares",
		// Errors are reported once by cobra; usage is noise for runtime failures.
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if o.store != "" {
				o.cfg.StoreDriver = config.StoreDriver(o.store)
			}
			if o.dsn != "" {
				o.cfg.DBDSN = o.dsn
			}
			logging.Initialize(o.level, "text")
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&o.store, "store", "", "storage backend: sqlite|postgres (default $STORE_DRIVER)")
	cmd.PersistentFlags().StringVar(&o.dsn, "dsn", "", "database DSN (default $DB_DSN)")
	cmd.PersistentFlags().StringVar(&o.level, "log-level", "warn", "log level")

	cmd.AddCommand(
		newMigrateCmd(o),
		newConsumerCmd(o),
		newShareKeyCmd(o),
		newHashPasswordCmd(),
	)
	return cmd
}

// open connects to the configured SQL store. Nonces stay in SQL: the CLI
// never verifies launches.
func (o *rootOptions) open(ctx context.Context) (*app.Backend, error) {
	cfg := o.cfg
	if cfg.StoreDriver == config.StoreMemory {
		return nil, fmt.Errorf("ltictl needs a persistent store, not %q", cfg.StoreDriver)
	}
	cfg.NonceBackend = config.NonceSQL
	return app.OpenBackend(ctx, cfg, logging.Get())
}
