// Command uowdemo runs the wallet units of work against SQLite or Postgres.
//
//	uowdemo open w1 alice
//	uowdemo deposit w1 100 --key dep-1
//	uowdemo payout p1 w1 40
//	uowdemo events
//
// Configuration is read from the environment, see internal/config.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/codewandler/uow-go/core/domain"
	"github.com/codewandler/uow-go/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type cli struct {
	cfg           config.Config
	principalID   string
	principalName string
}

func (c *cli) principal() (domain.Actor, error) {
	return domain.NewPrincipal(c.principalID, c.principalName)
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:          "uowdemo",
		Short:        "Run wallet units of work against a transactional store",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			c.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.principalID, "principal", "cli", "principal id recorded on every uow event")
	root.PersistentFlags().StringVar(&c.principalName, "principal-name", "uowdemo", "principal name recorded on every uow event")

	root.AddCommand(
		c.migrateCmd(),
		c.openCmd(),
		c.depositCmd(),
		c.withdrawCmd(),
		c.transferCmd(),
		c.payoutCmd(),
		c.walletCmd(),
		c.eventsCmd(),
	)
	return root
}
