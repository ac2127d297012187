package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/codewandler/uow-go/core/domain"
	"github.com/codewandler/uow-go/core/events"
	"github.com/codewandler/uow-go/core/paging"
	"github.com/codewandler/uow-go/examples/wallet"
)

type action func(ctx context.Context, rt *runtime, principal domain.Principal) (any, error)

// run assembles the runtime, runs fn and prints its result as JSON.
func (c *cli) run(cmd *cobra.Command, fn action) error {
	principal, err := c.principal()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	rt, err := openRuntime(ctx, c.cfg, c.cfg.Logger(cmd.ErrOrStderr()), principal.PrincipalID())
	if err != nil {
		return err
	}
	defer rt.close()

	out, err := fn(ctx, rt, principal)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func parseAmount(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return n, nil
}

type walletView struct {
	ID      string `json:"id"`
	Owner   string `json:"owner"`
	Balance int64  `json:"balance"`
	Version uint64 `json:"version"`
}

func viewWallet(w wallet.Wallet) walletView {
	return walletView{ID: w.ID().Value(), Owner: w.Owner, Balance: w.Balance, Version: w.Version().Uint64()}
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the event and wallet schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd, func(context.Context, *runtime, domain.Principal) (any, error) {
				return map[string]string{"status": "migrated"}, nil
			})
		},
	}
}

func (c *cli) openCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open <wallet> <owner>",
		Short: "Open an empty wallet",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, rt *runtime, p domain.Principal) (any, error) {
				w, err := rt.wallets.Open(ctx, p, wallet.OpenParams{ID: args[0], Owner: args[1]})
				return viewWallet(w), err
			})
		},
	}
}

func (c *cli) amountCmd(use, short string, do func(*wallet.Service) func(context.Context, domain.Principal, wallet.AmountParams) (wallet.Wallet, error)) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   use + " <wallet> <amount>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, rt *runtime, p domain.Principal) (any, error) {
				w, err := do(rt.wallets)(ctx, p, wallet.AmountParams{
					Wallet: args[0],
					Amount: amount,
					Key:    events.IdempotencyKey(key),
				})
				return viewWallet(w), err
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "idempotency key; repeating a request with the same key has no effect")
	return cmd
}

func (c *cli) depositCmd() *cobra.Command {
	return c.amountCmd("deposit", "Deposit into a wallet", func(s *wallet.Service) func(context.Context, domain.Principal, wallet.AmountParams) (wallet.Wallet, error) {
		return s.Deposit
	})
}

func (c *cli) withdrawCmd() *cobra.Command {
	return c.amountCmd("withdraw", "Withdraw from a wallet", func(s *wallet.Service) func(context.Context, domain.Principal, wallet.AmountParams) (wallet.Wallet, error) {
		return s.Withdraw
	})
}

func (c *cli) transferCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "transfer <from> <to> <amount>",
		Short: "Move an amount between two wallets in one unit of work",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[2])
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, rt *runtime, p domain.Principal) (any, error) {
				out, err := rt.wallets.Transfer(ctx, p, wallet.TransferParams{
					From:   args[0],
					To:     args[1],
					Amount: amount,
					Key:    events.IdempotencyKey(key),
				})
				if err != nil {
					return nil, err
				}
				return map[string]walletView{"from": viewWallet(out.From), "to": viewWallet(out.To)}, nil
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "idempotency key of the transfer")
	return cmd
}

func (c *cli) payoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "payout <payout> <wallet> <amount>",
		Short: "Run or resume a payout saga",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[2])
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, rt *runtime, p domain.Principal) (any, error) {
				out, err := rt.wallets.Payout(ctx, p, wallet.PayoutParams{Payout: args[0], Wallet: args[1], Amount: amount})
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"id":      out.ID().Value(),
					"wallet":  out.Wallet,
					"amount":  out.Amount,
					"status":  out.Status,
					"reason":  out.Reason,
					"version": out.Version().Uint64(),
				}, nil
			})
		},
	}
}

func (c *cli) walletCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wallet <wallet>",
		Short: "Show a wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, rt *runtime, _ domain.Principal) (any, error) {
				w, err := rt.wallets.Wallet(ctx, args[0])
				return viewWallet(w), err
			})
		},
	}
}

func (c *cli) eventsCmd() *cobra.Command {
	var (
		limit  int
		cursor string
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List the stored uow events",
		Long:  "List the stored uow events oldest first, or newest first one page at a time with --limit and --cursor.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd, func(ctx context.Context, rt *runtime, _ domain.Principal) (any, error) {
				if limit == 0 && cursor == "" {
					return rt.events.List(ctx)
				}
				return pageEvents(ctx, rt.events, limit, cursor)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "page size; pages start with the newest event")
	cmd.Flags().StringVar(&cursor, "cursor", "", "continue a paged listing from the cursor a previous page returned")
	return cmd
}

type eventPage struct {
	Events []*events.UowEvent `json:"events"`
	Next   string             `json:"next,omitempty"`
}

func pageEvents(ctx context.Context, lister eventLister, limit int, cursor string) (eventPage, error) {
	var (
		page paging.Page[time.Time]
		err  error
	)
	if cursor == "" {
		page, err = paging.First[time.Time](limit)
	} else if page, err = paging.ParseCursor[time.Time](cursor); err == nil {
		page = page.WithMinSize(limit)
	}
	if err != nil {
		return eventPage{}, err
	}
	l, err := lister.Page(ctx, page)
	if err != nil {
		return eventPage{}, err
	}
	out := eventPage{Events: l.Items}
	if next, ok := l.NextPage(); ok {
		out.Next, err = next.Cursor()
	}
	return out, err
}
