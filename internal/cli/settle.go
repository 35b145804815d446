package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/offpay/internal/journal"
	"github.com/roach88/offpay/internal/payment"
	"github.com/roach88/offpay/internal/syncer"
)

type syncResult struct {
	syncer.Result
}

func (r syncResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "settled %d, rejected %d, expired %d, retry later %d",
		r.Settled, r.Rejected, r.Expired, r.Failed)
	for _, rej := range r.Rejections {
		fmt.Fprintf(&b, "\n  %s rejected: %s", rej.TxID, rej.Reason)
	}
	return b.String()
}

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Watch bool
	Probe time.Duration
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Settle queued payments with the ledger",
		Long: `Deliver queued payments to the ledger in acceptance order. Payments
past the sync deadline expire without being sent; rejected payments are
reported and never retried; unreachable ledgers leave the queue intact.

With --watch the command keeps running: it probes the ledger, syncs when
connectivity returns, after every local commit and on the sync interval.

Example:
  offpay sync
  offpay sync --watch --probe 10s`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "keep syncing until interrupted")
	cmd.Flags().DurationVar(&opts.Probe, "probe", 15*time.Second, "connectivity probe interval in watch mode")
	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	w, err := openWallet(ctx, opts.RootOptions, cmd, false)
	if err != nil {
		return err
	}
	defer w.Close()

	if !opts.Watch {
		res, err := w.sync.SyncQueued(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "sync failed", err)
		}
		return formatter(opts.RootOptions, cmd).Success(syncResult{res})
	}

	w.logger.Info("watching sync queue", "ledger", w.cfg.Sync.LedgerURL, "interval", w.cfg.Sync.Interval)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.sync.Monitor(gctx, w.ledger.Health, opts.Probe) })
	g.Go(func() error { return w.sync.Run(gctx) })
	w.sync.Trigger()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitCommandError, "sync watch stopped", err)
	}
	w.logger.Info("sync watch stopped")
	return nil
}

type reverseResult struct {
	Transaction payment.Transaction `json:"transaction"`
	Balance     int64               `json:"balance"`
}

func (r reverseResult) String() string {
	return fmt.Sprintf("reversed %s (%d %s returned, balance %d)",
		r.Transaction.ID, r.Transaction.Amount, r.Transaction.Currency, r.Balance)
}

// NewReverseCommand creates the reverse command.
func NewReverseCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reverse <tx-id>",
		Short: "Reverse a rejected payment, restoring its amount",
		Long: `Move a payment the ledger rejected to reversed. The amount counts
towards the balance again. Only rejected payments can be reversed.

Example:
  offpay reverse 0192f1c2-...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w, err := openWallet(ctx, rootOpts, cmd, false)
			if err != nil {
				return err
			}
			defer w.Close()

			tx, err := w.sync.Reverse(ctx, args[0])
			if err != nil {
				return paymentExit("reversal refused", err)
			}
			return formatter(rootOpts, cmd).Success(reverseResult{Transaction: tx, Balance: w.exec.Session().Balance})
		},
	}
}

type pruneResult struct {
	Pruned int64 `json:"pruned"`
}

func (r pruneResult) String() string {
	return fmt.Sprintf("pruned %d settled transactions", r.Pruned)
}

// NewPruneCommand creates the prune command.
func NewPruneCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "prune",
		Short:         "Delete settled transactions past the retention window",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w, err := openWallet(ctx, rootOpts, cmd, false)
			if err != nil {
				return err
			}
			defer w.Close()

			n, err := w.sync.Prune(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "prune failed", err)
			}
			return formatter(rootOpts, cmd).Success(pruneResult{Pruned: n})
		},
	}
}

type recoverResult struct {
	journal.Report
}

func (r recoverResult) String() string {
	if r.Total() == 0 {
		return "journal clean"
	}
	return fmt.Sprintf("completed %d, replayed %d, rolled back %d",
		len(r.Completed), len(r.Replayed), len(r.RolledBack))
}

// NewRecoverCommand creates the recover command.
func NewRecoverCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Resolve commits interrupted by a crash",
		Long: `Scan the write-ahead journal for commits left started and either
finish them or roll them back. Every wallet command does this on startup;
this command runs it alone and reports what it did.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w, err := openWallet(ctx, rootOpts, cmd, true)
			if err != nil {
				return err
			}
			defer w.Close()

			report, err := w.exec.Recover(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "recovery failed", err)
			}
			return formatter(rootOpts, cmd).Success(recoverResult{report})
		},
	}
}
