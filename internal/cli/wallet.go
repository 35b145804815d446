package cli

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/offpay/internal/payment"
	"github.com/roach88/offpay/internal/signer"
)

type keygenResult struct {
	PublicKey string `json:"public_key"`
	KeyFile   string `json:"key_file"`
}

func (r keygenResult) String() string {
	return fmt.Sprintf("wrote %s\npublic key: %s", r.KeyFile, r.PublicKey)
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the device signing key",
		Long: `Generate an Ed25519 key pair for this device and write it to the
configured key file (wallet.key_file). An existing key file is never
overwritten.

Example:
  offpay keygen
  offpay keygen --out ./alice.key`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			path := out
			if path == "" {
				path = cfg.Wallet.KeyFile
			}
			kp, err := signer.GenerateKeypair()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to generate key", err)
			}
			if err := signer.SaveKeyFile(path, kp); err != nil {
				return WrapExitError(ExitCommandError, "failed to save key", err)
			}
			return formatter(rootOpts, cmd).Success(keygenResult{PublicKey: kp.PublicHex(), KeyFile: path})
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "key file path (default wallet.key_file)")
	return cmd
}

type loadResult struct {
	Load    payment.WalletLoad `json:"load"`
	Balance int64              `json:"balance"`
}

func (r loadResult) String() string {
	return fmt.Sprintf("loaded %d (balance %d)", r.Load.Amount, r.Balance)
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load <amount>",
		Short: "Top up the offline wallet",
		Long: `Top up the offline wallet by amount (minor units). The resulting
balance may not exceed the wallet ceiling (WALLET_MAX_BALANCE).

Example:
  offpay load 1000`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			w, err := openWallet(ctx, rootOpts, cmd, false)
			if err != nil {
				return err
			}
			defer w.Close()

			load, err := w.exec.Load(ctx, amount)
			if err != nil {
				return paymentExit("load refused", err)
			}
			return formatter(rootOpts, cmd).Success(loadResult{Load: load, Balance: w.exec.Session().Balance})
		},
	}
}

type balanceResult struct {
	Balance    int64     `json:"balance"`
	SpentToday int64     `json:"spent_today"`
	Queued     int       `json:"queued"`
	PerTxLimit int64     `json:"per_tx_limit"`
	DailyLimit int64     `json:"daily_limit"`
	WalletMax  int64     `json:"wallet_max"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (r balanceResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "balance:     %d\n", r.Balance)
	fmt.Fprintf(&b, "spent today: %d of %d\n", r.SpentToday, r.DailyLimit)
	fmt.Fprintf(&b, "per payment: %d\n", r.PerTxLimit)
	fmt.Fprintf(&b, "wallet max:  %d\n", r.WalletMax)
	fmt.Fprintf(&b, "awaiting sync: %d", r.Queued)
	return b.String()
}

// NewBalanceCommand creates the balance command.
func NewBalanceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "balance",
		Short:         "Show the spendable balance and limits",
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

			if err := w.exec.RefreshSession(ctx); err != nil {
				return WrapExitError(ExitCommandError, "failed to read balance", err)
			}
			queued, err := w.store.Queued(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read sync queue", err)
			}
			s := w.exec.Session()
			limits := w.exec.Limits()
			return formatter(rootOpts, cmd).Success(balanceResult{
				Balance:    s.Balance,
				SpentToday: s.SpentToday,
				Queued:     len(queued),
				PerTxLimit: limits.PerTx,
				DailyLimit: limits.Daily,
				WalletMax:  limits.WalletMax,
				UpdatedAt:  s.UpdatedAt,
			})
		},
	}
}

type history []payment.Transaction

func (h history) String() string {
	if len(h) == 0 {
		return "no transactions"
	}
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDIRECTION\tAMOUNT\tCOUNTERPARTY\tSTATE\tREASON")
	for _, tx := range h {
		counterparty := tx.RecipientAddress
		if tx.Direction == payment.Incoming {
			counterparty = tx.SenderAddress
		}
		fmt.Fprintf(tw, "%s\t%s\t%d %s\t%s\t%s\t%s\n",
			tx.ID, tx.Direction, tx.Amount, tx.Currency, counterparty, tx.SettlementState, tx.Reason)
	}
	tw.Flush()
	return strings.TrimRight(b.String(), "\n")
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:           "history",
		Short:         "List recent transactions, newest first",
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

			txs, err := w.store.ListTransactions(ctx, limit)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list transactions", err)
			}
			return formatter(rootOpts, cmd).Success(history(txs))
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of transactions to show")
	return cmd
}

func parseAmount(s string) (int64, error) {
	amount, err := strconv.ParseInt(s, 10, 64)
	if err != nil || amount <= 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid amount %q: must be a positive integer", s))
	}
	return amount, nil
}
