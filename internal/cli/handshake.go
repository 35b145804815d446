package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/offpay/internal/clock"
	"github.com/roach88/offpay/internal/handshake"
	"github.com/roach88/offpay/internal/payment"
)

// recordAcceptTimeout bounds the best-effort offline-accept call.
const recordAcceptTimeout = 5 * time.Second

// messageResult carries an encoded handshake message. Text output is the
// bare message so it can be piped into the other device.
type messageResult struct {
	Message    string    `json:"message"`
	ClientTxID string    `json:"client_tx_id"`
	TxID       string    `json:"tx_id,omitempty"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
}

func (r messageResult) String() string {
	return r.Message
}

// RequestOptions holds flags for the request command.
type RequestOptions struct {
	*RootOptions
	Amount   int64
	Currency string
	Intent   string
	Label    string
	TTL      time.Duration
	Out      string
}

// NewRequestCommand creates the request command.
func NewRequestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RequestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Create a signed payment request (payee)",
		Long: `Create a payment request signed with this device's key. The encoded
request is shown to the payer, who approves it with 'offpay approve'.

Example:
  offpay request --amount 250 --intent MERCHANT --label "tea" --out req.txt`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return createRequest(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.Amount, "amount", 0, "amount in minor units (required)")
	cmd.Flags().StringVar(&opts.Currency, "currency", "BDT", "currency code")
	cmd.Flags().StringVar(&opts.Intent, "intent", string(payment.IntentP2P), "intent code (P2P|MERCHANT|BILL|TRANSFER|OTHER)")
	cmd.Flags().StringVar(&opts.Label, "label", "", "intent label shown to the payer")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", handshake.DefaultTTL, "how long the request stays payable")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "also write the encoded request to this file")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func createRequest(opts *RequestOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	payee, err := loadParty(cfg)
	if err != nil {
		return err
	}

	req, err := handshake.NewRequest(handshake.RequestParams{
		Amount:   opts.Amount,
		Currency: opts.Currency,
		Intent:   payment.Intent{Code: payment.IntentCode(opts.Intent), Label: opts.Label},
		TTL:      opts.TTL,
	}, payee, time.Now())
	if err != nil {
		return paymentExit("request refused", err)
	}
	msg, err := handshake.Encode(req)
	if err != nil {
		return paymentExit("request refused", err)
	}
	if err := writeMessage(opts.Out, msg); err != nil {
		return err
	}

	return formatter(opts.RootOptions, cmd).Success(messageResult{
		Message:    msg,
		ClientTxID: handshake.ClientTxID(req),
		Amount:     req.Amount,
		Currency:   req.Currency,
		ExpiresAt:  clock.FromMillis(req.ExpiresAt),
	})
}

// NewApproveCommand creates the approve command.
func NewApproveCommand(rootOpts *RootOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "approve <request|@file|->",
		Short: "Approve a payment request and commit it (payer)",
		Long: `Verify a payee's request, sign the receipt and commit the outgoing
payment to the local ledger. The receipt is only shown once the payment is
durably recorded; a refused payment produces no receipt.

Example:
  offpay approve @req.txt --out receipt.txt`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := readMessage(cmd, args[0])
			if err != nil {
				return err
			}
			return approveRequest(rootOpts, cmd, msg, out)
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "also write the encoded receipt to this file")
	return cmd
}

func approveRequest(opts *RootOptions, cmd *cobra.Command, msg, out string) error {
	req, err := handshake.DecodeRequest(msg)
	if err != nil {
		return paymentExit("request refused", err)
	}

	ctx := cmd.Context()
	w, err := openWallet(ctx, opts, cmd, false)
	if err != nil {
		return err
	}
	defer w.Close()

	payer, err := w.party()
	if err != nil {
		return err
	}
	rcpt, err := handshake.Approve(req, payer, time.Now())
	if err != nil {
		return paymentExit("request refused", err)
	}
	draft, err := handshake.DraftFor(rcpt, payment.Outgoing)
	if err != nil {
		return paymentExit("payment refused", err)
	}
	txID, err := w.exec.Commit(ctx, draft, nil)
	if err != nil {
		return paymentExit("payment refused", err)
	}

	encoded, err := handshake.Encode(rcpt)
	if err != nil {
		return paymentExit("payment refused", err)
	}
	if err := writeMessage(out, encoded); err != nil {
		return err
	}
	return formatter(opts, cmd).Success(messageResult{
		Message:    encoded,
		ClientTxID: draft.ClientTxID,
		TxID:       txID,
		Amount:     rcpt.Amount,
		Currency:   rcpt.Currency,
	})
}

// AcceptOptions holds flags for the accept command.
type AcceptOptions struct {
	*RootOptions
	Request string
	Notify  bool
}

type acceptResult struct {
	TxID       string `json:"tx_id"`
	ClientTxID string `json:"client_tx_id"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Payer      string `json:"payer"`
	Recorded   bool   `json:"recorded"`
}

func (r acceptResult) String() string {
	s := fmt.Sprintf("received %d %s from %s (tx %s)", r.Amount, r.Currency, r.Payer, r.TxID)
	if r.Recorded {
		s += "\nledger notified"
	}
	return s
}

// NewAcceptCommand creates the accept command.
func NewAcceptCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AcceptOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "accept <receipt|@file|->",
		Short: "Verify a payer's receipt and commit it (payee)",
		Long: `Verify the payer's receipt and commit the incoming payment to the
local ledger. With --request the receipt must answer exactly that request.
If the ledger is reachable the acceptance is also recorded there early;
failing that, the payment settles on the next sync.

Example:
  offpay accept @receipt.txt --request @req.txt`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := readMessage(cmd, args[0])
			if err != nil {
				return err
			}
			return acceptReceipt(opts, cmd, msg)
		},
	}

	cmd.Flags().StringVar(&opts.Request, "request", "", "the request this receipt must answer (message, @file or -)")
	cmd.Flags().BoolVar(&opts.Notify, "notify", true, "record the acceptance with the ledger when reachable")
	return cmd
}

func acceptReceipt(opts *AcceptOptions, cmd *cobra.Command, msg string) error {
	rcpt, err := handshake.DecodeReceipt(msg)
	if err != nil {
		return paymentExit("receipt refused", err)
	}
	var expected *handshake.Request
	if opts.Request != "" {
		raw, err := readMessage(cmd, opts.Request)
		if err != nil {
			return err
		}
		req, err := handshake.DecodeRequest(raw)
		if err != nil {
			return paymentExit("request refused", err)
		}
		expected = &req
	}
	if err := handshake.VerifyReceipt(rcpt, expected); err != nil {
		return paymentExit("receipt refused", err)
	}

	ctx := cmd.Context()
	w, err := openWallet(ctx, opts.RootOptions, cmd, false)
	if err != nil {
		return err
	}
	defer w.Close()

	if rcpt.PayeeAddress != w.cfg.Wallet.Address {
		return NewExitError(ExitFailure, fmt.Sprintf("receipt refused: payment is addressed to %s", rcpt.PayeeAddress))
	}
	draft, err := handshake.DraftFor(rcpt, payment.Incoming)
	if err != nil {
		return paymentExit("payment refused", err)
	}
	txID, err := w.exec.Commit(ctx, draft, nil)
	if err != nil {
		return paymentExit("payment refused", err)
	}

	res := acceptResult{
		TxID:       txID,
		ClientTxID: draft.ClientTxID,
		Amount:     draft.Amount,
		Currency:   draft.Currency,
		Payer:      draft.SenderAddress,
	}
	if opts.Notify {
		nctx, cancel := context.WithTimeout(ctx, recordAcceptTimeout)
		defer cancel()
		if _, err := w.sync.RecordAccept(nctx, txID); err != nil {
			w.logger.Warn("offline accept not recorded", "tx_id", txID, "error", err)
		} else {
			res.Recorded = true
		}
	}
	return formatter(opts.RootOptions, cmd).Success(res)
}
