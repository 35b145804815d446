package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/offpay/internal/clock"
	"github.com/roach88/offpay/internal/config"
	"github.com/roach88/offpay/internal/executor"
	"github.com/roach88/offpay/internal/handshake"
	"github.com/roach88/offpay/internal/journal"
	"github.com/roach88/offpay/internal/lock"
	"github.com/roach88/offpay/internal/nonce"
	"github.com/roach88/offpay/internal/signer"
	"github.com/roach88/offpay/internal/store"
	"github.com/roach88/offpay/internal/syncer"
)

// loadConfig resolves the configuration for a command.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(config.Options{ConfigFile: opts.ConfigFile, EnvFile: opts.EnvFile})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	return cfg, nil
}

// newLogger writes text logs to w at the configured level; --verbose
// forces debug.
func newLogger(opts *RootOptions, cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Logger.Level)); err != nil {
		level = slog.LevelInfo
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func formatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// wallet is the device-side stack shared by the wallet commands.
type wallet struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store
	exec   *executor.Executor
	sync   *syncer.Engine
	ledger *syncer.HTTPLedger
}

// openWallet opens the local store and wires the executor and sync engine
// around one exclusivity lock. Unless skipRecovery is set, interrupted
// commits are resolved before the wallet is returned.
func openWallet(ctx context.Context, opts *RootOptions, cmd *cobra.Command, skipRecovery bool) (*wallet, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := newLogger(opts, cfg, cmd.ErrOrStderr())

	st, err := store.Open(cfg.Wallet.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open wallet store", err)
	}

	sys := clock.System{}
	j := journal.New(st, cfg.Wallet.JournalCapacity, sys, logger)
	lk := lock.New()
	exec, err := executor.New(st, j, nonce.New(st, cfg.Wallet.NonceCapacity, sys), lk,
		executor.WithLimits(cfg.Limits()),
		executor.WithLogger(logger),
	)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create executor", err)
	}

	ledger := syncer.NewHTTPLedger(cfg.Sync.LedgerURL, &http.Client{Timeout: cfg.Sync.Timeout})
	engine := syncer.New(st, j, lk, ledger,
		syncer.WithLogger(logger),
		syncer.WithDeadline(cfg.SyncDeadline()),
		syncer.WithRetention(cfg.Retention()),
		syncer.WithInterval(cfg.Sync.Interval),
		syncer.WithBatchSize(cfg.Sync.BatchSize),
		syncer.WithProjector(exec),
		syncer.WithDeviceID(cfg.Wallet.DeviceID),
	)
	exec.SetTrigger(engine.Trigger)

	w := &wallet{cfg: cfg, logger: logger, store: st, exec: exec, sync: engine, ledger: ledger}
	if skipRecovery {
		return w, nil
	}
	if _, err := exec.Recover(ctx); err != nil {
		w.Close()
		return nil, WrapExitError(ExitCommandError, "failed to recover journal", err)
	}
	return w, nil
}

// party loads the device identity used to sign handshake messages.
func (w *wallet) party() (handshake.Party, error) {
	return loadParty(w.cfg)
}

func loadParty(cfg *config.Config) (handshake.Party, error) {
	if cfg.Wallet.Address == "" {
		return handshake.Party{}, WrapExitError(ExitCommandError, "failed to load device identity", errMissingAddress)
	}
	keys, err := signer.LoadKeyFile(cfg.Wallet.KeyFile)
	if err != nil {
		return handshake.Party{}, WrapExitError(ExitCommandError, "failed to load device key (run 'offpay keygen')", err)
	}
	return handshake.Party{Address: cfg.Wallet.Address, Name: cfg.Wallet.Name, Keys: keys}, nil
}

func (w *wallet) Close() {
	if err := w.store.Close(); err != nil {
		w.logger.Error("error closing wallet store", "error", err)
	}
}

// signalContext is cancelled on SIGINT/SIGTERM or when the command's
// context is done.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// readMessage resolves an encoded handshake message argument: "-" reads
// stdin, "@path" reads a file, anything else is the message itself.
func readMessage(cmd *cobra.Command, arg string) (string, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case arg == "-":
		data, err = io.ReadAll(cmd.InOrStdin())
	case strings.HasPrefix(arg, "@"):
		data, err = os.ReadFile(strings.TrimPrefix(arg, "@"))
	default:
		data = []byte(arg)
	}
	if err != nil {
		return "", WrapExitError(ExitCommandError, "failed to read message", err)
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		return "", NewExitError(ExitCommandError, "empty message")
	}
	return msg, nil
}

// writeMessage saves an encoded handshake message to path, if one is given.
func writeMessage(path, msg string) error {
	if path == "" {
		return nil
	}
	if err := os.WriteFile(path, []byte(msg+"\n"), 0o600); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to write %s", path), err)
	}
	return nil
}

var errMissingAddress = errors.New("wallet.address is not configured")
