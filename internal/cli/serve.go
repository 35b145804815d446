package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/twmb/franz-go/plugin/kprom"

	"github.com/roach88/offpay/internal/config"
	"github.com/roach88/offpay/internal/ledger"
	"github.com/roach88/offpay/internal/reconcile"
	"github.com/roach88/offpay/internal/server"
)

// ledgerStack is the server-side wiring: a repository plus the optional
// Redis and Kafka integrations, with their cleanup.
type ledgerStack struct {
	repo     ledger.Repository
	opts     []ledger.Option
	health   []func(context.Context) error
	handlers map[string]*kprom.Metrics
	closers  []func()
}

func (s *ledgerStack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func (s *ledgerStack) Health(ctx context.Context) error {
	for _, check := range s.health {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// openLedger connects the configured backends. With no Postgres DSN the
// repository lives in memory.
func openLedger(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*ledgerStack, error) {
	s := &ledgerStack{handlers: make(map[string]*kprom.Metrics)}
	s.opts = []ledger.Option{
		ledger.WithLimits(cfg.Limits()),
		ledger.WithDeadline(cfg.SyncDeadline()),
		ledger.WithLogger(logger),
	}

	if dsn := cfg.Server.PostgresDSN; dsn != "" {
		pg, err := ledger.OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to connect to postgres", err)
		}
		s.repo = pg
		s.health = append(s.health, pg.Ping)
		s.closers = append(s.closers, pg.Close)
		logger.Info("ledger repository ready", "backend", "postgres")
	} else {
		s.repo = ledger.NewMemoryRepository()
		logger.Warn("no postgres DSN configured, ledger records are kept in memory")
	}

	if rc := cfg.Server.Redis; rc.Addr != "" {
		client, err := ledger.ConnectRedis(ctx, rc.Addr, rc.Password, rc.DB)
		if err != nil {
			s.Close()
			return nil, WrapExitError(ExitCommandError, "failed to connect to redis", err)
		}
		s.opts = append(s.opts, ledger.WithRejectionSink(ledger.NewRedisSink(client, rc.RejectionKey, rc.MaxRejections)))
		s.health = append(s.health, func(ctx context.Context) error { return client.Ping(ctx).Err() })
		s.closers = append(s.closers, func() {
			if err := client.Close(); err != nil {
				logger.Error("error closing redis client", "error", err)
			}
		})
		logger.Info("rejection sink ready", "backend", "redis", "key", rc.RejectionKey)
	}

	if kc := cfg.Server.Kafka; len(kc.Brokers) > 0 {
		metrics := kprom.NewMetrics("offpay_kafka")
		gw, err := ledger.NewKafkaGateway(ledger.KafkaConfig{
			Brokers:  kc.Brokers,
			Topic:    kc.Topic,
			ClientID: kc.ClientID,
		}, metrics)
		if err != nil {
			s.Close()
			return nil, WrapExitError(ExitCommandError, "failed to create kafka gateway", err)
		}
		s.opts = append(s.opts, ledger.WithGateway(gw))
		s.handlers["/metrics/kafka"] = metrics
		s.closers = append(s.closers, gw.Close)
		logger.Info("transfer gateway ready", "backend", "kafka",
			"brokers", strings.Join(kc.Brokers, ","), "topic", kc.Topic)
	}
	return s, nil
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ledger API",
		Long: `Run the ledger HTTP API that settles synced offline payments.

PostgreSQL (server.postgres_dsn) stores ledger records, Redis
(server.redis.addr) keeps a dead-letter list of rejections and Kafka
(server.kafka.brokers) carries settled transfers. Each is optional.

Example:
  offpay serve --addr :8080
  OFFPAY_SERVER__POSTGRES_DSN=postgres://... offpay serve`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts, cmd, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	return cmd
}

func runServe(opts *RootOptions, cmd *cobra.Command, addr string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger := newLogger(opts, cfg, cmd.ErrOrStderr())
	if addr == "" {
		addr = cfg.Server.Addr
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	stack, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	svc, err := ledger.New(stack.repo, stack.opts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create ledger service", err)
	}
	recon := reconcile.New(stack.repo, reconcile.WithLateSync(cfg.LateSync()))

	srvOpts := []server.Option{
		server.WithLogger(logger),
		server.WithRegistry(prometheus.NewRegistry()),
		server.WithHealthCheck(stack.Health),
	}
	for path, m := range stack.handlers {
		srvOpts = append(srvOpts, server.WithHandler(path, m.Handler()))
	}
	srv := server.New(svc, recon, srvOpts...)

	if err := srv.Serve(ctx, addr); err != nil {
		return WrapExitError(ExitCommandError, "ledger API stopped", err)
	}
	logger.Info("ledger API stopped")
	return nil
}

type reportView struct {
	reconcile.Report
}

func (r reportView) String() string {
	s := r.Summary
	var b strings.Builder
	fmt.Fprintf(&b, "transactions: %d (amount %d, settled %d)\n", s.TotalTransactions, s.TotalAmount, s.SettledAmount)
	fmt.Fprintf(&b, "offline: %d  online: %d\n", s.OfflineAmount, s.OnlineAmount)
	fmt.Fprintf(&b, "matched %d, unmatched %d, disputed %d\n", s.Matched, s.Unmatched, s.Disputed)
	fmt.Fprintf(&b, "reconciliation rate: %.2f%%", s.ReconciliationRate)
	for _, item := range r.Items {
		if item.Classification == reconcile.Matched {
			continue
		}
		fmt.Fprintf(&b, "\n  %s %s: %s", item.TxID, item.Classification, item.Reason)
	}
	return b.String()
}

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	*RootOptions
	Since   string
	Until   string
	Address string
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Audit ledger records for a time window",
		Long: `Classify ledger records as matched, unmatched or disputed and
summarize the window. Reads the PostgreSQL ledger (server.postgres_dsn).

Example:
  offpay reconcile --since 2026-03-01T00:00:00Z --until 2026-03-02T00:00:00Z`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Since, "since", "", "window start, RFC 3339 (inclusive)")
	cmd.Flags().StringVar(&opts.Until, "until", "", "window end, RFC 3339 (exclusive)")
	cmd.Flags().StringVar(&opts.Address, "address", "", "only records where this address pays or is paid")
	return cmd
}

func runReconcile(opts *ReconcileOptions, cmd *cobra.Command) error {
	q := reconcile.Query{Address: opts.Address}
	var err error
	if q.Since, err = parseTime("since", opts.Since); err != nil {
		return err
	}
	if q.Until, err = parseTime("until", opts.Until); err != nil {
		return err
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if cfg.Server.PostgresDSN == "" {
		return NewExitError(ExitCommandError, "reconcile needs server.postgres_dsn")
	}
	ctx := cmd.Context()
	repo, err := ledger.OpenPostgres(ctx, cfg.Server.PostgresDSN)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect to postgres", err)
	}
	defer repo.Close()

	return reconcileWith(ctx, opts, cmd, cfg, repo, q)
}

func reconcileWith(ctx context.Context, opts *ReconcileOptions, cmd *cobra.Command, cfg *config.Config, src reconcile.Source, q reconcile.Query) error {
	report, err := reconcile.New(src, reconcile.WithLateSync(cfg.LateSync())).Run(ctx, q)
	if err != nil {
		return paymentExit("reconciliation failed", err)
	}
	return formatter(opts.RootOptions, cmd).Success(reportView{report})
}

func parseTime(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, WrapExitError(ExitCommandError, fmt.Sprintf("invalid --%s", name), err)
	}
	return t, nil
}
