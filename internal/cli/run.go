package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/LeJamon/goOracled/internal/config"
	"github.com/LeJamon/goOracled/internal/journal"
	"github.com/LeJamon/goOracled/internal/ledger"
	"github.com/LeJamon/goOracled/internal/metrics"
	"github.com/LeJamon/goOracled/internal/oracle"
	"github.com/LeJamon/goOracled/internal/server"
)

// runCmd represents the run command (default action)
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Register the oracles and answer flight status requests",
	Long: `Connect to the ledger node, register every candidate account as an
oracle, then answer oracle requests until interrupted. The introspection
endpoint serves:
- GET /api      greeting
- GET /health   liveness
- GET /oracles  registered oracles, their indexes and status
- GET /metrics  prometheus metrics

This is the default command when no subcommand is specified.`,
	RunE: runOracle,
}

func init() {
	rootCmd.AddCommand(runCmd)

	// Run is the default command
	rootCmd.RunE = runOracle
}

func runOracle(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runNode(ctx, cfg, logger)
}

// runNode bootstraps the oracles and serves until ctx ends. Only bootstrap
// failures are returned.
func runNode(ctx context.Context, cfg *config.Config, logger hclog.Logger) error {
	fee, err := cfg.Oracle.Fee()
	if err != nil {
		return err
	}

	client, err := ledger.DialRedialer(ctx, cfg.Ledger.URL, ledgerOptions(cfg, logger))
	if err != nil {
		return fmt.Errorf("ledger unreachable: %w", err)
	}
	defer client.Close()

	m := metrics.New()
	j := newJournal(cfg.Journal, logger)
	defer j.Close()

	svc := oracle.New(client, oracle.Config{
		Accounts:      cfg.Oracle.Accounts,
		AccountOffset: cfg.Oracle.AccountOffset,
		AccountLimit:  cfg.Oracle.AccountLimit,
		Registrar: oracle.RegistrarConfig{
			Fee:      fee,
			GasLimit: cfg.Oracle.GasLimit,
			Workers:  cfg.Oracle.RegistrationWorkers,
			Timeout:  cfg.Ledger.RequestTimeout,
		},
		Dispatcher: oracle.DispatcherConfig{
			GasLimit:            cfg.Oracle.GasLimit,
			SubmitTimeout:       cfg.Oracle.SubmitTimeout,
			MaxFanout:           cfg.Oracle.MaxFanout,
			ResubscribeDelay:    cfg.Oracle.ResubscribeDelay,
			MaxResubscribeDelay: cfg.Oracle.MaxResubscribeDelay,
			RedeliveryWindow:    cfg.Oracle.RedeliveryWindow,
		},
		StatusSeed: cfg.Oracle.StatusSeed,
	},
		oracle.WithLogger(logger.Named("oracle")),
		oracle.WithMetrics(m),
		oracle.WithJournal(j),
	)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Server.Port != 0 {
		srv := server.New(svc, m, logger.Named("http"))
		g.Go(func() error {
			return srv.ListenAndServe(gctx, cfg.Server.Addr(), cfg.Server.ReadHeaderTimeout)
		})
	}
	g.Go(func() error {
		if _, err := svc.Bootstrap(gctx); err != nil {
			return fmt.Errorf("bootstrap failed: %w", err)
		}
		return svc.Run(gctx)
	})

	err = g.Wait()
	logger.Info("oracle node stopped")
	return err
}

func newJournal(cfg config.JournalConfig, logger hclog.Logger) journal.Journal {
	if !cfg.Enabled {
		return journal.Nop{}
	}
	logger.Info("journaling submissions", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return journal.NewKafka(journal.KafkaConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		BatchTimeout: cfg.BatchTimeout,
	}, logger.Named("journal"))
}

func ledgerOptions(cfg *config.Config, logger hclog.Logger) ledger.Options {
	return ledger.Options{
		DialTimeout:    cfg.Ledger.DialTimeout,
		RequestTimeout: cfg.Ledger.RequestTimeout,
		WriteQueue:     cfg.Ledger.WriteQueue,
		PingInterval:   cfg.Ledger.PingInterval,
		Logger:         logger.Named("ledger"),
	}
}
