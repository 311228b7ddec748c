package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/LeJamon/goOracled/internal/config"
	"github.com/LeJamon/goOracled/internal/devnet"
	"github.com/LeJamon/goOracled/internal/ledger/memledger"
)

var showKeys bool

var devnetCmd = &cobra.Command{
	Use:   "devnet",
	Short: "Run a simulated ledger node for local development",
	Long: `Serve an in-memory flight insurance contract over the ledger WebSocket
protocol on /ws. Accounts are derived deterministically from the configured
seed; account 0 is the contract owner.`,
	RunE: runDevnet,
}

func init() {
	rootCmd.AddCommand(devnetCmd)
	devnetCmd.Flags().BoolVar(&showKeys, "show-keys", false, "print the private key of every dev account")
}

func runDevnet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.Devnet.Addr())
	if err != nil {
		return err
	}
	return serveDevnet(ctx, cfg.Devnet, ln, logger)
}

func serveDevnet(ctx context.Context, cfg config.DevnetConfig, ln net.Listener, logger hclog.Logger) error {
	fee, err := cfg.Fee()
	if err != nil {
		return err
	}
	accounts, err := devnet.DeriveAccounts(cfg.Seed, cfg.Accounts)
	if err != nil {
		return err
	}
	for i, a := range accounts {
		if showKeys {
			logger.Info("dev account", "n", i, "address", a.Address, "key", a.PrivateKeyHex())
		} else {
			logger.Debug("dev account", "n", i, "address", a.Address)
		}
	}

	l := memledger.New(memledger.Config{
		Accounts:        devnet.Addresses(accounts),
		RegistrationFee: fee,
		MinResponses:    cfg.MinResponses,
	})
	srv := devnet.NewServer(l, logger.Named("devnet"))
	defer srv.Close()

	httpSrv := &http.Server{Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- httpSrv.Serve(ln) }()

	logger.Info("devnet listening",
		"ws", fmt.Sprintf("ws://%s/ws", ln.Addr()),
		"accounts", len(accounts),
		"owner", accounts[0].Address,
		"min_responses", cfg.MinResponses)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Close()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
