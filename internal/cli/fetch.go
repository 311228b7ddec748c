package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/LeJamon/goOracled/internal/ledger"
	"github.com/LeJamon/goOracled/internal/oracle"
)

var (
	fetchFrom      string
	fetchTimestamp int64
	fetchWait      time.Duration
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <airline> <flight>",
	Short: "Ask the ledger for the status of a flight",
	Long: `Send a fetch_flight_status request to the ledger, which emits an oracle
request for the flight. With --wait, stay subscribed to the flight_status
stream and print the status once oracles reach agreement.`,
	Args: cobra.ExactArgs(2),
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().StringVar(&fetchFrom, "from", "", "requesting account (default: the ledger's first account)")
	fetchCmd.Flags().Int64Var(&fetchTimestamp, "timestamp", 0, "flight departure as unix seconds (default: now)")
	fetchCmd.Flags().DurationVar(&fetchWait, "wait", 0, "wait this long for the flight status to be decided")
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := cmd.Context()
	client, err := ledger.Dial(ctx, cfg.Ledger.URL, ledgerOptions(cfg, logger))
	if err != nil {
		return err
	}
	defer client.Close()

	from := fetchFrom
	if from == "" {
		accounts, err := client.Accounts(ctx)
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			return fmt.Errorf("ledger has no accounts, use --from")
		}
		from = accounts[0]
	}
	ts := fetchTimestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}
	flight := ledger.FlightKey{Airline: args[0], Code: strings.ToUpper(args[1]), Timestamp: ts}

	var statuses <-chan ledger.FlightStatusMessage
	if fetchWait > 0 {
		statuses, err = client.WatchFlightStatus(ctx)
		if err != nil {
			return err
		}
	}

	idx, err := client.FetchFlightStatus(ctx, from, flight)
	if err != nil {
		return err
	}
	logger.Info("oracle request emitted", "index", idx, "airline", flight.Airline, "flight", flight.Code, "timestamp", flight.Timestamp)
	fmt.Fprintf(cmd.OutOrStdout(), "requested %s (index %d)\n", flight, idx)

	if fetchWait <= 0 {
		return nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, fetchWait)
	defer cancel()
	for {
		select {
		case <-waitCtx.Done():
			return fmt.Errorf("no status decided for %s within %s", flight, fetchWait)
		case msg, ok := <-statuses:
			if !ok {
				return fmt.Errorf("ledger connection closed while waiting: %w", ledger.ErrClosed)
			}
			if msg.FlightKey != flight {
				continue
			}
			status := oracle.StatusCode(msg.StatusCode)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%d)\n", flight, status, msg.StatusCode)
			return nil
		}
	}
}
