package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/LeJamon/goOracled/internal/ledger"
	"github.com/LeJamon/goOracled/internal/ledger/memledger"
)

const testGas = uint64(10_000_000)

var testFlight = ledger.FlightKey{Airline: "0xairline", Code: "AA001", Timestamp: 1700000000}

// accountNames returns n deterministic account identities.
func accountNames(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("0x%040x", i+1)
	}
	return out
}

// newLedger returns a memledger whose accounts hold pinned indexes.
func newLedger(t *testing.T, minResponses int, pinned map[string][]uint8) *memledger.Ledger {
	t.Helper()
	accounts := make([]string, 0, len(pinned))
	for acct := range pinned {
		accounts = append(accounts, acct)
	}
	return memledger.New(memledger.Config{
		Accounts:     accounts,
		MinResponses: minResponses,
		Indexes:      pinned,
		Seed:         1,
	})
}

func registrarConfig() RegistrarConfig {
	return RegistrarConfig{
		Fee:      new(big.Int).Set(memledger.DefaultRegistrationFee),
		GasLimit: testGas,
		Workers:  4,
	}
}

// flakyClient fails the first subscribeFailures subscriptions and reports
// every submission attempt on started.
type flakyClient struct {
	*memledger.Client
	subscribeFailures atomic.Int32
	accountsErr       error
	started           chan ledger.OracleResponse
}

func (c *flakyClient) Accounts(ctx context.Context) ([]string, error) {
	if c.accountsErr != nil {
		return nil, c.accountsErr
	}
	return c.Client.Accounts(ctx)
}

func (c *flakyClient) SubscribeOracleRequests(ctx context.Context) (ledger.Subscription, error) {
	if c.subscribeFailures.Add(-1) >= 0 {
		return nil, fmt.Errorf("subscribe: %w", ledger.ErrClosed)
	}
	return c.Client.SubscribeOracleRequests(ctx)
}

func (c *flakyClient) SubmitOracleResponse(ctx context.Context, resp ledger.OracleResponse, gas uint64) (ledger.Receipt, error) {
	if c.started != nil {
		c.started <- resp
	}
	return c.Client.SubmitOracleResponse(ctx, resp, gas)
}
