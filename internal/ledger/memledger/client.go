package memledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/LeJamon/goOracled/internal/ledger"
)

// Client exposes a Ledger through ledger.Client, in process.
type Client struct {
	ledger       *Ledger
	streamBuffer int
}

var _ ledger.Client = (*Client)(nil)

// NewClient wraps l.
func NewClient(l *Ledger) *Client {
	return &Client{ledger: l, streamBuffer: 64}
}

func (c *Client) Accounts(ctx context.Context) ([]string, error) {
	if err := ctxErr(ctx, ledger.CmdAccounts); err != nil {
		return nil, err
	}
	return c.ledger.Accounts(), nil
}

func (c *Client) RegisterOracle(ctx context.Context, account string, fee *big.Int, gas uint64) (ledger.Receipt, error) {
	if err := ctxErr(ctx, ledger.CmdRegisterOracle); err != nil {
		return ledger.Receipt{}, err
	}
	return c.ledger.RegisterOracle(account, fee, gas)
}

func (c *Client) GetMyIndexes(ctx context.Context, account string) ([]uint8, error) {
	if err := ctxErr(ctx, ledger.CmdGetMyIndexes); err != nil {
		return nil, err
	}
	return c.ledger.GetMyIndexes(account)
}

func (c *Client) SubmitOracleResponse(ctx context.Context, resp ledger.OracleResponse, gas uint64) (ledger.Receipt, error) {
	if err := ctxErr(ctx, ledger.CmdSubmitOracleResponse); err != nil {
		return ledger.Receipt{}, err
	}
	return c.ledger.SubmitOracleResponse(ctx, resp, gas)
}

func (c *Client) FetchFlightStatus(ctx context.Context, account string, flight ledger.FlightKey) (uint8, error) {
	if err := ctxErr(ctx, ledger.CmdFetchFlightStatus); err != nil {
		return 0, err
	}
	return c.ledger.FetchFlightStatus(account, flight)
}

func (c *Client) SubscribeOracleRequests(ctx context.Context) (ledger.Subscription, error) {
	if err := ctxErr(ctx, ledger.CmdSubscribe); err != nil {
		return nil, err
	}
	return c.ledger.SubscribeOracleRequests(c.streamBuffer), nil
}

func (c *Client) Close() error { return nil }

func ctxErr(ctx context.Context, command string) error {
	if err := ctx.Err(); err != nil {
		if err == context.DeadlineExceeded {
			return fmt.Errorf("%s: %w", command, ledger.ErrTimeout)
		}
		return fmt.Errorf("%s: %w", command, err)
	}
	return nil
}
