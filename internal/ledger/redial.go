package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"
)

// Redialer is a Client that opens a new connection when the current one is
// lost. Calls and subscriptions in flight on the lost connection still fail
// with ErrClosed; the next call dials again. Subscriptions are not carried
// over, callers resubscribe.
type Redialer struct {
	url  string
	opts Options

	mu      sync.Mutex
	conn    *WSClient
	redials int
	closed  bool
}

var _ Client = (*Redialer)(nil)

// DialRedialer dials url once. The first connection must succeed.
func DialRedialer(ctx context.Context, url string, opts Options) (*Redialer, error) {
	opts.setDefaults()
	conn, err := Dial(ctx, url, opts)
	if err != nil {
		return nil, err
	}
	return &Redialer{url: url, opts: opts, conn: conn}, nil
}

// Redials returns how many times a lost connection was replaced.
func (r *Redialer) Redials() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.redials
}

// client returns a live connection, dialing a new one if the current one is
// gone. Concurrent callers wait for the same dial.
func (r *Redialer) client(ctx context.Context) (*WSClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	select {
	case <-r.conn.Done():
	default:
		return r.conn, nil
	}

	conn, err := Dial(ctx, r.url, r.opts)
	if err != nil {
		return nil, fmt.Errorf("%w: redial: %v", ErrClosed, err)
	}
	_ = r.conn.Close()
	r.conn = conn
	r.redials++
	r.opts.Logger.Info("reconnected to ledger", "url", r.url, "redials", r.redials)
	return conn, nil
}

func (r *Redialer) Accounts(ctx context.Context) ([]string, error) {
	c, err := r.client(ctx)
	if err != nil {
		return nil, err
	}
	return c.Accounts(ctx)
}

func (r *Redialer) RegisterOracle(ctx context.Context, account string, fee *big.Int, gas uint64) (Receipt, error) {
	c, err := r.client(ctx)
	if err != nil {
		return Receipt{}, err
	}
	return c.RegisterOracle(ctx, account, fee, gas)
}

func (r *Redialer) GetMyIndexes(ctx context.Context, account string) ([]uint8, error) {
	c, err := r.client(ctx)
	if err != nil {
		return nil, err
	}
	return c.GetMyIndexes(ctx, account)
}

func (r *Redialer) SubmitOracleResponse(ctx context.Context, resp OracleResponse, gas uint64) (Receipt, error) {
	c, err := r.client(ctx)
	if err != nil {
		return Receipt{}, err
	}
	return c.SubmitOracleResponse(ctx, resp, gas)
}

func (r *Redialer) FetchFlightStatus(ctx context.Context, account string, flight FlightKey) (uint8, error) {
	c, err := r.client(ctx)
	if err != nil {
		return 0, err
	}
	return c.FetchFlightStatus(ctx, account, flight)
}

func (r *Redialer) SubscribeOracleRequests(ctx context.Context) (Subscription, error) {
	c, err := r.client(ctx)
	if err != nil {
		return nil, err
	}
	return c.SubscribeOracleRequests(ctx)
}

// Close closes the current connection; no further dials happen.
func (r *Redialer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.conn.Close()
}
