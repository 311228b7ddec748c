// Package ledger is the boundary between the oracle node and the ledger that
// owns oracle registration, request emission and response aggregation.
//
// The package defines the Client interface consumed by the coordination layer,
// the wire protocol spoken to a ledger node over WebSocket, the typed errors a
// ledger returns when it rejects a transaction, and WSClient, the pipelined
// WebSocket implementation of Client.
package ledger

import (
	"context"
	"fmt"
	"math/big"
)

// MinGas is the smallest gas allowance a ledger accepts for any transaction.
const MinGas uint64 = 21000

// FlightKey identifies the flight a status request is about.
type FlightKey struct {
	Airline   string `json:"airline"`
	Code      string `json:"flight"`
	Timestamp int64  `json:"timestamp"`
}

func (k FlightKey) String() string {
	return fmt.Sprintf("%s/%s@%d", k.Airline, k.Code, k.Timestamp)
}

// OracleRequest is a status request emitted by the ledger. Index is the shard
// key only oracles holding that index may answer with.
type OracleRequest struct {
	Index uint8 `json:"index"`
	FlightKey
}

// Key returns a comparable identity for the request. Two deliveries of the
// same request share a key.
func (r OracleRequest) Key() RequestKey {
	return RequestKey{Index: r.Index, FlightKey: r.FlightKey}
}

// RequestKey is the comparable form of an OracleRequest.
type RequestKey struct {
	Index uint8
	FlightKey
}

// OracleResponse is the transaction an oracle submits to answer a request.
type OracleResponse struct {
	Index uint8 `json:"index"`
	FlightKey
	StatusCode uint8  `json:"status_code"`
	Account    string `json:"account"`
}

// Receipt is returned for every transaction the ledger accepted.
type Receipt struct {
	TxHash string `json:"tx_hash"`
}

// Client is the set of ledger operations the oracle node consumes.
type Client interface {
	// Accounts lists the accounts the ledger node provisions for this node.
	Accounts(ctx context.Context) ([]string, error)

	// RegisterOracle pays the registration fee from account.
	RegisterOracle(ctx context.Context, account string, fee *big.Int, gas uint64) (Receipt, error)

	// GetMyIndexes returns the shard indexes assigned to a registered account.
	GetMyIndexes(ctx context.Context, account string) ([]uint8, error)

	// SubmitOracleResponse submits resp as resp.Account.
	SubmitOracleResponse(ctx context.Context, resp OracleResponse, gas uint64) (Receipt, error)

	// FetchFlightStatus asks the ledger to emit a status request for a flight
	// and returns the index the ledger chose for it.
	FetchFlightStatus(ctx context.Context, account string, flight FlightKey) (uint8, error)

	// SubscribeOracleRequests opens a subscription delivering requests emitted
	// from now on. Requests emitted before the call are never replayed.
	SubscribeOracleRequests(ctx context.Context) (Subscription, error)

	Close() error
}

// Subscription is a live, non-restartable sequence of oracle requests.
//
// Err delivers at most one error if the subscription fails and is closed when
// the subscription ends for any reason. Requests is never closed; consumers
// select on both.
type Subscription interface {
	Requests() <-chan OracleRequest
	Err() <-chan error
	Unsubscribe()
}
