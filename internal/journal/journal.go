// Package journal records the outcome of every oracle response submission
// for consumers outside the node. Journaling is best effort: a failing
// journal never affects dispatching.
package journal

import (
	"context"
	"time"

	"github.com/LeJamon/goOracled/internal/ledger"
)

// Outcome describes one submission attempt.
type Outcome struct {
	Delivery string `json:"delivery"`
	Account  string `json:"account"`
	Index    uint8  `json:"index"`
	ledger.FlightKey
	StatusCode uint8     `json:"status_code"`
	TxHash     string    `json:"tx_hash,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// Journal is a sink for outcomes.
type Journal interface {
	Record(ctx context.Context, o Outcome) error
	Close() error
}

// Nop discards outcomes.
type Nop struct{}

func (Nop) Record(context.Context, Outcome) error { return nil }

func (Nop) Close() error { return nil }
