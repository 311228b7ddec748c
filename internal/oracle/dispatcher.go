package oracle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/LeJamon/goOracled/internal/journal"
	"github.com/LeJamon/goOracled/internal/ledger"
	"github.com/LeJamon/goOracled/internal/metrics"
)

var errSubscriptionEnded = errors.New("subscription ended")

// Responder is the part of ledger.Client the dispatcher needs.
type Responder interface {
	SubmitOracleResponse(ctx context.Context, resp ledger.OracleResponse, gas uint64) (ledger.Receipt, error)
	SubscribeOracleRequests(ctx context.Context) (ledger.Subscription, error)
}

// DispatcherConfig tunes the dispatcher. Zero values take defaults.
type DispatcherConfig struct {
	GasLimit uint64

	// SubmitTimeout bounds one submission; default 15s.
	SubmitTimeout time.Duration

	// MaxFanout bounds concurrent submissions within one request; default 16.
	MaxFanout int

	// ResubscribeDelay is the first wait after the subscription fails. It
	// doubles on each consecutive failure up to MaxResubscribeDelay.
	ResubscribeDelay    time.Duration
	MaxResubscribeDelay time.Duration

	// RedeliveryWindow is how many recent requests are remembered to spot
	// repeated deliveries; default 1024.
	RedeliveryWindow int
}

func (c *DispatcherConfig) setDefaults() {
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 15 * time.Second
	}
	if c.MaxFanout <= 0 {
		c.MaxFanout = 16
	}
	if c.ResubscribeDelay <= 0 {
		c.ResubscribeDelay = 2 * time.Second
	}
	if c.MaxResubscribeDelay < c.ResubscribeDelay {
		c.MaxResubscribeDelay = 30 * time.Second
		if c.MaxResubscribeDelay < c.ResubscribeDelay {
			c.MaxResubscribeDelay = c.ResubscribeDelay
		}
	}
	if c.RedeliveryWindow <= 0 {
		c.RedeliveryWindow = 1024
	}
}

// Submission is a response the ledger accepted.
type Submission struct {
	Response ledger.OracleResponse
	Receipt  ledger.Receipt
}

// SubmissionFailure is a response the ledger rejected or never answered.
type SubmissionFailure struct {
	Response ledger.OracleResponse
	Err      error
}

// Round is the work done for one delivery of a request.
type Round struct {
	Delivery  string
	Request   ledger.OracleRequest
	Matched   []Actor
	Submitted []Submission
	Failed    []SubmissionFailure
}

// Dispatcher answers oracle requests on behalf of every registered actor
// holding the request's index.
//
// Deliveries are not de-duplicated: each one produces its own round of
// submissions. Submissions are never retried.
type Dispatcher struct {
	client   Responder
	registry *Registry
	cfg      DispatcherConfig
	logger   hclog.Logger
	metrics  *metrics.Metrics
	journal  journal.Journal

	seenMu sync.Mutex
	seen   *lru.Cache[ledger.RequestKey, int]

	rounds    sync.WaitGroup
	listening atomic.Bool
}

// NewDispatcher returns a Dispatcher over a registry that must not change
// afterwards. logger, m and j may be nil.
func NewDispatcher(client Responder, registry *Registry, cfg DispatcherConfig, logger hclog.Logger, m *metrics.Metrics, j journal.Journal) (*Dispatcher, error) {
	cfg.setDefaults()
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if j == nil {
		j = journal.Nop{}
	}
	seen, err := lru.New[ledger.RequestKey, int](cfg.RedeliveryWindow)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		client:   client,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		journal:  j,
		seen:     seen,
	}, nil
}

// Run consumes oracle requests until ctx ends. A failed subscription is
// logged and reopened after a backoff; requests emitted while no
// subscription is live are missed. Rounds in flight when ctx ends are
// allowed to finish before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.rounds.Wait()

	delay := d.cfg.ResubscribeDelay
	for {
		sub, err := d.client.SubscribeOracleRequests(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.metrics.ObserveSubscriptionFailure()
			d.logger.Error("cannot subscribe to oracle requests", "error", err, "retry_in", delay)
		} else {
			d.logger.Info("listening for oracle requests", "oracles", d.registry.Len())
			delay = d.cfg.ResubscribeDelay

			d.listening.Store(true)
			err = d.consume(ctx, sub)
			d.listening.Store(false)
			if ctx.Err() != nil {
				return nil
			}
			d.metrics.ObserveSubscriptionFailure()
			d.logger.Error("oracle request subscription lost, requests emitted until it is restored are missed",
				"error", err, "retry_in", delay)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		delay *= 2
		if delay > d.cfg.MaxResubscribeDelay {
			delay = d.cfg.MaxResubscribeDelay
		}
	}
}

// Listening reports whether a request subscription is currently live.
func (d *Dispatcher) Listening() bool {
	return d.listening.Load()
}

func (d *Dispatcher) consume(ctx context.Context, sub ledger.Subscription) error {
	defer sub.Unsubscribe()

	// Rounds outlive shutdown of the consumer; each submission keeps its own
	// timeout.
	roundCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case req := <-sub.Requests():
			d.spawn(roundCtx, req)

		case err, ok := <-sub.Err():
			// Requests already buffered were delivered before the failure.
			for drained := false; !drained; {
				select {
				case req := <-sub.Requests():
					d.spawn(roundCtx, req)
				default:
					drained = true
				}
			}
			if !ok || err == nil {
				return errSubscriptionEnded
			}
			return err
		}
	}
}

func (d *Dispatcher) spawn(ctx context.Context, req ledger.OracleRequest) {
	d.rounds.Add(1)
	go func() {
		defer d.rounds.Done()
		d.Dispatch(ctx, req)
	}()
}

// Dispatch runs one round for req: every actor holding req.Index submits its
// status concurrently, bounded by MaxFanout. A failed submission is logged
// and reported in the round; it does not affect the others.
func (d *Dispatcher) Dispatch(ctx context.Context, req ledger.OracleRequest) Round {
	round := Round{
		Delivery: uuid.NewString(),
		Request:  req,
	}
	logger := d.logger.With(
		"delivery", round.Delivery,
		"index", req.Index,
		"airline", req.Airline,
		"flight", req.Code,
		"timestamp", req.Timestamp,
	)

	d.metrics.ObserveRequestEvent()
	if n := d.noteDelivery(req); n > 1 {
		d.metrics.ObserveRedelivery()
		logger.Debug("request delivered again, answering anyway", "deliveries", n)
	}

	round.Matched = d.registry.Resolve(req.Index)
	if len(round.Matched) == 0 {
		logger.Trace("no oracle holds this index")
		return round
	}

	results := make([]SubmissionFailure, len(round.Matched))
	receipts := make([]ledger.Receipt, len(round.Matched))

	var g errgroup.Group
	g.SetLimit(d.cfg.MaxFanout)
	for i, actor := range round.Matched {
		g.Go(func() error {
			resp := ledger.OracleResponse{
				Index:      req.Index,
				FlightKey:  req.FlightKey,
				StatusCode: uint8(actor.Status),
				Account:    actor.Identity,
			}
			rcpt, err := d.submit(ctx, logger, round.Delivery, resp)
			receipts[i] = rcpt
			results[i] = SubmissionFailure{Response: resp, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, r := range results {
		if r.Err != nil {
			round.Failed = append(round.Failed, r)
			continue
		}
		round.Submitted = append(round.Submitted, Submission{Response: r.Response, Receipt: receipts[i]})
	}

	logger.Debug("request answered",
		"matched", len(round.Matched),
		"accepted", len(round.Submitted),
		"failed", len(round.Failed))
	return round
}

func (d *Dispatcher) submit(ctx context.Context, logger hclog.Logger, delivery string, resp ledger.OracleResponse) (ledger.Receipt, error) {
	sctx, cancel := context.WithTimeout(ctx, d.cfg.SubmitTimeout)
	defer cancel()

	start := time.Now()
	rcpt, err := d.client.SubmitOracleResponse(sctx, resp, d.cfg.GasLimit)
	d.metrics.ObserveSubmission(err, time.Since(start))

	status := StatusCode(resp.StatusCode)
	if err != nil {
		logger.Warn("oracle response failed", "account", resp.Account, "status", status, "error", err)
	} else {
		logger.Debug("oracle response submitted", "account", resp.Account, "status", status, "tx", rcpt.TxHash)
	}

	outcome := journal.Outcome{
		Delivery:   delivery,
		Account:    resp.Account,
		Index:      resp.Index,
		FlightKey:  resp.FlightKey,
		StatusCode: resp.StatusCode,
		TxHash:     rcpt.TxHash,
		At:         time.Now().UTC(),
	}
	if err != nil {
		outcome.Error = err.Error()
	}
	if jerr := d.journal.Record(ctx, outcome); jerr != nil {
		logger.Warn("cannot journal submission outcome", "account", resp.Account, "error", jerr)
	}
	return rcpt, err
}

// noteDelivery counts deliveries of req within the redelivery window.
func (d *Dispatcher) noteDelivery(req ledger.OracleRequest) int {
	d.seenMu.Lock()
	defer d.seenMu.Unlock()

	key := req.Key()
	n, _ := d.seen.Get(key)
	n++
	d.seen.Add(key, n)
	return n
}
