package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/LeJamon/goOracled/internal/ledger"
	"github.com/LeJamon/goOracled/internal/metrics"
)

// ErrNoCandidates is returned when there is nobody to register.
var ErrNoCandidates = errors.New("no candidate oracle accounts")

// Registration stages
const (
	StageRegister = "register"
	StageIndexes  = "indexes"
)

// Registerer is the part of ledger.Client registration needs.
type Registerer interface {
	RegisterOracle(ctx context.Context, account string, fee *big.Int, gas uint64) (ledger.Receipt, error)
	GetMyIndexes(ctx context.Context, account string) ([]uint8, error)
}

// RegistrarConfig holds the fixed parameters of every registration.
type RegistrarConfig struct {
	Fee      *big.Int
	GasLimit uint64

	// Workers bounds concurrent registrations. Values below 1 mean 1.
	Workers int

	// Timeout bounds the ledger calls made for one candidate. Zero disables it.
	Timeout time.Duration
}

// Failure records why a candidate is missing from the registry.
type Failure struct {
	Identity string
	Stage    string
	Err      error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s %s: %v", f.Stage, f.Identity, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Registration is the result of a bootstrap pass.
type Registration struct {
	Registry  *Registry
	Attempted int
	Failures  []Failure
}

// Registrar registers candidate accounts as oracles.
type Registrar struct {
	client  Registerer
	status  StatusGenerator
	cfg     RegistrarConfig
	logger  hclog.Logger
	metrics *metrics.Metrics
}

// NewRegistrar returns a Registrar. logger and m may be nil.
func NewRegistrar(client Registerer, status StatusGenerator, cfg RegistrarConfig, logger hclog.Logger, m *metrics.Metrics) *Registrar {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Registrar{
		client:  client,
		status:  status,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

// Register attempts every candidate exactly once. A failed candidate is
// logged and left out; it never affects the others. The registry keeps the
// order of candidates regardless of completion order.
//
// The only errors returned are ErrNoCandidates and the context's error when
// ctx ends before every candidate was attempted.
func (r *Registrar) Register(ctx context.Context, candidates []string) (*Registration, error) {
	candidates = uniqueCandidates(candidates, r.logger)
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	r.logger.Info("registering oracles", "candidates", len(candidates), "workers", r.cfg.Workers, "fee", r.cfg.Fee, "gas", r.cfg.GasLimit)
	start := time.Now()

	actors := make([]*Actor, len(candidates))
	failures := make([]*Failure, len(candidates))

	var g errgroup.Group
	g.SetLimit(r.cfg.Workers)
	for i, identity := range candidates {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			actor, failure := r.registerOne(ctx, identity)
			actors[i] = actor
			failures[i] = failure
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("registration interrupted: %w", err)
	}

	out := &Registration{Attempted: len(candidates)}
	registered := make([]Actor, 0, len(candidates))
	for i := range candidates {
		if actors[i] != nil {
			registered = append(registered, *actors[i])
		}
		if failures[i] != nil {
			out.Failures = append(out.Failures, *failures[i])
		}
	}

	reg, err := NewRegistry(registered...)
	if err != nil {
		return nil, err
	}
	out.Registry = reg
	r.metrics.SetRegisteredActors(reg.Len())

	r.logger.Info("oracle registration complete",
		"registered", reg.Len(),
		"failed", len(out.Failures),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return out, nil
}

func (r *Registrar) registerOne(ctx context.Context, identity string) (*Actor, *Failure) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	logger := r.logger.With("account", identity)

	fail := func(stage string, err error) (*Actor, *Failure) {
		r.metrics.ObserveRegistration(err)
		logger.Warn("oracle registration failed", "stage", stage, "error", err)
		return nil, &Failure{Identity: identity, Stage: stage, Err: err}
	}

	rcpt, err := r.client.RegisterOracle(ctx, identity, r.cfg.Fee, r.cfg.GasLimit)
	if err != nil {
		return fail(StageRegister, err)
	}

	indexes, err := r.client.GetMyIndexes(ctx, identity)
	if err != nil {
		return fail(StageIndexes, err)
	}
	if len(indexes) == 0 {
		return fail(StageIndexes, errors.New("ledger assigned no indexes"))
	}

	actor := &Actor{
		Identity: identity,
		Indexes:  indexes,
		Status:   r.status.Next(),
	}
	r.metrics.ObserveRegistration(nil)
	logger.Debug("oracle registered", "tx", rcpt.TxHash, "indexes", indexes, "status", actor.Status)
	return actor, nil
}

func uniqueCandidates(candidates []string, logger hclog.Logger) []string {
	seen := make(map[string]bool, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if seen[c] {
			logger.Warn("ignoring duplicate candidate", "account", c)
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
