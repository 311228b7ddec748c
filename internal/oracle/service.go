package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"

	"github.com/LeJamon/goOracled/internal/journal"
	"github.com/LeJamon/goOracled/internal/metrics"
)

// ErrNotBootstrapped is returned by Run before a successful Bootstrap.
var ErrNotBootstrapped = errors.New("oracle service not bootstrapped")

// Client is everything the service needs from the ledger.
type Client interface {
	Registerer
	Responder
	Accounts(ctx context.Context) ([]string, error)
}

// Config configures a Service.
type Config struct {
	// Accounts, when set, is the exact candidate list. Otherwise candidates
	// are the ledger's accounts starting at AccountOffset, at most
	// AccountLimit of them (0 means no limit).
	Accounts      []string
	AccountOffset int
	AccountLimit  int

	Registrar  RegistrarConfig
	Dispatcher DispatcherConfig

	// StatusSeed seeds the default status generator.
	StatusSeed uint64
}

// Option customizes a Service.
type Option func(*Service)

func WithLogger(l hclog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithJournal(j journal.Journal) Option {
	return func(s *Service) { s.journal = j }
}

// WithStatusGenerator replaces the seeded random generator.
func WithStatusGenerator(g StatusGenerator) Option {
	return func(s *Service) { s.status = g }
}

// Service registers the oracle actors and then answers requests for them.
type Service struct {
	client  Client
	cfg     Config
	logger  hclog.Logger
	metrics *metrics.Metrics
	journal journal.Journal
	status  StatusGenerator

	bootMu     sync.Mutex
	registry   atomic.Pointer[Registry]
	dispatcher atomic.Pointer[Dispatcher]
}

// New returns a Service. Nothing touches the ledger until Bootstrap.
func New(client Client, cfg Config, opts ...Option) *Service {
	s := &Service{client: client, cfg: cfg}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = hclog.NewNullLogger()
	}
	if s.journal == nil {
		s.journal = journal.Nop{}
	}
	if s.status == nil {
		s.status = NewRandomStatus(cfg.StatusSeed)
	}
	return s
}

// Candidates resolves the accounts to register.
func (s *Service) Candidates(ctx context.Context) ([]string, error) {
	if len(s.cfg.Accounts) > 0 {
		return append([]string(nil), s.cfg.Accounts...), nil
	}

	accounts, err := s.client.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ledger accounts: %w", err)
	}
	if s.cfg.AccountOffset >= len(accounts) {
		return nil, fmt.Errorf("%w: ledger has %d accounts, offset is %d",
			ErrNoCandidates, len(accounts), s.cfg.AccountOffset)
	}
	accounts = accounts[max(s.cfg.AccountOffset, 0):]
	if s.cfg.AccountLimit > 0 && len(accounts) > s.cfg.AccountLimit {
		accounts = accounts[:s.cfg.AccountLimit]
	}
	return accounts, nil
}

// Bootstrap resolves the candidates and registers them. An unreachable
// ledger or an empty candidate list is an error; individual registration
// failures are not. Bootstrap may only succeed once; concurrent calls are
// serialized.
func (s *Service) Bootstrap(ctx context.Context) (*Registration, error) {
	s.bootMu.Lock()
	defer s.bootMu.Unlock()
	if s.registry.Load() != nil {
		return nil, errors.New("oracle service already bootstrapped")
	}

	candidates, err := s.Candidates(ctx)
	if err != nil {
		return nil, err
	}

	registrar := NewRegistrar(s.client, s.status, s.cfg.Registrar, s.logger.Named("registrar"), s.metrics)
	reg, err := registrar.Register(ctx, candidates)
	if err != nil {
		return nil, err
	}
	if reg.Registry.Len() == 0 {
		s.logger.Warn("no oracle registered, requests will go unanswered", "attempted", reg.Attempted)
	}

	d, err := NewDispatcher(s.client, reg.Registry, s.cfg.Dispatcher, s.logger.Named("dispatcher"), s.metrics, s.journal)
	if err != nil {
		return nil, err
	}
	s.dispatcher.Store(d)
	s.registry.Store(reg.Registry)
	return reg, nil
}

// Run answers oracle requests until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	d := s.dispatcher.Load()
	if d == nil {
		return ErrNotBootstrapped
	}
	return d.Run(ctx)
}

// Listening reports whether the service is subscribed to oracle requests.
func (s *Service) Listening() bool {
	d := s.dispatcher.Load()
	return d != nil && d.Listening()
}

// Registry returns the registered actors, or nil before Bootstrap.
func (s *Service) Registry() *Registry {
	return s.registry.Load()
}
