// Package memledger is an in-memory ledger implementing the flight-status
// oracle contract: paid oracle registration with three pseudo-random indexes,
// status requests keyed by a random index, index-gated responses and a
// quorum that closes a request once enough responses agree.
//
// It backs the devnet server and the tests of the coordination layer. Hooks
// let tests reject or delay individual accounts and drop live subscriptions.
package memledger

import (
	"context"
	"fmt"
	"math/big"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LeJamon/goOracled/internal/ledger"
)

const (
	// IndexRange bounds every index: indexes are drawn from [0, IndexRange).
	IndexRange = 10

	// IndexesPerOracle is how many distinct indexes an oracle receives.
	IndexesPerOracle = 3

	DefaultMinResponses = 3
)

// DefaultRegistrationFee is 1 ether in wei.
var DefaultRegistrationFee = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Config seeds a Ledger.
type Config struct {
	// Accounts provisioned by the ledger. When non-empty, only these accounts
	// may transact.
	Accounts []string

	RegistrationFee *big.Int
	MinResponses    int

	// Indexes pins the indexes handed out at registration for some accounts.
	Indexes map[string][]uint8

	// Seed makes index draws reproducible. Zero seeds from the clock.
	Seed uint64
}

// Listener observes emitted events. msg is a ledger.OracleRequest,
// ledger.OracleResponse or FlightStatus depending on stream. Listeners run on
// the emitting goroutine, outside the ledger lock.
type Listener func(stream ledger.StreamType, msg interface{})

// FlightStatus is emitted once a request reaches quorum.
type FlightStatus struct {
	ledger.FlightKey
	StatusCode uint8
}

// SubmissionRecord is one response submission attempt and its outcome.
type SubmissionRecord struct {
	ledger.OracleResponse
	Err error
}

type requestSlot struct {
	requester string
	open      bool
	responses map[uint8][]string
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu sync.Mutex

	fee          *big.Int
	minResponses int
	pinned       map[string][]uint8
	rng          *rand.Rand

	accounts []string
	known    map[string]bool
	oracles  map[string][]uint8
	requests map[ledger.RequestKey]*requestSlot
	statuses map[ledger.FlightKey]uint8
	attempts []SubmissionRecord

	rejectRegistration map[string]error
	rejectSubmission   map[string]error
	delaySubmission    map[string]time.Duration

	listeners  map[int]Listener
	listenerID int
	streams    map[*ledger.Stream]struct{}
}

// New creates a Ledger.
func New(cfg Config) *Ledger {
	fee := cfg.RegistrationFee
	if fee == nil {
		fee = DefaultRegistrationFee
	}
	minResponses := cfg.MinResponses
	if minResponses <= 0 {
		minResponses = DefaultMinResponses
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	l := &Ledger{
		fee:                new(big.Int).Set(fee),
		minResponses:       minResponses,
		pinned:             make(map[string][]uint8),
		rng:                rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		accounts:           append([]string(nil), cfg.Accounts...),
		known:              make(map[string]bool),
		oracles:            make(map[string][]uint8),
		requests:           make(map[ledger.RequestKey]*requestSlot),
		statuses:           make(map[ledger.FlightKey]uint8),
		rejectRegistration: make(map[string]error),
		rejectSubmission:   make(map[string]error),
		delaySubmission:    make(map[string]time.Duration),
		listeners:          make(map[int]Listener),
		streams:            make(map[*ledger.Stream]struct{}),
	}
	for _, acct := range cfg.Accounts {
		l.known[acct] = true
	}
	for acct, idx := range cfg.Indexes {
		l.pinned[acct] = append([]uint8(nil), idx...)
	}
	return l
}

// Accounts returns the provisioned accounts in order.
func (l *Ledger) Accounts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.accounts...)
}

// RegistrationFee returns the minimum fee accepted by RegisterOracle.
func (l *Ledger) RegistrationFee() *big.Int {
	return new(big.Int).Set(l.fee)
}

// RegisterOracle registers account as an oracle if fee covers the
// registration fee.
func (l *Ledger) RegisterOracle(account string, fee *big.Int, gas uint64) (ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.rejectRegistration[account]; err != nil {
		return ledger.Receipt{}, err
	}
	if err := l.checkAccount(account); err != nil {
		return ledger.Receipt{}, err
	}
	if gas < ledger.MinGas {
		return ledger.Receipt{}, ledger.NewError(ledger.CodeOutOfGas,
			fmt.Sprintf("gas %d below minimum %d", gas, ledger.MinGas))
	}
	if fee == nil || fee.Cmp(l.fee) < 0 {
		return ledger.Receipt{}, ledger.NewError(ledger.CodeInsufficientFee,
			fmt.Sprintf("registration fee is %s wei", l.fee))
	}
	if _, ok := l.oracles[account]; ok {
		return ledger.Receipt{}, ledger.NewError(ledger.CodeAlreadyRegistered, account)
	}

	if idx, ok := l.pinned[account]; ok {
		l.oracles[account] = append([]uint8(nil), idx...)
	} else {
		l.oracles[account] = l.drawIndexes()
	}
	return newReceipt(), nil
}

// GetMyIndexes returns the indexes assigned to a registered oracle.
func (l *Ledger) GetMyIndexes(account string) ([]uint8, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx, ok := l.oracles[account]
	if !ok {
		return nil, ledger.NewError(ledger.CodeNotRegistered, account)
	}
	return append([]uint8(nil), idx...), nil
}

// IsRegistered reports whether account completed registration.
func (l *Ledger) IsRegistered(account string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.oracles[account]
	return ok
}

// FetchFlightStatus opens a request for flight under a random index and
// emits it on the oracle_requests stream.
func (l *Ledger) FetchFlightStatus(account string, flight ledger.FlightKey) (uint8, error) {
	l.mu.Lock()
	if err := l.checkAccount(account); err != nil {
		l.mu.Unlock()
		return 0, err
	}
	req := ledger.OracleRequest{Index: uint8(l.rng.IntN(IndexRange)), FlightKey: flight}
	l.requests[req.Key()] = &requestSlot{
		requester: account,
		open:      true,
		responses: make(map[uint8][]string),
	}
	l.mu.Unlock()

	l.emit(ledger.StreamOracleRequests, req)
	return req.Index, nil
}

// Emit publishes req as if the ledger had just emitted it. A request slot is
// opened for it unless one exists already, so emitting the same request twice
// models a duplicate delivery of one request.
func (l *Ledger) Emit(req ledger.OracleRequest) {
	l.mu.Lock()
	if _, ok := l.requests[req.Key()]; !ok {
		l.requests[req.Key()] = &requestSlot{open: true, responses: make(map[uint8][]string)}
	}
	l.mu.Unlock()

	l.emit(ledger.StreamOracleRequests, req)
}

// SubmitOracleResponse records resp if resp.Account holds resp.Index and the
// matching request is still open. Reaching quorum closes the request and
// emits the flight status.
func (l *Ledger) SubmitOracleResponse(ctx context.Context, resp ledger.OracleResponse, gas uint64) (ledger.Receipt, error) {
	l.mu.Lock()
	delay := l.delaySubmission[resp.Account]
	l.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			err := fmt.Errorf("%s: %w", ledger.CmdSubmitOracleResponse, ledger.ErrTimeout)
			l.record(resp, err)
			return ledger.Receipt{}, err
		}
	}

	rcpt, status, closed, err := l.submit(resp, gas)
	if err != nil {
		return ledger.Receipt{}, err
	}

	l.emit(ledger.StreamOracleReports, resp)
	if closed {
		l.emit(ledger.StreamFlightStatus, status)
	}
	return rcpt, nil
}

func (l *Ledger) submit(resp ledger.OracleResponse, gas uint64) (ledger.Receipt, FlightStatus, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.validateSubmission(resp, gas)
	l.attempts = append(l.attempts, SubmissionRecord{OracleResponse: resp, Err: err})
	if err != nil {
		return ledger.Receipt{}, FlightStatus{}, false, err
	}

	slot := l.requests[ledger.RequestKey{Index: resp.Index, FlightKey: resp.FlightKey}]
	slot.responses[resp.StatusCode] = append(slot.responses[resp.StatusCode], resp.Account)
	if len(slot.responses[resp.StatusCode]) < l.minResponses {
		return newReceipt(), FlightStatus{}, false, nil
	}

	slot.open = false
	l.statuses[resp.FlightKey] = resp.StatusCode
	return newReceipt(), FlightStatus{FlightKey: resp.FlightKey, StatusCode: resp.StatusCode}, true, nil
}

func (l *Ledger) validateSubmission(resp ledger.OracleResponse, gas uint64) error {
	if err := l.rejectSubmission[resp.Account]; err != nil {
		return err
	}
	if gas < ledger.MinGas {
		return ledger.NewError(ledger.CodeOutOfGas, fmt.Sprintf("gas %d below minimum %d", gas, ledger.MinGas))
	}
	idx, ok := l.oracles[resp.Account]
	if !ok {
		return ledger.NewError(ledger.CodeNotRegistered, resp.Account)
	}
	if !containsIndex(idx, resp.Index) {
		return ledger.NewError(ledger.CodeIndexMismatch,
			fmt.Sprintf("index %d does not match oracle request", resp.Index))
	}
	slot, ok := l.requests[ledger.RequestKey{Index: resp.Index, FlightKey: resp.FlightKey}]
	if !ok || !slot.open {
		return ledger.NewError(ledger.CodeRequestClosed, "flight or timestamp do not match oracle request")
	}
	return nil
}

func (l *Ledger) record(resp ledger.OracleResponse, err error) {
	l.mu.Lock()
	l.attempts = append(l.attempts, SubmissionRecord{OracleResponse: resp, Err: err})
	l.mu.Unlock()
}

// FlightStatus returns the finalized status of a flight.
func (l *Ledger) FlightStatus(flight ledger.FlightKey) (uint8, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	code, ok := l.statuses[flight]
	return code, ok
}

// Submissions returns every submission attempt in arrival order.
func (l *Ledger) Submissions() []SubmissionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]SubmissionRecord(nil), l.attempts...)
}

// Accepted returns the submissions the ledger recorded.
func (l *Ledger) Accepted() []ledger.OracleResponse {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ledger.OracleResponse
	for _, a := range l.attempts {
		if a.Err == nil {
			out = append(out, a.OracleResponse)
		}
	}
	return out
}

// RejectRegistration makes every registration from account fail with err.
func (l *Ledger) RejectRegistration(account string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rejectRegistration[account] = err
}

// RejectSubmissions makes every submission from account fail with err.
func (l *Ledger) RejectSubmissions(account string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rejectSubmission[account] = err
}

// DelaySubmissions holds every submission from account for d before it is
// processed.
func (l *Ledger) DelaySubmissions(account string, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delaySubmission[account] = d
}

// AddListener registers fn for every emitted event and returns a function
// removing it.
func (l *Ledger) AddListener(fn Listener) (remove func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.listenerID
	l.listenerID++
	l.listeners[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.listeners, id)
	}
}

// SubscribeOracleRequests opens a stream of requests emitted from now on.
func (l *Ledger) SubscribeOracleRequests(buffer int) *ledger.Stream {
	var (
		s      *ledger.Stream
		remove func()
	)
	s = ledger.NewStream(buffer, func() {
		remove()
		l.mu.Lock()
		delete(l.streams, s)
		l.mu.Unlock()
	})
	remove = l.AddListener(func(stream ledger.StreamType, msg interface{}) {
		if req, ok := msg.(ledger.OracleRequest); ok && stream == ledger.StreamOracleRequests {
			s.Deliver(req)
		}
	})

	l.mu.Lock()
	l.streams[s] = struct{}{}
	l.mu.Unlock()
	return s
}

// DropSubscriptions fails every live request stream with err, as a lost
// connection would.
func (l *Ledger) DropSubscriptions(err error) {
	l.mu.Lock()
	streams := make([]*ledger.Stream, 0, len(l.streams))
	for s := range l.streams {
		streams = append(streams, s)
	}
	l.mu.Unlock()

	for _, s := range streams {
		s.Fail(err)
	}
}

// Subscribers returns the number of live request streams.
func (l *Ledger) Subscribers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.streams)
}

func (l *Ledger) emit(stream ledger.StreamType, msg interface{}) {
	l.mu.Lock()
	targets := make([]Listener, 0, len(l.listeners))
	for _, fn := range l.listeners {
		targets = append(targets, fn)
	}
	l.mu.Unlock()

	for _, fn := range targets {
		fn(stream, msg)
	}
}

func (l *Ledger) checkAccount(account string) error {
	if len(l.known) > 0 && !l.known[account] {
		return ledger.NewError(ledger.CodeUnknownAccount, account)
	}
	return nil
}

// drawIndexes picks IndexesPerOracle distinct indexes. Caller holds l.mu.
func (l *Ledger) drawIndexes() []uint8 {
	out := make([]uint8, 0, IndexesPerOracle)
	for len(out) < IndexesPerOracle {
		idx := uint8(l.rng.IntN(IndexRange))
		if !containsIndex(out, idx) {
			out = append(out, idx)
		}
	}
	return out
}

func containsIndex(set []uint8, idx uint8) bool {
	for _, v := range set {
		if v == idx {
			return true
		}
	}
	return false
}

func newReceipt() ledger.Receipt {
	return ledger.Receipt{TxHash: "0x" + strings.ReplaceAll(uuid.NewString(), "-", "")}
}
