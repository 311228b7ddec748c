package memledger

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeJamon/goOracled/internal/ledger"
)

const gas = uint64(10_000_000)

var flight = ledger.FlightKey{Airline: "0xairline", Code: "AA001", Timestamp: 1700000000}

func newTestLedger(t *testing.T, cfg Config) *Ledger {
	t.Helper()
	if cfg.Seed == 0 {
		cfg.Seed = 42
	}
	return New(cfg)
}

// =============================================================================
// Registration
// =============================================================================

func TestRegisterOracle(t *testing.T) {
	l := newTestLedger(t, Config{Accounts: []string{"a", "b"}})

	rcpt, err := l.RegisterOracle("a", DefaultRegistrationFee, gas)
	require.NoError(t, err)
	assert.NotEmpty(t, rcpt.TxHash)

	idx, err := l.GetMyIndexes("a")
	require.NoError(t, err)
	require.Len(t, idx, IndexesPerOracle)

	seen := map[uint8]bool{}
	for _, i := range idx {
		assert.Less(t, i, uint8(IndexRange))
		assert.False(t, seen[i], "indexes must be distinct: %v", idx)
		seen[i] = true
	}
}

func TestRegisterOracleRejections(t *testing.T) {
	tests := []struct {
		name    string
		account string
		fee     *big.Int
		gas     uint64
		code    int
	}{
		{name: "fee below registration fee", account: "a", fee: big.NewInt(1), gas: gas, code: ledger.CodeInsufficientFee},
		{name: "missing fee", account: "a", fee: nil, gas: gas, code: ledger.CodeInsufficientFee},
		{name: "gas below minimum", account: "a", fee: DefaultRegistrationFee, gas: 100, code: ledger.CodeOutOfGas},
		{name: "unknown account", account: "z", fee: DefaultRegistrationFee, gas: gas, code: ledger.CodeUnknownAccount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLedger(t, Config{Accounts: []string{"a"}})
			_, err := l.RegisterOracle(tt.account, tt.fee, tt.gas)
			require.Error(t, err)
			assert.Equal(t, tt.code, ledger.ErrorCode(err))
			assert.False(t, l.IsRegistered(tt.account))
		})
	}
}

func TestRegisterOracleTwice(t *testing.T) {
	l := newTestLedger(t, Config{})
	_, err := l.RegisterOracle("a", DefaultRegistrationFee, gas)
	require.NoError(t, err)

	_, err = l.RegisterOracle("a", DefaultRegistrationFee, gas)
	assert.Equal(t, ledger.CodeAlreadyRegistered, ledger.ErrorCode(err))
}

func TestGetMyIndexesUnregistered(t *testing.T) {
	l := newTestLedger(t, Config{})
	_, err := l.GetMyIndexes("nobody")
	assert.Equal(t, ledger.CodeNotRegistered, ledger.ErrorCode(err))
}

func TestPinnedIndexes(t *testing.T) {
	l := newTestLedger(t, Config{Indexes: map[string][]uint8{"a": {7, 8, 9}}})
	_, err := l.RegisterOracle("a", DefaultRegistrationFee, gas)
	require.NoError(t, err)

	idx, err := l.GetMyIndexes("a")
	require.NoError(t, err)
	assert.Equal(t, []uint8{7, 8, 9}, idx)
}

func TestRejectRegistrationHook(t *testing.T) {
	l := newTestLedger(t, Config{})
	boom := errors.New("rejected")
	l.RejectRegistration("a", boom)

	_, err := l.RegisterOracle("a", DefaultRegistrationFee, gas)
	assert.ErrorIs(t, err, boom)
	assert.False(t, l.IsRegistered("a"))
}

// =============================================================================
// Requests and responses
// =============================================================================

func registerPinned(t *testing.T, l *Ledger, accounts ...string) {
	t.Helper()
	for _, a := range accounts {
		_, err := l.RegisterOracle(a, DefaultRegistrationFee, gas)
		require.NoError(t, err)
	}
}

func TestSubmitResponseQuorum(t *testing.T) {
	pinned := map[string][]uint8{
		"a": {1, 2, 3}, "b": {1, 4, 5}, "c": {1, 6, 7},
	}
	l := newTestLedger(t, Config{Indexes: pinned, MinResponses: 2})
	registerPinned(t, l, "a", "b", "c")

	var statuses []FlightStatus
	remove := l.AddListener(func(stream ledger.StreamType, msg interface{}) {
		if stream == ledger.StreamFlightStatus {
			statuses = append(statuses, msg.(FlightStatus))
		}
	})
	defer remove()

	req := ledger.OracleRequest{Index: 1, FlightKey: flight}
	l.Emit(req)

	submit := func(account string, code uint8) error {
		_, err := l.SubmitOracleResponse(context.Background(), ledger.OracleResponse{
			Index: 1, FlightKey: flight, StatusCode: code, Account: account,
		}, gas)
		return err
	}

	require.NoError(t, submit("a", 20))
	_, done := l.FlightStatus(flight)
	assert.False(t, done)

	require.NoError(t, submit("b", 20))
	code, done := l.FlightStatus(flight)
	require.True(t, done)
	assert.Equal(t, uint8(20), code)
	require.Len(t, statuses, 1)
	assert.Equal(t, uint8(20), statuses[0].StatusCode)

	err := submit("c", 20)
	assert.Equal(t, ledger.CodeRequestClosed, ledger.ErrorCode(err))

	assert.Len(t, l.Submissions(), 3)
	assert.Len(t, l.Accepted(), 2)
}

func TestSubmitResponseIndexMismatch(t *testing.T) {
	l := newTestLedger(t, Config{Indexes: map[string][]uint8{"a": {0, 1, 2}}})
	registerPinned(t, l, "a")
	l.Emit(ledger.OracleRequest{Index: 5, FlightKey: flight})

	_, err := l.SubmitOracleResponse(context.Background(), ledger.OracleResponse{
		Index: 5, FlightKey: flight, StatusCode: 10, Account: "a",
	}, gas)
	assert.Equal(t, ledger.CodeIndexMismatch, ledger.ErrorCode(err))
}

func TestSubmitResponseWithoutRequest(t *testing.T) {
	l := newTestLedger(t, Config{Indexes: map[string][]uint8{"a": {0, 1, 2}}})
	registerPinned(t, l, "a")

	_, err := l.SubmitOracleResponse(context.Background(), ledger.OracleResponse{
		Index: 1, FlightKey: flight, StatusCode: 10, Account: "a",
	}, gas)
	assert.Equal(t, ledger.CodeRequestClosed, ledger.ErrorCode(err))
}

func TestDelayedSubmissionHonoursContext(t *testing.T) {
	l := newTestLedger(t, Config{Indexes: map[string][]uint8{"a": {0, 1, 2}}})
	registerPinned(t, l, "a")
	l.Emit(ledger.OracleRequest{Index: 1, FlightKey: flight})
	l.DelaySubmissions("a", time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := l.SubmitOracleResponse(ctx, ledger.OracleResponse{
		Index: 1, FlightKey: flight, StatusCode: 10, Account: "a",
	}, gas)
	assert.ErrorIs(t, err, ledger.ErrTimeout)
	require.Len(t, l.Submissions(), 1)
	assert.Error(t, l.Submissions()[0].Err)
}

// =============================================================================
// Subscriptions
// =============================================================================

func TestFetchFlightStatusEmitsRequest(t *testing.T) {
	l := newTestLedger(t, Config{})
	sub := l.SubscribeOracleRequests(4)
	defer sub.Unsubscribe()

	idx, err := l.FetchFlightStatus("owner", flight)
	require.NoError(t, err)

	select {
	case req := <-sub.Requests():
		assert.Equal(t, idx, req.Index)
		assert.Equal(t, flight, req.FlightKey)
	case <-time.After(time.Second):
		t.Fatal("request not delivered")
	}
}

func TestSubscriptionStartsAtLatest(t *testing.T) {
	l := newTestLedger(t, Config{})
	l.Emit(ledger.OracleRequest{Index: 1, FlightKey: flight})

	sub := l.SubscribeOracleRequests(4)
	defer sub.Unsubscribe()

	select {
	case req := <-sub.Requests():
		t.Fatalf("unexpected replay of %+v", req)
	default:
	}
}

func TestDropSubscriptions(t *testing.T) {
	l := newTestLedger(t, Config{})
	sub := l.SubscribeOracleRequests(4)
	require.Equal(t, 1, l.Subscribers())

	lost := errors.New("connection reset")
	l.DropSubscriptions(lost)

	err, ok := <-sub.Err()
	require.True(t, ok)
	assert.ErrorIs(t, err, lost)
	_, ok = <-sub.Err()
	assert.False(t, ok)
	assert.Equal(t, 0, l.Subscribers())
}

func TestUnsubscribeClosesErr(t *testing.T) {
	l := newTestLedger(t, Config{})
	sub := l.SubscribeOracleRequests(4)
	sub.Unsubscribe()

	_, ok := <-sub.Err()
	assert.False(t, ok)
	assert.Equal(t, 0, l.Subscribers())

	// emitting after unsubscribe must not block
	l.Emit(ledger.OracleRequest{Index: 1, FlightKey: flight})
}
