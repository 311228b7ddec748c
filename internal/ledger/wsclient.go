package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 512 * 1024
)

// Options tunes a WSClient. Zero values take the defaults below.
type Options struct {
	DialTimeout    time.Duration // default 10s
	RequestTimeout time.Duration // applied when the caller's context has no deadline; default 30s
	WriteQueue     int           // outgoing messages buffered ahead of the writer; default 256
	PingInterval   time.Duration // default 30s
	StreamBuffer   int           // per-subscription buffer; default 256
	Logger         hclog.Logger
}

func (o *Options) setDefaults() {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.WriteQueue <= 0 {
		o.WriteQueue = 256
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.StreamBuffer <= 0 {
		o.StreamBuffer = 256
	}
	if o.Logger == nil {
		o.Logger = hclog.NewNullLogger()
	}
}

// WSClient talks to a ledger node over a single WebSocket connection.
//
// Calls are pipelined: each one is tagged with an id, queued to the single
// writer goroutine and answered through the reader goroutine, so any number
// of concurrent calls share the connection without waiting on each other's
// round trips.
type WSClient struct {
	conn   *websocket.Conn
	opts   Options
	logger hclog.Logger

	nextID atomic.Uint64
	send   chan []byte

	pendingMu sync.Mutex
	pending   map[uint64]chan *Response

	subsMu   sync.Mutex
	subs     map[*Stream]struct{}
	watchers map[chan FlightStatusMessage]struct{}

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

var _ Client = (*WSClient)(nil)

// Dial connects to the ledger node at url (ws:// or wss://).
func Dial(ctx context.Context, url string, opts Options) (*WSClient, error) {
	opts.setDefaults()

	dialCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial ledger %s: %w", url, err)
	}

	c := &WSClient{
		conn:    conn,
		opts:    opts,
		logger:  opts.Logger,
		send:    make(chan []byte, opts.WriteQueue),
		pending: make(map[uint64]chan *Response),
		subs:     make(map[*Stream]struct{}),
		watchers: make(map[chan FlightStatusMessage]struct{}),
		closed:   make(chan struct{}),
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()

	c.logger.Debug("connected to ledger", "url", url)
	return c, nil
}

// Accounts implements Client.
func (c *WSClient) Accounts(ctx context.Context) ([]string, error) {
	var res AccountsResult
	if err := c.call(ctx, CmdAccounts, nil, &res); err != nil {
		return nil, err
	}
	return res.Accounts, nil
}

// RegisterOracle implements Client.
func (c *WSClient) RegisterOracle(ctx context.Context, account string, fee *big.Int, gas uint64) (Receipt, error) {
	if fee == nil {
		return Receipt{}, NewError(CodeInvalidParams, "registration fee is required")
	}
	var rcpt Receipt
	err := c.call(ctx, CmdRegisterOracle, RegisterOracleParams{
		Account: account,
		Fee:     fee.String(),
		Gas:     gas,
	}, &rcpt)
	return rcpt, err
}

// GetMyIndexes implements Client.
func (c *WSClient) GetMyIndexes(ctx context.Context, account string) ([]uint8, error) {
	var res IndexesResult
	if err := c.call(ctx, CmdGetMyIndexes, AccountParams{Account: account}, &res); err != nil {
		return nil, err
	}
	indexes := make([]uint8, 0, len(res.Indexes))
	for _, idx := range res.Indexes {
		if idx < 0 || idx > 255 {
			return nil, fmt.Errorf("%s: index %d out of range", CmdGetMyIndexes, idx)
		}
		indexes = append(indexes, uint8(idx))
	}
	return indexes, nil
}

// SubmitOracleResponse implements Client.
func (c *WSClient) SubmitOracleResponse(ctx context.Context, resp OracleResponse, gas uint64) (Receipt, error) {
	var rcpt Receipt
	err := c.call(ctx, CmdSubmitOracleResponse, SubmitResponseParams{OracleResponse: resp, Gas: gas}, &rcpt)
	return rcpt, err
}

// FetchFlightStatus implements Client.
func (c *WSClient) FetchFlightStatus(ctx context.Context, account string, flight FlightKey) (uint8, error) {
	var res FetchFlightStatusResult
	if err := c.call(ctx, CmdFetchFlightStatus, FetchFlightStatusParams{Account: account, FlightKey: flight}, &res); err != nil {
		return 0, err
	}
	return res.Index, nil
}

// SubscribeOracleRequests implements Client.
func (c *WSClient) SubscribeOracleRequests(ctx context.Context) (Subscription, error) {
	var s *Stream
	s = NewStream(c.opts.StreamBuffer, func() { c.removeStream(s) })

	// Register before asking so nothing pushed right after the reply is lost.
	c.subsMu.Lock()
	select {
	case <-c.closed:
		c.subsMu.Unlock()
		return nil, fmt.Errorf("%s: %w", CmdSubscribe, c.closeErr)
	default:
	}
	c.subs[s] = struct{}{}
	c.subsMu.Unlock()

	var res SubscribeResult
	err := c.call(ctx, CmdSubscribe, SubscribeParams{Streams: []StreamType{StreamOracleRequests}}, &res)
	if err == nil && !res.Subscribed {
		err = NewError(CodeStreamMalformed, "ledger refused the oracle_requests stream")
	}
	if err != nil {
		s.Unsubscribe()
		return nil, err
	}
	return s, nil
}

// WatchFlightStatus subscribes to the statuses the ledger settles on. The
// channel is closed when ctx ends or the connection closes. Messages are
// dropped while the channel is full.
func (c *WSClient) WatchFlightStatus(ctx context.Context) (<-chan FlightStatusMessage, error) {
	ch := make(chan FlightStatusMessage, c.opts.StreamBuffer)

	c.subsMu.Lock()
	select {
	case <-c.closed:
		c.subsMu.Unlock()
		return nil, fmt.Errorf("%s: %w", CmdSubscribe, c.closeErr)
	default:
	}
	c.watchers[ch] = struct{}{}
	c.subsMu.Unlock()

	stop := func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		if _, ok := c.watchers[ch]; ok {
			delete(c.watchers, ch)
			close(ch)
		}
	}

	var res SubscribeResult
	err := c.call(ctx, CmdSubscribe, SubscribeParams{Streams: []StreamType{StreamFlightStatus}}, &res)
	if err == nil && !res.Subscribed {
		err = NewError(CodeStreamMalformed, "ledger refused the flight_status stream")
	}
	if err != nil {
		stop()
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-c.closed:
		}
	}()
	return ch, nil
}

// Done is closed once the connection is gone. A WSClient never reconnects;
// see Redialer.
func (c *WSClient) Done() <-chan struct{} { return c.closed }

// Close shuts the connection down, failing pending calls and live
// subscriptions with ErrClosed.
func (c *WSClient) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.shutdown(ErrClosed)
	c.wg.Wait()
	return nil
}

func (c *WSClient) call(ctx context.Context, command string, params, result interface{}) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("%s: encode params: %w", command, err)
	}
	id := c.nextID.Add(1)
	msg, err := json.Marshal(Command{ID: id, Command: command, Params: raw})
	if err != nil {
		return fmt.Errorf("%s: encode command: %w", command, err)
	}

	ch := make(chan *Response, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	select {
	case c.send <- msg:
	case <-ctx.Done():
		return contextError(command, ctx.Err())
	case <-c.closed:
		return fmt.Errorf("%s: %w", command, c.closeErr)
	}

	select {
	case resp := <-ch:
		if err := resp.Err(); err != nil {
			return err
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("%s: decode result: %w", command, err)
			}
		}
		return nil
	case <-ctx.Done():
		return contextError(command, ctx.Err())
	case <-c.closed:
		return fmt.Errorf("%s: %w", command, c.closeErr)
	}
}

func contextError(command string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", command, ErrTimeout)
	}
	return fmt.Errorf("%s: %w", command, err)
}

func (c *WSClient) readLoop() {
	defer c.wg.Done()

	pongWait := 2 * c.opts.PingInterval
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleMessage(data)
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		c.logger.Warn("dropping malformed ledger message", "error", err)
		return
	}

	switch head.Type {
	case TypeResponse:
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			c.logger.Warn("dropping malformed ledger response", "error", err)
			return
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.pendingMu.Unlock()
		if !ok {
			c.logger.Trace("response for abandoned call", "id", resp.ID)
			return
		}
		ch <- &resp

	case TypeOracleRequest:
		var msg OracleRequestMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("dropping malformed oracle request", "error", err)
			return
		}
		c.broadcast(msg.OracleRequest)

	case TypeFlightStatusInfo:
		var msg FlightStatusMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("dropping malformed flight status", "error", err)
			return
		}
		c.subsMu.Lock()
		for ch := range c.watchers {
			select {
			case ch <- msg:
			default:
			}
		}
		c.subsMu.Unlock()

	default:
		c.logger.Trace("ignoring stream message", "type", head.Type)
	}
}

func (c *WSClient) broadcast(req OracleRequest) {
	c.subsMu.Lock()
	targets := make([]*Stream, 0, len(c.subs))
	for s := range c.subs {
		targets = append(targets, s)
	}
	c.subsMu.Unlock()

	for _, s := range targets {
		s.Deliver(req)
	}
}

func (c *WSClient) writeLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.shutdown(fmt.Errorf("%w: write: %v", ErrClosed, err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(fmt.Errorf("%w: ping: %v", ErrClosed, err))
				return
			}
		}
	}
}

func (c *WSClient) removeStream(s *Stream) {
	c.subsMu.Lock()
	_, existed := c.subs[s]
	delete(c.subs, s)
	last := existed && len(c.subs) == 0
	c.subsMu.Unlock()

	if !last {
		return
	}
	select {
	case <-c.closed:
		return
	default:
	}

	// Best effort: nobody waits for the reply.
	raw, _ := json.Marshal(SubscribeParams{Streams: []StreamType{StreamOracleRequests}})
	msg, err := json.Marshal(Command{ID: c.nextID.Add(1), Command: CmdUnsubscribe, Params: raw})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
		c.logger.Debug("write queue full, skipping unsubscribe")
	}
}

func (c *WSClient) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.closeErr = cause
		close(c.closed)
		_ = c.conn.Close()

		c.subsMu.Lock()
		subs := c.subs
		c.subs = make(map[*Stream]struct{})
		for ch := range c.watchers {
			close(ch)
		}
		c.watchers = make(map[chan FlightStatusMessage]struct{})
		c.subsMu.Unlock()

		for s := range subs {
			s.Fail(cause)
		}
		if cause != ErrClosed {
			c.logger.Debug("ledger connection lost", "cause", cause)
		}
	})
}
