// Package devnet runs a simulated ledger node speaking the oracle wire
// protocol, for local development and integration tests.
package devnet

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/LeJamon/goOracled/internal/ledger"
	"github.com/LeJamon/goOracled/internal/ledger/memledger"
)

const (
	readLimit  = 512 * 1024
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
	sendBuffer = 256
)

// Server serves a memledger.Ledger over WebSocket.
type Server struct {
	upgrader websocket.Upgrader
	ledger   *memledger.Ledger
	logger   hclog.Logger

	mu    sync.RWMutex
	conns map[string]*connection

	removeListener func()
	closeOnce      sync.Once
}

type connection struct {
	id   string
	ws   *websocket.Conn
	send chan []byte

	mu      sync.RWMutex
	streams map[ledger.StreamType]bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer returns a Server publishing every event of l to subscribed
// connections. logger may be nil.
func NewServer(l *memledger.Ledger, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	s := &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ledger: l,
		logger: logger,
		conns:  make(map[string]*connection),
	}
	s.removeListener = l.AddListener(s.publish)
	return s
}

// Handler routes /ws to the WebSocket endpoint and /health to a liveness
// check.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", s)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "ok",
			"service":     "devnet",
			"accounts":    len(s.ledger.Accounts()),
			"connections": s.Connections(),
		})
	})
	return mux
}

// ServeHTTP upgrades the request and serves the connection.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &connection{
		id:      uuid.NewString(),
		ws:      ws,
		send:    make(chan []byte, sendBuffer),
		streams: make(map[ledger.StreamType]bool),
		ctx:     ctx,
		cancel:  cancel,
	}

	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
	s.logger.Debug("connection opened", "conn", c.id, "remote", ws.RemoteAddr().String())

	go s.readLoop(c)
	go s.writeLoop(c)
}

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// DropConnections closes every open connection, as a node restart would.
func (s *Server) DropConnections() {
	s.mu.RLock()
	conns := make([]*connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		s.closeConnection(c)
	}
}

// Close stops publishing and closes every connection.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.removeListener()
		s.DropConnections()
	})
}

func (s *Server) readLoop(c *connection) {
	defer s.closeConnection(c)

	c.ws.SetReadLimit(readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Debug("connection read failed", "conn", c.id, "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		s.handleMessage(c, data)
	}
}

func (s *Server) writeLoop(c *connection) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.Debug("connection write failed", "conn", c.id, "error", err)
				s.closeConnection(c)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.closeConnection(c)
				return
			}
		}
	}
}

func (s *Server) closeConnection(c *connection) {
	s.mu.Lock()
	_, open := s.conns[c.id]
	delete(s.conns, c.id)
	s.mu.Unlock()
	if !open {
		return
	}

	c.cancel()
	_ = c.ws.Close()
	s.logger.Debug("connection closed", "conn", c.id)
}

// handleMessage runs subscription changes inline so they take effect in
// order; ledger calls run concurrently so a slow call does not hold up the
// connection.
func (s *Server) handleMessage(c *connection, data []byte) {
	var cmd ledger.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.sendError(c, 0, ledger.NewError(ledger.CodeParseError, err.Error()))
		return
	}
	if cmd.Command == "" {
		s.sendError(c, cmd.ID, ledger.NewError(ledger.CodeInvalidParams, "missing command"))
		return
	}

	switch cmd.Command {
	case ledger.CmdSubscribe, ledger.CmdUnsubscribe:
		s.handleSubscription(c, cmd)
		return
	}

	go func() {
		result, err := s.dispatch(c.ctx, cmd)
		if err != nil {
			s.sendError(c, cmd.ID, err)
			return
		}
		s.sendResult(c, cmd.ID, result)
	}()
}

func (s *Server) dispatch(ctx context.Context, cmd ledger.Command) (interface{}, error) {
	switch cmd.Command {
	case ledger.CmdAccounts:
		return ledger.AccountsResult{Accounts: s.ledger.Accounts()}, nil

	case ledger.CmdRegisterOracle:
		var p ledger.RegisterOracleParams
		if err := decodeParams(cmd, &p); err != nil {
			return nil, err
		}
		fee, ok := new(big.Int).SetString(p.Fee, 10)
		if !ok {
			return nil, ledger.NewError(ledger.CodeInvalidParams, "fee must be a base 10 integer")
		}
		return s.ledger.RegisterOracle(p.Account, fee, p.Gas)

	case ledger.CmdGetMyIndexes:
		var p ledger.AccountParams
		if err := decodeParams(cmd, &p); err != nil {
			return nil, err
		}
		idx, err := s.ledger.GetMyIndexes(p.Account)
		if err != nil {
			return nil, err
		}
		res := ledger.IndexesResult{Indexes: make([]int, len(idx))}
		for i, v := range idx {
			res.Indexes[i] = int(v)
		}
		return res, nil

	case ledger.CmdSubmitOracleResponse:
		var p ledger.SubmitResponseParams
		if err := decodeParams(cmd, &p); err != nil {
			return nil, err
		}
		return s.ledger.SubmitOracleResponse(ctx, p.OracleResponse, p.Gas)

	case ledger.CmdFetchFlightStatus:
		var p ledger.FetchFlightStatusParams
		if err := decodeParams(cmd, &p); err != nil {
			return nil, err
		}
		idx, err := s.ledger.FetchFlightStatus(p.Account, p.FlightKey)
		if err != nil {
			return nil, err
		}
		return ledger.FetchFlightStatusResult{Index: idx}, nil

	default:
		return nil, ledger.NewError(ledger.CodeUnknownCommand, cmd.Command)
	}
}

func (s *Server) handleSubscription(c *connection, cmd ledger.Command) {
	var p ledger.SubscribeParams
	if err := decodeParams(cmd, &p); err != nil {
		s.sendError(c, cmd.ID, err)
		return
	}
	if len(p.Streams) == 0 {
		s.sendError(c, cmd.ID, ledger.NewError(ledger.CodeInvalidParams, "no streams requested"))
		return
	}
	for _, st := range p.Streams {
		switch st {
		case ledger.StreamOracleRequests, ledger.StreamOracleReports, ledger.StreamFlightStatus:
		default:
			s.sendError(c, cmd.ID, ledger.NewError(ledger.CodeStreamMalformed, string(st)))
			return
		}
	}

	subscribe := cmd.Command == ledger.CmdSubscribe
	c.mu.Lock()
	for _, st := range p.Streams {
		if subscribe {
			c.streams[st] = true
		} else {
			delete(c.streams, st)
		}
	}
	c.mu.Unlock()

	if subscribe {
		s.sendResult(c, cmd.ID, ledger.SubscribeResult{Subscribed: true})
		return
	}
	s.sendResult(c, cmd.ID, map[string]bool{"unsubscribed": true})
}

// publish fans a ledger event out to the connections subscribed to its
// stream. A connection too slow to take an oracle request is closed, so its
// client sees the stream fail; other events are skipped for it.
func (s *Server) publish(stream ledger.StreamType, event interface{}) {
	var msg interface{}
	switch ev := event.(type) {
	case ledger.OracleRequest:
		msg = ledger.OracleRequestMessage{Type: ledger.TypeOracleRequest, OracleRequest: ev}
	case ledger.OracleResponse:
		msg = ledger.OracleReportMessage{Type: ledger.TypeOracleReport, OracleResponse: ev}
	case memledger.FlightStatus:
		msg = ledger.FlightStatusMessage{Type: ledger.TypeFlightStatusInfo, FlightKey: ev.FlightKey, StatusCode: ev.StatusCode}
	default:
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("cannot encode event", "stream", stream, "error", err)
		return
	}

	var slow []*connection
	s.mu.RLock()
	for _, c := range s.conns {
		c.mu.RLock()
		subscribed := c.streams[stream]
		c.mu.RUnlock()
		if !subscribed {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range slow {
		if stream == ledger.StreamOracleRequests {
			s.logger.Warn("closing connection too slow for oracle requests", "conn", c.id)
			s.closeConnection(c)
			continue
		}
		s.logger.Warn("skipping slow connection", "conn", c.id, "stream", stream)
	}
}

func (s *Server) sendResult(c *connection, id uint64, result interface{}) {
	raw, err := json.Marshal(result)
	if err != nil {
		s.sendError(c, id, ledger.NewError(ledger.CodeInternal, err.Error()))
		return
	}
	s.send(c, ledger.Response{ID: id, Type: ledger.TypeResponse, Status: ledger.StatusSuccess, Result: raw})
}

func (s *Server) sendError(c *connection, id uint64, err error) {
	var lerr *ledger.Error
	if !errors.As(err, &lerr) {
		lerr = ledger.NewError(ledger.CodeInternal, err.Error())
	}
	s.send(c, ledger.Response{
		ID:           id,
		Type:         ledger.TypeResponse,
		Status:       ledger.StatusError,
		Error:        lerr.ErrorString,
		ErrorCode:    lerr.Code,
		ErrorMessage: lerr.Message,
	})
}

func (s *Server) send(c *connection, resp ledger.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("cannot encode response", "error", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	default:
		s.logger.Warn("send queue full, closing connection", "conn", c.id)
		s.closeConnection(c)
	}
}

func decodeParams(cmd ledger.Command, v interface{}) error {
	if err := json.Unmarshal(cmd.Params, v); err != nil {
		return ledger.NewError(ledger.CodeInvalidParams, err.Error())
	}
	return nil
}
