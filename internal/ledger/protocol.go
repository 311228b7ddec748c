package ledger

import (
	"encoding/json"
)

// Commands understood by a ledger node.
const (
	CmdAccounts             = "accounts"
	CmdRegisterOracle       = "register_oracle"
	CmdGetMyIndexes         = "get_my_indexes"
	CmdSubmitOracleResponse = "submit_oracle_response"
	CmdFetchFlightStatus    = "fetch_flight_status"
	CmdSubscribe            = "subscribe"
	CmdUnsubscribe          = "unsubscribe"
)

// StreamType names a subscribable event stream.
type StreamType string

const (
	StreamOracleRequests StreamType = "oracle_requests"
	StreamOracleReports  StreamType = "oracle_reports"
	StreamFlightStatus   StreamType = "flight_status"
)

// Message types pushed on streams.
const (
	TypeResponse         = "response"
	TypeOracleRequest    = "oracleRequest"
	TypeOracleReport     = "oracleReport"
	TypeFlightStatusInfo = "flightStatusInfo"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Command is the envelope of every request. Parameters sit at the top level
// next to the command name.
type Command struct {
	ID      uint64          `json:"id"`
	Command string          `json:"command"`
	Params  json.RawMessage `json:"-"`
}

// MarshalJSON flattens Params into the envelope.
func (c Command) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage)
	if len(c.Params) > 0 && string(c.Params) != "null" {
		if err := json.Unmarshal(c.Params, &fields); err != nil {
			return nil, err
		}
	}
	id, _ := json.Marshal(c.ID)
	name, _ := json.Marshal(c.Command)
	fields["id"] = id
	fields["command"] = name
	return json.Marshal(fields)
}

// UnmarshalJSON splits the envelope back into id, command and params.
func (c *Command) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if raw, ok := fields["id"]; ok {
		if err := json.Unmarshal(raw, &c.ID); err != nil {
			return err
		}
	}
	if raw, ok := fields["command"]; ok {
		if err := json.Unmarshal(raw, &c.Command); err != nil {
			return err
		}
	}
	delete(fields, "id")
	delete(fields, "command")
	params, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	c.Params = params
	return nil
}

// Response answers a Command with the same ID.
type Response struct {
	ID           uint64          `json:"id,omitempty"`
	Type         string          `json:"type"`
	Status       string          `json:"status,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	ErrorCode    int             `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// Err converts a failed response into an *Error.
func (r *Response) Err() error {
	if r.Status != StatusError {
		return nil
	}
	return &Error{Code: r.ErrorCode, ErrorString: r.Error, Message: r.ErrorMessage}
}

// Command parameters

type AccountParams struct {
	Account string `json:"account"`
}

type RegisterOracleParams struct {
	Account string `json:"account"`
	Fee     string `json:"fee"` // wei, base 10
	Gas     uint64 `json:"gas"`
}

type SubmitResponseParams struct {
	OracleResponse
	Gas uint64 `json:"gas"`
}

type FetchFlightStatusParams struct {
	Account string `json:"account"`
	FlightKey
}

type SubscribeParams struct {
	Streams []StreamType `json:"streams"`
}

// Command results

type AccountsResult struct {
	Accounts []string `json:"accounts"`
}

// IndexesResult carries indexes as plain numbers; []uint8 would encode as a
// base64 string.
type IndexesResult struct {
	Indexes []int `json:"indexes"`
}

type FetchFlightStatusResult struct {
	Index uint8 `json:"index"`
}

type SubscribeResult struct {
	Subscribed bool `json:"subscribed"`
}

// Stream messages

type OracleRequestMessage struct {
	Type string `json:"type"`
	OracleRequest
}

type OracleReportMessage struct {
	Type string `json:"type"`
	OracleResponse
}

type FlightStatusMessage struct {
	Type string `json:"type"`
	FlightKey
	StatusCode uint8 `json:"status_code"`
}
