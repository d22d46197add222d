package model

import "encoding/json"

// OpRecord is one line of a replay operation log. Timestamp is unix
// seconds; zero keeps the clock where the previous operation left it.
type OpRecord struct {
	Op        string          `json:"op"`
	Caller    string          `json:"caller"`
	Timestamp int64           `json:"ts,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// OpError records an operation the protocol rejected.
type OpError struct {
	Line   uint64 `json:"line"`
	Op     string `json:"op"`
	Caller string `json:"caller"`
	Kind   string `json:"kind"`
	Code   string `json:"code,omitempty"`
	Error  string `json:"error"`
}
