// Package jsonrpc implements the JSON-RPC 2.0 envelope and the dispatcher that
// routes MCP tool calls to the registry.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the only accepted jsonrpc member value.
const Version = "2.0"

// Error codes used on the wire.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// NullID is the identifier used when none can be read from the request.
var NullID = json.RawMessage("null")

// Response represents an MCP JSON-RPC response. Exactly one of Result and
// Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// Error wraps JSON-RPC error payload.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

func errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ErrorResponse serializes an error envelope. A nil or empty id becomes null.
func ErrorResponse(id json.RawMessage, code int, message string) []byte {
	data, _ := json.Marshal(Response{JSONRPC: Version, Error: &Error{Code: code, Message: message}, ID: normalizeID(id)})
	return data
}

func resultResponse(id json.RawMessage, result any) ([]byte, error) {
	return json.Marshal(Response{JSONRPC: Version, Result: result, ID: normalizeID(id)})
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(id)) == 0 {
		return NullID
	}
	return id
}

// validID reports whether raw is a string, number or null.
func validID(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch raw[0] {
	case '"':
		var s string
		return json.Unmarshal(raw, &s) == nil
	case 'n':
		return string(raw) == "null"
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		return json.Unmarshal(raw, &n) == nil
	}
	return false
}

// ReadID extracts the identifier of a raw request, or null when the input is
// not a JSON object or carries no usable id.
func ReadID(raw []byte) json.RawMessage {
	var envelope struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || !validID(envelope.ID) {
		return NullID
	}
	return envelope.ID
}

// Compact strips insignificant whitespace so an envelope fits on one line.
func Compact(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
