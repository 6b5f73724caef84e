package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotConnected is returned for calls on a session without a live
	// transport, and to calls still pending when the session is torn down.
	ErrNotConnected = errors.New("not connected")
	// ErrTimeout is returned when a call's deadline passes before its
	// response arrives.
	ErrTimeout = errors.New("request timed out")
)

// ConnectionFailedError reports a transport that broke underneath the
// session, e.g. a malformed frame or an unexpected EOF.
type ConnectionFailedError struct {
	Reason string
	Err    error
}

func (e *ConnectionFailedError) Error() string {
	return "connection failed: " + e.Reason
}

func (e *ConnectionFailedError) Unwrap() error { return e.Err }

// ProtocolError is an error object reported by the tool provider.
type ProtocolError struct {
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("JSON-RPC error (code %d): %s", e.Code, e.Message)
}

type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %q", e.Name)
}

type MissingRequiredParameterError struct {
	Name string
}

func (e *MissingRequiredParameterError) Error() string {
	return fmt.Sprintf("missing required parameter %q", e.Name)
}

type InvalidParameterTypeError struct {
	Name     string
	Expected string
}

func (e *InvalidParameterTypeError) Error() string {
	return fmt.Sprintf("parameter %q must be of type %s", e.Name, e.Expected)
}

type InvalidEnumValueError struct {
	Name    string
	Allowed []string
}

func (e *InvalidEnumValueError) Error() string {
	return fmt.Sprintf("parameter %q must be one of [%s]", e.Name, strings.Join(e.Allowed, ", "))
}

// ExecutionFailedError wraps a tool call that reached the provider but did
// not produce a usable result.
type ExecutionFailedError struct {
	Reason string
	Err    error
}

func (e *ExecutionFailedError) Error() string {
	return "execution failed: " + e.Reason
}

func (e *ExecutionFailedError) Unwrap() error { return e.Err }

// SchemaInferenceWarning flags a tool whose non-empty schema yielded no
// parameters. It is logged, never returned to callers.
type SchemaInferenceWarning struct {
	Tool   string
	Reason string
}

func (e *SchemaInferenceWarning) Error() string {
	return fmt.Sprintf("schema inference warning for %q: %s", e.Tool, e.Reason)
}

// FailurePrefix marks failures in the visible chat log.
const FailurePrefix = "[error] "

// Describe renders err as a short chat line with the failure marker.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	return FailurePrefix + err.Error()
}
