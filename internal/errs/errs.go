// Package errs defines the gateway's error-kind vocabulary and its mapping
// onto HTTP status codes, generalized from the teacher's CLI-facing
// internal/cli/errors.ClassifiedError into a propagation-facing type.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind enumerates the error kinds propagated to API callers and logs.
type Kind string

const (
	BadInput          Kind = "bad-input"
	UnknownServer     Kind = "unknown-server"
	UnknownTool       Kind = "unknown-tool"
	Conflict          Kind = "conflict"
	ImmutableField    Kind = "immutable-field"
	CommandDenied     Kind = "command-denied"
	NotRunning        Kind = "not-running"
	AlreadyRunning    Kind = "already-running"
	ChildSpawn        Kind = "child-spawn"
	ChildExited       Kind = "child-exited"
	ChildWriteTimeout Kind = "child-write-timeout"
	MCPHandshake      Kind = "mcp-handshake"
	MCPTimeout        Kind = "mcp-timeout"
	MCPProtocol       Kind = "mcp-protocol"
	Backpressure      Kind = "backpressure"
	InvalidState      Kind = "invalid-state"
	MissingClientID   Kind = "missing-client-id"
	MissingCredential Kind = "missing-credential"
	OAuthExchange     Kind = "oauth-exchange"
	AuthOverflow      Kind = "auth-overflow"
	ShuttingDown      Kind = "shutting-down"
	Internal          Kind = "internal"
)

// statusTable is the single source of truth for Kind -> HTTP status.
// Handlers must never hand-roll a status code for a GatewayError.
var statusTable = map[Kind]int{
	BadInput:          http.StatusBadRequest,
	UnknownServer:     http.StatusNotFound,
	UnknownTool:       http.StatusNotFound,
	Conflict:          http.StatusConflict,
	ImmutableField:    http.StatusConflict,
	CommandDenied:     http.StatusBadRequest,
	NotRunning:        http.StatusServiceUnavailable,
	AlreadyRunning:    http.StatusConflict,
	ChildSpawn:        http.StatusBadGateway,
	ChildExited:       http.StatusBadGateway,
	ChildWriteTimeout: http.StatusGatewayTimeout,
	MCPHandshake:      http.StatusBadGateway,
	MCPTimeout:        http.StatusGatewayTimeout,
	MCPProtocol:       http.StatusBadGateway,
	Backpressure:      http.StatusServiceUnavailable,
	InvalidState:      http.StatusBadRequest,
	MissingClientID:   http.StatusInternalServerError,
	MissingCredential: http.StatusInternalServerError,
	OAuthExchange:     http.StatusBadGateway,
	AuthOverflow:      http.StatusServiceUnavailable,
	ShuttingDown:      http.StatusServiceUnavailable,
	Internal:          http.StatusInternalServerError,
}

// GatewayError is the error type every component returns for conditions
// that must be visible to API callers. Wrap a lower-level cause with New
// so the HTTP layer can translate it without string-matching.
type GatewayError struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string) *GatewayError {
	return &GatewayError{Kind: kind, Message: message}
}

func Wrap(kind Kind, cause error, message string) *GatewayError {
	return &GatewayError{Kind: kind, Message: message, Cause: cause}
}

func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Cause }

// HTTPStatus returns the status code for a Kind, defaulting to 500/internal
// for kinds not in the table (there should be none).
func (k Kind) HTTPStatus() int {
	if s, ok := statusTable[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// As extracts a *GatewayError from err, returning (nil, false) if err does
// not wrap one — in which case callers should treat it as Internal.
func As(err error) (*GatewayError, bool) {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is (or wraps) a GatewayError, else
// Internal.
func KindOf(err error) Kind {
	if ge, ok := As(err); ok {
		return ge.Kind
	}
	return Internal
}
