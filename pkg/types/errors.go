package types

import (
	"errors"
	"fmt"
)

// ErrorCode classifies every failure a runtime surfaces to callers.
type ErrorCode string

const (
	CodeInvalidState       ErrorCode = "INVALID_STATE"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeAlreadyExists      ErrorCode = "ALREADY_EXISTS"
	CodeResourceConstraint ErrorCode = "RESOURCE_CONSTRAINT_VIOLATION"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeUnsupportedTarget  ErrorCode = "UNSUPPORTED_TARGET"
	CodeUnavailable        ErrorCode = "UNAVAILABLE"
	CodeAgentExecution     ErrorCode = "AGENT_EXECUTION_ERROR"
	CodeStateIO            ErrorCode = "STATE_IO_ERROR"
	CodeInternal           ErrorCode = "INTERNAL"
)

// Error is the structured error returned by every failed public call. NodeID
// is set when the error originated on a remote node.
type Error struct {
	Code    ErrorCode
	Message string
	NodeID  string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.NodeID != "" {
		msg += fmt.Sprintf(" (node %s)", e.NodeID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a structured error from the taxonomy.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a taxonomy code to an underlying cause.
func WrapError(code ErrorCode, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// FromNode rewraps an error with the node it originated on.
func FromNode(nodeID string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return &Error{Code: e.Code, Message: e.Message, NodeID: nodeID, Err: e.Err}
	}
	return &Error{Code: CodeInternal, Message: err.Error(), NodeID: nodeID}
}

// CodeOf extracts the taxonomy code from an error chain. Unclassified errors
// report INTERNAL; nil reports the empty code.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var v *ConstraintViolation
	if errors.As(err, &v) {
		return CodeResourceConstraint
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// ConstraintViolation reports the first resource limit a usage update
// exceeded.
type ConstraintViolation struct {
	Resource ResourceType
	Current  float64
	Limit    float64
	AgentID  string
}

func (v *ConstraintViolation) Error() string {
	msg := fmt.Sprintf("resource constraint violated: %s (%v > %v)",
		v.Resource, v.Current, v.Limit)
	if v.AgentID != "" {
		msg += " for agent " + v.AgentID
	}
	return msg
}
