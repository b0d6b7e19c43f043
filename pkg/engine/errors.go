package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an engine error for recovery logic.
type ErrorClass string

const (
	// ErrorClassGraph indicates a rule-graph topology defect (missing
	// rule, ambiguity, cycle). Detected before execution; always fatal.
	ErrorClassGraph ErrorClass = "graph"

	// ErrorClassDispatch indicates a registration defect discovered at
	// runtime, such as an unregistered union member. Fatal.
	ErrorClassDispatch ErrorClass = "dispatch"

	// ErrorClassValue indicates bad input data (malformed request field,
	// glob policy violation, digest merge conflict). Surfaced as the
	// result of the owning computation; callers may recover.
	ErrorClassValue ErrorClass = "value"

	// ErrorClassInternal indicates a defect in the engine itself.
	ErrorClassInternal ErrorClass = "internal"
)

// EngineError is a classified error with rule/request causal context.
// nolint:revive // named to distinguish engine failures from value errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Rule is the rule being resolved or executed, if applicable.
	Rule string `json:"rule,omitempty"`

	// RequestType names the request type involved, if applicable.
	RequestType string `json:"request_type,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var ctx string
	switch {
	case e.Rule != "" && e.RequestType != "":
		ctx = fmt.Sprintf(" (rule=%s, request=%s)", e.Rule, e.RequestType)
	case e.Rule != "":
		ctx = fmt.Sprintf(" (rule=%s)", e.Rule)
	case e.RequestType != "":
		ctx = fmt.Sprintf(" (request=%s)", e.RequestType)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s%s: %v", e.Class, e.Message, ctx, e.Err)
	}
	return fmt.Sprintf("[%s] %s%s", e.Class, e.Message, ctx)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is: two engine errors match when
// class and code match.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewGraphError creates a fatal rule-graph topology error.
func NewGraphError(code, message string) *EngineError {
	return &EngineError{Class: ErrorClassGraph, Code: code, Message: message}
}

// NewDispatchError creates a fatal union-dispatch error.
func NewDispatchError(code, message string) *EngineError {
	return &EngineError{Class: ErrorClassDispatch, Code: code, Message: message}
}

// NewValueError creates a recoverable value error.
func NewValueError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassValue, Code: ErrCodeValue, Message: message, Err: err}
}

// NewInternalError creates an engine-defect error.
func NewInternalError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassInternal, Code: ErrCodeInternal, Message: message, Err: err}
}

// WithRule adds rule context to the error.
func (e *EngineError) WithRule(rule string) *EngineError {
	e.Rule = rule
	return e
}

// WithRequestType adds request-type context to the error.
func (e *EngineError) WithRequestType(requestType string) *EngineError {
	e.RequestType = requestType
	return e
}

// IsFatal reports whether the error aborts the enclosing root query (graph,
// dispatch or internal errors) rather than being recoverable data.
func IsFatal(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class != ErrorClassValue
	}
	return false
}

// IsValueError reports whether the error is a recoverable value error.
func IsValueError(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassValue
	}
	return false
}

// ErrorCode extracts the engine error code, or "" for non-engine errors.
func ErrorCode(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Engine error codes.
const (
	ErrCodeNoRuleFound             = "NO_RULE_FOUND"
	ErrCodeAmbiguousRule           = "AMBIGUOUS_RULE"
	ErrCodeCycleDetected           = "CYCLE_DETECTED"
	ErrCodeUnregisteredUnionMember = "UNREGISTERED_UNION_MEMBER"
	ErrCodeProductMismatch         = "PRODUCT_MISMATCH"
	ErrCodeValue                   = "VALUE_ERROR"
	ErrCodeInternal                = "INTERNAL_ERROR"
)
