package engine

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/quarrybuild/quarry/pkg/digest"
)

// A Rule is the engine's unit of computation: a named, pure mapping from a
// request type to a product type. Rule bodies receive a TaskContext through
// which they issue Get/MultiGet sub-requests; everything else they need
// must arrive through the request value or a declared param type.
//
// Requests must be deeply immutable value types with exported,
// JSON-serializable fields: the cache identity of an invocation is the
// rule name plus the canonical serialization of its request.
type Rule struct {
	// Name uniquely identifies the rule in diagnostics and cache keys.
	Name string

	// Request is the concrete request struct type that selects this rule.
	Request reflect.Type

	// Product is the result type the rule produces.
	Product reflect.Type

	// Union, when set, is the interface type this rule's request belongs
	// to. Rules sharing a union compete to satisfy requests for the
	// abstract type, dispatched by the concrete variant at runtime.
	Union reflect.Type

	// Deps declares the request types the rule body may issue as
	// sub-requests. The resolver verifies each is satisfiable before any
	// execution.
	Deps []reflect.Type

	run func(tc *TaskContext, req any) (any, error)
}

// TypeOf returns the reflect.Type of T without needing a value. It is the
// idiom for declaring rule dependencies and params:
//
//	Deps: []reflect.Type{engine.TypeOf[SourceFilesRequest]()}
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// NewRule builds a Rule from a typed body function.
func NewRule[Req any, Prod any](name string, deps []reflect.Type, body func(*TaskContext, Req) (Prod, error)) Rule {
	return Rule{
		Name:    name,
		Request: TypeOf[Req](),
		Product: TypeOf[Prod](),
		Deps:    deps,
		run: func(tc *TaskContext, req any) (any, error) {
			typed, ok := req.(Req)
			if !ok {
				return nil, NewInternalError(
					fmt.Sprintf("request type %T does not match rule signature", req), nil,
				).WithRule(name)
			}
			return body(tc, typed)
		},
	}
}

// NewUnionRule builds a Rule whose request type is a member of the given
// union interface. The union must be an interface type that Req implements;
// violations surface at resolution time.
func NewUnionRule[Req any, Prod any](name string, union reflect.Type, deps []reflect.Type, body func(*TaskContext, Req) (Prod, error)) Rule {
	r := NewRule(name, deps, body)
	r.Union = union
	return r
}

// fingerprintRequest computes the cache identity of a rule invocation: the
// rule name, the request type, and the canonical JSON serialization of the
// request value. encoding/json sorts map keys and walks struct fields in
// declaration order, so equal values always serialize identically. The
// request type is part of the key so that structurally identical payloads
// of different types never share a memo node.
func fingerprintRequest(ruleName string, reqType reflect.Type, req any) (digest.Fingerprint, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return 0, NewValueError("request is not serializable", err).WithRule(ruleName)
	}
	return digest.FingerprintOf([]byte(ruleName), []byte(requestTypeName(reqType)), payload), nil
}

// requestTypeName renders a request type for diagnostics.
func requestTypeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
