package engine

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

type sourcesRequest struct{ Dir string }
type sourcesResult struct{ Files []string }

type compileRequest struct{ Dir string }
type compileResult struct{ Digest string }

type linkRequest struct{ Out string }
type linkResult struct{ Binary string }

func compileRule() Rule {
	return NewRule("compile",
		[]reflect.Type{TypeOf[sourcesRequest]()},
		func(tc *TaskContext, req compileRequest) (compileResult, error) {
			return compileResult{}, nil
		})
}

func sourcesRule() Rule {
	return NewRule("sources", nil,
		func(tc *TaskContext, req sourcesRequest) (sourcesResult, error) {
			return sourcesResult{}, nil
		})
}

func TestResolve_LinearChain(t *testing.T) {
	rs := NewRuleSet().Register(sourcesRule(), compileRule())

	g, err := Resolve(rs)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if g.RuleCount() != 2 {
		t.Errorf("RuleCount() = %d, want 2", g.RuleCount())
	}
	if _, ok := g.RuleFor(TypeOf[compileRequest]()); !ok {
		t.Error("RuleFor(compileRequest) not found")
	}
}

func TestResolve_NoRuleFound(t *testing.T) {
	// compile depends on sourcesRequest but no rule produces it.
	rs := NewRuleSet().Register(compileRule())

	_, err := Resolve(rs)
	if err == nil {
		t.Fatal("Resolve() expected error, got nil")
	}
	var ee *EngineError
	if !errors.As(err, &ee) {
		t.Fatalf("Resolve() error type = %T, want *EngineError", err)
	}
	if ee.Code != ErrCodeNoRuleFound {
		t.Errorf("Code = %q, want %q", ee.Code, ErrCodeNoRuleFound)
	}
	if !strings.Contains(ee.Message, "sourcesRequest") {
		t.Errorf("message %q should name the unsatisfied request type", ee.Message)
	}
}

func TestResolve_ParamSatisfiesDependency(t *testing.T) {
	rs := NewRuleSet().
		Register(compileRule()).
		ProvideParams(TypeOf[sourcesRequest]())

	if _, err := Resolve(rs); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
}

func TestResolve_AmbiguousRule(t *testing.T) {
	rs := NewRuleSet().Register(
		sourcesRule(),
		NewRule("sources_again", nil,
			func(tc *TaskContext, req sourcesRequest) (sourcesResult, error) {
				return sourcesResult{}, nil
			}),
	)

	_, err := Resolve(rs)
	if err == nil {
		t.Fatal("Resolve() expected error, got nil")
	}
	var ee *EngineError
	if !errors.As(err, &ee) {
		t.Fatalf("Resolve() error type = %T, want *EngineError", err)
	}
	if ee.Code != ErrCodeAmbiguousRule {
		t.Errorf("Code = %q, want %q", ee.Code, ErrCodeAmbiguousRule)
	}
	for _, name := range []string{"sources", "sources_again"} {
		if !strings.Contains(ee.Message, name) {
			t.Errorf("message %q should name rule %q", ee.Message, name)
		}
	}
}

func TestResolve_DuplicateRuleName(t *testing.T) {
	// The rule name is half of every memo key: two rules sharing one would
	// alias each other's cache entries even with distinct request types.
	rs := NewRuleSet().Register(
		NewRule("derive", nil,
			func(tc *TaskContext, req sourcesRequest) (sourcesResult, error) {
				return sourcesResult{}, nil
			}),
		NewRule("derive", nil,
			func(tc *TaskContext, req compileRequest) (compileResult, error) {
				return compileResult{}, nil
			}),
	)

	_, err := Resolve(rs)
	if err == nil {
		t.Fatal("Resolve() expected error, got nil")
	}
	var ee *EngineError
	if !errors.As(err, &ee) {
		t.Fatalf("Resolve() error type = %T, want *EngineError", err)
	}
	if ee.Code != ErrCodeAmbiguousRule {
		t.Errorf("Code = %q, want %q", ee.Code, ErrCodeAmbiguousRule)
	}
	for _, typeName := range []string{"sourcesRequest", "compileRequest"} {
		if !strings.Contains(ee.Message, typeName) {
			t.Errorf("message %q should name request type %q", ee.Message, typeName)
		}
	}
}

func TestResolve_CycleDetected(t *testing.T) {
	rs := NewRuleSet().Register(
		NewRule("compile",
			[]reflect.Type{TypeOf[linkRequest]()},
			func(tc *TaskContext, req compileRequest) (compileResult, error) {
				return compileResult{}, nil
			}),
		NewRule("link",
			[]reflect.Type{TypeOf[compileRequest]()},
			func(tc *TaskContext, req linkRequest) (linkResult, error) {
				return linkResult{}, nil
			}),
	)

	_, err := Resolve(rs)
	if err == nil {
		t.Fatal("Resolve() expected error, got nil")
	}
	var ee *EngineError
	if !errors.As(err, &ee) {
		t.Fatalf("Resolve() error type = %T, want *EngineError", err)
	}
	if ee.Code != ErrCodeCycleDetected {
		t.Errorf("Code = %q, want %q", ee.Code, ErrCodeCycleDetected)
	}
	if !strings.Contains(ee.Message, "->") {
		t.Errorf("message %q should show the cycle path", ee.Message)
	}
}

func TestResolve_UnionMemberWithoutRule(t *testing.T) {
	rs := NewRuleSet()
	if err := rs.RegisterUnion(TypeOf[testVariant](), TypeOf[shellVariant]()); err != nil {
		t.Fatalf("RegisterUnion() error = %v", err)
	}

	_, err := Resolve(rs)
	if err == nil {
		t.Fatal("Resolve() expected error, got nil")
	}
	var ee *EngineError
	if !errors.As(err, &ee) {
		t.Fatalf("Resolve() error type = %T, want *EngineError", err)
	}
	if ee.Code != ErrCodeNoRuleFound {
		t.Errorf("Code = %q, want %q", ee.Code, ErrCodeNoRuleFound)
	}
}

// testVariant is a union over language-specific test runners.
type testVariant interface{ isTestVariant() }

type shellVariant struct{ Path string }

func (shellVariant) isTestVariant() {}

type pythonVariant struct{ Path string }

func (pythonVariant) isTestVariant() {}
