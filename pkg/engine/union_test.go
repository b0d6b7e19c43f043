package engine

import (
	"context"
	"reflect"
	"testing"
)

func TestUnionRegistry_Register_RejectsNonInterface(t *testing.T) {
	r := NewUnionRegistry()
	err := r.Register(TypeOf[shellVariant](), TypeOf[pythonVariant]())
	if err == nil {
		t.Fatal("Register() with struct union expected error")
	}
}

func TestUnionRegistry_Register_RejectsNonImplementingMember(t *testing.T) {
	r := NewUnionRegistry()
	err := r.Register(TypeOf[testVariant](), TypeOf[leafRequest]())
	if err == nil {
		t.Fatal("Register() with non-implementing member expected error")
	}
}

func TestUnionRegistry_Members_SortedAndQueryable(t *testing.T) {
	r := NewUnionRegistry()
	union := TypeOf[testVariant]()
	for _, m := range []reflect.Type{TypeOf[shellVariant](), TypeOf[pythonVariant]()} {
		if err := r.Register(union, m); err != nil {
			t.Fatalf("Register(%v) error = %v", m, err)
		}
	}

	members := r.Members(union)
	if len(members) != 2 {
		t.Fatalf("Members() len = %d, want 2", len(members))
	}
	if members[0].String() > members[1].String() {
		t.Errorf("Members() not sorted: %v", members)
	}
	if !r.IsMember(union, TypeOf[shellVariant]()) {
		t.Error("IsMember(shellVariant) = false, want true")
	}
	if r.IsMember(union, TypeOf[leafRequest]()) {
		t.Error("IsMember(leafRequest) = true, want false")
	}
}

type runOutcome struct {
	Runner string
	Path   string
}

func shellRunnerRule() Rule {
	return NewUnionRule("run_shell_test", TypeOf[testVariant](), nil,
		func(tc *TaskContext, req shellVariant) (runOutcome, error) {
			return runOutcome{Runner: "shell", Path: req.Path}, nil
		})
}

func TestScheduler_UnionDispatch_RoutesByConcreteType(t *testing.T) {
	rs := NewRuleSet().Register(
		shellRunnerRule(),
		NewUnionRule("run_python_test", TypeOf[testVariant](), nil,
			func(tc *TaskContext, req pythonVariant) (runOutcome, error) {
				return runOutcome{Runner: "python", Path: req.Path}, nil
			}),
	)
	g, err := Resolve(rs)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	s := NewScheduler(g, Options{Parallelism: 2})
	ctx := context.Background()

	cases := []struct {
		req        any
		wantRunner string
	}{
		{shellVariant{Path: "a_test.sh"}, "shell"},
		{pythonVariant{Path: "b_test.py"}, "python"},
	}
	for _, tc := range cases {
		got, err := s.Execute(ctx, tc.req)
		if err != nil {
			t.Fatalf("Execute(%T) error = %v", tc.req, err)
		}
		if got.(runOutcome).Runner != tc.wantRunner {
			t.Errorf("Execute(%T) runner = %q, want %q", tc.req, got.(runOutcome).Runner, tc.wantRunner)
		}
	}

	candidates := g.UnionCandidates(TypeOf[testVariant]())
	if len(candidates) != 2 {
		t.Errorf("UnionCandidates() len = %d, want 2", len(candidates))
	}
}

func TestScheduler_UnionDispatch_UnregisteredMember(t *testing.T) {
	// Only the shell variant carries a rule. Requesting the python
	// variant, which implements the union but was never registered,
	// is a registration defect rather than a missing-rule defect.
	g, err := Resolve(NewRuleSet().Register(shellRunnerRule()))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	s := NewScheduler(g, Options{})

	_, err = s.Execute(context.Background(), pythonVariant{Path: "b_test.py"})
	if err == nil {
		t.Fatal("Execute() expected error for unregistered union member")
	}
	if ErrorCode(err) != ErrCodeUnregisteredUnionMember {
		t.Errorf("code = %q, want %q", ErrorCode(err), ErrCodeUnregisteredUnionMember)
	}
	if !IsFatal(err) {
		t.Error("IsFatal() = false for dispatch error, want true")
	}
}
