package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"

	"github.com/quarrybuild/quarry/pkg/sandbox"
	"github.com/quarrybuild/quarry/pkg/telemetry"
)

// Engine evaluates Rego admission policies against process specs. It
// implements sandbox.AdmissionPolicy.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy

	// allowNetwork is surfaced to policies as input.allow_network.
	allowNetwork bool

	tel *telemetry.Telemetry
	log *telemetry.Logger
}

type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	compiled time.Time
}

// Options configures a policy engine.
type Options struct {
	// AllowNetwork admits networked process specs. Policies still see
	// the flag and may layer stricter conditions.
	AllowNetwork bool

	Telemetry *telemetry.Telemetry
}

// NewEngine creates an engine preloaded with the built-in policies.
func NewEngine(opts Options) (*Engine, error) {
	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.Nop()
	}
	e := &Engine{
		policies:     make(map[string]*compiledPolicy),
		allowNetwork: opts.AllowNetwork,
		tel:          tel,
		log:          tel.Logger.NewComponentLogger("policy"),
	}
	for _, p := range GetBuiltinPolicies() {
		if err := e.compileAndStore(p); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", p.Name, err)
		}
	}
	return e, nil
}

// LoadPolicies compiles additional policies, typically loaded from a
// workspace policy directory. Later policies replace same-named ones.
func (e *Engine) LoadPolicies(policies []Policy) error {
	for _, p := range policies {
		if err := e.compileAndStore(p); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
	}
	return nil
}

func (e *Engine) compileAndStore(p Policy) error {
	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}
	policy := p
	e.mu.Lock()
	e.policies[p.Name] = &compiledPolicy{
		policy:   &policy,
		module:   module,
		compiled: time.Now(),
	}
	e.mu.Unlock()
	e.log.WithField("policy", p.Name).Debug("policy compiled")
	return nil
}

// ListPolicies returns all loaded policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		out = append(out, *cp.policy)
	}
	return out
}

// SetEnabled toggles one policy by name.
func (e *Engine) SetEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	return nil
}

// Admit implements sandbox.AdmissionPolicy: the spec runs only if no
// error-severity policy denies it. Warning-severity denials are logged and
// published but do not block execution.
func (e *Engine) Admit(ctx context.Context, spec *sandbox.ProcessSpec) error {
	violations, err := e.Evaluate(ctx, inputFor(spec, e.allowNetwork))
	if err != nil {
		return err
	}

	var denied []string
	for _, v := range violations {
		e.publishViolation(v)
		if v.Severity == SeverityError {
			denied = append(denied, v.Message)
		} else {
			e.log.WithField("policy", v.Policy).Warn(v.Message)
		}
	}
	if len(denied) > 0 {
		return fmt.Errorf("process %q denied by policy: %s",
			spec.Description, strings.Join(denied, "; "))
	}
	return nil
}

// Evaluate runs every enabled policy against an input and collects the
// violations.
func (e *Engine) Evaluate(ctx context.Context, input Input) ([]Violation, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var violations []Violation
	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}
		found, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			return nil, fmt.Errorf("policy %s evaluation failed: %w", cp.policy.Name, err)
		}
		violations = append(violations, found...)
	}
	return violations, nil
}

func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input Input) ([]Violation, error) {
	query := cp.module.Package.Path.String() + ".deny"

	r := rego.New(
		rego.Module(cp.policy.Name, cp.policy.Rego),
		rego.Query(query),
		rego.Input(input),
	)
	results, err := r.Eval(ctx)
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, result := range results {
		for _, expr := range result.Expressions {
			denySet, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range denySet {
				violations = append(violations, Violation{
					Policy:   cp.policy.Name,
					Severity: cp.policy.Severity,
					Message:  messageOf(d),
				})
			}
		}
	}
	return violations, nil
}

func messageOf(result interface{}) string {
	switch v := result.(type) {
	case string:
		return v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			return msg
		}
	}
	return fmt.Sprintf("%v", result)
}

func (e *Engine) publishViolation(v Violation) {
	level := telemetry.EventLevelWarning
	if v.Severity == SeverityError {
		level = telemetry.EventLevelError
	}
	e.tel.Events.Publish(telemetry.Event{
		Type:    telemetry.EventTypePolicyViolation,
		Message: v.Message,
		Level:   level,
		Data:    map[string]interface{}{"policy": v.Policy},
	})
}

func inputFor(spec *sandbox.ProcessSpec, allowNetwork bool) Input {
	return Input{
		Process: ProcessInput{
			Description: spec.Description,
			Argv:        spec.Argv,
			Env:         spec.Env,
			WorkingDir:  spec.WorkingDir,
			OutputGlobs: spec.OutputGlobs,
			Network:     spec.Network,
		},
		AllowNetwork: allowNetwork,
	}
}
