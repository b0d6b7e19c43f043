package goal

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"reflect"
	"time"

	"github.com/quarrybuild/quarry/pkg/digest"
	"github.com/quarrybuild/quarry/pkg/engine"
	"github.com/quarrybuild/quarry/pkg/sandbox"
	"github.com/quarrybuild/quarry/pkg/target"
)

// TestKind is the target kind the test goal consumes.
const TestKind = "shell_test"

// TestFieldSet is the union over per-language test request types. The test
// goal dispatches on whichever concrete variant a target kind maps to; new
// languages register a new member plus its rule without touching the goal.
type TestFieldSet interface {
	isTestFieldSet()
	TestTarget() target.Address
}

// ShellTestRequest asks for the shell tests of one target to be run. The
// input digest covers the test sources, so editing a test file changes the
// fingerprint and invalidates the memoized result.
type ShellTestRequest struct {
	Target         target.Address `json:"target"`
	SourceFiles    []string       `json:"source_files"`
	InputDigest    digest.Digest  `json:"input_digest"`
	Interpreter    string         `json:"interpreter"`
	TimeoutSeconds int64          `json:"timeout_seconds"`
}

func (ShellTestRequest) isTestFieldSet() {}

func (r ShellTestRequest) TestTarget() target.Address { return r.Target }

// TestResult is the product of running one target's tests.
type TestResult struct {
	Target   target.Address `json:"target"`
	ExitCode int            `json:"exit_code"`
	Log      []byte         `json:"log,omitempty"`
}

func (r TestResult) targetResult() TargetResult {
	res := TargetResult{
		Target:   r.Target,
		ExitCode: r.ExitCode,
		Outcome:  OutcomeSucceeded,
		Log:      r.Log,
	}
	if r.ExitCode != 0 {
		res.Outcome = OutcomeFailed
		res.Message = fmt.Sprintf("exit %d", r.ExitCode)
	}
	return res
}

// ProcessRequest routes a sandbox execution through the engine so that
// identical processes coalesce and memoize like any other computation.
type ProcessRequest struct {
	Spec sandbox.ProcessSpec `json:"spec"`
}

// ProcessValue wraps the result for engine transport.
type ProcessValue struct {
	Result sandbox.ProcessResult `json:"result"`
}

// executeProcessRule runs sandbox processes on behalf of other rules.
func executeProcessRule() engine.Rule {
	return engine.NewRule("execute_process",
		[]reflect.Type{engine.TypeOf[*sandbox.Runner]()},
		func(tc *engine.TaskContext, req ProcessRequest) (ProcessValue, error) {
			runner, err := engine.Param[*sandbox.Runner](tc)
			if err != nil {
				return ProcessValue{}, err
			}
			res, err := runner.Run(tc.Context(), &req.Spec)
			if err != nil {
				return ProcessValue{}, err
			}
			return ProcessValue{Result: *res}, nil
		})
}

// shellTestRule runs each test file of a target as its own sandboxed
// process, so per-file results are independently cached, and folds them
// into one TestResult.
func shellTestRule() engine.Rule {
	return engine.NewUnionRule("run_shell_tests",
		engine.TypeOf[TestFieldSet](),
		[]reflect.Type{engine.TypeOf[ProcessRequest](), engine.TypeOf[Tools]()},
		func(tc *engine.TaskContext, req ShellTestRequest) (TestResult, error) {
			tools, err := engine.Param[Tools](tc)
			if err != nil {
				return TestResult{}, err
			}
			interpreter := req.Interpreter
			if interpreter == "" {
				interpreter = "sh"
			}
			shPath, err := tools.Resolver.Resolve(interpreter)
			if err != nil {
				return TestResult{}, err
			}

			reqs := make([]any, len(req.SourceFiles))
			for i, file := range req.SourceFiles {
				reqs[i] = ProcessRequest{Spec: sandbox.ProcessSpec{
					Description: fmt.Sprintf("test %s (%s)", req.Target, file),
					Argv:        []string{shPath, file},
					Env:         map[string]string{"PATH": "/usr/bin:/bin"},
					InputDigest: req.InputDigest,
					Timeout:     time.Duration(req.TimeoutSeconds) * time.Second,
				}}
			}
			values, err := engine.MultiGet[ProcessValue](tc, reqs...)
			if err != nil {
				return TestResult{}, err
			}

			out := TestResult{Target: req.Target}
			var log bytes.Buffer
			for i, v := range values {
				r := v.Result
				if r.ExitCode != 0 && out.ExitCode == 0 {
					out.ExitCode = r.ExitCode
				}
				fmt.Fprintf(&log, "--- %s (exit %d)\n", req.SourceFiles[i], r.ExitCode)
				log.Write(r.Stdout)
				log.Write(r.Stderr)
			}
			out.Log = log.Bytes()
			return out, nil
		})
}

// TestGoal runs the tests of every eligible target, or of the addresses
// given as arguments.
func TestGoal() Goal {
	return Goal{
		Name: "test",
		Help: "Run tests for targets",
		Run:  runTest,
	}
}

func runTest(ctx context.Context, gc *Context, args []string) (int, error) {
	targets, err := selectTargets(gc.Targets, args, TestKind)
	if err != nil {
		return 1, err
	}

	if gc.Debug {
		if len(targets) != 1 {
			return 1, fmt.Errorf("debug mode requires exactly one target, got %d", len(targets))
		}
		return debugTest(ctx, gc, targets[0])
	}

	var results []TargetResult
	var addrs []target.Address
	var reqs []any
	for _, t := range targets {
		req, skip, err := shellTestRequestFor(ctx, gc, t)
		if err != nil {
			return 1, err
		}
		if skip != "" {
			results = append(results, TargetResult{
				Target:  t.Address,
				Outcome: OutcomeSkipped,
				Message: skip,
			})
			continue
		}
		addrs = append(addrs, t.Address)
		reqs = append(reqs, req)
	}

	results = append(results, gc.executeAll(ctx, addrs, reqs)...)
	summary := Summarize(results)
	summary.Render(gc.Out)
	return summary.ExitCode, nil
}

// shellTestRequestFor builds the engine request for one target. A non-empty
// skip reason means the target has nothing to run.
func shellTestRequestFor(ctx context.Context, gc *Context, t *target.Target) (ShellTestRequest, string, error) {
	ws := gc.Workspace.FS
	sources, err := target.ExpandSources(ws, t.Address.Dir, t.Sources, target.ExpandOptions{})
	if err != nil {
		return ShellTestRequest{}, "", fmt.Errorf("target %s: %w", t.Address, err)
	}
	if len(sources) == 0 {
		return ShellTestRequest{}, "no test sources", nil
	}

	snap, err := snapshotPaths(ctx, gc.Store, ws, sources)
	if err != nil {
		return ShellTestRequest{}, "", fmt.Errorf("target %s: %w", t.Address, err)
	}
	return ShellTestRequest{
		Target:         t.Address,
		SourceFiles:    sources,
		InputDigest:    snap.Digest,
		Interpreter:    t.StringField("runner", ""),
		TimeoutSeconds: t.IntField("timeout", 0),
	}, "", nil
}

// debugTest runs a single target's tests interactively, uncached, and
// surfaces the process's own exit code.
func debugTest(ctx context.Context, gc *Context, t *target.Target) (int, error) {
	req, skip, err := shellTestRequestFor(ctx, gc, t)
	if err != nil {
		return 1, err
	}
	if skip != "" {
		fmt.Fprintf(gc.Out, "skipped   %s (%s)\n", t.Address, skip)
		return 0, nil
	}

	interpreter := req.Interpreter
	if interpreter == "" {
		interpreter = "sh"
	}
	resolver := gc.Tools.Resolver
	if resolver == nil {
		resolver = sandbox.NewBinaryResolver(nil, nil)
	}
	shPath, err := resolver.Resolve(interpreter)
	if err != nil {
		return 1, err
	}

	argv := append([]string{shPath}, req.SourceFiles...)
	exit, err := gc.Sandbox.RunInteractive(ctx, &sandbox.ProcessSpec{
		Description: fmt.Sprintf("debug %s", t.Address),
		Argv:        argv,
		Env:         map[string]string{"PATH": "/usr/bin:/bin"},
		InputDigest: req.InputDigest,
		Uncacheable: true,
	})
	if err != nil {
		return 1, err
	}
	return exit, nil
}

// selectTargets filters the graph by kind and, when addresses are given,
// restricts to those targets after checking they are of the right kind.
func selectTargets(g *target.Graph, args []string, kind string) ([]*target.Target, error) {
	if len(args) == 0 {
		return g.WithKind(kind), nil
	}
	var out []*target.Target
	for _, arg := range args {
		addr, err := target.ParseAddress(arg)
		if err != nil {
			return nil, err
		}
		t, ok := g.Lookup(addr)
		if !ok {
			return nil, fmt.Errorf("no target at address %s", addr)
		}
		if t.Kind != kind {
			return nil, fmt.Errorf("target %s has kind %q, goal requires %q", addr, t.Kind, kind)
		}
		out = append(out, t)
	}
	return out, nil
}

// snapshotPaths reads workspace files into the digest store.
func snapshotPaths(ctx context.Context, store digest.Store, fsys fs.FS, paths []string) (digest.Snapshot, error) {
	files := make([]digest.FileEntry, 0, len(paths))
	for _, p := range paths {
		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return digest.Snapshot{}, fmt.Errorf("reading %s: %w", p, err)
		}
		files = append(files, digest.FileEntry{Path: p, Content: content, Executable: true})
	}
	return store.WriteFiles(ctx, files)
}
