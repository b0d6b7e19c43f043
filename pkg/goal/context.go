package goal

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"sync"
	"time"

	"github.com/quarrybuild/quarry/pkg/digest"
	"github.com/quarrybuild/quarry/pkg/engine"
	"github.com/quarrybuild/quarry/pkg/sandbox"
	"github.com/quarrybuild/quarry/pkg/target"
	"github.com/quarrybuild/quarry/pkg/telemetry"
)

// Workspace is the read-only source tree goals resolve globs against. It
// is injected into rules as a scheduler param.
type Workspace struct {
	FS fs.FS
}

// Tools exposes binary resolution to rules as a scheduler param.
type Tools struct {
	Resolver *sandbox.BinaryResolver
}

// Context carries everything a goal needs for one invocation. Goals own no
// state of their own; all shared state lives in the scheduler's memo table
// and the digest store.
type Context struct {
	Scheduler *engine.Scheduler
	Targets   *target.Graph
	Workspace Workspace
	Sandbox   *sandbox.Runner
	Tools     Tools
	Store     digest.Store
	Telemetry *telemetry.Telemetry
	Out       io.Writer

	// Force bypasses memoized results for the whole subgraph beneath
	// each per-target request.
	Force bool

	// Debug runs a single target interactively instead of batching.
	Debug bool

	// RunID tags telemetry for this invocation.
	RunID string
}

func (c *Context) execute(ctx context.Context, req any) (any, error) {
	if c.Force {
		return c.Scheduler.ExecuteForced(ctx, req)
	}
	return c.Scheduler.Execute(ctx, req)
}

// executeAll dispatches one request per target concurrently and pairs each
// answer with its address. Engine-level failures for one target become
// failed results; they never abort the sibling targets or the goal.
func (c *Context) executeAll(ctx context.Context, addrs []target.Address, reqs []any) []TargetResult {
	results := make([]TargetResult, len(reqs))
	var wg sync.WaitGroup
	for i := range reqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.execute(ctx, reqs[i])
			if err != nil {
				results[i] = TargetResult{
					Target:   addrs[i],
					Outcome:  OutcomeFailed,
					ExitCode: 1,
					Message:  err.Error(),
				}
				return
			}
			product, ok := v.(interface{ targetResult() TargetResult })
			if !ok {
				results[i] = TargetResult{
					Target:   addrs[i],
					Outcome:  OutcomeFailed,
					ExitCode: 1,
					Message:  fmt.Sprintf("product %T does not carry a target result", v),
				}
				return
			}
			results[i] = product.targetResult()
		}(i)
	}
	wg.Wait()
	return results
}

// Goal is a named entry point yielding a process exit code.
type Goal struct {
	Name string
	Help string
	Run  func(ctx context.Context, gc *Context, args []string) (int, error)
}

// run wraps goal execution with telemetry.
func (g Goal) Execute(ctx context.Context, gc *Context, args []string) (int, error) {
	tel := gc.Telemetry
	if tel == nil {
		tel = telemetry.Nop()
	}
	spanCtx, span := tel.Tracer.StartGoalSpan(ctx, g.Name, gc.RunID)
	defer span.End()
	tel.Events.PublishRunStarted(gc.RunID, g.Name)

	start := time.Now()
	exit, err := g.Run(spanCtx, gc, args)
	elapsed := time.Since(start)

	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}
	tel.Metrics.GoalCompleted(g.Name, exit, elapsed)
	tel.Events.PublishRunCompleted(gc.RunID, exit, elapsed)
	return exit, err
}
