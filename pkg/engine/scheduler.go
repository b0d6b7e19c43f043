package engine

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/quarrybuild/quarry/pkg/digest"
	"github.com/quarrybuild/quarry/pkg/telemetry"
)

// Options configures a Scheduler.
type Options struct {
	// Parallelism is the number of worker slots. Rule bodies hold a slot
	// while computing and release it while suspended on sub-requests.
	Parallelism int

	// Telemetry carries the logger, tracer, metrics and event publisher.
	// Nil means fully disabled telemetry.
	Telemetry *telemetry.Telemetry

	// Params are root-provided values injected by type: a request whose
	// dynamic type matches a param resolves to that value directly
	// instead of running a rule.
	Params []any

	// RunID tags telemetry emitted by this scheduler.
	RunID string
}

// Scheduler executes root queries against a resolved rule Graph. Every
// (rule, request-fingerprint) pair maps to at most one in-flight or
// completed computation: concurrent identical requests coalesce onto the
// first computation, and completed results, including failures, are
// replayed for the lifetime of the scheduler.
type Scheduler struct {
	graph  *Graph
	params map[reflect.Type]any
	slots  chan struct{}
	memo   *memoTable
	tel    *telemetry.Telemetry
	log    *telemetry.Logger
	runID  string
}

// NewScheduler creates a scheduler over a resolved graph.
func NewScheduler(graph *Graph, opts Options) *Scheduler {
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = 8
	}
	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.Nop()
	}

	params := make(map[reflect.Type]any, len(opts.Params))
	for _, p := range opts.Params {
		params[reflect.TypeOf(p)] = p
	}

	return &Scheduler{
		graph:  graph,
		params: params,
		slots:  make(chan struct{}, parallelism),
		memo:   newMemoTable(),
		tel:    tel,
		log:    tel.Logger.NewComponentLogger("scheduler").WithRunID(opts.RunID),
		runID:  opts.RunID,
	}
}

// Execute runs a root query to completion and returns its product. Results
// are memoized across Execute calls on the same scheduler. Cancelling ctx
// stops waiting but does not abort computations already dispatched; their
// results stay in the memo table for later queries.
func (s *Scheduler) Execute(ctx context.Context, req any) (any, error) {
	return s.execute(ctx, req, s.memo)
}

// ExecuteForced runs a root query bypassing the memo table for the entire
// subgraph beneath the request. Fresh results (and fresh failures) replace
// the previously memoized entries when the query completes.
func (s *Scheduler) ExecuteForced(ctx context.Context, req any) (any, error) {
	scratch := newMemoTable()
	value, err := s.execute(ctx, req, scratch)
	s.memo.adopt(scratch)
	return value, err
}

// InvalidateAll drops every memoized result. The source watcher calls this
// when workspace files change under a long-lived scheduler.
func (s *Scheduler) InvalidateAll() {
	s.memo.clear()
	s.log.Debug("memo table invalidated")
}

func (s *Scheduler) execute(ctx context.Context, req any, tbl *memoTable) (any, error) {
	n, err := s.request(ctx, tbl, req)
	if err != nil {
		return nil, err
	}
	select {
	case <-n.done:
		return n.value, n.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// node is a single memoized computation. done is closed exactly once, after
// value/err are set; waiters attach to done rather than re-executing.
type node struct {
	rule *Rule
	req  any
	fp   digest.Fingerprint

	done  chan struct{}
	value any
	err   error
}

func (n *node) completed() bool {
	select {
	case <-n.done:
		return true
	default:
		return false
	}
}

type memoTable struct {
	mu    sync.Mutex
	nodes map[digest.Fingerprint]*node
}

func newMemoTable() *memoTable {
	return &memoTable{nodes: make(map[digest.Fingerprint]*node)}
}

// getOrCreate returns the node for a fingerprint, creating it if absent.
// The second return value reports whether this caller created the node and
// therefore owns dispatching it.
func (t *memoTable) getOrCreate(fp digest.Fingerprint) (*node, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.nodes[fp]; ok {
		return n, false
	}
	n := &node{fp: fp, done: make(chan struct{})}
	t.nodes[fp] = n
	return n, true
}

// adopt copies completed nodes from another table, replacing existing
// entries. Used by forced re-execution to refresh the run table.
func (t *memoTable) adopt(other *memoTable) {
	other.mu.Lock()
	defer other.mu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	for fp, n := range other.nodes {
		if n.completed() {
			t.nodes[fp] = n
		}
	}
}

func (t *memoTable) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes = make(map[digest.Fingerprint]*node)
}

func (t *memoTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nodes)
}

// completedNode wraps a param value as an already-resolved computation.
func completedNode(value any) *node {
	n := &node{done: make(chan struct{}), value: value}
	close(n.done)
	return n
}

// request resolves a request value to its computation node, dispatching a
// new computation if this is the first time the fingerprint is seen.
func (s *Scheduler) request(ctx context.Context, tbl *memoTable, req any) (*node, error) {
	if req == nil {
		return nil, NewInternalError("nil request", nil)
	}
	t := reflect.TypeOf(req)

	if v, ok := s.params[t]; ok {
		return completedNode(v), nil
	}

	rule, ok := s.graph.RuleFor(t)
	if !ok {
		// A type that implements a registered union but carries no rule
		// is a registration defect, distinct from bad input data.
		if unions := s.graph.Unions().UnionsOf(t); len(unions) > 0 {
			return nil, NewDispatchError(ErrCodeUnregisteredUnionMember,
				fmt.Sprintf("concrete type %s implements union %s but is not registered",
					t.String(), unions[0].String())).
				WithRequestType(t.String())
		}
		return nil, NewGraphError(ErrCodeNoRuleFound,
			fmt.Sprintf("no rule accepts request type %s", t.String())).
			WithRequestType(t.String())
	}

	fp, err := fingerprintRequest(rule.Name, t, req)
	if err != nil {
		return nil, err
	}

	n, created := tbl.getOrCreate(fp)
	if !created {
		if n.completed() {
			s.tel.Metrics.MemoHit(rule.Name)
		} else {
			s.tel.Metrics.RequestCoalesced(rule.Name)
		}
		return n, nil
	}

	n.rule = rule
	n.req = req
	s.tel.Metrics.MemoMiss(rule.Name)
	s.spawn(ctx, tbl, n)
	return n, nil
}

// spawn dispatches a node's computation onto the worker pool. The node runs
// detached from the requesting query's cancellation: once dispatched, a
// computation runs to completion and its result remains usable by later
// queries.
func (s *Scheduler) spawn(ctx context.Context, tbl *memoTable, n *node) {
	runCtx := context.WithoutCancel(ctx)
	go func() {
		s.acquireSlot()
		defer s.releaseSlot()

		spanCtx, span := s.tel.Tracer.StartRuleSpan(runCtx, n.rule.Name, n.fp.String())
		s.tel.Metrics.RuleStarted()
		start := time.Now()

		tc := &TaskContext{
			ctx:   spanCtx,
			sched: s,
			tbl:   tbl,
			rule:  n.rule,
		}
		value, err := s.runRule(tc, n)
		elapsed := time.Since(start)

		outcome := "ok"
		if err != nil {
			outcome = "error"
			telemetry.RecordError(span, err)
			s.tel.Metrics.ErrorRecorded(ErrorCode(err))
			s.log.WithRule(n.rule.Name).WithError(err).Debug("rule failed")
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()
		s.tel.Metrics.RuleCompleted(n.rule.Name, outcome, elapsed)
		s.tel.Events.PublishRuleCompleted(s.runID, n.rule.Name, err, elapsed)

		n.value = value
		n.err = err
		close(n.done)
	}()
}

// runRule executes a rule body, converting panics into internal errors so
// that a defective rule cannot wedge its waiters.
func (s *Scheduler) runRule(tc *TaskContext, n *node) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewInternalError(fmt.Sprintf("rule panicked: %v", r), nil).
				WithRule(n.rule.Name).
				WithRequestType(requestTypeName(n.rule.Request))
		}
	}()
	return n.rule.run(tc, n.req)
}

func (s *Scheduler) acquireSlot() {
	s.slots <- struct{}{}
}

func (s *Scheduler) releaseSlot() {
	<-s.slots
}

// TaskContext is handed to rule bodies. It issues sub-requests and carries
// the execution context, logger and params.
type TaskContext struct {
	ctx   context.Context
	sched *Scheduler
	tbl   *memoTable
	rule  *Rule
}

// Context returns the context rule bodies should pass to blocking
// operations (sandbox runs, store access).
func (tc *TaskContext) Context() context.Context {
	return tc.ctx
}

// Log returns a logger scoped to the executing rule.
func (tc *TaskContext) Log() *telemetry.Logger {
	return tc.sched.log.WithRule(tc.rule.Name)
}

// get resolves a single sub-request, suspending cooperatively: the caller's
// worker slot is released while waiting and reacquired before returning.
func (tc *TaskContext) get(req any) (any, error) {
	n, err := tc.sched.request(tc.ctx, tc.tbl, req)
	if err != nil {
		return nil, err
	}
	if n.completed() {
		return n.value, n.err
	}

	tc.suspend()
	defer tc.resume()
	select {
	case <-n.done:
		return n.value, n.err
	case <-tc.ctx.Done():
		return nil, tc.ctx.Err()
	}
}

// MultiGet issues a batch of independent sub-requests concurrently and
// returns their products in request order. The batch fails fast with the
// first (positional) error, but already-started sibling computations run to
// completion and stay memoized for future queries.
func (tc *TaskContext) MultiGet(reqs ...any) ([]any, error) {
	nodes := make([]*node, len(reqs))
	for i, req := range reqs {
		n, err := tc.sched.request(tc.ctx, tc.tbl, req)
		if err != nil {
			return nil, err
		}
		nodes[i] = n
	}

	tc.suspend()
	defer tc.resume()

	results := make([]any, len(reqs))
	for i, n := range nodes {
		select {
		case <-n.done:
			if n.err != nil {
				return nil, n.err
			}
			results[i] = n.value
		case <-tc.ctx.Done():
			return nil, tc.ctx.Err()
		}
	}
	return results, nil
}

func (tc *TaskContext) suspend() {
	tc.sched.releaseSlot()
	tc.sched.tel.Metrics.RuleSuspended()
}

func (tc *TaskContext) resume() {
	tc.sched.acquireSlot()
	tc.sched.tel.Metrics.RuleResumed()
}

// Get issues a single sub-request and asserts its product type.
func Get[P any](tc *TaskContext, req any) (P, error) {
	var zero P
	v, err := tc.get(req)
	if err != nil {
		return zero, err
	}
	p, ok := v.(P)
	if !ok {
		return zero, &EngineError{
			Class:   ErrorClassInternal,
			Code:    ErrCodeProductMismatch,
			Message: fmt.Sprintf("request %T produced %T, caller expected %s", req, v, TypeOf[P]().String()),
		}
	}
	return p, nil
}

// MultiGet issues a typed batch of sub-requests, preserving request order.
func MultiGet[P any](tc *TaskContext, reqs ...any) ([]P, error) {
	raw, err := tc.MultiGet(reqs...)
	if err != nil {
		return nil, err
	}
	out := make([]P, len(raw))
	for i, v := range raw {
		p, ok := v.(P)
		if !ok {
			return nil, &EngineError{
				Class:   ErrorClassInternal,
				Code:    ErrCodeProductMismatch,
				Message: fmt.Sprintf("request %T produced %T, caller expected %s", reqs[i], v, TypeOf[P]().String()),
			}
		}
		out[i] = p
	}
	return out, nil
}

// Param fetches a root-provided value by its type.
func Param[P any](tc *TaskContext) (P, error) {
	var zero P
	v, ok := tc.sched.params[TypeOf[P]()]
	if !ok {
		return zero, NewInternalError(
			fmt.Sprintf("no param of type %s provided", TypeOf[P]().String()), nil).
			WithRule(tc.rule.Name)
	}
	return v.(P), nil
}

// MemoSize reports the number of memoized computations, for tests and
// diagnostics.
func (s *Scheduler) MemoSize() int {
	return s.memo.len()
}
