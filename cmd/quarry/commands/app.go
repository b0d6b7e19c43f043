package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quarrybuild/quarry/pkg/config"
	"github.com/quarrybuild/quarry/pkg/digest"
	"github.com/quarrybuild/quarry/pkg/engine"
	"github.com/quarrybuild/quarry/pkg/goal"
	"github.com/quarrybuild/quarry/pkg/policy"
	"github.com/quarrybuild/quarry/pkg/sandbox"
	"github.com/quarrybuild/quarry/pkg/stores"
	"github.com/quarrybuild/quarry/pkg/target"
	"github.com/quarrybuild/quarry/pkg/telemetry"
)

// app wires the full runtime for one CLI invocation: configuration,
// telemetry, stores, policy, sandbox, target graph and scheduler.
type app struct {
	cfg       *config.Config
	tel       *telemetry.Telemetry
	workspace string
	cacheDir  string

	store    digest.Store
	db       *stores.SQLiteStore
	policy   *policy.Engine
	runner   *sandbox.Runner
	resolver *sandbox.BinaryResolver

	targets   *target.Graph
	scheduler *engine.Scheduler
	runID     string
}

func newApp(ctx context.Context, version string) (*app, error) {
	workspace, err := filepath.Abs(workspaceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace: %w", err)
	}

	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = filepath.Join(workspace, config.FileName)
	}
	parser, err := config.NewParser()
	if err != nil {
		return nil, err
	}
	cfg, err := parser.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	tel, err := initTelemetry(cfg, version)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		tel:       tel,
		workspace: workspace,
		runID:     uuid.NewString(),
	}
	if err := a.initStores(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.initSandbox(); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.initGraph(); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func initTelemetry(cfg *config.Config, version string) (*telemetry.Telemetry, error) {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = version
	tc.Logging.Level = cfg.Telemetry.LogLevel
	if verbose {
		tc.Logging.Level = "debug"
	}
	tc.Logging.Format = cfg.Telemetry.LogFormat
	if cfg.Telemetry.TracingEnabled {
		tc.Tracing.Enabled = true
		tc.Tracing.Exporter = "stdout"
		if cfg.Telemetry.OTLPEndpoint != "" {
			tc.Tracing.Exporter = "otlp"
			tc.Tracing.Endpoint = cfg.Telemetry.OTLPEndpoint
		}
	}
	if cfg.Telemetry.MetricsEnabled {
		tc.Metrics.Enabled = true
		if cfg.Telemetry.MetricsAddr != "" {
			tc.Metrics.ListenAddress = cfg.Telemetry.MetricsAddr
		}
	}
	return telemetry.Init(tc)
}

func (a *app) initStores(ctx context.Context) error {
	cacheDir := a.cfg.Cache.Dir
	if !filepath.IsAbs(cacheDir) {
		cacheDir = filepath.Join(a.workspace, cacheDir)
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}
	a.cacheDir = cacheDir

	switch a.cfg.Cache.Backend {
	case "memory":
		a.store = digest.NewMemoryStore()
	default:
		store, err := digest.NewBadgerStore(digest.BadgerConfig{
			Path: filepath.Join(cacheDir, "cas"),
		})
		if err != nil {
			return err
		}
		a.store = store
	}

	db, err := stores.NewSQLiteStore(stores.Config{
		Path: filepath.Join(cacheDir, "quarry.db"),
	})
	if err != nil {
		return err
	}
	if err := db.Init(ctx); err != nil {
		return err
	}
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	a.db = db
	return nil
}

func (a *app) initSandbox() error {
	eng, err := policy.NewEngine(policy.Options{
		AllowNetwork: a.cfg.Sandbox.AllowNetwork,
		Telemetry:    a.tel,
	})
	if err != nil {
		return err
	}
	if dir := a.cfg.Policy.Dir; dir != "" {
		policies, err := policy.LoadFromFS(os.DirFS(a.workspace), dir)
		if err != nil {
			return err
		}
		if err := eng.LoadPolicies(policies); err != nil {
			return err
		}
	}
	for _, name := range a.cfg.Policy.Disabled {
		if err := eng.SetEnabled(name, false); err != nil {
			return err
		}
	}
	a.policy = eng

	var manifest *sandbox.ToolchainManifest
	if path := a.cfg.Sandbox.Toolchain; path != "" {
		if !filepath.IsAbs(path) {
			path = filepath.Join(a.workspace, path)
		}
		manifest, err = sandbox.LoadToolchainManifest(path)
		if err != nil {
			return err
		}
	}
	a.resolver = sandbox.NewBinaryResolver(manifest, nil)

	runner, err := sandbox.NewRunner(sandbox.Options{
		Store:          a.store,
		Policy:         eng,
		Cache:          processCacheFor(a.cfg.Cache.Backend, a.db),
		Telemetry:      a.tel,
		TempRoot:       a.cfg.Sandbox.TempRoot,
		KeepSandboxes:  a.cfg.Sandbox.KeepSandboxes,
		DefaultTimeout: a.cfg.Sandbox.DefaultTimeout,
	})
	if err != nil {
		return err
	}
	a.runner = runner
	return nil
}

// processCacheFor returns the cross-run process cache for the chosen
// digest store backend. A memory-backed store drops its blobs at exit, so
// persisted rows would point at output digests no later invocation can
// load; only a persistent store gets the SQLite cache.
func processCacheFor(backend string, db *stores.SQLiteStore) sandbox.ResultCache {
	if backend == "memory" {
		return nil
	}
	return stores.NewProcessCache(db)
}

func (a *app) initGraph() error {
	kinds, err := target.NewKindRegistry(goal.Kinds()...)
	if err != nil {
		return err
	}
	loader := target.NewLoader(kinds, a.tel.Logger.NewComponentLogger("loader"))
	graph, err := loader.Load(os.DirFS(a.workspace))
	if err != nil {
		return err
	}
	a.targets = graph

	resolved, err := engine.Resolve(goal.Rules())
	if err != nil {
		return err
	}
	a.scheduler = engine.NewScheduler(resolved, engine.Options{
		Parallelism: a.cfg.Engine.Parallelism,
		Telemetry:   a.tel,
		RunID:       a.runID,
		Params: []any{
			goal.Workspace{FS: os.DirFS(a.workspace)},
			goal.Snapshots{Store: a.store},
			goal.Tools{Resolver: a.resolver},
			a.runner,
		},
	})
	return nil
}

// reloadTargets re-reads BUILD files after a workspace change.
func (a *app) reloadTargets() error {
	kinds, err := target.NewKindRegistry(goal.Kinds()...)
	if err != nil {
		return err
	}
	loader := target.NewLoader(kinds, a.tel.Logger.NewComponentLogger("loader"))
	graph, err := loader.Load(os.DirFS(a.workspace))
	if err != nil {
		return err
	}
	a.targets = graph
	return nil
}

func (a *app) goalContext(out io.Writer, force, debug bool) *goal.Context {
	return &goal.Context{
		Scheduler: a.scheduler,
		Targets:   a.targets,
		Workspace: goal.Workspace{FS: os.DirFS(a.workspace)},
		Sandbox:   a.runner,
		Tools:     goal.Tools{Resolver: a.resolver},
		Store:     a.store,
		Telemetry: a.tel,
		Out:       out,
		Force:     force,
		Debug:     debug,
		RunID:     a.runID,
	}
}

// runGoal executes a goal, records the run in the store, and converts a
// nonzero exit into an exitError for Execute to unwrap. Each call gets
// its own run record so watch mode reruns are distinguishable.
func (a *app) runGoal(ctx context.Context, g goal.Goal, gc *goal.Context, args []string) error {
	runID := uuid.NewString()
	gc.RunID = runID
	run := &stores.Run{
		ID:        runID,
		Goal:      g.Name,
		Args:      strings.Join(args, " "),
		Status:    stores.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := a.db.CreateRun(ctx, run); err != nil {
		return err
	}

	exit, err := g.Execute(ctx, gc, args)
	var errMsg *string
	if err != nil {
		msg := err.Error()
		errMsg = &msg
		if exit == 0 {
			exit = 1
		}
	}
	if cerr := a.db.CompleteRun(ctx, runID, exit, errMsg); cerr != nil {
		a.tel.Logger.WithError(cerr).Warn("Failed to record run completion")
	}
	if err != nil {
		return err
	}
	if exit != 0 {
		return &exitError{code: exit}
	}
	return nil
}

func (a *app) Close(ctx context.Context) {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.tel.Logger.WithError(err).Warn("Failed to close run store")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.tel.Logger.WithError(err).Warn("Failed to close digest store")
		}
	}
	if a.tel != nil {
		if err := a.tel.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "quarry: telemetry shutdown: %v\n", err)
		}
	}
}
