package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/quarrybuild/quarry/pkg/digest"
	"github.com/quarrybuild/quarry/pkg/telemetry"
)

// AdmissionPolicy decides whether a process spec may execute at all. A
// denial aborts the enclosing rule; it is a structural failure, not a
// failing process result.
type AdmissionPolicy interface {
	Admit(ctx context.Context, spec *ProcessSpec) error
}

// ResultCache persists process results across runs, keyed by spec
// fingerprint.
type ResultCache interface {
	Get(ctx context.Context, fp digest.Fingerprint) (*ProcessResult, bool, error)
	Put(ctx context.Context, fp digest.Fingerprint, res *ProcessResult) error
}

// Options configures a Runner. Policy and Cache are optional; a nil policy
// admits everything except networked specs, a nil cache disables result
// reuse.
type Options struct {
	Store     digest.Store
	Policy    AdmissionPolicy
	Cache     ResultCache
	Telemetry *telemetry.Telemetry

	// TempRoot is the parent directory for sandbox directories. Empty
	// means the system temp directory.
	TempRoot string

	// KeepSandboxes preserves sandbox directories after execution for
	// debugging instead of removing them.
	KeepSandboxes bool

	// DefaultTimeout applies to specs that carry no timeout of their
	// own. Zero leaves such specs unbounded.
	DefaultTimeout time.Duration
}

// Runner executes process specs in isolated scratch directories. The input
// digest is materialized as the entire visible filesystem, the declared
// output globs are captured back into the store, and the directory is
// discarded.
type Runner struct {
	store          digest.Store
	policy         AdmissionPolicy
	cache          ResultCache
	tel            *telemetry.Telemetry
	log            *telemetry.Logger
	tempRoot       string
	keepSandboxes  bool
	defaultTimeout time.Duration
}

// NewRunner creates a sandbox runner backed by the given digest store.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Store == nil {
		return nil, errors.New("sandbox: digest store is required")
	}
	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.Nop()
	}
	return &Runner{
		store:          opts.Store,
		policy:         opts.Policy,
		cache:          opts.Cache,
		tel:            tel,
		log:            tel.Logger.NewComponentLogger("sandbox"),
		tempRoot:       opts.TempRoot,
		keepSandboxes:  opts.KeepSandboxes,
		defaultTimeout: opts.DefaultTimeout,
	}, nil
}

// Run executes a spec and returns its result. Cacheable results are served
// from and written to the result cache. Errors are reserved for conditions
// where the computation itself could not be carried out: denied admission,
// a sandbox that cannot be prepared, output capture failure. Non-zero exit
// codes and expired timeouts come back as results.
func (r *Runner) Run(ctx context.Context, spec *ProcessSpec) (*ProcessResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if err := r.admit(ctx, spec); err != nil {
		return nil, err
	}

	fp := spec.Fingerprint()
	log := r.log.WithField("process", spec.Description).WithField("fingerprint", fp.String())

	if r.cache != nil && !spec.Uncacheable {
		if res, ok, err := r.cache.Get(ctx, fp); err != nil {
			log.WithError(err).Warn("process cache read failed")
		} else if ok {
			r.tel.Metrics.ProcessCacheHit()
			cached := *res
			cached.Cached = true
			log.Debug("process cache hit")
			return &cached, nil
		}
		r.tel.Metrics.ProcessCacheMiss()
	}

	spanCtx, span := r.tel.Tracer.StartProcessSpan(ctx, spec.Description)
	defer span.End()

	res, err := r.execute(spanCtx, spec, log)
	if err != nil {
		telemetry.RecordError(span, err)
		r.tel.Metrics.ProcessRun("error", 0)
		return nil, err
	}
	telemetry.RecordSuccess(span)

	outcome := "ok"
	if res.ExitCode != 0 {
		outcome = "failed"
	}
	r.tel.Metrics.ProcessRun(outcome, res.Duration)

	if r.cache != nil && !spec.Uncacheable {
		if err := r.cache.Put(ctx, fp, res); err != nil {
			log.WithError(err).Warn("process cache write failed")
		}
	}
	return res, nil
}

func (r *Runner) admit(ctx context.Context, spec *ProcessSpec) error {
	if r.policy != nil {
		return r.policy.Admit(ctx, spec)
	}
	if spec.Network {
		return fmt.Errorf("process %q requests network access but no admission policy is configured", spec.Description)
	}
	return nil
}

func (r *Runner) execute(ctx context.Context, spec *ProcessSpec, log *telemetry.Logger) (*ProcessResult, error) {
	dir, cleanup, err := r.prepare(ctx, spec)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	timeout := spec.Timeout
	if timeout == 0 {
		timeout = r.defaultTimeout
	}
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	workDir := dir
	if spec.WorkingDir != "" {
		workDir = filepath.Join(dir, spec.WorkingDir)
		if _, err := os.Stat(workDir); err != nil {
			return nil, fmt.Errorf("process %q: working dir %q not in input snapshot: %w",
				spec.Description, spec.WorkingDir, err)
		}
	}

	cmd := exec.CommandContext(runCtx, spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = workDir
	cmd.Env = flattenEnv(spec.Env)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	res := &ProcessResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: elapsed,
	}

	switch {
	case runErr == nil:
		res.ExitCode = 0
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		// A timeout is evidence of a misbehaving tool, reported as data.
		res.ExitCode = -1
		res.Stderr = append(res.Stderr,
			fmt.Sprintf("\nprocess %q timed out after %s\n", spec.Description, timeout)...)
	default:
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("process %q failed to start: %w", spec.Description, runErr)
		}
		res.ExitCode = exitErr.ExitCode()
	}

	snap, err := r.store.Capture(ctx, dir, spec.OutputGlobs)
	if err != nil {
		return nil, fmt.Errorf("process %q: capturing outputs: %w", spec.Description, err)
	}
	res.OutputDigest = snap.Digest

	log.WithField("exit_code", res.ExitCode).
		WithDigest(res.OutputDigest.Hash).
		Debug("process completed")
	return res, nil
}

// prepare materializes the input digest into a fresh sandbox directory and
// returns the directory plus its cleanup function.
func (r *Runner) prepare(ctx context.Context, spec *ProcessSpec) (string, func(), error) {
	dir, err := os.MkdirTemp(r.tempRoot, "quarry-sandbox-")
	if err != nil {
		return "", nil, fmt.Errorf("creating sandbox dir: %w", err)
	}
	cleanup := func() {
		if r.keepSandboxes {
			r.log.WithField("dir", dir).Info("sandbox preserved")
			return
		}
		if err := os.RemoveAll(dir); err != nil {
			r.log.WithError(err).Warn("sandbox cleanup failed")
		}
	}

	if !spec.InputDigest.IsZero() && !spec.InputDigest.IsEmpty() {
		if err := r.store.Materialize(ctx, dir, spec.InputDigest); err != nil {
			cleanup()
			return "", nil, fmt.Errorf("materializing input digest %s: %w", spec.InputDigest, err)
		}
	}
	return dir, cleanup, nil
}

func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
