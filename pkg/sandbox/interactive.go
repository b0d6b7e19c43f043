package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// RunInteractive executes a spec with the invoking terminal attached. The
// process inherits stdin, stdout and stderr directly, no outputs are
// captured, and the result is never cached: interactive sessions are
// non-deterministic by construction. The returned value is the process's
// own exit code.
func (r *Runner) RunInteractive(ctx context.Context, spec *ProcessSpec) (int, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}
	if err := r.admit(ctx, spec); err != nil {
		return 0, err
	}

	dir, cleanup, err := r.prepare(ctx, spec)
	if err != nil {
		return 0, err
	}
	defer cleanup()

	workDir := dir
	if spec.WorkingDir != "" {
		workDir = filepath.Join(dir, spec.WorkingDir)
		if _, err := os.Stat(workDir); err != nil {
			return 0, fmt.Errorf("process %q: working dir %q not in input snapshot: %w",
				spec.Description, spec.WorkingDir, err)
		}
	}

	cmd := exec.CommandContext(ctx, spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = workDir
	cmd.Env = flattenEnv(spec.Env)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	r.log.WithField("process", spec.Description).Info("starting interactive session")
	runErr := cmd.Run()
	if runErr == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, fmt.Errorf("interactive process %q failed to start: %w", spec.Description, runErr)
}
