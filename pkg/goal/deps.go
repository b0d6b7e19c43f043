package goal

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/quarrybuild/quarry/pkg/digest"
	"github.com/quarrybuild/quarry/pkg/engine"
	"github.com/quarrybuild/quarry/pkg/target"
)

// depAnnotation marks an inferred dependency inside a source file:
//
//	# quarry-dep: lib/common:common
const depAnnotation = "# quarry-dep:"

// InferredDepsRequest asks for the dependencies inferred from a target's
// source contents, as opposed to the ones declared in its BUILD file.
type InferredDepsRequest struct {
	Target      target.Address `json:"target"`
	SourceFiles []string       `json:"source_files"`
	InputDigest digest.Digest  `json:"input_digest"`
}

// InferredDeps is the product: addresses referenced by source annotations.
type InferredDeps struct {
	Target    target.Address   `json:"target"`
	Addresses []target.Address `json:"addresses,omitempty"`
}

// inferDepsRule scans snapshot contents for dependency annotations.
func inferDepsRule() engine.Rule {
	return engine.NewRule("infer_dependencies",
		[]reflect.Type{engine.TypeOf[Snapshots]()},
		func(tc *engine.TaskContext, req InferredDepsRequest) (InferredDeps, error) {
			snaps, err := engine.Param[Snapshots](tc)
			if err != nil {
				return InferredDeps{}, err
			}
			snap, err := snaps.Store.Load(tc.Context(), req.InputDigest)
			if err != nil {
				return InferredDeps{}, fmt.Errorf("target %s: %w", req.Target, err)
			}

			seen := map[target.Address]bool{}
			var out []target.Address
			for _, entry := range snap.Files {
				content, err := snaps.Store.ReadFile(tc.Context(), entry.Digest)
				if err != nil {
					return InferredDeps{}, err
				}
				scanner := bufio.NewScanner(bytes.NewReader(content))
				for scanner.Scan() {
					line := strings.TrimSpace(scanner.Text())
					if !strings.HasPrefix(line, depAnnotation) {
						continue
					}
					ref := strings.TrimSpace(strings.TrimPrefix(line, depAnnotation))
					addr, err := target.ParseAddress(ref)
					if err != nil {
						return InferredDeps{}, fmt.Errorf(
							"target %s: %s: bad dependency annotation %q: %w",
							req.Target, entry.Path, ref, err)
					}
					if !seen[addr] {
						seen[addr] = true
						out = append(out, addr)
					}
				}
			}
			sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
			return InferredDeps{Target: req.Target, Addresses: out}, nil
		})
}

// DepsGoal prints the dependencies of the given targets: declared edges
// from BUILD files plus annotations inferred from source contents.
func DepsGoal(transitive bool) Goal {
	return Goal{
		Name: "deps",
		Help: "Show target dependencies",
		Run: func(ctx context.Context, gc *Context, args []string) (int, error) {
			return runDeps(ctx, gc, args, transitive)
		},
	}
}

func runDeps(ctx context.Context, gc *Context, args []string, transitive bool) (int, error) {
	if len(args) == 0 {
		return 1, fmt.Errorf("deps goal requires at least one target address")
	}

	for _, arg := range args {
		addr, err := target.ParseAddress(arg)
		if err != nil {
			return 1, err
		}
		t, ok := gc.Targets.Lookup(addr)
		if !ok {
			return 1, fmt.Errorf("no target at address %s", addr)
		}

		declared, err := declaredDeps(gc, t, transitive)
		if err != nil {
			return 1, err
		}
		inferred, err := inferredDeps(ctx, gc, t)
		if err != nil {
			return 1, err
		}

		seen := map[target.Address]bool{}
		var all []target.Address
		for _, d := range append(declared, inferred...) {
			if !seen[d] {
				seen[d] = true
				all = append(all, d)
			}
		}
		sort.Slice(all, func(i, j int) bool { return all[i].Less(all[j]) })

		fmt.Fprintf(gc.Out, "%s\n", addr)
		for _, d := range all {
			fmt.Fprintf(gc.Out, "  %s\n", d)
		}
	}
	return 0, nil
}

func declaredDeps(gc *Context, t *target.Target, transitive bool) ([]target.Address, error) {
	if transitive {
		closure, err := gc.Targets.TransitiveClosure(t.Address)
		if err != nil {
			return nil, err
		}
		var out []target.Address
		for _, c := range closure {
			if c.Address != t.Address {
				out = append(out, c.Address)
			}
		}
		return out, nil
	}
	deps, err := gc.Targets.DependenciesOf(t.Address)
	if err != nil {
		return nil, err
	}
	out := make([]target.Address, len(deps))
	for i, d := range deps {
		out[i] = d.Address
	}
	return out, nil
}

func inferredDeps(ctx context.Context, gc *Context, t *target.Target) ([]target.Address, error) {
	sources, err := target.ExpandSources(gc.Workspace.FS, t.Address.Dir, t.Sources, target.ExpandOptions{})
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", t.Address, err)
	}
	if len(sources) == 0 {
		return nil, nil
	}
	snap, err := snapshotPaths(ctx, gc.Store, gc.Workspace.FS, sources)
	if err != nil {
		return nil, err
	}

	v, err := gc.execute(ctx, InferredDepsRequest{
		Target:      t.Address,
		SourceFiles: sources,
		InputDigest: snap.Digest,
	})
	if err != nil {
		return nil, err
	}
	return v.(InferredDeps).Addresses, nil
}
