package goal

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"reflect"

	"github.com/klauspost/compress/gzip"

	"github.com/quarrybuild/quarry/pkg/digest"
	"github.com/quarrybuild/quarry/pkg/engine"
	"github.com/quarrybuild/quarry/pkg/target"
)

// ArchiveKind is the target kind the package goal consumes.
const ArchiveKind = "archive"

// PackageFieldSet is the union over packageable target request types.
type PackageFieldSet interface {
	isPackageFieldSet()
	PackageTarget() target.Address
}

// ArchiveRequest asks for a target's sources to be bundled into a single
// artifact file.
type ArchiveRequest struct {
	Target      target.Address `json:"target"`
	InputDigest digest.Digest  `json:"input_digest"`

	// Format is "zip" or "tgz".
	Format string `json:"format"`

	// OutputName is the artifact filename, e.g. "app.zip".
	OutputName string `json:"output_name"`
}

func (ArchiveRequest) isPackageFieldSet() {}

func (r ArchiveRequest) PackageTarget() target.Address { return r.Target }

// PackageResult is the product of packaging one target: a digest holding
// the single artifact file.
type PackageResult struct {
	Target   target.Address `json:"target"`
	Artifact digest.Digest  `json:"artifact"`
	Path     string         `json:"path"`
}

func (r PackageResult) targetResult() TargetResult {
	return TargetResult{
		Target:  r.Target,
		Outcome: OutcomeSucceeded,
		Message: r.Path,
	}
}

// archiveRule builds artifacts from source snapshots. Archives are
// byte-deterministic: entries are written in manifest order with zeroed
// timestamps, so equal inputs yield equal artifact digests.
func archiveRule() engine.Rule {
	return engine.NewUnionRule("package_archive",
		engine.TypeOf[PackageFieldSet](),
		[]reflect.Type{engine.TypeOf[Snapshots]()},
		func(tc *engine.TaskContext, req ArchiveRequest) (PackageResult, error) {
			snaps, err := engine.Param[Snapshots](tc)
			if err != nil {
				return PackageResult{}, err
			}
			snap, err := snaps.Store.Load(tc.Context(), req.InputDigest)
			if err != nil {
				return PackageResult{}, fmt.Errorf("target %s: loading input snapshot: %w", req.Target, err)
			}

			var buf bytes.Buffer
			switch req.Format {
			case "zip", "":
				err = writeZip(tc.Context(), snaps.Store, snap, &buf)
			case "tgz":
				err = writeTgz(tc.Context(), snaps.Store, snap, &buf)
			default:
				return PackageResult{}, fmt.Errorf("target %s: unsupported archive format %q", req.Target, req.Format)
			}
			if err != nil {
				return PackageResult{}, fmt.Errorf("target %s: %w", req.Target, err)
			}

			out, err := snaps.Store.WriteFiles(tc.Context(), []digest.FileEntry{
				{Path: req.OutputName, Content: buf.Bytes()},
			})
			if err != nil {
				return PackageResult{}, err
			}
			return PackageResult{
				Target:   req.Target,
				Artifact: out.Digest,
				Path:     req.OutputName,
			}, nil
		})
}

func writeZip(ctx context.Context, store digest.Store, snap digest.Snapshot, buf *bytes.Buffer) error {
	zw := zip.NewWriter(buf)
	for _, entry := range snap.Files {
		content, err := store.ReadFile(ctx, entry.Digest)
		if err != nil {
			return err
		}
		hdr := &zip.FileHeader{Name: entry.Path, Method: zip.Deflate}
		if entry.Executable {
			hdr.SetMode(0o755)
		} else {
			hdr.SetMode(0o644)
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		if _, err := w.Write(content); err != nil {
			return err
		}
	}
	return zw.Close()
}

func writeTgz(ctx context.Context, store digest.Store, snap digest.Snapshot, buf *bytes.Buffer) error {
	gz := gzip.NewWriter(buf)
	tw := tar.NewWriter(gz)
	for _, entry := range snap.Files {
		content, err := store.ReadFile(ctx, entry.Digest)
		if err != nil {
			return err
		}
		mode := int64(0o644)
		if entry.Executable {
			mode = 0o755
		}
		hdr := &tar.Header{
			Name: entry.Path,
			Mode: mode,
			Size: int64(len(content)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := tw.Write(content); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

// PackageGoal builds artifacts for archive targets and materializes them
// under distDir.
func PackageGoal(distDir string) Goal {
	return Goal{
		Name: "package",
		Help: "Build distributable artifacts",
		Run: func(ctx context.Context, gc *Context, args []string) (int, error) {
			return runPackage(ctx, gc, args, distDir)
		},
	}
}

func runPackage(ctx context.Context, gc *Context, args []string, distDir string) (int, error) {
	targets, err := selectTargets(gc.Targets, args, ArchiveKind)
	if err != nil {
		return 1, err
	}

	var results []TargetResult
	var addrs []target.Address
	var reqs []any
	var fullResults []PackageResult
	for _, t := range targets {
		sources, err := target.ExpandSources(gc.Workspace.FS, t.Address.Dir, t.Sources,
			target.ExpandOptions{Policy: target.MatchRequireAny})
		if err != nil {
			return 1, fmt.Errorf("target %s: %w", t.Address, err)
		}
		snap, err := snapshotPaths(ctx, gc.Store, gc.Workspace.FS, sources)
		if err != nil {
			return 1, fmt.Errorf("target %s: %w", t.Address, err)
		}

		format := t.StringField("format", "zip")
		addrs = append(addrs, t.Address)
		reqs = append(reqs, ArchiveRequest{
			Target:      t.Address,
			InputDigest: snap.Digest,
			Format:      format,
			OutputName:  t.Address.Name + "." + format,
		})
	}

	// Package results need the artifact digest for materialization, so
	// collect the typed products before summarizing.
	for i, req := range reqs {
		v, err := gc.execute(ctx, req)
		if err != nil {
			results = append(results, TargetResult{
				Target:   addrs[i],
				Outcome:  OutcomeFailed,
				ExitCode: 1,
				Message:  err.Error(),
			})
			continue
		}
		pr := v.(PackageResult)
		fullResults = append(fullResults, pr)
		results = append(results, pr.targetResult())
	}

	for _, pr := range fullResults {
		if err := gc.Store.Materialize(ctx, distDir, pr.Artifact); err != nil {
			return 1, fmt.Errorf("materializing %s: %w", pr.Path, err)
		}
		fmt.Fprintf(gc.Out, "wrote %s\n", filepath.Join(distDir, pr.Path))
	}

	summary := Summarize(results)
	summary.Render(gc.Out)
	return summary.ExitCode, nil
}
