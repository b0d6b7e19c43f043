package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/quarrybuild/quarry/pkg/digest"
)

func newTestRunner(t *testing.T) (*Runner, digest.Store) {
	t.Helper()
	store := digest.NewMemoryStore()
	r, err := NewRunner(Options{Store: store, TempRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	return r, store
}

func writeInput(t *testing.T, store digest.Store, files []digest.FileEntry) digest.Digest {
	t.Helper()
	snap, err := store.WriteFiles(context.Background(), files)
	if err != nil {
		t.Fatalf("WriteFiles() error = %v", err)
	}
	return snap.Digest
}

func TestRunner_Run_CapturesDeclaredOutputs(t *testing.T) {
	r, store := newTestRunner(t)
	ctx := context.Background()

	in := writeInput(t, store, []digest.FileEntry{
		{Path: "msg.txt", Content: []byte("hello sandbox\n")},
	})

	res, err := r.Run(ctx, &ProcessSpec{
		Description: "copy message",
		Argv:        []string{"/bin/sh", "-c", "cp msg.txt out.txt"},
		InputDigest: in,
		OutputGlobs: []string{"out.txt"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("ExitCode = %d, stderr = %s", res.ExitCode, res.Stderr)
	}

	snap, err := store.Load(ctx, res.OutputDigest)
	if err != nil {
		t.Fatalf("Load(output) error = %v", err)
	}
	if !snap.Contains("out.txt") {
		t.Errorf("output snapshot paths = %v, want out.txt", snap.Paths())
	}
	content, err := store.ReadFile(ctx, snap.Files[0].Digest)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(content) != "hello sandbox\n" {
		t.Errorf("out.txt = %q, want %q", content, "hello sandbox\n")
	}
}

func TestRunner_Run_UnmatchedOutputGlobIsNotAnError(t *testing.T) {
	r, _ := newTestRunner(t)

	res, err := r.Run(context.Background(), &ProcessSpec{
		Description: "writes nothing",
		Argv:        []string{"/bin/sh", "-c", "true"},
		OutputGlobs: []string{"out.txt"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("ExitCode = %d", res.ExitCode)
	}
	if !res.OutputDigest.IsEmpty() {
		t.Errorf("OutputDigest = %v, want empty digest for unmatched glob", res.OutputDigest)
	}
}

func TestRunner_Run_NonZeroExitIsData(t *testing.T) {
	r, _ := newTestRunner(t)

	res, err := r.Run(context.Background(), &ProcessSpec{
		Description: "failing tool",
		Argv:        []string{"/bin/sh", "-c", "echo broken >&2; exit 5"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v, non-zero exit must be a result", err)
	}
	if res.ExitCode != 5 {
		t.Errorf("ExitCode = %d, want 5", res.ExitCode)
	}
	if !strings.Contains(string(res.Stderr), "broken") {
		t.Errorf("Stderr = %q, want tool diagnostics", res.Stderr)
	}
	if res.Succeeded() {
		t.Error("Succeeded() = true for exit 5")
	}
}

func TestRunner_Run_EnvironmentIsExplicit(t *testing.T) {
	t.Setenv("QUARRY_AMBIENT_SECRET", "leaky")
	r, _ := newTestRunner(t)

	res, err := r.Run(context.Background(), &ProcessSpec{
		Description: "env check",
		Argv:        []string{"/bin/sh", "-c", "echo allowed=$ALLOWED ambient=$QUARRY_AMBIENT_SECRET"},
		Env:         map[string]string{"ALLOWED": "yes"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	out := string(res.Stdout)
	if !strings.Contains(out, "allowed=yes") {
		t.Errorf("stdout = %q, allowlisted variable missing", out)
	}
	if strings.Contains(out, "leaky") {
		t.Errorf("stdout = %q, ambient environment leaked into sandbox", out)
	}
}

func TestRunner_Run_TimeoutIsData(t *testing.T) {
	r, _ := newTestRunner(t)

	res, err := r.Run(context.Background(), &ProcessSpec{
		Description: "sleeper",
		Argv:        []string{"/bin/sh", "-c", "sleep 10"},
		Timeout:     50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run() error = %v, timeout must be a result", err)
	}
	if res.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1 for timeout", res.ExitCode)
	}
	if !strings.Contains(string(res.Stderr), "timed out") {
		t.Errorf("Stderr = %q, want timeout notice", res.Stderr)
	}
}

func TestRunner_Run_SandboxDirectoryDiscarded(t *testing.T) {
	store := digest.NewMemoryStore()
	tempRoot := t.TempDir()
	r, err := NewRunner(Options{Store: store, TempRoot: tempRoot})
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}

	if _, err := r.Run(context.Background(), &ProcessSpec{
		Description: "touch",
		Argv:        []string{"/bin/sh", "-c", "touch residue.txt"},
	}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	entries, err := os.ReadDir(tempRoot)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("temp root still holds %d sandbox dirs, want 0", len(entries))
	}
}

func TestRunner_Run_NetworkDeniedWithoutPolicy(t *testing.T) {
	r, _ := newTestRunner(t)

	_, err := r.Run(context.Background(), &ProcessSpec{
		Description: "wants network",
		Argv:        []string{"/bin/sh", "-c", "true"},
		Network:     true,
	})
	if err == nil {
		t.Fatal("Run() expected admission failure for networked spec")
	}
}

type recordingCache struct {
	entries map[digest.Fingerprint]*ProcessResult
	gets    int
	puts    int
}

func (c *recordingCache) Get(_ context.Context, fp digest.Fingerprint) (*ProcessResult, bool, error) {
	c.gets++
	res, ok := c.entries[fp]
	return res, ok, nil
}

func (c *recordingCache) Put(_ context.Context, fp digest.Fingerprint, res *ProcessResult) error {
	c.puts++
	c.entries[fp] = res
	return nil
}

func TestRunner_Run_CacheRoundTrip(t *testing.T) {
	store := digest.NewMemoryStore()
	cache := &recordingCache{entries: make(map[digest.Fingerprint]*ProcessResult)}
	r, err := NewRunner(Options{Store: store, Cache: cache, TempRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	ctx := context.Background()
	spec := &ProcessSpec{
		Description: "cached echo",
		Argv:        []string{"/bin/sh", "-c", "echo once"},
	}

	first, err := r.Run(ctx, spec)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if first.Cached {
		t.Error("first run reported Cached = true")
	}
	second, err := r.Run(ctx, spec)
	if err != nil {
		t.Fatalf("Run() second error = %v", err)
	}
	if !second.Cached {
		t.Error("second run reported Cached = false, want cache hit")
	}
	if cache.puts != 1 {
		t.Errorf("cache puts = %d, want 1", cache.puts)
	}
}

func TestRunner_Run_RaisedTimeoutMissesCachedFailure(t *testing.T) {
	store := digest.NewMemoryStore()
	cache := &recordingCache{entries: make(map[digest.Fingerprint]*ProcessResult)}
	r, err := NewRunner(Options{Store: store, Cache: cache, TempRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	ctx := context.Background()

	spec := func(timeout time.Duration) *ProcessSpec {
		return &ProcessSpec{
			Description: "slow tool",
			Argv:        []string{"/bin/sh", "-c", "sleep 0.2"},
			Timeout:     timeout,
		}
	}

	first, err := r.Run(ctx, spec(10*time.Millisecond))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if first.ExitCode != -1 {
		t.Fatalf("ExitCode = %d, want -1 for expired timeout", first.ExitCode)
	}

	// A raised timeout is a different invocation: it must execute instead
	// of replaying the cached failure.
	second, err := r.Run(ctx, spec(10*time.Second))
	if err != nil {
		t.Fatalf("Run() second error = %v", err)
	}
	if second.Cached {
		t.Error("raised-timeout run replayed the cached failure")
	}
	if second.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", second.ExitCode)
	}
}

func TestRunner_Run_UncacheableSkipsCache(t *testing.T) {
	store := digest.NewMemoryStore()
	cache := &recordingCache{entries: make(map[digest.Fingerprint]*ProcessResult)}
	r, err := NewRunner(Options{Store: store, Cache: cache, TempRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	spec := &ProcessSpec{
		Description: "uncacheable",
		Argv:        []string{"/bin/sh", "-c", "true"},
		Uncacheable: true,
	}

	for i := 0; i < 2; i++ {
		if _, err := r.Run(context.Background(), spec); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	}
	if cache.gets != 0 || cache.puts != 0 {
		t.Errorf("cache touched (gets=%d puts=%d) for uncacheable spec", cache.gets, cache.puts)
	}
}

func TestProcessSpec_Fingerprint_SensitiveToFields(t *testing.T) {
	base := func() *ProcessSpec {
		return &ProcessSpec{
			Description: "tool",
			Argv:        []string{"/bin/sh", "-c", "true"},
			Env:         map[string]string{"A": "1"},
			OutputGlobs: []string{"out/*"},
		}
	}

	fp := base().Fingerprint()
	if fp != base().Fingerprint() {
		t.Fatal("fingerprint not deterministic for equal specs")
	}

	mutations := map[string]func(*ProcessSpec){
		"argv":    func(s *ProcessSpec) { s.Argv = []string{"/bin/sh", "-c", "false"} },
		"env":     func(s *ProcessSpec) { s.Env["A"] = "2" },
		"dir":     func(s *ProcessSpec) { s.WorkingDir = "sub" },
		"network": func(s *ProcessSpec) { s.Network = true },
		"globs":   func(s *ProcessSpec) { s.OutputGlobs = []string{"other/*"} },
		"timeout": func(s *ProcessSpec) { s.Timeout = 10 * time.Second },
		"input": func(s *ProcessSpec) {
			s.InputDigest = digest.OfBytes([]byte("x"))
		},
	}
	for name, mutate := range mutations {
		spec := base()
		mutate(spec)
		if spec.Fingerprint() == fp {
			t.Errorf("mutating %s did not change fingerprint", name)
		}
	}
}

func TestEnvAllowlist_CopiesOnlyNamed(t *testing.T) {
	ambient := map[string]string{"PATH": "/usr/bin", "HOME": "/root", "SECRET": "x"}
	env := EnvAllowlist(ambient, "PATH", "LANG")
	if env["PATH"] != "/usr/bin" {
		t.Errorf("PATH = %q, want /usr/bin", env["PATH"])
	}
	if _, ok := env["SECRET"]; ok {
		t.Error("SECRET copied despite not being allowlisted")
	}
	if _, ok := env["LANG"]; ok {
		t.Error("LANG present despite missing from ambient env")
	}
}

func TestBinaryResolver_ManifestWinsOverSearchPath(t *testing.T) {
	dir := t.TempDir()
	pinned := filepath.Join(dir, "mytool")
	if err := os.WriteFile(pinned, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	manifest := &ToolchainManifest{Tools: map[string]ToolEntry{
		"mytool": {Path: pinned},
	}}
	r := NewBinaryResolver(manifest, []string{"/usr/bin", "/bin"})

	got, err := r.Resolve("mytool")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != pinned {
		t.Errorf("Resolve() = %q, want pinned %q", got, pinned)
	}

	if _, err := r.Resolve("sh"); err != nil {
		t.Errorf("Resolve(sh) via search path error = %v", err)
	}

	if _, err := r.Resolve("definitely-not-a-tool-xyz"); err == nil {
		t.Error("Resolve() of unknown tool expected error")
	}
}

func TestLoadToolchainManifest_RejectsMissingBinary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "toolchain.yaml")
	manifest := "tools:\n  ghost:\n    path: " + filepath.Join(dir, "ghost") + "\n"
	if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := LoadToolchainManifest(path); err == nil {
		t.Error("LoadToolchainManifest() expected error for missing binary")
	}
}
