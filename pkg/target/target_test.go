package target

import (
	"errors"
	"testing"
	"testing/fstest"
)

func TestParseAddress(t *testing.T) {
	cases := []struct {
		in      string
		want    Address
		wantErr bool
	}{
		{in: "src/app:app", want: Address{Dir: "src/app", Name: "app"}},
		{in: "//src/app:tests", want: Address{Dir: "src/app", Name: "tests"}},
		{in: "src/app", want: Address{Dir: "src/app", Name: "app"}},
		{in: ":root_tool", want: Address{Dir: "", Name: "root_tool"}},
		{in: "", wantErr: true},
		{in: "src/app:", wantErr: true},
		{in: "../escape:x", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseAddress(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseAddress(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAddress(%q) error = %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseAddress(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func testKinds(t *testing.T) *KindRegistry {
	t.Helper()
	r, err := NewKindRegistry(
		KindSpec{Name: "shell_test", AllowedFields: []string{"timeout", "runner"}},
		KindSpec{Name: "files"},
		KindSpec{Name: "archive", AllowedFields: []string{"format"}},
	)
	if err != nil {
		t.Fatalf("NewKindRegistry() error = %v", err)
	}
	return r
}

func TestKindRegistry_ExecBuildFile_DeclaresTargets(t *testing.T) {
	src := `
shell_test(
    name = "smoke",
    sources = ["*_test.sh"],
    deps = [":data", "lib/common:common"],
    tags = ["slow"],
    timeout = 30,
)

files(name = "data", sources = ["data/**"])
`
	targets, err := testKinds(t).ExecBuildFile("src/app", "src/app/BUILD", []byte(src))
	if err != nil {
		t.Fatalf("ExecBuildFile() error = %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("got %d targets, want 2", len(targets))
	}

	smoke := targets[0]
	if smoke.Address != (Address{Dir: "src/app", Name: "smoke"}) {
		t.Errorf("address = %v", smoke.Address)
	}
	if smoke.Kind != "shell_test" {
		t.Errorf("kind = %q", smoke.Kind)
	}
	if len(smoke.Deps) != 2 || smoke.Deps[0] != (Address{Dir: "src/app", Name: "data"}) {
		t.Errorf("deps = %v, sibling reference not resolved", smoke.Deps)
	}
	if smoke.IntField("timeout", 0) != 30 {
		t.Errorf("timeout field = %d, want 30", smoke.IntField("timeout", 0))
	}
	if !smoke.HasTag("slow") {
		t.Error("tag slow missing")
	}
}

func TestKindRegistry_ExecBuildFile_RejectsUnknownField(t *testing.T) {
	src := `files(name = "x", compression = "zstd")`
	_, err := testKinds(t).ExecBuildFile("", "BUILD", []byte(src))
	if err == nil {
		t.Fatal("ExecBuildFile() expected error for unknown field")
	}
}

func TestKindRegistry_ExecBuildFile_RequiresName(t *testing.T) {
	_, err := testKinds(t).ExecBuildFile("", "BUILD", []byte(`files(sources = ["*"])`))
	if err == nil {
		t.Fatal("ExecBuildFile() expected error for missing name")
	}
}

func TestLoader_Load_BuildsGraphAcrossDirectories(t *testing.T) {
	fsys := fstest.MapFS{
		"BUILD":          {Data: []byte(`files(name = "root", sources = ["README*"])`)},
		"lib/BUILD":      {Data: []byte(`files(name = "lib")`)},
		"src/app/BUILD":  {Data: []byte(`shell_test(name = "t", deps = ["lib:lib"])`)},
		".hidden/BUILD":  {Data: []byte(`files(name = "skipme")`)},
		"_scratch/BUILD": {Data: []byte(`files(name = "skipme")`)},
	}
	g, err := NewLoader(testKinds(t), nil).Load(fsys)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if g.Len() != 3 {
		t.Errorf("Len() = %d, want 3 (hidden dirs skipped)", g.Len())
	}
	if _, ok := g.Lookup(Address{Dir: "src/app", Name: "t"}); !ok {
		t.Error("src/app:t not loaded")
	}
}

func TestLoader_Load_DanglingDepFails(t *testing.T) {
	fsys := fstest.MapFS{
		"BUILD": {Data: []byte(`shell_test(name = "t", deps = ["missing:missing"])`)},
	}
	if _, err := NewLoader(testKinds(t), nil).Load(fsys); err == nil {
		t.Fatal("Load() expected error for dangling dependency")
	}
}

func TestGraph_Queries(t *testing.T) {
	a := &Target{Address: Address{Dir: "a", Name: "a"}, Kind: "files"}
	b := &Target{Address: Address{Dir: "b", Name: "b"}, Kind: "shell_test", Deps: []Address{a.Address}}
	c := &Target{Address: Address{Dir: "c", Name: "c"}, Kind: "shell_test", Deps: []Address{b.Address}}
	g, err := NewGraph([]*Target{c, a, b})
	if err != nil {
		t.Fatalf("NewGraph() error = %v", err)
	}

	tests := g.WithKind("shell_test")
	if len(tests) != 2 || tests[0].Address.Dir != "b" {
		t.Errorf("WithKind() = %v, want [b c] in address order", tests)
	}

	deps, err := g.DependenciesOf(c.Address)
	if err != nil {
		t.Fatalf("DependenciesOf() error = %v", err)
	}
	if len(deps) != 1 || deps[0] != b {
		t.Errorf("DependenciesOf(c) = %v, want [b]", deps)
	}

	closure, err := g.TransitiveClosure(c.Address)
	if err != nil {
		t.Fatalf("TransitiveClosure() error = %v", err)
	}
	if len(closure) != 3 {
		t.Errorf("TransitiveClosure(c) len = %d, want 3", len(closure))
	}
}

func TestExpandSources(t *testing.T) {
	fsys := fstest.MapFS{
		"src/app/a_test.sh":      {Data: []byte("a")},
		"src/app/b_test.sh":      {Data: []byte("b")},
		"src/app/helper.sh":      {Data: []byte("h")},
		"src/app/sub/c_test.sh":  {Data: []byte("c")},
		"src/app/data/fixture":   {Data: []byte("f")},
		"src/other/d_test.sh":    {Data: []byte("d")},
	}

	got, err := ExpandSources(fsys, "src/app", []string{"*_test.sh"}, ExpandOptions{})
	if err != nil {
		t.Fatalf("ExpandSources() error = %v", err)
	}
	want := []string{"src/app/a_test.sh", "src/app/b_test.sh"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("ExpandSources() = %v, want %v", got, want)
	}
}

func TestExpandSources_Exclusions(t *testing.T) {
	fsys := fstest.MapFS{
		"a_test.sh": {Data: []byte("a")},
		"b_test.sh": {Data: []byte("b")},
	}
	got, err := ExpandSources(fsys, "", []string{"*_test.sh", "!b_test.sh"}, ExpandOptions{})
	if err != nil {
		t.Fatalf("ExpandSources() error = %v", err)
	}
	if len(got) != 1 || got[0] != "a_test.sh" {
		t.Errorf("ExpandSources() = %v, want [a_test.sh]", got)
	}
}

func TestExpandSources_MatchPolicies(t *testing.T) {
	fsys := fstest.MapFS{
		"a.txt": {Data: []byte("a")},
		"b.txt": {Data: []byte("b")},
	}

	if got, err := ExpandSources(fsys, "", []string{"*.go"}, ExpandOptions{Policy: MatchAllowEmpty}); err != nil || len(got) != 0 {
		t.Errorf("MatchAllowEmpty: got %v, %v; want empty, nil", got, err)
	}

	_, err := ExpandSources(fsys, "", []string{"*.go"}, ExpandOptions{Policy: MatchRequireAny})
	if !errors.Is(err, ErrNoFilesMatched) {
		t.Errorf("MatchRequireAny error = %v, want ErrNoFilesMatched", err)
	}

	_, err = ExpandSources(fsys, "", []string{"*.txt"}, ExpandOptions{MaxMatches: 1})
	if !errors.Is(err, ErrTooManyFilesMatched) {
		t.Errorf("MaxMatches error = %v, want ErrTooManyFilesMatched", err)
	}
}
