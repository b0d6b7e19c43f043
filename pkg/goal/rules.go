package goal

import (
	"github.com/quarrybuild/quarry/pkg/digest"
	"github.com/quarrybuild/quarry/pkg/engine"
	"github.com/quarrybuild/quarry/pkg/sandbox"
	"github.com/quarrybuild/quarry/pkg/target"
)

// Snapshots wraps the digest store for injection as a scheduler param.
// Params are matched by concrete type, so interface-typed dependencies get
// a small wrapper struct.
type Snapshots struct {
	Store digest.Store
}

// Rules returns the complete rule set for the built-in goals.
func Rules() *engine.RuleSet {
	rs := engine.NewRuleSet().
		Register(
			executeProcessRule(),
			shellTestRule(),
			archiveRule(),
			inferDepsRule(),
		).
		ProvideParams(
			engine.TypeOf[Workspace](),
			engine.TypeOf[Snapshots](),
			engine.TypeOf[Tools](),
			engine.TypeOf[*sandbox.Runner](),
		)
	return rs
}

// Kinds returns the target kinds the built-in goals understand.
func Kinds() []target.KindSpec {
	return []target.KindSpec{
		{Name: TestKind, AllowedFields: []string{"timeout", "runner"}},
		{Name: ArchiveKind, AllowedFields: []string{"format"}},
		{Name: "files"},
	}
}

// All returns the built-in goals with default settings.
func All(distDir string) []Goal {
	return []Goal{
		TestGoal(),
		PackageGoal(distDir),
		DepsGoal(false),
	}
}
