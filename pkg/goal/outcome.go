package goal

import (
	"fmt"
	"io"
	"sort"

	"github.com/quarrybuild/quarry/pkg/target"
)

// Outcome categorizes a per-target result. The numeric order is the
// presentation order: skipped targets first, then successes, then failures,
// so failures end up adjacent to the final exit status.
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// TargetResult is one target's contribution to a goal run.
type TargetResult struct {
	Target  target.Address
	Outcome Outcome

	// ExitCode is the underlying tool's exit code. Zero for skipped
	// targets and successes.
	ExitCode int

	// Message is a short human-readable note: why a target was skipped,
	// or the failure summary.
	Message string

	// Log carries captured tool output for display.
	Log []byte
}

// Summary is a goal's aggregated, deterministically ordered result set.
type Summary struct {
	Results  []TargetResult
	ExitCode int
}

// Summarize sorts results by outcome category then target address, and
// derives the goal exit code: 0 when every non-skipped target succeeded,
// otherwise the first non-zero exit code in sorted order. An empty result
// set is full success.
func Summarize(results []TargetResult) Summary {
	sorted := make([]TargetResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Outcome != sorted[j].Outcome {
			return sorted[i].Outcome < sorted[j].Outcome
		}
		return sorted[i].Target.Less(sorted[j].Target)
	})

	exit := 0
	for _, r := range sorted {
		if r.Outcome == OutcomeFailed && r.ExitCode != 0 {
			exit = r.ExitCode
			break
		}
	}
	// A failure that somehow carries exit 0 still fails the goal.
	if exit == 0 {
		for _, r := range sorted {
			if r.Outcome == OutcomeFailed {
				exit = 1
				break
			}
		}
	}
	return Summary{Results: sorted, ExitCode: exit}
}

// Render writes a per-target summary table followed by the captured logs of
// failed targets.
func (s Summary) Render(w io.Writer) {
	for _, r := range s.Results {
		switch {
		case r.Message != "":
			fmt.Fprintf(w, "%-9s %s (%s)\n", r.Outcome, r.Target, r.Message)
		default:
			fmt.Fprintf(w, "%-9s %s\n", r.Outcome, r.Target)
		}
	}
	for _, r := range s.Results {
		if r.Outcome == OutcomeFailed && len(r.Log) > 0 {
			fmt.Fprintf(w, "\n== %s (exit %d)\n", r.Target, r.ExitCode)
			w.Write(r.Log)
		}
	}
}
