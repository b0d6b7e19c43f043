package stores

import "time"

// RunStatus tracks a goal invocation's lifecycle.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run records one goal invocation.
type Run struct {
	ID          string
	Goal        string
	Args        string
	Status      RunStatus
	ExitCode    *int
	Error       *string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// ProcessRow is the persisted form of a sandboxed process result, keyed by
// the spec fingerprint.
type ProcessRow struct {
	Fingerprint      string
	ExitCode         int
	Stdout           []byte
	Stderr           []byte
	OutputDigestHash string
	OutputDigestSize int64
	DurationNanos    int64
	CreatedAt        time.Time
	Hits             int64
}
