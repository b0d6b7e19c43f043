package policy

// Severity classifies how a violated policy affects admission.
type Severity string

const (
	// SeverityWarning logs the violation but admits the process.
	SeverityWarning Severity = "warning"

	// SeverityError denies the process.
	SeverityError Severity = "error"
)

// Policy is one Rego admission policy. The Rego module must expose a
// deny set in its package; each element is either a message string or an
// object with a "message" key.
type Policy struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Severity    Severity `json:"severity"`
	Enabled     bool     `json:"enabled"`
	Rego        string   `json:"rego"`
}

// Violation is one denied condition from an evaluated policy.
type Violation struct {
	Policy   string   `json:"policy"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Input is the document policies evaluate against.
type Input struct {
	Process ProcessInput `json:"process"`

	// AllowNetwork reflects the engine-level setting; policies consult
	// it to decide whether a networked process is acceptable.
	AllowNetwork bool `json:"allow_network"`
}

// ProcessInput is the policy-visible shape of a process spec.
type ProcessInput struct {
	Description string            `json:"description"`
	Argv        []string          `json:"argv"`
	Env         map[string]string `json:"env"`
	WorkingDir  string            `json:"working_dir"`
	OutputGlobs []string          `json:"output_globs"`
	Network     bool              `json:"network"`
}
