package config

import "time"

// Config is the root configuration for a quarry workspace. It is loaded
// from an optional quarry.cue file at the workspace root; every field
// has a working default so a bare workspace needs no config at all.
type Config struct {
	Engine    EngineConfig    `json:"engine"`
	Cache     CacheConfig     `json:"cache"`
	Sandbox   SandboxConfig   `json:"sandbox"`
	Policy    PolicyConfig    `json:"policy"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

// EngineConfig controls the rule scheduler.
type EngineConfig struct {
	// Parallelism caps the number of rule computations running at once.
	Parallelism int `json:"parallelism" validate:"gte=1,lte=1024"`
}

// CacheConfig controls the content store and the process result cache.
type CacheConfig struct {
	// Backend selects the content store implementation.
	Backend string `json:"backend" validate:"oneof=badger memory"`
	// Dir is the root directory for on-disk caches. Relative paths are
	// resolved against the workspace root.
	Dir string `json:"dir" validate:"required"`
	// ResultTTL bounds how long process results are kept before pruning.
	ResultTTL time.Duration `json:"result_ttl" validate:"gte=0"`
}

// SandboxConfig controls process execution.
type SandboxConfig struct {
	// AllowNetwork permits processes that declare Network access.
	AllowNetwork bool `json:"allow_network"`
	// KeepSandboxes leaves execution directories on disk for debugging.
	KeepSandboxes bool `json:"keep_sandboxes"`
	// TempRoot overrides the directory sandboxes are created under.
	TempRoot string `json:"temp_root"`
	// Toolchain is the path to an optional tool manifest, relative to
	// the workspace root.
	Toolchain string `json:"toolchain"`
	// DefaultTimeout applies to processes whose spec carries none.
	DefaultTimeout time.Duration `json:"default_timeout" validate:"gte=0"`
}

// PolicyConfig controls admission policies.
type PolicyConfig struct {
	// Dir holds additional .rego policy files, relative to the
	// workspace root. Empty means builtins only.
	Dir string `json:"dir"`
	// Disabled lists builtin policies to switch off by name.
	Disabled []string `json:"disabled"`
}

// TelemetryConfig mirrors the telemetry package options.
type TelemetryConfig struct {
	LogLevel       string `json:"log_level" validate:"oneof=trace debug info warn error"`
	LogFormat      string `json:"log_format" validate:"oneof=json console"`
	TracingEnabled bool   `json:"tracing_enabled"`
	OTLPEndpoint   string `json:"otlp_endpoint"`
	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsAddr    string `json:"metrics_addr"`
}

// Default returns the configuration used when no quarry.cue exists.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Parallelism: 8,
		},
		Cache: CacheConfig{
			Backend:   "badger",
			Dir:       ".quarry",
			ResultTTL: 7 * 24 * time.Hour,
		},
		Sandbox: SandboxConfig{
			DefaultTimeout: 5 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			LogLevel:  "info",
			LogFormat: "console",
		},
	}
}
