package config

// builtinSchema constrains quarry.cue before decoding. Defaults live in
// Default(); the schema only rejects values that cannot be honored.
const builtinSchema = `
#Duration: string & =~"^([0-9]+(\\.[0-9]+)?(ns|us|ms|s|m|h))+$"

engine?: {
	parallelism?: int & >=1 & <=1024
}

cache?: {
	backend?:    "badger" | "memory"
	dir?:        string & !=""
	result_ttl?: #Duration
}

sandbox?: {
	allow_network?:   bool
	keep_sandboxes?:  bool
	temp_root?:       string
	toolchain?:       string
	default_timeout?: #Duration
}

policy?: {
	dir?:      string
	disabled?: [...string & !=""]
}

telemetry?: {
	log_level?:       "trace" | "debug" | "info" | "warn" | "error"
	log_format?:      "json" | "console"
	tracing_enabled?: bool
	otlp_endpoint?:   string
	metrics_enabled?: bool
	metrics_addr?:    string
}
`
