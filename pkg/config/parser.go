package config

import (
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
)

// FileName is the workspace configuration file quarry looks for.
const FileName = "quarry.cue"

// Parser loads and validates quarry.cue files.
type Parser struct {
	ctx       *cue.Context
	schema    cue.Value
	validator *validator.Validate
}

// NewParser creates a parser with the builtin schema compiled.
func NewParser() (*Parser, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(builtinSchema, cue.Filename("quarry-schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile builtin schema: %w", err)
	}
	return &Parser{
		ctx:       ctx,
		schema:    schema,
		validator: validator.New(),
	}, nil
}

// Load reads the configuration file at path. A missing file is not an
// error; the defaults are returned.
func (p *Parser) Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return p.Parse(content, path)
}

// Parse validates the CUE source against the builtin schema and decodes
// it over the defaults.
func (p *Parser) Parse(content []byte, filename string) (*Config, error) {
	val := p.ctx.CompileBytes(content, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %s", filename, cueerrors.Details(err, nil))
	}

	unified := p.schema.Unify(val)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return nil, fmt.Errorf("invalid config %s: %s", filename, cueerrors.Details(err, nil))
	}

	var raw rawConfig
	if err := unified.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", filename, err)
	}

	cfg := Default()
	if err := raw.applyTo(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filename, err)
	}
	if err := p.validator.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filename, err)
	}
	return cfg, nil
}

// rawConfig mirrors Config with pointer fields so unset values fall
// through to the defaults. Durations arrive as strings from CUE.
type rawConfig struct {
	Engine *struct {
		Parallelism *int `json:"parallelism"`
	} `json:"engine"`
	Cache *struct {
		Backend   *string `json:"backend"`
		Dir       *string `json:"dir"`
		ResultTTL *string `json:"result_ttl"`
	} `json:"cache"`
	Sandbox *struct {
		AllowNetwork   *bool   `json:"allow_network"`
		KeepSandboxes  *bool   `json:"keep_sandboxes"`
		TempRoot       *string `json:"temp_root"`
		Toolchain      *string `json:"toolchain"`
		DefaultTimeout *string `json:"default_timeout"`
	} `json:"sandbox"`
	Policy *struct {
		Dir      *string  `json:"dir"`
		Disabled []string `json:"disabled"`
	} `json:"policy"`
	Telemetry *struct {
		LogLevel       *string `json:"log_level"`
		LogFormat      *string `json:"log_format"`
		TracingEnabled *bool   `json:"tracing_enabled"`
		OTLPEndpoint   *string `json:"otlp_endpoint"`
		MetricsEnabled *bool   `json:"metrics_enabled"`
		MetricsAddr    *string `json:"metrics_addr"`
	} `json:"telemetry"`
}

func (r *rawConfig) applyTo(cfg *Config) error {
	if e := r.Engine; e != nil {
		if e.Parallelism != nil {
			cfg.Engine.Parallelism = *e.Parallelism
		}
	}
	if c := r.Cache; c != nil {
		if c.Backend != nil {
			cfg.Cache.Backend = *c.Backend
		}
		if c.Dir != nil {
			cfg.Cache.Dir = *c.Dir
		}
		if c.ResultTTL != nil {
			d, err := parseDuration("cache.result_ttl", *c.ResultTTL)
			if err != nil {
				return err
			}
			cfg.Cache.ResultTTL = d
		}
	}
	if s := r.Sandbox; s != nil {
		if s.AllowNetwork != nil {
			cfg.Sandbox.AllowNetwork = *s.AllowNetwork
		}
		if s.KeepSandboxes != nil {
			cfg.Sandbox.KeepSandboxes = *s.KeepSandboxes
		}
		if s.TempRoot != nil {
			cfg.Sandbox.TempRoot = *s.TempRoot
		}
		if s.Toolchain != nil {
			cfg.Sandbox.Toolchain = *s.Toolchain
		}
		if s.DefaultTimeout != nil {
			d, err := parseDuration("sandbox.default_timeout", *s.DefaultTimeout)
			if err != nil {
				return err
			}
			cfg.Sandbox.DefaultTimeout = d
		}
	}
	if pl := r.Policy; pl != nil {
		if pl.Dir != nil {
			cfg.Policy.Dir = *pl.Dir
		}
		if pl.Disabled != nil {
			cfg.Policy.Disabled = pl.Disabled
		}
	}
	if t := r.Telemetry; t != nil {
		if t.LogLevel != nil {
			cfg.Telemetry.LogLevel = *t.LogLevel
		}
		if t.LogFormat != nil {
			cfg.Telemetry.LogFormat = *t.LogFormat
		}
		if t.TracingEnabled != nil {
			cfg.Telemetry.TracingEnabled = *t.TracingEnabled
		}
		if t.OTLPEndpoint != nil {
			cfg.Telemetry.OTLPEndpoint = *t.OTLPEndpoint
		}
		if t.MetricsEnabled != nil {
			cfg.Telemetry.MetricsEnabled = *t.MetricsEnabled
		}
		if t.MetricsAddr != nil {
			cfg.Telemetry.MetricsAddr = *t.MetricsAddr
		}
	}
	return nil
}

func parseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
