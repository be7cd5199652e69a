// Package config defines the CLI-surface configuration for the executor
// and agent server, and the YAML file + environment-variable loading
// convention the rest of the module's packages expect.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// Config is the fully resolved configuration for one fuzzing session.
type Config struct {
	Framework FrameworkConfig `yaml:"framework"`
	Target    TargetConfig    `yaml:"target"`
	Agent     AgentConfig     `yaml:"agent"`
	STR       STRConfig       `yaml:"str"`
}

// FrameworkConfig holds ambient, non-domain settings.
type FrameworkConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// TargetConfig mirrors the CLI surface's `-i`, `-o`, `-t`, `-m`, `-f`, `-n`,
// `-Q`, `-x`, and the trailing `-- target args` in §6.
type TargetConfig struct {
	InputDir  string `yaml:"input_dir"`
	OutputDir string `yaml:"output_dir"`

	Path string   `yaml:"path"`
	Args []string `yaml:"args"`

	// TimeoutMS is the per-run budget in milliseconds. The TCP-driven core
	// hard-overrides this to 10000 regardless of what is configured; see
	// ApplyTCPModeDefaults.
	TimeoutMS int `yaml:"timeout_ms"`

	// MemLimit is the raw "-m" value: a byte-count suffix string (k/M/G/T)
	// or the literal "none". Resolve with MemLimitMB.
	MemLimit string `yaml:"mem_limit"`

	// TestcaseFile is "-f"; when empty, a default path under OutputDir is
	// used and the target reads the testcase from stdin instead.
	TestcaseFile string `yaml:"testcase_file"`

	DumbMode bool   `yaml:"dumb_mode"`
	QEMUMode bool   `yaml:"qemu_mode"`
	ExtrasDir string `yaml:"extras_dir"`

	// PerfMode is "-p"; the TCP-driven core requires it.
	PerfMode bool `yaml:"perf_mode"`
}

// AgentConfig configures the TCP server in §4.6.
type AgentConfig struct {
	Port int `yaml:"port"`
}

// STRConfig sizes the shared telemetry region in §3.
type STRConfig struct {
	MapSize  int `yaml:"map_size"`
	PerfSize int `yaml:"perf_size"`
}

// DefaultConfig returns the baseline configuration, including the TCP-mode
// hard overrides.
func DefaultConfig() *Config {
	cfg := &Config{
		Framework: FrameworkConfig{LogLevel: "info", LogFormat: "text"},
		Target: TargetConfig{
			InputDir:  "./in",
			OutputDir: "./out",
			TimeoutMS: 1000,
			MemLimit:  "none",
			PerfMode:  true,
		},
		Agent: AgentConfig{Port: 2300},
		STR:   STRConfig{MapSize: 65536, PerfSize: 65536},
	}
	cfg.ApplyTCPModeDefaults()
	return cfg
}

// ApplyTCPModeDefaults enforces the hard overrides the spec attaches to
// the TCP-driven configuration: a fixed 10-second per-run timeout
// regardless of what was requested.
func (c *Config) ApplyTCPModeDefaults() {
	c.Target.TimeoutMS = 10000
}

// MemLimitMB resolves the "-m" value to a megabyte count, or 0 for "none".
// A bare number with no unit suffix is interpreted as megabytes, matching
// the source's convention; any suffixed value (k/M/G/T) is parsed as a
// byte count and converted down to megabytes.
func (c *Config) MemLimitMB() (int, error) {
	raw := strings.TrimSpace(c.Target.MemLimit)
	if raw == "" || strings.EqualFold(raw, "none") {
		return 0, nil
	}
	if mb, err := strconv.Atoi(raw); err == nil {
		return mb, nil
	}
	bytes, err := units.RAMInBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid mem_limit %q: %w", raw, err)
	}
	return int(bytes / units.MiB), nil
}

// Load reads path as YAML after expanding environment variable references,
// starting from DefaultConfig so partial files are valid. A missing file is
// not an error: the defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.ApplyTCPModeDefaults()
	return cfg, nil
}

// Save writes c to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks the fields the TCP-driven core requires, including the
// two CLI rejections the spec calls out: dumb mode and a disabled
// performance map are both incompatible with this core.
func (c *Config) Validate() error {
	if c.Target.InputDir == "" {
		return fmt.Errorf("target.input_dir is required")
	}
	if c.Target.OutputDir == "" {
		return fmt.Errorf("target.output_dir is required")
	}
	if c.Target.Path == "" {
		return fmt.Errorf("target.path is required")
	}
	if c.Target.DumbMode {
		return fmt.Errorf("dumb mode (-n) is rejected in TCP mode")
	}
	if !c.Target.PerfMode {
		return fmt.Errorf("performance-map mode (-p) is required in TCP mode")
	}
	if c.Agent.Port <= 0 || c.Agent.Port > 65535 {
		return fmt.Errorf("agent.port must be between 1 and 65535, got %d", c.Agent.Port)
	}
	if c.STR.MapSize <= 0 || c.STR.MapSize&(c.STR.MapSize-1) != 0 {
		return fmt.Errorf("str.map_size must be a positive power of two, got %d", c.STR.MapSize)
	}
	if c.STR.PerfSize <= 0 || c.STR.PerfSize&(c.STR.PerfSize-1) != 0 {
		return fmt.Errorf("str.perf_size must be a positive power of two, got %d", c.STR.PerfSize)
	}
	if _, err := c.MemLimitMB(); err != nil {
		return err
	}
	return nil
}
