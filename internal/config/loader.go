package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Load reads and merges definitions from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Files ending in .hcl are decoded as HCL, everything else as JSON.
// Missing files are not errors; malformed files are.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads definitions from conventional paths.
// Global: ~/.simpletasks/config.{hcl,json}
// Project: .simpletasks/config.{hcl,json} (relative to cwd)
// The HCL file wins when both exist in the same directory.
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := conventionalPath(filepath.Join(homeDir, ".simpletasks"))
	projectPath := conventionalPath(".simpletasks")

	return Load(globalPath, projectPath)
}

func conventionalPath(dir string) string {
	hclPath := filepath.Join(dir, "config.hcl")
	if _, err := os.Stat(hclPath); err == nil {
		return hclPath
	}
	return filepath.Join(dir, "config.json")
}

// mergeConfigFile reads a definition file and merges it into the base config.
// Missing files are silently skipped.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded *Config
	if strings.EqualFold(filepath.Ext(path), ".hcl") {
		loaded, err = decodeHCL(path, data)
	} else {
		loaded = &Config{}
		err = json.Unmarshal(data, loaded)
	}
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	base.merge(loaded)
	return nil
}

// merge overlays other onto c. Set settings fields win; orchestrators and
// pipelines are replaced whole, by name.
func (c *Config) merge(other *Config) {
	s := other.Settings
	if s.LogLevel != "" {
		c.Settings.LogLevel = s.LogLevel
	}
	if s.LogFormat != "" {
		c.Settings.LogFormat = s.LogFormat
	}
	if s.Namespace != "" {
		c.Settings.Namespace = s.Namespace
	}
	if s.Threads > 0 {
		c.Settings.Threads = s.Threads
	}
	if s.FailOnException != nil {
		v := *s.FailOnException
		c.Settings.FailOnException = &v
	}
	if s.HistoryPath != "" {
		c.Settings.HistoryPath = s.HistoryPath
	}

	if c.Orchestrators == nil {
		c.Orchestrators = map[string]OrchestratorConfig{}
	}
	for name, o := range other.Orchestrators {
		c.Orchestrators[name] = o
	}

	if c.Pipelines == nil {
		c.Pipelines = map[string]PipelineConfig{}
	}
	for name, p := range other.Pipelines {
		c.Pipelines[name] = p
	}
}

// Validate checks the structural rules of the definitions. References to
// task types are resolved later, when the definitions are built.
func (c *Config) Validate() error {
	var errs []error
	if c.Settings.Threads < 0 {
		errs = append(errs, fmt.Errorf("settings: threads must not be negative, got %d", c.Settings.Threads))
	}

	for name, o := range c.Orchestrators {
		if _, dup := c.Pipelines[name]; dup {
			errs = append(errs, fmt.Errorf("%q is defined both as an orchestrator and a pipeline", name))
		}
		if o.Threads < 0 {
			errs = append(errs, fmt.Errorf("orchestrator %q: threads must not be negative, got %d", name, o.Threads))
		}
		seen := make(map[string]bool, len(o.Tasks))
		for i, t := range o.Tasks {
			switch {
			case t.ID == "":
				errs = append(errs, fmt.Errorf("orchestrator %q: task %d has no id", name, i))
			case seen[t.ID]:
				errs = append(errs, fmt.Errorf("orchestrator %q: duplicate task id %q", name, t.ID))
			case t.Type == "":
				errs = append(errs, fmt.Errorf("orchestrator %q: task %q has no type", name, t.ID))
			}
			seen[t.ID] = true
		}
	}

	for name, p := range c.Pipelines {
		seen := make(map[string]bool, len(p.Steps))
		for i, s := range p.Steps {
			id := s.StepID()
			switch {
			case s.Task == "":
				errs = append(errs, fmt.Errorf("pipeline %q: step %d has no task", name, i))
			case seen[id]:
				errs = append(errs, fmt.Errorf("pipeline %q: duplicate step id %q", name, id))
			}
			seen[id] = true
		}
	}

	return errors.Join(errs...)
}
