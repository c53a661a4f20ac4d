package config

// Settings holds process-wide defaults.
type Settings struct {
	LogLevel        string `json:"log_level,omitempty"`         // debug, info, warn, error or critical
	LogFormat       string `json:"log_format,omitempty"`        // "text" or "json"
	Namespace       string `json:"namespace,omitempty"`         // root logger namespace
	Threads         int    `json:"threads,omitempty"`           // default orchestrator thread count
	FailOnException *bool  `json:"fail_on_exception,omitempty"` // default for every run
	HistoryPath     string `json:"history_path,omitempty"`      // SQLite run history; empty disables it
}

// TaskConfig is one node of a configured orchestrator.
type TaskConfig struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"` // registered task type, orchestrator or pipeline name
	DependsOn []string       `json:"depends_on,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
	Exclusive []string       `json:"exclusive,omitempty"`
}

// OrchestratorConfig defines a dependency graph of tasks.
type OrchestratorConfig struct {
	Threads int            `json:"threads,omitempty"` // 0 uses Settings.Threads
	Options map[string]any `json:"options,omitempty"`
	Tasks   []TaskConfig   `json:"tasks"`
}

// StepConfig is one stage of a configured pipeline.
type StepConfig struct {
	ID      string         `json:"id,omitempty"` // defaults to Task
	Task    string         `json:"task"`
	Options map[string]any `json:"options,omitempty"`
}

// PipelineConfig defines a sequence of tasks.
type PipelineConfig struct {
	Options map[string]any `json:"options,omitempty"`
	Steps   []StepConfig   `json:"steps"`
}

// Config is the top-level definition file.
type Config struct {
	Settings      Settings                      `json:"settings"`
	Orchestrators map[string]OrchestratorConfig `json:"orchestrators"`
	Pipelines     map[string]PipelineConfig     `json:"pipelines"`
}

// StepID returns the identity of the step within its pipeline.
func (s StepConfig) StepID() string {
	if s.ID != "" {
		return s.ID
	}
	return s.Task
}
