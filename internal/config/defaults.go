package config

// DefaultConfig returns the built-in settings with no orchestrators or
// pipelines defined.
func DefaultConfig() *Config {
	return &Config{
		Settings: Settings{
			LogLevel:  "info",
			LogFormat: "text",
			Namespace: "simpletasks",
			Threads:   4,
		},
		Orchestrators: map[string]OrchestratorConfig{},
		Pipelines:     map[string]PipelineConfig{},
	}
}
