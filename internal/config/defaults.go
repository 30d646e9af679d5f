package config

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen: "127.0.0.1:8787",
		DBPath: ".taskdeck/taskdeck.db",
		Analyzer: CollaboratorConfig{
			TimeoutSeconds: 60,
		},
		GitHub: CollaboratorConfig{
			TimeoutSeconds: 30,
		},
		Retry: RetryConfig{
			InitialIntervalMs:   100,
			MaxIntervalMs:       10_000,
			MaxElapsedTimeMs:    120_000,
			Multiplier:          2.0,
			RandomizationFactor: 0.5,
		},
		ResolveLimit: 4,
	}
}
