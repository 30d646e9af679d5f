package config

// RetryConfig tunes the exponential backoff applied to collaborator calls.
// Durations are in milliseconds to keep the JSON plain.
type RetryConfig struct {
	InitialIntervalMs   int     `json:"initial_interval_ms,omitempty"`
	MaxIntervalMs       int     `json:"max_interval_ms,omitempty"`
	MaxElapsedTimeMs    int     `json:"max_elapsed_time_ms,omitempty"`
	Multiplier          float64 `json:"multiplier,omitempty"`
	RandomizationFactor float64 `json:"randomization_factor,omitempty"`
}

// CollaboratorConfig locates and tunes one external collaborator endpoint.
type CollaboratorConfig struct {
	URL            string `json:"url,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// SlackConfig configures the Slack incoming-webhook notifier.
// An empty webhook URL disables notifications.
type SlackConfig struct {
	WebhookURL string `json:"webhook_url,omitempty"`
}

// Config is the top-level service configuration.
type Config struct {
	Listen       string             `json:"listen"`  // HTTP listen address
	DBPath       string             `json:"db_path"` // SQLite database path
	Analyzer     CollaboratorConfig `json:"analyzer"`
	GitHub       CollaboratorConfig `json:"github"`
	Slack        SlackConfig        `json:"slack"`
	Retry        RetryConfig        `json:"retry"`
	ResolveLimit int                `json:"resolve_limit,omitempty"` // Concurrent dependents during propagation
}
