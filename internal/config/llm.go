package config

import "time"

// PlannerConfig configures the external reasoning service that drafts plans
// and rewrites definitions.
type PlannerConfig struct {
	Provider string `yaml:"provider"` // offline, gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Timeout  string `yaml:"timeout"`
}

// GetPlannerTimeout returns the planner request timeout as a duration.
func (c *Config) GetPlannerTimeout() time.Duration {
	return parseDuration(c.Planner.Timeout, 120*time.Second)
}
