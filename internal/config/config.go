package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultStateDir is the state directory created under the project root.
const DefaultStateDir = ".bob"

// DefaultFileName is the config file name inside the state directory.
const DefaultFileName = "config.yaml"

// Config holds all bob configuration.
type Config struct {
	// ProjectRoot is the jail root. Every path argument resolves inside it.
	ProjectRoot string `yaml:"project_root"`

	// StateDir holds history, rules, tickets, queue and logs.
	// Relative values are resolved against ProjectRoot.
	StateDir string `yaml:"state_dir"`

	Meta     MetaConfig     `yaml:"meta"`
	Repair   RepairConfig   `yaml:"repair"`
	Executor ExecutorConfig `yaml:"executor"`
	Tools    ToolsConfig    `yaml:"tools"`
	Planner  PlannerConfig  `yaml:"planner"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// MetaConfig configures the ticket engine.
type MetaConfig struct {
	HistoryWindow      int `yaml:"history_window"`
	DefaultTicketCount int `yaml:"default_ticket_count"`
	HighThreshold      int `yaml:"high_threshold"`
	MediumThreshold    int `yaml:"medium_threshold"`
}

// RepairConfig configures the repair/retry controller.
type RepairConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ProjectRoot: ".",
		StateDir:    DefaultStateDir,

		Meta: MetaConfig{
			HistoryWindow:      200,
			DefaultTicketCount: 5,
			HighThreshold:      10,
			MediumThreshold:    4,
		},

		Repair: RepairConfig{
			MaxAttempts: 3,
		},

		Executor: ExecutorConfig{
			VerifyTimeout: "10m",
		},

		Tools: ToolsConfig{
			Python:         "python3",
			ScriptTimeout:  "600s",
			ReadMaxChars:   16000,
			ListMaxEntries: 200,
			NotesDir:       "notes",
		},

		Planner: PlannerConfig{
			Provider: "offline",
			Model:    "gemini-2.5-flash",
			Timeout:  "120s",
		},

		SMTP: SMTPConfig{
			Port:     587,
			Security: "starttls",
			Timeout:  "30s",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (c *Config) applyEnvOverrides() {
	if root := os.Getenv("BOB_PROJECT_ROOT"); root != "" {
		c.ProjectRoot = root
	}
	if v := os.Getenv("BOB_MAX_REPAIR_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Repair.MaxAttempts = n
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Planner.APIKey = key
		if c.Planner.Provider == "" || c.Planner.Provider == "offline" {
			c.Planner.Provider = "gemini"
		}
	}
	c.SMTP.applyEnvOverrides()
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ProjectRoot == "" {
		return fmt.Errorf("project_root must be set")
	}
	if c.Repair.MaxAttempts < 0 {
		return fmt.Errorf("repair.max_attempts must be >= 0, got %d", c.Repair.MaxAttempts)
	}
	if c.Meta.HistoryWindow <= 0 {
		return fmt.Errorf("meta.history_window must be positive, got %d", c.Meta.HistoryWindow)
	}
	if c.Meta.MediumThreshold > c.Meta.HighThreshold {
		return fmt.Errorf("meta.medium_threshold (%d) exceeds meta.high_threshold (%d)",
			c.Meta.MediumThreshold, c.Meta.HighThreshold)
	}
	switch c.Planner.Provider {
	case "offline":
	case "gemini":
		if c.Planner.APIKey == "" {
			return fmt.Errorf("planner provider gemini requires an API key (set GEMINI_API_KEY)")
		}
	default:
		return fmt.Errorf("invalid planner provider: %s (valid: offline, gemini)", c.Planner.Provider)
	}
	return nil
}

// RootDir returns the absolute project root.
func (c *Config) RootDir() (string, error) {
	return filepath.Abs(c.ProjectRoot)
}

// StatePath joins elem onto the absolute state directory.
func (c *Config) StatePath(elem ...string) (string, error) {
	root, err := c.RootDir()
	if err != nil {
		return "", err
	}
	dir := c.StateDir
	if dir == "" {
		dir = DefaultStateDir
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	return filepath.Join(append([]string{dir}, elem...)...), nil
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
