package config

import "time"

// ExecutorConfig configures plan execution.
type ExecutorConfig struct {
	// VerifyCommand runs after every codemod write when set, e.g. "go test ./...".
	// A non-zero exit restores the original file contents.
	VerifyCommand string `yaml:"verify_command"`
	VerifyTimeout string `yaml:"verify_timeout"`
}

// ToolsConfig configures the built-in tools.
type ToolsConfig struct {
	Python         string `yaml:"python"`
	ScriptTimeout  string `yaml:"script_timeout"`
	ReadMaxChars   int    `yaml:"read_max_chars"`
	ListMaxEntries int    `yaml:"list_max_entries"`
	NotesDir       string `yaml:"notes_dir"` // relative to project root
}

// GetVerifyTimeout returns the verification timeout as a duration.
func (c *Config) GetVerifyTimeout() time.Duration {
	return parseDuration(c.Executor.VerifyTimeout, 10*time.Minute)
}

// GetScriptTimeout returns the default script timeout as a duration.
func (c *Config) GetScriptTimeout() time.Duration {
	return parseDuration(c.Tools.ScriptTimeout, 600*time.Second)
}
