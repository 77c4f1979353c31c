package shell

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"bobchad/internal/logging"
	"bobchad/internal/tools"
)

// RunScriptTool returns the run_python_script tool. interpreter is the
// executable used to run the script (python3 by default).
func RunScriptTool(root, interpreter string, defaultTimeout time.Duration) *tools.Tool {
	if interpreter == "" {
		interpreter = "python3"
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 600 * time.Second
	}
	return &tools.Tool{
		Name:        "run_python_script",
		Description: "Run a Python script inside the project and return its exit code, stdout and stderr",
		SideEffect:  tools.MutatesFilesystem,
		PathArgs:    []string{"path"},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return executeRunScript(ctx, root, interpreter, defaultTimeout, args)
		},
		Schema: tools.ToolSchema{
			Required: []string{"path"},
			Properties: map[string]tools.Property{
				"path": {
					Type:        "string",
					Description: "Script path",
				},
				"args": {
					Type:        "array",
					Description: "Command-line arguments",
					Items:       &tools.PropertyItems{Type: "string"},
				},
				"timeout": {
					Type:        "integer",
					Description: "Timeout in seconds",
					Default:     int(defaultTimeout / time.Second),
				},
			},
		},
	}
}

func executeRunScript(ctx context.Context, root, interpreter string, defaultTimeout time.Duration, args map[string]any) (string, error) {
	path := tools.StringArg(args, "path", "")
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("script %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("script %s is not a regular file", path)
	}

	scriptArgs, err := tools.StringSliceArg(args, "args")
	if err != nil {
		return "", err
	}

	timeout := defaultTimeout
	if secs := tools.IntArg(args, "timeout", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	logging.ToolsDebug("run_python_script: %s %v (timeout=%v)", path, scriptArgs, timeout)

	dir := root
	if dir == "" {
		dir = filepath.Dir(path)
	}
	result, err := Run(ctx, dir, timeout, interpreter, append([]string{path}, scriptArgs...)...)
	if err != nil {
		return result.Combined(), err
	}

	logging.Tools("run_python_script %s exited %d", path, result.ExitCode)
	return result.Combined(), nil
}
