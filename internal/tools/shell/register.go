package shell

import (
	"time"

	"bobchad/internal/tools"
)

// RegisterAll registers all process execution tools with the given registry.
func RegisterAll(registry *tools.Registry, root, interpreter string, timeout time.Duration) error {
	return registry.Register(RunScriptTool(root, interpreter, timeout))
}
