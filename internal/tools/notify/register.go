package notify

import "bobchad/internal/tools"

// RegisterAll registers the notification tools with the given registry.
func RegisterAll(registry *tools.Registry, m *Mailer) error {
	return registry.Register(m.EmailTool())
}
