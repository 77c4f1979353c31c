package core

import (
	"time"

	"bobchad/internal/jail"
	"bobchad/internal/tools"
)

// Options configures the core tools.
type Options struct {
	Jail           *jail.Jail
	ReadMaxChars   int
	ListMaxEntries int
	NotesDir       string
	Now            func() time.Time
}

// RegisterAll registers all core tools with the given registry.
func RegisterAll(registry *tools.Registry, opts Options) error {
	notes := NewNotes(opts.Jail, opts.NotesDir)
	if opts.Now != nil {
		notes.now = opts.Now
	}

	allTools := []*tools.Tool{
		ListFilesTool(opts.Jail, opts.ListMaxEntries),
		ReadFileTool(opts.ReadMaxChars),
		notes.CreateNoteTool(),
		notes.AppendNoteTool(),
		DateTimeTool(opts.Now),
	}

	for _, tool := range allTools {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}

	return nil
}
