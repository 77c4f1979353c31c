package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"bobchad/internal/jail"
	"bobchad/internal/logging"
	"bobchad/internal/tools"
)

// Notes writes markdown notes into a directory inside the jail.
type Notes struct {
	jail *jail.Jail
	dir  string // relative to the jail root
	now  func() time.Time
}

// NewNotes creates a note writer for dir (relative to the jail root).
func NewNotes(j *jail.Jail, dir string) *Notes {
	if dir == "" {
		dir = "notes"
	}
	return &Notes{jail: j, dir: dir, now: time.Now}
}

var noteSchema = tools.ToolSchema{
	Required: []string{"title"},
	Properties: map[string]tools.Property{
		"title": {
			Type:        "string",
			Description: "Note title; the file name is derived from it",
		},
		"content": {
			Type:        "string",
			Description: "Markdown content",
		},
	},
}

// CreateNoteTool returns a tool that creates (or overwrites) a markdown note.
func (n *Notes) CreateNoteTool() *tools.Tool {
	return &tools.Tool{
		Name:        "create_markdown_note",
		Description: "Create a markdown note in the notes directory",
		SideEffect:  tools.MutatesFilesystem,
		Schema:      noteSchema,
		Execute:     n.executeCreate,
	}
}

// AppendNoteTool returns a tool that appends to a markdown note, creating it if needed.
func (n *Notes) AppendNoteTool() *tools.Tool {
	return &tools.Tool{
		Name:        "append_to_markdown_note",
		Description: "Append content to an existing markdown note (created if missing)",
		SideEffect:  tools.MutatesFilesystem,
		Schema:      noteSchema,
		Execute:     n.executeAppend,
	}
}

func (n *Notes) notePath(title string) (string, string, error) {
	slug := Slugify(title, n.now())
	rel := filepath.ToSlash(filepath.Join(n.dir, slug+".md"))
	abs, err := n.jail.Resolve(rel)
	if err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return "", "", fmt.Errorf("create notes dir: %w", err)
	}
	return abs, rel, nil
}

func (n *Notes) executeCreate(ctx context.Context, args map[string]any) (string, error) {
	title := strings.TrimSpace(tools.StringArg(args, "title", ""))
	abs, rel, err := n.notePath(title)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(abs, []byte(tools.StringArg(args, "content", "")), 0644); err != nil {
		return "", fmt.Errorf("write note: %w", err)
	}
	logging.Tools("create_markdown_note: %s", rel)
	return fmt.Sprintf("Created markdown note %q at %s.", title, rel), nil
}

func (n *Notes) executeAppend(ctx context.Context, args map[string]any) (string, error) {
	title := strings.TrimSpace(tools.StringArg(args, "title", ""))
	content := tools.StringArg(args, "content", "")
	abs, rel, err := n.notePath(title)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(abs); os.IsNotExist(err) {
		if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
			return "", fmt.Errorf("write note: %w", err)
		}
		return fmt.Sprintf("Note %q did not exist; created %s.", title, rel), nil
	}

	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	f, err := os.OpenFile(abs, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("open note: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return "", fmt.Errorf("append note: %w", err)
	}
	logging.Tools("append_to_markdown_note: %s", rel)
	return fmt.Sprintf("Appended to markdown note %q at %s.", title, rel), nil
}

// Slugify lowercases title, replaces every non-alphanumeric rune with '-',
// collapses dashes and trims them. An empty result becomes note-<timestamp>.
func Slugify(title string, now time.Time) string {
	var sb strings.Builder
	lastDash := false
	for _, r := range strings.TrimSpace(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(unicode.ToLower(r))
			lastDash = false
			continue
		}
		if !lastDash {
			sb.WriteByte('-')
			lastDash = true
		}
	}
	slug := strings.Trim(sb.String(), "-")
	if slug == "" {
		return "note-" + now.Format("20060102-150405")
	}
	return slug
}
