package core

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"bobchad/internal/jail"
	"bobchad/internal/logging"
	"bobchad/internal/tools"

	"github.com/bmatcuk/doublestar/v4"
)

// ReadFileTool returns a tool for reading file contents.
func ReadFileTool(maxChars int) *tools.Tool {
	if maxChars <= 0 {
		maxChars = 16000
	}
	return &tools.Tool{
		Name:        "read_file",
		Description: "Read the contents of a UTF-8 text file inside the project",
		SideEffect:  tools.ReadOnly,
		PathArgs:    []string{"path"},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return executeReadFile(ctx, args, maxChars)
		},
		Schema: tools.ToolSchema{
			Required: []string{"path"},
			Properties: map[string]tools.Property{
				"path": {
					Type:        "string",
					Description: "The file path to read",
				},
				"max_chars": {
					Type:        "integer",
					Description: "Truncate the result after this many characters",
					Default:     maxChars,
				},
			},
		},
	}
}

func executeReadFile(ctx context.Context, args map[string]any, defaultMax int) (string, error) {
	path := tools.StringArg(args, "path", "")
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	maxChars := tools.IntArg(args, "max_chars", defaultMax)

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s is not a regular file", path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	if !utf8.Valid(content) {
		return "", fmt.Errorf("%s is not UTF-8 text", path)
	}

	result := truncateRunes(string(content), maxChars)
	logging.ToolsDebug("read_file completed: %s (%d bytes)", path, len(result))
	return result, nil
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == max {
			return s[:i] + "\n\n... (truncated)"
		}
		count++
	}
	return s
}

// ListFilesTool returns a tool for listing directory contents.
func ListFilesTool(j *jail.Jail, maxEntries int) *tools.Tool {
	if maxEntries <= 0 {
		maxEntries = 200
	}
	return &tools.Tool{
		Name:        "list_files",
		Description: "List files and directories inside the project, optionally recursively and filtered by a glob pattern",
		SideEffect:  tools.ReadOnly,
		PathArgs:    []string{"path"},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return executeListFiles(ctx, j, args, maxEntries)
		},
		Schema: tools.ToolSchema{
			Properties: map[string]tools.Property{
				"path": {
					Type:        "string",
					Description: "Directory to list (default: project root)",
				},
				"recursive": {
					Type:        "boolean",
					Description: "Descend into subdirectories",
				},
				"pattern": {
					Type:        "string",
					Description: "Glob relative to path, e.g. **/*.go",
				},
				"max_entries": {
					Type:        "integer",
					Description: "Maximum number of entries to return",
					Default:     maxEntries,
				},
			},
		},
	}
}

type listEntry struct {
	rel   string
	isDir bool
	size  int64
}

func executeListFiles(ctx context.Context, j *jail.Jail, args map[string]any, defaultMax int) (string, error) {
	base := tools.StringArg(args, "path", j.Root())
	recursive, _ := args["recursive"].(bool)
	pattern := tools.StringArg(args, "pattern", "")
	maxEntries := tools.IntArg(args, "max_entries", defaultMax)

	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return "", fmt.Errorf("invalid pattern %q", pattern)
	}

	info, err := os.Stat(base)
	if err != nil {
		return "", fmt.Errorf("failed to list %s: %w", base, err)
	}

	var entries []listEntry
	add := func(path string, d fs.DirEntry) error {
		if len(entries) >= maxEntries {
			return fs.SkipAll
		}
		if pattern != "" {
			relToBase, err := filepath.Rel(base, path)
			if err != nil {
				return nil
			}
			if ok, _ := doublestar.Match(pattern, filepath.ToSlash(relToBase)); !ok {
				return nil
			}
		}
		relToRoot, err := filepath.Rel(j.Root(), path)
		if err != nil {
			return nil
		}
		e := listEntry{rel: filepath.ToSlash(relToRoot), isDir: d.IsDir()}
		if !e.isDir {
			if fi, err := d.Info(); err == nil {
				e.size = fi.Size()
			} else {
				e.size = -1
			}
		}
		entries = append(entries, e)
		return nil
	}

	switch {
	case !info.IsDir():
		if err := add(base, fs.FileInfoToDirEntry(info)); err != nil && err != fs.SkipAll {
			return "", err
		}
	case recursive:
		err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if path == base {
				return nil
			}
			return add(path, d)
		})
		if err != nil {
			return "", err
		}
	default:
		dirEntries, err := os.ReadDir(base)
		if err != nil {
			return "", fmt.Errorf("failed to list %s: %w", base, err)
		}
		for _, d := range dirEntries {
			if add(filepath.Join(base, d.Name()), d) == fs.SkipAll {
				break
			}
		}
	}

	if len(entries) == 0 {
		return "No files or directories found.", nil
	}

	var sb strings.Builder
	sb.WriteString("Path / Type / Size(bytes):")
	for _, e := range entries {
		switch {
		case e.isDir:
			fmt.Fprintf(&sb, "\n- %s  [dir]  dir", e.rel)
		case e.size < 0:
			fmt.Fprintf(&sb, "\n- %s  [file]  ?", e.rel)
		default:
			fmt.Fprintf(&sb, "\n- %s  [file]  %d", e.rel, e.size)
		}
	}
	logging.ToolsDebug("list_files: %d entries under %s", len(entries), base)
	return sb.String(), nil
}
