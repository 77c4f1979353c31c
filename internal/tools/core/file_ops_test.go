package core

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bobchad/internal/jail"
	"bobchad/internal/tools"

	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) (*tools.Registry, string) {
	t.Helper()
	j, err := jail.New(t.TempDir())
	require.NoError(t, err)
	reg := tools.NewRegistry(j)
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, RegisterAll(reg, Options{
		Jail:           j,
		ReadMaxChars:   100,
		ListMaxEntries: 50,
		NotesDir:       "notes",
		Now:            func() time.Time { return fixed },
	}))
	return reg, j.Root()
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestRegisterAll(t *testing.T) {
	t.Parallel()
	reg, _ := newRegistry(t)
	require.Equal(t, []string{
		"append_to_markdown_note",
		"create_markdown_note",
		"get_current_datetime",
		"list_files",
		"read_file",
	}, reg.Names())
}

func TestReadFile(t *testing.T) {
	t.Parallel()
	reg, root := newRegistry(t)
	writeFile(t, filepath.Join(root, "a.txt"), "Hello, World!\nSecond line.")

	result, err := reg.Invoke(context.Background(), "read_file", map[string]any{"path": "a.txt"})
	require.NoError(t, err)
	require.Equal(t, "Hello, World!\nSecond line.", result.Output)
}

func TestReadFile_Truncates(t *testing.T) {
	t.Parallel()
	reg, root := newRegistry(t)
	writeFile(t, filepath.Join(root, "long.txt"), strings.Repeat("é", 20))

	result, err := reg.Invoke(context.Background(), "read_file", map[string]any{"path": "long.txt", "max_chars": 5})
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("é", 5)+"\n\n... (truncated)", result.Output)
}

func TestReadFile_Errors(t *testing.T) {
	t.Parallel()
	reg, root := newRegistry(t)
	writeFile(t, filepath.Join(root, "bin.dat"), "\xff\xfe\x00")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dir"), 0755))

	for _, p := range []string{"missing.txt", "bin.dat", "dir"} {
		_, err := reg.Invoke(context.Background(), "read_file", map[string]any{"path": p})
		require.Error(t, err, p)
	}

	_, err := reg.Invoke(context.Background(), "read_file", map[string]any{"path": "../outside.txt"})
	require.ErrorIs(t, err, jail.ErrJailViolation)
}

func TestListFiles(t *testing.T) {
	t.Parallel()
	reg, root := newRegistry(t)
	writeFile(t, filepath.Join(root, "a.go"), "package a")
	writeFile(t, filepath.Join(root, "pkg", "b.go"), "package b")
	writeFile(t, filepath.Join(root, "pkg", "c.txt"), "c")

	result, err := reg.Invoke(context.Background(), "list_files", map[string]any{})
	require.NoError(t, err)
	require.Contains(t, result.Output, "- a.go  [file]  9")
	require.Contains(t, result.Output, "- pkg  [dir]  dir")
	require.NotContains(t, result.Output, "pkg/b.go")

	result, err = reg.Invoke(context.Background(), "list_files", map[string]any{"recursive": true, "pattern": "**/*.go"})
	require.NoError(t, err)
	require.Contains(t, result.Output, "- a.go")
	require.Contains(t, result.Output, "- pkg/b.go")
	require.NotContains(t, result.Output, "c.txt")

	result, err = reg.Invoke(context.Background(), "list_files", map[string]any{"path": "pkg", "max_entries": 1})
	require.NoError(t, err)
	require.Equal(t, 2, len(strings.Split(result.Output, "\n")))
}

func TestListFiles_Empty(t *testing.T) {
	t.Parallel()
	reg, _ := newRegistry(t)

	result, err := reg.Invoke(context.Background(), "list_files", map[string]any{})
	require.NoError(t, err)
	require.Equal(t, "No files or directories found.", result.Output)
}

func TestListFiles_InvalidPattern(t *testing.T) {
	t.Parallel()
	reg, _ := newRegistry(t)

	_, err := reg.Invoke(context.Background(), "list_files", map[string]any{"pattern": "[unclosed"})
	require.Error(t, err)
}

func TestDateTime(t *testing.T) {
	t.Parallel()
	reg, _ := newRegistry(t)

	result, err := reg.Invoke(context.Background(), "get_current_datetime", map[string]any{"timezone": "UTC"})
	require.NoError(t, err)
	require.Equal(t, "Date and time: Thursday, 02 January 2025, 03:04:05 UTC (+0000)", result.Output)

	_, err = reg.Invoke(context.Background(), "get_current_datetime", map[string]any{"timezone": "Mars/Olympus"})
	require.Error(t, err)
}
