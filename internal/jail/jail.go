// Package jail confines filesystem access to a project root.
//
// Every path-bearing operation resolves its argument through a Jail before
// touching the filesystem. Resolution is lexical cleaning followed by symlink
// evaluation of the deepest existing ancestor, then a descendant check.
package jail

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"bobchad/internal/logging"
)

var (
	// ErrJailViolation is returned when a path resolves outside the root.
	ErrJailViolation = errors.New("jail violation")

	// ErrInvalidPath is returned for paths that cannot be resolved at all.
	ErrInvalidPath = errors.New("invalid path")
)

// ViolationError reports a path that escapes the root.
type ViolationError struct {
	Path     string // as requested
	Resolved string // after normalisation
	Root     string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("jail violation: %q resolves to %q outside %q", e.Path, e.Resolved, e.Root)
}

func (e *ViolationError) Unwrap() error { return ErrJailViolation }

// Jail resolves paths against a fixed root.
type Jail struct {
	root string
}

// New creates a Jail rooted at root. The root must exist; it is stored
// absolute with symlinks evaluated.
func New(root string) (*Jail, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: empty root", ErrInvalidPath)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	resolvedRoot, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(resolvedRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: root %s is not a directory", ErrInvalidPath, resolvedRoot)
	}
	return &Jail{root: resolvedRoot}, nil
}

// Root returns the absolute, symlink-free root.
func (j *Jail) Root() string { return j.root }

// Resolve normalises path relative to the root and returns the absolute path.
// Relative paths are joined onto the root. The result is stable under
// repeated resolution.
func (j *Jail) Resolve(path string) (string, error) {
	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("%w: NUL byte in %q", ErrInvalidPath, path)
	}

	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(j.root, candidate)
	}
	candidate = filepath.Clean(candidate)

	resolved, err := evalExisting(candidate)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	if !within(j.root, resolved) {
		logging.JailWarn("rejected %q (resolved %q) outside %q", path, resolved, j.root)
		return "", &ViolationError{Path: path, Resolved: resolved, Root: j.root}
	}
	return resolved, nil
}

// Rel returns the root-relative, slash-separated form of a path inside the jail.
func (j *Jail) Rel(path string) (string, error) {
	abs, err := j.Resolve(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(j.root, abs)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// Resolve is a convenience wrapper for one-off resolution.
func Resolve(path, root string) (string, error) {
	j, err := New(root)
	if err != nil {
		return "", err
	}
	return j.Resolve(path)
}

// maxLinkHops bounds dangling-symlink chasing.
const maxLinkHops = 40

// evalExisting evaluates symlinks on the deepest existing ancestor of path
// and re-appends the components that do not exist yet. A dangling symlink
// is followed to its target so a later create cannot write through it.
func evalExisting(path string) (string, error) {
	var missing []string
	current := path
	hops := 0
	for {
		target, err := filepath.EvalSymlinks(current)
		if err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				target = filepath.Join(target, missing[i])
			}
			return target, nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}

		if info, lerr := os.Lstat(current); lerr == nil && info.Mode()&os.ModeSymlink != 0 {
			hops++
			if hops > maxLinkHops {
				return "", fmt.Errorf("too many symlinks at %s", current)
			}
			link, err := os.Readlink(current)
			if err != nil {
				return "", err
			}
			if !filepath.IsAbs(link) {
				link = filepath.Join(filepath.Dir(current), link)
			}
			current = filepath.Clean(link)
			continue
		}

		parent := filepath.Dir(current)
		if parent == current {
			return path, nil
		}
		missing = append(missing, filepath.Base(current))
		current = parent
	}
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
