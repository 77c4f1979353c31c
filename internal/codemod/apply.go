package codemod

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"bobchad/internal/fsutil"
	"bobchad/internal/logging"

	sitter "github.com/smacker/go-tree-sitter"
)

// Change describes one applied edit.
type Change struct {
	Path   string
	Symbol string
	Create bool

	// StartLine and EndLine bound the minimal changed region in the
	// original file (1-indexed, inclusive). Both are zero for a no-op.
	StartLine int
	EndLine   int

	Before []byte
	After  []byte
}

// Changed reports whether the edit altered any byte.
func (c Change) Changed() bool {
	return string(c.Before) != string(c.After)
}

// ReplaceDefinition returns src with the definition named symbol replaced by
// replacement. Only the definition's span changes; a missing definition is a
// KindTargetNotFound error, never a newly appended duplicate.
func ReplaceDefinition(ctx context.Context, path string, src []byte, symbol, replacement string) ([]byte, Change, error) {
	span, err := Locate(ctx, path, src, symbol)
	if err != nil {
		return nil, Change{}, err
	}
	if strings.TrimSpace(replacement) == "" {
		return nil, Change{}, &Error{Kind: KindInvalidReplacement, Path: path, Symbol: span.Symbol, Detail: "replacement is empty"}
	}

	start := span.Start
	newText := reindent(replacement, span.Indent)
	if span.Decorators != "" && strings.HasPrefix(strings.TrimSpace(newText), "@") {
		// Replacement restates its decorators; take them into the span.
		start -= len(span.Decorators)
	}
	oldText := string(src[start:span.End])
	if strings.Contains(oldText, "\r\n") {
		newText = strings.ReplaceAll(newText, "\n", "\r\n")
	}

	change := Change{Path: path, Symbol: span.Symbol, Before: src, After: src}
	if oldText == newText {
		logging.CodemodDebug("%s: %s already matches replacement", path, span.Symbol)
		return src, change, nil
	}

	out := make([]byte, 0, len(src)-len(oldText)+len(newText))
	out = append(out, src[:start]...)
	out = append(out, newText...)
	out = append(out, src[span.End:]...)

	if err := checkResult(ctx, path, src, out, span.Symbol); err != nil {
		return nil, Change{}, err
	}

	first, last := changedLines(oldText, newText)
	base := strings.Count(string(src[:start]), "\n") + 1
	change.StartLine = base + first
	change.EndLine = base + last
	change.After = out

	logging.Codemod("%s: replaced %s (lines %d-%d)", path, span.Symbol, change.StartLine, change.EndLine)
	return out, change, nil
}

// Definition returns the current source of symbol.
func Definition(ctx context.Context, path string, src []byte, symbol string) (string, error) {
	span, err := Locate(ctx, path, src, symbol)
	if err != nil {
		return "", err
	}
	return span.Decorators + span.Text(src), nil
}

// checkResult rejects a splice that breaks the parse or loses the definition.
func checkResult(ctx context.Context, path string, before, after []byte, symbol string) error {
	hadErrors, err := hasSyntaxErrors(ctx, path, before)
	if err != nil {
		return err
	}
	if !hadErrors {
		broken, err := hasSyntaxErrors(ctx, path, after)
		if err != nil {
			return err
		}
		if broken {
			return &Error{Kind: KindInvalidReplacement, Path: path, Symbol: symbol, Detail: "replacement does not parse"}
		}
	}
	if _, err := Locate(ctx, path, after, symbol); err != nil {
		return &Error{Kind: KindInvalidReplacement, Path: path, Symbol: symbol, Detail: "replacement must define " + symbol + " exactly once"}
	}
	return nil
}

func hasSyntaxErrors(ctx context.Context, path string, src []byte) (bool, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(grammar(languageFor(path)))
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	defer tree.Close()
	return tree.RootNode().HasError(), nil
}

// reindent strips the replacement's common indentation and re-applies the
// definition's own, so a method written at column zero lands in its class.
func reindent(text, indent string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimLeft(text, "\n")
	text = strings.TrimRight(text, " \t\n")
	lines := strings.Split(text, "\n")

	common := ""
	first := true
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		lead := l[:len(l)-len(strings.TrimLeft(l, " \t"))]
		if first {
			common, first = lead, false
			continue
		}
		for !strings.HasPrefix(lead, common) {
			common = common[:len(common)-1]
		}
	}

	for i, l := range lines {
		if strings.TrimSpace(l) == "" {
			lines[i] = ""
			continue
		}
		lines[i] = indent + strings.TrimPrefix(l, common)
	}
	return strings.Join(lines, "\n")
}

// changedLines returns the 0-based first and last line of oldText that
// differ from newText after removing the common prefix and suffix lines.
func changedLines(oldText, newText string) (int, int) {
	oldLines := strings.Split(oldText, "\n")
	newLines := strings.Split(newText, "\n")

	p := 0
	for p < len(oldLines) && p < len(newLines) && oldLines[p] == newLines[p] {
		p++
	}
	s := 0
	for s < len(oldLines)-p && s < len(newLines)-p &&
		oldLines[len(oldLines)-1-s] == newLines[len(newLines)-1-s] {
		s++
	}
	last := len(oldLines) - 1 - s
	if last < p {
		// Pure insertion: report the line it follows.
		last = p
		if p > 0 {
			p--
			last = p
		}
	}
	return p, last
}

// ReadSource reads a file that a modify edit targets.
func ReadSource(path string) ([]byte, fs.FileMode, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, &Error{Kind: KindFileMissing, Path: path, Detail: "file does not exist"}
		}
		return nil, 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, 0, &Error{Kind: KindUnsupported, Path: path, Detail: "not a regular file"}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", path, err)
	}
	return data, info.Mode().Perm(), nil
}

// CreateFile writes content to a path that must not exist yet.
func CreateFile(path string, content []byte) (Change, error) {
	if _, err := os.Lstat(path); err == nil {
		return Change{}, &Error{Kind: KindAlreadyExists, Path: path, Detail: "create target already exists"}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Change{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if err := fsutil.WriteAtomic(path, content, 0o644); err != nil {
		return Change{}, err
	}
	logging.Codemod("%s: created (%d bytes)", path, len(content))
	return Change{Path: path, Create: true, After: content, StartLine: 1, EndLine: strings.Count(string(content), "\n") + 1}, nil
}
