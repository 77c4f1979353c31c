// Package codemod applies in-place edits to named definitions.
//
// A source file is parsed with tree-sitter, the exact byte span of the named
// definition is located and only that span is replaced. Everything before and
// after the span is copied through untouched.
package codemod

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"bobchad/internal/logging"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/python"
)

// Span is the location of one definition inside a file.
type Span struct {
	Symbol string // qualified name, e.g. "Executor.run"
	Kind   string // tree-sitter node type

	// Start is the offset of the first byte of the line the definition
	// starts on, so the span owns its indentation. End is exclusive and
	// stops before the trailing newline.
	Start int
	End   int

	StartLine int // 1-indexed
	EndLine   int

	Indent string
	// Decorators holds Python decorator lines preceding the definition.
	// They sit outside the span.
	Decorators string
}

// Text returns the span's bytes from src.
func (s Span) Text(src []byte) string {
	return string(src[s.Start:s.End])
}

type language string

const (
	langPython language = "python"
	langGo     language = "go"
)

// Supported reports whether path has a language codemods can parse.
func Supported(path string) bool {
	return languageFor(path) != ""
}

func languageFor(path string) language {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py", ".pyw":
		return langPython
	case ".go":
		return langGo
	}
	return ""
}

func grammar(lang language) *sitter.Language {
	if lang == langGo {
		return golang.GetLanguage()
	}
	return python.GetLanguage()
}

// Definitions lists every named definition in src, ordered by position.
func Definitions(ctx context.Context, path string, src []byte) ([]Span, error) {
	lang := languageFor(path)
	if lang == "" {
		return nil, &Error{Kind: KindUnsupported, Path: path, Detail: fmt.Sprintf("no parser for %q files", filepath.Ext(path))}
	}

	parser := sitter.NewParser()
	parser.SetLanguage(grammar(lang))
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	var spans []Span
	if lang == langGo {
		collectGo(root, src, &spans)
	} else {
		collectPython(root, src, "", &spans)
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })
	return spans, nil
}

// Locate finds the single definition named symbol. A bare name matches a
// definition at any depth, a dotted name ("Class.method") only its exact
// qualified path; an exact qualified match always wins.
func Locate(ctx context.Context, path string, src []byte, symbol string) (Span, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return Span{}, &Error{Kind: KindTargetNotFound, Path: path, Detail: "empty symbol"}
	}

	spans, err := Definitions(ctx, path, src)
	if err != nil {
		return Span{}, err
	}

	var exact, loose []Span
	for _, s := range spans {
		switch {
		case s.Symbol == symbol:
			exact = append(exact, s)
		case !strings.Contains(symbol, ".") && baseName(s.Symbol) == symbol:
			loose = append(loose, s)
		}
	}

	matches := exact
	if len(matches) == 0 {
		matches = loose
	}
	switch len(matches) {
	case 0:
		logging.CodemodDebug("%s: no definition %s among %d", path, symbol, len(spans))
		return Span{}, &Error{Kind: KindTargetNotFound, Path: path, Symbol: symbol, Detail: "definition does not exist"}
	case 1:
		return matches[0], nil
	}

	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, fmt.Sprintf("%s@%d", m.Symbol, m.StartLine))
	}
	return Span{}, &Error{Kind: KindAmbiguous, Path: path, Symbol: symbol, Detail: "matches " + strings.Join(names, ", ")}
}

func normalizeSymbol(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "()")
	for _, kw := range []string{"def ", "class ", "func ", "type "} {
		s = strings.TrimPrefix(s, kw)
	}
	return strings.TrimSpace(s)
}

func baseName(qualified string) string {
	if i := strings.LastIndex(qualified, "."); i >= 0 {
		return qualified[i+1:]
	}
	return qualified
}

func collectPython(node *sitter.Node, src []byte, parent string, out *[]Span) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "function_definition", "class_definition":
			addPython(child, nil, src, parent, out)
		case "decorated_definition":
			if def := child.ChildByFieldName("definition"); def != nil {
				addPython(def, child, src, parent, out)
			}
		default:
			collectPython(child, src, parent, out)
		}
	}
}

func addPython(def, decorated *sitter.Node, src []byte, parent string, out *[]Span) {
	nameNode := def.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := nameNode.Content(src)
	if parent != "" {
		name = parent + "." + name
	}

	span := newSpan(def, src, name)
	if decorated != nil {
		decStart := lineStart(src, int(decorated.StartByte()))
		span.Decorators = string(src[decStart:span.Start])
	}
	*out = append(*out, span)

	if body := def.ChildByFieldName("body"); body != nil {
		collectPython(body, src, name, out)
	}
}

func collectGo(root *sitter.Node, src []byte, out *[]Span) {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		switch child.Type() {
		case "function_declaration":
			if n := child.ChildByFieldName("name"); n != nil {
				*out = append(*out, newSpan(child, src, n.Content(src)))
			}
		case "method_declaration":
			n := child.ChildByFieldName("name")
			if n == nil {
				continue
			}
			name := n.Content(src)
			if recv := child.ChildByFieldName("receiver"); recv != nil {
				if t := firstOfType(recv, "type_identifier"); t != nil {
					name = t.Content(src) + "." + name
				}
			}
			*out = append(*out, newSpan(child, src, name))
		case "type_declaration":
			var specs []*sitter.Node
			for j := 0; j < int(child.NamedChildCount()); j++ {
				if s := child.NamedChild(j); s.Type() == "type_spec" || s.Type() == "type_alias" {
					specs = append(specs, s)
				}
			}
			for _, s := range specs {
				n := s.ChildByFieldName("name")
				if n == nil {
					continue
				}
				target := s
				if len(specs) == 1 {
					target = child
				}
				*out = append(*out, newSpan(target, src, n.Content(src)))
			}
		}
	}
}

func firstOfType(node *sitter.Node, typ string) *sitter.Node {
	if node.Type() == typ {
		return node
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if found := firstOfType(node.NamedChild(i), typ); found != nil {
			return found
		}
	}
	return nil
}

func newSpan(node *sitter.Node, src []byte, name string) Span {
	nodeStart := int(node.StartByte())
	start := lineStart(src, nodeStart)
	end := int(node.EndByte())
	for end > nodeStart && (src[end-1] == '\n' || src[end-1] == '\r') {
		end--
	}
	indent := string(src[start:nodeStart])
	if strings.TrimSpace(indent) != "" {
		// Definition shares its line with other code; own only the node.
		start, indent = nodeStart, ""
	}
	return Span{
		Symbol:    name,
		Kind:      node.Type(),
		Start:     start,
		End:       end,
		StartLine: int(node.StartPoint().Row) + 1,
		EndLine:   int(node.EndPoint().Row) + 1,
		Indent:    indent,
	}
}

func lineStart(src []byte, off int) int {
	for off > 0 && src[off-1] != '\n' {
		off--
	}
	return off
}
