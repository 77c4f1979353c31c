package plan

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"bobchad/internal/logging"
	"bobchad/internal/rules"
	"bobchad/internal/tools"
)

// ToolCatalog is the read side of the tool registry.
type ToolCatalog interface {
	Lookup(name string) (tools.Spec, bool)
}

// Router validates plans and maps each to exactly one Action.
// It holds no mutable state; Route is a pure function of the plan,
// the catalog and the rule snapshot.
type Router struct {
	catalog ToolCatalog
	rules   *rules.Book
	root    string
}

// NewRouter creates a router. root is the project root used to express
// paths relative to the jail when checking path rules.
func NewRouter(catalog ToolCatalog, book *rules.Book, root string) *Router {
	return &Router{catalog: catalog, rules: book, root: root}
}

// WithRules returns a copy of the router using a newer rule snapshot.
func (r *Router) WithRules(book *rules.Book) *Router {
	return &Router{catalog: r.catalog, rules: book, root: r.root}
}

// Route validates p and returns the routed action or a *ValidationError.
func (r *Router) Route(p *Plan) (Action, error) {
	if p == nil {
		return nil, &ValidationError{Kind: KindMissingField, Field: "plan", Detail: "no plan"}
	}
	if strings.TrimSpace(p.ProvenanceID) == "" {
		return nil, &ValidationError{Kind: KindMissingField, Field: "provenance_id", Detail: "plan carries no provenance id"}
	}

	prov := Provenance{ID: p.ProvenanceID, TicketID: p.TicketID}

	var (
		act Action
		err error
	)
	switch p.TaskType {
	case TaskTool:
		act, err = r.routeTool(p, prov)
	case TaskCodemod:
		act, err = r.routeCodemod(p, prov)
	case TaskInfo:
		act, err = r.routeInfo(p, prov)
	case "":
		err = &ValidationError{Kind: KindMissingField, Field: "task_type", Detail: "task_type is required"}
	default:
		err = &ValidationError{Kind: KindUnknownTaskType, Field: "task_type", Detail: fmt.Sprintf("unknown task_type %q (want tool, codemod or info)", p.TaskType)}
	}

	if err != nil {
		if ve, ok := err.(*ValidationError); ok {
			ve.ProvenanceID = p.ProvenanceID
		}
		logging.Routing("plan %s rejected: %v", p.ProvenanceID, err)
		return nil, err
	}
	logging.Routing("plan %s routed as %s", p.ProvenanceID, act.Kind())
	return act, nil
}

func (r *Router) routeTool(p *Plan, prov Provenance) (Action, error) {
	if p.Tool == "" {
		return nil, &ValidationError{Kind: KindMissingField, Field: "tool", Detail: "tool plans must name a tool"}
	}
	if len(p.Edits) > 0 {
		return nil, &ValidationError{Kind: KindInvalidField, Field: "edits", Detail: "edits are only valid for codemod plans"}
	}
	spec, ok := r.catalog.Lookup(p.Tool)
	if !ok {
		return nil, &ValidationError{Kind: KindUnknownTool, Field: "tool", Detail: fmt.Sprintf("no tool named %q", p.Tool)}
	}

	var paths []string
	for _, name := range spec.PathArgs {
		v, present := p.Args[name]
		if !present {
			continue
		}
		s, isString := v.(string)
		if !isString {
			return nil, &ValidationError{Kind: KindInvalidField, Field: "args." + name, Detail: fmt.Sprintf("path argument must be a string, got %T", v)}
		}
		paths = append(paths, r.rel(s))
	}

	if rule, hit := r.rules.CheckPlan(rules.Subject{Tool: p.Tool, Paths: paths}); hit {
		return nil, &ValidationError{Kind: KindRuleViolation, Detail: fmt.Sprintf("tool %s is not allowed", p.Tool), Rule: rule.Text, Path: first(paths)}
	}

	args := map[string]any{}
	if p.Args != nil {
		args = cloneArgs(p.Args)
	}
	return &ToolAction{
		Provenance: prov,
		Tool:       spec.Name,
		Args:       args,
		Replayable: spec.SideEffect.Replayable(),
		paths:      paths,
	}, nil
}

func (r *Router) routeCodemod(p *Plan, prov Provenance) (Action, error) {
	edits := p.Edits
	if len(edits) == 0 {
		if len(p.TargetPaths) == 0 {
			return nil, &ValidationError{Kind: KindMissingField, Field: "target_paths", Detail: "codemod plans must name at least one file"}
		}
		symbol, _ := p.Args["symbol"].(string)
		for _, tp := range p.TargetPaths {
			edits = append(edits, Edit{Path: tp, Op: OpModify, Symbol: symbol})
		}
	}

	declared := make(map[string]bool, len(p.TargetPaths))
	for _, tp := range p.TargetPaths {
		declared[r.rel(tp)] = true
	}

	type fileOps struct {
		create  bool
		symbols map[string]bool
	}
	byPath := make(map[string]*fileOps)
	normalized := make([]Edit, 0, len(edits))
	var (
		paths         []string
		creates       bool
		needsRewriter bool
	)

	for i, e := range edits {
		field := fmt.Sprintf("edits[%d]", i)
		if strings.TrimSpace(e.Path) == "" {
			return nil, &ValidationError{Kind: KindMissingField, Field: field + ".path", Detail: "edit has no path"}
		}
		e.Path = r.rel(e.Path)
		if len(declared) > 0 && !declared[e.Path] {
			return nil, &ValidationError{Kind: KindInvalidField, Field: field + ".path", Path: e.Path, Detail: "edit path is not listed in target_paths"}
		}

		ops := byPath[e.Path]
		if ops == nil {
			ops = &fileOps{symbols: map[string]bool{}}
			byPath[e.Path] = ops
			paths = append(paths, e.Path)
		}

		switch e.Op {
		case OpModify:
			if strings.TrimSpace(e.Symbol) == "" {
				return nil, &ValidationError{Kind: KindMissingField, Field: field + ".symbol", Path: e.Path, Detail: "modify edits must name an existing definition"}
			}
			if ops.create {
				return nil, conflict(e.Path, "file is both modified in place and declared nonexistent")
			}
			if ops.symbols[e.Symbol] {
				return nil, conflict(e.Path, fmt.Sprintf("definition %s is edited twice", e.Symbol))
			}
			ops.symbols[e.Symbol] = true
			if e.Replacement == "" {
				needsRewriter = true
			}
		case OpCreate:
			if len(ops.symbols) > 0 {
				return nil, conflict(e.Path, "file is both modified in place and declared nonexistent")
			}
			if ops.create {
				return nil, conflict(e.Path, "file is created twice")
			}
			if e.Symbol != "" || e.Replacement != "" {
				return nil, &ValidationError{Kind: KindInvalidField, Field: field, Path: e.Path, Detail: "create edits carry content, not symbol or replacement"}
			}
			ops.create = true
			creates = true
		case "":
			return nil, &ValidationError{Kind: KindMissingField, Field: field + ".op", Path: e.Path, Detail: "edit op is required"}
		default:
			return nil, &ValidationError{Kind: KindInvalidField, Field: field + ".op", Path: e.Path, Detail: fmt.Sprintf("unknown op %q (want modify or create)", e.Op)}
		}
		normalized = append(normalized, e)
	}

	if needsRewriter && strings.TrimSpace(p.Instructions) == "" {
		return nil, &ValidationError{Kind: KindMissingField, Field: "instructions", Detail: "modify edits without a replacement need instructions"}
	}

	if rule, hit := r.rules.CheckPlan(rules.Subject{Paths: paths, Creates: creates}); hit {
		return nil, &ValidationError{Kind: KindRuleViolation, Detail: "codemod contradicts a taught rule", Rule: rule.Text, Path: first(paths)}
	}

	return &CodemodAction{Provenance: prov, Instructions: p.Instructions, Edits: normalized}, nil
}

func (r *Router) routeInfo(p *Plan, prov Provenance) (Action, error) {
	if len(p.Edits) > 0 {
		return nil, &ValidationError{Kind: KindInvalidField, Field: "edits", Detail: "edits are only valid for codemod plans"}
	}
	if strings.TrimSpace(p.Response) == "" && strings.TrimSpace(p.Instructions) == "" {
		return nil, &ValidationError{Kind: KindMissingField, Field: "response", Detail: "info plans need a response or instructions"}
	}
	return &InfoAction{Provenance: prov, Response: p.Response, Instructions: p.Instructions}, nil
}

// rel expresses p relative to the root in slash form when it lies lexically
// inside it. Anything else is returned cleaned so the executor's jail sees it.
func (r *Router) rel(p string) string {
	cleaned := filepath.Clean(p)
	if r.root != "" && filepath.IsAbs(cleaned) {
		if rel, err := filepath.Rel(r.root, cleaned); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return filepath.ToSlash(rel)
		}
		return filepath.ToSlash(cleaned)
	}
	return path.Clean(filepath.ToSlash(p))
}

func conflict(p, detail string) *ValidationError {
	return &ValidationError{Kind: KindConflictingEdit, Field: "edits", Path: p, Detail: detail}
}

func first(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}
