package repair

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"bobchad/internal/history"
	"bobchad/internal/meta"
	"bobchad/internal/plan"
)

// Narrow reduces a failed plan to a smaller corrective one: a codemod keeps
// only the edit on the failing file and gains an instruction naming the
// failure. Tool plans that must not be replayed yield nil.
func Narrow(prev *plan.Plan, failure *history.Failure, replayable bool) *plan.Plan {
	if prev == nil {
		return nil
	}
	switch prev.TaskType {
	case plan.TaskTool:
		if !replayable {
			return nil
		}
		return prev.Clone()
	case plan.TaskCodemod:
		return narrowCodemod(prev, failure)
	default:
		return prev.Clone()
	}
}

func narrowCodemod(prev *plan.Plan, failure *history.Failure) *plan.Plan {
	p := prev.Clone()
	failPath := ""
	if failure != nil {
		failPath = failure.Path
	}

	if len(p.Edits) > 0 {
		var kept []plan.Edit
		for _, ed := range p.Edits {
			if samePath(ed.Path, failPath) {
				kept = append(kept, ed)
			}
		}
		if len(kept) == 0 {
			kept = p.Edits[:1]
		}
		p.Edits = kept
		p.TargetPaths = nil
		for _, ed := range kept {
			if !slices.Contains(p.TargetPaths, ed.Path) {
				p.TargetPaths = append(p.TargetPaths, ed.Path)
			}
		}
	} else if len(p.TargetPaths) > 1 {
		kept := p.TargetPaths[:1]
		for _, tp := range p.TargetPaths {
			if samePath(tp, failPath) {
				kept = []string{tp}
				break
			}
		}
		p.TargetPaths = append([]string(nil), kept...)
	}

	if failure != nil {
		var scope []string
		for _, ed := range p.Edits {
			if ed.Symbol != "" {
				scope = append(scope, ed.Path+" "+ed.Symbol)
			} else {
				scope = append(scope, ed.Path)
			}
		}
		if len(scope) == 0 {
			scope = p.TargetPaths
		}
		note := fmt.Sprintf("Previous attempt failed (%s): %s. Change only %s.",
			failureKind(failure), meta.Slug(failure.Detail), strings.Join(scope, ", "))
		if p.Instructions == "" {
			p.Instructions = note
		} else {
			p.Instructions = strings.TrimRight(p.Instructions, "\n") + "\n" + note
		}
	}
	return p
}

func failureKind(f *history.Failure) string {
	if f.Code == "" {
		return f.Kind
	}
	return f.Kind + "/" + f.Code
}

// samePath matches a plan path against a failure path, which may be the
// jail-resolved absolute form.
func samePath(planPath, failPath string) bool {
	if planPath == "" || failPath == "" {
		return false
	}
	a := filepath.ToSlash(filepath.Clean(planPath))
	b := filepath.ToSlash(filepath.Clean(failPath))
	return a == b || strings.HasSuffix(b, "/"+a)
}
