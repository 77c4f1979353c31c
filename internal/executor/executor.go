// Package executor runs routed actions inside the jail and records exactly
// one history entry per executed plan.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"bobchad/internal/codemod"
	"bobchad/internal/diff"
	"bobchad/internal/fsutil"
	"bobchad/internal/history"
	"bobchad/internal/jail"
	"bobchad/internal/logging"
	"bobchad/internal/plan"
	"bobchad/internal/tools"

	"golang.org/x/sync/semaphore"
)

// ToolInvoker is the dispatch side of the tool registry.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) (*tools.ToolResult, error)
}

// RewriteRequest asks for a new version of one definition.
type RewriteRequest struct {
	Path         string
	Symbol       string
	Current      string
	Instructions string
}

// Rewriter produces replacement source for modify edits that carry none.
type Rewriter interface {
	Rewrite(ctx context.Context, req RewriteRequest) (string, error)
}

// Options configures an Executor.
type Options struct {
	Jail     *jail.Jail
	Tools    ToolInvoker
	History  history.Appender
	Rewriter Rewriter // optional
	Verifier Verifier // optional
}

// Executor carries out routed actions one at a time.
type Executor struct {
	jail     *jail.Jail
	tools    ToolInvoker
	history  history.Appender
	rewriter Rewriter
	verifier Verifier

	worker *semaphore.Weighted
	locks  *PathLocks
}

// Result is the outcome of one executed plan.
type Result struct {
	Record  history.Record
	Err     error // nil when the plan succeeded
	Changes []codemod.Change
}

// OK reports whether the plan succeeded.
func (r *Result) OK() bool { return r.Err == nil }

// New creates an executor.
func New(opts Options) (*Executor, error) {
	if opts.Jail == nil {
		return nil, errors.New("executor: jail is required")
	}
	if opts.Tools == nil {
		return nil, errors.New("executor: tool invoker is required")
	}
	if opts.History == nil {
		return nil, errors.New("executor: history is required")
	}
	return &Executor{
		jail:     opts.Jail,
		tools:    opts.Tools,
		history:  opts.History,
		rewriter: opts.Rewriter,
		verifier: opts.Verifier,
		worker:   semaphore.NewWeighted(1),
		locks:    NewPathLocks(),
	}, nil
}

// Execute runs act to completion and appends its result to history. The
// returned error is non-nil only when the plan could not start or its result
// could not be recorded; plan failures are reported in Result.Err.
func (e *Executor) Execute(ctx context.Context, act plan.Action) (*Result, error) {
	if err := e.worker.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for worker: %w", err)
	}
	defer e.worker.Release(1)

	origin := act.Origin()
	timer := logging.StartTimer(logging.CategoryExecutor, "Execute "+origin.ID)
	defer timer.Stop()

	res := &Result{Record: history.Record{
		ProvenanceID: origin.ID,
		TicketID:     origin.TicketID,
		TaskType:     string(act.Kind()),
		Paths:        act.Paths(),
	}}

	// The process is not interrupted mid-plan.
	runCtx := context.WithoutCancel(ctx)

	switch a := act.(type) {
	case *plan.ToolAction:
		res.Record.Tool = a.Tool
		res.Record.Output, res.Err = e.runTool(runCtx, a)
	case *plan.CodemodAction:
		res.Changes, res.Record.Output, res.Err = e.runCodemod(runCtx, a)
		res.Record.Diff = renderDiff(res.Changes)
	case *plan.InfoAction:
		res.Record.Output = a.Response
		if res.Record.Output == "" {
			res.Record.Output = a.Instructions
		}
	default:
		res.Err = fmt.Errorf("unhandled action type %T", act)
	}

	if err := e.record(runCtx, res); err != nil {
		return res, err
	}
	return res, nil
}

// RecordRejected appends the failed result of a plan the router rejected,
// so validation failures show up in history like any other failure.
func (e *Executor) RecordRejected(ctx context.Context, p *plan.Plan, cause error) (*Result, error) {
	res := &Result{Err: cause}
	if p != nil {
		res.Record = history.Record{
			ProvenanceID: p.ProvenanceID,
			TicketID:     p.TicketID,
			TaskType:     string(p.TaskType),
			Tool:         p.Tool,
			Paths:        planPaths(p),
		}
	}
	if err := e.record(ctx, res); err != nil {
		return res, err
	}
	return res, nil
}

func (e *Executor) record(ctx context.Context, res *Result) error {
	res.Record.Status = history.StatusOK
	if res.Err != nil {
		res.Record.Status = history.StatusFailed
		res.Record.Failure = Classify(res.Err)
		logging.Executor("plan %s failed: %v", res.Record.ProvenanceID, res.Err)
	} else {
		logging.Executor("plan %s ok (%s)", res.Record.ProvenanceID, res.Record.TaskType)
	}
	if _, err := e.history.Append(ctx, &res.Record); err != nil {
		return fmt.Errorf("record result of %s: %w", res.Record.ProvenanceID, err)
	}
	return nil
}

func (e *Executor) runTool(ctx context.Context, a *plan.ToolAction) (string, error) {
	var lockPaths []string
	for _, p := range a.Paths() {
		if abs, err := e.jail.Resolve(p); err == nil {
			lockPaths = append(lockPaths, abs)
		}
	}
	unlock := e.locks.Lock(lockPaths...)
	defer unlock()

	out, err := e.tools.Invoke(ctx, a.Tool, a.Args)
	if err != nil {
		return "", err
	}
	return out.Output, nil
}

// fileEdit is the prepared outcome for one path of a codemod.
type fileEdit struct {
	rel    string
	abs    string
	create bool
	perm   fs.FileMode
	before []byte
	after  []byte
	change []codemod.Change
}

// runCodemod prepares every file in memory first; nothing is written unless
// all edits apply. Writes are staged in a transaction and rolled back if any
// write or the verifier fails.
func (e *Executor) runCodemod(ctx context.Context, a *plan.CodemodAction) ([]codemod.Change, string, error) {
	files := make(map[string]*fileEdit)
	var order []*fileEdit
	for _, ed := range a.Edits {
		if f := files[ed.Path]; f != nil {
			continue
		}
		abs, err := e.jail.Resolve(ed.Path)
		if err != nil {
			logging.JailWarn("codemod %s: %v", a.ID, err)
			return nil, "", err
		}
		f := &fileEdit{rel: ed.Path, abs: abs}
		files[ed.Path] = f
		order = append(order, f)
	}

	absPaths := make([]string, 0, len(order))
	for _, f := range order {
		absPaths = append(absPaths, f.abs)
	}
	unlock := e.locks.Lock(absPaths...)
	defer unlock()

	for _, ed := range a.Edits {
		if err := e.prepare(ctx, files[ed.Path], ed, a.Instructions); err != nil {
			return nil, "", err
		}
	}

	tx := codemod.NewTxn()
	var changes []codemod.Change
	for _, f := range order {
		if !f.create && string(f.before) == string(f.after) {
			continue
		}
		if err := tx.Stage(f.abs); err != nil {
			tx.Rollback()
			return nil, "", err
		}
		var err error
		if f.create {
			_, err = codemod.CreateFile(f.abs, f.after)
		} else {
			err = fsutil.WriteAtomic(f.abs, f.after, f.perm)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = errors.Join(err, rbErr)
			}
			return nil, "", err
		}
		changes = append(changes, f.change...)
	}

	if e.verifier != nil && len(changes) > 0 {
		if err := e.verifier.Verify(ctx); err != nil {
			logging.Executor("verification failed for %s, restoring %d file(s)", a.ID, len(changes))
			if rbErr := tx.Rollback(); rbErr != nil {
				err = errors.Join(err, rbErr)
			}
			return nil, "", err
		}
	}
	tx.Commit()

	return changes, summarize(order), nil
}

func (e *Executor) prepare(ctx context.Context, f *fileEdit, ed plan.Edit, instructions string) error {
	switch ed.Op {
	case plan.OpCreate:
		if _, err := os.Lstat(f.abs); err == nil {
			return &codemod.Error{Kind: codemod.KindAlreadyExists, Path: f.rel, Detail: "create target already exists"}
		}
		f.create = true
		f.after = []byte(ed.Content)
		f.change = append(f.change, codemod.Change{Path: f.rel, Create: true, After: f.after})
		return nil

	case plan.OpModify:
		if f.before == nil {
			src, perm, err := codemod.ReadSource(f.abs)
			if err != nil {
				var ce *codemod.Error
				if errors.As(err, &ce) {
					ce.Path = f.rel
				}
				return err
			}
			f.before, f.after, f.perm = src, src, perm
		}

		replacement := ed.Replacement
		if replacement == "" {
			var err error
			if replacement, err = e.rewrite(ctx, f, ed, instructions); err != nil {
				return err
			}
		}

		out, change, err := codemod.ReplaceDefinition(ctx, f.rel, f.after, ed.Symbol, replacement)
		if err != nil {
			return err
		}
		f.after = out
		if change.Changed() {
			f.change = append(f.change, change)
		}
		return nil
	}
	return fmt.Errorf("unknown edit op %q", ed.Op)
}

func (e *Executor) rewrite(ctx context.Context, f *fileEdit, ed plan.Edit, instructions string) (string, error) {
	current, err := codemod.Definition(ctx, f.rel, f.after, ed.Symbol)
	if err != nil {
		return "", err
	}
	if e.rewriter == nil {
		return "", &codemod.Error{Kind: codemod.KindInvalidReplacement, Path: f.rel, Symbol: ed.Symbol, Detail: "no replacement given and no rewriter configured"}
	}
	logging.ExecutorDebug("rewriting %s in %s", ed.Symbol, f.rel)
	return e.rewriter.Rewrite(ctx, RewriteRequest{
		Path:         f.rel,
		Symbol:       ed.Symbol,
		Current:      current,
		Instructions: instructions,
	})
}

func summarize(files []*fileEdit) string {
	var b strings.Builder
	for _, f := range files {
		switch {
		case f.create:
			fmt.Fprintf(&b, "created %s\n", f.rel)
		case len(f.change) == 0:
			fmt.Fprintf(&b, "unchanged %s\n", f.rel)
		default:
			for _, c := range f.change {
				fmt.Fprintf(&b, "modified %s: %s (lines %d-%d)\n", f.rel, c.Symbol, c.StartLine, c.EndLine)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderDiff(changes []codemod.Change) string {
	// Several changes to one file share its first Before and last After.
	type span struct {
		before, after []byte
		create        bool
	}
	byPath := make(map[string]*span)
	var order []string
	for _, c := range changes {
		s := byPath[c.Path]
		if s == nil {
			s = &span{before: c.Before, create: c.Create}
			byPath[c.Path] = s
			order = append(order, c.Path)
		}
		s.after = c.After
	}

	var b strings.Builder
	for _, p := range order {
		s := byPath[p]
		b.WriteString(diff.Unified(p, s.before, s.after, s.create))
	}
	return b.String()
}

func planPaths(p *plan.Plan) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, tp := range p.TargetPaths {
		add(tp)
	}
	for _, ed := range p.Edits {
		add(ed.Path)
	}
	if s, ok := p.Args["path"].(string); ok {
		add(s)
	}
	return out
}
