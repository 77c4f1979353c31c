// Package pipeline wires the planner, router, executor, history, ticket
// engine and repair controller into the operations behind the command
// surface.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bobchad/internal/config"
	"bobchad/internal/executor"
	"bobchad/internal/history"
	"bobchad/internal/jail"
	"bobchad/internal/logging"
	"bobchad/internal/meta"
	"bobchad/internal/plan"
	"bobchad/internal/planner"
	"bobchad/internal/repair"
	"bobchad/internal/rules"
	"bobchad/internal/store"
	"bobchad/internal/tickets"
	"bobchad/internal/tools"
	"bobchad/internal/tools/core"
	"bobchad/internal/tools/notify"
	"bobchad/internal/tools/shell"

	"github.com/google/uuid"
)

// Overrides replaces collaborators that are otherwise built from config.
type Overrides struct {
	Planner  planner.Planner
	Rewriter executor.Rewriter
	Verifier executor.Verifier
	SendMail notify.SendFunc
	Now      func() time.Time
}

// Pipeline is the composition root.
type Pipeline struct {
	cfg      *config.Config
	jail     *jail.Jail
	registry *tools.Registry
	store    *store.LocalStore
	tickets  *tickets.FileStore
	queue    *tickets.Queue
	exec     *executor.Executor
	planner  planner.Planner
	repair   *repair.Controller
	now      func() time.Time

	mu     sync.RWMutex
	book   *rules.Book
	router *plan.Router
}

// Open builds a pipeline for cfg.
func Open(ctx context.Context, cfg *config.Config, o Overrides) (*Pipeline, error) {
	timer := logging.StartTimer(logging.CategoryBoot, "pipeline.Open")
	defer timer.Stop()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	root, err := cfg.RootDir()
	if err != nil {
		return nil, err
	}
	j, err := jail.New(root)
	if err != nil {
		return nil, fmt.Errorf("project root: %w", err)
	}

	p := &Pipeline{cfg: cfg, jail: j, now: o.Now}
	if p.now == nil {
		p.now = time.Now
	}

	p.registry = tools.NewRegistry(j)
	if err := core.RegisterAll(p.registry, core.Options{
		Jail:           j,
		ReadMaxChars:   cfg.Tools.ReadMaxChars,
		ListMaxEntries: cfg.Tools.ListMaxEntries,
		NotesDir:       cfg.Tools.NotesDir,
		Now:            p.now,
	}); err != nil {
		return nil, err
	}
	if err := shell.RegisterAll(p.registry, j.Root(), cfg.Tools.Python, cfg.GetScriptTimeout()); err != nil {
		return nil, err
	}
	mailer := notify.NewMailer(cfg.SMTP, cfg.GetSMTPTimeout(), j, o.SendMail)
	if err := notify.RegisterAll(p.registry, mailer); err != nil {
		return nil, err
	}
	p.registry.Seal()
	logging.Boot("registered %d tools", p.registry.Count())

	dbPath, err := cfg.StatePath("bob.db")
	if err != nil {
		return nil, err
	}
	if p.store, err = store.NewLocalStore(dbPath); err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			p.store.Close()
		}
	}()

	ticketDir, err := cfg.StatePath("tickets")
	if err != nil {
		return nil, err
	}
	if p.tickets, err = tickets.NewFileStore(ticketDir); err != nil {
		return nil, err
	}
	queueDir, err := cfg.StatePath("queue")
	if err != nil {
		return nil, err
	}
	if p.queue, err = tickets.NewQueue(queueDir); err != nil {
		return nil, err
	}

	if p.book, err = rules.Load(ctx, p.store); err != nil {
		return nil, err
	}
	p.router = plan.NewRouter(p.registry, p.book, j.Root())

	p.planner = o.Planner
	rewriter := o.Rewriter
	if p.planner == nil {
		var built executor.Rewriter
		if p.planner, built, err = planner.New(ctx, cfg, p.registry.Specs()); err != nil {
			return nil, err
		}
		if rewriter == nil {
			rewriter = built
		}
	}

	verifier := o.Verifier
	if verifier == nil && cfg.Executor.VerifyCommand != "" {
		verifier = &executor.CommandVerifier{Dir: j.Root(), Command: cfg.Executor.VerifyCommand, Timeout: cfg.GetVerifyTimeout()}
	}
	if p.exec, err = executor.New(executor.Options{
		Jail:     j,
		Tools:    p.registry,
		History:  p.store,
		Rewriter: rewriter,
		Verifier: verifier,
	}); err != nil {
		return nil, err
	}

	if p.repair, err = repair.New(repair.Options{
		Tickets:     p.tickets,
		Runner:      p,
		Planner:     p.planner,
		Tools:       p.registry,
		Rules:       p.book,
		MaxAttempts: cfg.Repair.MaxAttempts,
	}); err != nil {
		return nil, err
	}

	ok = true
	logging.Boot("pipeline ready: root=%s planner=%s", j.Root(), p.planner.Name())
	return p, nil
}

// Close releases the history database.
func (p *Pipeline) Close() error { return p.store.Close() }

// Root returns the jail root.
func (p *Pipeline) Root() string { return p.jail.Root() }

// Tools lists the registered tools.
func (p *Pipeline) Tools() []tools.Spec { return p.registry.Specs() }

// History exposes the history store for inspection.
func (p *Pipeline) History() history.Reader { return p.store }

// TicketStore exposes the ticket store.
func (p *Pipeline) TicketStore() *tickets.FileStore { return p.tickets }

// Queue exposes the work queue.
func (p *Pipeline) Queue() *tickets.Queue { return p.queue }

// MaxAttempts is the configured repair budget.
func (p *Pipeline) MaxAttempts() int { return p.repair.MaxAttempts() }

func (p *Pipeline) snapshot() (*rules.Book, *plan.Router) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.book, p.router
}

// Run routes and executes one plan. A rejected plan is recorded as a
// failed result. It implements repair.Runner.
func (p *Pipeline) Run(ctx context.Context, pl *plan.Plan) (*executor.Result, error) {
	_, router := p.snapshot()
	act, err := router.Route(pl)
	if err != nil {
		logging.Routing("rejected %s: %v", pl.ProvenanceID, err)
		return p.exec.RecordRejected(ctx, pl, err)
	}
	return p.exec.Execute(ctx, act)
}

// Execute runs a direct, non-ticket plan. Failures are reported in the
// result and never retried.
func (p *Pipeline) Execute(ctx context.Context, pl *plan.Plan) (*executor.Result, error) {
	if pl == nil {
		return nil, errors.New("no plan")
	}
	if pl.ProvenanceID == "" {
		pl.ProvenanceID = uuid.NewString()
	}
	return p.Run(ctx, pl)
}

// TeachRule appends a rule and makes it effective immediately.
func (p *Pipeline) TeachRule(ctx context.Context, text string) (rules.Rule, error) {
	r, book, err := rules.Teach(ctx, p.store, text)
	if err != nil {
		return rules.Rule{}, err
	}
	p.mu.Lock()
	p.book = book
	p.router = p.router.WithRules(book)
	p.mu.Unlock()
	p.repair.SetRules(book)
	return r, nil
}

// Rules returns every taught rule.
func (p *Pipeline) Rules() []rules.Rule {
	book, _ := p.snapshot()
	return book.Rules()
}

func (p *Pipeline) engine() *meta.Engine {
	book, _ := p.snapshot()
	return meta.NewEngine(meta.Options{
		Tickets:  p.tickets,
		Rules:    book,
		Priority: meta.ThresholdPriority(p.cfg.Meta.HighThreshold, p.cfg.Meta.MediumThreshold),
		Now:      p.now,
	})
}

func (p *Pipeline) window(ctx context.Context) ([]history.Record, error) {
	recs, err := p.store.Recent(ctx, p.cfg.Meta.HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("read history window: %w", err)
	}
	return recs, nil
}

// Analyse inspects the history window without changing anything.
func (p *Pipeline) Analyse(ctx context.Context, top int) (*meta.Report, error) {
	w, err := p.window(ctx)
	if err != nil {
		return nil, err
	}
	return p.engine().Analyse(w, top), nil
}
