// Package planner is the boundary to the external reasoning service that
// drafts plans for tickets, proposes corrective plans and rewrites single
// definitions. Everything it returns is untrusted and goes through the
// router like any other plan.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bobchad/internal/config"
	"bobchad/internal/executor"
	"bobchad/internal/history"
	"bobchad/internal/logging"
	"bobchad/internal/plan"
	"bobchad/internal/tickets"
	"bobchad/internal/tools"
)

// ErrNoRepair is returned when no corrective plan can be produced.
var ErrNoRepair = errors.New("no corrective plan available")

// RepairRequest describes a failed ticket attempt.
type RepairRequest struct {
	Ticket   *tickets.Ticket
	Previous *plan.Plan
	// Narrowed is the failed plan reduced to the failing file and symbol,
	// or nil when it cannot be replayed.
	Narrowed *plan.Plan
	Failure  *history.Failure
	Attempt  int
	Advisory []string
}

// Planner drafts plans.
type Planner interface {
	// PlanTicket projects a ticket into a plan.
	PlanTicket(ctx context.Context, t *tickets.Ticket, advisory []string) (*plan.Plan, error)
	// Repair proposes the next plan after a failure.
	Repair(ctx context.Context, req RepairRequest) (*plan.Plan, error)
	Name() string
}

// New builds the planner named by cfg.Planner.Provider. The rewriter is nil
// for providers that cannot produce source.
func New(ctx context.Context, cfg *config.Config, specs []tools.Spec) (Planner, executor.Rewriter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Planner.Provider)) {
	case "", "offline":
		logging.Planner("using offline planner")
		return NewOffline(), nil, nil
	case "gemini":
		g, err := NewGemini(ctx, cfg.Planner.APIKey, cfg.Planner.Model, cfg.GetPlannerTimeout(), specs)
		if err != nil {
			return nil, nil, err
		}
		logging.Planner("using gemini planner (%s)", g.model)
		return g, g, nil
	default:
		return nil, nil, fmt.Errorf("unknown planner provider %q", cfg.Planner.Provider)
	}
}
