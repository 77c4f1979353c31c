package planner

import (
	"context"
	"fmt"
	"strings"

	"bobchad/internal/plan"
	"bobchad/internal/tickets"

	"github.com/google/uuid"
)

// Offline is a deterministic planner that needs no external service.
// Tickets become info plans that restate the ticket; repairs replay the
// narrowed plan under a new provenance id.
type Offline struct{}

// NewOffline returns the offline planner.
func NewOffline() *Offline { return &Offline{} }

// Name implements Planner.
func (*Offline) Name() string { return "offline" }

// PlanTicket implements Planner.
func (*Offline) PlanTicket(_ context.Context, t *tickets.Ticket, advisory []string) (*plan.Plan, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket %s [%s/%s]: %s\n", t.ID, t.Area, t.Priority, t.Title)
	if len(t.Paths) > 0 {
		fmt.Fprintf(&b, "Paths: %s\n", strings.Join(t.Paths, ", "))
	}
	for _, e := range t.Evidence {
		fmt.Fprintf(&b, "- %s\n", e)
	}
	for _, r := range advisory {
		fmt.Fprintf(&b, "Rule: %s\n", r)
	}
	return &plan.Plan{
		TaskType:     plan.TaskInfo,
		Response:     strings.TrimRight(b.String(), "\n"),
		Instructions: t.Description,
		ProvenanceID: uuid.NewString(),
		TicketID:     t.ID,
	}, nil
}

// Repair implements Planner.
func (*Offline) Repair(_ context.Context, req RepairRequest) (*plan.Plan, error) {
	if req.Narrowed == nil {
		return nil, ErrNoRepair
	}
	p := req.Narrowed.Clone()
	p.ProvenanceID = uuid.NewString()
	p.TicketID = req.Ticket.ID
	return p, nil
}
