package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bobchad/internal/logging"
	"bobchad/internal/repair"
	"bobchad/internal/tickets"
)

func (p *Pipeline) count(n int) int {
	if n <= 0 {
		return p.cfg.Meta.DefaultTicketCount
	}
	return n
}

// GenerateTickets creates up to count new tickets from the history window.
// Nothing is queued or executed.
func (p *Pipeline) GenerateTickets(ctx context.Context, count int) ([]*tickets.Ticket, error) {
	w, err := p.window(ctx)
	if err != nil {
		return nil, err
	}
	generated, err := p.engine().Generate(ctx, w, p.count(count))
	if err != nil {
		return nil, err
	}
	var created []*tickets.Ticket
	for _, t := range generated {
		if err := p.tickets.Create(t); err != nil {
			if errors.Is(err, tickets.ErrExists) {
				logging.TicketsDebug("skip %s: id already taken", t.ID)
				continue
			}
			return created, err
		}
		created = append(created, t)
	}
	return created, nil
}

// SelfImprove generates tickets and queues them without executing.
func (p *Pipeline) SelfImprove(ctx context.Context, count int) ([]*tickets.Ticket, error) {
	created, err := p.GenerateTickets(ctx, count)
	if err != nil {
		return nil, err
	}
	var errs []error
	var queued []*tickets.Ticket
	for _, t := range created {
		q, err := p.enqueue(ctx, t)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		queued = append(queued, q)
	}
	return queued, errors.Join(errs...)
}

// CycleReport summarises one self_cycle run.
type CycleReport struct {
	Tickets       []*tickets.Ticket
	Outcomes      []*QueueResult
	HistoryBefore int64
	HistoryAfter  int64
}

// SelfCycle generates, queues and executes up to count tickets.
func (p *Pipeline) SelfCycle(ctx context.Context, count int) (*CycleReport, error) {
	before, err := p.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	rep := &CycleReport{HistoryBefore: before}

	queued, qerr := p.SelfImprove(ctx, count)
	for _, t := range queued {
		res, err := p.consume(ctx, t.ID)
		if err != nil {
			return rep, err
		}
		rep.Outcomes = append(rep.Outcomes, res)
		rep.Tickets = append(rep.Tickets, res.Ticket)
	}

	if rep.HistoryAfter, err = p.store.Count(ctx); err != nil {
		return rep, err
	}
	return rep, qerr
}

// NewTicketRequest is a manual ticket.
type NewTicketRequest struct {
	Title       string
	Area        string
	Priority    tickets.Priority
	Paths       []string
	Description string
}

// NewTicket creates a manual ticket in status new.
func (p *Pipeline) NewTicket(req NewTicketRequest) (*tickets.Ticket, error) {
	if req.Priority == "" {
		req.Priority = tickets.PriorityMedium
	}
	for _, path := range req.Paths {
		if len(tickets.ProjectPaths([]string{path})) == 0 {
			return nil, fmt.Errorf("ticket path %q is outside the project", path)
		}
	}
	paths := tickets.ProjectPaths(req.Paths)
	t := &tickets.Ticket{
		ID:          tickets.NewManualID(),
		Title:       strings.TrimSpace(req.Title),
		Area:        req.Area,
		Priority:    req.Priority,
		Paths:       paths,
		Description: req.Description,
		Key:         tickets.Key(req.Area, paths),
	}
	if err := p.tickets.Create(t); err != nil {
		return nil, err
	}
	return t, nil
}

// EnqueueTicketFile registers a hand-written ticket file, if it is not
// known yet, and queues it.
func (p *Pipeline) EnqueueTicketFile(ctx context.Context, path string) (*tickets.Ticket, error) {
	t, err := tickets.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if t.ID == "" {
		t.ID = tickets.NewManualID()
	}
	existing, err := p.tickets.Get(t.ID)
	switch {
	case errors.Is(err, tickets.ErrNotFound):
		t.Status = tickets.StatusNew
		t.Attempts = 0
		if t.Key == "" {
			t.Key = tickets.Key(t.Area, tickets.ProjectPaths(t.Paths))
		}
		if err := p.tickets.Create(t); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		t = existing
	}
	return p.enqueue(ctx, t)
}

// EnqueueTicket queues a known ticket by id.
func (p *Pipeline) EnqueueTicket(ctx context.Context, id string) (*tickets.Ticket, error) {
	t, err := p.tickets.Get(id)
	if err != nil {
		return nil, err
	}
	return p.enqueue(ctx, t)
}

// enqueue projects t into a plan, writes the queue item and marks the
// ticket queued.
func (p *Pipeline) enqueue(ctx context.Context, t *tickets.Ticket) (*tickets.Ticket, error) {
	if t.Status != tickets.StatusNew {
		return nil, fmt.Errorf("%w: %s is %s", tickets.ErrInvalidTransition, t.ID, t.Status)
	}
	book, _ := p.snapshot()
	pl, err := p.planner.PlanTicket(ctx, t, book.Advisory())
	if err != nil {
		return nil, fmt.Errorf("plan ticket %s: %w", t.ID, err)
	}
	pl.TicketID = t.ID
	if _, err := p.queue.Enqueue(t.ID, pl); err != nil {
		return nil, err
	}
	return p.tickets.Transition(t.ID, tickets.StatusQueued, nil)
}

// ListTickets lists tickets, optionally filtered by status.
func (p *Pipeline) ListTickets(statuses ...tickets.Status) ([]*tickets.Ticket, error) {
	if len(statuses) == 0 {
		return p.tickets.List()
	}
	return p.tickets.ListByStatus(statuses...)
}

// RepairThenRetry drives every repair_pending and failed ticket through
// the repair controller.
func (p *Pipeline) RepairThenRetry(ctx context.Context) ([]*repair.Outcome, error) {
	pending, err := p.tickets.ListByStatus(tickets.StatusRepairPending, tickets.StatusFailed)
	if err != nil {
		return nil, err
	}
	tickets.SortByPriority(pending)

	var outcomes []*repair.Outcome
	for _, t := range pending {
		out, err := p.repair.Resume(ctx, t.ID)
		if err != nil {
			return outcomes, fmt.Errorf("repair %s: %w", t.ID, err)
		}
		outcomes = append(outcomes, out)
		logging.Repair("%s -> %s", t.ID, out.Ticket.Status)
	}
	return outcomes, nil
}
