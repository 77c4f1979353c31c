// Package repair drives ticket-derived plans to a terminal outcome.
//
// A ticket runs its plan; on failure it moves to repair_pending, a narrower
// corrective plan is drafted and resubmitted through the router. The number
// of executions is bounded: after max attempts repairs the next failure
// abandons the ticket with an ExhaustedError. A ticket with no genuinely new
// plan to try is abandoned the same way.
package repair

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"bobchad/internal/executor"
	"bobchad/internal/history"
	"bobchad/internal/logging"
	"bobchad/internal/plan"
	"bobchad/internal/planner"
	"bobchad/internal/rules"
	"bobchad/internal/tickets"

	"github.com/google/uuid"
)

// DefaultMaxAttempts is the repair budget when none is configured.
const DefaultMaxAttempts = 3

// Runner routes and executes one plan. Plan failures, including router
// rejections, come back as a failed Result; the error is reserved for
// failures to run or record at all.
type Runner interface {
	Run(ctx context.Context, p *plan.Plan) (*executor.Result, error)
}

// TicketStore is the part of the ticket store the controller mutates.
type TicketStore interface {
	Get(id string) (*tickets.Ticket, error)
	Transition(id string, next tickets.Status, mutate func(*tickets.Ticket)) (*tickets.Ticket, error)
}

// Options configures a Controller.
type Options struct {
	Tickets     TicketStore
	Runner      Runner
	Planner     planner.Planner
	Tools       plan.ToolCatalog
	Rules       *rules.Book
	MaxAttempts int
}

// Controller is the repair/retry state machine driver.
type Controller struct {
	tickets     TicketStore
	runner      Runner
	planner     planner.Planner
	tools       plan.ToolCatalog
	rules       *rules.Book
	maxAttempts int
}

// Outcome is the result of driving one ticket.
type Outcome struct {
	Ticket  *tickets.Ticket
	Results []*executor.Result
	// Err explains a ticket that did not succeed: an ExhaustedError for an
	// abandoned ticket, or the planner error that left it repair_pending.
	Err error
}

// Succeeded reports whether the ticket ended in succeeded.
func (o *Outcome) Succeeded() bool {
	return o.Ticket != nil && o.Ticket.Status == tickets.StatusSucceeded
}

// New creates a controller.
func New(opts Options) (*Controller, error) {
	if opts.Tickets == nil || opts.Runner == nil || opts.Planner == nil {
		return nil, errors.New("repair: tickets, runner and planner are required")
	}
	limit := opts.MaxAttempts
	if limit <= 0 {
		limit = DefaultMaxAttempts
	}
	return &Controller{
		tickets:     opts.Tickets,
		runner:      opts.Runner,
		planner:     opts.Planner,
		tools:       opts.Tools,
		rules:       opts.Rules,
		maxAttempts: limit,
	}, nil
}

// MaxAttempts returns the repair budget.
func (c *Controller) MaxAttempts() int { return c.maxAttempts }

// SetRules replaces the rule book used for advisory context.
func (c *Controller) SetRules(book *rules.Book) { c.rules = book }

// Run executes p for a queued or repair_pending ticket and keeps repairing
// until the ticket succeeds or is abandoned. A runner error leaves the
// ticket failed; a planner error leaves it repair_pending. Both are
// retryable with Resume.
func (c *Controller) Run(ctx context.Context, ticketID string, p *plan.Plan) (*Outcome, error) {
	out := &Outcome{}
	for {
		p = p.Clone()
		p.TicketID = ticketID
		if p.ProvenanceID == "" {
			p.ProvenanceID = uuid.NewString()
		}

		t, err := c.tickets.Transition(ticketID, tickets.StatusInProgress, func(t *tickets.Ticket) {
			t.Attempts++
		})
		if err != nil {
			return out, err
		}
		out.Ticket = t
		logging.Repair("%s: attempt %d (%s)", ticketID, t.Attempts, p.ProvenanceID)

		res, err := c.runner.Run(ctx, p)
		if err != nil {
			// Nothing was recorded; leave the ticket retryable.
			t, terr := c.tickets.Transition(ticketID, tickets.StatusFailed, func(t *tickets.Ticket) {
				t.LastPlan = p
				t.LastError = err.Error()
			})
			if terr == nil {
				out.Ticket = t
			}
			return out, err
		}
		out.Results = append(out.Results, res)

		if res.OK() {
			out.Ticket, err = c.tickets.Transition(ticketID, tickets.StatusSucceeded, func(t *tickets.Ticket) {
				t.LastPlan = p
				t.LastFailure = nil
				t.LastError = ""
			})
			return out, err
		}

		failure := res.Record.Failure
		record := func(t *tickets.Ticket) {
			t.LastPlan = p
			t.LastFailure = failure
			t.LastError = res.Err.Error()
		}

		if t.Attempts > c.maxAttempts {
			out.Err = &ExhaustedError{TicketID: ticketID, Attempts: t.Attempts, Last: failure}
			logging.RepairWarn("%v", out.Err)
			out.Ticket, err = c.tickets.Transition(ticketID, tickets.StatusAbandoned, record)
			return out, err
		}

		t, err = c.tickets.Transition(ticketID, tickets.StatusRepairPending, record)
		if err != nil {
			return out, err
		}
		out.Ticket = t

		next, err := c.corrective(ctx, t, p, failure)
		if err != nil {
			return c.stuck(out, t, err)
		}
		p = next
	}
}

// stuck settles a ticket for which no corrective plan could be drafted.
// Without a genuinely new plan the ticket is abandoned; a planner that
// could not be reached leaves it repair_pending.
func (c *Controller) stuck(out *Outcome, t *tickets.Ticket, cause error) (*Outcome, error) {
	out.Ticket = t
	if !errors.Is(cause, planner.ErrNoRepair) && !errors.Is(cause, ErrReplayRejected) {
		out.Err = fmt.Errorf("draft corrective plan: %w", cause)
		logging.RepairWarn("%s: %v", t.ID, out.Err)
		return out, nil
	}

	out.Err = &ExhaustedError{TicketID: t.ID, Attempts: t.Attempts, Last: t.LastFailure, Cause: cause}
	logging.RepairWarn("%v", out.Err)
	abandoned, err := c.tickets.Transition(t.ID, tickets.StatusAbandoned, func(t *tickets.Ticket) {
		t.LastError = out.Err.Error()
	})
	if err != nil {
		return out, err
	}
	out.Ticket = abandoned
	return out, nil
}

// Resume drives a repair_pending or failed ticket from its last failure.
func (c *Controller) Resume(ctx context.Context, ticketID string) (*Outcome, error) {
	t, err := c.tickets.Get(ticketID)
	if err != nil {
		return nil, err
	}
	switch t.Status {
	case tickets.StatusFailed:
		if t, err = c.tickets.Transition(ticketID, tickets.StatusRepairPending, nil); err != nil {
			return nil, err
		}
	case tickets.StatusRepairPending:
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrNotRepairable, ticketID, t.Status)
	}

	var next *plan.Plan
	if t.LastPlan != nil {
		next, err = c.corrective(ctx, t, t.LastPlan, t.LastFailure)
	} else {
		next, err = c.planner.PlanTicket(ctx, t, c.rules.Advisory())
	}
	if err != nil {
		return c.stuck(&Outcome{}, t, err)
	}
	return c.Run(ctx, ticketID, next)
}

func (c *Controller) corrective(ctx context.Context, t *tickets.Ticket, prev *plan.Plan, failure *history.Failure) (*plan.Plan, error) {
	replayable := c.replayable(prev)
	next, err := c.planner.Repair(ctx, planner.RepairRequest{
		Ticket:   t,
		Previous: prev,
		Narrowed: Narrow(prev, failure, replayable),
		Failure:  failure,
		Attempt:  t.Attempts,
		Advisory: c.rules.Advisory(),
	})
	if err != nil {
		return nil, err
	}
	if !replayable && sameInvocation(prev, next) {
		return nil, fmt.Errorf("%w: %s", ErrReplayRejected, prev.Tool)
	}
	next = next.Clone()
	if next.ProvenanceID == "" || next.ProvenanceID == prev.ProvenanceID {
		next.ProvenanceID = uuid.NewString()
	}
	next.TicketID = t.ID
	return next, nil
}

// replayable reports whether p may be re-issued unchanged. Only tool plans
// for external-effect tools may not.
func (c *Controller) replayable(p *plan.Plan) bool {
	if p.TaskType != plan.TaskTool || c.tools == nil {
		return true
	}
	spec, ok := c.tools.Lookup(p.Tool)
	if !ok {
		return true
	}
	return spec.SideEffect.Replayable()
}

func sameInvocation(a, b *plan.Plan) bool {
	if a.TaskType != plan.TaskTool || b.TaskType != plan.TaskTool || a.Tool != b.Tool {
		return false
	}
	if len(a.Args) == 0 && len(b.Args) == 0 {
		return true
	}
	return reflect.DeepEqual(a.Args, b.Args)
}
