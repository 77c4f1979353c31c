package pipeline

import (
	"context"
	"errors"
	"fmt"

	"bobchad/internal/logging"
	"bobchad/internal/repair"
	"bobchad/internal/tickets"
)

// QueueResult is the outcome of consuming one queue item.
type QueueResult struct {
	TicketID string
	Ticket   *tickets.Ticket
	Outcome  *repair.Outcome
}

// Succeeded reports whether the ticket ended in succeeded.
func (r *QueueResult) Succeeded() bool {
	return r.Outcome != nil && r.Outcome.Succeeded()
}

// RunQueue consumes every pending item once.
func (p *Pipeline) RunQueue(ctx context.Context) ([]*QueueResult, error) {
	items, err := p.queue.Pending()
	if err != nil {
		return nil, err
	}
	var (
		results []*QueueResult
		errs    []error
	)
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := p.consume(ctx, item.TicketID)
		if errors.Is(err, tickets.ErrClaimed) {
			continue
		}
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return results, errors.Join(errs...)
}

// consume claims the item for ticketID and drives the ticket to an outcome.
func (p *Pipeline) consume(ctx context.Context, ticketID string) (*QueueResult, error) {
	item, err := p.queue.Claim(ticketID)
	if err != nil {
		return nil, err
	}
	res := &QueueResult{TicketID: ticketID}

	out, err := p.repair.Run(ctx, ticketID, item.Plan)
	res.Outcome = out
	if out != nil {
		res.Ticket = out.Ticket
	}
	if ferr := p.queue.Finish(ticketID, res.Succeeded()); ferr != nil {
		logging.QueueWarn("finish %s: %v", ticketID, ferr)
	}
	if err != nil {
		return res, fmt.Errorf("run %s: %w", ticketID, err)
	}
	return res, nil
}

// Watch consumes the queue now and again whenever new items appear, until
// ctx is done. handle is called for each consumed item.
func (p *Pipeline) Watch(ctx context.Context, handle func(*QueueResult)) error {
	w, err := tickets.NewWatcher(p.queue)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return err
	}
	defer w.Stop()

	drain := func() {
		results, err := p.RunQueue(ctx)
		if handle != nil {
			for _, r := range results {
				handle(r)
			}
		}
		if err != nil && ctx.Err() == nil {
			logging.QueueWarn("queue run: %v", err)
		}
	}

	drain()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.C():
			drain()
		}
	}
}
