// Package meta turns execution history into self-improvement tickets.
//
// The engine reads a fixed window of recent history, groups failures by a
// dedup key, assigns priority by recurrence and emits tickets that are not
// already open and not forbidden by a taught rule. It never executes
// anything and never persists tickets itself.
package meta

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bobchad/internal/history"
	"bobchad/internal/logging"
	"bobchad/internal/rules"
	"bobchad/internal/tickets"
)

// PriorityFunc assigns a priority to an issue.
type PriorityFunc func(is *Issue) tickets.Priority

// ThresholdPriority ranks by the number of distinct requests that hit the
// issue: at least high is high, at least medium is medium, otherwise low.
func ThresholdPriority(high, medium int) PriorityFunc {
	return func(is *Issue) tickets.Priority {
		switch {
		case is.Requests >= high:
			return tickets.PriorityHigh
		case is.Requests >= medium:
			return tickets.PriorityMedium
		}
		return tickets.PriorityLow
	}
}

// OpenTickets lists existing tickets for deduplication.
type OpenTickets interface {
	ListByStatus(statuses ...tickets.Status) ([]*tickets.Ticket, error)
}

// Options configures an Engine.
type Options struct {
	Tickets  OpenTickets
	Rules    *rules.Book
	Key      KeyFunc      // default tickets.Key
	Priority PriorityFunc // default ThresholdPriority(10, 4)
	Now      func() time.Time
}

// Engine generates tickets from a history window.
type Engine struct {
	tickets  OpenTickets
	rules    *rules.Book
	key      KeyFunc
	priority PriorityFunc
	now      func() time.Time
}

// NewEngine creates an engine.
func NewEngine(opts Options) *Engine {
	e := &Engine{
		tickets:  opts.Tickets,
		rules:    opts.Rules,
		key:      opts.Key,
		priority: opts.Priority,
		now:      opts.Now,
	}
	if e.rules == nil {
		e.rules = rules.NewBook(nil)
	}
	if e.key == nil {
		e.key = tickets.Key
	}
	if e.priority == nil {
		e.priority = ThresholdPriority(10, 4)
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// nonTerminal are the statuses a new ticket is deduplicated against.
var nonTerminal = []tickets.Status{
	tickets.StatusNew,
	tickets.StatusQueued,
	tickets.StatusInProgress,
	tickets.StatusRepairPending,
	tickets.StatusFailed,
}

// Generate returns at most limit new tickets for the failures in window,
// high priority first. A limit of zero or less means no limit.
func (e *Engine) Generate(ctx context.Context, window []history.Record, limit int) ([]*tickets.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	open, err := e.openKeys()
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	var out []*tickets.Ticket
	for _, is := range DetectIssues(window, e.key) {
		if open[is.Key] {
			logging.MetaDebug("skip %s: open ticket exists", is.Key)
			continue
		}
		if r, forbidden := e.rules.ForbidsTicket(is.Area, is.Paths); forbidden {
			logging.MetaDebug("skip %s: forbidden by rule %q", is.Key, r.Text)
			continue
		}
		out = append(out, e.ticketFor(is, now))
	}

	tickets.SortByPriority(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	logging.Meta("generated %d ticket(s) from %d record(s)", len(out), len(window))
	return out, nil
}

func (e *Engine) openKeys() (map[string]bool, error) {
	keys := make(map[string]bool)
	if e.tickets == nil {
		return keys, nil
	}
	existing, err := e.tickets.ListByStatus(nonTerminal...)
	if err != nil {
		return nil, fmt.Errorf("list open tickets: %w", err)
	}
	for _, t := range existing {
		k := t.Key
		if k == "" {
			k = e.key(t.Area, tickets.ProjectPaths(t.Paths))
		}
		keys[k] = true
	}
	return keys, nil
}

func (e *Engine) ticketFor(is *Issue, now time.Time) *tickets.Ticket {
	where := strings.Join(is.Paths, ", ")
	if where == "" {
		where = is.Area
	}
	title := fmt.Sprintf("Recurring %s in %s", is.Kind(), where)
	if is.Count == 1 {
		title = fmt.Sprintf("%s in %s", is.Kind(), where)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Area: %s\n", is.Area)
	fmt.Fprintf(&b, "Failures: %d across %d request(s), records #%d-#%d\n", is.Count, is.Requests, is.FirstSeq, is.LastSeq)
	b.WriteString("Desired outcome: fix the cause in place so this failure stops recurring or is handled cleanly.")

	return &tickets.Ticket{
		ID:          tickets.NewID(now, is.Key),
		Title:       title,
		Area:        is.Area,
		Priority:    e.priority(is),
		Paths:       is.Paths,
		Status:      tickets.StatusNew,
		CreatedAt:   now,
		Description: b.String(),
		Evidence:    is.Examples,
		Key:         is.Key,
		SourceSeq:   is.FirstSeq,
		Requests:    is.Requests,
	}
}
