package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"bobchad/internal/pipeline"
	"bobchad/internal/plan"
	"bobchad/internal/tickets"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (a *app) analyseCmd() *cobra.Command {
	var (
		top int
		raw bool
	)
	cmd := &cobra.Command{
		Use:   "analyse",
		Short: "Inspect recent history for recurring failures (read-only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			report, err := p.Analyse(ctx, top)
			if err != nil {
				return err
			}
			if raw {
				fmt.Fprint(cmd.OutOrStdout(), report.Markdown())
				return nil
			}
			out, err := report.Render(80)
			if err != nil {
				a.logger.Debug("markdown render failed", zap.Error(err))
				out = report.Markdown()
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().IntVar(&top, "top", 10, "Number of issues to show")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print markdown without rendering")
	return cmd
}

func (a *app) ticketsCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "tickets",
		Short: "Generate up to --count tickets from history (no execution)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			created, err := p.GenerateTickets(ctx, count)
			if err != nil {
				return err
			}
			printTickets(cmd.OutOrStdout(), fmt.Sprintf("%d new ticket(s)", len(created)), created)
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "Maximum tickets to create (default: meta.default_ticket_count)")

	var statuses []string
	list := &cobra.Command{
		Use:   "list",
		Short: "List tickets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter []tickets.Status
			for _, s := range statuses {
				st := tickets.Status(s)
				if !st.Valid() {
					return fmt.Errorf("unknown status %q", s)
				}
				filter = append(filter, st)
			}
			p, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()

			ts, err := p.ListTickets(filter...)
			if err != nil {
				return err
			}
			tickets.SortByPriority(ts)
			printTickets(cmd.OutOrStdout(), fmt.Sprintf("%d ticket(s)", len(ts)), ts)
			return nil
		},
	}
	list.Flags().StringSliceVar(&statuses, "status", nil, "Only tickets in these statuses")
	cmd.AddCommand(list)
	return cmd
}

func (a *app) selfImproveCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "self_improve",
		Short: "Generate tickets and queue them (no execution)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			queued, err := p.SelfImprove(ctx, count)
			printTickets(cmd.OutOrStdout(), fmt.Sprintf("%d ticket(s) queued", len(queued)), queued)
			return err
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "Maximum tickets to create")
	return cmd
}

func (a *app) selfCycleCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "self_cycle",
		Short: "Generate, queue and execute tickets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			p, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			rep, err := p.SelfCycle(ctx, count)
			if rep != nil {
				out := cmd.OutOrStdout()
				printTickets(out, fmt.Sprintf("%d ticket(s) executed", len(rep.Tickets)), rep.Tickets)
				fmt.Fprintf(out, "%s history %d -> %d\n", dimStyle.Render("·"), rep.HistoryBefore, rep.HistoryAfter)
			}
			return err
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "Maximum tickets to create")
	return cmd
}

func (a *app) teachRuleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "teach_rule <text>",
		Short: "Append a rule to the rule store",
		Long: `Rules are kept forever. These forms are enforced:
  forbid path <glob>   reject plans touching matching paths, skip such tickets
  forbid tool <name>   reject tool plans for that tool
  forbid area <area>   never generate tickets in that area
  forbid create        reject codemods that create files
Any other text is passed to the planner as guidance.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			r, err := p.TeachRule(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s rule #%d: %s\n", okStyle.Render("taught"), r.ID, r.Text)
			return nil
		},
	}
}

func (a *app) repairThenRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair_then_retry",
		Short: "Drive every repair_pending and failed ticket through repair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			p, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			outcomes, err := p.RepairThenRetry(ctx)
			var ts []*tickets.Ticket
			for _, o := range outcomes {
				ts = append(ts, o.Ticket)
				if o.Err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %v\n", failStyle.Render("!"), o.Ticket.ID, o.Err)
				}
			}
			printTickets(cmd.OutOrStdout(), fmt.Sprintf("%d ticket(s) repaired (budget %d)", len(ts), p.MaxAttempts()), ts)
			return err
		},
	}
}

func (a *app) newTicketCmd() *cobra.Command {
	var (
		title, area, priority, description string
		paths                              []string
	)
	cmd := &cobra.Command{
		Use:   "new_ticket",
		Short: "Create a manual ticket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !tickets.ValidArea(area) {
				return fmt.Errorf("unknown area %q", area)
			}
			prio := tickets.Priority(priority)
			if !prio.Valid() {
				return fmt.Errorf("unknown priority %q", priority)
			}
			p, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()

			t, err := p.NewTicket(pipeline.NewTicketRequest{
				Title:       title,
				Area:        area,
				Priority:    prio,
				Paths:       paths,
				Description: description,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okStyle.Render("created"), t.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "queue it with: bob enqueue_ticket %s\n", t.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Ticket title (required)")
	cmd.Flags().StringVar(&area, "area", tickets.AreaOther, "Area: "+strings.Join(tickets.Areas, ", "))
	cmd.Flags().StringVar(&priority, "priority", string(tickets.PriorityMedium), "Priority: low, medium, high")
	cmd.Flags().StringSliceVar(&paths, "paths", nil, "Affected paths, relative to the project root")
	cmd.Flags().StringVar(&description, "description", "", "Longer description")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func (a *app) enqueueTicketCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "enqueue_ticket [ticket-id]",
		Short: "Queue a ticket by id or from a ticket file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (file == "") == (len(args) == 0) {
				return errors.New("give either a ticket id or --file")
			}
			ctx := cmd.Context()
			p, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			var t *tickets.Ticket
			if file != "" {
				t, err = p.EnqueueTicketFile(ctx, file)
			} else {
				t, err = p.EnqueueTicket(ctx, args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s [%s/%s] %s\n", okStyle.Render("queued"), t.ID, t.Area, t.Priority, t.Title)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Ticket JSON file")
	return cmd
}

func (a *app) runQueueCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "run_queue",
		Short: "Consume queued items once each",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			p, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			out := cmd.OutOrStdout()
			if watch {
				fmt.Fprintf(out, "watching %s (Ctrl+C to stop)\n", p.Queue().Dir())
				return p.Watch(ctx, func(r *pipeline.QueueResult) { printQueueResult(out, r) })
			}
			results, err := p.RunQueue(ctx)
			for _, r := range results {
				printQueueResult(out, r)
			}
			if len(results) == 0 && err == nil {
				fmt.Fprintln(out, "queue is empty")
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep consuming as items appear")
	return cmd
}

func (a *app) executeCmd() *cobra.Command {
	var planPath string
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Route and execute one plan (no retry)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readPlan(cmd.InOrStdin(), planPath)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			p, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			pl, err := plan.Decode(data)
			if err != nil {
				return &planError{err: err}
			}
			res, err := p.Execute(ctx, pl)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			if !res.OK() {
				return &planError{provenance: res.Record.ProvenanceID, err: res.Err}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&planPath, "plan", "p", "-", "Plan JSON file, or - for stdin")
	return cmd
}

func (a *app) toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List registered tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()
			printTools(cmd.OutOrStdout(), p.Tools())
			return nil
		},
	}
}

func readPlan(stdin io.Reader, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	return data, nil
}

// planError is a user-facing plan failure.
type planError struct {
	provenance string
	err        error
}

func (e *planError) Error() string {
	id := e.provenance
	if id == "" {
		id = "-"
	}
	return fmt.Sprintf("error [%s]: %v", id, e.err)
}

func (e *planError) Unwrap() error { return e.err }
