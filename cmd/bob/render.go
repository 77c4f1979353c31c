package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"bobchad/internal/executor"
	"bobchad/internal/pipeline"
	"bobchad/internal/tickets"
	"bobchad/internal/tools"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	colorSuccess = lipgloss.Color("#8BC34A")
	colorError   = lipgloss.Color("#e53935")
	colorWarning = lipgloss.Color("#FFC107")
	colorInfo    = lipgloss.Color("#2196F3")
	colorMuted   = lipgloss.Color("#6b7280")

	titleStyle = lipgloss.NewStyle().Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	cellStyle  = lipgloss.NewStyle().Padding(0, 1)
)

func statusStyle(s tickets.Status) lipgloss.Style {
	switch s {
	case tickets.StatusSucceeded:
		return cellStyle.Foreground(colorSuccess)
	case tickets.StatusAbandoned, tickets.StatusFailed:
		return cellStyle.Foreground(colorError)
	case tickets.StatusRepairPending, tickets.StatusInProgress:
		return cellStyle.Foreground(colorWarning)
	case tickets.StatusQueued:
		return cellStyle.Foreground(colorInfo)
	}
	return cellStyle
}

func printTickets(w io.Writer, title string, ts []*tickets.Ticket) {
	fmt.Fprintln(w, titleStyle.Render(title))
	if len(ts) == 0 {
		return
	}
	rows := make([][]string, 0, len(ts))
	for _, t := range ts {
		paths := strings.Join(t.Paths, ", ")
		if paths == "" {
			paths = "-"
		}
		rows = append(rows, []string{t.ID, string(t.Priority), t.Area, string(t.Status), fmt.Sprint(t.Attempts), paths, t.Title})
	}
	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers("ID", "PRIORITY", "AREA", "STATUS", "ATTEMPTS", "PATHS", "TITLE").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return cellStyle.Bold(true)
			}
			if col == 3 {
				return statusStyle(ts[row].Status)
			}
			return cellStyle
		})
	fmt.Fprintln(w, tbl.Render())
}

func printResult(w io.Writer, res *executor.Result) {
	rec := res.Record
	head := fmt.Sprintf("#%d %s %s", rec.Seq, rec.TaskType, rec.ProvenanceID)
	if rec.Tool != "" {
		head += " tool=" + rec.Tool
	}
	if res.OK() {
		fmt.Fprintf(w, "%s %s\n", okStyle.Render("ok"), head)
	} else {
		fmt.Fprintf(w, "%s %s\n", failStyle.Render("failed"), head)
	}
	if rec.Output != "" {
		fmt.Fprintln(w, strings.TrimRight(rec.Output, "\n"))
	}
	if rec.Diff != "" {
		fmt.Fprintln(w, rec.Diff)
	}
}

func printQueueResult(w io.Writer, r *pipeline.QueueResult) {
	t := r.Ticket
	if t == nil {
		fmt.Fprintf(w, "%s %s\n", failStyle.Render("!"), r.TicketID)
		return
	}
	mark := okStyle.Render("✓")
	if !r.Succeeded() {
		mark = failStyle.Render("✗")
	}
	fmt.Fprintf(w, "%s %s %s after %d attempt(s)", mark, t.ID, statusStyle(t.Status).UnsetPadding().Render(string(t.Status)), t.Attempts)
	if r.Outcome != nil && r.Outcome.Err != nil {
		fmt.Fprintf(w, ": %v", r.Outcome.Err)
	}
	fmt.Fprintln(w)
}

func printTools(w io.Writer, specs []tools.Spec) {
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	rows := make([][]string, 0, len(specs))
	for _, s := range specs {
		rows = append(rows, []string{s.Name, string(s.SideEffect), s.Description})
	}
	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers("TOOL", "SIDE EFFECT", "DESCRIPTION").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return cellStyle.Bold(true)
			}
			return cellStyle
		})
	fmt.Fprintln(w, tbl.Render())
}
