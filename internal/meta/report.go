package meta

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"bobchad/internal/history"
	"bobchad/internal/rules"

	"github.com/charmbracelet/glamour"
)

// Report is the read-only analysis of a history window.
type Report struct {
	Records int
	Failed  int
	Issues  []*Issue
	Rules   []rules.Rule

	priority PriorityFunc
}

// Analyse summarises window without creating tickets. top limits the
// number of issues kept; zero or less keeps all.
func (e *Engine) Analyse(window []history.Record, top int) *Report {
	r := &Report{Records: len(window), Rules: e.rules.Rules(), priority: e.priority}
	for _, rec := range window {
		if !rec.OK() {
			r.Failed++
		}
	}
	r.Issues = DetectIssues(window, e.key)
	if top > 0 && len(r.Issues) > top {
		r.Issues = r.Issues[:top]
	}
	return r
}

// Markdown renders the report as markdown.
func (r *Report) Markdown() string {
	var b strings.Builder
	b.WriteString("# History analysis\n\n")
	fmt.Fprintf(&b, "%d record(s), %d failed.\n\n", r.Records, r.Failed)

	if len(r.Issues) == 0 {
		b.WriteString("No recurring issues detected.\n\n")
	} else {
		b.WriteString("## Issues\n\n")
		b.WriteString("| Priority | Area | Paths | Kind | Failures | Requests |\n")
		b.WriteString("|---|---|---|---|---|---|\n")
		for _, is := range r.Issues {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %d | %d |\n",
				r.priority(is), is.Area, cell(strings.Join(is.Paths, ", ")), is.Kind(), is.Count, is.Requests)
		}
		b.WriteString("\n")
		for _, is := range r.Issues {
			fmt.Fprintf(&b, "### %s\n\n", cell(is.Key))
			kinds := make([]string, 0, len(is.Kinds))
			for k, n := range is.Kinds {
				kinds = append(kinds, fmt.Sprintf("%s x%d", k, n))
			}
			sort.Strings(kinds)
			if len(kinds) > 0 {
				fmt.Fprintf(&b, "Kinds: %s\n\n", strings.Join(kinds, ", "))
			}
			for _, ex := range is.Examples {
				fmt.Fprintf(&b, "- `%s`\n", strings.ReplaceAll(ex, "`", "'"))
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("## Rules\n\n")
	if len(r.Rules) == 0 {
		b.WriteString("No rules taught.\n")
	}
	for _, rule := range r.Rules {
		fmt.Fprintf(&b, "- %s (#%d, %s)\n", rule.Text, rule.ID, rule.CreatedAt.UTC().Format(time.RFC3339))
	}
	return b.String()
}

// Render renders the report for a terminal of the given width.
func (r *Report) Render(width int) (string, error) {
	if width <= 0 {
		width = 80
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("create markdown renderer: %w", err)
	}
	return renderer.Render(r.Markdown())
}

func cell(s string) string {
	if s == "" {
		return "-"
	}
	return strings.ReplaceAll(s, "|", "\\|")
}
