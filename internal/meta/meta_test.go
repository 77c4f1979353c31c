package meta

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"bobchad/internal/history"
	"bobchad/internal/rules"
	"bobchad/internal/tickets"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

func failed(seq int64, prov, kind, code, detail string, paths ...string) history.Record {
	return history.Record{
		Seq:          seq,
		ProvenanceID: prov,
		TaskType:     "codemod",
		Paths:        paths,
		Status:       history.StatusFailed,
		Failure:      &history.Failure{Kind: kind, Code: code, Detail: detail},
	}
}

func ok(seq int64) history.Record {
	return history.Record{Seq: seq, ProvenanceID: fmt.Sprintf("ok-%d", seq), TaskType: "info", Status: history.StatusOK}
}

// window builds n codemod failures on one file, m jail failures and a
// single tool contract failure, interleaved with successes.
func window(n, m int) []history.Record {
	var recs []history.Record
	seq := int64(0)
	next := func() int64 { seq++; return seq }
	recs = append(recs, failed(next(), "tool-1", history.FailureTool, "InvalidArgs", "missing required argument: path"))
	for i := 0; i < n; i++ {
		recs = append(recs, failed(next(), fmt.Sprintf("cm-%d", i), history.FailureCodemod, "TargetNotFound", "definition run not found", "chad/executor.py"))
		recs = append(recs, ok(next()))
	}
	for i := 0; i < m; i++ {
		recs = append(recs, failed(next(), fmt.Sprintf("jail-%d", i), history.FailureJail, "JailViolation", "path escapes project root", "/etc/passwd"))
	}
	return recs
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "NO_ERROR", Slug("  \n"))
	assert.Equal(t, "a b c", Slug("a\n  b\tc"))
	long := Slug(strings.Repeat("x", 200))
	assert.Len(t, long, SlugLen)
	assert.True(t, strings.HasSuffix(long, "..."))
}

func TestGuessArea(t *testing.T) {
	tests := []struct {
		name string
		f    *history.Failure
		want string
	}{
		{"jail", &history.Failure{Kind: history.FailureJail}, tickets.AreaFSTools},
		{"codemod", &history.Failure{Kind: history.FailureCodemod}, tickets.AreaExecutor},
		{"verification", &history.Failure{Kind: history.FailureVerification}, tickets.AreaTests},
		{"unknown tool", &history.Failure{Kind: history.FailureValidation, Code: "UnknownTool"}, tickets.AreaTools},
		{"validation", &history.Failure{Kind: history.FailureValidation, Code: "MissingField"}, tickets.AreaPlanner},
		{"contract drift", &history.Failure{Kind: history.FailureTool, Code: "InvalidArgs"}, tickets.AreaTools},
		{"tool timeout", &history.Failure{Kind: history.FailureTool, Code: "Timeout", Detail: "deadline"}, tickets.AreaTools},
		{"assert keyword", &history.Failure{Kind: history.FailureInternal, Detail: "AssertionError in suite"}, tickets.AreaTests},
		{"nothing", &history.Failure{Kind: history.FailureInternal, Detail: "boom"}, tickets.AreaOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GuessArea(history.Record{Failure: tt.f}))
		})
	}
}

func TestDetectIssuesGroupsByAreaAndPaths(t *testing.T) {
	issues := DetectIssues(window(4, 2), nil)
	require.Len(t, issues, 3)

	cm := issues[0]
	assert.Equal(t, "executor|chad/executor.py", cm.Key)
	assert.Equal(t, 4, cm.Count)
	assert.Equal(t, 4, cm.Requests)
	assert.Equal(t, "CodemodError/TargetNotFound", cm.Kind())
	assert.Len(t, cm.Examples, maxExamples)

	jail := issues[1]
	assert.Equal(t, tickets.AreaFSTools, jail.Area)
	assert.Empty(t, jail.Paths, "paths outside the project are not carried into tickets")
}

func TestGenerateOrdersByPriority(t *testing.T) {
	e := NewEngine(Options{Priority: ThresholdPriority(10, 4), Now: func() time.Time { return fixedNow }})
	out, err := e.Generate(context.Background(), window(10, 4), 0)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, tickets.PriorityHigh, out[0].Priority)
	assert.Equal(t, tickets.AreaExecutor, out[0].Area)
	assert.Equal(t, tickets.PriorityMedium, out[1].Priority)
	assert.Equal(t, tickets.AreaFSTools, out[1].Area)
	assert.Equal(t, tickets.PriorityLow, out[2].Priority)
	assert.Equal(t, tickets.AreaTools, out[2].Area)

	for _, tk := range out {
		require.NoError(t, tk.Validate())
		assert.Equal(t, tickets.StatusNew, tk.Status)
	}
}

func TestGenerateTieBreaksByEarliestRequest(t *testing.T) {
	recs := []history.Record{
		failed(1, "a", history.FailureCodemod, "Ambiguous", "x", "b.py"),
		failed(2, "b", history.FailureCodemod, "Ambiguous", "x", "a.py"),
	}
	out, err := NewEngine(Options{}).Generate(context.Background(), recs, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []string{"b.py"}, out[0].Paths)
	assert.Equal(t, int64(1), out[0].SourceSeq)
}

func TestGenerateRecurringOutranksSingleOccurrence(t *testing.T) {
	recs := []history.Record{
		failed(1, "once", history.FailureCodemod, "TargetNotFound", "x", "a.py"),
		failed(2, "r1", history.FailureCodemod, "TargetNotFound", "x", "b.py"),
		failed(3, "r2", history.FailureCodemod, "TargetNotFound", "x", "b.py"),
		failed(4, "r3", history.FailureCodemod, "TargetNotFound", "x", "b.py"),
	}
	out, err := NewEngine(Options{Priority: ThresholdPriority(10, 4)}).Generate(context.Background(), recs, 1)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []string{"b.py"}, out[0].Paths)
	assert.Equal(t, 3, out[0].Requests)
	assert.Equal(t, tickets.PriorityLow, out[0].Priority, "same band, ranked by recurrence")
}

func TestGenerateTwiceCreatesNoDuplicates(t *testing.T) {
	store, err := tickets.NewFileStore(t.TempDir())
	require.NoError(t, err)
	e := NewEngine(Options{Tickets: store, Now: func() time.Time { return fixedNow }})
	w := window(5, 5)

	first, err := e.Generate(context.Background(), w, 5)
	require.NoError(t, err)
	require.NotEmpty(t, first)
	for _, tk := range first {
		require.NoError(t, store.Create(tk))
	}

	second, err := e.Generate(context.Background(), w, 5)
	require.NoError(t, err)
	assert.Empty(t, second)

	all, err := store.List()
	require.NoError(t, err)
	seen := make(map[string]bool)
	for _, tk := range all {
		require.False(t, seen[tk.Key], "duplicate open ticket for %s", tk.Key)
		seen[tk.Key] = true
	}
}

func TestGenerateRegeneratesAfterTerminal(t *testing.T) {
	store, err := tickets.NewFileStore(t.TempDir())
	require.NoError(t, err)
	e := NewEngine(Options{Tickets: store, Now: func() time.Time { return fixedNow }})
	w := []history.Record{failed(1, "a", history.FailureCodemod, "TargetNotFound", "x", "a.py")}

	first, err := e.Generate(context.Background(), w, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.NoError(t, store.Create(first[0]))
	_, err = store.Transition(first[0].ID, tickets.StatusAbandoned, nil)
	require.NoError(t, err)

	again, err := e.Generate(context.Background(), w, 1)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.NotEqual(t, first[0].ID, again[0].ID, "same key in the same second gets a fresh id")
	require.NoError(t, store.Create(again[0]))
}

func TestGenerateHonoursRulesAndLimit(t *testing.T) {
	book := rules.NewBook([]rules.Rule{
		{ID: 1, Text: "forbid area fs_tools"},
		{ID: 2, Text: "forbid path chad/**"},
	})
	e := NewEngine(Options{Rules: book})
	out, err := e.Generate(context.Background(), window(5, 5), 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, tickets.AreaTools, out[0].Area)

	out, err = NewEngine(Options{}).Generate(context.Background(), window(5, 5), 2)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestGenerateEmptyHistory(t *testing.T) {
	out, err := NewEngine(Options{}).Generate(context.Background(), nil, 3)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestAnalyseReport(t *testing.T) {
	book := rules.NewBook([]rules.Rule{{ID: 7, Text: "prefer small edits", CreatedAt: fixedNow}})
	r := NewEngine(Options{Rules: book}).Analyse(window(4, 1), 2)
	assert.Equal(t, 4+4+1+1, r.Records)
	assert.Equal(t, 6, r.Failed)
	assert.Len(t, r.Issues, 2)

	md := r.Markdown()
	assert.Contains(t, md, "| medium | executor | chad/executor.py | CodemodError/TargetNotFound | 4 | 4 |")
	assert.Contains(t, md, "- prefer small edits (#7, 2026-05-01T09:30:00Z)")

	out, err := r.Render(60)
	require.NoError(t, err)
	assert.Contains(t, out, "prefer small edits")
}
