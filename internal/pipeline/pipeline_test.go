package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bobchad/internal/config"
	"bobchad/internal/history"
	"bobchad/internal/jail"
	"bobchad/internal/plan"
	"bobchad/internal/planner"
	"bobchad/internal/repair"
	"bobchad/internal/tickets"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const executorPy = `import subprocess
import logging

log = logging.getLogger(__name__)


def run(cmd):
    log.info("[executor] run %s", cmd)
    return subprocess.run(cmd)


def stop():
    log.info("[executor] stop")
`

func newPipeline(t *testing.T) (*Pipeline, *config.Config) {
	t.Helper()
	return newPipelineWith(t, Overrides{})
}

func newPipelineWith(t *testing.T, o Overrides) (*Pipeline, *config.Config) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "proj")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "chad"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "chad", "executor.py"), []byte(executorPy), 0o644))

	cfg := config.DefaultConfig()
	cfg.ProjectRoot = root
	p, err := Open(context.Background(), cfg, o)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p, cfg
}

// mailingPlanner answers every ticket with a notification instead of a fix.
type mailingPlanner struct{ *planner.Offline }

func (mailingPlanner) PlanTicket(_ context.Context, t *tickets.Ticket, _ []string) (*plan.Plan, error) {
	return &plan.Plan{
		TaskType: plan.TaskTool,
		Tool:     "send_email",
		Args:     map[string]any{"subject": t.Title, "body": t.Description},
		TicketID: t.ID,
	}, nil
}

func historyLen(t *testing.T, p *Pipeline) int64 {
	t.Helper()
	n, err := p.History().Count(context.Background())
	require.NoError(t, err)
	return n
}

// seedFailures records n codemod failures, each against a different missing file.
func seedFailures(t *testing.T, p *Pipeline, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		res, err := p.Execute(context.Background(), &plan.Plan{
			TaskType: plan.TaskCodemod,
			Edits: []plan.Edit{{
				Path:        fmt.Sprintf("mod%d.py", i),
				Op:          plan.OpModify,
				Symbol:      "main",
				Replacement: "def main():\n    pass\n",
			}},
		})
		require.NoError(t, err)
		require.False(t, res.OK())
	}
}

func TestJailEscapeScenario(t *testing.T) {
	p, _ := newPipeline(t)
	ctx := context.Background()

	target := p.Root() + "/../etc/passwd"
	res, err := p.Execute(ctx, &plan.Plan{
		TaskType:     plan.TaskCodemod,
		TargetPaths:  []string{target},
		Edits:        []plan.Edit{{Path: target, Op: plan.OpModify, Symbol: "root", Replacement: "root = 0"}},
		ProvenanceID: "req-escape",
	})
	require.NoError(t, err)
	require.True(t, errors.Is(res.Err, jail.ErrJailViolation))

	recs, err := p.History().Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, history.StatusFailed, recs[0].Status)
	assert.Equal(t, history.FailureJail, recs[0].Failure.Kind)

	all, err := p.ListTickets()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCodemodScenarioTouchesOnlyRun(t *testing.T) {
	p, _ := newPipeline(t)

	res, err := p.Execute(context.Background(), &plan.Plan{
		TaskType:     plan.TaskCodemod,
		TargetPaths:  []string{"chad/executor.py"},
		Instructions: "add a 2-second timeout",
		Edits: []plan.Edit{{
			Path:   "chad/executor.py",
			Op:     plan.OpModify,
			Symbol: "run",
			Replacement: "def run(cmd):\n" +
				"    log.info(\"[executor] run %s\", cmd)\n" +
				"    return subprocess.run(cmd, timeout=2)\n",
		}},
	})
	require.NoError(t, err)
	require.NoError(t, res.Err)

	data, err := os.ReadFile(filepath.Join(p.Root(), "chad", "executor.py"))
	require.NoError(t, err)
	before := strings.Split(executorPy, "\n")
	after := strings.Split(string(data), "\n")
	require.Len(t, after, len(before))
	for i := range before {
		if i == 8 {
			assert.Equal(t, "    return subprocess.run(cmd, timeout=2)", after[i])
			continue
		}
		assert.Equal(t, before[i], after[i], "line %d", i+1)
	}
	assert.Contains(t, res.Record.Diff, "+    return subprocess.run(cmd, timeout=2)")
}

func TestSelfCycleOnEmptyHistory(t *testing.T) {
	p, _ := newPipeline(t)

	rep, err := p.SelfCycle(context.Background(), 3)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(rep.Tickets), 3)
	assert.Equal(t, int64(len(rep.Outcomes)), rep.HistoryAfter-rep.HistoryBefore)
}

func TestSelfCycleExecutesEachTicketOnce(t *testing.T) {
	p, _ := newPipeline(t)
	seedFailures(t, p, 5)

	rep, err := p.SelfCycle(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, rep.Tickets, 3)
	for _, tk := range rep.Tickets {
		assert.Contains(t, []tickets.Status{tickets.StatusSucceeded, tickets.StatusAbandoned}, tk.Status)
	}
	assert.Equal(t, rep.HistoryBefore+3, rep.HistoryAfter)

	pending, err := p.Queue().Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSelfCycleAbandonsUnrepairableExternalEffects(t *testing.T) {
	p, _ := newPipelineWith(t, Overrides{Planner: mailingPlanner{planner.NewOffline()}})
	seedFailures(t, p, 2)

	rep, err := p.SelfCycle(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, rep.Tickets, 2)
	for i, tk := range rep.Tickets {
		assert.Equal(t, tickets.StatusAbandoned, tk.Status, tk.ID)
		assert.Equal(t, 1, tk.Attempts, "the failed email is never sent again")
		out := rep.Outcomes[i].Outcome
		assert.True(t, errors.Is(out.Err, repair.ErrControllerExhausted))
		assert.True(t, errors.Is(out.Err, planner.ErrNoRepair))
	}
	assert.Equal(t, rep.HistoryBefore+2, rep.HistoryAfter)

	left, err := p.ListTickets(tickets.StatusFailed, tickets.StatusRepairPending)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestManualTicketPathsMatchEngineKeys(t *testing.T) {
	p, _ := newPipeline(t)
	ctx := context.Background()

	tk, err := p.NewTicket(NewTicketRequest{Title: "Restore mod0", Area: tickets.AreaExecutor, Paths: []string{"./mod0.py", "mod0.py"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"mod0.py"}, tk.Paths)
	assert.Equal(t, "executor|mod0.py", tk.Key)

	seedFailures(t, p, 1)
	created, err := p.GenerateTickets(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, created, "the manual ticket already covers the failure")

	_, err = p.NewTicket(NewTicketRequest{Title: "Outside", Area: tickets.AreaOther, Paths: []string{"../elsewhere.py"}})
	require.Error(t, err)
}

func TestGenerateTicketsTwiceNoDuplicates(t *testing.T) {
	p, _ := newPipeline(t)
	seedFailures(t, p, 4)
	ctx := context.Background()

	first, err := p.GenerateTickets(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, first, 4)

	second, err := p.GenerateTickets(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, second)

	all, err := p.ListTickets(tickets.StatusNew)
	require.NoError(t, err)
	keys := make(map[string]bool)
	for _, tk := range all {
		require.False(t, keys[tk.Key])
		keys[tk.Key] = true
	}
}

func TestTeachRuleAppliesAndPersists(t *testing.T) {
	p, cfg := newPipeline(t)
	ctx := context.Background()

	_, err := p.TeachRule(ctx, "forbid tool read_file")
	require.NoError(t, err)

	res, err := p.Execute(ctx, &plan.Plan{TaskType: plan.TaskTool, Tool: "read_file", Args: map[string]any{"path": "chad/executor.py"}})
	require.NoError(t, err)
	var ve *plan.ValidationError
	require.True(t, errors.As(res.Err, &ve))
	assert.Equal(t, plan.KindRuleViolation, ve.Kind)
	assert.Equal(t, "forbid tool read_file", res.Record.Failure.Rule)
	assert.Equal(t, int64(1), historyLen(t, p))

	require.NoError(t, p.Close())
	reopened, err := Open(ctx, cfg, Overrides{})
	require.NoError(t, err)
	defer reopened.Close()
	require.Len(t, reopened.Rules(), 1)
	assert.Equal(t, "forbid tool read_file", reopened.Rules()[0].Text)
}

func TestManualTicketIsConsumedOnce(t *testing.T) {
	p, _ := newPipeline(t)
	ctx := context.Background()

	tk, err := p.NewTicket(NewTicketRequest{Title: "Tidy notes", Area: tickets.AreaTools, Paths: []string{"notes"}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tk.ID, "MANUAL-"))

	queued, err := p.EnqueueTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, tickets.StatusQueued, queued.Status)

	_, err = p.EnqueueTicket(ctx, tk.ID)
	require.Error(t, err)

	results, err := p.RunQueue(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Succeeded())

	results, err = p.RunQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, int64(1), historyLen(t, p))

	_, err = os.Stat(filepath.Join(p.Queue().Dir(), tk.ID+".done.json"))
	require.NoError(t, err)
}

func TestEnqueueTicketFile(t *testing.T) {
	p, _ := newPipeline(t)
	file := filepath.Join(t.TempDir(), "ticket.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"title":"Check planner output","area":"planner","priority":"high","paths":["bob/schema.py"]}`), 0o644))

	tk, err := p.EnqueueTicketFile(context.Background(), file)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tk.ID, "MANUAL-"))
	assert.Equal(t, tickets.StatusQueued, tk.Status)
	assert.Equal(t, "planner|bob/schema.py", tk.Key)
}

func TestRepairThenRetryAbandonsAtBudget(t *testing.T) {
	p, _ := newPipeline(t)
	ctx := context.Background()
	store := p.TicketStore()

	tk, err := p.NewTicket(NewTicketRequest{Title: "Fix helper", Area: tickets.AreaExecutor, Paths: []string{"chad/executor.py"}})
	require.NoError(t, err)
	failing := &plan.Plan{
		TaskType:     plan.TaskCodemod,
		Edits:        []plan.Edit{{Path: "chad/executor.py", Op: plan.OpModify, Symbol: "helper", Replacement: "def helper():\n    pass\n"}},
		ProvenanceID: "first",
	}
	_, err = store.Transition(tk.ID, tickets.StatusQueued, nil)
	require.NoError(t, err)
	_, err = store.Transition(tk.ID, tickets.StatusInProgress, func(t *tickets.Ticket) { t.Attempts++ })
	require.NoError(t, err)
	_, err = store.Transition(tk.ID, tickets.StatusFailed, func(t *tickets.Ticket) {
		t.LastPlan = failing
		t.LastFailure = &history.Failure{Kind: history.FailureCodemod, Code: "TargetNotFound", Path: "chad/executor.py"}
	})
	require.NoError(t, err)

	before := historyLen(t, p)
	outcomes, err := p.RepairThenRetry(ctx)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	out := outcomes[0]
	require.True(t, errors.Is(out.Err, repair.ErrControllerExhausted))
	assert.Equal(t, tickets.StatusAbandoned, out.Ticket.Status)
	assert.Equal(t, p.MaxAttempts()+1, out.Ticket.Attempts)
	assert.Equal(t, before+int64(p.MaxAttempts()), historyLen(t, p))

	original, err := os.ReadFile(filepath.Join(p.Root(), "chad", "executor.py"))
	require.NoError(t, err)
	assert.Equal(t, executorPy, string(original))

	// Nothing left to repair.
	outcomes, err = p.RepairThenRetry(ctx)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}

func TestWatchConsumesNewItems(t *testing.T) {
	p, _ := newPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *QueueResult, 1)
	done := make(chan error, 1)
	go func() { done <- p.Watch(ctx, func(r *QueueResult) { got <- r }) }()

	tk, err := p.NewTicket(NewTicketRequest{Title: "Watch me", Area: tickets.AreaOther})
	require.NoError(t, err)
	_, err = p.EnqueueTicket(ctx, tk.ID)
	require.NoError(t, err)

	select {
	case r := <-got:
		assert.Equal(t, tk.ID, r.TicketID)
		assert.True(t, r.Succeeded())
	case <-time.After(10 * time.Second):
		t.Fatal("queue item was not consumed")
	}

	cancel()
	require.NoError(t, <-done)
}
