package tickets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bobchad/internal/plan"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var allStatuses = []Status{
	StatusNew, StatusQueued, StatusInProgress, StatusSucceeded,
	StatusFailed, StatusRepairPending, StatusAbandoned,
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, from := range []Status{StatusSucceeded, StatusAbandoned} {
		require.True(t, from.IsTerminal())
		for _, to := range allStatuses {
			require.False(t, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestInProgressOnlyFromQueuedOrRepair(t *testing.T) {
	for _, from := range allStatuses {
		want := from == StatusQueued || from == StatusRepairPending
		require.Equal(t, want, from.CanTransitionTo(StatusInProgress), from)
	}
}

func TestRepairPendingOnlyRetriesOrAbandons(t *testing.T) {
	for _, to := range allStatuses {
		want := to == StatusInProgress || to == StatusAbandoned
		require.Equal(t, want, StatusRepairPending.CanTransitionTo(to), to)
	}
}

func TestTicketTransition(t *testing.T) {
	tk := &Ticket{ID: "T-1", Status: StatusNew}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, tk.Transition(StatusQueued, now))
	require.Equal(t, now, tk.UpdatedAt)

	err := tk.Transition(StatusSucceeded, now)
	require.True(t, errors.Is(err, ErrInvalidTransition))
	require.Equal(t, StatusQueued, tk.Status)
}

func TestKeyIgnoresPathOrder(t *testing.T) {
	require.Equal(t, Key("tools", []string{"b.py", "a.py"}), Key("tools", []string{"a.py", "b.py"}))
	require.NotEqual(t, Key("tools", []string{"a.py"}), Key("tests", []string{"a.py"}))
}

func TestIDs(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id := NewID(now, "tools|a.py")
	require.True(t, strings.HasPrefix(id, "T-20260301120000-"))
	require.Len(t, id, len("T-20260301120000-")+8+1+4)
	again := NewID(now, "tools|a.py")
	require.NotEqual(t, id, again)
	require.Equal(t, id[:len(id)-4], again[:len(again)-4], "same key hash")

	m := NewManualID()
	require.True(t, strings.HasPrefix(m, "MANUAL-"))
	require.Len(t, m, len("MANUAL-")+8)
}

func TestSortByPriority(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ts := []*Ticket{
		{ID: "low", Priority: PriorityLow, SourceSeq: 1, CreatedAt: base},
		{ID: "high-late", Priority: PriorityHigh, SourceSeq: 9, CreatedAt: base},
		{ID: "med", Priority: PriorityMedium, SourceSeq: 2, CreatedAt: base},
		{ID: "high-early", Priority: PriorityHigh, SourceSeq: 3, CreatedAt: base},
	}
	SortByPriority(ts)

	var ids []string
	for _, tk := range ts {
		ids = append(ids, tk.ID)
	}
	require.Equal(t, []string{"high-early", "high-late", "med", "low"}, ids)
}

func TestSortByPriorityPrefersRecurrenceWithinBand(t *testing.T) {
	ts := []*Ticket{
		{ID: "once", Priority: PriorityLow, Requests: 1, SourceSeq: 1},
		{ID: "thrice", Priority: PriorityLow, Requests: 3, SourceSeq: 2},
		{ID: "medium", Priority: PriorityMedium, Requests: 4, SourceSeq: 9},
	}
	SortByPriority(ts)
	require.Equal(t, "medium", ts[0].ID)
	require.Equal(t, "thrice", ts[1].ID)
	require.Equal(t, "once", ts[2].ID)
}

func TestProjectPaths(t *testing.T) {
	got := ProjectPaths([]string{"./chad/executor.py", "chad//executor.py", "/etc/passwd", "../x.py", "b.py"})
	require.Equal(t, []string{"b.py", "chad/executor.py"}, got)
}

func newTicket(id string) *Ticket {
	return &Ticket{ID: id, Title: "Fix " + id, Area: AreaTools, Priority: PriorityMedium, Paths: []string{"tools/x.py"}}
}

func TestFileStoreLifecycle(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "tickets"))
	require.NoError(t, err)

	tk := newTicket("T-1")
	require.NoError(t, s.Create(tk))
	require.Equal(t, StatusNew, tk.Status)
	require.False(t, tk.CreatedAt.IsZero())

	require.True(t, errors.Is(s.Create(newTicket("T-1")), ErrExists))

	got, err := s.Get("T-1")
	require.NoError(t, err)
	if diff := cmp.Diff(tk, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}

	_, err = s.Transition("T-1", StatusQueued, nil)
	require.NoError(t, err)
	got, err = s.Transition("T-1", StatusInProgress, func(t *Ticket) { t.Attempts++ })
	require.NoError(t, err)
	require.Equal(t, 1, got.Attempts)

	_, err = s.Transition("T-1", StatusNew, nil)
	require.True(t, errors.Is(err, ErrInvalidTransition))

	_, err = s.Get("nope")
	require.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.Create(newTicket("T-2")))
	active, err := s.ListByStatus(StatusNew)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "T-2", active[0].ID)
}

func TestFileStoreRejectsBadTickets(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	bad := newTicket("T-3")
	bad.Area = "kitchen"
	require.Error(t, s.Create(bad))

	queued := newTicket("T-4")
	queued.Status = StatusQueued
	require.Error(t, s.Create(queued))

	escape := newTicket("../T-5")
	require.Error(t, s.Create(escape))
}

func TestLoadFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "t.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"id":"MANUAL-1","title":"x","area":"tests","priority":"low","paths":["a_test.py"],"status":"new"}`), 0o644))
	tk, err := LoadFile(p)
	require.NoError(t, err)
	require.Equal(t, "tests", tk.Area)

	require.NoError(t, os.WriteFile(p, []byte(`{"id":"x","colour":"red"}`), 0o644))
	_, err = LoadFile(p)
	require.Error(t, err)
}

func TestQueueConsumedExactlyOnce(t *testing.T) {
	q, err := NewQueue(filepath.Join(t.TempDir(), "queue"))
	require.NoError(t, err)

	p := &plan.Plan{TaskType: plan.TaskInfo, Response: "r", ProvenanceID: "p-1", TicketID: "T-1"}
	_, err = q.Enqueue("T-1", p)
	require.NoError(t, err)
	_, err = q.Enqueue("T-1", p)
	require.True(t, errors.Is(err, ErrAlreadyQueued))

	pending, err := q.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "p-1", pending[0].Plan.ProvenanceID)

	item, err := q.Claim("T-1")
	require.NoError(t, err)
	require.Equal(t, "T-1", item.TicketID)

	_, err = q.Claim("T-1")
	require.True(t, errors.Is(err, ErrClaimed))

	pending, err = q.Pending()
	require.NoError(t, err)
	require.Empty(t, pending)

	require.NoError(t, q.Finish("T-1", true))
	_, err = os.Stat(filepath.Join(q.Dir(), "T-1.done.json"))
	require.NoError(t, err)

	// A finished ticket may be queued again (repair resubmission).
	_, err = q.Enqueue("T-1", p)
	require.NoError(t, err)
}

func TestQueuePendingOrder(t *testing.T) {
	q, err := NewQueue(t.TempDir())
	require.NoError(t, err)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	q.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Second) }

	for _, id := range []string{"T-c", "T-a", "T-b"} {
		_, err := q.Enqueue(id, &plan.Plan{TaskType: plan.TaskInfo, Response: "r", ProvenanceID: id})
		require.NoError(t, err)
	}
	pending, err := q.Pending()
	require.NoError(t, err)
	var ids []string
	for _, it := range pending {
		ids = append(ids, it.TicketID)
	}
	require.Equal(t, []string{"T-c", "T-a", "T-b"}, ids)
}

func TestWatcherNotifiesOnEnqueue(t *testing.T) {
	q, err := NewQueue(t.TempDir())
	require.NoError(t, err)

	w, err := NewWatcher(q)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	_, err = q.Enqueue("T-9", &plan.Plan{TaskType: plan.TaskInfo, Response: "r", ProvenanceID: "p"})
	require.NoError(t, err)

	select {
	case <-w.C():
	case <-time.After(5 * time.Second):
		t.Fatal("no notification for new queue item")
	}
}
