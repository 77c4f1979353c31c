// Package tickets holds self-improvement tickets: the model, its lifecycle,
// ticket files on disk and the file-backed work queue.
package tickets

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"bobchad/internal/history"
	"bobchad/internal/plan"

	"github.com/google/uuid"
)

// Status is where a ticket sits in its lifecycle. It is the only
// authoritative indicator of ticket progress.
type Status string

const (
	StatusNew           Status = "new"
	StatusQueued        Status = "queued"
	StatusInProgress    Status = "in_progress"
	StatusSucceeded     Status = "succeeded"
	StatusFailed        Status = "failed"
	StatusRepairPending Status = "repair_pending"
	StatusAbandoned     Status = "abandoned"
)

var allowedTransitions = map[Status]map[Status]bool{
	StatusNew: {
		StatusQueued:    true,
		StatusAbandoned: true,
	},
	StatusQueued: {
		StatusInProgress: true,
		StatusAbandoned:  true,
	},
	StatusInProgress: {
		StatusSucceeded:     true,
		StatusFailed:        true,
		StatusRepairPending: true,
		StatusAbandoned:     true,
	},
	StatusFailed: {
		StatusRepairPending: true,
		StatusAbandoned:     true,
	},
	StatusRepairPending: {
		StatusInProgress: true,
		StatusAbandoned:  true,
	},
	StatusSucceeded: {},
	StatusAbandoned: {},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// IsTerminal returns true for succeeded and abandoned.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusAbandoned
}

// CanTransitionTo reports whether s -> next is on the state machine.
func (s Status) CanTransitionTo(next Status) bool {
	return allowedTransitions[s][next]
}

// ErrInvalidTransition is wrapped by every rejected status change.
var ErrInvalidTransition = errors.New("invalid ticket transition")

// Priority orders tickets.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Rank is higher for more urgent priorities.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool { return p.Rank() > 0 }

// Areas a ticket can belong to.
const (
	AreaPlanner  = "planner"
	AreaExecutor = "executor"
	AreaFSTools  = "fs_tools"
	AreaTools    = "tools"
	AreaTests    = "tests"
	AreaOther    = "other"
)

// Areas lists every known area.
var Areas = []string{AreaPlanner, AreaExecutor, AreaFSTools, AreaTools, AreaTests, AreaOther}

// ValidArea reports whether a is a known area.
func ValidArea(a string) bool {
	for _, known := range Areas {
		if a == known {
			return true
		}
	}
	return false
}

// Ticket is a tracked self-improvement work item.
type Ticket struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Area      string    `json:"area"`
	Priority  Priority  `json:"priority"`
	Paths     []string  `json:"paths"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`

	Description string    `json:"description,omitempty"`
	Evidence    []string  `json:"evidence,omitempty"`
	Key         string    `json:"key,omitempty"`
	Attempts    int       `json:"attempts"`
	UpdatedAt   time.Time `json:"updated_at"`
	LastError   string    `json:"last_error,omitempty"`
	// SourceSeq is the earliest history record the ticket was derived from.
	SourceSeq int64 `json:"source_seq,omitempty"`
	// Requests is the number of distinct requests that hit the issue.
	Requests int `json:"requests,omitempty"`

	// LastPlan and LastFailure are what the repair controller narrows from.
	LastPlan    *plan.Plan       `json:"last_plan,omitempty"`
	LastFailure *history.Failure `json:"last_failure,omitempty"`
}

// Transition moves the ticket to next or returns an ErrInvalidTransition.
func (t *Ticket) Transition(next Status, now time.Time) error {
	if !t.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, t.ID, t.Status, next)
	}
	t.Status = next
	t.UpdatedAt = now
	return nil
}

// Validate checks the fields a ticket file must carry.
func (t *Ticket) Validate() error {
	var problems []string
	if t.ID == "" {
		problems = append(problems, "id is required")
	}
	if strings.TrimSpace(t.Title) == "" {
		problems = append(problems, "title is required")
	}
	if !ValidArea(t.Area) {
		problems = append(problems, fmt.Sprintf("unknown area %q", t.Area))
	}
	if !t.Priority.Valid() {
		problems = append(problems, fmt.Sprintf("unknown priority %q", t.Priority))
	}
	if !t.Status.Valid() {
		problems = append(problems, fmt.Sprintf("unknown status %q", t.Status))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid ticket %s: %s", t.ID, strings.Join(problems, "; "))
	}
	return nil
}

// ProjectPaths keeps the paths that name files inside the project, cleaned,
// slash-separated, deduplicated and sorted.
func ProjectPaths(paths []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range paths {
		c := filepath.ToSlash(filepath.Clean(p))
		if filepath.IsAbs(p) || c == ".." || strings.HasPrefix(c, "../") || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Key builds the dedup key for an area and a path set. Paths are sorted so
// the key does not depend on their order.
func Key(area string, paths []string) string {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	return area + "|" + strings.Join(sorted, ",")
}

// NewID returns an engine ticket id: T-<yyyymmddhhmmss>-<hash8>-<rand4>.
// The suffix keeps a key regenerated within the same second from reusing
// a terminal ticket's id.
func NewID(now time.Time, key string) string {
	sum := sha1.Sum([]byte(key))
	return fmt.Sprintf("T-%s-%s-%s", now.UTC().Format("20060102150405"), hex.EncodeToString(sum[:])[:8], uuid.NewString()[:4])
}

// NewManualID returns an operator ticket id: MANUAL-<uuid8>.
func NewManualID() string {
	return "MANUAL-" + uuid.NewString()[:8]
}

// SortByPriority orders tickets high before low. Within a priority the
// issue hit by more requests comes first, then the earliest source.
func SortByPriority(ts []*Ticket) {
	sort.SliceStable(ts, func(i, j int) bool {
		a, b := ts[i], ts[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() > b.Priority.Rank()
		}
		if a.Requests != b.Requests {
			return a.Requests > b.Requests
		}
		if a.SourceSeq != 0 && b.SourceSeq != 0 && a.SourceSeq != b.SourceSeq {
			return a.SourceSeq < b.SourceSeq
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
