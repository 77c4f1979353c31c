package tickets

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"bobchad/internal/fsutil"
	"bobchad/internal/logging"
	"bobchad/internal/plan"
)

const (
	suffixPending = ".json"
	suffixClaimed = ".claimed.json"
	suffixDone    = ".done.json"
	suffixFailed  = ".failed.json"
)

var (
	// ErrAlreadyQueued is returned when a ticket already has a queue file.
	ErrAlreadyQueued = errors.New("ticket already queued")
	// ErrClaimed is returned when another consumer claimed the item first.
	ErrClaimed = errors.New("queue item already claimed")
)

// Item is a ticket projected into plan form, waiting to be routed.
type Item struct {
	TicketID   string     `json:"ticket_id"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	Plan       *plan.Plan `json:"plan"`
}

// Queue is a directory of pending items. Claiming renames the file, so
// each item is handed to exactly one consumer.
type Queue struct {
	dir string
	now func() time.Time
}

// NewQueue creates the queue directory if needed.
func NewQueue(dir string) (*Queue, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}
	return &Queue{dir: dir, now: time.Now}, nil
}

// Dir returns the queue directory.
func (q *Queue) Dir() string { return q.dir }

func (q *Queue) file(id, suffix string) string {
	return filepath.Join(q.dir, id+suffix)
}

// Enqueue writes the plan for ticketID.
func (q *Queue) Enqueue(ticketID string, p *plan.Plan) (*Item, error) {
	for _, suffix := range []string{suffixPending, suffixClaimed} {
		if _, err := os.Stat(q.file(ticketID, suffix)); err == nil {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyQueued, ticketID)
		}
	}

	item := &Item{TicketID: ticketID, EnqueuedAt: q.now().UTC(), Plan: p}
	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode queue item: %w", err)
	}
	if err := fsutil.WriteAtomic(q.file(ticketID, suffixPending), append(data, '\n'), 0644); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", ticketID, err)
	}
	logging.Queue("enqueued %s", ticketID)
	return item, nil
}

// Pending lists unclaimed items in enqueue order.
func (q *Queue) Pending() ([]*Item, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	var items []*Item
	for _, e := range entries {
		id, ok := pendingID(e.Name())
		if e.IsDir() || !ok {
			continue
		}
		item, err := readItem(q.file(id, suffixPending))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			logging.QueueWarn("skipping unreadable queue item %s: %v", e.Name(), err)
			continue
		}
		items = append(items, item)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].EnqueuedAt.Equal(items[j].EnqueuedAt) {
			return items[i].EnqueuedAt.Before(items[j].EnqueuedAt)
		}
		return items[i].TicketID < items[j].TicketID
	})
	return items, nil
}

// Claim takes ownership of the pending item for ticketID.
func (q *Queue) Claim(ticketID string) (*Item, error) {
	claimed := q.file(ticketID, suffixClaimed)
	if err := os.Rename(q.file(ticketID, suffixPending), claimed); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrClaimed, ticketID)
		}
		return nil, fmt.Errorf("claim %s: %w", ticketID, err)
	}
	item, err := readItem(claimed)
	if err != nil {
		return nil, err
	}
	logging.QueueDebug("claimed %s", ticketID)
	return item, nil
}

// Finish archives a claimed item as done or failed.
func (q *Queue) Finish(ticketID string, ok bool) error {
	suffix := suffixFailed
	if ok {
		suffix = suffixDone
	}
	target := q.file(ticketID, suffix)
	// A ticket re-queued after an earlier run overwrites its old archive.
	_ = os.Remove(q.file(ticketID, suffixDone))
	_ = os.Remove(q.file(ticketID, suffixFailed))
	if err := os.Rename(q.file(ticketID, suffixClaimed), target); err != nil {
		return fmt.Errorf("finish %s: %w", ticketID, err)
	}
	return nil
}

// pendingID extracts the ticket id from a pending item file name.
func pendingID(name string) (string, bool) {
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, suffixPending) {
		return "", false
	}
	for _, s := range []string{suffixClaimed, suffixDone, suffixFailed} {
		if strings.HasSuffix(name, s) {
			return "", false
		}
	}
	return strings.TrimSuffix(name, suffixPending), true
}

func readItem(path string) (*Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if item.Plan == nil {
		return nil, fmt.Errorf("%s carries no plan", filepath.Base(path))
	}
	return &item, nil
}
