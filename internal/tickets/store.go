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
	"sync"
	"time"

	"bobchad/internal/fsutil"
	"bobchad/internal/logging"
)

var (
	// ErrNotFound is returned for an unknown ticket id.
	ErrNotFound = errors.New("ticket not found")
	// ErrExists is returned when creating a ticket whose file already exists.
	ErrExists = errors.New("ticket already exists")
)

// FileStore keeps one JSON file per ticket in a directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create ticket dir: %w", err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

// Dir returns the ticket directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Create writes a new ticket file. New tickets must start in status new.
func (s *FileStore) Create(t *Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.Status == "" {
		t.Status = StatusNew
	}
	if t.Status != StatusNew {
		return fmt.Errorf("create %s: new tickets start as %s, not %s", t.ID, StatusNew, t.Status)
	}
	now := s.now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if err := t.Validate(); err != nil {
		return err
	}
	if strings.ContainsAny(t.ID, `/\`) {
		return fmt.Errorf("create %s: id must not contain path separators", t.ID)
	}
	if _, err := os.Stat(s.path(t.ID)); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, t.ID)
	}
	if err := s.write(t); err != nil {
		return err
	}
	logging.Tickets("created %s [%s/%s] %s", t.ID, t.Area, t.Priority, t.Title)
	return nil
}

// Get reads one ticket.
func (s *FileStore) Get(id string) (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(id)
}

// List returns every ticket, oldest first.
func (s *FileStore) List() ([]*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	var out []*Ticket
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		t, err := s.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			logging.Get(logging.CategoryTickets).Warn("skipping unreadable ticket %s: %v", name, err)
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListByStatus returns tickets in any of the given statuses.
func (s *FileStore) ListByStatus(statuses ...Status) ([]*Ticket, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	want := make(map[Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []*Ticket
	for _, t := range all {
		if want[t.Status] {
			out = append(out, t)
		}
	}
	return out, nil
}

// Transition moves a ticket along the state machine and persists it.
// mutate, if non-nil, may adjust bookkeeping fields (attempts, last error)
// in the same write.
func (s *FileStore) Transition(id string, next Status, mutate func(*Ticket)) (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.read(id)
	if err != nil {
		return nil, err
	}
	prev := t.Status
	if err := t.Transition(next, s.now().UTC()); err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(t)
	}
	if err := s.write(t); err != nil {
		return nil, err
	}
	logging.TicketsDebug("%s: %s -> %s", id, prev, next)
	return t, nil
}

func (s *FileStore) read(id string) (*Ticket, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("read ticket %s: %w", id, err)
	}
	var t Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode ticket %s: %w", id, err)
	}
	return &t, nil
}

func (s *FileStore) write(t *Ticket) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ticket %s: %w", t.ID, err)
	}
	if err := fsutil.WriteAtomic(s.path(t.ID), append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write ticket %s: %w", t.ID, err)
	}
	return nil
}

// LoadFile reads a hand-written ticket file for enqueue_ticket.
func LoadFile(path string) (*Ticket, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ticket file: %w", err)
	}
	var t Ticket
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("decode ticket file %s: %w", path, err)
	}
	return &t, nil
}
