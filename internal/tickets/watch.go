package tickets

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"bobchad/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Watcher signals when new items land in the queue directory. Bursts of
// events are collapsed into one notification after a short settle period.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	dir         string
	debounceDur time.Duration
	notify      chan struct{}
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// NewWatcher watches the queue's directory.
func NewWatcher(q *Queue) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Watcher{
		watcher:     w,
		dir:         q.Dir(),
		debounceDur: 200 * time.Millisecond,
		notify:      make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// C delivers a value whenever pending items may have appeared.
func (w *Watcher) C() <-chan struct{} { return w.notify }

// Start begins watching. It is non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.running = true
	logging.Queue("watching %s", w.dir)
	go w.run(ctx)
	return nil
}

// Stop ends the watch loop and closes the underlying watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		w.watcher.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.watcher.Close(); err != nil {
		logging.QueueWarn("error closing watcher: %v", err)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Rename|fsnotify.Write) == 0 {
				continue
			}
			if _, pending := pendingID(filepath.Base(event.Name)); !pending {
				continue
			}
			settle = time.After(w.debounceDur)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.QueueWarn("watcher error: %v", err)
		case <-settle:
			settle = nil
			select {
			case w.notify <- struct{}{}:
			default:
			}
		}
	}
}
