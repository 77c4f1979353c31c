package executor

import (
	"sort"
	"sync"
)

// PathLocks hands out one exclusive lock per absolute path. Different
// paths proceed concurrently; the same path is serialized.
type PathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPathLocks creates an empty lock table.
func NewPathLocks() *PathLocks {
	return &PathLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the locks for every path and returns the release func.
// Paths are locked in sorted order so overlapping sets cannot deadlock.
func (p *PathLocks) Lock(paths ...string) func() {
	uniq := make([]string, 0, len(paths))
	seen := make(map[string]bool, len(paths))
	for _, path := range paths {
		if path != "" && !seen[path] {
			seen[path] = true
			uniq = append(uniq, path)
		}
	}
	sort.Strings(uniq)

	held := make([]*sync.Mutex, 0, len(uniq))
	for _, path := range uniq {
		p.mu.Lock()
		l, ok := p.locks[path]
		if !ok {
			l = &sync.Mutex{}
			p.locks[path] = l
		}
		p.mu.Unlock()

		l.Lock()
		held = append(held, l)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
