package codemod

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"bobchad/internal/fsutil"
)

// Txn makes a multi-file edit all-or-nothing. Stage every path before
// writing it; Rollback restores originals and removes created files.
type Txn struct {
	originals map[string][]byte
	modes     map[string]fs.FileMode
	creates   map[string]struct{}
	order     []string
}

// NewTxn starts an empty transaction.
func NewTxn() *Txn {
	return &Txn{
		originals: make(map[string][]byte),
		modes:     make(map[string]fs.FileMode),
		creates:   make(map[string]struct{}),
	}
}

// Stage snapshots path. A path that does not exist is tracked as a create.
func (tx *Txn) Stage(path string) error {
	if _, ok := tx.originals[path]; ok {
		return nil
	}
	if _, ok := tx.creates[path]; ok {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			tx.creates[path] = struct{}{}
			tx.order = append(tx.order, path)
			return nil
		}
		return fmt.Errorf("stage %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("stage %s: %w", path, err)
	}
	tx.originals[path] = data
	tx.modes[path] = info.Mode().Perm()
	tx.order = append(tx.order, path)
	return nil
}

// Commit forgets the snapshots.
func (tx *Txn) Commit() {
	tx.originals = nil
	tx.modes = nil
	tx.creates = nil
	tx.order = nil
}

// Rollback restores every staged path, newest first.
func (tx *Txn) Rollback() error {
	var errs []error
	for i := len(tx.order) - 1; i >= 0; i-- {
		p := tx.order[i]
		if _, created := tx.creates[p]; created {
			if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		if err := fsutil.WriteAtomic(p, tx.originals[p], tx.modes[p]); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", p, err))
		}
	}
	tx.Commit()
	return errors.Join(errs...)
}
