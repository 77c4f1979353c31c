package store

import (
	"context"
	"fmt"
	"time"

	"bobchad/internal/rules"
)

var _ rules.Store = (*LocalStore)(nil)

// AppendRule stores a rule. Rules are never updated or deleted.
func (s *LocalStore) AppendRule(ctx context.Context, text string) (rules.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := rules.Rule{Text: text, CreatedAt: time.Now().UTC()}
	res, err := s.db.ExecContext(ctx, "INSERT INTO rules (text, created_at) VALUES (?, ?)", text, r.CreatedAt.Format(timeLayout))
	if err != nil {
		return rules.Rule{}, fmt.Errorf("insert rule: %w", err)
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		return rules.Rule{}, fmt.Errorf("insert rule: %w", err)
	}
	return r, nil
}

// ListRules returns every rule in teaching order.
func (s *LocalStore) ListRules(ctx context.Context) ([]rules.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, text, created_at FROM rules ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var out []rules.Rule
	for rows.Next() {
		var (
			r  rules.Rule
			ts string
		)
		if err := rows.Scan(&r.ID, &r.Text, &ts); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		if r.CreatedAt, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("rule %d: bad timestamp %q: %w", r.ID, ts, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
