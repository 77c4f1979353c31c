package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"bobchad/internal/history"
	"bobchad/internal/logging"
)

var _ history.Store = (*LocalStore)(nil)

const timeLayout = time.RFC3339Nano

// Append stores r, assigning its Seq and Time.
func (s *LocalStore) Append(ctx context.Context, r *history.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Time.IsZero() {
		r.Time = time.Now().UTC()
	}
	paths, err := json.Marshal(nonNil(r.Paths))
	if err != nil {
		return 0, fmt.Errorf("encode paths: %w", err)
	}
	f := history.Failure{}
	if r.Failure != nil {
		f = *r.Failure
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO history (ts, provenance_id, ticket_id, task_type, tool, paths, status, diff, output,
			failure_kind, failure_code, failure_path, failure_rule, failure_detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Time.Format(timeLayout), r.ProvenanceID, r.TicketID, r.TaskType, r.Tool, string(paths), string(r.Status),
		r.Diff, r.Output, f.Kind, f.Code, f.Path, f.Rule, f.Detail,
	)
	if err != nil {
		return 0, fmt.Errorf("append history: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append history: %w", err)
	}
	r.Seq = seq
	logging.HistoryDebug("appended #%d %s %s (%s)", seq, r.TaskType, r.ProvenanceID, r.Status)
	return seq, nil
}

// Recent returns up to n most recent records in ascending seq order.
// n <= 0 returns every record.
func (s *LocalStore) Recent(ctx context.Context, n int) ([]history.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT seq, ts, provenance_id, ticket_id, task_type, tool, paths, status, diff, output,
		failure_kind, failure_code, failure_path, failure_rule, failure_detail
		FROM history`
	var (
		rows *sql.Rows
		err  error
	)
	if n > 0 {
		rows, err = s.db.QueryContext(ctx, query+` WHERE seq IN (SELECT seq FROM history ORDER BY seq DESC LIMIT ?) ORDER BY seq ASC`, n)
	} else {
		rows, err = s.db.QueryContext(ctx, query+` ORDER BY seq ASC`)
	}
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []history.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ForTicket returns every record produced for a ticket, oldest first.
func (s *LocalStore) ForTicket(ctx context.Context, ticketID string) ([]history.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, ts, provenance_id, ticket_id, task_type, tool, paths, status, diff, output,
			failure_kind, failure_code, failure_path, failure_rule, failure_detail
		 FROM history WHERE ticket_id = ? ORDER BY seq ASC`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []history.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of records.
func (s *LocalStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM history").Scan(&n); err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return n, nil
}

func scanRecord(rows *sql.Rows) (history.Record, error) {
	var (
		r      history.Record
		ts     string
		paths  string
		status string
		f      history.Failure
	)
	if err := rows.Scan(&r.Seq, &ts, &r.ProvenanceID, &r.TicketID, &r.TaskType, &r.Tool, &paths, &status,
		&r.Diff, &r.Output, &f.Kind, &f.Code, &f.Path, &f.Rule, &f.Detail); err != nil {
		return r, fmt.Errorf("scan history: %w", err)
	}
	t, err := time.Parse(timeLayout, ts)
	if err != nil {
		return r, fmt.Errorf("history #%d: bad timestamp %q: %w", r.Seq, ts, err)
	}
	r.Time = t
	r.Status = history.Status(status)
	if err := json.Unmarshal([]byte(paths), &r.Paths); err != nil {
		return r, fmt.Errorf("history #%d: bad paths: %w", r.Seq, err)
	}
	if len(r.Paths) == 0 {
		r.Paths = nil
	}
	if f.Kind != "" {
		r.Failure = &f
	}
	return r, nil
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
