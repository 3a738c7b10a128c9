package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Run is an audit record of one ranking pass.
type Run struct {
	ID          string        `json:"id"`
	Direction   string        `json:"direction"`
	SubjectID   int64         `json:"subject_id"`
	Policy      string        `json:"policy"`
	PoolSize    int           `json:"pool_size"`
	ResultCount int           `json:"result_count"`
	Elapsed     time.Duration `json:"elapsed"`
	CreatedAt   string        `json:"created_at,omitempty"`
}

func logRun(ctx context.Context, tx *sql.Tx, r Run) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ranking_runs (id, direction, subject_id, policy, pool_size, result_count, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Direction, r.SubjectID, r.Policy, r.PoolSize, r.ResultCount, r.Elapsed.Milliseconds())
	return r.ID, err
}

// Runs returns the most recent ranking passes of a subject, newest first.
func (s *Store) Runs(ctx context.Context, d Direction, subjectID int64, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, direction, subject_id, policy, pool_size, result_count, elapsed_ms, created_at
		FROM ranking_runs
		WHERE direction = ? AND subject_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, d.Name, subjectID, sqlLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var ms int64
		if err := rows.Scan(&r.ID, &r.Direction, &r.SubjectID, &r.Policy, &r.PoolSize, &r.ResultCount, &ms, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Elapsed = time.Duration(ms) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}
