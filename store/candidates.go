package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// RankedObject is one entry of a ranking pass as handed to Reconcile.
type RankedObject struct {
	ObjectID int64
	Score    float64
	Reason   string
	Source   string
}

// Edge is a stored candidate edge of one direction.
type Edge struct {
	SubjectID int64   `json:"subject_id"`
	ObjectID  int64   `json:"object_id"`
	Score     float64 `json:"score"`
	Rank      int     `json:"rank,omitempty"` // 0 for stale edges
	IsPrimary bool    `json:"is_primary"`
	Approved  bool    `json:"approved"`
	Stale     bool    `json:"stale"`
	Reason    string  `json:"reason,omitempty"`
	Source    string  `json:"source,omitempty"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

// Reconcile replaces the ranking of one subject.
//
// Ranked objects are upserted with rank = position + 1 and revived if
// they were stale; approved and is_primary are left as they are. Objects
// stored before but absent from ranked are marked stale with a NULL rank.
// Duplicate object ids keep their first occurrence. Everything happens in
// one transaction; on error nothing is written.
func (s *Store) Reconcile(ctx context.Context, d Direction, subjectID int64, ranked []RankedObject) error {
	_, err := s.reconcile(ctx, d, subjectID, ranked, nil)
	return err
}

// ReconcileRun is Reconcile plus an audit row in ranking_runs written in
// the same transaction. It returns the run id.
func (s *Store) ReconcileRun(ctx context.Context, d Direction, subjectID int64, ranked []RankedObject, run Run) (string, error) {
	return s.reconcile(ctx, d, subjectID, ranked, &run)
}

func (s *Store) reconcile(ctx context.Context, d Direction, subjectID int64, ranked []RankedObject, run *Run) (string, error) {
	var runID string
	var revived, staled int

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := edgeStates(ctx, tx, d, subjectID)
		if err != nil {
			return fmt.Errorf("reading edges: %w", err)
		}

		upsert, err := tx.PrepareContext(ctx, fmt.Sprintf(`
			INSERT INTO %[1]s (%[2]s, %[3]s, score, rank, stale, reason, source)
			VALUES (?, ?, ?, ?, 0, ?, ?)
			ON CONFLICT(%[2]s, %[3]s) DO UPDATE SET
				score = excluded.score,
				rank = excluded.rank,
				stale = 0,
				reason = excluded.reason,
				source = excluded.source,
				updated_at = CURRENT_TIMESTAMP
		`, d.Table, d.SubjectCol, d.ObjectCol))
		if err != nil {
			return err
		}
		defer upsert.Close()

		kept := make(map[int64]bool, len(ranked))
		rank := 0
		for _, r := range ranked {
			if kept[r.ObjectID] {
				continue
			}
			kept[r.ObjectID] = true
			rank++
			if _, err := upsert.ExecContext(ctx, subjectID, r.ObjectID, r.Score, rank, r.Reason, r.Source); err != nil {
				return fmt.Errorf("upserting %s edge %d->%d: %w", d.Name, subjectID, r.ObjectID, err)
			}
			if wasStale, ok := existing[r.ObjectID]; ok && wasStale {
				revived++
			}
		}

		markStale := fmt.Sprintf(`
			UPDATE %s SET stale = 1, rank = NULL, updated_at = CURRENT_TIMESTAMP
			WHERE %s = ? AND %s = ?
		`, d.Table, d.SubjectCol, d.ObjectCol)
		for objectID, wasStale := range existing {
			if kept[objectID] || wasStale {
				continue
			}
			if _, err := tx.ExecContext(ctx, markStale, subjectID, objectID); err != nil {
				return fmt.Errorf("marking %s edge %d->%d stale: %w", d.Name, subjectID, objectID, err)
			}
			staled++
		}

		if run != nil {
			run.Direction = d.Name
			run.SubjectID = subjectID
			run.ResultCount = rank
			if runID, err = logRun(ctx, tx, *run); err != nil {
				return fmt.Errorf("logging run: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return "", persistErr("reconcile "+d.Name, err)
	}

	slog.Debug("store: reconciled candidates",
		"direction", d.Name, "subject_id", subjectID,
		"ranked", len(ranked), "revived", revived, "staled", staled)
	return runID, nil
}

// edgeStates maps every stored object of a subject to its stale flag.
func edgeStates(ctx context.Context, tx *sql.Tx, d Direction, subjectID int64) (map[int64]bool, error) {
	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf("SELECT %s, stale FROM %s WHERE %s = ?", d.ObjectCol, d.Table, d.SubjectCol),
		subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]bool)
	for rows.Next() {
		var id int64
		var stale bool
		if err := rows.Scan(&id, &stale); err != nil {
			return nil, err
		}
		out[id] = stale
	}
	return out, rows.Err()
}

// Approve marks an edge approved. With makePrimary every other primary
// edge of the subject is cleared first and the pair becomes the
// subject's assignment. ErrNotFound is returned if the edge is missing.
func (s *Store) Approve(ctx context.Context, d Direction, subjectID, objectID int64, makePrimary bool) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := edgeExists(ctx, tx, d, subjectID, objectID); err != nil {
			return err
		}

		if makePrimary {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(
				"UPDATE %s SET is_primary = 0, updated_at = CURRENT_TIMESTAMP WHERE %s = ? AND %s <> ? AND is_primary = 1",
				d.Table, d.SubjectCol, d.ObjectCol), subjectID, objectID); err != nil {
				return fmt.Errorf("clearing primary: %w", err)
			}
		}

		set := "approved = 1"
		if makePrimary {
			set += ", is_primary = 1"
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			"UPDATE %s SET %s, updated_at = CURRENT_TIMESTAMP WHERE %s = ? AND %s = ?",
			d.Table, set, d.SubjectCol, d.ObjectCol), subjectID, objectID); err != nil {
			return fmt.Errorf("approving: %w", err)
		}

		if makePrimary {
			return assign(ctx, tx, d, subjectID, objectID)
		}
		return nil
	})
	return persistErr("approve "+d.Name, err)
}

// Reject clears the approved and primary flags of an edge and drops the
// assignment if it pointed at this pair. ErrNotFound is returned if the
// edge is missing.
func (s *Store) Reject(ctx context.Context, d Direction, subjectID, objectID int64) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := edgeExists(ctx, tx, d, subjectID, objectID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			"UPDATE %s SET approved = 0, is_primary = 0, updated_at = CURRENT_TIMESTAMP WHERE %s = ? AND %s = ?",
			d.Table, d.SubjectCol, d.ObjectCol), subjectID, objectID); err != nil {
			return fmt.Errorf("rejecting: %w", err)
		}
		return unassign(ctx, tx, d, subjectID, objectID)
	})
	return persistErr("reject "+d.Name, err)
}

func edgeExists(ctx context.Context, tx *sql.Tx, d Direction, subjectID, objectID int64) error {
	var one int
	err := tx.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT 1 FROM %s WHERE %s = ? AND %s = ?", d.Table, d.SubjectCol, d.ObjectCol),
		subjectID, objectID).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s edge %d->%d", ErrNotFound, d.Name, subjectID, objectID)
	}
	return err
}

// assignment describes where a primary approval is written back: the
// row of table identified by rowID gets userID in column, provided the
// user has the expected role.
type assignment struct {
	table, column, userRole string
	rowID, userID           int64
}

func assignmentFor(d Direction, subjectID, objectID int64) assignment {
	switch d.Name {
	case TopicUsers.Name:
		return assignment{"topics", "approved_supervisor_user_id", RoleSupervisor, subjectID, objectID}
	case SupervisorTopics.Name:
		return assignment{"topics", "approved_supervisor_user_id", RoleSupervisor, objectID, subjectID}
	case RoleStudents.Name:
		return assignment{"roles", "approved_student_user_id", RoleStudent, subjectID, objectID}
	default:
		return assignment{"roles", "approved_student_user_id", RoleStudent, objectID, subjectID}
	}
}

func assign(ctx context.Context, tx *sql.Tx, d Direction, subjectID, objectID int64) error {
	a := assignmentFor(d, subjectID, objectID)
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %[1]s SET %[2]s = ?
		WHERE id = ? AND EXISTS (SELECT 1 FROM users WHERE id = ? AND role = ?)
	`, a.table, a.column), a.userID, a.rowID, a.userID, a.userRole)
	if err != nil {
		return fmt.Errorf("assigning %s.%s: %w", a.table, a.column, err)
	}
	return nil
}

func unassign(ctx context.Context, tx *sql.Tx, d Direction, subjectID, objectID int64) error {
	a := assignmentFor(d, subjectID, objectID)
	_, err := tx.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %[1]s SET %[2]s = NULL WHERE id = ? AND %[2]s = ?", a.table, a.column),
		a.rowID, a.userID)
	if err != nil {
		return fmt.Errorf("unassigning %s.%s: %w", a.table, a.column, err)
	}
	return nil
}

const edgeColumns = `%[2]s, %[3]s, score, COALESCE(rank, 0), is_primary, approved, stale, reason, source, created_at, updated_at`

func scanEdge(row interface{ Scan(...any) error }) (Edge, error) {
	var e Edge
	err := row.Scan(&e.SubjectID, &e.ObjectID, &e.Score, &e.Rank, &e.IsPrimary, &e.Approved,
		&e.Stale, &e.Reason, &e.Source, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func (s *Store) queryEdges(ctx context.Context, query string, args ...any) ([]Edge, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Candidates returns the edges of one subject: live edges by rank, then
// stale edges by score when includeStale is set.
func (s *Store) Candidates(ctx context.Context, d Direction, subjectID int64, includeStale bool) ([]Edge, error) {
	query := fmt.Sprintf("SELECT "+edgeColumns+" FROM %[1]s WHERE %[2]s = ?", d.Table, d.SubjectCol, d.ObjectCol)
	if !includeStale {
		query += " AND stale = 0"
	}
	query += fmt.Sprintf(" ORDER BY stale ASC, rank ASC, score DESC, %s ASC", d.ObjectCol)
	return s.queryEdges(ctx, query, subjectID)
}

// AllCandidates returns every edge of a direction ordered by subject and
// rank.
func (s *Store) AllCandidates(ctx context.Context, d Direction, includeStale bool) ([]Edge, error) {
	query := fmt.Sprintf("SELECT "+edgeColumns+" FROM %[1]s", d.Table, d.SubjectCol, d.ObjectCol)
	if !includeStale {
		query += " WHERE stale = 0"
	}
	query += fmt.Sprintf(" ORDER BY %s ASC, stale ASC, rank ASC, score DESC, %s ASC", d.SubjectCol, d.ObjectCol)
	return s.queryEdges(ctx, query)
}

// Primary returns the primary edge of a subject, or ErrNotFound.
func (s *Store) Primary(ctx context.Context, d Direction, subjectID int64) (*Edge, error) {
	query := fmt.Sprintf("SELECT "+edgeColumns+" FROM %[1]s WHERE %[2]s = ? AND is_primary = 1", d.Table, d.SubjectCol, d.ObjectCol)
	e, err := scanEdge(s.db.QueryRowContext(ctx, query, subjectID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: primary %s edge for %d", ErrNotFound, d.Name, subjectID)
		}
		return nil, err
	}
	return &e, nil
}

// ClearCandidates deletes every edge of a subject, flags included, and
// returns the number removed.
func (s *Store) ClearCandidates(ctx context.Context, d Direction, subjectID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE %s = ?", d.Table, d.SubjectCol), subjectID)
	if err != nil {
		return 0, persistErr("clear "+d.Name, err)
	}
	return res.RowsAffected()
}
