package store

import (
	"context"
	"database/sql"
	"fmt"
)

// PutEmbedding stores or replaces the vector of one entity.
func (s *Store) PutEmbedding(ctx context.Context, kind EntityKind, id int64, vec []float32) error {
	if len(vec) != s.embeddingDim {
		return fmt.Errorf("embedding for %s %d has dimension %d, want %d", kind, id, len(vec), s.embeddingDim)
	}
	// vec0 has no upsert.
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM "+kind.vecTable()+" WHERE "+kind.vecKey()+" = ?", id); err != nil {
			return fmt.Errorf("clearing embedding: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO "+kind.vecTable()+" ("+kind.vecKey()+", embedding) VALUES (?, ?)",
			id, serializeFloat32(vec)); err != nil {
			return fmt.Errorf("inserting embedding: %w", err)
		}
		return nil
	})
}

// DeleteEmbedding removes the vector of one entity, if any.
func (s *Store) DeleteEmbedding(ctx context.Context, kind EntityKind, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM "+kind.vecTable()+" WHERE "+kind.vecKey()+" = ?", id)
	return err
}

// Embedding returns the vector of one entity, or nil if it has none.
func (s *Store) Embedding(ctx context.Context, kind EntityKind, id int64) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT embedding FROM "+kind.vecTable()+" WHERE "+kind.vecKey()+" = ?", id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return deserializeFloat32(blob), nil
}

// Embeddings loads the vectors of the given entities. Entities without a
// vector are absent from the result.
func (s *Store) Embeddings(ctx context.Context, kind EntityKind, ids []int64) (map[int64][]float32, error) {
	out := make(map[int64][]float32, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+kind.vecKey()+", embedding FROM "+kind.vecTable()+
			" WHERE "+kind.vecKey()+" IN ("+placeholders(len(ids))+")", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		out[id] = deserializeFloat32(blob)
	}
	return out, rows.Err()
}

// Neighbor is one KNN hit.
type Neighbor struct {
	ID       int64
	Distance float64
}

// Nearest returns up to k entities of the given kind closest to vec by
// cosine distance, nearest first.
func (s *Store) Nearest(ctx context.Context, kind EntityKind, vec []float32, k int) ([]Neighbor, error) {
	if k <= 0 || len(vec) != s.embeddingDim {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+kind.vecKey()+", distance FROM "+kind.vecTable()+
			" WHERE embedding MATCH ? AND k = ? ORDER BY distance",
		serializeFloat32(vec), k)
	if err != nil {
		return nil, fmt.Errorf("vector search on %s: %w", kind.vecTable(), err)
	}
	defer rows.Close()

	var out []Neighbor
	for rows.Next() {
		var n Neighbor
		if err := rows.Scan(&n.ID, &n.Distance); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
