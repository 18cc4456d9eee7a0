package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const segmentColumns = "id, unit_id, generation, ordinal, start_offset, end_offset, token_estimate, text"

func scanSegment(scanner rowScanner) (Segment, error) {
	var seg Segment
	err := scanner.Scan(&seg.ID, &seg.UnitID, &seg.Generation, &seg.Ordinal, &seg.Start, &seg.End, &seg.TokenEstimate, &seg.Text)
	return seg, err
}

// ReplaceSegments stores segments as a new generation for the unit. The
// previous generation is marked superseded and dropped from the full-text
// index in the same transaction. The new generation number is returned.
func (s *Store) ReplaceSegments(ctx context.Context, unitID int64, segments []Segment) (int64, error) {
	ctx = ensureContext(ctx)
	var generation int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(generation), 0) + 1 FROM segments WHERE unit_id = ?`, unitID,
		).Scan(&generation); err != nil {
			return fmt.Errorf("next generation: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM segments_fts WHERE rowid IN (SELECT id FROM segments WHERE unit_id = ? AND superseded = 0)`,
			unitID,
		); err != nil {
			return fmt.Errorf("drop superseded fts rows: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE segments SET superseded = 1 WHERE unit_id = ? AND superseded = 0`, unitID,
		); err != nil {
			return fmt.Errorf("supersede segments: %w", err)
		}

		insertSegment, err := tx.PrepareContext(ctx,
			`INSERT INTO segments (unit_id, generation, ordinal, start_offset, end_offset, token_estimate, text, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare segment insert: %w", err)
		}
		defer insertSegment.Close()
		insertFTS, err := tx.PrepareContext(ctx, `INSERT INTO segments_fts (rowid, text, unit_id) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare fts insert: %w", err)
		}
		defer insertFTS.Close()

		created := formatTime(time.Now())
		for _, seg := range segments {
			res, err := insertSegment.ExecContext(ctx, unitID, generation, seg.Ordinal, seg.Start, seg.End, seg.TokenEstimate, seg.Text, created)
			if err != nil {
				return fmt.Errorf("insert segment %d: %w", seg.Ordinal, err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("segment id: %w", err)
			}
			if _, err := insertFTS.ExecContext(ctx, id, seg.Text, unitID); err != nil {
				return fmt.Errorf("index segment %d: %w", seg.Ordinal, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("replace segments: %w", err)
	}
	return generation, nil
}

// ListSegments returns the current generation of a unit's segments ordered by ordinal.
func (s *Store) ListSegments(ctx context.Context, unitID int64) ([]Segment, error) {
	return s.querySegments(ctx,
		`SELECT `+segmentColumns+` FROM segments WHERE unit_id = ? AND superseded = 0 ORDER BY ordinal`,
		unitID,
	)
}

// FirstSegments returns up to limit current segments by ordinal.
func (s *Store) FirstSegments(ctx context.Context, unitID int64, limit int) ([]Segment, error) {
	return s.querySegments(ctx,
		`SELECT `+segmentColumns+` FROM segments WHERE unit_id = ? AND superseded = 0 ORDER BY ordinal LIMIT ?`,
		unitID, limit,
	)
}

func (s *Store) querySegments(ctx context.Context, query string, args ...any) ([]Segment, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	var segments []Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// CountSegments reports the number of current segments for a unit.
func (s *Store) CountSegments(ctx context.Context, unitID int64) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1) FROM segments WHERE unit_id = ? AND superseded = 0`, unitID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count segments: %w", err)
	}
	return count, nil
}

// SearchSegments runs an FTS5 MATCH expression against the unit's current
// segments and returns up to k hits ordered by bm25 rank (best first).
func (s *Store) SearchSegments(ctx context.Context, unitID int64, match string, k int) ([]SearchHit, error) {
	if match == "" || k <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT s.id, s.unit_id, s.generation, s.ordinal, s.start_offset, s.end_offset,
                s.token_estimate, s.text, bm25(segments_fts) AS rank
         FROM segments_fts
         JOIN segments s ON s.id = segments_fts.rowid
         WHERE segments_fts MATCH ? AND segments_fts.unit_id = ? AND s.superseded = 0
         ORDER BY rank, s.ordinal
         LIMIT ?`,
		match, unitID, k,
	)
	if err != nil {
		return nil, fmt.Errorf("search segments: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var hit SearchHit
		if err := rows.Scan(&hit.ID, &hit.UnitID, &hit.Generation, &hit.Ordinal, &hit.Start, &hit.End,
			&hit.TokenEstimate, &hit.Text, &hit.Rank); err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}
