package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrDuplicateSource is returned by NewUnit when a unit already exists for the source.
var ErrDuplicateSource = errors.New("unit already exists for source")

// NewUnit inserts a unit in status new. When the source is already known the
// existing unit is returned together with ErrDuplicateSource.
func (s *Store) NewUnit(ctx context.Context, source, title, topic, pipelineVersion string) (*Unit, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, errors.New("source is required")
	}
	if strings.TrimSpace(pipelineVersion) == "" {
		return nil, errors.New("pipeline version is required")
	}

	existing, err := s.FindBySource(ctx, source)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, ErrDuplicateSource
	}

	timestamp := formatTime(time.Now())
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO units (
            source, title, topic, pipeline_version, status, checkpoint,
            retry_count, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		source,
		nullableString(strings.TrimSpace(title)),
		nullableString(strings.TrimSpace(topic)),
		pipelineVersion,
		StatusNew,
		StatusNew,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert unit: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetUnit(ctx, id)
}

// GetUnit fetches a unit by identifier. It returns nil without error when
// the unit does not exist.
func (s *Store) GetUnit(ctx context.Context, id int64) (*Unit, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+unitColumns+` FROM units WHERE id = ?`, id)
	unit, err := scanUnit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get unit: %w", err)
	}
	return unit, nil
}

// FindBySource returns the unit registered for a source, or nil.
func (s *Store) FindBySource(ctx context.Context, source string) (*Unit, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+unitColumns+` FROM units WHERE source = ?`, strings.TrimSpace(source))
	unit, err := scanUnit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by source: %w", err)
	}
	return unit, nil
}

// ListUnits returns units filtered by status set (or all units when no status is provided).
func (s *Store) ListUnits(ctx context.Context, statuses ...Status) ([]*Unit, error) {
	query := `SELECT ` + unitColumns + ` FROM units`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		args = statusArgs(statuses)
	}
	query += ` ORDER BY created_at, id`
	return s.queryUnits(ctx, query, args...)
}

// PendingUnits returns units that are neither completed nor failed, oldest first.
func (s *Store) PendingUnits(ctx context.Context) ([]*Unit, error) {
	return s.queryUnits(ctx,
		`SELECT `+unitColumns+` FROM units WHERE status NOT IN (?, ?) ORDER BY created_at, id`,
		StatusCompleted, StatusFailed,
	)
}

func (s *Store) queryUnits(ctx context.Context, query string, args ...any) ([]*Unit, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	defer rows.Close()

	var units []*Unit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	return units, rows.Err()
}

// UpdateUnit persists changes to an existing unit.
func (s *Store) UpdateUnit(ctx context.Context, unit *Unit) error {
	if unit == nil {
		return errors.New("unit is nil")
	}
	unit.UpdatedAt = time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE units
         SET title = ?, topic = ?, language = ?, pipeline_version = ?, status = ?, checkpoint = ?,
             error_message = ?, retry_count = ?, audio_path = ?, transcript_path = ?,
             segments_path = ?, work_dir = ?, log_path = ?, progress_stage = ?,
             progress_message = ?, updated_at = ?
         WHERE id = ?`,
		nullableString(unit.Title),
		nullableString(unit.Topic),
		nullableString(unit.Language),
		unit.PipelineVersion,
		unit.Status,
		unit.Checkpoint,
		nullableString(unit.ErrorMessage),
		unit.RetryCount,
		nullableString(unit.AudioPath),
		nullableString(unit.TranscriptPath),
		nullableString(unit.SegmentsPath),
		nullableString(unit.WorkDir),
		nullableString(unit.LogPath),
		nullableString(unit.ProgressStage),
		nullableString(unit.ProgressMessage),
		formatTime(unit.UpdatedAt),
		unit.ID,
	)
	if err != nil {
		return fmt.Errorf("update unit: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update unit: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update unit %d: no such unit", unit.ID)
	}
	return nil
}

// Stats returns a count of units grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM units GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("unit stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}
