package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrRunNotOpen is returned when closing a StageRun that is not running.
var ErrRunNotOpen = errors.New("stage run is not running")

// OpenRun records the start of a stage attempt and returns the row id.
func (s *Store) OpenRun(ctx context.Context, unitID int64, stage string, forced bool, jobID string) (*StageRun, error) {
	started := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO stage_runs (unit_id, stage, status, forced, started_at, job_id)
         VALUES (?, ?, ?, ?, ?, ?)`,
		unitID,
		stage,
		RunRunning,
		boolToInt(forced),
		formatTime(started),
		nullableString(jobID),
	)
	if err != nil {
		return nil, fmt.Errorf("open stage run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return &StageRun{
		ID:        id,
		UnitID:    unitID,
		Stage:     stage,
		Status:    RunRunning,
		Forced:    forced,
		StartedAt: started,
		JobID:     jobID,
	}, nil
}

// CloseRun finalizes a running StageRun. Rows that are already closed are
// left untouched and ErrRunNotOpen is returned.
func (s *Store) CloseRun(ctx context.Context, runID int64, result RunResult) error {
	if result.Status == RunRunning || result.Status == "" {
		return fmt.Errorf("close stage run: invalid final status %q", result.Status)
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE stage_runs
         SET status = ?, finished_at = ?, input_units = ?, output_units = ?, cost = ?,
             cost_estimated = ?, model = ?, error_message = ?
         WHERE id = ? AND status = ?`,
		result.Status,
		formatTime(time.Now()),
		result.InputUnits,
		result.OutputUnits,
		result.Cost,
		boolToInt(result.CostEstimated),
		nullableString(result.Model),
		nullableString(result.ErrorMessage),
		runID,
		RunRunning,
	)
	if err != nil {
		return fmt.Errorf("close stage run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close stage run: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("close stage run %d: %w", runID, ErrRunNotOpen)
	}
	return nil
}

// RecordSkip writes a closed StageRun marking a cache hit. Skips carry no cost.
func (s *Store) RecordSkip(ctx context.Context, unitID int64, stage, jobID string) (*StageRun, error) {
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO stage_runs (unit_id, stage, status, started_at, finished_at, job_id)
         VALUES (?, ?, ?, ?, ?, ?)`,
		unitID,
		stage,
		RunSkipped,
		formatTime(now),
		formatTime(now),
		nullableString(jobID),
	)
	if err != nil {
		return nil, fmt.Errorf("record skip: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return &StageRun{ID: id, UnitID: unitID, Stage: stage, Status: RunSkipped, StartedAt: now, FinishedAt: &now, JobID: jobID}, nil
}

// GetRun fetches one StageRun by id, or nil when missing.
func (s *Store) GetRun(ctx context.Context, id int64) (*StageRun, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+runColumns+` FROM stage_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stage run: %w", err)
	}
	return run, nil
}

// ListRuns returns the StageRuns of a unit in insertion order.
func (s *Store) ListRuns(ctx context.Context, unitID int64) ([]*StageRun, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT `+runColumns+` FROM stage_runs WHERE unit_id = ? ORDER BY id`, unitID)
	if err != nil {
		return nil, fmt.Errorf("list stage runs: %w", err)
	}
	defer rows.Close()

	var runs []*StageRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CostTotals aggregates StageRuns by stage, for one unit or for all units
// when unitID is nil.
func (s *Store) CostTotals(ctx context.Context, unitID *int64) ([]StageCost, error) {
	query := `SELECT stage,
            COUNT(1),
            COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(input_units), 0),
            COALESCE(SUM(output_units), 0),
            COALESCE(SUM(cost), 0)
        FROM stage_runs`
	args := []any{RunSkipped, RunFailed}
	if unitID != nil {
		query += ` WHERE unit_id = ?`
		args = append(args, *unitID)
	}
	query += ` GROUP BY stage ORDER BY MIN(id)`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("cost totals: %w", err)
	}
	defer rows.Close()

	var totals []StageCost
	for rows.Next() {
		var sc StageCost
		if err := rows.Scan(&sc.Stage, &sc.Runs, &sc.Skipped, &sc.Failed, &sc.InputUnits, &sc.OutputUnits, &sc.Cost); err != nil {
			return nil, err
		}
		totals = append(totals, sc)
	}
	return totals, rows.Err()
}

// CloseInterruptedRuns marks StageRuns left running by a previous process as
// failed. It returns the number of rows changed.
func (s *Store) CloseInterruptedRuns(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE stage_runs SET status = ?, finished_at = ?, error_message = ? WHERE status = ?`,
		RunFailed,
		formatTime(time.Now()),
		"interrupted before completion",
		RunRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("close interrupted runs: %w", err)
	}
	return res.RowsAffected()
}
