package store

import (
	"database/sql"
	"errors"
	"time"
)

type rowScanner interface{ Scan(dest ...any) error }

const unitColumns = "id, source, title, topic, language, pipeline_version, status, checkpoint, error_message, retry_count, audio_path, transcript_path, segments_path, work_dir, log_path, progress_stage, progress_message, created_at, updated_at"

func scanUnit(scanner rowScanner) (*Unit, error) {
	var (
		id              int64
		source          string
		title           sql.NullString
		topic           sql.NullString
		language        sql.NullString
		pipelineVersion string
		status          string
		checkpoint      string
		errorMessage    sql.NullString
		retryCount      int
		audioPath       sql.NullString
		transcriptPath  sql.NullString
		segmentsPath    sql.NullString
		workDir         sql.NullString
		logPath         sql.NullString
		progressStage   sql.NullString
		progressMessage sql.NullString
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&source,
		&title,
		&topic,
		&language,
		&pipelineVersion,
		&status,
		&checkpoint,
		&errorMessage,
		&retryCount,
		&audioPath,
		&transcriptPath,
		&segmentsPath,
		&workDir,
		&logPath,
		&progressStage,
		&progressMessage,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	unit := &Unit{
		ID:              id,
		Source:          source,
		Title:           title.String,
		Topic:           topic.String,
		Language:        language.String,
		PipelineVersion: pipelineVersion,
		Status:          Status(status),
		Checkpoint:      Status(checkpoint),
		ErrorMessage:    errorMessage.String,
		RetryCount:      retryCount,
		AudioPath:       audioPath.String,
		TranscriptPath:  transcriptPath.String,
		SegmentsPath:    segmentsPath.String,
		WorkDir:         workDir.String,
		LogPath:         logPath.String,
		ProgressStage:   progressStage.String,
		ProgressMessage: progressMessage.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		unit.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		unit.UpdatedAt = updated
	}
	return unit, nil
}

const runColumns = "id, unit_id, stage, status, forced, started_at, finished_at, input_units, output_units, cost, cost_estimated, model, error_message, job_id"

func scanRun(scanner rowScanner) (*StageRun, error) {
	var (
		run           StageRun
		status        string
		forced        int
		startedRaw    string
		finishedRaw   sql.NullString
		costEstimated int
		model         sql.NullString
		errorMessage  sql.NullString
		jobID         sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&run.UnitID,
		&run.Stage,
		&status,
		&forced,
		&startedRaw,
		&finishedRaw,
		&run.InputUnits,
		&run.OutputUnits,
		&run.Cost,
		&costEstimated,
		&model,
		&errorMessage,
		&jobID,
	); err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	run.Forced = forced != 0
	run.CostEstimated = costEstimated != 0
	run.Model = model.String
	run.ErrorMessage = errorMessage.String
	run.JobID = jobID.String
	if started, err := parseTimeString(startedRaw); err == nil {
		run.StartedAt = started
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			run.FinishedAt = &finished
		}
	}
	return &run, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func statusArgs(statuses []Status) []any {
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = string(status)
	}
	return args
}
