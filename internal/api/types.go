package api

import (
	"castline/internal/jobs"
	"castline/internal/preflight"
	"castline/internal/stage"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Unit describes a unit in a transport-friendly format.
type Unit struct {
	ID              int64        `json:"id"`
	Source          string       `json:"source"`
	Title           string       `json:"title"`
	Topic           string       `json:"topic,omitempty"`
	Language        string       `json:"language,omitempty"`
	PipelineVersion string       `json:"pipeline_version"`
	Status          string       `json:"status"`
	Checkpoint      string       `json:"checkpoint"`
	ErrorMessage    string       `json:"error_message,omitempty"`
	RetryCount      int          `json:"retry_count"`
	Progress        UnitProgress `json:"progress"`
	AudioPath       string       `json:"audio_path,omitempty"`
	TranscriptPath  string       `json:"transcript_path,omitempty"`
	SegmentsPath    string       `json:"segments_path,omitempty"`
	WorkDir         string       `json:"work_dir,omitempty"`
	LogPath         string       `json:"log_path,omitempty"`
	CreatedAt       string       `json:"created_at,omitempty"`
	UpdatedAt       string       `json:"updated_at,omitempty"`
}

// UnitProgress carries the last progress report of a unit.
type UnitProgress struct {
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message,omitempty"`
}

// Run is one stage run ledger row.
type Run struct {
	ID            int64   `json:"id"`
	Stage         string  `json:"stage"`
	Status        string  `json:"status"`
	Forced        bool    `json:"forced,omitempty"`
	StartedAt     string  `json:"started_at"`
	FinishedAt    string  `json:"finished_at,omitempty"`
	InputUnits    int64   `json:"input_units"`
	OutputUnits   int64   `json:"output_units"`
	Cost          float64 `json:"cost"`
	CostEstimated bool    `json:"cost_estimated"`
	Model         string  `json:"model,omitempty"`
	ErrorMessage  string  `json:"error_message,omitempty"`
	JobID         string  `json:"job_id,omitempty"`
}

// Artifact is the current output of a generation stage.
type Artifact struct {
	Kind       string `json:"kind"`
	Path       string `json:"path"`
	PromptHash string `json:"prompt_hash"`
	SizeBytes  int64  `json:"size_bytes"`
	CreatedAt  string `json:"created_at,omitempty"`
}

// StageCost aggregates the ledger of one stage.
type StageCost struct {
	Stage       string  `json:"stage"`
	Runs        int     `json:"runs"`
	Skipped     int     `json:"skipped"`
	Failed      int     `json:"failed"`
	InputUnits  int64   `json:"input_units"`
	OutputUnits int64   `json:"output_units"`
	Cost        float64 `json:"cost"`
}

// CostSummary is the response of GET /api/cost.
type CostSummary struct {
	UnitID      *int64      `json:"unit_id,omitempty"`
	Runs        int         `json:"runs"`
	Skipped     int         `json:"skipped"`
	Failed      int         `json:"failed"`
	InputUnits  int64       `json:"input_units"`
	OutputUnits int64       `json:"output_units"`
	Cost        float64     `json:"cost"`
	ByStage     []StageCost `json:"by_stage"`
}

// UnitListResponse wraps the units list with per-status counts.
type UnitListResponse struct {
	Units  []Unit         `json:"units"`
	Counts map[string]int `json:"counts"`
}

// UnitResponse describes one unit and its current artifacts.
type UnitResponse struct {
	Unit      Unit       `json:"unit"`
	Artifacts []Artifact `json:"artifacts"`
	Segments  int        `json:"segments"`
}

// AddUnitResponse is returned by POST /api/units. Duplicate is set when the
// source was already registered; Unit is then the existing unit.
type AddUnitResponse struct {
	Unit      Unit `json:"unit"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// RunListResponse wraps a unit's stage run history.
type RunListResponse struct {
	Runs []Run `json:"runs"`
}

// RunRequest is the body of the stage, pipeline and retry endpoints.
type RunRequest struct {
	Force bool `json:"force,omitempty"`
}

// ResetRequest is the body of POST /api/units/{id}/reset.
type ResetRequest struct {
	Stage string `json:"stage"`
}

// JobAccepted is returned for operations that run as background jobs.
type JobAccepted struct {
	JobID string `json:"job_id"`
}

// JobListResponse wraps the remembered jobs.
type JobListResponse struct {
	Jobs []jobs.Job `json:"jobs"`
}

// BatchRequest is the body of POST /api/batches. An empty unit list runs
// every pending unit.
type BatchRequest struct {
	UnitIDs           []int64 `json:"unit_ids,omitempty"`
	StopOnFirstError  bool    `json:"stop_on_first_error,omitempty"`
	StopBetweenStages bool    `json:"stop_between_stages,omitempty"`
}

// HealthResponse aggregates stage readiness and preflight checks.
type HealthResponse struct {
	Ready      bool               `json:"ready"`
	QueueDepth int                `json:"queue_depth"`
	Stages     []stage.Health     `json:"stages"`
	Preflight  []preflight.Result `json:"preflight"`
	InboxDir   string             `json:"inbox_dir,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	// Unit is set when a duplicate source conflicts with an existing unit.
	Unit *Unit `json:"unit,omitempty"`
}
