package store

import (
	"strings"
	"time"
)

// Status is a unit lifecycle state. Ordering between statuses is defined by
// the unit's pipeline version, never by the string values.
type Status string

const (
	StatusNew         Status = "new"
	StatusDownloaded  Status = "downloaded"
	StatusTranscribed Status = "transcribed"
	StatusCorrected   Status = "corrected"
	StatusIndexed     Status = "indexed"
	StatusTranslated  Status = "translated"
	StatusAdapted     Status = "adapted"
	StatusStructured  Status = "structured"
	StatusIllustrated Status = "illustrated"
	StatusNarrated    Status = "narrated"
	StatusRendered    Status = "rendered"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

var knownStatuses = map[Status]struct{}{
	StatusNew:         {},
	StatusDownloaded:  {},
	StatusTranscribed: {},
	StatusCorrected:   {},
	StatusIndexed:     {},
	StatusTranslated:  {},
	StatusAdapted:     {},
	StatusStructured:  {},
	StatusIllustrated: {},
	StatusNarrated:    {},
	StatusRendered:    {},
	StatusCompleted:   {},
	StatusFailed:      {},
}

// ParseStatus normalizes a status string, reporting whether it is known.
func ParseStatus(value string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(value)))
	_, ok := knownStatuses[s]
	return s, ok
}

// Unit is one episode moving through a pipeline.
type Unit struct {
	ID              int64
	Source          string
	Title           string
	Topic           string
	Language        string
	PipelineVersion string
	Status          Status
	// Checkpoint is the highest status the unit has completed. It survives
	// failures so retries resume from the failed stage.
	Checkpoint      Status
	ErrorMessage    string
	RetryCount      int
	AudioPath       string
	TranscriptPath  string
	SegmentsPath    string
	WorkDir         string
	LogPath         string
	ProgressStage   string
	ProgressMessage string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsFailed reports whether the unit is in the absorbing failed state.
func (u *Unit) IsFailed() bool {
	return u != nil && u.Status == StatusFailed
}

// SetFailed marks the unit failed with a stage-qualified message.
func (u *Unit) SetFailed(stage, message string) {
	if u == nil {
		return
	}
	u.Status = StatusFailed
	message = strings.TrimSpace(message)
	if stage != "" {
		message = stage + ": " + message
	}
	u.ErrorMessage = message
	u.RetryCount++
	u.ProgressMessage = ""
}

// ClearFailure restores the unit status to its checkpoint.
func (u *Unit) ClearFailure() {
	if u == nil {
		return
	}
	u.Status = u.Checkpoint
	u.ErrorMessage = ""
}

// RunStatus is the state of one stage execution attempt.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
	RunSkipped RunStatus = "skipped"
)

// StageRun is one ledger row describing a stage attempt.
type StageRun struct {
	ID            int64
	UnitID        int64
	Stage         string
	Status        RunStatus
	Forced        bool
	StartedAt     time.Time
	FinishedAt    *time.Time
	InputUnits    int64
	OutputUnits   int64
	Cost          float64
	CostEstimated bool
	Model         string
	ErrorMessage  string
	JobID         string
}

// RunResult closes a running StageRun.
type RunResult struct {
	Status        RunStatus
	InputUnits    int64
	OutputUnits   int64
	Cost          float64
	CostEstimated bool
	Model         string
	ErrorMessage  string
}

// Artifact is the current output of a generation stage for one unit.
type Artifact struct {
	UnitID     int64
	Kind       string
	Path       string
	PromptHash string
	SizeBytes  int64
	CreatedAt  time.Time
}

// Segment is one overlapping slice of a unit's normalized transcript.
// Offsets are rune offsets.
type Segment struct {
	ID            int64
	UnitID        int64
	Generation    int64
	Ordinal       int
	Start         int
	End           int
	TokenEstimate int
	Text          string
}

// SearchHit is a ranked full-text match.
type SearchHit struct {
	Segment
	Rank float64
}

// StageCost aggregates StageRun rows for one stage.
type StageCost struct {
	Stage       string
	Runs        int
	Skipped     int
	Failed      int
	InputUnits  int64
	OutputUnits int64
	Cost        float64
}
