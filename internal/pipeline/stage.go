package pipeline

import (
	"errors"

	"castline/internal/store"
)

// Evidence describes how a stage proves it has already completed.
type Evidence string

const (
	// EvidenceFile stages are complete when their output files exist.
	EvidenceFile Evidence = "file"
	// EvidenceArtifact stages are complete when a current artifact carries
	// the hash of the prompt that would be sent now.
	EvidenceArtifact Evidence = "artifact"
)

// Artifact kinds produced by generation stages.
const (
	KindCorrectedTranscript = "corrected_transcript"
	KindTranslation         = "translation"
	KindAdaptation          = "adaptation"
	KindStructure           = "structure"
	KindImages              = "images"
	KindNarration           = "narration"
	KindVideo               = "video"
	KindPublication         = "publication"
)

// Stage names.
const (
	StageDownload   = "download"
	StageTranscribe = "transcribe"
	StageCorrect    = "correct"
	StageIndex      = "index"
	StageTranslate  = "translate"
	StageAdapt      = "adapt"
	StageStructure  = "structure"
	StageIllustrate = "illustrate"
	StageNarrate    = "narrate"
	StageRender     = "render"
	StagePublish    = "publish"
)

var (
	// ErrUnknownStage is returned when a stage name is not part of a version.
	ErrUnknownStage = errors.New("unknown stage")
	// ErrUnknownVersion is returned when a pipeline version is not registered.
	ErrUnknownVersion = errors.New("unknown pipeline version")
)

// Stage is one step of a pipeline version.
type Stage struct {
	Name          string
	Precondition  store.Status
	Postcondition store.Status
	Evidence      Evidence
	ArtifactKind  string
}

// IsGeneration reports whether the stage is idempotent by artifact hash.
func (s Stage) IsGeneration() bool {
	return s.Evidence == EvidenceArtifact
}

type stageTemplate struct {
	post         store.Status
	evidence     Evidence
	artifactKind string
}

// catalog lists every stage the engine knows how to run. Preconditions are
// not part of the catalog; a version derives them from its chain.
var catalog = map[string]stageTemplate{
	StageDownload:   {store.StatusDownloaded, EvidenceFile, ""},
	StageTranscribe: {store.StatusTranscribed, EvidenceFile, ""},
	StageCorrect:    {store.StatusCorrected, EvidenceArtifact, KindCorrectedTranscript},
	StageIndex:      {store.StatusIndexed, EvidenceFile, ""},
	StageTranslate:  {store.StatusTranslated, EvidenceArtifact, KindTranslation},
	StageAdapt:      {store.StatusAdapted, EvidenceArtifact, KindAdaptation},
	StageStructure:  {store.StatusStructured, EvidenceArtifact, KindStructure},
	StageIllustrate: {store.StatusIllustrated, EvidenceArtifact, KindImages},
	StageNarrate:    {store.StatusNarrated, EvidenceArtifact, KindNarration},
	StageRender:     {store.StatusRendered, EvidenceArtifact, KindVideo},
	StagePublish:    {store.StatusCompleted, EvidenceArtifact, KindPublication},
}

// KnownStages returns the catalog stage names in canonical order.
func KnownStages() []string {
	return []string{
		StageDownload, StageTranscribe, StageCorrect, StageIndex, StageTranslate, StageAdapt,
		StageStructure, StageIllustrate, StageNarrate, StageRender, StagePublish,
	}
}
