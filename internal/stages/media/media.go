// Package media implements the publication stages: illustrate, narrate,
// render and publish.
//
// Each stage hands a JSON manifest to an external command (see
// services/command). The manifest names the upstream artifacts with their
// hashes, so the prompt hash changes whenever an upstream output is
// regenerated. Publishing without a configured command assembles a local
// bundle under the published directory instead.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"castline/internal/config"
	"castline/internal/logging"
	"castline/internal/pipeline"
	"castline/internal/services"
	"castline/internal/services/command"
	"castline/internal/stage"
	"castline/internal/stages/generate"
	"castline/internal/store"
)

// ArtifactReader resolves the current artifact of a kind.
type ArtifactReader interface {
	Current(ctx context.Context, unitID int64, kind string) (*store.Artifact, error)
}

// Runner is the command collaborator.
type Runner interface {
	Configured() bool
	Available() error
	Command() string
	Run(ctx context.Context, manifest command.Manifest) (command.Usage, error)
}

type stageSpec struct {
	// inputs lists the upstream kinds in preference order.
	inputs []string
	// required is the number of inputs that must exist.
	required  int
	extension string
}

var specs = map[string]stageSpec{
	pipeline.StageIllustrate: {
		inputs:    []string{pipeline.KindStructure},
		required:  1,
		extension: ".json",
	},
	pipeline.StageNarrate: {
		inputs:    []string{pipeline.KindStructure, pipeline.KindAdaptation, pipeline.KindTranslation},
		required:  1,
		extension: ".mp3",
	},
	pipeline.StageRender: {
		inputs:    []string{pipeline.KindImages, pipeline.KindNarration, pipeline.KindStructure},
		required:  1,
		extension: ".mp4",
	},
	pipeline.StagePublish: {
		inputs: []string{
			pipeline.KindCorrectedTranscript,
			pipeline.KindTranslation,
			pipeline.KindAdaptation,
			pipeline.KindStructure,
			pipeline.KindImages,
			pipeline.KindNarration,
			pipeline.KindVideo,
		},
		required:  1,
		extension: ".json",
	},
}

// Stages lists the stage names served by this package.
func Stages() []string {
	return []string{pipeline.StageIllustrate, pipeline.StageNarrate, pipeline.StageRender, pipeline.StagePublish}
}

// Config carries the settings shared by the media handlers.
type Config struct {
	Localization config.Localization
	// PublishedDir receives local bundles when publish has no command.
	PublishedDir string
}

// Handler is one media stage.
type Handler struct {
	name      string
	spec      stageSpec
	cfg       Config
	runner    Runner
	artifacts ArtifactReader
	logger    *slog.Logger
}

// New constructs the handler for stage name.
func New(name string, cfg Config, runner Runner, reader ArtifactReader, logger *slog.Logger) (*Handler, error) {
	spec, ok := specs[name]
	if !ok {
		return nil, fmt.Errorf("media: %w: %s", pipeline.ErrUnknownStage, name)
	}
	return &Handler{
		name:      name,
		spec:      spec,
		cfg:       cfg,
		runner:    runner,
		artifacts: reader,
		logger:    logging.NewComponentLogger(logger, name),
	}, nil
}

// NewAll constructs every media handler from the configured commands.
func NewAll(cfg Config, commands config.Media, reader ArtifactReader, logger *slog.Logger) ([]*Handler, error) {
	byStage := map[string]config.Command{
		pipeline.StageIllustrate: commands.Illustrate,
		pipeline.StageNarrate:    commands.Narrate,
		pipeline.StageRender:     commands.Render,
		pipeline.StagePublish:    commands.Publish,
	}
	handlers := make([]*Handler, 0, len(byStage))
	for _, name := range Stages() {
		h, err := New(name, cfg, command.New(name, byStage[name]), reader, logger)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, h)
	}
	return handlers, nil
}

func (h *Handler) Name() string { return h.name }

func (h *Handler) SetLogger(logger *slog.Logger) {
	h.logger = logging.NewComponentLogger(logger, h.name)
}

func (h *Handler) localBundle() bool {
	return h.name == pipeline.StagePublish && (h.runner == nil || !h.runner.Configured())
}

// HealthCheck verifies that the stage command resolves on PATH.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	if h.localBundle() {
		health := stage.Healthy(h.name)
		health.Detail = "local bundle in " + h.cfg.PublishedDir
		return health
	}
	if h.runner == nil {
		return stage.Unhealthy(h.name, "no command configured")
	}
	if err := h.runner.Available(); err != nil {
		return stage.Unhealthy(h.name, services.Details(err).Message)
	}
	health := stage.Healthy(h.name)
	health.Detail = "command " + h.runner.Command()
	return health
}

// request is the prompt document. Its JSON encoding is the prompt text.
type request struct {
	Stage          string          `json:"stage"`
	Title          string          `json:"title"`
	TargetLanguage string          `json:"target_language,omitempty"`
	TargetRegion   string          `json:"target_region,omitempty"`
	Inputs         []command.Input `json:"inputs"`
	ImagePrompts   []string        `json:"image_prompts,omitempty"`
	Narration      string          `json:"narration,omitempty"`
	Summary        string          `json:"summary,omitempty"`
	Chapters       []string        `json:"chapters,omitempty"`
	Tags           []string        `json:"tags,omitempty"`
}

// Prompt describes the upstream artifacts the stage consumes.
func (h *Handler) Prompt(ctx context.Context, unit *store.Unit) (stage.Prompt, error) {
	req := request{
		Stage:          h.name,
		Title:          strings.TrimSpace(unit.Title),
		TargetLanguage: h.cfg.Localization.TargetLanguage,
		TargetRegion:   h.cfg.Localization.TargetRegion,
	}
	for _, kind := range h.spec.inputs {
		artifact, err := h.artifacts.Current(ctx, unit.ID, kind)
		if err != nil {
			return stage.Prompt{}, fmt.Errorf("load %s artifact: %w", kind, err)
		}
		if artifact == nil {
			continue
		}
		req.Inputs = append(req.Inputs, command.Input{Kind: kind, Path: artifact.Path, Hash: artifact.PromptHash})
	}
	if len(req.Inputs) < h.spec.required {
		return stage.Prompt{}, services.Wrap(services.ErrNotFound, h.name, "load inputs",
			"no upstream artifact among "+strings.Join(h.spec.inputs, ", "), nil)
	}
	if err := h.describe(&req); err != nil {
		return stage.Prompt{}, err
	}

	user, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return stage.Prompt{}, fmt.Errorf("encode %s request: %w", h.name, err)
	}
	return stage.Prompt{
		System:    h.name + " for " + h.cfg.Localization.TargetLanguage,
		User:      string(user),
		Extension: h.spec.extension,
	}, nil
}

// describe adds the stage-specific fields read from the upstream texts.
func (h *Handler) describe(req *request) error {
	structure, hasStructure, err := loadStructure(req.Inputs)
	if err != nil {
		return services.Wrap(services.ErrValidation, h.name, "load structure", "", err)
	}
	switch h.name {
	case pipeline.StageIllustrate:
		if len(structure.ImagePrompts) == 0 {
			return services.Wrap(services.ErrValidation, h.name, "load structure", "structure has no image prompts", nil)
		}
		req.ImagePrompts = structure.ImagePrompts
	case pipeline.StageNarrate:
		if hasStructure && strings.TrimSpace(structure.Narration) != "" {
			req.Narration = strings.TrimSpace(structure.Narration)
			return nil
		}
		for _, in := range req.Inputs {
			if in.Kind == pipeline.KindStructure {
				continue
			}
			data, err := os.ReadFile(in.Path)
			if err != nil {
				return services.Wrap(services.ErrNotFound, h.name, "load narration", in.Kind, err)
			}
			req.Narration = strings.TrimSpace(string(data))
			return nil
		}
		return services.Wrap(services.ErrValidation, h.name, "load narration", "no narration text available", nil)
	case pipeline.StagePublish:
		if hasStructure {
			req.Summary = structure.Summary
			req.Tags = structure.Tags
			for _, chapter := range structure.Chapters {
				req.Chapters = append(req.Chapters, chapter.Title)
			}
		}
	}
	return nil
}

func loadStructure(inputs []command.Input) (generate.Structure, bool, error) {
	for _, in := range inputs {
		if in.Kind != pipeline.KindStructure {
			continue
		}
		s, err := generate.LoadStructure(in.Path)
		if err != nil {
			return generate.Structure{}, false, err
		}
		return s, true, nil
	}
	return generate.Structure{}, false, nil
}

// Generate runs the stage command, or assembles the local bundle for an
// unconfigured publish stage.
func (h *Handler) Generate(ctx context.Context, unit *store.Unit, prompt stage.Prompt, dest string) (stage.Usage, error) {
	var req request
	if err := json.Unmarshal([]byte(prompt.User), &req); err != nil {
		return stage.Usage{}, services.Wrap(services.ErrValidation, h.name, "decode request", "", err)
	}
	if h.localBundle() {
		return h.publishLocal(ctx, unit, req, dest)
	}
	if h.runner == nil || !h.runner.Configured() {
		return stage.Usage{}, services.Wrap(services.ErrConfiguration, h.name, "generate", "no command configured", nil)
	}

	manifest := command.Manifest{
		UnitID:         unit.ID,
		Title:          req.Title,
		Stage:          h.name,
		TargetLanguage: req.TargetLanguage,
		TargetRegion:   req.TargetRegion,
		Prompt:         prompt.User,
		Inputs:         req.Inputs,
		Output:         dest,
		Extra:          map[string]string{"assets_dir": filepath.Dir(dest)},
	}
	result, err := h.runner.Run(ctx, manifest)
	usage := stage.Usage{
		InputUnits:  result.InputUnits,
		OutputUnits: result.OutputUnits,
		Model:       result.Model,
		BilledCost:  result.Cost,
	}
	if usage.Model == "" {
		usage.Model = h.runner.Command()
	}
	if err != nil {
		return usage, err
	}
	logging.WithContext(ctx, h.logger).Info("media written",
		logging.String(logging.FieldEventType, "media_written"),
		logging.String("command", h.runner.Command()),
		logging.Int("inputs", len(req.Inputs)),
		logging.Int64("output_units", usage.OutputUnits),
	)
	return usage, nil
}
