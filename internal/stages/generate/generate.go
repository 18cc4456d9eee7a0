// Package generate implements the language-model stages: correct, translate,
// adapt and structure.
//
// Each prompt is built from a system template and a user message carrying
// the unit metadata, the upstream text and, after indexing, the retrieved
// source passages. Templates are embedded; a file named <stage>.txt in the
// configured prompt directory replaces the default. Templates may use
// {source_language}, {target_language}, {target_region} and {audience}.
package generate

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"castline/internal/config"
	langpkg "castline/internal/language"
	"castline/internal/logging"
	"castline/internal/pipeline"
	"castline/internal/segments"
	"castline/internal/services"
	"castline/internal/services/llm"
	"castline/internal/stage"
	"castline/internal/store"
)

//go:embed prompts/*.txt
var defaultPrompts embed.FS

// Completer is the language-model collaborator.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (llm.Response, error)
	Model() string
}

// ArtifactReader reads upstream artifacts.
type ArtifactReader interface {
	ReadCurrent(ctx context.Context, unitID int64, kind string) (string, *store.Artifact, error)
}

// Retriever selects grounding passages.
type Retriever interface {
	Retrieve(ctx context.Context, unit *store.Unit, k int) (segments.Retrieval, error)
}

type stageSpec struct {
	// input is the upstream artifact kind; empty means the raw transcript.
	input     string
	extension string
	json      bool
	retrieve  bool
}

var specs = map[string]stageSpec{
	pipeline.StageCorrect:   {extension: ".txt"},
	pipeline.StageTranslate: {input: pipeline.KindCorrectedTranscript, extension: ".md", retrieve: true},
	pipeline.StageAdapt:     {input: pipeline.KindTranslation, extension: ".md", retrieve: true},
	pipeline.StageStructure: {input: pipeline.KindAdaptation, extension: ".json", json: true, retrieve: true},
}

// Stages lists the stage names served by this package.
func Stages() []string {
	return []string{pipeline.StageCorrect, pipeline.StageTranslate, pipeline.StageAdapt, pipeline.StageStructure}
}

// Config carries the settings shared by the generation handlers.
type Config struct {
	Localization config.Localization
	PromptDir    string
	TopK         int
}

// Handler is one language-model stage.
type Handler struct {
	name      string
	spec      stageSpec
	cfg       Config
	client    Completer
	artifacts ArtifactReader
	retriever Retriever
	logger    *slog.Logger
}

// New constructs the handler for stage name.
func New(name string, cfg Config, client Completer, reader ArtifactReader, retriever Retriever, logger *slog.Logger) (*Handler, error) {
	spec, ok := specs[name]
	if !ok {
		return nil, fmt.Errorf("generate: %w: %s", pipeline.ErrUnknownStage, name)
	}
	return &Handler{
		name:      name,
		spec:      spec,
		cfg:       cfg,
		client:    client,
		artifacts: reader,
		retriever: retriever,
		logger:    logging.NewComponentLogger(logger, name),
	}, nil
}

// NewAll constructs every generation handler.
func NewAll(cfg Config, client Completer, reader ArtifactReader, retriever Retriever, logger *slog.Logger) ([]*Handler, error) {
	handlers := make([]*Handler, 0, len(specs))
	for _, name := range Stages() {
		h, err := New(name, cfg, client, reader, retriever, logger)
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

// HealthCheck reports whether a model client is configured. It does not
// call the model.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	if h.client == nil {
		return stage.Unhealthy(h.name, "language model not configured")
	}
	health := stage.Healthy(h.name)
	health.Detail = "model " + h.client.Model()
	return health
}

// Prompt assembles the stage input for the unit.
func (h *Handler) Prompt(ctx context.Context, unit *store.Unit) (stage.Prompt, error) {
	system, err := h.systemPrompt()
	if err != nil {
		return stage.Prompt{}, err
	}
	input, err := h.input(ctx, unit)
	if err != nil {
		return stage.Prompt{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Episode: %s\n", strings.TrimSpace(unit.Title))
	if topic := strings.TrimSpace(unit.Topic); topic != "" {
		fmt.Fprintf(&b, "Topic: %s\n", topic)
	}
	fmt.Fprintf(&b, "Source language: %s\n", langpkg.DisplayName(h.cfg.Localization.SourceLanguage))
	fmt.Fprintf(&b, "Target audience: %s\n", h.audience())
	b.WriteString("\n## Input\n\n")
	b.WriteString(strings.TrimSpace(input))

	if h.spec.retrieve && h.retriever != nil {
		retrieval, err := h.retriever.Retrieve(ctx, unit, h.cfg.TopK)
		if err != nil {
			return stage.Prompt{}, fmt.Errorf("retrieve passages: %w", err)
		}
		logging.WithContext(ctx, h.logger).Debug("passages retrieved",
			logging.String("query", retrieval.Query),
			logging.Int("hits", retrieval.Hits),
			logging.Int("segments", len(retrieval.Segments)),
			logging.Bool("fallback", retrieval.Fallback),
		)
		if passages := retrieval.Context(); passages != "" {
			b.WriteString("\n\n## Key passages from the source\n\n")
			b.WriteString(passages)
		}
	}
	b.WriteString("\n")

	return stage.Prompt{System: system, User: b.String(), Extension: h.spec.extension}, nil
}

func (h *Handler) input(ctx context.Context, unit *store.Unit) (string, error) {
	if h.spec.input == "" {
		if strings.TrimSpace(unit.TranscriptPath) == "" {
			return "", services.Wrap(services.ErrValidation, h.name, "load input", "unit has no transcript", nil)
		}
		data, err := os.ReadFile(unit.TranscriptPath)
		if err != nil {
			return "", services.Wrap(services.ErrNotFound, h.name, "load input", "read transcript", err)
		}
		return string(data), nil
	}
	text, _, err := h.artifacts.ReadCurrent(ctx, unit.ID, h.spec.input)
	if err != nil {
		return "", services.Wrap(services.ErrNotFound, h.name, "load input", h.spec.input, err)
	}
	return text, nil
}

func (h *Handler) audience() string {
	return langpkg.Audience(h.cfg.Localization.TargetLanguage, h.cfg.Localization.TargetRegion)
}

func (h *Handler) systemPrompt() (string, error) {
	template, err := h.loadTemplate()
	if err != nil {
		return "", err
	}
	replacer := strings.NewReplacer(
		"{source_language}", langpkg.DisplayName(h.cfg.Localization.SourceLanguage),
		"{target_language}", langpkg.DisplayName(h.cfg.Localization.TargetLanguage),
		"{target_region}", langpkg.RegionName(h.cfg.Localization.TargetRegion),
		"{audience}", h.audience(),
	)
	return strings.TrimSpace(replacer.Replace(template)), nil
}

func (h *Handler) loadTemplate() (string, error) {
	if dir := strings.TrimSpace(h.cfg.PromptDir); dir != "" {
		data, err := os.ReadFile(filepath.Join(dir, h.name+".txt"))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", services.Wrap(services.ErrConfiguration, h.name, "load prompt", "", err)
		}
	}
	data, err := defaultPrompts.ReadFile("prompts/" + h.name + ".txt")
	if err != nil {
		return "", fmt.Errorf("embedded prompt %s: %w", h.name, err)
	}
	return string(data), nil
}

// Generate calls the model and writes its answer to dest.
func (h *Handler) Generate(ctx context.Context, unit *store.Unit, prompt stage.Prompt, dest string) (stage.Usage, error) {
	if h.client == nil {
		return stage.Usage{}, services.Wrap(services.ErrConfiguration, h.name, "generate", "language model not configured", nil)
	}
	resp, err := h.client.Complete(ctx, llm.Request{System: prompt.System, User: prompt.User, JSON: h.spec.json})
	usage := stage.Usage{
		InputUnits:  resp.InputTokens,
		OutputUnits: resp.OutputTokens,
		Model:       resp.Model,
		BilledCost:  resp.BilledCost,
	}
	if usage.Model == "" {
		usage.Model = h.client.Model()
	}
	if err != nil {
		return usage, err
	}

	content := strings.TrimSpace(resp.Content)
	if h.spec.json {
		content, err = normalizeStructure(content)
		if err != nil {
			return usage, services.Wrap(services.ErrExternalTool, h.name, "parse structure", "model returned invalid structure", err)
		}
	}
	if err := os.WriteFile(dest, []byte(content+"\n"), 0o644); err != nil {
		return usage, fmt.Errorf("write %s output: %w", h.name, err)
	}
	logging.WithContext(ctx, h.logger).Info("generation written",
		logging.String(logging.FieldEventType, "generation_written"),
		logging.String("model", usage.Model),
		logging.Int64("input_tokens", usage.InputUnits),
		logging.Int64("output_tokens", usage.OutputUnits),
		logging.Int("bytes", len(content)),
	)
	return usage, nil
}

// Chapter is one section of the publication plan.
type Chapter struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// Structure is the publication plan produced by the structure stage and
// consumed by the media stages.
type Structure struct {
	Title        string    `json:"title"`
	Summary      string    `json:"summary"`
	Chapters     []Chapter `json:"chapters"`
	ImagePrompts []string  `json:"image_prompts"`
	Narration    string    `json:"narration"`
	Tags         []string  `json:"tags,omitempty"`
}

// ParseStructure decodes a structure document, tolerating code fences and
// surrounding prose.
func ParseStructure(content string) (Structure, error) {
	var s Structure
	if err := llm.DecodeLLMJSON(content, &s); err != nil {
		return Structure{}, err
	}
	if strings.TrimSpace(s.Title) == "" {
		return Structure{}, errors.New("structure has no title")
	}
	if len(s.Chapters) == 0 {
		return Structure{}, errors.New("structure has no chapters")
	}
	return s, nil
}

// LoadStructure reads a structure artifact from disk.
func LoadStructure(path string) (Structure, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Structure{}, err
	}
	return ParseStructure(string(data))
}

func normalizeStructure(content string) (string, error) {
	s, err := ParseStructure(content)
	if err != nil {
		return "", err
	}
	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
