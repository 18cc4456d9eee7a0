package pipeline

import (
	"fmt"
	"strings"

	"castline/internal/store"
)

// Version is an ordered stage chain plus the status ordering it implies.
type Version struct {
	Name     string
	Stages   []Stage
	ordinals map[store.Status]int
}

// Build composes a version from catalog stage names. The first stage starts
// at new, each following stage requires the previous postcondition, and the
// chain must end at completed.
func Build(name string, stageNames []string) (*Version, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("pipeline version name is required")
	}
	if len(stageNames) == 0 {
		return nil, fmt.Errorf("pipeline %q: no stages", name)
	}
	stages := make([]Stage, 0, len(stageNames))
	prev := store.StatusNew
	for _, raw := range stageNames {
		stageName := strings.ToLower(strings.TrimSpace(raw))
		tmpl, ok := catalog[stageName]
		if !ok {
			return nil, fmt.Errorf("pipeline %q: %w %q", name, ErrUnknownStage, raw)
		}
		stages = append(stages, Stage{
			Name:          stageName,
			Precondition:  prev,
			Postcondition: tmpl.post,
			Evidence:      tmpl.evidence,
			ArtifactKind:  tmpl.artifactKind,
		})
		prev = tmpl.post
	}
	return NewVersion(name, stages)
}

// NewVersion validates an explicit stage chain and derives its ordinals.
func NewVersion(name string, stages []Stage) (*Version, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("pipeline %q: no stages", name)
	}
	ordinals := map[store.Status]int{store.StatusNew: 0}
	names := make(map[string]struct{}, len(stages))
	prev := store.StatusNew
	for i, st := range stages {
		if _, dup := names[st.Name]; dup {
			return nil, fmt.Errorf("pipeline %q: stage %q listed twice", name, st.Name)
		}
		names[st.Name] = struct{}{}
		if st.Precondition != prev {
			return nil, fmt.Errorf("pipeline %q: stage %q precondition %q does not follow %q", name, st.Name, st.Precondition, prev)
		}
		if st.Postcondition == store.StatusFailed || st.Postcondition == store.StatusNew {
			return nil, fmt.Errorf("pipeline %q: stage %q has invalid postcondition %q", name, st.Name, st.Postcondition)
		}
		if _, seen := ordinals[st.Postcondition]; seen {
			return nil, fmt.Errorf("pipeline %q: status %q reached twice", name, st.Postcondition)
		}
		switch st.Evidence {
		case EvidenceFile:
		case EvidenceArtifact:
			if strings.TrimSpace(st.ArtifactKind) == "" {
				return nil, fmt.Errorf("pipeline %q: generation stage %q needs an artifact kind", name, st.Name)
			}
		default:
			return nil, fmt.Errorf("pipeline %q: stage %q has unknown evidence %q", name, st.Name, st.Evidence)
		}
		ordinals[st.Postcondition] = i + 1
		prev = st.Postcondition
	}
	if prev != store.StatusCompleted {
		return nil, fmt.Errorf("pipeline %q: last stage must reach %q, reaches %q", name, store.StatusCompleted, prev)
	}
	return &Version{Name: name, Stages: stages, ordinals: ordinals}, nil
}

// Ordinal returns the position of a status in this version.
func (v *Version) Ordinal(status store.Status) (int, bool) {
	o, ok := v.ordinals[status]
	return o, ok
}

// Compare orders two statuses: -1 when a precedes b, 0 when equal, 1 when a
// follows b. Statuses outside the version (including failed) sort before new.
func (v *Version) Compare(a, b store.Status) int {
	oa, okA := v.ordinals[a]
	ob, okB := v.ordinals[b]
	if !okA {
		oa = -1
	}
	if !okB {
		ob = -1
	}
	switch {
	case oa < ob:
		return -1
	case oa > ob:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether status has reached target.
func (v *Version) AtLeast(status, target store.Status) bool {
	return v.Compare(status, target) >= 0
}

// Max returns the later of two statuses.
func (v *Version) Max(a, b store.Status) store.Status {
	if v.Compare(a, b) >= 0 {
		return a
	}
	return b
}

// Stage looks up a stage by name.
func (v *Version) Stage(name string) (Stage, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, st := range v.Stages {
		if st.Name == name {
			return st, nil
		}
	}
	return Stage{}, fmt.Errorf("%w %q in pipeline %q", ErrUnknownStage, name, v.Name)
}

// Next returns the first stage not yet completed at checkpoint.
func (v *Version) Next(checkpoint store.Status) (Stage, bool) {
	remaining := v.Remaining(checkpoint)
	if len(remaining) == 0 {
		return Stage{}, false
	}
	return remaining[0], true
}

// Remaining returns the stages whose postcondition lies beyond checkpoint,
// in pipeline order.
func (v *Version) Remaining(checkpoint store.Status) []Stage {
	var out []Stage
	for _, st := range v.Stages {
		if v.Compare(st.Postcondition, checkpoint) > 0 {
			out = append(out, st)
		}
	}
	return out
}

// StageNames lists the version's stage names in order.
func (v *Version) StageNames() []string {
	names := make([]string, len(v.Stages))
	for i, st := range v.Stages {
		names[i] = st.Name
	}
	return names
}

// Statuses lists the version's statuses in order, starting at new.
func (v *Version) Statuses() []store.Status {
	out := make([]store.Status, 0, len(v.Stages)+1)
	out = append(out, store.StatusNew)
	for _, st := range v.Stages {
		out = append(out, st.Postcondition)
	}
	return out
}
