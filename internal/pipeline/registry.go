package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Built-in version names.
const (
	VersionFull = "full"
	VersionText = "text"
)

// Registry holds the pipeline versions available to units.
type Registry struct {
	versions    map[string]*Version
	defaultName string
}

// DefaultRegistry returns the built-in versions with "full" as default.
func DefaultRegistry() *Registry {
	full, err := Build(VersionFull, KnownStages())
	if err != nil {
		panic(err)
	}
	text, err := Build(VersionText, []string{
		StageDownload, StageTranscribe, StageCorrect, StageIndex,
		StageTranslate, StageAdapt, StageStructure, StagePublish,
	})
	if err != nil {
		panic(err)
	}
	return &Registry{
		versions:    map[string]*Version{full.Name: full, text.Name: text},
		defaultName: VersionFull,
	}
}

type definitionsFile struct {
	Versions []struct {
		Name   string   `yaml:"name"`
		Stages []string `yaml:"stages"`
	} `yaml:"versions"`
}

// LoadRegistry builds the registry from the built-in versions plus an
// optional YAML definitions file, then selects the default version.
// A missing definitions file is an error; an empty path is allowed.
func LoadRegistry(defaultVersion, definitionsPath string) (*Registry, error) {
	reg := DefaultRegistry()
	if path := strings.TrimSpace(definitionsPath); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("pipeline definitions %q not found", path)
			}
			return nil, fmt.Errorf("read pipeline definitions: %w", err)
		}
		if err := reg.LoadDefinitions(data); err != nil {
			return nil, fmt.Errorf("pipeline definitions %q: %w", path, err)
		}
	}
	if strings.TrimSpace(defaultVersion) != "" {
		if err := reg.SetDefault(defaultVersion); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// LoadDefinitions adds or replaces versions from YAML of the form:
//
//	versions:
//	  - name: audio
//	    stages: [download, transcribe, correct, index, translate, narrate, publish]
func (r *Registry) LoadDefinitions(data []byte) error {
	var defs definitionsFile
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	for _, def := range defs.Versions {
		v, err := Build(def.Name, def.Stages)
		if err != nil {
			return err
		}
		r.versions[v.Name] = v
	}
	return nil
}

// SetDefault selects the version used when a unit names none.
func (r *Registry) SetDefault(name string) error {
	name = strings.TrimSpace(name)
	if _, ok := r.versions[name]; !ok {
		return fmt.Errorf("%w %q", ErrUnknownVersion, name)
	}
	r.defaultName = name
	return nil
}

// Default returns the default version name.
func (r *Registry) Default() string {
	return r.defaultName
}

// Version resolves a version by name; an empty name selects the default.
func (r *Registry) Version(name string) (*Version, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = r.defaultName
	}
	v, ok := r.versions[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownVersion, name)
	}
	return v, nil
}

// Names lists registered version names alphabetically.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.versions))
	for name := range r.versions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
