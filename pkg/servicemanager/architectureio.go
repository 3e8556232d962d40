package servicemanager

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ArchitectureLoader loads the events architecture from a given source.
type ArchitectureLoader interface {
	LoadArchitecture(ctx context.Context) (*EventsArchitecture, error)
}

// ArchitectureOption adjusts a parsed architecture before it is validated.
type ArchitectureOption func(*EventsArchitecture)

// WithProjectID overrides the file's project_id. An empty id leaves it unchanged.
func WithProjectID(projectID string) ArchitectureOption {
	return func(a *EventsArchitecture) {
		if projectID != "" {
			a.ProjectID = projectID
		}
	}
}

// YAMLArchitectureLoader reads an architecture from a YAML file on disk.
type YAMLArchitectureLoader struct {
	path string
	opts []ArchitectureOption
}

// NewYAMLArchitectureLoader creates a loader for the file at path.
func NewYAMLArchitectureLoader(path string, opts ...ArchitectureOption) *YAMLArchitectureLoader {
	return &YAMLArchitectureLoader{path: path, opts: opts}
}

// LoadArchitecture reads, parses and validates the file.
func (l *YAMLArchitectureLoader) LoadArchitecture(_ context.Context) (*EventsArchitecture, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read architecture file '%s': %w", l.path, err)
	}
	return ParseArchitecture(data, l.opts...)
}

// ParseArchitecture parses YAML bytes, applies opts and validates the result.
func ParseArchitecture(data []byte, opts ...ArchitectureOption) (*EventsArchitecture, error) {
	arch := &EventsArchitecture{}
	if err := yaml.Unmarshal(data, arch); err != nil {
		return nil, fmt.Errorf("failed to parse architecture yaml: %w", err)
	}
	for _, opt := range opts {
		opt(arch)
	}
	if err := arch.Validate(); err != nil {
		return nil, fmt.Errorf("architecture validation failed: %w", err)
	}
	return arch, nil
}
