package servicemanager

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// ProvisionedResource records the outcome for one applied resource.
type ProvisionedResource struct {
	URN     string         `yaml:"urn"`
	Outputs map[string]any `yaml:"outputs,omitempty"`
	Error   string         `yaml:"error,omitempty"`
}

// ProvisionedResources is the report written after an apply.
type ProvisionedResources struct {
	Stack     string                `yaml:"stack"`
	RunID     string                `yaml:"run_id"`
	Resources []ProvisionedResource `yaml:"resources"`
}

// ProvisionedResourceWriter defines the interface for writing the results of a provisioning operation.
type ProvisionedResourceWriter interface {
	// Write records the details of the provisioned resources.
	Write(ctx context.Context, resources *ProvisionedResources) error
	// Close any underlying connections or file handles.
	Close() error
}

// YAMLResourceWriter writes reports as YAML documents.
type YAMLResourceWriter struct {
	w io.Writer
}

// NewYAMLResourceWriter creates a writer over w. Close closes w if it is an io.Closer.
func NewYAMLResourceWriter(w io.Writer) *YAMLResourceWriter {
	return &YAMLResourceWriter{w: w}
}

func (y *YAMLResourceWriter) Write(_ context.Context, resources *ProvisionedResources) error {
	enc := yaml.NewEncoder(y.w)
	enc.SetIndent(2)
	if err := enc.Encode(resources); err != nil {
		return fmt.Errorf("failed to write provisioned resources: %w", err)
	}
	return enc.Close()
}

func (y *YAMLResourceWriter) Close() error {
	if c, ok := y.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
