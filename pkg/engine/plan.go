package engine

import (
	"fmt"
	"io"

	"github.com/illmade-knight/go-bucket-events/pkg/deferred"
	"gopkg.in/yaml.v3"
)

// computedPlaceholder stands in for outputs that are not yet known.
const computedPlaceholder = "<computed>"

// PlannedResource is the serialisable view of one declared resource.
type PlannedResource struct {
	Kind       string         `yaml:"kind"`
	Name       string         `yaml:"name"`
	Parent     string         `yaml:"parent,omitempty"`
	DependsOn  []string       `yaml:"depends_on,omitempty"`
	Properties map[string]any `yaml:"properties,omitempty"`
}

// Plan is the serialisable view of a stack.
type Plan struct {
	Stack     string            `yaml:"stack"`
	RunID     string            `yaml:"run_id"`
	Resources []PlannedResource `yaml:"resources"`
}

// Plan snapshots the declared resources. Outputs that are already known are
// inlined; the rest are rendered as "<computed>".
func (s *Stack) Plan() Plan {
	resources := s.Resources()
	plan := Plan{Stack: s.name, RunID: s.runID, Resources: make([]PlannedResource, 0, len(resources))}
	for _, r := range resources {
		pr := PlannedResource{
			Kind:       r.kind,
			Name:       r.name,
			Properties: peekValue(map[string]any(r.props)).(map[string]any),
		}
		if r.parent != nil {
			pr.Parent = r.parent.URN()
		}
		for _, d := range r.dependsOn {
			pr.DependsOn = append(pr.DependsOn, d.URN())
		}
		if len(pr.Properties) == 0 {
			pr.Properties = nil
		}
		plan.Resources = append(plan.Resources, pr)
	}
	return plan
}

// WritePlan renders the stack's plan as YAML.
func (s *Stack) WritePlan(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s.Plan()); err != nil {
		return fmt.Errorf("failed to encode plan for stack '%s': %w", s.name, err)
	}
	return enc.Close()
}

func peekValue(v any) any {
	switch t := v.(type) {
	case deferred.Resolvable:
		if known, ok := t.PeekAny(); ok {
			return known
		}
		return computedPlaceholder
	case Properties:
		return peekValue(map[string]any(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = peekValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = peekValue(item)
		}
		return out
	default:
		return v
	}
}
