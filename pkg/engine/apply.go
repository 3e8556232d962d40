package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/illmade-knight/go-bucket-events/pkg/deferred"
)

// Provisioner realises resources of one kind. Create receives the resource's
// properties with every deferred output already resolved, and returns the
// provider outputs. The "id" output is mandatory.
type Provisioner interface {
	Create(ctx context.Context, kind, name string, props Properties) (map[string]any, error)
}

// ProvisionerFunc adapts a function to the Provisioner interface.
type ProvisionerFunc func(ctx context.Context, kind, name string, props Properties) (map[string]any, error)

// Create implements Provisioner.
func (f ProvisionerFunc) Create(ctx context.Context, kind, name string, props Properties) (map[string]any, error) {
	return f(ctx, kind, name, props)
}

// Provisioners maps resource kinds to the provisioner that realises them.
type Provisioners map[string]Provisioner

// ApplyResult records the outcome for one resource.
type ApplyResult struct {
	URN     string
	Outputs map[string]any
	Err     error
}

// Apply realises every declared resource concurrently. A resource waits for
// its parent and explicit dependencies, then for every output referenced in its
// properties. Failures are attributed to the failing resource; its dependents
// fail with ErrDependencyFailed and unrelated resources are unaffected.
func (s *Stack) Apply(ctx context.Context, provisioners Provisioners) ([]ApplyResult, error) {
	resources := s.Resources()
	s.logger.Info().Int("resources", len(resources)).Msg("Starting apply")

	done := make(map[*Resource]chan struct{}, len(resources))
	failed := make(map[*Resource]bool, len(resources))
	var failedMu sync.Mutex
	for _, r := range resources {
		done[r] = make(chan struct{})
	}

	results := make([]ApplyResult, len(resources))
	var wg sync.WaitGroup

	for i, r := range resources {
		wg.Add(1)
		go func(i int, r *Resource) {
			defer wg.Done()
			defer close(done[r])
			log := s.logger.With().Str("resource", r.URN()).Logger()

			fail := func(err error) {
				failedMu.Lock()
				failed[r] = true
				failedMu.Unlock()
				r.reject(err)
				results[i] = ApplyResult{URN: r.URN(), Err: err}
			}

			waitFor := r.DependsOn()
			if r.parent != nil {
				waitFor = append(waitFor, r.parent)
			}
			for _, dep := range waitFor {
				select {
				case <-done[dep]:
				case <-ctx.Done():
					fail(fmt.Errorf("resource %s: %w", r.URN(), ctx.Err()))
					return
				}
				failedMu.Lock()
				depFailed := failed[dep]
				failedMu.Unlock()
				if depFailed {
					log.Warn().Str("dependency", dep.URN()).Msg("Skipping resource because a dependency failed.")
					fail(fmt.Errorf("resource %s: %w: %s", r.URN(), ErrDependencyFailed, dep.URN()))
					return
				}
			}

			resolved, err := resolveValue(ctx, map[string]any(r.props))
			if err != nil {
				fail(fmt.Errorf("resource %s: %w: %w", r.URN(), ErrDependencyFailed, err))
				return
			}

			p, ok := provisioners[r.kind]
			if !ok {
				fail(fmt.Errorf("resource %s: %w %q", r.URN(), ErrNoProvisioner, r.kind))
				return
			}

			log.Info().Msg("Creating resource...")
			outputs, err := p.Create(ctx, r.kind, r.name, Properties(resolved.(map[string]any)))
			if err != nil {
				fail(fmt.Errorf("failed to create %s: %w", r.URN(), err))
				return
			}
			if err := r.resolve(outputs); err != nil {
				fail(err)
				return
			}
			log.Info().Msg("Resource created successfully.")
			results[i] = ApplyResult{URN: r.URN(), Outputs: outputs}
		}(i, r)
	}

	wg.Wait()

	var allErrors []error
	for _, res := range results {
		if res.Err != nil {
			allErrors = append(allErrors, res.Err)
		}
	}
	if len(allErrors) > 0 {
		return results, fmt.Errorf("apply of stack '%s' completed with errors: %w", s.name, errors.Join(allErrors...))
	}

	s.logger.Info().Msg("Apply completed successfully.")
	return results, nil
}

// resolveValue walks maps and slices, awaiting every deferred output it finds.
func resolveValue(ctx context.Context, v any) (any, error) {
	switch t := v.(type) {
	case deferred.Resolvable:
		return t.AwaitAny(ctx)
	case Properties:
		return resolveValue(ctx, map[string]any(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			rv, err := resolveValue(ctx, item)
			if err != nil {
				return nil, fmt.Errorf("property %q: %w", k, err)
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			rv, err := resolveValue(ctx, item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}
