package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultMaxFinalizePasses bounds how often finalize hooks are re-fired.
const DefaultMaxFinalizePasses = 8

// ErrFinalizeNotQuiescent is returned by Run when finalize hooks keep declaring
// new resources after the pass limit is reached.
var ErrFinalizeNotQuiescent = errors.New("engine: finalize hooks did not settle")

// FinalizeHook runs once the declaration program has returned. It may run
// several times in one Run, so it must be idempotent.
type FinalizeHook func(ctx context.Context) error

// Stack records resource declarations for one program run and realises them.
type Stack struct {
	name   string
	runID  string
	logger zerolog.Logger

	// MaxFinalizePasses overrides DefaultMaxFinalizePasses when positive.
	MaxFinalizePasses int

	mu        sync.Mutex
	resources []*Resource
	byURN     map[string]*Resource
	hooks     []FinalizeHook
}

// NewStack creates an empty stack.
func NewStack(name string, logger zerolog.Logger) *Stack {
	runID := uuid.New().String()
	return &Stack{
		name:   name,
		runID:  runID,
		logger: logger.With().Str("component", "Stack").Str("stack", name).Str("run_id", runID).Logger(),
		byURN:  make(map[string]*Resource),
	}
}

// Name returns the stack name.
func (s *Stack) Name() string { return s.name }

// RunID returns the unique identifier of this program run.
func (s *Stack) RunID() string { return s.runID }

// Declare records a new resource. It fails with ErrDeclaration if the kind or
// name is empty, if the (kind, name) pair is already taken, or if the parent
// or a dependency was not declared on this stack.
func (s *Stack) Declare(kind, name string, props Properties, opts ...ResourceOption) (*Resource, error) {
	if kind == "" || name == "" {
		return nil, fmt.Errorf("%w: kind and name are required (kind=%q, name=%q)", ErrDeclaration, kind, name)
	}
	var o resourceOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.parent != nil && o.parent.owner != s {
		return nil, fmt.Errorf("%w: parent %s of %s/%s belongs to another stack", ErrDeclaration, o.parent.URN(), kind, name)
	}
	for _, d := range o.dependsOn {
		if d.owner != s {
			return nil, fmt.Errorf("%w: dependency %s of %s/%s belongs to another stack", ErrDeclaration, d.URN(), kind, name)
		}
	}
	if props == nil {
		props = Properties{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := newResource(s, kind, name, props, o)
	if _, exists := s.byURN[r.URN()]; exists {
		return nil, fmt.Errorf("%w: duplicate resource %s", ErrDeclaration, r.URN())
	}
	s.byURN[r.URN()] = r
	s.resources = append(s.resources, r)

	s.logger.Debug().Str("resource", r.URN()).Int("depends_on", len(o.dependsOn)).Msg("Declared resource")
	return r, nil
}

// Resources returns all declared resources in declaration order.
func (s *Stack) Resources() []*Resource {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Resource, len(s.resources))
	copy(out, s.resources)
	return out
}

// Lookup finds a declared resource by kind and name.
func (s *Stack) Lookup(kind, name string) (*Resource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byURN[kind+"/"+name]
	return r, ok
}

// OnFinalize registers a hook to run after the declaration program returns.
func (s *Stack) OnFinalize(hook FinalizeHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

func (s *Stack) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.resources)
}

// Run executes the declaration program and then fires the finalize hooks.
// Because hooks may themselves declare resources, they are fired again after
// every pass that grew the stack, until a pass declares nothing new.
func (s *Stack) Run(ctx context.Context, program func(ctx context.Context, s *Stack) error) error {
	s.logger.Info().Msg("Running declaration program...")
	if err := program(ctx, s); err != nil {
		return fmt.Errorf("declaration program for stack '%s' failed: %w", s.name, err)
	}

	maxPasses := s.MaxFinalizePasses
	if maxPasses <= 0 {
		maxPasses = DefaultMaxFinalizePasses
	}

	for pass := 1; ; pass++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		before := s.count()

		s.mu.Lock()
		hooks := make([]FinalizeHook, len(s.hooks))
		copy(hooks, s.hooks)
		s.mu.Unlock()

		var hookErrs []error
		for _, hook := range hooks {
			if err := hook(ctx); err != nil {
				hookErrs = append(hookErrs, err)
			}
		}
		if len(hookErrs) > 0 {
			return fmt.Errorf("finalize pass %d failed: %w", pass, errors.Join(hookErrs...))
		}

		declared := s.count() - before
		s.logger.Debug().Int("pass", pass).Int("declared", declared).Msg("Finalize pass complete")
		if declared == 0 {
			break
		}
		if pass >= maxPasses {
			return fmt.Errorf("%w after %d passes", ErrFinalizeNotQuiescent, pass)
		}
	}

	s.logger.Info().Int("resources", s.count()).Msg("Declaration phase complete.")
	return nil
}
