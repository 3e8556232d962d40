package orchestration

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/illmade-knight/go-bucket-events/pkg/bucketevents"
	"github.com/illmade-knight/go-bucket-events/pkg/engine"
	"github.com/illmade-knight/go-bucket-events/pkg/iam"
	"github.com/illmade-knight/go-bucket-events/pkg/servicemanager"
	"github.com/rs/zerolog"
)

// BucketVerifier checks that buckets exist.
type BucketVerifier interface {
	Verify(ctx context.Context, buckets []servicemanager.BucketSpec) error
}

// BindingChecker reports whether a member holds a role on a resource.
type BindingChecker interface {
	CheckResourceIAMBinding(ctx context.Context, binding iam.IAMBinding, member string) (bool, error)
}

// ConductorOption configures a Conductor.
type ConductorOption func(*Conductor)

// WithNamingPolicy selects how aggregate notifications are named.
func WithNamingPolicy(p bucketevents.NamingPolicy) ConductorOption {
	return func(c *Conductor) { c.naming = p }
}

// WithMaxFinalizePasses bounds the number of finalize passes of the stack.
func WithMaxFinalizePasses(n int) ConductorOption {
	return func(c *Conductor) { c.maxPasses = n }
}

// Conductor turns an events architecture into a stack of resources and
// drives it through preview, apply or verify.
type Conductor struct {
	arch      *servicemanager.EventsArchitecture
	logger    zerolog.Logger
	naming    bucketevents.NamingPolicy
	maxPasses int
}

// NewConductor creates and initializes a new Conductor.
func NewConductor(arch *servicemanager.EventsArchitecture, logger zerolog.Logger, opts ...ConductorOption) (*Conductor, error) {
	if arch == nil {
		return nil, errors.New("architecture cannot be nil")
	}
	c := &Conductor{
		arch:   arch,
		logger: logger.With().Str("component", "Conductor").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Declare builds the stack and runs the declaration program, including the
// finalize passes that emit the aggregate bucket notifications.
func (c *Conductor) Declare(ctx context.Context) (*engine.Stack, error) {
	stack := engine.NewStack(c.arch.Name, c.logger)
	if c.maxPasses > 0 {
		stack.MaxFinalizePasses = c.maxPasses
	}
	if err := stack.Run(ctx, c.program); err != nil {
		return nil, err
	}
	return stack, nil
}

func (c *Conductor) functionRegion(f servicemanager.FunctionSpec) string {
	if f.Region != "" {
		return f.Region
	}
	return c.arch.Region
}

func (c *Conductor) program(_ context.Context, stack *engine.Stack) error {
	rc, err := bucketevents.NewRegistrationContext(stack, c.logger, bucketevents.WithNamingPolicy(c.naming))
	if err != nil {
		return err
	}
	rc.Attach(stack)

	buckets := make(map[string]*engine.Resource, len(c.arch.Buckets))
	for _, b := range c.arch.Buckets {
		res, err := bucketevents.DeclareBucket(stack, b.Name, servicemanager.BucketProperties(b))
		if err != nil {
			return err
		}
		buckets[b.Name] = res
	}

	functions := make(map[string]bucketevents.Function, len(c.arch.Functions))
	for _, f := range c.arch.Functions {
		fn, err := bucketevents.DeclareFunction(stack, f.Name, c.functionRegion(f), servicemanager.FunctionProperties(f))
		if err != nil {
			return err
		}
		functions[f.Name] = fn
	}

	var errs []error
	for _, s := range c.arch.Subscriptions {
		bucket, ok := buckets[s.Bucket]
		if !ok {
			errs = append(errs, fmt.Errorf("subscription '%s': unknown bucket '%s'", s.Name, s.Bucket))
			continue
		}
		fn, ok := functions[s.Function]
		if !ok {
			errs = append(errs, fmt.Errorf("subscription '%s': unknown function '%s'", s.Name, s.Function))
			continue
		}
		if _, err := subscribe(rc, s, bucket, fn); err != nil {
			errs = append(errs, fmt.Errorf("subscription '%s': %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

func subscribe(rc *bucketevents.RegistrationContext, s servicemanager.SubscriptionSpec, bucket *engine.Resource, fn bucketevents.Function) (*bucketevents.SubscriptionHandle, error) {
	args := bucketevents.ObjectEventArgs{
		Qualifier:    s.Qualifier,
		FilterPrefix: s.FilterPrefix,
		FilterSuffix: s.FilterSuffix,
	}
	switch s.Helper {
	case "":
		return rc.Subscribe(s.Name, bucket, fn, bucketevents.SubscribeArgs{
			Events:       s.Events,
			FilterPrefix: s.FilterPrefix,
			FilterSuffix: s.FilterSuffix,
		})
	case servicemanager.HelperOnPut:
		return rc.OnPut(s.Name, bucket, fn, args)
	case servicemanager.HelperOnDelete:
		return rc.OnDelete(s.Name, bucket, fn, args)
	case servicemanager.HelperOnObjectCreated:
		return rc.OnObjectCreated(s.Name, bucket, fn, args)
	case servicemanager.HelperOnObjectRemoved:
		return rc.OnObjectRemoved(s.Name, bucket, fn, args)
	default:
		return nil, fmt.Errorf("%w: unknown helper '%s'", bucketevents.ErrInvalidArgument, s.Helper)
	}
}

// Preview declares the stack and writes its plan without touching the cloud.
func (c *Conductor) Preview(ctx context.Context, w io.Writer) error {
	stack, err := c.Declare(ctx)
	if err != nil {
		return err
	}
	return stack.WritePlan(w)
}

// Apply declares the stack and realises it with the given provisioners. When
// writer is non-nil the outcome of every resource is reported to it, even if
// some resources failed.
func (c *Conductor) Apply(ctx context.Context, provisioners engine.Provisioners, writer servicemanager.ProvisionedResourceWriter) error {
	c.logger.Info().Str("architecture", c.arch.Name).Msg("Starting bucket events deployment...")
	stack, err := c.Declare(ctx)
	if err != nil {
		return err
	}

	results, applyErr := stack.Apply(ctx, provisioners)
	if writer != nil {
		report := &servicemanager.ProvisionedResources{Stack: stack.Name(), RunID: stack.RunID()}
		for _, r := range results {
			pr := servicemanager.ProvisionedResource{URN: r.URN, Outputs: r.Outputs}
			if r.Err != nil {
				pr.Error = r.Err.Error()
			}
			report.Resources = append(report.Resources, pr)
		}
		if err := writer.Write(ctx, report); err != nil {
			applyErr = errors.Join(applyErr, err)
		}
	}
	if applyErr != nil {
		return fmt.Errorf("apply of stack '%s' failed: %w", stack.Name(), applyErr)
	}
	c.logger.Info().Int("resources", len(results)).Msg("Bucket events deployment completed successfully.")
	return nil
}

// Verify checks that the architecture's buckets exist and that invokerMember
// may invoke every subscribed function.
func (c *Conductor) Verify(ctx context.Context, buckets BucketVerifier, checker BindingChecker, invokerMember string) error {
	var errs []error
	if err := buckets.Verify(ctx, c.arch.Buckets); err != nil {
		errs = append(errs, err)
	}

	planner := iam.NewRolePlanner(c.logger)
	for _, binding := range planner.PlanInvokerBindings(c.arch) {
		ok, err := checker.CheckResourceIAMBinding(ctx, binding, invokerMember)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("function '%s': %w", binding.ResourceID, err))
		case !ok:
			errs = append(errs, fmt.Errorf("function '%s': %s lacks %s", binding.ResourceID, invokerMember, binding.Role))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("verification failed: %w", errors.Join(errs...))
	}
	c.logger.Info().Msg("Verification completed successfully.")
	return nil
}
