package bucketevents

import (
	"fmt"

	"github.com/illmade-knight/go-bucket-events/pkg/deferred"
	"github.com/illmade-knight/go-bucket-events/pkg/engine"
)

// SubscribeArgs describes which events to deliver.
type SubscribeArgs struct {
	// Events is the non-empty list of canonical event names, e.g. "created:*".
	Events       []string
	FilterPrefix string
	FilterSuffix string
}

// SubscriptionHandle is returned by Subscribe. The aggregate notification is
// not exposed because it is only declared when the registry is flushed.
type SubscriptionHandle struct {
	Name       string
	Bucket     *engine.Resource
	Function   Function
	Permission *engine.Resource
}

// Subscribe declares an invoke permission for fn immediately and registers the
// subscription for the bucket's aggregate notification.
func (rc *RegistrationContext) Subscribe(name string, bucket *engine.Resource, fn Function, args SubscribeArgs, opts ...engine.ResourceOption) (*SubscriptionHandle, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: subscription name is empty", ErrInvalidArgument)
	}
	if bucket == nil {
		return nil, fmt.Errorf("%w: subscription '%s' has no bucket", ErrInvalidArgument, name)
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: subscription '%s' has no function", ErrInvalidArgument, name)
	}
	if len(args.Events) == 0 {
		return nil, fmt.Errorf("%w: subscription '%s' has no events", ErrInvalidArgument, name)
	}
	for _, e := range args.Events {
		if e == "" {
			return nil, fmt.Errorf("%w: subscription '%s' has an empty event name", ErrInvalidArgument, name)
		}
	}

	permProps := engine.Properties{
		"function":       fn.Name(),
		"location":       fn.Location(),
		"functionRef":    fn.Ref(),
		"principal":      EventSourcePrincipal,
		"sourceResource": deferred.Map(bucket.ID(), BucketResourceName),
	}
	perm, err := rc.declarer.Declare(KindInvokePermission, name, permProps, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to declare invoke permission for subscription '%s': %w", name, err)
	}

	events := make([]string, len(args.Events))
	copy(events, args.Events)
	req := SubscriptionRequest{
		Name:         name,
		Events:       events,
		FilterPrefix: args.FilterPrefix,
		FilterSuffix: args.FilterSuffix,
		Target:       fn.Ref(),
		Permission:   perm,
	}
	if af, ok := fn.(AudienceFunction); ok {
		req.Audience = af.Audience()
	}
	rc.Register(bucket, req)

	rc.logger.Debug().Str("subscription", name).Str("bucket", bucket.Name()).Strs("events", events).Msg("Registered bucket subscription")
	return &SubscriptionHandle{Name: name, Bucket: bucket, Function: fn, Permission: perm}, nil
}

// ObjectEventArgs is the restricted argument shape of the convenience helpers.
type ObjectEventArgs struct {
	// Qualifier narrows the category, e.g. "Put". Nil means "*".
	Qualifier    *string
	FilterPrefix string
	FilterSuffix string
}

// Qualifier returns a pointer to q, for use in ObjectEventArgs.
func Qualifier(q string) *string { return &q }

func (rc *RegistrationContext) subscribeCategory(category Category, name string, bucket *engine.Resource, fn Function, args ObjectEventArgs, opts []engine.ResourceOption) (*SubscriptionHandle, error) {
	qualifier := AnyQualifier
	if args.Qualifier != nil {
		qualifier = *args.Qualifier
	}
	event, err := EventName(category, qualifier)
	if err != nil {
		return nil, err
	}
	return rc.Subscribe(name, bucket, fn, SubscribeArgs{
		Events:       []string{event},
		FilterPrefix: args.FilterPrefix,
		FilterSuffix: args.FilterSuffix,
	}, opts...)
}

// OnObjectCreated subscribes fn to "created:<qualifier>" events.
func (rc *RegistrationContext) OnObjectCreated(name string, bucket *engine.Resource, fn Function, args ObjectEventArgs, opts ...engine.ResourceOption) (*SubscriptionHandle, error) {
	return rc.subscribeCategory(CategoryCreated, name, bucket, fn, args, opts)
}

// OnObjectRemoved subscribes fn to "removed:<qualifier>" events.
func (rc *RegistrationContext) OnObjectRemoved(name string, bucket *engine.Resource, fn Function, args ObjectEventArgs, opts ...engine.ResourceOption) (*SubscriptionHandle, error) {
	return rc.subscribeCategory(CategoryRemoved, name, bucket, fn, args, opts)
}

// OnPut subscribes fn to every object creation.
func (rc *RegistrationContext) OnPut(name string, bucket *engine.Resource, fn Function, args ObjectEventArgs, opts ...engine.ResourceOption) (*SubscriptionHandle, error) {
	args.Qualifier = nil
	return rc.subscribeCategory(CategoryCreated, name, bucket, fn, args, opts)
}

// OnDelete subscribes fn to every object removal.
func (rc *RegistrationContext) OnDelete(name string, bucket *engine.Resource, fn Function, args ObjectEventArgs, opts ...engine.ResourceOption) (*SubscriptionHandle, error) {
	args.Qualifier = nil
	return rc.subscribeCategory(CategoryRemoved, name, bucket, fn, args, opts)
}
