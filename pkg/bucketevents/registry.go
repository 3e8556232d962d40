package bucketevents

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/illmade-knight/go-bucket-events/pkg/deferred"
	"github.com/illmade-knight/go-bucket-events/pkg/engine"
	"github.com/rs/zerolog"
)

// SubscriptionRequest is one registered interest in a bucket's events.
// It is immutable once registered.
type SubscriptionRequest struct {
	Name         string
	Events       []string
	FilterPrefix string
	FilterSuffix string
	Target       deferred.Output[string]
	// Audience is the token audience for deliveries. Zero means the target.
	Audience   deferred.Output[string]
	Permission *engine.Resource
}

// BucketSubscriptions pairs a bucket with the requests registered against it.
type BucketSubscriptions struct {
	Bucket   *engine.Resource
	Requests []SubscriptionRequest
}

// registry maps bucket identity to requests, remembering first-seen bucket order.
type registry struct {
	order   []*engine.Resource
	entries map[*engine.Resource][]SubscriptionRequest
}

func newRegistry() *registry {
	return &registry{entries: make(map[*engine.Resource][]SubscriptionRequest)}
}

// NamingPolicy decides the logical name of a bucket's aggregate notification.
type NamingPolicy int

const (
	// NameFromFirstSubscription names the aggregate after the first request
	// registered for the bucket in a flush.
	NameFromFirstSubscription NamingPolicy = iota
	// NameFromBucket derives the name from the bucket's logical name.
	NameFromBucket
)

// Finalizer registers hooks that run when the declaration phase has finished.
type Finalizer interface {
	OnFinalize(hook engine.FinalizeHook)
}

// RegistrationContext collects bucket subscriptions during a program run and
// coalesces them into one aggregate notification resource per bucket.
//
// Flush swaps the registry for an empty one before declaring anything, so a
// flush that re-enters (or runs again after new resources were declared)
// only ever sees requests registered after the previous swap. Flushing an
// empty registry is a no-op.
type RegistrationContext struct {
	declarer engine.Declarer
	logger   zerolog.Logger
	naming   NamingPolicy

	mu  sync.Mutex
	reg *registry
	// aggregates counts the aggregates declared per bucket across flushes.
	aggregates map[*engine.Resource]int
}

// Option configures a RegistrationContext.
type Option func(*RegistrationContext)

// WithNamingPolicy overrides the aggregate naming policy.
func WithNamingPolicy(p NamingPolicy) Option {
	return func(rc *RegistrationContext) { rc.naming = p }
}

// NewRegistrationContext creates an empty context that declares through d.
func NewRegistrationContext(d engine.Declarer, logger zerolog.Logger, opts ...Option) (*RegistrationContext, error) {
	if d == nil {
		return nil, errors.New("declarer cannot be nil")
	}
	rc := &RegistrationContext{
		declarer:   d,
		logger:     logger.With().Str("component", "RegistrationContext").Logger(),
		reg:        newRegistry(),
		aggregates: make(map[*engine.Resource]int),
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc, nil
}

// Attach registers Flush as a finalize hook.
func (rc *RegistrationContext) Attach(f Finalizer) {
	f.OnFinalize(func(ctx context.Context) error {
		_, err := rc.Flush(ctx)
		return err
	})
}

// Register appends req to the bucket's list. It is safe to call at any time,
// including while a previously drained snapshot is being flushed.
func (rc *RegistrationContext) Register(bucket *engine.Resource, req SubscriptionRequest) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if _, ok := rc.reg.entries[bucket]; !ok {
		rc.reg.order = append(rc.reg.order, bucket)
	}
	rc.reg.entries[bucket] = append(rc.reg.entries[bucket], req)
}

// Pending returns the number of requests waiting to be flushed.
func (rc *RegistrationContext) Pending() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	n := 0
	for _, reqs := range rc.reg.entries {
		n += len(reqs)
	}
	return n
}

// DrainAll atomically takes the current registry, replacing it with an empty
// one, and returns the snapshot in first-registration bucket order.
func (rc *RegistrationContext) DrainAll() []BucketSubscriptions {
	rc.mu.Lock()
	taken := rc.reg
	rc.reg = newRegistry()
	rc.mu.Unlock()

	snapshot := make([]BucketSubscriptions, 0, len(taken.order))
	for _, b := range taken.order {
		snapshot = append(snapshot, BucketSubscriptions{Bucket: b, Requests: taken.entries[b]})
	}
	return snapshot
}

// Flush drains the registry and declares one aggregate notification per
// bucket. A failed declaration for one bucket does not stop the others; all
// failures are returned joined.
//
// The drained snapshot belongs to this call. If ctx is cancelled part way
// through, the buckets not yet declared are logged and dropped.
func (rc *RegistrationContext) Flush(ctx context.Context) ([]*engine.Resource, error) {
	snapshot := rc.DrainAll()
	if len(snapshot) == 0 {
		return nil, nil
	}

	var declared []*engine.Resource
	var allErrors []error
	for i, bs := range snapshot {
		if err := ctx.Err(); err != nil {
			for _, dropped := range snapshot[i:] {
				rc.logger.Warn().Err(err).
					Str("bucket", dropped.Bucket.Name()).
					Int("subscriptions", len(dropped.Requests)).
					Msg("Dropped bucket subscriptions on cancellation")
			}
			allErrors = append(allErrors, fmt.Errorf("%d bucket(s) not flushed: %w", len(snapshot)-i, err))
			break
		}
		if len(bs.Requests) == 0 {
			continue
		}
		res, err := rc.declareAggregate(bs)
		if err != nil {
			rc.logger.Error().Err(err).Str("bucket", bs.Bucket.Name()).Msg("Failed to declare bucket notification")
			allErrors = append(allErrors, err)
			continue
		}
		declared = append(declared, res)
	}

	if len(allErrors) > 0 {
		return declared, errors.Join(allErrors...)
	}
	return declared, nil
}

func (rc *RegistrationContext) declareAggregate(bs BucketSubscriptions) (*engine.Resource, error) {
	entries := make([]any, 0, len(bs.Requests))
	perms := make([]*engine.Resource, 0, len(bs.Requests))
	for _, req := range bs.Requests {
		events := make([]string, len(req.Events))
		copy(events, req.Events)
		entry := map[string]any{
			"name":         req.Name,
			"events":       events,
			"filterPrefix": req.FilterPrefix,
			"filterSuffix": req.FilterSuffix,
			"target":       req.Target,
		}
		if !req.Audience.IsZero() {
			entry["audience"] = req.Audience
		}
		entries = append(entries, entry)
		perms = append(perms, req.Permission)
	}

	name := bs.Requests[0].Name
	if rc.naming == NameFromBucket {
		name = rc.bucketAggregateName(bs.Bucket)
	}

	props := engine.Properties{
		"bucket":  bs.Bucket.ID(),
		"entries": entries,
	}
	res, err := rc.declarer.Declare(KindBucketNotification, name, props,
		engine.WithParent(bs.Bucket), engine.DependsOn(perms...))
	if err != nil {
		return nil, fmt.Errorf("bucket '%s': %w", bs.Bucket.Name(), err)
	}

	if rc.naming == NameFromBucket {
		rc.mu.Lock()
		rc.aggregates[bs.Bucket]++
		rc.mu.Unlock()
	}

	rc.logger.Info().
		Str("bucket", bs.Bucket.Name()).
		Str("notification", name).
		Int("subscriptions", len(bs.Requests)).
		Msg("Declared aggregate bucket notification")
	return res, nil
}

// bucketAggregateName is "<bucket>-notifications" for the first aggregate of a
// bucket and "<bucket>-notifications-<n>" for each later flush.
func (rc *RegistrationContext) bucketAggregateName(bucket *engine.Resource) string {
	rc.mu.Lock()
	n := rc.aggregates[bucket]
	rc.mu.Unlock()
	if n == 0 {
		return bucket.Name() + "-notifications"
	}
	return fmt.Sprintf("%s-notifications-%d", bucket.Name(), n+1)
}
