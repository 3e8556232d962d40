package bucketevents_test

import (
	"context"
	"errors"
	"testing"

	"github.com/illmade-knight/go-bucket-events/pkg/bucketevents"
	"github.com/illmade-knight/go-bucket-events/pkg/deferred"
	"github.com/illmade-knight/go-bucket-events/pkg/engine"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- Test Helpers ---

type fakeFunction struct {
	name string
	ref  deferred.Output[string]
}

func (f fakeFunction) Name() string                 { return f.name }
func (f fakeFunction) Location() string             { return "europe-west1" }
func (f fakeFunction) Ref() deferred.Output[string] { return f.ref }

func newFunction(name string) fakeFunction {
	return fakeFunction{name: name, ref: deferred.Known("https://" + name + ".run.app")}
}

func setupRegistrationTest(t *testing.T) (*engine.Stack, *bucketevents.RegistrationContext) {
	t.Helper()
	stack := engine.NewStack("test", zerolog.Nop())
	rc, err := bucketevents.NewRegistrationContext(stack, zerolog.Nop())
	require.NoError(t, err)
	return stack, rc
}

func declareBucket(t *testing.T, stack *engine.Stack, name string) *engine.Resource {
	t.Helper()
	b, err := bucketevents.DeclareBucket(stack, name, nil)
	require.NoError(t, err)
	return b
}

func notifications(stack *engine.Stack) []*engine.Resource {
	var out []*engine.Resource
	for _, r := range stack.Resources() {
		if r.Kind() == bucketevents.KindBucketNotification {
			out = append(out, r)
		}
	}
	return out
}

func entryEvents(t *testing.T, r *engine.Resource) [][]string {
	t.Helper()
	entries, ok := r.Properties()["entries"].([]any)
	require.True(t, ok)
	var out [][]string
	for _, e := range entries {
		out = append(out, e.(map[string]any)["events"].([]string))
	}
	return out
}

type MockDeclarer struct{ mock.Mock }

func (m *MockDeclarer) Declare(kind, name string, props engine.Properties, opts ...engine.ResourceOption) (*engine.Resource, error) {
	args := m.Called(kind, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*engine.Resource), args.Error(1)
}

// --- Tests ---

func TestNewRegistrationContext(t *testing.T) {
	_, err := bucketevents.NewRegistrationContext(nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestFlush_TwoSubscriptionsOnOneBucket(t *testing.T) {
	ctx := context.Background()
	stack, rc := setupRegistrationTest(t)
	b1 := declareBucket(t, stack, "b1")
	fn := newFunction("thumbnailer")

	hA, err := rc.Subscribe("a", b1, fn, bucketevents.SubscribeArgs{Events: []string{"created:*"}})
	require.NoError(t, err)
	hB, err := rc.Subscribe("b", b1, fn, bucketevents.SubscribeArgs{Events: []string{"removed:*"}})
	require.NoError(t, err)

	declared, err := rc.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, declared, 1)

	agg := declared[0]
	assert.Equal(t, bucketevents.KindBucketNotification, agg.Kind())
	assert.Equal(t, "a", agg.Name())
	assert.Same(t, b1, agg.Parent())
	assert.Equal(t, []*engine.Resource{hA.Permission, hB.Permission}, agg.DependsOn())
	assert.Equal(t, [][]string{{"created:*"}, {"removed:*"}}, entryEvents(t, agg))
	assert.Len(t, notifications(stack), 1)
}

func TestFlush_SingleAggregatePerBucket(t *testing.T) {
	stack, rc := setupRegistrationTest(t)
	b := declareBucket(t, stack, "uploads")
	fn := newFunction("f")

	const n = 5
	for i := 0; i < n; i++ {
		_, err := rc.Subscribe(string(rune('a'+i)), b, fn, bucketevents.SubscribeArgs{
			Events:       []string{"created:*"},
			FilterPrefix: "images/",
		})
		require.NoError(t, err)
	}
	assert.Equal(t, n, rc.Pending())

	_, err := rc.Flush(context.Background())
	require.NoError(t, err)

	aggs := notifications(stack)
	require.Len(t, aggs, 1)
	entries := aggs[0].Properties()["entries"].([]any)
	require.Len(t, entries, n)
	for i, e := range entries {
		entry := e.(map[string]any)
		assert.Equal(t, string(rune('a'+i)), entry["name"], "registration order is preserved")
		assert.Equal(t, "images/", entry["filterPrefix"])
	}
}

func TestFlush_IsolatesBuckets(t *testing.T) {
	stack, rc := setupRegistrationTest(t)
	bA := declareBucket(t, stack, "bucket-a")
	bB := declareBucket(t, stack, "bucket-b")
	fn := newFunction("f")

	_, err := rc.Subscribe("on-a", bA, fn, bucketevents.SubscribeArgs{Events: []string{"created:*"}})
	require.NoError(t, err)
	_, err = rc.Subscribe("on-b", bB, fn, bucketevents.SubscribeArgs{Events: []string{"removed:*"}})
	require.NoError(t, err)

	declared, err := rc.Flush(context.Background())
	require.NoError(t, err)
	require.Len(t, declared, 2)

	assert.Same(t, bA, declared[0].Parent())
	assert.Equal(t, [][]string{{"created:*"}}, entryEvents(t, declared[0]))
	assert.Same(t, bB, declared[1].Parent())
	assert.Equal(t, [][]string{{"removed:*"}}, entryEvents(t, declared[1]))
}

func TestFlush_SameNamedBucketsAreDistinct(t *testing.T) {
	s1 := engine.NewStack("one", zerolog.Nop())
	rc, err := bucketevents.NewRegistrationContext(s1, zerolog.Nop())
	require.NoError(t, err)
	s2 := engine.NewStack("two", zerolog.Nop())

	b1 := declareBucket(t, s1, "shared")
	b2 := declareBucket(t, s2, "shared")
	rc.Register(b1, bucketevents.SubscriptionRequest{Name: "x", Events: []string{"created:*"}})
	rc.Register(b2, bucketevents.SubscriptionRequest{Name: "y", Events: []string{"created:*"}})

	snapshot := rc.DrainAll()
	require.Len(t, snapshot, 2)
	assert.Same(t, b1, snapshot[0].Bucket)
	assert.Same(t, b2, snapshot[1].Bucket)
}

func TestFlush_DuplicatesAreNotMerged(t *testing.T) {
	stack, rc := setupRegistrationTest(t)
	b := declareBucket(t, stack, "b")
	fn := newFunction("f")
	args := bucketevents.SubscribeArgs{Events: []string{"created:*"}, FilterSuffix: ".png"}

	_, err := rc.Subscribe("first", b, fn, args)
	require.NoError(t, err)
	_, err = rc.Subscribe("second", b, fn, args)
	require.NoError(t, err)

	declared, err := rc.Flush(context.Background())
	require.NoError(t, err)
	require.Len(t, declared, 1)
	assert.Len(t, declared[0].Properties()["entries"].([]any), 2)
}

func TestFlush_EmptyRegistryIsNoop(t *testing.T) {
	stack, rc := setupRegistrationTest(t)

	declared, err := rc.Flush(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, declared)
	assert.Empty(t, stack.Resources())
}

func TestFlush_IdempotentDrain(t *testing.T) {
	stack, rc := setupRegistrationTest(t)
	b := declareBucket(t, stack, "b")
	_, err := rc.OnPut("put", b, newFunction("f"), bucketevents.ObjectEventArgs{})
	require.NoError(t, err)

	first, err := rc.Flush(context.Background())
	require.NoError(t, err)
	assert.Len(t, first, 1)

	second, err := rc.Flush(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Len(t, notifications(stack), 1)
}

// interleavingDeclarer registers a new subscription the first time an
// aggregate notification is declared, simulating work scheduled mid-flush.
type interleavingDeclarer struct {
	*engine.Stack
	onAggregate func()
	fired       bool
}

func (d *interleavingDeclarer) Declare(kind, name string, props engine.Properties, opts ...engine.ResourceOption) (*engine.Resource, error) {
	if kind == bucketevents.KindBucketNotification && !d.fired {
		d.fired = true
		d.onAggregate()
	}
	return d.Stack.Declare(kind, name, props, opts...)
}

func TestFlush_RegistrationDuringFlushGoesToNextPass(t *testing.T) {
	stack := engine.NewStack("test", zerolog.Nop())
	d := &interleavingDeclarer{Stack: stack}
	rc, err := bucketevents.NewRegistrationContext(d, zerolog.Nop())
	require.NoError(t, err)

	b := declareBucket(t, stack, "b")
	fn := newFunction("f")
	_, err = rc.Subscribe("early", b, fn, bucketevents.SubscribeArgs{Events: []string{"created:*"}})
	require.NoError(t, err)

	d.onAggregate = func() {
		_, err := rc.Subscribe("late", b, fn, bucketevents.SubscribeArgs{Events: []string{"removed:*"}})
		require.NoError(t, err)
	}

	first, err := rc.Flush(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "early", first[0].Name())
	assert.Len(t, first[0].Properties()["entries"].([]any), 1, "the late request is not merged into the pass in progress")
	assert.Equal(t, 1, rc.Pending())

	second, err := rc.Flush(context.Background())
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "late", second[0].Name())
	assert.Equal(t, [][]string{{"removed:*"}}, entryEvents(t, second[0]))
}

func TestFlush_FailureForOneBucketDoesNotAffectOthers(t *testing.T) {
	stack := engine.NewStack("test", zerolog.Nop())
	bad := declareBucket(t, stack, "bad")
	good := declareBucket(t, stack, "good")
	goodAgg, err := stack.Declare("placeholder", "good-agg", nil)
	require.NoError(t, err)

	md := new(MockDeclarer)
	upstream := errors.New("quota exceeded")
	md.On("Declare", bucketevents.KindBucketNotification, "on-bad").Return(nil, upstream).Once()
	md.On("Declare", bucketevents.KindBucketNotification, "on-good").Return(goodAgg, nil).Once()

	rc, err := bucketevents.NewRegistrationContext(md, zerolog.Nop())
	require.NoError(t, err)
	rc.Register(bad, bucketevents.SubscriptionRequest{Name: "on-bad", Events: []string{"created:*"}})
	rc.Register(good, bucketevents.SubscriptionRequest{Name: "on-good", Events: []string{"created:*"}})

	declared, err := rc.Flush(context.Background())
	assert.ErrorIs(t, err, upstream)
	assert.Equal(t, []*engine.Resource{goodAgg}, declared)
	md.AssertExpectations(t)
	assert.Zero(t, rc.Pending())
}

func TestFlush_NameFromBucketPolicy(t *testing.T) {
	stack := engine.NewStack("test", zerolog.Nop())
	rc, err := bucketevents.NewRegistrationContext(stack, zerolog.Nop(), bucketevents.WithNamingPolicy(bucketevents.NameFromBucket))
	require.NoError(t, err)
	b := declareBucket(t, stack, "uploads")
	_, err = rc.OnDelete("cleanup", b, newFunction("f"), bucketevents.ObjectEventArgs{})
	require.NoError(t, err)

	declared, err := rc.Flush(context.Background())
	require.NoError(t, err)
	require.Len(t, declared, 1)
	assert.Equal(t, "uploads-notifications", declared[0].Name())
}

func TestAttach_RunsFlushDuringFinalize(t *testing.T) {
	stack, rc := setupRegistrationTest(t)
	rc.Attach(stack)

	err := stack.Run(context.Background(), func(ctx context.Context, s *engine.Stack) error {
		b, err := bucketevents.DeclareBucket(s, "b", nil)
		if err != nil {
			return err
		}
		fn, err := bucketevents.DeclareFunction(s, "f", "europe-west1", nil)
		if err != nil {
			return err
		}
		if _, err := rc.OnPut("a", b, fn, bucketevents.ObjectEventArgs{}); err != nil {
			return err
		}
		_, err = rc.OnDelete("b", b, fn, bucketevents.ObjectEventArgs{})
		return err
	})
	require.NoError(t, err)
	assert.Len(t, notifications(stack), 1)
	assert.Zero(t, rc.Pending())
}

func TestFlush_NameFromBucketAcrossPasses(t *testing.T) {
	stack := engine.NewStack("test", zerolog.Nop())
	rc, err := bucketevents.NewRegistrationContext(stack, zerolog.Nop(), bucketevents.WithNamingPolicy(bucketevents.NameFromBucket))
	require.NoError(t, err)
	b := declareBucket(t, stack, "uploads")
	fn := newFunction("f")

	_, err = rc.OnPut("early", b, fn, bucketevents.ObjectEventArgs{})
	require.NoError(t, err)
	first, err := rc.Flush(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)

	_, err = rc.OnDelete("late", b, fn, bucketevents.ObjectEventArgs{})
	require.NoError(t, err)
	second, err := rc.Flush(context.Background())
	require.NoError(t, err)
	require.Len(t, second, 1)

	_, err = rc.OnPut("later", b, fn, bucketevents.ObjectEventArgs{})
	require.NoError(t, err)
	third, err := rc.Flush(context.Background())
	require.NoError(t, err)
	require.Len(t, third, 1)

	assert.Equal(t, "uploads-notifications", first[0].Name())
	assert.Equal(t, "uploads-notifications-2", second[0].Name())
	assert.Equal(t, "uploads-notifications-3", third[0].Name())
	assert.Equal(t, [][]string{{"removed:*"}}, entryEvents(t, second[0]))
	assert.Len(t, notifications(stack), 3)
	assert.Zero(t, rc.Pending())
}

func TestFlush_CancelledContextReportsDroppedBuckets(t *testing.T) {
	stack, rc := setupRegistrationTest(t)
	fn := newFunction("f")
	for _, name := range []string{"one", "two"} {
		_, err := rc.OnPut("on-"+name, declareBucket(t, stack, name), fn, bucketevents.ObjectEventArgs{})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	declared, err := rc.Flush(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorContains(t, err, "2 bucket(s) not flushed")
	assert.Empty(t, declared)
	assert.Zero(t, rc.Pending())
}
