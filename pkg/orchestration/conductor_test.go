package orchestration_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/illmade-knight/go-bucket-events/pkg/bucketevents"
	"github.com/illmade-knight/go-bucket-events/pkg/engine"
	"github.com/illmade-knight/go-bucket-events/pkg/iam"
	"github.com/illmade-knight/go-bucket-events/pkg/orchestration"
	"github.com/illmade-knight/go-bucket-events/pkg/servicemanager"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// fakeCloud records every Create call, keyed by kind and name.
type fakeCloud struct {
	mu    sync.Mutex
	props map[string]engine.Properties
	fail  map[string]error
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{props: map[string]engine.Properties{}, fail: map[string]error{}}
}

func (f *fakeCloud) provisioners() engine.Provisioners {
	create := engine.ProvisionerFunc(func(_ context.Context, kind, name string, props engine.Properties) (map[string]any, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		key := kind + "/" + name
		f.props[key] = props
		if err, ok := f.fail[key]; ok {
			return nil, err
		}
		uri := "https://" + name + ".run.app"
		audience, _ := props["audience"].(string)
		if audience == "" {
			audience = uri
		}
		return map[string]any{"id": name, "uri": uri, "audience": audience}, nil
	})
	return engine.Provisioners{
		bucketevents.KindBucket:             create,
		bucketevents.KindFunction:           create,
		bucketevents.KindInvokePermission:   create,
		bucketevents.KindBucketNotification: create,
	}
}

func (f *fakeCloud) created(kind, name string) (engine.Properties, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.props[kind+"/"+name]
	return p, ok
}

type memoryWriter struct {
	written *servicemanager.ProvisionedResources
}

func (m *memoryWriter) Write(_ context.Context, r *servicemanager.ProvisionedResources) error {
	m.written = r
	return nil
}
func (m *memoryWriter) Close() error { return nil }

func testArchitecture() *servicemanager.EventsArchitecture {
	return &servicemanager.EventsArchitecture{
		Environment: servicemanager.Environment{Name: "events-test", ProjectID: "test-project", Region: "europe-west1"},
		Buckets:     []servicemanager.BucketSpec{{Name: "uploads"}, {Name: "logs"}},
		Functions: []servicemanager.FunctionSpec{
			{Name: "thumbs"},
			{Name: "audit", Region: "us-central1"},
		},
		Subscriptions: []servicemanager.SubscriptionSpec{
			{Name: "thumbs-on-put", Bucket: "uploads", Function: "thumbs", Helper: servicemanager.HelperOnPut, FilterPrefix: "images/", FilterSuffix: ".png"},
			{Name: "audit-removed", Bucket: "uploads", Function: "audit", Events: []string{"removed:*", "metadata:*"}},
			{Name: "audit-logs", Bucket: "logs", Function: "audit", Helper: servicemanager.HelperOnObjectCreated, Qualifier: bucketevents.Qualifier("Copy")},
		},
	}
}

func newConductor(t *testing.T, arch *servicemanager.EventsArchitecture, opts ...orchestration.ConductorOption) *orchestration.Conductor {
	t.Helper()
	c, err := orchestration.NewConductor(arch, zerolog.Nop(), opts...)
	require.NoError(t, err)
	return c
}

func TestNewConductor_NilArchitecture(t *testing.T) {
	_, err := orchestration.NewConductor(nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestConductor_Declare(t *testing.T) {
	ctx := context.Background()

	t.Run("One Notification Per Bucket", func(t *testing.T) {
		stack, err := newConductor(t, testArchitecture()).Declare(ctx)
		require.NoError(t, err)

		var notifications []*engine.Resource
		for _, r := range stack.Resources() {
			if r.Kind() == bucketevents.KindBucketNotification {
				notifications = append(notifications, r)
			}
		}
		require.Len(t, notifications, 2)
		assert.Equal(t, "thumbs-on-put", notifications[0].Name())
		assert.Equal(t, "uploads", notifications[0].Parent().Name())
		assert.Len(t, notifications[0].DependsOn(), 2)
		assert.Equal(t, "audit-logs", notifications[1].Name())

		_, ok := stack.Lookup(bucketevents.KindInvokePermission, "audit-removed")
		assert.True(t, ok)
	})

	t.Run("Bucket Naming Policy", func(t *testing.T) {
		stack, err := newConductor(t, testArchitecture(), orchestration.WithNamingPolicy(bucketevents.NameFromBucket)).Declare(ctx)
		require.NoError(t, err)

		_, ok := stack.Lookup(bucketevents.KindBucketNotification, "uploads-notifications")
		assert.True(t, ok)
	})

	t.Run("Invalid Subscriptions Are All Reported", func(t *testing.T) {
		arch := testArchitecture()
		arch.Subscriptions = append(arch.Subscriptions,
			servicemanager.SubscriptionSpec{Name: "no-events", Bucket: "uploads", Function: "thumbs"},
			servicemanager.SubscriptionSpec{Name: "ghost", Bucket: "missing", Function: "thumbs", Helper: servicemanager.HelperOnPut},
		)

		_, err := newConductor(t, arch).Declare(ctx)

		require.Error(t, err)
		assert.ErrorIs(t, err, bucketevents.ErrInvalidArgument)
		assert.ErrorContains(t, err, "unknown bucket 'missing'")
	})
}

func TestConductor_Preview(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, newConductor(t, testArchitecture()).Preview(context.Background(), &buf))

	var plan engine.Plan
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &plan))
	assert.Equal(t, "events-test", plan.Stack)
	assert.Len(t, plan.Resources, 9)
	assert.Contains(t, buf.String(), "<computed>")
}

func TestConductor_Apply(t *testing.T) {
	ctx := context.Background()

	t.Run("Realises Every Resource", func(t *testing.T) {
		cloud := newFakeCloud()
		writer := &memoryWriter{}

		err := newConductor(t, testArchitecture()).Apply(ctx, cloud.provisioners(), writer)
		require.NoError(t, err)

		props, ok := cloud.created(bucketevents.KindBucketNotification, "thumbs-on-put")
		require.True(t, ok)
		assert.Equal(t, "uploads", props["bucket"])
		entries := props["entries"].([]any)
		require.Len(t, entries, 2)
		first := entries[0].(map[string]any)
		assert.Equal(t, "thumbs-on-put", first["name"])
		assert.Equal(t, "https://thumbs.run.app", first["target"])
		assert.Equal(t, []string{"created:*"}, first["events"])
		assert.Equal(t, ".png", first["filterSuffix"])

		perm, ok := cloud.created(bucketevents.KindInvokePermission, "audit-logs")
		require.True(t, ok)
		assert.Equal(t, "us-central1", perm["location"])
		assert.Equal(t, "projects/_/buckets/logs", perm["sourceResource"])

		logs, _ := cloud.created(bucketevents.KindBucketNotification, "audit-logs")
		assert.Equal(t, []string{"created:Copy"}, logs["entries"].([]any)[0].(map[string]any)["events"])

		require.NotNil(t, writer.written)
		assert.Len(t, writer.written.Resources, 9)
		for _, r := range writer.written.Resources {
			assert.Empty(t, r.Error, r.URN)
		}
	})

	t.Run("Failure Is Reported And Isolated", func(t *testing.T) {
		cloud := newFakeCloud()
		cloud.fail[bucketevents.KindBucket+"/logs"] = errors.New("bucket quota")
		writer := &memoryWriter{}

		err := newConductor(t, testArchitecture()).Apply(ctx, cloud.provisioners(), writer)

		require.Error(t, err)
		assert.ErrorContains(t, err, "bucket quota")
		_, ok := cloud.created(bucketevents.KindBucketNotification, "thumbs-on-put")
		assert.True(t, ok, "the uploads notification does not depend on the logs bucket")
		_, ok = cloud.created(bucketevents.KindBucketNotification, "audit-logs")
		assert.False(t, ok)

		failed := 0
		for _, r := range writer.written.Resources {
			if r.Error != "" {
				failed++
			}
		}
		assert.Equal(t, 3, failed, "the bucket, the permission sourcing it and its notification")
	})
}

func TestConductor_ApplyCarriesFunctionAudience(t *testing.T) {
	arch := testArchitecture()
	arch.Functions[0].Audience = "https://custom-aud"
	cloud := newFakeCloud()

	err := newConductor(t, arch).Apply(context.Background(), cloud.provisioners(), &memoryWriter{})
	require.NoError(t, err)

	props, ok := cloud.created(bucketevents.KindBucketNotification, "thumbs-on-put")
	require.True(t, ok)
	entries := props["entries"].([]any)
	require.Len(t, entries, 2)
	assert.Equal(t, "https://custom-aud", entries[0].(map[string]any)["audience"])
	assert.Equal(t, "https://audit.run.app", entries[1].(map[string]any)["audience"], "defaults to the function endpoint")
}

type fakeVerifier struct{ err error }

func (f fakeVerifier) Verify(context.Context, []servicemanager.BucketSpec) error { return f.err }

type fakeChecker map[string]bool

func (f fakeChecker) CheckResourceIAMBinding(_ context.Context, b iam.IAMBinding, _ string) (bool, error) {
	return f[b.ResourceID], nil
}

func TestConductor_Verify(t *testing.T) {
	ctx := context.Background()
	c := newConductor(t, testArchitecture())

	require.NoError(t, c.Verify(ctx, fakeVerifier{}, fakeChecker{"thumbs": true, "audit": true}, "serviceAccount:x"))

	err := c.Verify(ctx, fakeVerifier{err: errors.New("bucket 'logs' not found")}, fakeChecker{"thumbs": true}, "serviceAccount:x")
	require.Error(t, err)
	assert.ErrorContains(t, err, "bucket 'logs' not found")
	assert.ErrorContains(t, err, "function 'audit'")
}
