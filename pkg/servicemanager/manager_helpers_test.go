package servicemanager_test

import (
	"context"

	"github.com/illmade-knight/go-bucket-events/pkg/servicemanager"
	"github.com/stretchr/testify/mock"
)

// --- Storage Mocks ---

type MockStorageBucketHandle struct{ mock.Mock }

func (m *MockStorageBucketHandle) Attrs(ctx context.Context) (*servicemanager.BucketAttributes, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*servicemanager.BucketAttributes), args.Error(1)
}
func (m *MockStorageBucketHandle) Create(ctx context.Context, projectID string, attrs *servicemanager.BucketAttributes) error {
	return m.Called(ctx, projectID, attrs).Error(0)
}
func (m *MockStorageBucketHandle) Update(ctx context.Context, attrs servicemanager.BucketAttributesToUpdate) (*servicemanager.BucketAttributes, error) {
	args := m.Called(ctx, attrs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*servicemanager.BucketAttributes), args.Error(1)
}
func (m *MockStorageBucketHandle) AddNotification(ctx context.Context, n servicemanager.NotificationConfig) (*servicemanager.NotificationConfig, error) {
	args := m.Called(ctx, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*servicemanager.NotificationConfig), args.Error(1)
}
func (m *MockStorageBucketHandle) Notifications(ctx context.Context) ([]servicemanager.NotificationConfig, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]servicemanager.NotificationConfig), args.Error(1)
}
func (m *MockStorageBucketHandle) DeleteNotification(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type MockStorageClient struct{ mock.Mock }

func (m *MockStorageClient) Bucket(name string) servicemanager.StorageBucketHandle {
	return m.Called(name).Get(0).(servicemanager.StorageBucketHandle)
}
func (m *MockStorageClient) ServiceAccount(ctx context.Context, projectID string) (string, error) {
	args := m.Called(ctx, projectID)
	return args.String(0), args.Error(1)
}
func (m *MockStorageClient) Close() error {
	return m.Called().Error(0)
}

// --- Messaging Mocks ---

type MockMessagingClient struct{ mock.Mock }

func (m *MockMessagingClient) EnsureTopic(ctx context.Context, topicID string, labels map[string]string) error {
	return m.Called(ctx, topicID, labels).Error(0)
}
func (m *MockMessagingClient) EnsurePushSubscription(ctx context.Context, cfg servicemanager.PushSubscriptionConfig) error {
	return m.Called(ctx, cfg).Error(0)
}
func (m *MockMessagingClient) Close() error {
	return m.Called().Error(0)
}

type MockTopicIAMGranter struct{ mock.Mock }

func (m *MockTopicIAMGranter) GrantTopicRole(ctx context.Context, topicID, role, member string) error {
	return m.Called(ctx, topicID, role, member).Error(0)
}

// --- Function Locator Mock ---

type MockFunctionLocator struct{ mock.Mock }

func (m *MockFunctionLocator) ServiceURI(ctx context.Context, serviceName string) (string, error) {
	args := m.Called(ctx, serviceName)
	return args.String(0), args.Error(1)
}
