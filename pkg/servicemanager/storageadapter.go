package servicemanager

import (
	"context"
)

// BucketAttributes represents the generic attributes of a storage bucket.
type BucketAttributes struct {
	Name              string
	Location          string
	StorageClass      string
	VersioningEnabled bool
	Labels            map[string]string
	LifecycleRules    []LifecycleRule
}

// BucketAttributesToUpdate represents a set of attributes to update on a bucket.
type BucketAttributesToUpdate struct {
	StorageClass      *string
	VersioningEnabled bool
	Labels            map[string]string // The full, desired set of labels. The adapter will compute the diff.
	LifecycleRules    *[]LifecycleRule
}

// NotificationConfig is a provider-neutral bucket notification.
type NotificationConfig struct {
	ID               string
	TopicProjectID   string
	TopicID          string
	EventTypes       []string
	ObjectNamePrefix string
	CustomAttributes map[string]string
}

// StorageBucketHandle defines an interface for interacting with a storage bucket.
type StorageBucketHandle interface {
	Attrs(ctx context.Context) (*BucketAttributes, error)
	Create(ctx context.Context, projectID string, attrs *BucketAttributes) error
	Update(ctx context.Context, attrs BucketAttributesToUpdate) (*BucketAttributes, error)

	AddNotification(ctx context.Context, n NotificationConfig) (*NotificationConfig, error)
	Notifications(ctx context.Context) ([]NotificationConfig, error)
	DeleteNotification(ctx context.Context, id string) error
}

// StorageClient defines a generic interface for a storage client.
type StorageClient interface {
	Bucket(name string) StorageBucketHandle
	// ServiceAccount returns the email of the project's storage service agent,
	// the identity that publishes bucket notifications.
	ServiceAccount(ctx context.Context, projectID string) (string, error)
	Close() error
}
