package servicemanager

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// gcsBucketHandle abstracts the methods we need from *storage.BucketHandle so
// the adapter can be tested with a mock.
type gcsBucketHandle interface {
	Attrs(ctx context.Context) (*storage.BucketAttrs, error)
	Create(ctx context.Context, projectID string, attrs *storage.BucketAttrs) error
	Update(ctx context.Context, attrs storage.BucketAttrsToUpdate) (*storage.BucketAttrs, error)
	AddNotification(ctx context.Context, n *storage.Notification) (*storage.Notification, error)
	Notifications(ctx context.Context) (map[string]*storage.Notification, error)
	DeleteNotification(ctx context.Context, id string) error
}

// --- Conversion Functions ---

func fromGCSBucketAttrs(gcsAttrs *storage.BucketAttrs) *BucketAttributes {
	if gcsAttrs == nil {
		return nil
	}
	attrs := &BucketAttributes{
		Name:              gcsAttrs.Name,
		Location:          gcsAttrs.Location,
		StorageClass:      gcsAttrs.StorageClass,
		VersioningEnabled: gcsAttrs.VersioningEnabled,
		Labels:            gcsAttrs.Labels,
	}
	for _, rule := range gcsAttrs.Lifecycle.Rules {
		attrs.LifecycleRules = append(attrs.LifecycleRules, LifecycleRule{
			Action:    LifecycleAction{Type: rule.Action.Type},
			Condition: LifecycleCondition{AgeInDays: int(rule.Condition.AgeInDays)},
		})
	}
	return attrs
}

func toGCSLifecycle(rules []LifecycleRule) storage.Lifecycle {
	lc := storage.Lifecycle{Rules: make([]storage.LifecycleRule, 0, len(rules))}
	for _, rule := range rules {
		lc.Rules = append(lc.Rules, storage.LifecycleRule{
			Action:    storage.LifecycleAction{Type: rule.Action.Type},
			Condition: storage.LifecycleCondition{AgeInDays: int64(rule.Condition.AgeInDays)},
		})
	}
	return lc
}

func toGCSBucketAttrs(attrs *BucketAttributes) *storage.BucketAttrs {
	if attrs == nil {
		return nil
	}
	gcsAttrs := &storage.BucketAttrs{
		Name:              attrs.Name,
		Location:          attrs.Location,
		StorageClass:      attrs.StorageClass,
		VersioningEnabled: attrs.VersioningEnabled,
		Labels:            attrs.Labels,
	}
	if attrs.LifecycleRules != nil {
		gcsAttrs.Lifecycle = toGCSLifecycle(attrs.LifecycleRules)
	}
	return gcsAttrs
}

func toGCSBucketAttrsToUpdate(attrs BucketAttributesToUpdate, existing *storage.BucketAttrs) storage.BucketAttrsToUpdate {
	update := storage.BucketAttrsToUpdate{VersioningEnabled: attrs.VersioningEnabled}
	if attrs.StorageClass != nil && *attrs.StorageClass != "" {
		update.StorageClass = *attrs.StorageClass
	}
	if attrs.Labels != nil {
		for k, v := range attrs.Labels {
			update.SetLabel(k, v)
		}
		if existing != nil {
			for k := range existing.Labels {
				if _, keep := attrs.Labels[k]; !keep {
					update.DeleteLabel(k)
				}
			}
		}
	}
	if attrs.LifecycleRules != nil {
		lc := toGCSLifecycle(*attrs.LifecycleRules)
		update.Lifecycle = &lc
	}
	return update
}

func fromGCSNotification(n *storage.Notification) NotificationConfig {
	return NotificationConfig{
		ID:               n.ID,
		TopicProjectID:   n.TopicProjectID,
		TopicID:          n.TopicID,
		EventTypes:       n.EventTypes,
		ObjectNamePrefix: n.ObjectNamePrefix,
		CustomAttributes: n.CustomAttributes,
	}
}

// --- GCS Handle/Client Adapters ---

type gcsBucketHandleAdapter struct {
	bucket gcsBucketHandle
}

func (a *gcsBucketHandleAdapter) Attrs(ctx context.Context) (*BucketAttributes, error) {
	gcsAttrs, err := a.bucket.Attrs(ctx)
	if errors.Is(err, storage.ErrBucketNotExist) {
		return nil, ErrBucketNotExist
	}
	if err != nil {
		return nil, err
	}
	return fromGCSBucketAttrs(gcsAttrs), nil
}

func (a *gcsBucketHandleAdapter) Create(ctx context.Context, projectID string, attrs *BucketAttributes) error {
	return a.bucket.Create(ctx, projectID, toGCSBucketAttrs(attrs))
}

func (a *gcsBucketHandleAdapter) Update(ctx context.Context, attrs BucketAttributesToUpdate) (*BucketAttributes, error) {
	existing, err := a.bucket.Attrs(ctx)
	if err != nil && !errors.Is(err, storage.ErrBucketNotExist) {
		return nil, fmt.Errorf("failed to get existing attributes before update: %w", err)
	}
	updated, err := a.bucket.Update(ctx, toGCSBucketAttrsToUpdate(attrs, existing))
	if err != nil {
		return nil, err
	}
	return fromGCSBucketAttrs(updated), nil
}

func (a *gcsBucketHandleAdapter) AddNotification(ctx context.Context, n NotificationConfig) (*NotificationConfig, error) {
	created, err := a.bucket.AddNotification(ctx, &storage.Notification{
		TopicProjectID:   n.TopicProjectID,
		TopicID:          n.TopicID,
		EventTypes:       n.EventTypes,
		ObjectNamePrefix: n.ObjectNamePrefix,
		CustomAttributes: n.CustomAttributes,
		PayloadFormat:    storage.JSONPayload,
	})
	if err != nil {
		return nil, err
	}
	out := fromGCSNotification(created)
	return &out, nil
}

// Notifications lists the bucket's notifications ordered by id.
func (a *gcsBucketHandleAdapter) Notifications(ctx context.Context) ([]NotificationConfig, error) {
	byID, err := a.bucket.Notifications(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]NotificationConfig, 0, len(byID))
	for _, n := range byID {
		out = append(out, fromGCSNotification(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (a *gcsBucketHandleAdapter) DeleteNotification(ctx context.Context, id string) error {
	return a.bucket.DeleteNotification(ctx, id)
}

// gcsClientAdapter wraps a *storage.Client to conform to our StorageClient interface.
type gcsClientAdapter struct {
	client *storage.Client
}

func (a *gcsClientAdapter) Bucket(name string) StorageBucketHandle {
	return &gcsBucketHandleAdapter{bucket: a.client.Bucket(name)}
}

func (a *gcsClientAdapter) ServiceAccount(ctx context.Context, projectID string) (string, error) {
	return a.client.ServiceAccount(ctx, projectID)
}

func (a *gcsClientAdapter) Close() error {
	return a.client.Close()
}

// NewGCSClientAdapter creates a new StorageClient adapter from a concrete *storage.Client.
func NewGCSClientAdapter(client *storage.Client) StorageClient {
	if client == nil {
		return nil
	}
	return &gcsClientAdapter{client: client}
}

// CreateGoogleGCSClient creates a real GCS client wrapped in the StorageClient interface.
func CreateGoogleGCSClient(ctx context.Context, clientOpts ...option.ClientOption) (StorageClient, error) {
	realClient, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	return NewGCSClientAdapter(realClient), nil
}
