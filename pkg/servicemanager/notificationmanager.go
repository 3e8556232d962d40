package servicemanager

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-bucket-events/pkg/bucketevents"
	"github.com/illmade-knight/go-bucket-events/pkg/engine"
	"github.com/rs/zerolog"
)

// TopicPublisherRole lets a member publish to a Pub/Sub topic.
const TopicPublisherRole = "roles/pubsub.publisher"

// notificationEntry is one subscription inside an aggregate notification.
type notificationEntry struct {
	Name         string
	EventTypes   []string
	FilterPrefix string
	FilterSuffix string
	Target       string
	Audience     string
}

// NotificationManager realises aggregate bucket notifications. Each aggregate
// gets its own topic; every entry becomes a bucket notification tagged with the
// entry name plus a filtered push subscription delivering to the entry's target.
type NotificationManager struct {
	storage     StorageClient
	messaging   MessagingClient
	topicIAM    TopicIAMGranter
	logger      zerolog.Logger
	environment Environment
}

// NewNotificationManager creates a manager for aggregate bucket notifications.
func NewNotificationManager(storage StorageClient, messaging MessagingClient, topicIAM TopicIAMGranter, logger zerolog.Logger, environment Environment) (*NotificationManager, error) {
	if storage == nil {
		return nil, errors.New("storage client cannot be nil")
	}
	if messaging == nil {
		return nil, errors.New("messaging client cannot be nil")
	}
	if topicIAM == nil {
		return nil, errors.New("topic iam granter cannot be nil")
	}
	return &NotificationManager{
		storage:     storage,
		messaging:   messaging,
		topicIAM:    topicIAM,
		logger:      logger.With().Str("component", "NotificationManager").Logger(),
		environment: environment,
	}, nil
}

// SubscriptionFilter returns the Pub/Sub filter selecting messages that belong
// to the named subscription.
func SubscriptionFilter(subscription string) string {
	return fmt.Sprintf("attributes.%s = %q", bucketevents.AttrSubscription, subscription)
}

func parseEntries(raw any) ([]notificationEntry, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("entries: expected a list, got %T", raw)
	}
	if len(list) == 0 {
		return nil, errors.New("entries: at least one subscription is required")
	}
	entries := make([]notificationEntry, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("entries[%d]: expected a map, got %T", i, item)
		}
		var e notificationEntry
		e.Name, _ = m["name"].(string)
		e.FilterPrefix, _ = m["filterPrefix"].(string)
		e.FilterSuffix, _ = m["filterSuffix"].(string)
		e.Target, _ = m["target"].(string)
		e.Audience, _ = m["audience"].(string)
		if e.Name == "" || e.Target == "" {
			return nil, fmt.Errorf("entries[%d]: name and target are required", i)
		}
		events, ok := m["events"].([]string)
		if !ok {
			return nil, fmt.Errorf("entries[%d]: events must be a list of strings", i)
		}
		types, err := bucketevents.GCSEventTypes(events)
		if err != nil {
			return nil, fmt.Errorf("entries[%d] '%s': %w", i, e.Name, err)
		}
		e.EventTypes = types
		entries = append(entries, e)
	}
	return entries, nil
}

// Create implements engine.Provisioner for aggregate bucket notifications.
// Re-running it replaces the bucket's notifications for the same topic.
func (nm *NotificationManager) Create(ctx context.Context, _ string, name string, props engine.Properties) (map[string]any, error) {
	bucketName, ok := props["bucket"].(string)
	if !ok || bucketName == "" {
		return nil, fmt.Errorf("notification '%s': bucket is required", name)
	}
	entries, err := parseEntries(props["entries"])
	if err != nil {
		return nil, fmt.Errorf("notification '%s': %w", name, err)
	}
	log := nm.logger.With().Str("notification", name).Str("bucket", bucketName).Logger()

	topicID := PubsubID(name, "events")
	if err := nm.messaging.EnsureTopic(ctx, topicID, nm.environment.Labels); err != nil {
		return nil, err
	}

	agent, err := nm.storage.ServiceAccount(ctx, nm.environment.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up storage service agent: %w", err)
	}
	if err := nm.topicIAM.GrantTopicRole(ctx, topicID, TopicPublisherRole, "serviceAccount:"+agent); err != nil {
		return nil, fmt.Errorf("failed to grant storage agent publish on topic '%s': %w", topicID, err)
	}

	bucket := nm.storage.Bucket(bucketName)
	if err := nm.clearNotifications(ctx, bucket, topicID); err != nil {
		return nil, err
	}

	notificationIDs := make([]any, 0, len(entries))
	subscriptions := make([]any, 0, len(entries))
	for _, e := range entries {
		attrs := map[string]string{bucketevents.AttrSubscription: e.Name}
		if e.FilterSuffix != "" {
			attrs[bucketevents.AttrFilterSuffix] = e.FilterSuffix
		}
		created, err := bucket.AddNotification(ctx, NotificationConfig{
			TopicProjectID:   nm.environment.ProjectID,
			TopicID:          topicID,
			EventTypes:       e.EventTypes,
			ObjectNamePrefix: e.FilterPrefix,
			CustomAttributes: attrs,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to add notification for subscription '%s' on bucket '%s': %w", e.Name, bucketName, err)
		}
		notificationIDs = append(notificationIDs, created.ID)

		cfg := PushSubscriptionConfig{
			Name:     PubsubID(name, e.Name),
			Topic:    topicID,
			Endpoint: e.Target,
			Audience: e.Audience,
			Filter:   SubscriptionFilter(e.Name),
			Labels:   nm.environment.Labels,
		}
		if nm.environment.InvokerServiceAccount != "" {
			cfg.ServiceAccountEmail = nm.environment.InvokerEmail()
		}
		if err := nm.messaging.EnsurePushSubscription(ctx, cfg); err != nil {
			return nil, err
		}
		subscriptions = append(subscriptions, cfg.Name)
		log.Debug().Str("subscription", e.Name).Strs("events", e.EventTypes).Msg("Wired subscription")
	}

	log.Info().Str("topic", topicID).Int("subscriptions", len(entries)).Msg("Bucket notification realised")
	return map[string]any{
		"id":              topicID,
		"topic":           topicID,
		"notificationIds": notificationIDs,
		"subscriptions":   subscriptions,
	}, nil
}

func (nm *NotificationManager) clearNotifications(ctx context.Context, bucket StorageBucketHandle, topicID string) error {
	existing, err := bucket.Notifications(ctx)
	if err != nil {
		return fmt.Errorf("failed to list notifications: %w", err)
	}
	var errs []error
	for _, n := range existing {
		if n.TopicID != topicID {
			continue
		}
		if err := bucket.DeleteNotification(ctx, n.ID); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete notification '%s': %w", n.ID, err))
		}
	}
	return errors.Join(errs...)
}
