package servicemanager

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// Google Cloud Pub/Sub constraints define the valid range for ack deadlines.
	minAckDeadline = 10 * time.Second
	maxAckDeadline = 600 * time.Second
)

// gcpMessagingClientAdapter wraps a *pubsub.Client to satisfy the MessagingClient interface.
type gcpMessagingClientAdapter struct{ client *pubsub.Client }

func (a *gcpMessagingClientAdapter) EnsureTopic(ctx context.Context, topicID string, labels map[string]string) error {
	exists, err := a.client.Topic(topicID).Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check topic '%s': %w", topicID, err)
	}
	if exists {
		return nil
	}
	_, err = a.client.CreateTopicWithConfig(ctx, topicID, &pubsub.TopicConfig{Labels: labels})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("failed to create topic '%s': %w", topicID, err)
	}
	return nil
}

func toPushConfig(cfg PushSubscriptionConfig) pubsub.PushConfig {
	pc := pubsub.PushConfig{Endpoint: cfg.Endpoint}
	if cfg.ServiceAccountEmail != "" {
		audience := cfg.Audience
		if audience == "" {
			audience = cfg.Endpoint
		}
		pc.AuthenticationMethod = &pubsub.OIDCToken{
			ServiceAccountEmail: cfg.ServiceAccountEmail,
			Audience:            audience,
		}
	}
	return pc
}

func (a *gcpMessagingClientAdapter) EnsurePushSubscription(ctx context.Context, cfg PushSubscriptionConfig) error {
	sub := a.client.Subscription(cfg.Name)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check subscription '%s': %w", cfg.Name, err)
	}
	pc := toPushConfig(cfg)

	if exists {
		// The filter is immutable; only the delivery target can change.
		_, err = sub.Update(ctx, pubsub.SubscriptionConfigToUpdate{PushConfig: &pc})
		if err != nil {
			return fmt.Errorf("failed to update subscription '%s': %w", cfg.Name, err)
		}
		return nil
	}

	gcpConfig := pubsub.SubscriptionConfig{
		Topic:      a.client.Topic(cfg.Topic),
		PushConfig: pc,
		Filter:     cfg.Filter,
		Labels:     cfg.Labels,
	}
	if cfg.AckDeadlineSeconds > 0 {
		ack := time.Duration(cfg.AckDeadlineSeconds) * time.Second
		if ack < minAckDeadline || ack > maxAckDeadline {
			return fmt.Errorf("subscription '%s' has an invalid ack deadline %s: must be between %s and %s", cfg.Name, ack, minAckDeadline, maxAckDeadline)
		}
		gcpConfig.AckDeadline = ack
	}
	_, err = a.client.CreateSubscription(ctx, cfg.Name, gcpConfig)
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("failed to create subscription '%s': %w", cfg.Name, err)
	}
	return nil
}

func (a *gcpMessagingClientAdapter) Close() error { return a.client.Close() }

// --- Factory Functions ---

// CreateGoogleMessagingClient creates a real Pub/Sub client wrapped in the MessagingClient interface.
func CreateGoogleMessagingClient(ctx context.Context, projectID string, clientOpts ...option.ClientOption) (MessagingClient, error) {
	realClient, err := pubsub.NewClient(ctx, projectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}
	return MessagingClientFromPubsubClient(realClient), nil
}

// MessagingClientFromPubsubClient wraps a concrete *pubsub.Client to satisfy the MessagingClient interface.
func MessagingClientFromPubsubClient(client *pubsub.Client) MessagingClient {
	if client == nil {
		return nil
	}
	return &gcpMessagingClientAdapter{client: client}
}
