package servicemanager

import "context"

// PushSubscriptionConfig describes a push subscription that forwards bucket
// notifications to a function endpoint.
type PushSubscriptionConfig struct {
	Name                string
	Topic               string
	Endpoint            string
	ServiceAccountEmail string
	Audience            string
	Filter              string
	AckDeadlineSeconds  int
	Labels              map[string]string
}

// MessagingClient is the subset of a messaging service the notification
// manager needs.
type MessagingClient interface {
	// EnsureTopic creates the topic if it does not exist.
	EnsureTopic(ctx context.Context, topicID string, labels map[string]string) error
	// EnsurePushSubscription creates the subscription, or updates its push
	// endpoint if it already exists.
	EnsurePushSubscription(ctx context.Context, cfg PushSubscriptionConfig) error
	Close() error
}

// TopicIAMGranter grants roles on messaging topics.
type TopicIAMGranter interface {
	GrantTopicRole(ctx context.Context, topicID, role, member string) error
}
