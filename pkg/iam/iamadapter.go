package iam

import (
	"context"
	"fmt"
)

// Resource types understood by AddResourceIAMBinding.
const (
	ResourceTypePubsubTopic     = "pubsub_topic"
	ResourceTypeCloudRunService = "cloudrun_service"
)

// IAMBinding represents a single "who gets what on where" permission.
type IAMBinding struct {
	ResourceType string
	ResourceID   string
	// ResourceLocation is required for regional resources such as Cloud Run services.
	ResourceLocation string
	Role             string
}

// IAMClient defines the interface for low-level IAM operations.
// The concrete implementation is expected to be pre-configured with a project ID.
type IAMClient interface {
	// Service Account Lifecycle
	EnsureServiceAccountExists(ctx context.Context, accountName string) (string, error)

	// Resource IAM Policies
	AddResourceIAMBinding(ctx context.Context, binding IAMBinding, member string) error
	CheckResourceIAMBinding(ctx context.Context, binding IAMBinding, member string) (bool, error)

	// General
	Close() error
}

// TopicRoleGranter grants roles on Pub/Sub topics through an IAMClient.
type TopicRoleGranter struct {
	Client IAMClient
}

// GrantTopicRole adds member to role on the topic unless it already holds it.
func (g TopicRoleGranter) GrantTopicRole(ctx context.Context, topicID, role, member string) error {
	if g.Client == nil {
		return fmt.Errorf("no iam client to grant %s on topic '%s'", role, topicID)
	}
	binding := IAMBinding{ResourceType: ResourceTypePubsubTopic, ResourceID: topicID, Role: role}
	return g.Client.AddResourceIAMBinding(ctx, binding, member)
}
