package iam

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/iam"
	admin "cloud.google.com/go/iam/admin/apiv1"
	"cloud.google.com/go/iam/admin/apiv1/adminpb"
	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
	run "google.golang.org/api/run/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// iamHandle is an unexported interface that abstracts the common methods
// from various resource-specific IAM handles, allowing for unified logic.
type iamHandle interface {
	Policy(ctx context.Context) (*iam.Policy, error)
	SetPolicy(ctx context.Context, p *iam.Policy) error
}

// GoogleIAMClient holds the necessary Google Cloud clients for IAM operations.
type GoogleIAMClient struct {
	projectID      string
	iamAdminClient *admin.IamClient
	pubsubClient   *pubsub.Client
	runService     *run.Service
}

// NewGoogleIAMClient creates a new, fully initialized client for real Google Cloud IAM operations.
func NewGoogleIAMClient(ctx context.Context, projectID string, opts ...option.ClientOption) (*GoogleIAMClient, error) {
	adminClient, err := admin.NewIamClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create IAM admin client: %w", err)
	}
	psClient, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		_ = adminClient.Close()
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	runService, err := run.NewService(ctx, opts...)
	if err != nil {
		_ = adminClient.Close()
		_ = psClient.Close()
		return nil, fmt.Errorf("failed to create run service: %w", err)
	}

	return &GoogleIAMClient{
		projectID:      projectID,
		iamAdminClient: adminClient,
		pubsubClient:   psClient,
		runService:     runService,
	}, nil
}

// EnsureServiceAccountExists creates a service account if it does not already exist.
func (c *GoogleIAMClient) EnsureServiceAccountExists(ctx context.Context, accountName string) (string, error) {
	accountID := strings.Split(accountName, "@")[0]
	email := fmt.Sprintf("%s@%s.iam.gserviceaccount.com", accountID, c.projectID)
	resourceName := fmt.Sprintf("projects/%s/serviceAccounts/%s", c.projectID, email)

	_, err := c.iamAdminClient.GetServiceAccount(ctx, &adminpb.GetServiceAccountRequest{Name: resourceName})
	if err == nil {
		log.Debug().Str("email", email).Msg("Service account already exists.")
		return email, nil
	}
	if status.Code(err) != codes.NotFound {
		return "", fmt.Errorf("failed to check for service account %s: %w", email, err)
	}

	createReq := &adminpb.CreateServiceAccountRequest{
		Name:           "projects/" + c.projectID,
		AccountId:      accountID,
		ServiceAccount: &adminpb.ServiceAccount{DisplayName: "Bucket event invoker " + accountID},
	}
	sa, err := c.iamAdminClient.CreateServiceAccount(ctx, createReq)
	if status.Code(err) == codes.AlreadyExists {
		log.Debug().Str("email", email).Msg("Service account created concurrently.")
		return email, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to create service account %s: %w", email, err)
	}
	log.Info().Str("email", sa.Email).Msg("Created service account.")
	return sa.Email, nil
}

func (c *GoogleIAMClient) standardHandle(binding IAMBinding) (iamHandle, bool) {
	if binding.ResourceType == ResourceTypePubsubTopic {
		return c.pubsubClient.Topic(binding.ResourceID).IAM(), true
	}
	return nil, false
}

// AddResourceIAMBinding uses the correct handle for the given resource type to add an IAM binding.
func (c *GoogleIAMClient) AddResourceIAMBinding(ctx context.Context, binding IAMBinding, member string) error {
	if binding.ResourceType == ResourceTypeCloudRunService {
		return c.updateCloudRunPolicy(ctx, binding, func(p *run.GoogleIamV1Policy) bool {
			return addRunMember(p, binding.Role, member)
		})
	}
	handle, ok := c.standardHandle(binding)
	if !ok {
		return fmt.Errorf("unsupported resource type for IAM binding: %s", binding.ResourceType)
	}
	return addStandardIAMBinding(ctx, handle, binding.Role, member)
}

// CheckResourceIAMBinding reports whether member already holds the role.
func (c *GoogleIAMClient) CheckResourceIAMBinding(ctx context.Context, binding IAMBinding, member string) (bool, error) {
	if binding.ResourceType == ResourceTypeCloudRunService {
		policy, err := c.runService.Projects.Locations.Services.GetIamPolicy(c.runServiceName(binding)).Context(ctx).Do()
		if err != nil {
			return false, fmt.Errorf("failed to get IAM policy for Cloud Run service %s: %w", binding.ResourceID, err)
		}
		return runHasMember(policy, binding.Role, member), nil
	}
	handle, ok := c.standardHandle(binding)
	if !ok {
		return false, fmt.Errorf("unsupported resource type for IAM check: %s", binding.ResourceType)
	}
	policy, err := handle.Policy(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get policy: %w", err)
	}
	return policy.HasRole(member, iam.RoleName(binding.Role)), nil
}

// --- Private Helper functions for Standard IAM ---

// addStandardIAMBinding is a helper for resources that use the standard iam.Policy object.
func addStandardIAMBinding(ctx context.Context, handle iamHandle, role, member string) error {
	policy, err := handle.Policy(ctx)
	if err != nil {
		return fmt.Errorf("failed to get policy: %w", err)
	}
	if policy.HasRole(member, iam.RoleName(role)) {
		return nil
	}
	policy.Add(member, iam.RoleName(role))
	return handle.SetPolicy(ctx, policy)
}

// --- Cloud Run IAM ---

func (c *GoogleIAMClient) runServiceName(binding IAMBinding) string {
	return fmt.Sprintf("projects/%s/locations/%s/services/%s", c.projectID, binding.ResourceLocation, binding.ResourceID)
}

// updateCloudRunPolicy reads the service policy, applies mutate and writes it
// back only when mutate reports a change.
func (c *GoogleIAMClient) updateCloudRunPolicy(ctx context.Context, binding IAMBinding, mutate func(*run.GoogleIamV1Policy) bool) error {
	if binding.ResourceLocation == "" {
		return errors.New("location is required for Cloud Run service IAM binding but was not provided")
	}
	fullServiceName := c.runServiceName(binding)

	policy, err := c.runService.Projects.Locations.Services.GetIamPolicy(fullServiceName).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to get IAM policy for Cloud Run service %s: %w", binding.ResourceID, err)
	}
	if !mutate(policy) {
		log.Debug().Str("role", binding.Role).Str("service", binding.ResourceID).Msg("Cloud Run service policy unchanged.")
		return nil
	}

	setPolicyRequest := &run.GoogleIamV1SetIamPolicyRequest{Policy: policy}
	_, err = c.runService.Projects.Locations.Services.SetIamPolicy(fullServiceName, setPolicyRequest).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to set IAM policy for Cloud Run service %s: %w", binding.ResourceID, err)
	}
	log.Info().Str("role", binding.Role).Str("service", binding.ResourceID).Msg("Updated Cloud Run service IAM policy.")
	return nil
}

func runHasMember(policy *run.GoogleIamV1Policy, role, member string) bool {
	for _, b := range policy.Bindings {
		if b.Role != role {
			continue
		}
		for _, m := range b.Members {
			if m == member {
				return true
			}
		}
	}
	return false
}

func addRunMember(policy *run.GoogleIamV1Policy, role, member string) bool {
	if runHasMember(policy, role, member) {
		return false
	}
	for _, b := range policy.Bindings {
		if b.Role == role {
			b.Members = append(b.Members, member)
			return true
		}
	}
	policy.Bindings = append(policy.Bindings, &run.GoogleIamV1Binding{Role: role, Members: []string{member}})
	return true
}

// Close gracefully terminates all underlying client connections.
func (c *GoogleIAMClient) Close() error {
	var errs []error
	if err := c.iamAdminClient.Close(); err != nil {
		errs = append(errs, fmt.Errorf("iamAdminClient: %w", err))
	}
	if err := c.pubsubClient.Close(); err != nil {
		errs = append(errs, fmt.Errorf("pubsubClient: %w", err))
	}
	return errors.Join(errs...)
}
