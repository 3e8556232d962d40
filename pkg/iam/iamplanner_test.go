package iam_test

import (
	"testing"

	"github.com/illmade-knight/go-bucket-events/pkg/iam"
	"github.com/illmade-knight/go-bucket-events/pkg/servicemanager"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func testArchitecture() *servicemanager.EventsArchitecture {
	return &servicemanager.EventsArchitecture{
		Environment: servicemanager.Environment{Name: "test", ProjectID: "test-project", Region: "europe-west1"},
		Buckets:     []servicemanager.BucketSpec{{Name: "uploads"}},
		Functions: []servicemanager.FunctionSpec{
			{Name: "thumbs", URI: "https://thumbs.run.app"},
			{Name: "audit", Region: "us-central1"},
		},
		Subscriptions: []servicemanager.SubscriptionSpec{
			{Name: "thumbs-on-put", Bucket: "uploads", Function: "thumbs", Helper: servicemanager.HelperOnPut},
			{Name: "thumbs-on-delete", Bucket: "uploads", Function: "thumbs", Helper: servicemanager.HelperOnDelete},
			{Name: "audit-all", Bucket: "uploads", Function: "audit", Events: []string{"removed:*"}},
		},
	}
}

func TestPlanRolesForDeployer(t *testing.T) {
	planner := iam.NewRolePlanner(zerolog.Nop())

	t.Run("Full Architecture", func(t *testing.T) {
		roles := planner.PlanRolesForDeployer(testArchitecture())
		assert.Equal(t, []string{
			"roles/iam.serviceAccountAdmin",
			"roles/iam.serviceAccountUser",
			"roles/pubsub.admin",
			"roles/run.admin",
			"roles/storage.admin",
		}, roles)
	})

	t.Run("Buckets And Lookups Only", func(t *testing.T) {
		arch := &servicemanager.EventsArchitecture{
			Buckets:   []servicemanager.BucketSpec{{Name: "uploads"}},
			Functions: []servicemanager.FunctionSpec{{Name: "audit"}},
		}
		assert.Equal(t, []string{"roles/run.viewer", "roles/storage.admin"}, planner.PlanRolesForDeployer(arch))
	})

	t.Run("Empty", func(t *testing.T) {
		assert.Empty(t, planner.PlanRolesForDeployer(&servicemanager.EventsArchitecture{}))
	})
}

func TestPlanInvokerBindings(t *testing.T) {
	planner := iam.NewRolePlanner(zerolog.Nop())

	bindings := planner.PlanInvokerBindings(testArchitecture())

	assert.Equal(t, []iam.IAMBinding{
		{ResourceType: "cloudrun_service", ResourceID: "thumbs", ResourceLocation: "europe-west1", Role: "roles/run.invoker"},
		{ResourceType: "cloudrun_service", ResourceID: "audit", ResourceLocation: "us-central1", Role: "roles/run.invoker"},
	}, bindings)
}
