package iam

import (
	"sort"

	"github.com/illmade-knight/go-bucket-events/pkg/servicemanager"
	"github.com/rs/zerolog"
)

// RolePlanner is responsible for analyzing an events architecture and
// determining the IAM roles required to deploy it.
type RolePlanner struct {
	logger zerolog.Logger
}

// NewRolePlanner creates a new planner.
func NewRolePlanner(logger zerolog.Logger) *RolePlanner {
	return &RolePlanner{
		logger: logger.With().Str("component", "RolePlanner").Logger(),
	}
}

// PlanRolesForDeployer inspects the architecture and returns, sorted, the
// project roles the deploying identity needs.
func (p *RolePlanner) PlanRolesForDeployer(arch *servicemanager.EventsArchitecture) []string {
	p.logger.Info().Str("architecture", arch.Name).Msg("Planning required IAM roles for deployer...")

	requiredRoles := make(map[string]struct{})
	if len(arch.Buckets) > 0 {
		requiredRoles["roles/storage.admin"] = struct{}{}
	}
	if len(arch.Subscriptions) > 0 {
		requiredRoles["roles/pubsub.admin"] = struct{}{}
		// Granting run.invoker on a service needs setIamPolicy.
		requiredRoles["roles/run.admin"] = struct{}{}
		requiredRoles["roles/iam.serviceAccountAdmin"] = struct{}{}
		requiredRoles["roles/iam.serviceAccountUser"] = struct{}{}
	}
	for _, f := range arch.Functions {
		if f.URI == "" {
			requiredRoles["roles/run.viewer"] = struct{}{}
			break
		}
	}
	if _, admin := requiredRoles["roles/run.admin"]; admin {
		delete(requiredRoles, "roles/run.viewer")
	}

	rolesSlice := make([]string, 0, len(requiredRoles))
	for role := range requiredRoles {
		rolesSlice = append(rolesSlice, role)
	}
	sort.Strings(rolesSlice)

	p.logger.Info().Strs("roles", rolesSlice).Msg("Deployer role plan complete")
	return rolesSlice
}

// PlanInvokerBindings returns the bindings the invoker account receives, one
// per function that some subscription targets.
func (p *RolePlanner) PlanInvokerBindings(arch *servicemanager.EventsArchitecture) []IAMBinding {
	regions := make(map[string]string, len(arch.Functions))
	for _, f := range arch.Functions {
		region := f.Region
		if region == "" {
			region = arch.Region
		}
		regions[f.Name] = region
	}

	seen := make(map[string]struct{})
	var bindings []IAMBinding
	for _, s := range arch.Subscriptions {
		if _, dup := seen[s.Function]; dup {
			continue
		}
		seen[s.Function] = struct{}{}
		bindings = append(bindings, IAMBinding{
			ResourceType:     ResourceTypeCloudRunService,
			ResourceID:       s.Function,
			ResourceLocation: regions[s.Function],
			Role:             RunInvokerRole,
		})
	}
	return bindings
}
