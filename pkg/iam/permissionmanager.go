package iam

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/illmade-knight/go-bucket-events/pkg/bucketevents"
	"github.com/illmade-knight/go-bucket-events/pkg/engine"
	"github.com/rs/zerolog"
)

// RunInvokerRole lets a member invoke a Cloud Run service.
const RunInvokerRole = "roles/run.invoker"

// ErrUnsupportedPrincipal is returned for invoke permissions naming a source
// principal this manager cannot map to an identity.
var ErrUnsupportedPrincipal = errors.New("unsupported source principal")

// PermissionManager realises invoke permissions. Storage notifications reach a
// function through push subscriptions that authenticate as a dedicated invoker
// service account, so allowing the storage principal to invoke a function means
// granting that account the invoker role on the function's service.
//
// Grants on the same service are serialized: a service policy is updated with
// a read-modify-write, and concurrent writers would conflict on its etag.
type PermissionManager struct {
	client         IAMClient
	invokerAccount string
	logger         zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPermissionManager creates a manager that grants invokerAccount the right
// to call functions on behalf of bucket notifications.
func NewPermissionManager(client IAMClient, invokerAccount string, logger zerolog.Logger) (*PermissionManager, error) {
	if client == nil {
		return nil, errors.New("iam client cannot be nil")
	}
	if invokerAccount == "" {
		return nil, errors.New("invoker service account cannot be empty")
	}
	return &PermissionManager{
		client:         client,
		invokerAccount: invokerAccount,
		logger:         logger.With().Str("component", "PermissionManager").Logger(),
		locks:          make(map[string]*sync.Mutex),
	}, nil
}

func (pm *PermissionManager) serviceLock(location, function string) *sync.Mutex {
	key := location + "/" + function
	pm.mu.Lock()
	defer pm.mu.Unlock()
	l, ok := pm.locks[key]
	if !ok {
		l = &sync.Mutex{}
		pm.locks[key] = l
	}
	return l
}

type permissionProps struct {
	function       string
	location       string
	principal      string
	sourceResource string
}

func parsePermissionProps(name string, props engine.Properties) (permissionProps, error) {
	var p permissionProps
	p.function, _ = props["function"].(string)
	p.location, _ = props["location"].(string)
	p.principal, _ = props["principal"].(string)
	p.sourceResource, _ = props["sourceResource"].(string)
	if p.function == "" || p.location == "" {
		return p, fmt.Errorf("permission '%s': function and location are required", name)
	}
	if p.principal != bucketevents.EventSourcePrincipal {
		return p, fmt.Errorf("permission '%s': %w: %q", name, ErrUnsupportedPrincipal, p.principal)
	}
	return p, nil
}

// Create implements engine.Provisioner for invoke permissions.
func (pm *PermissionManager) Create(ctx context.Context, _ string, name string, props engine.Properties) (map[string]any, error) {
	p, err := parsePermissionProps(name, props)
	if err != nil {
		return nil, err
	}
	log := pm.logger.With().Str("permission", name).Str("function", p.function).Logger()

	email, err := pm.client.EnsureServiceAccountExists(ctx, pm.invokerAccount)
	if err != nil {
		return nil, fmt.Errorf("permission '%s': %w", name, err)
	}
	member := "serviceAccount:" + email
	binding := IAMBinding{
		ResourceType:     ResourceTypeCloudRunService,
		ResourceID:       p.function,
		ResourceLocation: p.location,
		Role:             RunInvokerRole,
	}

	present, err := pm.grant(ctx, binding, member, log)
	if err != nil {
		return nil, fmt.Errorf("permission '%s': %w", name, err)
	}

	log.Info().Str("member", member).Str("source", p.sourceResource).Bool("already_granted", present).Msg("Invoke permission in place")
	return map[string]any{
		"id":             fmt.Sprintf("%s/%s/%s", p.location, p.function, RunInvokerRole),
		"member":         member,
		"role":           RunInvokerRole,
		"sourceResource": p.sourceResource,
	}, nil
}

// grant adds member to the binding unless it already holds it. It reports
// whether the binding was already present.
func (pm *PermissionManager) grant(ctx context.Context, binding IAMBinding, member string, log zerolog.Logger) (bool, error) {
	l := pm.serviceLock(binding.ResourceLocation, binding.ResourceID)
	l.Lock()
	defer l.Unlock()

	present, err := pm.client.CheckResourceIAMBinding(ctx, binding, member)
	if err != nil {
		log.Warn().Err(err).Msg("Could not check existing binding, granting anyway")
	}
	if present {
		return true, nil
	}
	return false, pm.client.AddResourceIAMBinding(ctx, binding, member)
}
