package servicemanager

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/illmade-knight/go-bucket-events/pkg/engine"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	run "google.golang.org/api/run/v2"
)

// ErrFunctionNotFound is returned when a referenced function has not been deployed.
var ErrFunctionNotFound = errors.New("function not found")

// FunctionLocator resolves a deployed function to its invocation URI.
type FunctionLocator interface {
	ServiceURI(ctx context.Context, serviceName string) (string, error)
}

// ServiceName returns the fully qualified Cloud Run service name.
func ServiceName(projectID, region, name string) string {
	return fmt.Sprintf("projects/%s/locations/%s/services/%s", projectID, region, name)
}

type cloudRunLocator struct {
	svc *run.Service
}

func (l *cloudRunLocator) ServiceURI(ctx context.Context, serviceName string) (string, error) {
	service, err := l.svc.Projects.Locations.Services.Get(serviceName).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return "", fmt.Errorf("%w: %s", ErrFunctionNotFound, serviceName)
		}
		return "", fmt.Errorf("failed to get service '%s': %w", serviceName, err)
	}
	if service.Uri == "" {
		return "", fmt.Errorf("service '%s' has no uri yet", serviceName)
	}
	return service.Uri, nil
}

// NewCloudRunLocator creates a FunctionLocator backed by the Cloud Run admin API.
func NewCloudRunLocator(ctx context.Context, opts ...option.ClientOption) (FunctionLocator, error) {
	svc, err := run.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("run.NewService: %w", err)
	}
	return &cloudRunLocator{svc: svc}, nil
}

// FunctionManager resolves function resources. Functions are deployed
// elsewhere; this manager only looks up where they can be invoked.
type FunctionManager struct {
	locator     FunctionLocator
	logger      zerolog.Logger
	environment Environment
}

// NewFunctionManager creates a manager for function resources. locator may be
// nil when every function carries an explicit uri.
func NewFunctionManager(locator FunctionLocator, logger zerolog.Logger, environment Environment) *FunctionManager {
	return &FunctionManager{
		locator:     locator,
		logger:      logger.With().Str("component", "FunctionManager").Logger(),
		environment: environment,
	}
}

// FunctionProperties converts a function spec into resource properties.
func FunctionProperties(f FunctionSpec) engine.Properties {
	props := engine.Properties{}
	if f.URI != "" {
		props["uri"] = f.URI
	}
	if f.Audience != "" {
		props["audience"] = f.Audience
	}
	return props
}

// Create implements engine.Provisioner for function resources.
func (fm *FunctionManager) Create(ctx context.Context, _ string, name string, props engine.Properties) (map[string]any, error) {
	region, _ := props["location"].(string)
	if region == "" {
		region = fm.environment.Region
	}
	if region == "" {
		return nil, fmt.Errorf("function '%s': no region", name)
	}
	id := ServiceName(fm.environment.ProjectID, region, name)

	uri, _ := props["uri"].(string)
	if uri == "" {
		if fm.locator == nil {
			return nil, fmt.Errorf("function '%s': no uri and no locator configured", name)
		}
		var err error
		uri, err = fm.locator.ServiceURI(ctx, id)
		if err != nil {
			return nil, err
		}
	}
	audience, _ := props["audience"].(string)
	if audience == "" {
		audience = uri
	}
	fm.logger.Info().Str("function", name).Str("uri", uri).Msg("Resolved function")
	return map[string]any{"id": id, "uri": uri, "audience": audience, "region": region}, nil
}
