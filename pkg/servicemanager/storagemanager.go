package servicemanager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/illmade-knight/go-bucket-events/pkg/engine"
	"github.com/rs/zerolog"
)

// ErrBucketNotExist is a standard error returned when a storage bucket is not found.
// This allows the manager to check for this condition without depending on a specific
// cloud provider's error types.
var ErrBucketNotExist = errors.New("storage: bucket does not exist")

// StorageManager ensures storage buckets exist. It realises bucket resources
// declared on an engine stack.
type StorageManager struct {
	client      StorageClient
	logger      zerolog.Logger
	environment Environment
}

// NewStorageManager creates a new manager for orchestrating storage bucket resources.
func NewStorageManager(client StorageClient, logger zerolog.Logger, environment Environment) (*StorageManager, error) {
	if client == nil {
		return nil, errors.New("storage client (StorageClient interface) cannot be nil")
	}
	return &StorageManager{
		client:      client,
		logger:      logger.With().Str("component", "StorageManager").Logger(),
		environment: environment,
	}, nil
}

// BucketProperties converts a bucket spec into resource properties.
func BucketProperties(b BucketSpec) engine.Properties {
	props := engine.Properties{
		"bucketName":        b.Name,
		"location":          b.Location,
		"storageClass":      b.StorageClass,
		"versioningEnabled": b.VersioningEnabled,
	}
	if len(b.Labels) > 0 {
		labels := make(map[string]any, len(b.Labels))
		for k, v := range b.Labels {
			labels[k] = v
		}
		props["labels"] = labels
	}
	if len(b.LifecycleRules) > 0 {
		rules := make([]any, 0, len(b.LifecycleRules))
		for _, r := range b.LifecycleRules {
			rules = append(rules, map[string]any{"action": r.Action.Type, "ageInDays": r.Condition.AgeInDays})
		}
		props["lifecycleRules"] = rules
	}
	return props
}

func bucketSpecFromProperties(name string, props engine.Properties) BucketSpec {
	spec := BucketSpec{Name: name}
	if v, ok := props["bucketName"].(string); ok && v != "" {
		spec.Name = v
	}
	spec.Location, _ = props["location"].(string)
	spec.StorageClass, _ = props["storageClass"].(string)
	spec.VersioningEnabled, _ = props["versioningEnabled"].(bool)
	if labels, ok := props["labels"].(map[string]any); ok {
		spec.Labels = make(map[string]string, len(labels))
		for k, v := range labels {
			spec.Labels[k] = fmt.Sprint(v)
		}
	}
	if rules, ok := props["lifecycleRules"].([]any); ok {
		for _, r := range rules {
			m, _ := r.(map[string]any)
			action, _ := m["action"].(string)
			age, _ := m["ageInDays"].(int)
			spec.LifecycleRules = append(spec.LifecycleRules, LifecycleRule{
				Action:    LifecycleAction{Type: action},
				Condition: LifecycleCondition{AgeInDays: age},
			})
		}
	}
	return spec
}

// Create implements engine.Provisioner for bucket resources. It creates the
// bucket, or updates it if it already exists, and returns its name as id.
func (sm *StorageManager) Create(ctx context.Context, _ string, name string, props engine.Properties) (map[string]any, error) {
	spec := bucketSpecFromProperties(name, props)
	if err := sm.ensureBucket(ctx, spec); err != nil {
		return nil, err
	}
	return map[string]any{"id": spec.Name, "name": spec.Name}, nil
}

func (sm *StorageManager) ensureBucket(ctx context.Context, cfg BucketSpec) error {
	log := sm.logger.With().Str("bucket", cfg.Name).Logger()
	if cfg.Location == "" {
		cfg.Location = sm.environment.Location
	}
	labels := make(map[string]string, len(sm.environment.Labels)+len(cfg.Labels))
	for k, v := range sm.environment.Labels {
		labels[k] = v
	}
	for k, v := range cfg.Labels {
		labels[k] = v
	}

	bucketHandle := sm.client.Bucket(cfg.Name)
	_, err := bucketHandle.Attrs(ctx)

	// If err is nil, the bucket exists, so we update it.
	if err == nil {
		log.Info().Msg("Bucket already exists, attempting to update.")
		updateAttrs := BucketAttributesToUpdate{
			StorageClass:      &cfg.StorageClass,
			VersioningEnabled: cfg.VersioningEnabled,
			Labels:            labels,
		}
		if cfg.LifecycleRules != nil {
			updateAttrs.LifecycleRules = &cfg.LifecycleRules
		}
		if _, err := bucketHandle.Update(ctx, updateAttrs); err != nil {
			return fmt.Errorf("failed to update bucket '%s': %w", cfg.Name, err)
		}
		log.Info().Msg("Bucket updated successfully.")
		return nil
	}

	if !errors.Is(err, ErrBucketNotExist) {
		return fmt.Errorf("failed to check existence of bucket '%s': %w", cfg.Name, err)
	}

	log.Info().Msg("Bucket does not exist, creating.")
	createAttrs := &BucketAttributes{
		Name:              cfg.Name,
		Location:          cfg.Location,
		StorageClass:      cfg.StorageClass,
		VersioningEnabled: cfg.VersioningEnabled,
		Labels:            labels,
		LifecycleRules:    cfg.LifecycleRules,
	}
	if err := bucketHandle.Create(ctx, sm.environment.ProjectID, createAttrs); err != nil {
		return fmt.Errorf("failed to create bucket '%s': %w", cfg.Name, err)
	}
	log.Info().Msg("Bucket created successfully.")
	return nil
}

// Verify checks concurrently that all specified buckets exist.
func (sm *StorageManager) Verify(ctx context.Context, buckets []BucketSpec) error {
	sm.logger.Info().Msg("Verifying Storage Buckets...")

	var wg sync.WaitGroup
	errChan := make(chan error, len(buckets))

	for _, bucketCfg := range buckets {
		wg.Add(1)
		go func(cfg BucketSpec) {
			defer wg.Done()
			if cfg.Name == "" {
				sm.logger.Warn().Msg("Skipping verification for bucket with empty name")
				return
			}
			_, err := sm.client.Bucket(cfg.Name).Attrs(ctx)
			if errors.Is(err, ErrBucketNotExist) {
				errChan <- fmt.Errorf("bucket '%s' not found", cfg.Name)
			} else if err != nil {
				errChan <- fmt.Errorf("failed to verify bucket '%s': %w", cfg.Name, err)
			}
		}(bucketCfg)
	}

	wg.Wait()
	close(errChan)

	var allErrors []error
	for err := range errChan {
		allErrors = append(allErrors, err)
	}
	if len(allErrors) > 0 {
		return fmt.Errorf("storage bucket verification completed with errors: %w", errors.Join(allErrors...))
	}

	sm.logger.Info().Msg("Storage Bucket verification completed successfully.")
	return nil
}
