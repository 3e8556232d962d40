package orchestration

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-bucket-events/pkg/bucketevents"
	"github.com/illmade-knight/go-bucket-events/pkg/engine"
	"github.com/illmade-knight/go-bucket-events/pkg/iam"
	"github.com/illmade-knight/go-bucket-events/pkg/servicemanager"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// Clients are the cloud clients the provisioners talk to.
type Clients struct {
	Storage   servicemanager.StorageClient
	Messaging servicemanager.MessagingClient
	IAM       iam.IAMClient
	Locator   servicemanager.FunctionLocator
}

// Close closes every non-nil client.
func (c *Clients) Close() error {
	var errs []error
	if c.Storage != nil {
		errs = append(errs, c.Storage.Close())
	}
	if c.Messaging != nil {
		errs = append(errs, c.Messaging.Close())
	}
	if c.IAM != nil {
		errs = append(errs, c.IAM.Close())
	}
	return errors.Join(errs...)
}

// NewGoogleClients creates the Google Cloud clients for the architecture's project.
func NewGoogleClients(ctx context.Context, env servicemanager.Environment, opts ...option.ClientOption) (*Clients, error) {
	clients := &Clients{}
	var err error
	if clients.Storage, err = servicemanager.CreateGoogleGCSClient(ctx, opts...); err != nil {
		return nil, err
	}
	if clients.Messaging, err = servicemanager.CreateGoogleMessagingClient(ctx, env.ProjectID, opts...); err != nil {
		_ = clients.Close()
		return nil, err
	}
	if clients.IAM, err = iam.NewGoogleIAMClient(ctx, env.ProjectID, opts...); err != nil {
		_ = clients.Close()
		return nil, err
	}
	if clients.Locator, err = servicemanager.NewCloudRunLocator(ctx, opts...); err != nil {
		_ = clients.Close()
		return nil, err
	}
	return clients, nil
}

// NewProvisioners maps each resource kind to the manager that realises it.
func NewProvisioners(clients *Clients, env servicemanager.Environment, logger zerolog.Logger) (engine.Provisioners, error) {
	storage, err := servicemanager.NewStorageManager(clients.Storage, logger, env)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage manager: %w", err)
	}
	notifications, err := servicemanager.NewNotificationManager(clients.Storage, clients.Messaging, iam.TopicRoleGranter{Client: clients.IAM}, logger, env)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification manager: %w", err)
	}
	permissions, err := iam.NewPermissionManager(clients.IAM, env.InvokerServiceAccount, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create permission manager: %w", err)
	}
	return engine.Provisioners{
		bucketevents.KindBucket:             storage,
		bucketevents.KindFunction:           servicemanager.NewFunctionManager(clients.Locator, logger, env),
		bucketevents.KindInvokePermission:   permissions,
		bucketevents.KindBucketNotification: notifications,
	}, nil
}
