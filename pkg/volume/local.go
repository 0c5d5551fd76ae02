// Package volume backs Storage-kind Resources with plain host directories:
// a Storage resource reduces to "a directory the Resource Manager hands
// out and reclaims", one directory per resource id.
package volume

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dualhorizon/malbox/pkg/types"
	"github.com/google/uuid"
)

// DefaultStoragePath is the base directory for local storage-kind resources.
const DefaultStoragePath = "/var/lib/malbox/storage"

// LocalStorageDriver provisions and destroys plain host directories used as
// Storage-kind Resources: scratch space for plugin capture output, sample
// extraction, etc.
type LocalStorageDriver struct {
	basePath string
}

// NewLocalStorageDriver creates a driver rooted at basePath ("" selects
// DefaultStoragePath), ensuring the root directory exists.
func NewLocalStorageDriver(basePath string) (*LocalStorageDriver, error) {
	if basePath == "" {
		basePath = DefaultStoragePath
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", basePath, err)
	}
	return &LocalStorageDriver{basePath: basePath}, nil
}

// Provision creates a new storage directory and returns it as a Resource in
// state Available (a local directory needs no separate Start step, unlike a
// VM resource).
func (d *LocalStorageDriver) Provision(ctx context.Context, spec types.ResourceSpec) (*types.Resource, error) {
	id := uuid.New().String()
	path := d.path(id)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory %s: %w", path, err)
	}
	now := time.Now()
	return &types.Resource{
		ID:   id,
		Name: id,
		Kind: types.ResourceKindStorage,
		Status: types.ResourceStatus{
			State:     types.ResourceStateAvailable,
			UpdatedAt: now,
			Healthy:   true,
		},
		Properties: types.ResourceProperties{
			Custom: map[string]string{"path": path},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Path returns the host directory backing resourceID.
func (d *LocalStorageDriver) Path(resourceID string) string {
	return d.path(resourceID)
}

func (d *LocalStorageDriver) path(resourceID string) string {
	return filepath.Join(d.basePath, resourceID)
}

// Destroy removes resourceID's directory and everything under it. A
// missing directory is not an error; destroying twice is the same as
// destroying once.
func (d *LocalStorageDriver) Destroy(ctx context.Context, resourceID string) error {
	path := d.path(resourceID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove storage directory %s: %w", path, err)
	}
	return nil
}
