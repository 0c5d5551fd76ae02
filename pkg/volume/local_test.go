package volume

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dualhorizon/malbox/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageDriver_ProvisionCreatesDirectory(t *testing.T) {
	d, err := NewLocalStorageDriver(t.TempDir())
	require.NoError(t, err)

	resource, err := d.Provision(context.Background(), types.ResourceSpec{Kind: types.ResourceKindStorage})
	require.NoError(t, err)
	assert.Equal(t, types.ResourceKindStorage, resource.Kind)

	info, err := os.Stat(d.Path(resource.ID))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLocalStorageDriver_DestroyRemovesDirectory(t *testing.T) {
	d, err := NewLocalStorageDriver(t.TempDir())
	require.NoError(t, err)

	resource, err := d.Provision(context.Background(), types.ResourceSpec{})
	require.NoError(t, err)

	require.NoError(t, d.Destroy(context.Background(), resource.ID))
	_, err = os.Stat(d.Path(resource.ID))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalStorageDriver_DestroyMissingIsNotError(t *testing.T) {
	d, err := NewLocalStorageDriver(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, d.Destroy(context.Background(), "does-not-exist"))
}

func TestLocalStorageDriver_PathIsUnderBase(t *testing.T) {
	base := t.TempDir()
	d, err := NewLocalStorageDriver(base)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "abc"), d.Path("abc"))
}
