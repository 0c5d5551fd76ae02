package resource

import (
	"context"
	"testing"
	"time"

	"github.com/dualhorizon/malbox/pkg/errors"
	"github.com/dualhorizon/malbox/pkg/store"
	"github.com/dualhorizon/malbox/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	provisionCalls int
	provisionErr   error
	shutdownErr    error
	destroyErr     error
}

func (f *fakeProvider) Provision(ctx context.Context, spec types.ResourceSpec) (*types.Resource, error) {
	f.provisionCalls++
	if f.provisionErr != nil {
		return nil, f.provisionErr
	}
	return &types.Resource{
		Name: "provisioned-vm",
		Kind: spec.Kind,
		Properties: types.ResourceProperties{
			Platform: spec.Platform,
			CPUCores: spec.CPUCores,
			MemoryMB: spec.MemoryMB,
		},
	}, nil
}

func (f *fakeProvider) Start(ctx context.Context, resourceName, snapshot string) error { return nil }

func (f *fakeProvider) Shutdown(ctx context.Context, resourceName string) error { return f.shutdownErr }

func (f *fakeProvider) Destroy(ctx context.Context, resourceName string, platform types.Platform) error {
	return f.destroyErr
}

func available(id string, cpu, mem int) *types.Resource {
	return &types.Resource{
		ID:   id,
		Kind: types.ResourceKindVirtualMachine,
		Status: types.ResourceStatus{
			State:     types.ResourceStateAvailable,
			Healthy:   true,
			UpdatedAt: time.Now(),
		},
		Properties: types.ResourceProperties{
			Platform: types.PlatformLinux,
			CPUCores: cpu,
			MemoryMB: mem,
		},
		UpdatedAt: time.Now(),
	}
}

func TestAllocatePrefersExistingAvailableResource(t *testing.T) {
	provider := &fakeProvider{}
	mgr := New(provider, PolicyFirstAvailable)
	mgr.Register(available("res-1", 4, 8192))

	alloc, err := mgr.Allocate(context.Background(), &types.AllocationRequest{
		TaskID:      1,
		Kind:        types.ResourceKindVirtualMachine,
		Constraints: types.ResourceConstraints{MinCPUCores: 2, MinMemoryMB: 2048},
	})
	require.NoError(t, err)
	assert.Equal(t, types.AllocationMethodExisting, alloc.Method)
	assert.Equal(t, "res-1", alloc.Resource.ID)
	assert.Equal(t, 0, provider.provisionCalls)

	got, err := mgr.Get("res-1")
	require.NoError(t, err)
	assert.True(t, got.IsAllocated())
	assert.Equal(t, types.ResourceStateAllocated, got.Status.State)
}

func TestAllocateProvisionsWhenNoneAvailable(t *testing.T) {
	provider := &fakeProvider{}
	mgr := New(provider, PolicyFirstAvailable)

	alloc, err := mgr.Allocate(context.Background(), &types.AllocationRequest{
		TaskID:      2,
		Kind:        types.ResourceKindVirtualMachine,
		Constraints: types.ResourceConstraints{Platform: types.PlatformLinux},
		Preferences: types.ResourcePreferences{AllowProvisioning: true},
	})
	require.NoError(t, err)
	assert.Equal(t, types.AllocationMethodNewlyProvisioned, alloc.Method)
	assert.Equal(t, 1, provider.provisionCalls)
}

func TestAllocateFailsWhenNoneAvailableAndProvisioningDisallowed(t *testing.T) {
	mgr := New(&fakeProvider{}, PolicyFirstAvailable)

	_, err := mgr.Allocate(context.Background(), &types.AllocationRequest{
		TaskID: 3,
		Kind:   types.ResourceKindVirtualMachine,
	})
	assert.ErrorIs(t, err, errors.ErrAllocationFailed)
}

func TestAllocateRespectsConstraints(t *testing.T) {
	mgr := New(&fakeProvider{}, PolicyFirstAvailable)
	mgr.Register(available("too-small", 1, 1024))

	_, err := mgr.Allocate(context.Background(), &types.AllocationRequest{
		TaskID:      4,
		Kind:        types.ResourceKindVirtualMachine,
		Constraints: types.ResourceConstraints{MinCPUCores: 4, MinMemoryMB: 8192},
	})
	assert.ErrorIs(t, err, errors.ErrAllocationFailed)
}

func TestReleaseReturnsResourceToPool(t *testing.T) {
	mgr := New(&fakeProvider{}, PolicyFirstAvailable)
	res := available("res-5", 2, 4096)
	res.Status.State = types.ResourceStateAllocated
	taskID := int64(9)
	res.AllocatedTo = &taskID
	mgr.Register(res)

	require.NoError(t, mgr.Release(context.Background(), "res-5"))

	got, err := mgr.Get("res-5")
	require.NoError(t, err)
	assert.False(t, got.IsAllocated())
	assert.Equal(t, types.ResourceStateAvailable, got.Status.State)
}

func TestReleaseTaskReleasesEveryResourceAndIsIdempotent(t *testing.T) {
	mgr := New(&fakeProvider{}, PolicyFirstAvailable)
	taskID := int64(7)
	for _, id := range []string{"res-a", "res-b"} {
		res := available(id, 2, 4096)
		res.Status.State = types.ResourceStateAllocated
		res.AllocatedTo = &taskID
		mgr.Register(res)
	}
	other := available("res-c", 2, 4096)
	otherTask := int64(8)
	other.Status.State = types.ResourceStateAllocated
	other.AllocatedTo = &otherTask
	mgr.Register(other)

	require.NoError(t, mgr.ReleaseTask(context.Background(), taskID))
	for _, id := range []string{"res-a", "res-b"} {
		got, err := mgr.Get(id)
		require.NoError(t, err)
		assert.False(t, got.IsAllocated())
	}
	got, _ := mgr.Get("res-c")
	assert.True(t, got.IsAllocated(), "other task's resource must stay allocated")

	// Releasing a task that no longer holds anything is a no-op.
	require.NoError(t, mgr.ReleaseTask(context.Background(), taskID))
}

func TestReleaseMarksResourceErrorOnShutdownFailure(t *testing.T) {
	provider := &fakeProvider{shutdownErr: assert.AnError}
	mgr := New(provider, PolicyFirstAvailable)
	res := available("res-6", 2, 4096)
	taskID := int64(1)
	res.AllocatedTo = &taskID
	mgr.Register(res)

	err := mgr.Release(context.Background(), "res-6")
	assert.Error(t, err)

	got, _ := mgr.Get("res-6")
	assert.False(t, got.IsAllocated())
	assert.Equal(t, types.ResourceStateError, got.Status.State)
	assert.False(t, got.Status.Healthy)
}

func TestDeleteRejectsAllocatedResource(t *testing.T) {
	mgr := New(&fakeProvider{}, PolicyFirstAvailable)
	res := available("res-7", 2, 4096)
	taskID := int64(1)
	res.AllocatedTo = &taskID
	res.Status.State = types.ResourceStateAllocated
	mgr.Register(res)

	err := mgr.Delete(context.Background(), "res-7")
	assert.ErrorIs(t, err, errors.ErrResourceLocked)
}

func TestDeleteRemovesUnallocatedResource(t *testing.T) {
	mgr := New(&fakeProvider{}, PolicyFirstAvailable)
	mgr.Register(available("res-8", 2, 4096))

	require.NoError(t, mgr.Delete(context.Background(), "res-8"))

	_, err := mgr.Get("res-8")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestHighestScorePolicyPrefersPreferredResourceID(t *testing.T) {
	mgr := New(&fakeProvider{}, PolicyHighestScore)
	mgr.Register(available("plain", 2, 2048))
	mgr.Register(available("preferred", 2, 2048))

	alloc, err := mgr.Allocate(context.Background(), &types.AllocationRequest{
		TaskID:      10,
		Kind:        types.ResourceKindVirtualMachine,
		Constraints: types.ResourceConstraints{MinCPUCores: 2, MinMemoryMB: 2048},
		Preferences: types.ResourcePreferences{PreferredResourceID: "preferred"},
	})
	require.NoError(t, err)
	assert.Equal(t, "preferred", alloc.Resource.ID)
}

func TestHighestScorePolicyPrefersMorePreferredTags(t *testing.T) {
	mgr := New(&fakeProvider{}, PolicyHighestScore)
	plain := available("plain", 2, 2048)
	tagged := available("tagged", 2, 2048)
	tagged.Tags = []string{"fast-disk"}
	mgr.Register(plain)
	mgr.Register(tagged)

	alloc, err := mgr.Allocate(context.Background(), &types.AllocationRequest{
		TaskID:      10,
		Kind:        types.ResourceKindVirtualMachine,
		Constraints: types.ResourceConstraints{MinCPUCores: 2, MinMemoryMB: 2048},
		Preferences: types.ResourcePreferences{PreferredTags: []string{"fast-disk"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "tagged", alloc.Resource.ID)
}

func TestHighestScorePolicyTieBreaksOnOlderUpdatedAt(t *testing.T) {
	mgr := New(&fakeProvider{}, PolicyHighestScore)
	older := available("older", 2, 2048)
	older.UpdatedAt = time.Now().Add(-time.Hour)
	newer := available("newer", 2, 2048)
	mgr.Register(older)
	mgr.Register(newer)

	alloc, err := mgr.Allocate(context.Background(), &types.AllocationRequest{
		TaskID:      10,
		Kind:        types.ResourceKindVirtualMachine,
		Constraints: types.ResourceConstraints{MinCPUCores: 2, MinMemoryMB: 2048},
	})
	require.NoError(t, err)
	assert.Equal(t, "older", alloc.Resource.ID)
}

func TestAllocateAndReleaseWriteThroughLedger(t *testing.T) {
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	mgr := New(&fakeProvider{}, PolicyFirstAvailable)
	mgr.SetLedger(st)
	mgr.Register(available("res-ledger", 2, 2048))

	alloc, err := mgr.Allocate(context.Background(), &types.AllocationRequest{
		TaskID:      42,
		Kind:        types.ResourceKindVirtualMachine,
		Constraints: types.ResourceConstraints{MinCPUCores: 2, MinMemoryMB: 2048},
	})
	require.NoError(t, err)

	recs, err := st.ListAllocations(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "res-ledger", recs[0].ResourceID)
	assert.Equal(t, int64(42), recs[0].TaskID)

	require.NoError(t, mgr.Release(context.Background(), alloc.Resource.ID))

	recs, err = st.ListAllocations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRoundRobinPolicyAlternates(t *testing.T) {
	mgr := New(&fakeProvider{}, PolicyRoundRobin)
	req := func(id int64) *types.AllocationRequest {
		return &types.AllocationRequest{TaskID: id, Kind: types.ResourceKindVirtualMachine}
	}

	mgr.Register(available("a", 2, 2048))
	mgr.Register(available("b", 2, 2048))

	for i := int64(1); i <= 2; i++ {
		alloc, err := mgr.Allocate(context.Background(), req(i))
		require.NoError(t, err)
		assert.Contains(t, []string{"a", "b"}, alloc.Resource.ID)
		require.NoError(t, mgr.Release(context.Background(), alloc.Resource.ID))
	}
}
