package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/dualhorizon/malbox/pkg/resource"
	"github.com/dualhorizon/malbox/pkg/store"
	"github.com/dualhorizon/malbox/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct{}

func (fakeProvider) Provision(ctx context.Context, spec types.ResourceSpec) (*types.Resource, error) {
	return &types.Resource{Name: "fake"}, nil
}
func (fakeProvider) Start(ctx context.Context, resourceName, snapshot string) error { return nil }
func (fakeProvider) Shutdown(ctx context.Context, resourceName string) error        { return nil }
func (fakeProvider) Destroy(ctx context.Context, resourceName string, platform types.Platform) error {
	return nil
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestReconciler_ReleasesAllocationForMissingTask(t *testing.T) {
	st := openTestStore(t)
	mgr := resource.New(fakeProvider{}, resource.PolicyFirstAvailable)
	taskID := int64(0)

	res := &types.Resource{
		ID:          "res-1",
		Kind:        types.ResourceKindVirtualMachine,
		AllocatedTo: &taskID,
		Status:      types.ResourceStatus{State: types.ResourceStateAllocated},
	}
	mgr.Register(res)
	ctx := context.Background()
	require.NoError(t, st.PutAllocation(ctx, store.AllocationRecord{ResourceID: "res-1", TaskID: 999}))

	r := New(mgr, st, time.Second)
	require.NoError(t, r.reconcileAllocations(ctx))

	got, err := mgr.Get("res-1")
	require.NoError(t, err)
	assert.Equal(t, types.ResourceStateAvailable, got.Status.State)
	assert.Nil(t, got.AllocatedTo)

	remaining, err := st.ListAllocations(ctx)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestReconciler_ReleasesAllocationForTerminalTask(t *testing.T) {
	st := openTestStore(t)
	mgr := resource.New(fakeProvider{}, resource.PolicyFirstAvailable)
	ctx := context.Background()

	taskID, err := st.InsertTask(ctx, &types.Task{Owner: "analyst", State: types.TaskStatePending})
	require.NoError(t, err)
	require.NoError(t, st.UpdateTaskState(ctx, taskID, types.TaskStateFailed))

	allocTaskID := taskID
	res := &types.Resource{
		ID:          "res-2",
		Kind:        types.ResourceKindVirtualMachine,
		AllocatedTo: &allocTaskID,
		Status:      types.ResourceStatus{State: types.ResourceStateAllocated},
	}
	mgr.Register(res)
	require.NoError(t, st.PutAllocation(ctx, store.AllocationRecord{ResourceID: "res-2", TaskID: taskID}))

	r := New(mgr, st, time.Second)
	require.NoError(t, r.reconcileAllocations(ctx))

	got, err := mgr.Get("res-2")
	require.NoError(t, err)
	assert.Equal(t, types.ResourceStateAvailable, got.Status.State)
}

func TestReconciler_LeavesLiveAllocationAlone(t *testing.T) {
	st := openTestStore(t)
	mgr := resource.New(fakeProvider{}, resource.PolicyFirstAvailable)
	ctx := context.Background()

	taskID, err := st.InsertTask(ctx, &types.Task{Owner: "analyst", State: types.TaskStatePending})
	require.NoError(t, err)
	require.NoError(t, st.UpdateTaskState(ctx, taskID, types.TaskStateRunning))

	allocTaskID := taskID
	res := &types.Resource{
		ID:          "res-3",
		Kind:        types.ResourceKindVirtualMachine,
		AllocatedTo: &allocTaskID,
		Status:      types.ResourceStatus{State: types.ResourceStateAllocated},
	}
	mgr.Register(res)
	require.NoError(t, st.PutAllocation(ctx, store.AllocationRecord{ResourceID: "res-3", TaskID: taskID}))

	r := New(mgr, st, time.Second)
	require.NoError(t, r.reconcileAllocations(ctx))

	got, err := mgr.Get("res-3")
	require.NoError(t, err)
	assert.Equal(t, types.ResourceStateAllocated, got.Status.State)

	remaining, err := st.ListAllocations(ctx)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}
