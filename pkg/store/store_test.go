package store

import (
	"context"
	"testing"

	"github.com/dualhorizon/malbox/pkg/errors"
	"github.com/dualhorizon/malbox/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_InsertAndLoadTask(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task := &types.Task{Owner: "analyst", State: types.TaskStatePending, Priority: 5}
	id, err := s.InsertTask(ctx, task)
	require.NoError(t, err)
	assert.NotZero(t, id)

	loaded, err := s.LoadTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "analyst", loaded.Owner)
	assert.Equal(t, types.TaskStatePending, loaded.State)
}

func TestStore_LoadTask_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LoadTask(context.Background(), 999)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestStore_LoadPendingTasks_ExcludesTerminal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	pending, _ := s.InsertTask(ctx, &types.Task{State: types.TaskStatePending})
	_, _ = s.InsertTask(ctx, &types.Task{State: types.TaskStateCompleted})

	tasks, err := s.LoadPendingTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, pending, tasks[0].ID)
}

func TestStore_UpdateTaskState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.InsertTask(ctx, &types.Task{State: types.TaskStatePending})
	require.NoError(t, err)

	require.NoError(t, s.UpdateTaskState(ctx, id, types.TaskStateRunning))
	loaded, err := s.LoadTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateRunning, loaded.State)
}

func TestStore_UpdateTaskResult_Failure(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.InsertTask(ctx, &types.Task{State: types.TaskStateRunning})
	require.NoError(t, err)

	require.NoError(t, s.UpdateTaskResult(ctx, id, "", assertErr("plugin crashed")))
	loaded, err := s.LoadTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateFailed, loaded.State)
	assert.Equal(t, "plugin crashed", loaded.Error)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestStore_SampleDedupByHash(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sample := &types.Sample{Size: 1024, Hashes: types.HashBundle{SHA256: "abc123"}}
	id, err := s.InsertSample(ctx, sample)
	require.NoError(t, err)

	found, err := s.FindSampleByHash(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, id, found.ID)

	_, err = s.FindSampleByHash(ctx, "nope")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestStore_AllocationLedger(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutAllocation(ctx, AllocationRecord{ResourceID: "r1", TaskID: 1}))
	require.NoError(t, s.PutAllocation(ctx, AllocationRecord{ResourceID: "r2", TaskID: 2}))

	all, err := s.ListAllocations(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.DeleteAllocation(ctx, "r1"))
	all, err = s.ListAllocations(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, "r2", all[0].ResourceID)
}
