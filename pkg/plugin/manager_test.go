package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	malboxerrors "github.com/dualhorizon/malbox/pkg/errors"
	"github.com/dualhorizon/malbox/pkg/ipc"
	"github.com/dualhorizon/malbox/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManifest(t *testing.T, id string) *types.PluginManifest {
	t.Helper()
	dir := t.TempDir()
	exe := filepath.Join(dir, "plugin")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\nsleep 5\n"), 0o755))
	return &types.PluginManifest{
		ID:              id,
		Name:            id,
		ExecutablePath:  exe,
		ExecutionPolicy: types.ExecutionPolicy{Kind: types.PolicyUnrestricted},
	}
}

func TestManager_CreateInstance_UnknownPlugin(t *testing.T) {
	m := New(nil, "test", time.Second)
	_, err := m.CreateInstance("missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, malboxerrors.ErrNotFound)
}

func TestManager_CreateInstanceAndAssign(t *testing.T) {
	mf := testManifest(t, "a.host.x")
	m := New([]*types.PluginManifest{mf}, "test", time.Second)

	id, err := m.CreateInstance("a.host.x")
	require.NoError(t, err)

	require.NoError(t, m.Assign(id, 42))

	inst, err := m.Instance(id)
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStateCreated, inst.State)
	require.NotNil(t, inst.TaskID)
	assert.Equal(t, int64(42), *inst.TaskID)

	err = m.Assign(id, 99)
	assert.Error(t, err)
}

func TestManager_StartTransitionsToStarting(t *testing.T) {
	mf := testManifest(t, "a.host.x")
	m := New([]*types.PluginManifest{mf}, "test-"+t.Name(), time.Second)

	id, err := m.CreateInstance("a.host.x")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx, id))

	inst, err := m.Instance(id)
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStateStarting, inst.State)
	assert.NotZero(t, inst.PID)

	require.NoError(t, m.Stop(context.Background(), id, 50*time.Millisecond))
}

func TestManager_MarkRunningOnHeartbeat(t *testing.T) {
	mf := testManifest(t, "a.host.x")
	m := New([]*types.PluginManifest{mf}, "test-"+t.Name(), time.Second)

	id, err := m.CreateInstance("a.host.x")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx, id))

	require.NoError(t, m.MarkRunning(id))
	inst, err := m.Instance(id)
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStateRunning, inst.State)

	require.NoError(t, m.Stop(context.Background(), id, 50*time.Millisecond))
}

func TestManager_CheckStartGrace_DemotesTimedOutInstance(t *testing.T) {
	mf := testManifest(t, "a.host.x")
	m := New([]*types.PluginManifest{mf}, "test-"+t.Name(), 10*time.Millisecond)

	id, err := m.CreateInstance("a.host.x")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx, id))

	time.Sleep(30 * time.Millisecond)
	timedOut := m.CheckStartGrace()
	require.Contains(t, timedOut, id)

	inst, err := m.Instance(id)
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStateFailed, inst.State)

	require.NoError(t, m.Stop(context.Background(), id, 10*time.Millisecond))
}

func TestManager_OnEvent_CompleteStopsInstance(t *testing.T) {
	mf := testManifest(t, "a.host.x")
	m := New([]*types.PluginManifest{mf}, "test-"+t.Name(), time.Second)

	id, err := m.CreateInstance("a.host.x")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx, id))

	require.NoError(t, m.OnEvent(id, ipc.EventComplete))
	inst, err := m.Instance(id)
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStateStopped, inst.State)
}

func TestManager_Running_OnlyIncludesAssignedRunningInstances(t *testing.T) {
	mf := testManifest(t, "a.host.x")
	m := New([]*types.PluginManifest{mf}, "test-"+t.Name(), time.Second)

	id, err := m.CreateInstance("a.host.x")
	require.NoError(t, err)
	require.NoError(t, m.Assign(id, 7))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx, id))
	require.NoError(t, m.MarkRunning(id))

	running := m.Running()
	require.Len(t, running, 1)
	assert.Equal(t, int64(7), running[0].TaskID)

	require.NoError(t, m.Stop(context.Background(), id, 10*time.Millisecond))
}

func TestManager_ResolveStartOrder(t *testing.T) {
	a := testManifest(t, "a")
	b := testManifest(t, "b")
	b.RequiredPlugins = []string{"a"}
	m := New([]*types.PluginManifest{a, b}, "test", time.Second)

	order, err := m.ResolveStartOrder([]string{"b", "a"})
	require.NoError(t, err)
	require.Len(t, order, 2)
	assert.Equal(t, "a", order[0].ID)
	assert.Equal(t, "b", order[1].ID)
}
