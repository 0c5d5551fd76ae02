package plugin

import (
	"testing"

	"github.com/dualhorizon/malbox/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func manifest(id string, requires ...string) *types.PluginManifest {
	return &types.PluginManifest{ID: id, RequiredPlugins: requires}
}

func indexOf(manifests []*types.PluginManifest, id string) int {
	for i, m := range manifests {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func TestStartOrder_DependencyBeforeDependent(t *testing.T) {
	a := manifest("a")
	b := manifest("b", "a")
	c := manifest("c", "b")

	order, err := StartOrder([]*types.PluginManifest{c, b, a})
	require.NoError(t, err)
	require.Len(t, order, 3)
	assert.Less(t, indexOf(order, "a"), indexOf(order, "b"))
	assert.Less(t, indexOf(order, "b"), indexOf(order, "c"))
}

func TestStartOrder_DetectsCycle(t *testing.T) {
	a := manifest("a", "b")
	b := manifest("b", "a")

	_, err := StartOrder([]*types.PluginManifest{a, b})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cyclic dependency")
}

func TestStartOrder_MissingRequiredPlugin(t *testing.T) {
	a := manifest("a", "missing")

	_, err := StartOrder([]*types.PluginManifest{a})
	require.Error(t, err)
}

func TestStartOrder_SequentialPreemptsReadySiblings(t *testing.T) {
	par := withPolicy("par", types.PolicyParallel, "g")
	seq := withPolicy("seq", types.PolicySequential, "")
	unres := withPolicy("unres", types.PolicyUnrestricted, "")

	order, err := StartOrder([]*types.PluginManifest{par, unres, seq})
	require.NoError(t, err)
	require.Len(t, order, 3)
	assert.Equal(t, "seq", order[0].ID)
}

func TestStartOrder_DiamondDependency(t *testing.T) {
	base := manifest("base")
	left := manifest("left", "base")
	right := manifest("right", "base")
	top := manifest("top", "left", "right")

	order, err := StartOrder([]*types.PluginManifest{top, left, right, base})
	require.NoError(t, err)
	require.Len(t, order, 4)
	assert.Less(t, indexOf(order, "base"), indexOf(order, "left"))
	assert.Less(t, indexOf(order, "base"), indexOf(order, "right"))
	assert.Less(t, indexOf(order, "left"), indexOf(order, "top"))
	assert.Less(t, indexOf(order, "right"), indexOf(order, "top"))
}
