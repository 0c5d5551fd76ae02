package plugin

import (
	"fmt"

	"github.com/dualhorizon/malbox/pkg/types"
)

// StartOrder computes the dependency-respecting start order of manifests
// under RequiredPlugins, so the Worker starts every plugin only after its
// dependencies are already Running. A
// cycle is a fatal task-level error, not a panic: it is returned to the
// caller, which for the Worker means PluginError before any process is
// spawned.
//
// The dependency graph is represented here as a plain adjacency map from
// id to id-set; no back-references are stored on the manifests themselves.
//
// Cycle and missing-dependency detection run first (detectCycle), then the
// order itself is built with a Kahn's-algorithm frontier: whenever more
// than one manifest becomes dependency-ready at the same time, OrderCandidates
// decides which one of them goes first, so a Sequential plugin with no
// outstanding dependency still preempts its Parallel/Unrestricted siblings
// into the front of the start order.
func StartOrder(manifests []*types.PluginManifest) ([]*types.PluginManifest, error) {
	byID := make(map[string]*types.PluginManifest, len(manifests))
	for _, m := range manifests {
		byID[m.ID] = m
	}

	if err := detectCycle(manifests, byID); err != nil {
		return nil, err
	}

	inDegree := make(map[string]int, len(manifests))
	dependents := make(map[string][]string, len(manifests))
	for _, m := range manifests {
		inDegree[m.ID] = len(m.RequiredPlugins)
		for _, dep := range m.RequiredPlugins {
			dependents[dep] = append(dependents[dep], m.ID)
		}
	}

	var ready []*types.PluginManifest
	for _, m := range manifests {
		if inDegree[m.ID] == 0 {
			ready = append(ready, m)
		}
	}

	order := make([]*types.PluginManifest, 0, len(manifests))
	for len(ready) > 0 {
		ready = OrderCandidates(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, depID := range dependents[next.ID] {
			inDegree[depID]--
			if inDegree[depID] == 0 {
				ready = append(ready, byID[depID])
			}
		}
	}
	return order, nil
}

// detectCycle runs a 3-color DFS over the dependency graph, returning a
// cyclic-dependency or missing-required-plugin error before StartOrder
// builds anything.
func detectCycle(manifests []*types.PluginManifest, byID map[string]*types.PluginManifest) error {
	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(manifests))

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		switch state[id] {
		case visited:
			return nil
		case visiting:
			return fmt.Errorf("cyclic dependency: %s", cycleString(append(path, id)))
		}

		m, ok := byID[id]
		if !ok {
			return fmt.Errorf("required plugin %q is not in the requested set: %w", id, errDiscovery)
		}

		state[id] = visiting
		for _, dep := range m.RequiredPlugins {
			if err := visit(dep, append(path, id)); err != nil {
				return err
			}
		}
		state[id] = visited
		return nil
	}

	for _, m := range manifests {
		if err := visit(m.ID, nil); err != nil {
			return err
		}
	}
	return nil
}

func cycleString(path []string) string {
	s := path[0]
	for _, id := range path[1:] {
		s += "↔" + id
	}
	return s
}
