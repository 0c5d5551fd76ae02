package plugin

import "github.com/dualhorizon/malbox/pkg/types"

// running is the view of currently-running plugin instances CanStart
// reasons about. TaskID is needed only by the Sequential rule ("no other
// plugin is currently running for the same task").
type running struct {
	Manifest *types.PluginManifest
	TaskID   int64
}

// CanStart reports whether candidate may start given the manifests of every
// plugin currently running. taskID is the
// task the candidate would run for.
func CanStart(candidate *types.PluginManifest, taskID int64, r []running) bool {
	for _, req := range candidate.RequiredPlugins {
		if !runningHasID(r, req) {
			return false
		}
	}
	for _, incompatible := range candidate.IncompatiblePlugins {
		if runningHasID(r, incompatible) {
			return false
		}
	}

	switch candidate.ExecutionPolicy.Kind {
	case types.PolicyExclusive:
		return len(r) == 0
	case types.PolicySequential:
		for _, x := range r {
			if x.TaskID == taskID {
				return false
			}
		}
		return true
	case types.PolicyParallel:
		for _, x := range r {
			if x.Manifest.ExecutionPolicy.Kind == types.PolicyParallel &&
				x.Manifest.ExecutionPolicy.Group != candidate.ExecutionPolicy.Group {
				return false
			}
		}
		return true
	case types.PolicyUnrestricted:
		return true
	default:
		return false
	}
}

func runningHasID(r []running, id string) bool {
	for _, x := range r {
		if x.Manifest.ID == id {
			return true
		}
	}
	return false
}

// OrderCandidates sorts a set of eligible candidates so Sequential plugins
// preempt into the front of the start order, with Parallel and Unrestricted
// following in their given order.
func OrderCandidates(candidates []*types.PluginManifest) []*types.PluginManifest {
	ordered := make([]*types.PluginManifest, 0, len(candidates))
	for _, c := range candidates {
		if c.ExecutionPolicy.Kind == types.PolicySequential {
			ordered = append(ordered, c)
		}
	}
	for _, c := range candidates {
		if c.ExecutionPolicy.Kind != types.PolicySequential {
			ordered = append(ordered, c)
		}
	}
	return ordered
}
