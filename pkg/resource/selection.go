// Package resource implements the Resource Manager: it tracks the pool of
// guest VMs and other managed assets, selects a
// candidate for an AllocationRequest, provisions a new one through an
// InfrastructureProvider when the pool can't satisfy the request, and
// guarantees every allocated Resource is eventually released back to the
// pool.
package resource

import (
	"time"

	"github.com/dualhorizon/malbox/pkg/types"
)

// SelectionPolicy picks one candidate Resource out of a set that already
// satisfies an AllocationRequest's ResourceConstraints.
type SelectionPolicy string

const (
	// PolicyFirstAvailable returns the first candidate in iteration order.
	// It is the default: cheap, and fair enough when resources are mostly
	// interchangeable.
	PolicyFirstAvailable SelectionPolicy = "first_available"

	// PolicyBestFit prefers the candidate whose CPU/memory most tightly
	// bounds the request, minimizing wasted capacity.
	PolicyBestFit SelectionPolicy = "best_fit"

	// PolicyLeastRecentlyUsed prefers the candidate that has spent the
	// longest time sitting idle in Available state.
	PolicyLeastRecentlyUsed SelectionPolicy = "least_recently_used"

	// PolicyHighestScore prefers the candidate with the highest score from
	// the score function below.
	PolicyHighestScore SelectionPolicy = "highest_score"

	// PolicyRoundRobin cycles through candidates across successive calls so
	// that a single resource isn't always picked first.
	PolicyRoundRobin SelectionPolicy = "round_robin"
)

// maxAgeBonus caps the prefer-newer age bonus at 24 points: a resource
// created just now gets the full bonus, which then decays smoothly with age
// in hours so two resources created minutes apart still separate.
const maxAgeBonus = 24.0

// score ranks a candidate: +10 kind match, +5 per preferred tag, +20 for
// preferred-resource-id, +5 healthy, up to +24 age bonus when PreferNewer
// is set. Higher is better.
func score(res *types.Resource, req *types.AllocationRequest) float64 {
	var s float64

	if req.Kind == "" || res.Kind == req.Kind {
		s += 10
	}
	for _, want := range req.Preferences.PreferredTags {
		for _, have := range res.Tags {
			if want == have {
				s += 5
				break
			}
		}
	}
	if req.Preferences.PreferredResourceID != "" && res.ID == req.Preferences.PreferredResourceID {
		s += 20
	}
	if res.Status.Healthy {
		s += 5
	}
	if req.Preferences.PreferNewer {
		age := time.Since(res.CreatedAt).Hours()
		s += maxAgeBonus / (1 + age)
	}
	return s
}

// selector is the unexported resolver used by Manager.Allocate once a
// candidate set has already been filtered down to what satisfies the
// request's constraints.
type selector struct {
	policy      SelectionPolicy
	roundRobinI int
}

// choose picks one resource from candidates, which must be non-empty.
func (s *selector) choose(candidates []*types.Resource, req *types.AllocationRequest) *types.Resource {
	switch s.policy {
	case PolicyBestFit:
		return s.bestFit(candidates, req)
	case PolicyLeastRecentlyUsed:
		return s.leastRecentlyUsed(candidates)
	case PolicyHighestScore:
		return s.highestScore(candidates, req)
	case PolicyRoundRobin:
		return s.roundRobin(candidates)
	case PolicyFirstAvailable:
		fallthrough
	default:
		return candidates[0]
	}
}

func (s *selector) bestFit(candidates []*types.Resource, req *types.AllocationRequest) *types.Resource {
	best := candidates[0]
	bestWaste := waste(best, req)
	for _, c := range candidates[1:] {
		if w := waste(c, req); w < bestWaste {
			best, bestWaste = c, w
		}
	}
	return best
}

// waste is the spare CPU+memory headroom a candidate leaves unused beyond
// the request's minimums; best fit minimizes it.
func waste(res *types.Resource, req *types.AllocationRequest) int {
	cpu := res.Properties.CPUCores - req.Constraints.MinCPUCores
	mem := res.Properties.MemoryMB - req.Constraints.MinMemoryMB
	return cpu + mem
}

func (s *selector) leastRecentlyUsed(candidates []*types.Resource) *types.Resource {
	oldest := candidates[0]
	for _, c := range candidates[1:] {
		if c.UpdatedAt.Before(oldest.UpdatedAt) {
			oldest = c
		}
	}
	return oldest
}

// highestScore picks the highest-scoring candidate, breaking ties in favor
// of the one updated least recently.
func (s *selector) highestScore(candidates []*types.Resource, req *types.AllocationRequest) *types.Resource {
	best := candidates[0]
	bestScore := score(best, req)
	for _, c := range candidates[1:] {
		sc := score(c, req)
		if sc > bestScore || (sc == bestScore && c.UpdatedAt.Before(best.UpdatedAt)) {
			best, bestScore = c, sc
		}
	}
	return best
}

func (s *selector) roundRobin(candidates []*types.Resource) *types.Resource {
	s.roundRobinI = (s.roundRobinI + 1) % len(candidates)
	return candidates[s.roundRobinI]
}
