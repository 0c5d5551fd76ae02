package resource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dualhorizon/malbox/pkg/errors"
	"github.com/dualhorizon/malbox/pkg/log"
	"github.com/dualhorizon/malbox/pkg/store"
	"github.com/dualhorizon/malbox/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Manager tracks the pool of Resources and serves AllocationRequests
// against it, provisioning new Resources through an InfrastructureProvider
// when nothing in the pool satisfies a request.
type Manager struct {
	provider types.InfrastructureProvider
	ledger   *store.Store
	logger   zerolog.Logger

	mu        sync.Mutex
	resources map[string]*types.Resource
	selectors map[SelectionPolicy]*selector

	defaultPolicy SelectionPolicy
}

// New creates a Resource Manager backed by provider. defaultPolicy is used
// for any AllocationRequest that doesn't name one; it defaults to
// PolicyFirstAvailable.
func New(provider types.InfrastructureProvider, defaultPolicy SelectionPolicy) *Manager {
	if defaultPolicy == "" {
		defaultPolicy = PolicyFirstAvailable
	}
	return &Manager{
		provider:      provider,
		logger:        log.WithComponent("resource-manager"),
		resources:     make(map[string]*types.Resource),
		selectors:     make(map[SelectionPolicy]*selector),
		defaultPolicy: defaultPolicy,
	}
}

// SetLedger attaches the durable allocation ledger Allocate/Release write
// through to. A Manager with no
// ledger still allocates and releases correctly, it just leaves nothing for
// the reconciler to recover orphaned allocations from after a restart.
func (m *Manager) SetLedger(st *store.Store) {
	m.ledger = st
}

// putAllocation best-effort persists resourceID's ledger entry; a failure
// here only degrades restart recovery; it never fails the allocation
// itself, which has already committed in memory by the time this runs.
func (m *Manager) putAllocation(ctx context.Context, resourceID string, taskID int64) {
	if m.ledger == nil {
		return
	}
	if err := m.ledger.PutAllocation(ctx, store.AllocationRecord{ResourceID: resourceID, TaskID: taskID}); err != nil {
		m.logger.Error().Err(err).Str("resource_id", resourceID).Int64("task_id", taskID).Msg("persist allocation ledger entry failed")
	}
}

// deleteAllocation best-effort erases resourceID's ledger entry.
func (m *Manager) deleteAllocation(ctx context.Context, resourceID string) {
	if m.ledger == nil {
		return
	}
	if err := m.ledger.DeleteAllocation(ctx, resourceID); err != nil {
		m.logger.Error().Err(err).Str("resource_id", resourceID).Msg("delete allocation ledger entry failed")
	}
}

func (m *Manager) selectorFor(policy SelectionPolicy) *selector {
	if policy == "" {
		policy = m.defaultPolicy
	}
	s, ok := m.selectors[policy]
	if !ok {
		s = &selector{policy: policy}
		m.selectors[policy] = s
	}
	return s
}

// Register adds an already-known Resource to the pool, e.g. one recovered
// from durable storage at startup.
func (m *Manager) Register(res *types.Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[res.ID] = res
}

// Get returns a Resource by id.
func (m *Manager) Get(id string) (*types.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.resources[id]
	if !ok {
		return nil, fmt.Errorf("resource %s: %w", id, errors.ErrNotFound)
	}
	return res, nil
}

// List returns a snapshot of every Resource currently tracked.
func (m *Manager) List() []*types.Resource {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Resource, 0, len(m.resources))
	for _, res := range m.resources {
		out = append(out, res)
	}
	return out
}

// Allocate satisfies req from an existing available Resource if one
// matches its constraints, provisioning a new one via the
// InfrastructureProvider otherwise (when Preferences.AllowProvisioning is
// set). Exactly one Resource is returned allocated to req.TaskID, or an
// error; on error no Resource is left allocated.
func (m *Manager) Allocate(ctx context.Context, req *types.AllocationRequest) (*types.Allocation, error) {
	start := time.Now()
	logger := m.logger.With().Int64("task_id", req.TaskID).Logger()

	if req.TimeoutSeconds > 0 && !req.CreatedAt.IsZero() {
		deadline := req.CreatedAt.Add(time.Duration(req.TimeoutSeconds) * time.Second)
		if start.After(deadline) {
			return nil, fmt.Errorf("allocation request for task %d: %w", req.TaskID, errors.ErrTimeout)
		}
	}

	if res, ok := m.tryAllocateExisting(req); ok {
		logger.Info().Str("resource_id", res.ID).Msg("allocated existing resource")
		m.putAllocation(ctx, res.ID, req.TaskID)
		return &types.Allocation{Resource: res, Method: types.AllocationMethodExisting, Latency: time.Since(start)}, nil
	}

	if !req.Preferences.AllowProvisioning {
		return nil, fmt.Errorf("no available resource satisfies request and provisioning is disallowed: %w", errors.ErrAllocationFailed)
	}

	res, err := m.provision(ctx, req)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("resource_id", res.ID).Msg("provisioned new resource")
	m.putAllocation(ctx, res.ID, req.TaskID)
	return &types.Allocation{Resource: res, Method: types.AllocationMethodNewlyProvisioned, Latency: time.Since(start)}, nil
}

// tryAllocateExisting looks for an Available Resource matching req's
// constraints and, if found, transitions it to Allocated under the pool
// lock so two concurrent Allocate calls can never win the same Resource.
func (m *Manager) tryAllocateExisting(req *types.AllocationRequest) (*types.Resource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var candidates []*types.Resource
	for _, res := range m.resources {
		if res.Status.State == types.ResourceStateAvailable && matches(res, req) {
			candidates = append(candidates, res)
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}

	chosen := m.selectorFor(SelectionPolicy(req.Preferences.SelectionPolicy)).choose(candidates, req)
	chosen.Status.State = types.ResourceStateAllocated
	chosen.Status.UpdatedAt = time.Now()
	chosen.UpdatedAt = time.Now()
	chosen.AllocatedTo = &req.TaskID
	return chosen, true
}

// matches reports whether res satisfies req's hard constraints. It never
// considers Preferences, which only bias selection among matches.
func matches(res *types.Resource, req *types.AllocationRequest) bool {
	if req.Kind != "" && res.Kind != req.Kind {
		return false
	}
	c := req.Constraints
	if c.Platform != "" && res.Properties.Platform != c.Platform {
		return false
	}
	if res.Properties.CPUCores < c.MinCPUCores {
		return false
	}
	if res.Properties.MemoryMB < c.MinMemoryMB {
		return false
	}
	for _, want := range c.Tags {
		found := false
		for _, have := range res.Tags {
			if want == have {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// provision asks the InfrastructureProvider for a brand new Resource and
// registers it allocated to req.TaskID.
func (m *Manager) provision(ctx context.Context, req *types.AllocationRequest) (*types.Resource, error) {
	spec := types.DefaultResourceSpec(req.Constraints.Platform)
	spec.Kind = req.Kind
	if req.Constraints.MinCPUCores > spec.CPUCores {
		spec.CPUCores = req.Constraints.MinCPUCores
	}
	if req.Constraints.MinMemoryMB > spec.MemoryMB {
		spec.MemoryMB = req.Constraints.MinMemoryMB
	}

	res, err := m.provider.Provision(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("provision resource: %w", errors.Wrap(errors.KindProvisioningFailed, "infrastructure provider rejected provision request", err))
	}
	if res.ID == "" {
		res.ID = uuid.New().String()
	}
	res.Status.State = types.ResourceStateAllocated
	res.Status.UpdatedAt = time.Now()
	res.CreatedAt = time.Now()
	res.UpdatedAt = time.Now()
	res.AllocatedTo = &req.TaskID

	m.mu.Lock()
	m.resources[res.ID] = res
	m.mu.Unlock()
	return res, nil
}

// Release returns a Resource to the pool. Callers must call Release on
// every exit path of whatever used the Resource, including failure paths;
// a Resource that is never released stays allocated forever.
func (m *Manager) Release(ctx context.Context, resourceID string) error {
	m.mu.Lock()
	res, ok := m.resources[resourceID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("release resource %s: %w", resourceID, errors.ErrNotFound)
	}

	if err := m.provider.Shutdown(ctx, res.Name); err != nil {
		m.logger.Warn().Err(err).Str("resource_id", resourceID).Msg("shutdown failed during release, marking resource unhealthy")
		m.mu.Lock()
		res.Status.Healthy = false
		res.Status.State = types.ResourceStateError
		res.Status.ErrorMessage = err.Error()
		res.Status.UpdatedAt = time.Now()
		res.AllocatedTo = nil
		m.mu.Unlock()
		m.deleteAllocation(ctx, resourceID)
		return fmt.Errorf("shutdown resource %s: %w", resourceID, err)
	}

	m.mu.Lock()
	res.AllocatedTo = nil
	res.Status.State = types.ResourceStateAvailable
	res.Status.Healthy = true
	res.Status.UpdatedAt = time.Now()
	res.UpdatedAt = time.Now()
	m.mu.Unlock()

	m.deleteAllocation(ctx, resourceID)
	m.logger.Info().Str("resource_id", resourceID).Msg("released resource back to pool")
	return nil
}

// ReleaseTask releases every Resource currently allocated to taskID.
// Releasing a task that holds nothing is a no-op, so calling it twice is
// equivalent to calling it once. The first release
// error is returned after every resource has been attempted.
func (m *Manager) ReleaseTask(ctx context.Context, taskID int64) error {
	m.mu.Lock()
	var ids []string
	for id, res := range m.resources {
		if res.AllocatedTo != nil && *res.AllocatedTo == taskID {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := m.Release(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Delete destroys a Resource permanently; it must not be allocated.
func (m *Manager) Delete(ctx context.Context, resourceID string) error {
	m.mu.Lock()
	res, ok := m.resources[resourceID]
	if ok && res.IsAllocated() {
		m.mu.Unlock()
		return fmt.Errorf("delete resource %s: %w", resourceID, errors.ErrResourceLocked)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("delete resource %s: %w", resourceID, errors.ErrNotFound)
	}

	res.Status.State = types.ResourceStateDestroying
	if err := m.provider.Destroy(ctx, res.Name, res.Properties.Platform); err != nil {
		return fmt.Errorf("destroy resource %s: %w", resourceID, err)
	}

	m.mu.Lock()
	delete(m.resources, resourceID)
	m.mu.Unlock()
	return nil
}
