package types

import "time"

// ResourceKind classifies the managed asset behind a Resource record.
type ResourceKind string

const (
	ResourceKindVirtualMachine ResourceKind = "vm"
	ResourceKindNetwork        ResourceKind = "network"
	ResourceKindStorage        ResourceKind = "storage"
	ResourceKindGeneric        ResourceKind = "generic"
)

// ResourceState is the lifecycle state of a Resource.
type ResourceState string

const (
	ResourceStateProvisioning ResourceState = "provisioning"
	ResourceStateAvailable    ResourceState = "available"
	ResourceStateAllocated    ResourceState = "allocated"
	ResourceStateInUse        ResourceState = "in_use"
	ResourceStateStopping     ResourceState = "stopping"
	ResourceStateStopped      ResourceState = "stopped"
	ResourceStateDestroying   ResourceState = "destroying"
	ResourceStateDestroyed    ResourceState = "destroyed"
	ResourceStateError        ResourceState = "error"
)

// ResourceStatus is the mutable status record embedded in a Resource.
type ResourceStatus struct {
	State       ResourceState
	ErrorMessage string // populated only when State == ResourceStateError
	UpdatedAt   time.Time
	Healthy     bool
}

// ResourceProperties is the fixed bundle of infrastructure attributes a
// Resource carries, supplemented by a free-form tag map for anything the
// fixed columns don't cover.
type ResourceProperties struct {
	Platform    Platform
	CPUCores    int
	MemoryMB    int
	IPAddress   string
	Interface   string
	Snapshot    string
	MachineID   string
	Custom      map[string]string
}

// Resource is a managed analysis asset, primarily a guest VM.
type Resource struct {
	ID         string // UUID
	Name       string
	Kind       ResourceKind
	Status     ResourceStatus
	Properties ResourceProperties
	Tags       []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	// AllocatedTo is the owning task ID, or nil if unallocated. Invariant:
	// AllocatedTo != nil iff Status.State is Allocated or InUse.
	AllocatedTo *int64
}

// IsAllocated reports whether the resource currently belongs to a task.
func (r *Resource) IsAllocated() bool {
	return r.AllocatedTo != nil
}

// Snapshot returns the resource's configured snapshot name, or "" if none.
func (r *Resource) Snapshot() string {
	return r.Properties.Snapshot
}

// AllocationMethod records how a resource was obtained for a request.
type AllocationMethod string

const (
	AllocationMethodExisting             AllocationMethod = "existing_resource"
	AllocationMethodNewlyProvisioned     AllocationMethod = "newly_provisioned"
	AllocationMethodWaitedForAvailability AllocationMethod = "waited_for_availability"
)

// Allocation is the result of a successful Resource Manager allocate call.
type Allocation struct {
	Resource *Resource
	Method   AllocationMethod
	Latency  time.Duration
}

// ResourceConstraints narrows the candidate set during selection.
type ResourceConstraints struct {
	Platform    Platform
	MinCPUCores int
	MinMemoryMB int
	Tags        []string // required tags, must all be present
	Custom      map[string]string
}

// ResourcePreferences bias selection among resources that already satisfy
// ResourceConstraints; they never disqualify a candidate.
type ResourcePreferences struct {
	PreferredTags      []string
	PreferredResourceID string
	PreferNewer         bool
	AllowProvisioning   bool
	MaxProvisionWait    time.Duration
	// SelectionPolicy names the pkg/resource.SelectionPolicy to apply, or ""
	// to use the Resource Manager's configured default.
	SelectionPolicy string
}

// AllocationRequest is the input to ResourceManager.Allocate.
type AllocationRequest struct {
	TaskID         int64
	Kind           ResourceKind
	Constraints    ResourceConstraints
	Preferences    ResourcePreferences
	Priority       int64
	TimeoutSeconds int64
	CreatedAt      time.Time
}

// ResourceSpec is what gets handed to an InfrastructureProvider when no
// existing resource satisfies a request and provisioning is allowed.
type ResourceSpec struct {
	Platform Platform
	CPUCores int
	MemoryMB int
	DiskGB   int
	Kind     ResourceKind
}

// DefaultResourceSpec returns the provisioning defaults used when a
// request doesn't constrain a dimension: 2 cores, 4096 MB, 100 GB, linux.
func DefaultResourceSpec(platform Platform) ResourceSpec {
	if platform == "" {
		platform = PlatformLinux
	}
	return ResourceSpec{
		Platform: platform,
		CPUCores: 2,
		MemoryMB: 4096,
		DiskGB:   100,
		Kind:     ResourceKindVirtualMachine,
	}
}
