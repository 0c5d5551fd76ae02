package types

import (
	"fmt"
	"strings"
)

// ExecutionContext names where a plugin runs: on the host process, or
// inside a guest VM of a given platform.
type ExecutionContext struct {
	Guest    bool
	Platform Platform // only meaningful when Guest is true
}

func (c ExecutionContext) String() string {
	if !c.Guest {
		return "host"
	}
	return "guest." + string(c.Platform)
}

// Segment returns the lowercase execution-context segment used to validate
// a manifest's reverse-domain identifier.
func (c ExecutionContext) Segment() string {
	if !c.Guest {
		return "host"
	}
	return "guest"
}

// ExecutionPolicyKind is the inter-plugin concurrency rule a manifest
// declares.
type ExecutionPolicyKind string

const (
	PolicyExclusive    ExecutionPolicyKind = "exclusive"
	PolicySequential   ExecutionPolicyKind = "sequential"
	PolicyParallel     ExecutionPolicyKind = "parallel"
	PolicyUnrestricted ExecutionPolicyKind = "unrestricted"
)

// ExecutionPolicy pairs a policy kind with its Parallel group, if any.
type ExecutionPolicy struct {
	Kind  ExecutionPolicyKind
	Group string // only meaningful when Kind == PolicyParallel
}

func (p ExecutionPolicy) String() string {
	if p.Kind == PolicyParallel {
		return fmt.Sprintf("parallel(%s)", p.Group)
	}
	return string(p.Kind)
}

// PluginManifest describes an installed plugin, parsed from manifest.json
// on disk.
type PluginManifest struct {
	ID                  string // reverse-domain identifier: author.context.name
	Name                string
	Author              string
	Version             string // semver
	ExecutionContext    ExecutionContext
	ExecutionPolicy     ExecutionPolicy
	Capabilities        []string
	ExecutablePath      string
	RequiredPlugins     []string
	IncompatiblePlugins []string
}

// Validate checks the manifest's structural invariants: the identifier's
// author/context segments must agree with the manifest's own author and
// execution context, and the executable must exist (existence is checked
// by the caller, which has filesystem access; Validate only checks the
// identifier shape).
func (m *PluginManifest) Validate() error {
	segments := strings.Split(m.ID, ".")
	if len(segments) < 3 {
		return fmt.Errorf("plugin id %q must have at least 3 reverse-domain segments", m.ID)
	}
	wantAuthor := strings.ToLower(m.Author)
	wantContext := m.ExecutionContext.Segment()
	if segments[0] != wantAuthor {
		return fmt.Errorf("plugin id %q author segment %q does not match manifest author %q", m.ID, segments[0], wantAuthor)
	}
	if segments[1] != wantContext {
		return fmt.Errorf("plugin id %q context segment %q does not match manifest execution context %q", m.ID, segments[1], wantContext)
	}
	return nil
}

// HasCapability reports whether the manifest declares the given capability.
func (m *PluginManifest) HasCapability(capability string) bool {
	for _, c := range m.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// InstanceState is the lifecycle state of a PluginInstance.
type InstanceState string

const (
	InstanceStateCreated  InstanceState = "created"
	InstanceStateStarting InstanceState = "starting"
	InstanceStateRunning  InstanceState = "running"
	InstanceStateStopping InstanceState = "stopping"
	InstanceStateStopped  InstanceState = "stopped"
	InstanceStateFailed   InstanceState = "failed"
)

// PluginInstance is a single running (or about-to-run) execution of a
// plugin, created from a manifest when a task needs it.
type PluginInstance struct {
	ID       string // UUID
	Manifest *PluginManifest
	State    InstanceState
	TaskID   *int64 // only one assignment at a time

	// PID is the OS process id once started, 0 until then. Not persisted;
	// process handles don't survive a restart.
	PID int
}

// Assign attaches the instance to a task. An instance holds at most one
// assignment at a time; a second Assign is rejected.
func (i *PluginInstance) Assign(taskID int64) error {
	if i.TaskID != nil {
		return fmt.Errorf("plugin instance %s already assigned to task %d", i.ID, *i.TaskID)
	}
	i.TaskID = &taskID
	return nil
}

// IsAssigned reports whether the instance currently has a task assignment.
func (i *PluginInstance) IsAssigned() bool {
	return i.TaskID != nil
}
