package plugin

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	malboxerrors "github.com/dualhorizon/malbox/pkg/errors"
	"github.com/dualhorizon/malbox/pkg/health"
	"github.com/dualhorizon/malbox/pkg/ipc"
	"github.com/dualhorizon/malbox/pkg/log"
	"github.com/dualhorizon/malbox/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// instanceEntry bundles a PluginInstance with the supervision state the
// Manager needs to spawn, poll and tear it down: its IPC channel, OS process
// handle and heartbeat checker. Only instanceEntry is guarded by
// Manager.mu; the fields inside are only ever touched by the goroutine
// driving that one instance (the owning Worker).
type instanceEntry struct {
	instance  *types.PluginInstance
	channel   *ipc.Channel
	cmd       *exec.Cmd
	heartbeat *health.HeartbeatChecker
	startedAt time.Time
}

// Manager implements the Plugin Manager.
type Manager struct {
	servicePrefix string
	startGrace    time.Duration
	logger        zerolog.Logger

	mu        sync.RWMutex
	manifests map[string]*types.PluginManifest
	instances map[string]*instanceEntry
}

// New creates a Manager over an already-discovered manifest set. startGrace
// bounds how long an instance may sit in Starting before it is demoted to
// Failed; zero or negative selects the 10s default.
func New(manifests []*types.PluginManifest, servicePrefix string, startGrace time.Duration) *Manager {
	if startGrace <= 0 {
		startGrace = 10 * time.Second
	}
	byID := make(map[string]*types.PluginManifest, len(manifests))
	for _, m := range manifests {
		byID[m.ID] = m
	}
	return &Manager{
		servicePrefix: servicePrefix,
		startGrace:    startGrace,
		logger:        log.WithComponent("plugin-manager"),
		manifests:     byID,
		instances:     make(map[string]*instanceEntry),
	}
}

// Lookup returns the manifest for id.
func (m *Manager) Lookup(id string) (*types.PluginManifest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mf, ok := m.manifests[id]
	return mf, ok
}

// ListByCapability returns every discovered manifest declaring capability.
func (m *Manager) ListByCapability(capability string) []*types.PluginManifest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.PluginManifest
	for _, mf := range m.manifests {
		if mf.HasCapability(capability) {
			out = append(out, mf)
		}
	}
	return out
}

// ResolveStartOrder computes the dependency-respecting start order for a
// task's requested plugin ids.
func (m *Manager) ResolveStartOrder(pluginIDs []string) ([]*types.PluginManifest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := make([]*types.PluginManifest, 0, len(pluginIDs))
	for _, id := range pluginIDs {
		mf, ok := m.manifests[id]
		if !ok {
			return nil, fmt.Errorf("plugin %q: %w", id, malboxerrors.ErrNotFound)
		}
		set = append(set, mf)
	}
	return StartOrder(set)
}

// CreateInstance allocates an Instance in state Created.
func (m *Manager) CreateInstance(pluginID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mf, ok := m.manifests[pluginID]
	if !ok {
		return "", fmt.Errorf("plugin %q: %w", pluginID, malboxerrors.ErrNotFound)
	}
	id := uuid.New().String()
	m.instances[id] = &instanceEntry{
		instance: &types.PluginInstance{ID: id, Manifest: mf, State: types.InstanceStateCreated},
	}
	return id, nil
}

// Assign attaches instanceID to taskID, rejecting a re-assignment.
func (m *Manager) Assign(instanceID string, taskID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.instances[instanceID]
	if !ok {
		return fmt.Errorf("instance %s: %w", instanceID, malboxerrors.ErrNotFound)
	}
	return e.instance.Assign(taskID)
}

// Instance returns a snapshot of instanceID's current state.
func (m *Manager) Instance(instanceID string) (*types.PluginInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.instances[instanceID]
	if !ok {
		return nil, fmt.Errorf("instance %s: %w", instanceID, malboxerrors.ErrNotFound)
	}
	cp := *e.instance
	return &cp, nil
}

// Instances returns a snapshot of every instance the Manager is currently
// tracking, regardless of state. This is the read-only introspection
// surface the metrics Collector polls for per-state instance counts.
func (m *Manager) Instances() []*types.PluginInstance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.PluginInstance, 0, len(m.instances))
	for _, e := range m.instances {
		cp := *e.instance
		out = append(out, &cp)
	}
	return out
}

// Running returns the policy-relevant view of every currently Running
// instance, consumed by CanStart.
func (m *Manager) Running() []running {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []running
	for _, e := range m.instances {
		if e.instance.State == types.InstanceStateRunning && e.instance.TaskID != nil {
			out = append(out, running{Manifest: e.instance.Manifest, TaskID: *e.instance.TaskID})
		}
	}
	return out
}

// Start spawns instanceID's executable as a child process wired to a fresh
// IPC channel, transitioning Created -> Starting. The
// transition Starting -> Running happens in MarkRunning on the first
// heartbeat; CheckStartGrace demotes it to Failed if that never arrives
// within the configured grace period.
func (m *Manager) Start(ctx context.Context, instanceID string) error {
	m.mu.Lock()
	e, ok := m.instances[instanceID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("instance %s: %w", instanceID, malboxerrors.ErrNotFound)
	}
	e.instance.State = types.InstanceStateStarting
	m.mu.Unlock()

	var channel ipc.Channel
	if err := channel.Initialize(ipc.RoleCore, instanceID, m.servicePrefix); err != nil {
		m.fail(e, err)
		return fmt.Errorf("initialize ipc channel for instance %s: %w", instanceID, malboxerrors.Wrap(malboxerrors.KindCommunicationError, "ipc initialize failed", err))
	}

	cmd := exec.CommandContext(ctx, e.instance.Manifest.ExecutablePath)
	cmd.Env = append(os.Environ(),
		"MALBOX_INSTANCE_ID="+instanceID,
		"MALBOX_SERVICE_PREFIX="+m.servicePrefix,
	)
	if err := cmd.Start(); err != nil {
		channel.Close()
		m.fail(e, err)
		return fmt.Errorf("spawn plugin %s: %w", e.instance.Manifest.ID, malboxerrors.Wrap(malboxerrors.KindPluginError, "spawn failed", err))
	}

	m.mu.Lock()
	e.channel = &channel
	e.cmd = cmd
	e.startedAt = time.Now()
	e.heartbeat = health.NewHeartbeatChecker(m.startGrace)
	e.instance.PID = cmd.Process.Pid
	m.mu.Unlock()

	m.logger.Info().Str("instance_id", instanceID).Str("plugin_id", e.instance.Manifest.ID).Int("pid", cmd.Process.Pid).Msg("plugin instance started")
	return nil
}

func (m *Manager) fail(e *instanceEntry, cause error) {
	m.mu.Lock()
	e.instance.State = types.InstanceStateFailed
	m.mu.Unlock()
	m.logger.Error().Err(cause).Str("instance_id", e.instance.ID).Msg("plugin instance failed to start")
}

// MarkRunning transitions instanceID Starting -> Running on its first
// heartbeat.
func (m *Manager) MarkRunning(instanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.instances[instanceID]
	if !ok {
		return fmt.Errorf("instance %s: %w", instanceID, malboxerrors.ErrNotFound)
	}
	if e.instance.State == types.InstanceStateStarting {
		e.instance.State = types.InstanceStateRunning
	}
	if e.heartbeat != nil {
		e.heartbeat.Beat()
	}
	return nil
}

// CheckStartGrace demotes any instance still Starting past its grace period
// to Failed. Callers poll this
// alongside the IPC events topic.
func (m *Manager) CheckStartGrace() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var timedOut []string
	for id, e := range m.instances {
		if e.instance.State == types.InstanceStateStarting && time.Since(e.startedAt) > m.startGrace {
			e.instance.State = types.InstanceStateFailed
			timedOut = append(timedOut, id)
		}
	}
	return timedOut
}

// OnEvent updates instanceID's state from an events-topic message:
// Started confirms Running, Failed/Shutdown/Complete retire the instance.
func (m *Manager) OnEvent(instanceID string, eventType ipc.EventType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.instances[instanceID]
	if !ok {
		return fmt.Errorf("instance %s: %w", instanceID, malboxerrors.ErrNotFound)
	}
	switch eventType {
	case ipc.EventStarted, ipc.EventResourceReady:
		if e.instance.State == types.InstanceStateStarting {
			e.instance.State = types.InstanceStateRunning
		}
		if e.heartbeat != nil {
			e.heartbeat.Beat()
		}
	case ipc.EventProgress:
		if e.heartbeat != nil {
			e.heartbeat.Beat()
		}
	case ipc.EventComplete:
		e.instance.State = types.InstanceStateStopped
	case ipc.EventFailed:
		e.instance.State = types.InstanceStateFailed
	case ipc.EventShutdown:
		e.instance.State = types.InstanceStateStopped
	}
	return nil
}

// Channel returns instanceID's IPC channel, or nil if it hasn't started.
func (m *Manager) Channel(instanceID string) *ipc.Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.instances[instanceID]
	if !ok || e.channel == nil {
		return nil
	}
	return e.channel
}

// Stop sends Command{Stop} over the commands topic and waits up to grace
// for the process to exit before killing it.
// Running -> Stopping -> Stopped.
func (m *Manager) Stop(ctx context.Context, instanceID string, grace time.Duration) error {
	m.mu.Lock()
	e, ok := m.instances[instanceID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("instance %s: %w", instanceID, malboxerrors.ErrNotFound)
	}
	e.instance.State = types.InstanceStateStopping
	channel := e.channel
	cmd := e.cmd
	m.mu.Unlock()

	if channel != nil {
		stop := &ipc.MessagePayload{MessageType: ipc.MessageTypeCommand}
		stop.Content.CommandType = ipc.CommandStop
		_ = channel.Send(stop) // best effort; grace-period kill below covers a dropped Send
	}

	done := make(chan struct{})
	if cmd != nil && cmd.Process != nil {
		go func() {
			_, _ = cmd.Process.Wait()
			close(done)
		}()
	} else {
		close(done)
	}

	select {
	case <-done:
	case <-time.After(grace):
		if cmd != nil && cmd.Process != nil {
			m.logger.Warn().Str("instance_id", instanceID).Msg("grace period expired, killing plugin process")
			_ = cmd.Process.Kill()
		}
	case <-ctx.Done():
	}

	m.mu.Lock()
	e.instance.State = types.InstanceStateStopped
	if e.channel != nil {
		e.channel.Close()
	}
	m.mu.Unlock()
	return nil
}

// Remove drops instanceID's bookkeeping, called once the owning task's
// worker has torn everything down.
func (m *Manager) Remove(instanceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instances, instanceID)
}
