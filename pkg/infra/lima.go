//go:build darwin

package infra

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/dualhorizon/malbox/pkg/log"
	"github.com/dualhorizon/malbox/pkg/types"
	"github.com/lima-vm/lima/pkg/instance"
	"github.com/lima-vm/lima/pkg/limayaml"
	"github.com/lima-vm/lima/pkg/store"
	"github.com/rs/zerolog"
)

// LimaProvider implements types.InfrastructureProvider on macOS by driving
// one Lima instance per provisioned Resource.
type LimaProvider struct {
	dataDir string
	logger  zerolog.Logger
}

// NewLimaProvider creates a provider that stores Lima instance data under
// dataDir.
func NewLimaProvider(dataDir string) *LimaProvider {
	return &LimaProvider{
		dataDir: dataDir,
		logger:  log.WithComponent("infra-lima"),
	}
}

// Provision defines (but does not start) a new Lima instance sized per spec.
func (p *LimaProvider) Provision(ctx context.Context, spec types.ResourceSpec) (*types.Resource, error) {
	name := limaInstanceName(spec)
	p.logger.Info().Str("instance", name).Msg("creating lima instance")

	config := p.buildConfig(spec)
	configYAML, err := limayaml.Marshal(&config, false)
	if err != nil {
		return nil, fmt.Errorf("marshal lima config for %s: %w", name, err)
	}
	if _, err := instance.Create(ctx, name, configYAML, false); err != nil {
		return nil, fmt.Errorf("create lima instance %s: %w", name, err)
	}

	return &types.Resource{
		Name: name,
		Kind: types.ResourceKindVirtualMachine,
		Properties: types.ResourceProperties{
			Platform:  spec.Platform,
			CPUCores:  spec.CPUCores,
			MemoryMB:  spec.MemoryMB,
			MachineID: name,
		},
	}, nil
}

// Start boots resourceName's Lima instance and waits for it to report
// running. snapshot is accepted for interface symmetry with the libvirt
// provider; Lima has no snapshot concept, so it is ignored.
func (p *LimaProvider) Start(ctx context.Context, resourceName, snapshot string) error {
	inst, err := store.Inspect(resourceName)
	if err != nil {
		return fmt.Errorf("inspect lima instance %s: %w", resourceName, err)
	}
	if inst.Status == store.StatusRunning {
		return nil
	}
	if err := instance.Start(ctx, inst, "", false); err != nil {
		return fmt.Errorf("start lima instance %s: %w", resourceName, err)
	}
	return p.waitForReady(ctx, resourceName)
}

// Shutdown stops resourceName gracefully, falling back to a forcible stop
// when the graceful stop fails.
func (p *LimaProvider) Shutdown(ctx context.Context, resourceName string) error {
	inst, err := store.Inspect(resourceName)
	if err != nil {
		return fmt.Errorf("inspect lima instance %s: %w", resourceName, err)
	}
	if err := instance.StopGracefully(ctx, inst, false); err != nil {
		p.logger.Warn().Err(err).Str("instance", resourceName).Msg("graceful stop failed, forcing")
		instance.StopForcibly(inst)
	}
	return nil
}

// Destroy deletes resourceName's Lima instance entirely. platform is
// accepted for interface symmetry with the libvirt provider; Lima instances
// are already platform-scoped by their own config.
func (p *LimaProvider) Destroy(ctx context.Context, resourceName string, platform types.Platform) error {
	inst, err := store.Inspect(resourceName)
	if err != nil {
		return fmt.Errorf("inspect lima instance %s: %w", resourceName, err)
	}
	if err := instance.Delete(ctx, inst, false); err != nil {
		return fmt.Errorf("delete lima instance %s: %w", resourceName, err)
	}
	return nil
}

func (p *LimaProvider) buildConfig(spec types.ResourceSpec) limayaml.LimaYAML {
	arch := limayaml.AARCH64
	if runtime.GOARCH == "amd64" {
		arch = limayaml.X8664
	}
	cpus := spec.CPUCores
	memory := fmt.Sprintf("%dGiB", spec.MemoryMB/1024)
	disk := fmt.Sprintf("%dGiB", spec.DiskGB)

	return limayaml.LimaYAML{
		Arch:   &arch,
		CPUs:   &cpus,
		Memory: &memory,
		Disk:   &disk,
		Mounts: []limayaml.Mount{
			{Location: p.dataDir, Writable: boolPtr(true)},
		},
		Message: "malbox analysis VM - ready",
	}
}

func (p *LimaProvider) waitForReady(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for lima instance %s to become ready", name)
		case <-ticker.C:
			inst, err := store.Inspect(name)
			if err != nil {
				continue
			}
			if inst.Status == store.StatusRunning {
				return nil
			}
		}
	}
}

func limaInstanceName(spec types.ResourceSpec) string {
	return fmt.Sprintf("malbox-%s-%d-%d-%d", spec.Platform, spec.CPUCores, spec.MemoryMB, os.Getpid())
}

func boolPtr(b bool) *bool { return &b }
