package infra

import (
	"context"
	"fmt"

	"github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket/dialers"
	"github.com/dualhorizon/malbox/pkg/log"
	"github.com/dualhorizon/malbox/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// defaultLibvirtURI is the local KVM connection string.
const defaultLibvirtURI = "qemu:///system"

// LibvirtProvider implements types.InfrastructureProvider against a local
// KVM/libvirt daemon: connect, look up the domain by name, optionally
// revert to a snapshot, then Domain{Create,Destroy}.
type LibvirtProvider struct {
	uri    string
	logger zerolog.Logger
}

// NewLibvirtProvider creates a provider dialing the local libvirt socket at
// uri ("" selects the default qemu:///system DSN).
func NewLibvirtProvider(uri string) *LibvirtProvider {
	if uri == "" {
		uri = defaultLibvirtURI
	}
	return &LibvirtProvider{uri: uri, logger: log.WithComponent("infra-libvirt")}
}

func (p *LibvirtProvider) dial() (*libvirt.Libvirt, error) {
	l := libvirt.NewWithDialer(dialers.NewLocal())
	if err := l.ConnectToURI(libvirt.ConnectURI(p.uri)); err != nil {
		return nil, fmt.Errorf("connect to libvirt dsn %s: %w", p.uri, err)
	}
	return l, nil
}

// Provision generates a domain name for a new KVM guest and returns it,
// with spec's platform, CPU and memory, as a Resource. It does not contact
// libvirt and defines no domain; Start later looks a domain up by that name
// and boots it.
func (p *LibvirtProvider) Provision(ctx context.Context, spec types.ResourceSpec) (*types.Resource, error) {
	name := "malbox-" + uuid.New().String()
	p.logger.Info().Str("domain", name).Int("cpu", spec.CPUCores).Int("memory_mb", spec.MemoryMB).Msg("provisioning kvm domain")

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

// Start connects to libvirt, looks up the domain by resourceName,
// optionally reverts to snapshot, then starts it.
func (p *LibvirtProvider) Start(ctx context.Context, resourceName, snapshot string) error {
	l, err := p.dial()
	if err != nil {
		return err
	}
	defer l.Disconnect()

	dom, err := l.DomainLookupByName(resourceName)
	if err != nil {
		return fmt.Errorf("lookup domain %s: %w", resourceName, err)
	}
	p.logger.Debug().Str("domain", resourceName).Msg("found domain")

	if snapshot != "" {
		p.logger.Debug().Str("domain", resourceName).Str("snapshot", snapshot).Msg("reverting to snapshot")
		snap, err := l.DomainSnapshotLookupByName(dom, snapshot, 0)
		if err != nil {
			return fmt.Errorf("lookup snapshot %s for domain %s: %w", snapshot, resourceName, err)
		}
		if err := l.DomainRevertToSnapshot(snap, 0); err != nil {
			return fmt.Errorf("revert domain %s to snapshot %s: %w", resourceName, snapshot, err)
		}
	}

	if err := l.DomainCreate(dom); err != nil {
		return fmt.Errorf("start domain %s: %w", resourceName, err)
	}
	p.logger.Debug().Str("domain", resourceName).Msg("domain started")
	return nil
}

// Shutdown forcibly stops resourceName's domain via DomainDestroy (a hard
// stop, not ACPI shutdown): VMs are torn down on a worker's cleanup path,
// where a graceful guest shutdown isn't worth the wait.
func (p *LibvirtProvider) Shutdown(ctx context.Context, resourceName string) error {
	l, err := p.dial()
	if err != nil {
		return err
	}
	defer l.Disconnect()

	dom, err := l.DomainLookupByName(resourceName)
	if err != nil {
		return fmt.Errorf("lookup domain %s: %w", resourceName, err)
	}
	if err := l.DomainDestroy(dom); err != nil {
		return fmt.Errorf("shutdown domain %s: %w", resourceName, err)
	}
	p.logger.Info().Str("domain", resourceName).Msg("domain shutdown")
	return nil
}

// Destroy removes the domain's persistent definition entirely. platform is
// unused on the libvirt path (the KVM domain already carries its own guest
// OS definition); it exists to satisfy the shared InfrastructureProvider
// signature alongside the Lima provider, which needs it.
func (p *LibvirtProvider) Destroy(ctx context.Context, resourceName string, platform types.Platform) error {
	l, err := p.dial()
	if err != nil {
		return err
	}
	defer l.Disconnect()

	dom, err := l.DomainLookupByName(resourceName)
	if err != nil {
		return fmt.Errorf("lookup domain %s: %w", resourceName, err)
	}
	if err := l.DomainUndefine(dom); err != nil {
		return fmt.Errorf("undefine domain %s: %w", resourceName, err)
	}
	p.logger.Info().Str("domain", resourceName).Msg("domain destroyed")
	return nil
}
