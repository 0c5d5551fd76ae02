//go:build !darwin

package infra

import "github.com/dualhorizon/malbox/pkg/types"

// NewDefaultProvider returns the InfrastructureProvider appropriate for the
// host running this binary: everywhere but macOS, a libvirt/KVM-backed
// provider dialing libvirtURI ("" selects the local qemu:///system socket).
func NewDefaultProvider(dataDir, libvirtURI string) types.InfrastructureProvider {
	return NewLibvirtProvider(libvirtURI)
}
