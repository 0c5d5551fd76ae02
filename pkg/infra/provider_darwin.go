//go:build darwin

package infra

import "github.com/dualhorizon/malbox/pkg/types"

// NewDefaultProvider returns the InfrastructureProvider appropriate for the
// host running this binary: on macOS, a Lima-backed provider storing
// instance data under dataDir (no local libvirt/KVM daemon to dial).
func NewDefaultProvider(dataDir, libvirtURI string) types.InfrastructureProvider {
	return NewLimaProvider(dataDir)
}
