// Package infra ships the InfrastructureProvider implementations the
// Resource Manager falls back to when no existing Resource satisfies an
// allocation request: a libvirt-backed provider for the
// Linux/KVM case, and a Lima-backed provider for macOS.
package infra
