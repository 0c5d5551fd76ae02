// Package volume backs Storage-kind Resources with host directories; see
// local.go.
package volume
