package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePlugin(t *testing.T, pluginsDir, dirName, manifestJSON string) {
	t.Helper()
	dir := filepath.Join(pluginsDir, dirName)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(manifestJSON), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bin", dirName), []byte("#!/bin/sh\n"), 0o755))
}

func TestDiscover_HostPlugin(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "acme.host.static", `{
		"id": "acme.host.static",
		"name": "Static Analyzer",
		"author": "Acme",
		"version": "1.0.0",
		"execution_context": "host",
		"execution_policy": "unrestricted",
		"capabilities": ["static-analysis"]
	}`)

	manifests, err := Discover(root)
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	assert.Equal(t, "acme.host.static", manifests[0].ID)
	assert.False(t, manifests[0].ExecutionContext.Guest)
	assert.Equal(t, "unrestricted", manifests[0].ExecutionPolicy.String())
	assert.Equal(t, filepath.Join(root, "acme.host.static", "bin", "acme.host.static"), manifests[0].ExecutablePath)
}

func TestDiscover_GuestPlugin(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "acme.guest.detonate", `{
		"id": "acme.guest.detonate",
		"name": "Detonation",
		"author": "Acme",
		"version": "2.1.0",
		"execution_context": {"guest": {"platform": "windows"}},
		"execution_policy": "exclusive",
		"capabilities": ["dynamic-analysis"]
	}`)

	manifests, err := Discover(root)
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	assert.True(t, manifests[0].ExecutionContext.Guest)
	assert.Equal(t, "windows", string(manifests[0].ExecutionContext.Platform))
}

func TestDiscover_ParallelGroupPolicy(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "acme.host.scan", `{
		"id": "acme.host.scan",
		"name": "Scanner",
		"author": "Acme",
		"version": "1.0.0",
		"execution_context": "host",
		"execution_policy": {"parallel": "scanners"},
		"capabilities": ["scan"]
	}`)

	manifests, err := Discover(root)
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	assert.Equal(t, "parallel(scanners)", manifests[0].ExecutionPolicy.String())
}

func TestDiscover_SkipsInvalidManifestButKeepsOthers(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "acme.host.good", `{
		"id": "acme.host.good",
		"name": "Good",
		"author": "Acme",
		"version": "1.0.0",
		"execution_context": "host",
		"execution_policy": "unrestricted"
	}`)
	// Author/context segment mismatch makes this one invalid.
	writePlugin(t, root, "acme.host.bad", `{
		"id": "other.guest.bad",
		"name": "Bad",
		"author": "Acme",
		"version": "1.0.0",
		"execution_context": "host",
		"execution_policy": "unrestricted"
	}`)

	manifests, err := Discover(root)
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	assert.Equal(t, "acme.host.good", manifests[0].ID)
}

func TestDiscover_IgnoresNonDirEntriesAndDirsWithoutManifest(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("hi"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))

	manifests, err := Discover(root)
	require.NoError(t, err)
	assert.Empty(t, manifests)
}
