// Package plugin implements the Plugin Manager: it discovers plugin
// manifests from disk, enforces the inter-plugin execution-policy and
// dependency-ordering rules, and spawns/supervises plugin processes over the
// pkg/ipc channel.
package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dualhorizon/malbox/pkg/log"
	"github.com/dualhorizon/malbox/pkg/types"
)

// manifestFile is the on-disk JSON shape of a plugin manifest.
// ExecutionContext and ExecutionPolicy are both unions in the wire format,
// so they get custom unmarshaling into the richer types.ExecutionContext /
// types.ExecutionPolicy.
type manifestFile struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	Author              string          `json:"author"`
	Version             string          `json:"version"`
	ExecutionContext    json.RawMessage `json:"execution_context"`
	ExecutionPolicy     json.RawMessage `json:"execution_policy"`
	RequiredPlugins     []string        `json:"required_plugins"`
	IncompatiblePlugins []string        `json:"incompatible_plugins"`
	Capabilities        []string        `json:"capabilities"`
}

func parseExecutionContext(raw json.RawMessage) (types.ExecutionContext, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if asString != "host" {
			return types.ExecutionContext{}, fmt.Errorf("unknown execution_context %q", asString)
		}
		return types.ExecutionContext{Guest: false}, nil
	}

	var asGuest struct {
		Guest struct {
			Platform string `json:"platform"`
		} `json:"guest"`
	}
	if err := json.Unmarshal(raw, &asGuest); err != nil {
		return types.ExecutionContext{}, fmt.Errorf("invalid execution_context: %w", err)
	}
	return types.ExecutionContext{Guest: true, Platform: types.Platform(asGuest.Guest.Platform)}, nil
}

func parseExecutionPolicy(raw json.RawMessage) (types.ExecutionPolicy, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		switch asString {
		case "exclusive":
			return types.ExecutionPolicy{Kind: types.PolicyExclusive}, nil
		case "sequential":
			return types.ExecutionPolicy{Kind: types.PolicySequential}, nil
		case "unrestricted":
			return types.ExecutionPolicy{Kind: types.PolicyUnrestricted}, nil
		default:
			return types.ExecutionPolicy{}, fmt.Errorf("unknown execution_policy %q", asString)
		}
	}

	var asParallel struct {
		Parallel string `json:"parallel"`
	}
	if err := json.Unmarshal(raw, &asParallel); err != nil {
		return types.ExecutionPolicy{}, fmt.Errorf("invalid execution_policy: %w", err)
	}
	return types.ExecutionPolicy{Kind: types.PolicyParallel, Group: asParallel.Parallel}, nil
}

// loadManifest parses dir/manifest.json, derives the executable path as
// <dir>/bin/<dir-name>, and validates it.
func loadManifest(dir string) (*types.PluginManifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var mf manifestFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	execCtx, err := parseExecutionContext(mf.ExecutionContext)
	if err != nil {
		return nil, err
	}
	execPolicy, err := parseExecutionPolicy(mf.ExecutionPolicy)
	if err != nil {
		return nil, err
	}

	dirName := filepath.Base(dir)
	manifest := &types.PluginManifest{
		ID:                  mf.ID,
		Name:                mf.Name,
		Author:              mf.Author,
		Version:             mf.Version,
		ExecutionContext:    execCtx,
		ExecutionPolicy:     execPolicy,
		Capabilities:        mf.Capabilities,
		ExecutablePath:      filepath.Join(dir, "bin", dirName),
		RequiredPlugins:     mf.RequiredPlugins,
		IncompatiblePlugins: mf.IncompatiblePlugins,
	}

	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(manifest.ExecutablePath); err != nil {
		return nil, fmt.Errorf("executable %s: %w", manifest.ExecutablePath, err)
	}
	return manifest, nil
}

// Discover walks pluginsDir and parses every subdirectory carrying a
// manifest.json. Invalid manifests are logged and skipped, never fatal
//: a single malformed plugin must not block discovery of the
// rest.
func Discover(pluginsDir string) ([]*types.PluginManifest, error) {
	logger := log.WithComponent("plugin-manager")

	entries, err := os.ReadDir(pluginsDir)
	if err != nil {
		return nil, fmt.Errorf("read plugins directory %s: %w", pluginsDir, err)
	}

	var manifests []*types.PluginManifest
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(pluginsDir, e.Name())
		if _, err := os.Stat(filepath.Join(dir, "manifest.json")); err != nil {
			continue
		}
		manifest, err := loadManifest(dir)
		if err != nil {
			logger.Warn().Err(err).Str("dir", dir).Msg("skipping invalid plugin manifest")
			continue
		}
		manifests = append(manifests, manifest)
	}
	return manifests, nil
}
