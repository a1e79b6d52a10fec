// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package manifest loads a project's JSON manifest and layers it over an
// optional global TOML config file and the process environment, the same
// map-of-maps layered-override shape pkg/python's ConfigParser composes
// (later layers win field-by-field), generalized here to a typed,
// four-layer stack: built-in defaults, global config, project manifest,
// environment.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/vendorsmith/vendorsmith/pkg/semver"
	"github.com/vendorsmith/vendorsmith/pkg/solver"
)

// RepositoryConfig is one entry of a manifest's "repositories" array.
type RepositoryConfig struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Manifest is a project's decoded manifest file, in the field set and
// order spec.md §6 names for the project manifest format.
type Manifest struct {
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	Type        string            `json:"type,omitempty"`
	License     json.RawMessage   `json:"license,omitempty"`
	Require     map[string]string `json:"require,omitempty"`
	RequireDev  map[string]string `json:"require-dev,omitempty"`

	Repositories []RepositoryConfig `json:"repositories,omitempty"`

	MinimumStability string `json:"minimum-stability,omitempty"`
	PreferStable     bool   `json:"prefer-stable,omitempty"`

	Autoload json.RawMessage `json:"autoload,omitempty"`
	Scripts  json.RawMessage `json:"scripts,omitempty"`
	Config   json.RawMessage `json:"config,omitempty"`

	// raw is the exact bytes Load read, kept so Hash can normalize and
	// hash the manifest as it actually appears on disk rather than
	// re-marshaling our own (possibly lossy, due to Autoload/Scripts/
	// Config being passed through as opaque RawMessage) decoded view.
	raw []byte
}

// Load reads and decodes a project manifest file.
func Load(path string) (*Manifest, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("manifest: %s: %w", path, err)
	}
	m.raw = body
	return &m, nil
}

// Hash returns the content-hash spec.md's lockfile "content-hash" field
// stores: a hash of the manifest normalized to a canonical form (keys
// sorted, whitespace collapsed) so formatting-only edits to the manifest
// file don't change the hash, but any semantic edit does.
func (m *Manifest) Hash() (string, error) {
	var generic map[string]interface{}
	if err := json.Unmarshal(m.raw, &generic); err != nil {
		return "", fmt.Errorf("manifest: normalize: %w", err)
	}
	normalized, err := json.Marshal(sortedMap(generic))
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:]), nil
}

// sortedMap recursively re-keys nested maps so json.Marshal (which already
// sorts map[string]T keys) produces the same bytes regardless of the
// source object's original key order, including inside nested objects
// carried as map[string]interface{}.
func sortedMap(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(vv))
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = sortedMap(vv[k])
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, e := range vv {
			out[i] = sortedMap(e)
		}
		return out
	default:
		return v
	}
}

// RootRequirements parses Require into solver.Requirement values.
func (m *Manifest) RootRequirements() ([]solver.Requirement, error) {
	return parseRequirements(m.Require)
}

// RootRequirementsDev parses RequireDev into solver.Requirement values.
func (m *Manifest) RootRequirementsDev() ([]solver.Requirement, error) {
	return parseRequirements(m.RequireDev)
}

func parseRequirements(reqs map[string]string) ([]solver.Requirement, error) {
	out := make([]solver.Requirement, 0, len(reqs))
	names := make([]string, 0, len(reqs))
	for name := range reqs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c, err := semver.ParseConstraint(reqs[name])
		if err != nil {
			return nil, fmt.Errorf("manifest: %s: %w", name, err)
		}
		out = append(out, solver.Requirement{Package: name, Constraint: c})
	}
	return out, nil
}

// GlobalConfig is the optional, machine-wide TOML config file: settings a
// user sets once rather than per-project (cache location, default
// repository, concurrency).
type GlobalConfig struct {
	CacheDir         string `toml:"cache_dir"`
	VendorDir        string `toml:"vendor_dir"`
	MinimumStability string `toml:"minimum_stability"`
	PreferStable     bool   `toml:"prefer_stable"`
	MaxConcurrent    int    `toml:"max_concurrent"`

	Repositories []RepositoryConfig `toml:"repositories"`
}

// LoadGlobalConfig decodes a TOML global config file. A missing file is
// not an error: it simply yields a zero-value GlobalConfig, so the defaults
// layer underneath it is untouched.
func LoadGlobalConfig(path string) (*GlobalConfig, error) {
	var cfg GlobalConfig
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if os.IsNotExist(err) {
			return &GlobalConfig{}, nil
		}
		return nil, fmt.Errorf("manifest: global config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("manifest: global config %s: unrecognized key %q", path, undecoded[0])
	}
	return &cfg, nil
}

// ResolvedConfig is the single, merged settings object every other
// component reads from: defaults, overridden by GlobalConfig, overridden
// by the project Manifest's top-level minimum-stability and prefer-stable
// keys, overridden last by environment variables, in that order.
// Repositories from GlobalConfig and the Manifest are concatenated, global
// first. The Manifest's own "config" object is not read.
type ResolvedConfig struct {
	CacheDir         string
	VendorDir        string
	MinimumStability string
	PreferStable     bool
	MaxConcurrent    int
	Repositories     []RepositoryConfig
}

func defaultConfig() ResolvedConfig {
	return ResolvedConfig{
		CacheDir:         ".vendorsmith-cache",
		VendorDir:        "vendor",
		MinimumStability: "stable",
		MaxConcurrent:    0, // let the consuming component pick its own adaptive default
	}
}

// Resolve layers global, m's own settings, and the environment over the
// built-in defaults. A nil global is treated as an empty GlobalConfig.
func Resolve(m *Manifest, global *GlobalConfig) ResolvedConfig {
	cfg := defaultConfig()

	if global != nil {
		if global.CacheDir != "" {
			cfg.CacheDir = global.CacheDir
		}
		if global.VendorDir != "" {
			cfg.VendorDir = global.VendorDir
		}
		if global.MinimumStability != "" {
			cfg.MinimumStability = global.MinimumStability
		}
		if global.MaxConcurrent != 0 {
			cfg.MaxConcurrent = global.MaxConcurrent
		}
		cfg.PreferStable = global.PreferStable
		cfg.Repositories = append(cfg.Repositories, global.Repositories...)
	}

	if m != nil {
		if m.MinimumStability != "" {
			cfg.MinimumStability = m.MinimumStability
		}
		if m.PreferStable {
			cfg.PreferStable = true
		}
		cfg.Repositories = append(cfg.Repositories, m.Repositories...)
	}

	if v := os.Getenv("VENDORSMITH_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv("VENDORSMITH_VENDOR_DIR"); v != "" {
		cfg.VendorDir = v
	}
	if v := os.Getenv("VENDORSMITH_MINIMUM_STABILITY"); v != "" {
		cfg.MinimumStability = v
	}

	return cfg
}

// Stability parses the resolved minimum-stability string into a
// semver.Stability, defaulting to Stable on an empty or unrecognized value
// rather than failing an install over a typo in a config layer no one
// will see echoed back.
func (c ResolvedConfig) Stability() semver.Stability {
	s, err := semver.ParseStability(c.MinimumStability)
	if err != nil {
		return semver.StabilityStable
	}
	return s
}
