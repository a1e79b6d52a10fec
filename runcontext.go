// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/datawire/dlib/dlog"

	"github.com/vendorsmith/vendorsmith/pkg/cas"
	"github.com/vendorsmith/vendorsmith/pkg/fetch"
	"github.com/vendorsmith/vendorsmith/pkg/lockfile"
	"github.com/vendorsmith/vendorsmith/pkg/manifest"
	"github.com/vendorsmith/vendorsmith/pkg/packagist"
	"github.com/vendorsmith/vendorsmith/pkg/resolve"
	"github.com/vendorsmith/vendorsmith/pkg/semver"
	"github.com/vendorsmith/vendorsmith/pkg/solver"
)

const (
	manifestFilename    = "composer.json"
	lockfileFilename    = "composer.lock"
	globalConfigDirName = "vendorsmith"
	globalConfigName    = "config.toml"
)

// project bundles a loaded manifest with the layered config every
// subcommand resolves it against, so install/update/validate/show all
// bootstrap identically instead of repeating the loader plumbing.
type project struct {
	dir      string
	manifest *manifest.Manifest
	config   manifest.ResolvedConfig
	client   *packagist.Client
}

func loadProject() (*project, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	m, err := manifest.Load(filepath.Join(dir, manifestFilename))
	if err != nil {
		return nil, fmt.Errorf("%s not found or invalid: %w", manifestFilename, err)
	}

	global, err := manifest.LoadGlobalConfig(globalConfigPath())
	if err != nil {
		return nil, err
	}

	cfg := manifest.Resolve(m, global)

	baseURL := packagist.PackagistBaseURL
	if len(cfg.Repositories) > 0 && cfg.Repositories[0].URL != "" {
		baseURL = cfg.Repositories[0].URL
	}

	return &project{
		dir:      dir,
		manifest: m,
		config:   cfg,
		client:   &packagist.Client{BaseURL: baseURL},
	}, nil
}

func globalConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, globalConfigDirName, globalConfigName)
	}
	return filepath.Join(globalConfigDirName, globalConfigName)
}

func (p *project) lockfilePath() string {
	return filepath.Join(p.dir, lockfileFilename)
}

func (p *project) vendorDir() string {
	if filepath.IsAbs(p.config.VendorDir) {
		return p.config.VendorDir
	}
	return filepath.Join(p.dir, p.config.VendorDir)
}

func (p *project) cacheDir() string {
	if filepath.IsAbs(p.config.CacheDir) {
		return p.config.CacheDir
	}
	return filepath.Join(p.dir, p.config.CacheDir)
}

func (p *project) openStore() (*cas.Store, error) {
	return cas.Open(filepath.Join(p.cacheDir(), "archives-root"))
}

// solve fetches the transitive closure of the manifest's requirements and
// runs the solver over it, producing a fresh Resolution independent of any
// existing lockfile.
func (p *project) solve(ctx context.Context) (*resolve.Resolution, error) {
	rootReqs, err := p.manifest.RootRequirements()
	if err != nil {
		return nil, err
	}
	rootDevReqs, err := p.manifest.RootRequirementsDev()
	if err != nil {
		return nil, err
	}

	fetchRoots := make([]fetch.Requirement, 0, len(rootReqs)+len(rootDevReqs))
	solverRoots := make([]solver.Requirement, 0, len(rootReqs)+len(rootDevReqs))
	for _, r := range rootReqs {
		fetchRoots = append(fetchRoots, fetch.Requirement{Name: r.Package})
		solverRoots = append(solverRoots, r)
	}
	for _, r := range rootDevReqs {
		fetchRoots = append(fetchRoots, fetch.Requirement{Name: r.Package})
		solverRoots = append(solverRoots, r)
	}

	dlog.Infof(ctx, "fetching metadata for %d root requirement(s)", len(fetchRoots))
	pool, stats, err := fetch.Fetch(ctx, p.client, fetchRoots, true, fetch.Config{})
	if err != nil {
		return nil, fmt.Errorf("fetching package metadata: %w", err)
	}
	dlog.Infof(ctx, "fetched %d package(s), %d failed, %d timed out", stats.Succeeded, stats.Failed, stats.TimedOut)

	solution, err := solver.Solve(ctx, pool, solverRoots, solver.SolveParameters{
		MinimumStability: p.config.Stability(),
		MaxIterations:    0,
	})
	if err != nil {
		return nil, fmt.Errorf("resolving dependencies: %w", err)
	}

	manifestHash, err := p.manifest.Hash()
	if err != nil {
		return nil, err
	}

	rootRequireNames := make([]string, len(rootReqs))
	for i, r := range rootReqs {
		rootRequireNames[i] = r.Package
	}
	rootRequireDevNames := make([]string, len(rootDevReqs))
	for i, r := range rootDevReqs {
		rootRequireDevNames[i] = r.Package
	}

	return resolve.Build(resolve.BuildInput{
		Solution:       solution,
		Pool:           pool,
		RootRequire:    rootRequireNames,
		RootRequireDev: rootRequireDevNames,
		ManifestHash:   manifestHash,
	})
}

// writeLock renders res as the project's lockfile.
func (p *project) writeLock(res *resolve.Resolution, manifestHash string) error {
	doc := lockfile.Build(res, lockfile.Config{
		ManifestHash:     manifestHash,
		MinimumStability: p.config.MinimumStability,
		PreferStable:     p.config.PreferStable,
	})
	return lockfile.Write(p.lockfilePath(), doc)
}

// readLock loads the project's existing lockfile, or nil if none exists.
func (p *project) readLock() (*lockfile.Document, error) {
	body, err := os.ReadFile(p.lockfilePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var doc lockfile.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", lockfileFilename, err)
	}
	return &doc, nil
}

// resolutionFromLock converts a previously written lockfile back into the
// Package list the installer consumes, without touching the solver: install
// (unlike update) never re-resolves when the lock is current.
func resolutionFromLock(doc *lockfile.Document) ([]resolve.Package, error) {
	packages := make([]resolve.Package, 0, len(doc.Packages)+len(doc.PackagesDev))
	appendEntries := func(entries []lockfile.PackageEntry, isDev bool) error {
		for _, entry := range entries {
			v, err := semver.ParseVersion(entry.Version)
			if err != nil {
				return fmt.Errorf("%s: %s: %w", lockfileFilename, entry.Name, err)
			}
			packages = append(packages, resolve.Package{
				Name:    entry.Name,
				Version: v,
				IsDev:   isDev,
				Dist:    entry.Dist,
				Source:  entry.Source,
			})
		}
		return nil
	}
	if err := appendEntries(doc.Packages, false); err != nil {
		return nil, err
	}
	if err := appendEntries(doc.PackagesDev, true); err != nil {
		return nil, err
	}
	return packages, nil
}
