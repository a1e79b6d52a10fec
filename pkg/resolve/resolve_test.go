// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package resolve_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendorsmith/vendorsmith/pkg/packagist"
	"github.com/vendorsmith/vendorsmith/pkg/resolve"
	"github.com/vendorsmith/vendorsmith/pkg/semver"
	"github.com/vendorsmith/vendorsmith/pkg/solver"
)

type fakePool struct {
	packages map[string][]packagist.PackageVersion
}

func newFakePool() *fakePool {
	return &fakePool{packages: map[string][]packagist.PackageVersion{}}
}

func (f *fakePool) add(pv packagist.PackageVersion) {
	f.packages[pv.Name] = append(f.packages[pv.Name], pv)
}

func (f *fakePool) Versions(name string) []packagist.PackageVersion {
	return f.packages[name]
}

func mustVersion(t *testing.T, s string) semver.Version {
	t.Helper()
	v, err := semver.ParseVersion(s)
	require.NoError(t, err)
	return v
}

func indexByName(packages []resolve.Package) map[string]resolve.Package {
	out := make(map[string]resolve.Package, len(packages))
	for _, p := range packages {
		out[p.Name] = p
	}
	return out
}

func TestBuildOrdersDependenciesBeforeDependents(t *testing.T) {
	t.Parallel()
	pool := newFakePool()
	pool.add(packagist.PackageVersion{Name: "vendor/a", Version: mustVersion(t, "1.0.0")})
	pool.add(packagist.PackageVersion{
		Name: "vendor/b", Version: mustVersion(t, "1.0.0"),
		Require: map[string]semver.Constraint{"vendor/a": {}},
	})
	pool.add(packagist.PackageVersion{
		Name: "vendor/c", Version: mustVersion(t, "1.0.0"),
		Require: map[string]semver.Constraint{"vendor/b": {}},
	})

	sol := &solver.Solution{Versions: map[string]semver.Version{
		"vendor/a": mustVersion(t, "1.0.0"),
		"vendor/b": mustVersion(t, "1.0.0"),
		"vendor/c": mustVersion(t, "1.0.0"),
	}}

	res, err := resolve.Build(resolve.BuildInput{
		Solution:     sol,
		Pool:         pool,
		RootRequire:  []string{"vendor/c"},
		ManifestHash: "deadbeef",
	})
	require.NoError(t, err)
	require.Len(t, res.Packages, 3)

	pos := make(map[string]int, 3)
	for i, p := range res.Packages {
		pos[p.Name] = i
	}
	assert.Less(t, pos["vendor/a"], pos["vendor/b"], "a must precede b")
	assert.Less(t, pos["vendor/b"], pos["vendor/c"], "b must precede c")
	assert.NotEmpty(t, res.ContentHash)
}

func TestBuildFlagsDevOnlyPackages(t *testing.T) {
	t.Parallel()
	pool := newFakePool()
	pool.add(packagist.PackageVersion{Name: "vendor/prod", Version: mustVersion(t, "1.0.0")})
	pool.add(packagist.PackageVersion{Name: "vendor/testlib", Version: mustVersion(t, "1.0.0")})

	sol := &solver.Solution{Versions: map[string]semver.Version{
		"vendor/prod":    mustVersion(t, "1.0.0"),
		"vendor/testlib": mustVersion(t, "1.0.0"),
	}}

	res, err := resolve.Build(resolve.BuildInput{
		Solution:       sol,
		Pool:           pool,
		RootRequire:    []string{"vendor/prod"},
		RootRequireDev: []string{"vendor/testlib"},
	})
	require.NoError(t, err)

	byName := indexByName(res.Packages)
	assert.False(t, byName["vendor/prod"].IsDev)
	assert.True(t, byName["vendor/testlib"].IsDev)
}

func TestBuildPreservesProductionOverDev(t *testing.T) {
	t.Parallel()
	pool := newFakePool()
	pool.add(packagist.PackageVersion{Name: "vendor/shared", Version: mustVersion(t, "1.0.0")})

	sol := &solver.Solution{Versions: map[string]semver.Version{
		"vendor/shared": mustVersion(t, "1.0.0"),
	}}

	res, err := resolve.Build(resolve.BuildInput{
		Solution:       sol,
		Pool:           pool,
		RootRequire:    []string{"vendor/shared"},
		RootRequireDev: []string{"vendor/shared"},
	})
	require.NoError(t, err)
	require.Len(t, res.Packages, 1)
	assert.False(t, res.Packages[0].IsDev, "a package required by both prod and dev must count as production")
}

func TestBuildSubstitutesSingleProvider(t *testing.T) {
	t.Parallel()
	pool := newFakePool()
	pool.add(packagist.PackageVersion{
		Name: "vendor/new", Version: mustVersion(t, "1.0.0"),
		Replace: map[string]semver.Constraint{"vendor/old": {}},
	})

	sol := &solver.Solution{Versions: map[string]semver.Version{
		"vendor/new": mustVersion(t, "1.0.0"),
	}}

	res, err := resolve.Build(resolve.BuildInput{
		Solution:    sol,
		Pool:        pool,
		RootRequire: []string{"vendor/old"},
	})
	require.NoError(t, err)
	require.Len(t, res.Packages, 1)
	assert.Equal(t, "vendor/new", res.Packages[0].Name)
}

func TestBuildMissingProviderFails(t *testing.T) {
	t.Parallel()
	pool := newFakePool()
	pool.add(packagist.PackageVersion{
		Name: "vendor/a", Version: mustVersion(t, "1.0.0"),
		Require: map[string]semver.Constraint{"vendor/ghost": {}},
	})

	sol := &solver.Solution{Versions: map[string]semver.Version{
		"vendor/a": mustVersion(t, "1.0.0"),
	}}

	_, err := resolve.Build(resolve.BuildInput{
		Solution:    sol,
		Pool:        pool,
		RootRequire: []string{"vendor/a"},
	})
	require.Error(t, err)
	var missing *resolve.MissingProviderError
	assert.ErrorAs(t, err, &missing)
	assert.Equal(t, "vendor/ghost", missing.Name)
}

func TestBuildSkipsPlatformRequirements(t *testing.T) {
	t.Parallel()
	pool := newFakePool()
	pool.add(packagist.PackageVersion{
		Name: "vendor/a", Version: mustVersion(t, "1.0.0"),
		Require: map[string]semver.Constraint{"php": {}, "ext-json": {}},
	})

	sol := &solver.Solution{Versions: map[string]semver.Version{
		"vendor/a": mustVersion(t, "1.0.0"),
	}}

	res, err := resolve.Build(resolve.BuildInput{
		Solution:    sol,
		Pool:        pool,
		RootRequire: []string{"vendor/a"},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"php", "ext-json"}, res.PlatformRequirements)
}

func TestBuildContentHashIsDeterministic(t *testing.T) {
	t.Parallel()
	pool := newFakePool()
	pool.add(packagist.PackageVersion{Name: "vendor/a", Version: mustVersion(t, "1.0.0")})

	sol := &solver.Solution{Versions: map[string]semver.Version{"vendor/a": mustVersion(t, "1.0.0")}}
	in := resolve.BuildInput{Solution: sol, Pool: pool, RootRequire: []string{"vendor/a"}, ManifestHash: "abc123"}

	first, err := resolve.Build(in)
	require.NoError(t, err)
	second, err := resolve.Build(in)
	require.NoError(t, err)
	assert.Equal(t, first.ContentHash, second.ContentHash)
}
