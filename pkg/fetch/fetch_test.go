// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package fetch_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendorsmith/vendorsmith/pkg/fetch"
	"github.com/vendorsmith/vendorsmith/pkg/packagist"
	"github.com/vendorsmith/vendorsmith/pkg/semver"
)

type fakeClient struct {
	mu      sync.Mutex
	calls   map[string]int
	graph   map[string][]packagist.PackageVersion
	delay   time.Duration
	failing map[string]bool
}

func (f *fakeClient) FetchMetadata(ctx context.Context, name string) ([]packagist.PackageVersion, error) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.failing[name] {
		return nil, fmt.Errorf("simulated failure for %s", name)
	}
	return f.graph[name], nil
}

func mustVersion(t *testing.T, s string) semver.Version {
	t.Helper()
	v, err := semver.ParseVersion(s)
	require.NoError(t, err)
	return v
}

func TestFetchWalksTransitiveClosure(t *testing.T) {
	t.Parallel()
	client := &fakeClient{
		calls: map[string]int{},
		graph: map[string][]packagist.PackageVersion{
			"vendor/root": {{
				Name: "vendor/root", Version: mustVersion(t, "1.0.0"),
				Require: map[string]semver.Constraint{"vendor/a": mustConstraint(t, "^1.0")},
			}},
			"vendor/a": {{
				Name: "vendor/a", Version: mustVersion(t, "1.0.0"),
				Require: map[string]semver.Constraint{"vendor/b": mustConstraint(t, "^1.0"), "php": mustConstraint(t, "*")},
			}},
			"vendor/b": {{Name: "vendor/b", Version: mustVersion(t, "1.0.0")}},
		},
	}

	pool, stats, err := fetch.Fetch(context.Background(), client,
		[]fetch.Requirement{{Name: "vendor/root"}}, false, fetch.Config{MaxConcurrent: 4})
	require.NoError(t, err)
	assert.Equal(t, 3, pool.Len())
	assert.Equal(t, 3, stats.Succeeded)
	assert.Equal(t, 0, stats.Failed)

	_, ok := pool.Get("php")
	assert.False(t, ok, "platform names must never enter the pool")
}

func TestFetchExploresEveryCandidateVersion(t *testing.T) {
	t.Parallel()
	client := &fakeClient{
		calls: map[string]int{},
		graph: map[string][]packagist.PackageVersion{
			"vendor/root": {{
				Name: "vendor/root", Version: mustVersion(t, "1.0.0"),
				Require: map[string]semver.Constraint{"vendor/a": mustConstraint(t, "*")},
			}},
			"vendor/a": {
				{
					Name: "vendor/a", Version: mustVersion(t, "2.0.0"),
					Require: map[string]semver.Constraint{"vendor/only-in-v2": mustConstraint(t, "*")},
				},
				{
					Name: "vendor/a", Version: mustVersion(t, "1.0.0"),
					Require: map[string]semver.Constraint{"vendor/only-in-v1": mustConstraint(t, "*")},
				},
			},
			"vendor/only-in-v1": {{Name: "vendor/only-in-v1", Version: mustVersion(t, "1.0.0")}},
			"vendor/only-in-v2": {{Name: "vendor/only-in-v2", Version: mustVersion(t, "1.0.0")}},
		},
	}

	pool, _, err := fetch.Fetch(context.Background(), client,
		[]fetch.Requirement{{Name: "vendor/root"}}, false, fetch.Config{MaxConcurrent: 4})
	require.NoError(t, err)

	_, ok1 := pool.Get("vendor/only-in-v1")
	_, ok2 := pool.Get("vendor/only-in-v2")
	assert.True(t, ok1, "edges from the lower candidate version must be explored")
	assert.True(t, ok2, "edges from the higher candidate version must be explored")
}

func TestFetchSoftFailureDropsPackage(t *testing.T) {
	t.Parallel()
	client := &fakeClient{
		calls: map[string]int{},
		graph: map[string][]packagist.PackageVersion{
			"vendor/root": {{
				Name: "vendor/root", Version: mustVersion(t, "1.0.0"),
				Require: map[string]semver.Constraint{"vendor/broken": mustConstraint(t, "*")},
			}},
		},
		failing: map[string]bool{"vendor/broken": true},
	}

	pool, stats, err := fetch.Fetch(context.Background(), client,
		[]fetch.Requirement{{Name: "vendor/root"}}, false, fetch.Config{MaxConcurrent: 4})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	_, ok := pool.Get("vendor/broken")
	assert.False(t, ok)
}

func TestFetchOnlyRootDevDependenciesAreWalked(t *testing.T) {
	t.Parallel()
	client := &fakeClient{
		calls: map[string]int{},
		graph: map[string][]packagist.PackageVersion{
			"vendor/root": {{
				Name: "vendor/root", Version: mustVersion(t, "1.0.0"),
				Require:    map[string]semver.Constraint{"vendor/a": mustConstraint(t, "^1.0")},
				RequireDev: map[string]semver.Constraint{"vendor/root-dev-tool": mustConstraint(t, "*")},
			}},
			"vendor/a": {{
				Name: "vendor/a", Version: mustVersion(t, "1.0.0"),
				RequireDev: map[string]semver.Constraint{"vendor/a-dev-tool": mustConstraint(t, "*")},
			}},
			"vendor/root-dev-tool": {{Name: "vendor/root-dev-tool", Version: mustVersion(t, "1.0.0")}},
			"vendor/a-dev-tool":    {{Name: "vendor/a-dev-tool", Version: mustVersion(t, "1.0.0")}},
		},
	}

	pool, _, err := fetch.Fetch(context.Background(), client,
		[]fetch.Requirement{{Name: "vendor/root"}}, true, fetch.Config{MaxConcurrent: 4})
	require.NoError(t, err)

	_, rootDevOK := pool.Get("vendor/root-dev-tool")
	assert.True(t, rootDevOK, "the root package's own require-dev edges must be walked")

	_, aDevOK := pool.Get("vendor/a-dev-tool")
	assert.False(t, aDevOK, "a non-root package's require-dev edges must never be walked")
}

func mustConstraint(t *testing.T, s string) semver.Constraint {
	t.Helper()
	c, err := semver.ParseConstraint(s)
	require.NoError(t, err)
	return c
}
