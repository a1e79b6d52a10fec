// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package resolve turns a solver.Solution into an installable Resolution: a
// topologically ordered package list with dist/source metadata and is-dev
// flags attached, built with Kahn's algorithm over the dependency DAG the
// solution induces.
package resolve

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/vendorsmith/vendorsmith/pkg/fetch"
	"github.com/vendorsmith/vendorsmith/pkg/packagist"
	"github.com/vendorsmith/vendorsmith/pkg/semver"
	"github.com/vendorsmith/vendorsmith/pkg/solver"
)

// Source is the fetched package universe the builder looks up dist/source
// metadata and dependency edges in. *fetch.Pool satisfies this.
type Source interface {
	Versions(name string) []packagist.PackageVersion
}

// Package is one entry of a built Resolution.
type Package struct {
	Name    string
	Version semver.Version
	IsDev   bool
	Dist    *packagist.Dist
	Source  *packagist.Source
}

// Resolution is the solver's output turned into an installable plan: a
// topological order (dependencies precede dependents) plus the content hash
// of the inputs that produced it.
type Resolution struct {
	Packages []Package

	// PlatformRequirements lists every platform capability (php, ext-*,
	// lib-*, composer*) named anywhere in the resolved graph, for an
	// external platform checker. The resolver never attempts to satisfy
	// these itself.
	PlatformRequirements []string

	ContentHash string
}

// BuildInput is everything Build needs beyond the solver's own output.
type BuildInput struct {
	Solution       *solver.Solution
	Pool           Source
	RootRequire    []string
	RootRequireDev []string
	ManifestHash   string
}

// MissingProviderError is returned when a decided package (or the root)
// requires a name that no decided package's own version, replace, or
// provide declarations actually satisfies. This is the post-solve
// reconciliation the solver itself defers for capabilities with zero or
// more than one candidate provider at solve time (see pkg/solver's
// resolveVirtual).
type MissingProviderError struct {
	RequiredBy string
	Name       string
}

func (e *MissingProviderError) Error() string {
	return fmt.Sprintf("resolve: %s requires %s, but nothing in the resolution provides it", e.RequiredBy, e.Name)
}

// node is one decided package's dependency-graph view.
type node struct {
	name    string
	version semver.Version
	pv      packagist.PackageVersion
	deps    []string // names of decided (or provider-substituted) prerequisites
}

// Build turns a solved assignment into an ordered, dev-flagged, metadata-
// attached Resolution.
func Build(in BuildInput) (*Resolution, error) {
	nodes := make(map[string]*node, len(in.Solution.Versions))
	platform := map[string]bool{}

	for name, v := range in.Solution.Versions {
		pv, err := chosenVersion(in.Pool, name, v)
		if err != nil {
			return nil, err
		}
		nodes[name] = &node{name: name, version: v, pv: pv}
	}

	providers := buildProviderIndex(nodes)

	resolveEdge := func(requiredBy, name string) (string, error) {
		if fetch.IsPlatformName(name) {
			platform[name] = true
			return "", nil
		}
		if _, ok := nodes[name]; ok {
			return name, nil
		}
		candidates := providers[name]
		switch len(candidates) {
		case 0:
			return "", &MissingProviderError{RequiredBy: requiredBy, Name: name}
		case 1:
			return candidates[0], nil
		default:
			sort.Strings(candidates)
			return candidates[0], nil
		}
	}

	for _, n := range nodes {
		for depName := range n.pv.Require {
			target, err := resolveEdge(n.name, depName)
			if err != nil {
				return nil, err
			}
			if target == "" {
				continue
			}
			n.deps = append(n.deps, target)
		}
	}

	var rootProdEdges []string
	for _, name := range in.RootRequire {
		target, err := resolveEdge("root", name)
		if err != nil {
			return nil, err
		}
		if target != "" {
			rootProdEdges = append(rootProdEdges, target)
		}
	}
	// Root's dev requirements only need their provider validated here — a
	// package reachable exclusively through them is dev precisely because
	// it is excluded from rootProdEdges below, not because its edge is
	// tracked separately.
	for _, name := range in.RootRequireDev {
		if _, err := resolveEdge("root", name); err != nil {
			return nil, err
		}
	}

	prodReachable := reachable(nodes, rootProdEdges)

	order := kahn(nodes)

	packages := make([]Package, 0, len(order))
	for _, name := range order {
		n := nodes[name]
		packages = append(packages, Package{
			Name:    n.name,
			Version: n.version,
			IsDev:   !prodReachable[n.name],
			Dist:    n.pv.Dist,
			Source:  n.pv.Source,
		})
	}

	platformNames := make([]string, 0, len(platform))
	for name := range platform {
		platformNames = append(platformNames, name)
	}
	sort.Strings(platformNames)

	return &Resolution{
		Packages:             packages,
		PlatformRequirements: platformNames,
		ContentHash:          contentHash(packages, in.ManifestHash),
	}, nil
}

func chosenVersion(pool Source, name string, v semver.Version) (packagist.PackageVersion, error) {
	for _, pv := range pool.Versions(name) {
		if pv.Version.Equal(v) {
			return pv, nil
		}
	}
	return packagist.PackageVersion{}, fmt.Errorf("resolve: %s@%s was chosen by the solver but is missing from the pool", name, v)
}

// buildProviderIndex maps a capability name to every decided package name
// whose chosen version provides or replaces it.
func buildProviderIndex(nodes map[string]*node) map[string][]string {
	providers := make(map[string][]string)
	for name, n := range nodes {
		for capability := range n.pv.Provide {
			providers[capability] = append(providers[capability], name)
		}
		for capability := range n.pv.Replace {
			providers[capability] = append(providers[capability], name)
		}
	}
	return providers
}

// reachable returns the set of decided package names reachable from roots
// by following each node's own dependency edges.
func reachable(nodes map[string]*node, roots []string) map[string]bool {
	seen := make(map[string]bool, len(nodes))
	var stack []string
	for _, r := range roots {
		if !seen[r] {
			seen[r] = true
			stack = append(stack, r)
		}
	}
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, ok := nodes[name]
		if !ok {
			continue
		}
		for _, dep := range n.deps {
			if !seen[dep] {
				seen[dep] = true
				stack = append(stack, dep)
			}
		}
	}
	return seen
}

// kahn produces a topological order (dependencies first) via Kahn's
// algorithm. Ties among available (in-degree-0) nodes are broken by name,
// ascending, for deterministic output. If a cycle prevents further
// progress — possible only from a replace/provide fixed point, since
// plain `require` edges form a DAG by construction — the node with the
// fewest remaining incoming edges is evicted, ties again broken by name;
// this always makes progress since it forces at least one edge to be
// dropped.
func kahn(nodes map[string]*node) []string {
	// inbound[x] = the prerequisites of x that haven't been emitted yet;
	// x is ready once this set is empty.
	inbound := make(map[string]map[string]bool, len(nodes))
	for name := range nodes {
		inbound[name] = make(map[string]bool)
	}
	for name, n := range nodes {
		for _, dep := range n.deps {
			if _, ok := nodes[dep]; ok {
				inbound[name][dep] = true
			}
		}
	}

	remaining := make(map[string]bool, len(nodes))
	for name := range nodes {
		remaining[name] = true
	}

	var order []string
	for len(remaining) > 0 {
		var ready []string
		for name := range remaining {
			if len(inbound[name]) == 0 {
				ready = append(ready, name)
			}
		}
		if len(ready) == 0 {
			evictMinInDegree(remaining, inbound)
			continue
		}
		sort.Strings(ready)
		for _, name := range ready {
			emit(name, remaining, inbound, &order)
		}
	}
	return order
}

func emit(name string, remaining map[string]bool, inbound map[string]map[string]bool, order *[]string) {
	if !remaining[name] {
		return
	}
	delete(remaining, name)
	*order = append(*order, name)
	for _, incoming := range inbound {
		delete(incoming, name)
	}
}

// evictMinInDegree drops the incoming edges of whichever remaining node has
// the fewest of them (ties broken by name), so the Kahn loop above can make
// progress again without ever emitting that node's true prerequisite order.
func evictMinInDegree(remaining map[string]bool, inbound map[string]map[string]bool) {
	var victim string
	best := -1
	var names []string
	for name := range remaining {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		count := len(inbound[name])
		if best == -1 || count < best {
			best, victim = count, name
		}
	}
	inbound[victim] = make(map[string]bool)
}

func contentHash(packages []Package, manifestHash string) string {
	names := make([]string, len(packages))
	for i, p := range packages {
		names[i] = p.Name
	}
	sort.Strings(names)

	versions := make(map[string]semver.Version, len(packages))
	for _, p := range packages {
		versions[p.Name] = p.Version
	}

	h := sha256.New()
	fmt.Fprintf(h, "manifest:%s\n", manifestHash)
	for _, name := range names {
		fmt.Fprintf(h, "%s=%s\n", name, versions[name].String())
	}
	return hex.EncodeToString(h.Sum(nil))
}
