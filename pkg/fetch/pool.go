// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package fetch implements the streaming, bounded-concurrency BFS that
// discovers the full transitive closure of packages reachable from a set
// of root requirements.
package fetch

import (
	"sort"
	"strings"
	"sync"

	"github.com/vendorsmith/vendorsmith/pkg/packagist"
)

// platformExact lists the exact PackageName forms recognized as platform
// capabilities rather than real packages (spec.md §3): they are filtered
// out at intake and never enter the pending queue or the pool.
var platformExact = map[string]bool{
	"php":                  true,
	"composer":             true,
	"composer-plugin-api":  true,
	"composer-runtime-api": true,
}

// IsPlatformName reports whether name is a platform capability rather
// than a real, fetchable package.
func IsPlatformName(name string) bool {
	if platformExact[name] {
		return true
	}
	for _, prefix := range []string{"php-", "ext-", "lib-"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// PackageEntry is every known version of one package, sorted high-to-low.
type PackageEntry struct {
	Name     string
	Versions []packagist.PackageVersion
}

// Pool is an in-memory map from PackageName to its PackageEntry, built up
// incrementally by Fetch. Pool is safe for concurrent reads once Fetch has
// returned; it is not safe for concurrent use while a Fetch populating it
// is still running (Fetch owns it exclusively until it returns).
type Pool struct {
	mu      sync.RWMutex
	entries map[string]*PackageEntry
}

// NewPool returns an empty Pool.
func NewPool() *Pool {
	return &Pool{entries: make(map[string]*PackageEntry)}
}

func (p *Pool) add(name string, versions []packagist.PackageVersion) {
	sorted := append([]packagist.PackageVersion(nil), versions...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[j].Version.Less(sorted[i].Version)
	})
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[name] = &PackageEntry{Name: name, Versions: sorted}
}

// Get returns the known versions of name, and whether it is present.
func (p *Pool) Get(name string) (*PackageEntry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[name]
	return e, ok
}

// Versions returns the known versions of name, high-to-low, or nil if name
// is not in the pool.
func (p *Pool) Versions(name string) []packagist.PackageVersion {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[name]
	if !ok {
		return nil
	}
	return e.Versions
}

// Names returns every package name known to the pool, unordered.
func (p *Pool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.entries))
	for name := range p.entries {
		out = append(out, name)
	}
	return out
}

// Len reports how many distinct packages are in the pool.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}
