// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package fetch

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/datawire/dlib/dlog"

	"github.com/vendorsmith/vendorsmith/pkg/packagist"
)

// Requirement names one root (or dev) dependency handed to Fetch as a
// starting point for the closure walk. It carries only the package name;
// constraints are not consulted while fetching.
type Requirement struct {
	Name string
}

// Config tunes the streaming fetcher.
type Config struct {
	// MaxConcurrent bounds in-flight metadata requests, clamped to [1,128].
	MaxConcurrent int
	// RequestTimeout, if nonzero, bounds each individual metadata fetch;
	// a timed-out request is a soft failure; the package is dropped.
	RequestTimeout time.Duration
}

func (c Config) clamp() Config {
	switch {
	case c.MaxConcurrent < 1:
		c.MaxConcurrent = 1
	case c.MaxConcurrent > 128:
		c.MaxConcurrent = 128
	}
	return c
}

// MetadataFetcher is the subset of packagist.Client that Fetch depends on.
type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, name string) ([]packagist.PackageVersion, error)
}

// Stats summarizes one Fetch run.
type Stats struct {
	Requested int
	Succeeded int
	Failed    int
	TimedOut  int
}

// Fetch walks the transitive closure of roots, requesting every candidate
// version's dependency edges (not just a single "likely" one, since the
// solver may pick any version) until the frontier is exhausted.
func Fetch(ctx context.Context, client MetadataFetcher, roots []Requirement, includeDev bool, cfg Config) (*Pool, Stats, error) {
	cfg = cfg.clamp()
	pool := NewPool()
	var stats Stats

	seen := make(map[string]bool, len(roots))
	rootNames := make(map[string]bool, len(roots))
	var pending []string
	for _, r := range roots {
		rootNames[r.Name] = true
		if IsPlatformName(r.Name) || seen[r.Name] {
			continue
		}
		seen[r.Name] = true
		pending = append(pending, r.Name)
	}

	sem := semaphore.NewWeighted(int64(cfg.MaxConcurrent))

	type result struct {
		name     string
		versions []packagist.PackageVersion
		err      error
		timedOut bool
	}
	results := make(chan result)
	inFlight := 0

	launch := func(name string) {
		inFlight++
		stats.Requested++
		if err := sem.Acquire(ctx, 1); err != nil {
			results <- result{name: name, err: err}
			return
		}
		go func() {
			defer sem.Release(1)
			reqCtx := ctx
			var cancel context.CancelFunc
			if cfg.RequestTimeout > 0 {
				reqCtx, cancel = context.WithTimeout(ctx, cfg.RequestTimeout)
				defer cancel()
			}
			versions, err := client.FetchMetadata(reqCtx, name)
			timedOut := err != nil && reqCtx.Err() == context.DeadlineExceeded
			results <- result{name: name, versions: versions, err: err, timedOut: timedOut}
		}()
	}

	drainLaunches := func() {
		for len(pending) > 0 && inFlight < cfg.MaxConcurrent {
			name := pending[0]
			pending = pending[1:]
			launch(name)
		}
	}
	drainLaunches()

	for inFlight > 0 {
		select {
		case <-ctx.Done():
			return pool, stats, ctx.Err()
		case r := <-results:
			inFlight--
			if r.err != nil {
				stats.Failed++
				if r.timedOut {
					stats.TimedOut++
				}
				dlog.Debugf(ctx, "fetch: dropping %s: %v", r.name, r.err)
				drainLaunches()
				continue
			}
			stats.Succeeded++
			pool.add(r.name, r.versions)

			for _, pv := range r.versions {
				// includeDev only ever applies to the root package's own
				// versions: a transitive package's require-dev entries are
				// its own test/tooling dependencies, never the root's.
				for dep := range dependencyNames(pv, includeDev && rootNames[r.name]) {
					if IsPlatformName(dep) || seen[dep] {
						continue
					}
					seen[dep] = true
					pending = append(pending, dep)
				}
			}
			drainLaunches()
		}
	}

	return pool, stats, nil
}

// dependencyNames returns every package name pv's dependency edges name:
// require always, require-dev only when includeDev is set. Callers must
// only pass includeDev true for the root package's own versions.
func dependencyNames(pv packagist.PackageVersion, includeDev bool) map[string]struct{} {
	out := make(map[string]struct{}, len(pv.Require))
	for name := range pv.Require {
		out[name] = struct{}{}
	}
	if includeDev {
		for name := range pv.RequireDev {
			out[name] = struct{}{}
		}
	}
	return out
}
