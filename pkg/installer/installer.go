// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package installer materializes a resolved package list into a vendor
// tree: cached entries are linked in from the content-addressed store
// immediately, everything else is downloaded, verified, extracted, and
// stored into the cache concurrently, bounded by a CPU-adaptive cap — the
// same shared-client, bounded-fan-out shape pkg/fetch uses for metadata
// requests, generalized here to archive bytes.
package installer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/datawire/dlib/dlog"

	"github.com/vendorsmith/vendorsmith/pkg/archive"
	"github.com/vendorsmith/vendorsmith/pkg/cas"
	"github.com/vendorsmith/vendorsmith/pkg/resolve"
)

// Config tunes the installer.
type Config struct {
	// VendorDir is the root packages are installed under, one directory
	// per package name (which itself contains a "/", e.g.
	// vendor/vendor-name/package-name).
	VendorDir string

	// MaxConcurrent bounds simultaneous downloads. Zero selects
	// min(128, max(32, 8×NumCPU)), per spec.md §4.8.
	MaxConcurrent int

	// HTTPClient is shared across every download of this run; its
	// connection pool is the install's main resource bottleneck. A nil
	// client gets a retrying one built the same way pkg/packagist builds
	// its own.
	HTTPClient *http.Client
}

func (c Config) clamp() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = adaptiveConcurrency()
	}
	if c.HTTPClient == nil {
		rc := retryablehttp.NewClient()
		rc.Logger = nil
		c.HTTPClient = rc.StandardClient()
	}
	return c
}

func adaptiveConcurrency() int {
	n := 8 * runtime.NumCPU()
	switch {
	case n < 32:
		return 32
	case n > 128:
		return 128
	default:
		return n
	}
}

// Failure records why one package could not be installed.
type Failure struct {
	Package string
	Err     error
}

// Result summarizes one Install run.
type Result struct {
	Installed int
	CacheHits int
	Failures  []Failure
}

// AggregateError is returned when one or more packages failed to install.
// Successful installs are never rolled back.
type AggregateError struct {
	Failures []Failure
}

func (e *AggregateError) Error() string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.Package
	}
	return fmt.Sprintf("installer: %d package(s) failed: %s", len(e.Failures), strings.Join(names, ", "))
}

// Install materializes packages into cfg.VendorDir. Order doesn't matter:
// install only writes files, it never runs code, so dependents and
// dependencies may be installed concurrently in any order even though
// packages arrives topologically sorted.
func Install(ctx context.Context, store *cas.Store, packages []resolve.Package, cfg Config) (*Result, error) {
	cfg = cfg.clamp()
	result := &Result{}
	var mu sync.Mutex

	fail := func(name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		result.Failures = append(result.Failures, Failure{Package: name, Err: err})
	}

	var cached, toDownload []resolve.Package
	for _, p := range packages {
		if p.Dist == nil {
			fail(p.Name, fmt.Errorf("installer: %s has no dist archive to install", p.Name))
			continue
		}
		if _, ok := store.Get(p.Dist.URL); ok {
			cached = append(cached, p)
		} else {
			toDownload = append(toDownload, p)
		}
	}

	for _, p := range cached {
		if err := store.LinkInto(p.Dist.URL, filepath.Join(cfg.VendorDir, p.Name)); err != nil {
			fail(p.Name, err)
			continue
		}
		result.CacheHits++
	}

	sem := semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range toDownload {
		p := p
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return nil // context canceled; the group is already winding down
			}
			defer sem.Release(1)

			if err := installOne(gctx, cfg, store, p); err != nil {
				dlog.Debugf(gctx, "installer: %s failed: %v", p.Name, err)
				fail(p.Name, err)
				return nil
			}
			mu.Lock()
			result.Installed++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // failures are collected per-package above, never propagated as a group error

	if len(result.Failures) > 0 {
		return result, &AggregateError{Failures: result.Failures}
	}
	return result, nil
}

// installOne downloads, verifies, extracts, and caches a single package,
// then links it into its vendor destination.
func installOne(ctx context.Context, cfg Config, store *cas.Store, p resolve.Package) error {
	parent := filepath.Dir(cfg.VendorDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}

	archiveFile, err := os.CreateTemp(parent, "vendorsmith-dl-*"+archiveSuffix(p.Dist.URL))
	if err != nil {
		return err
	}
	archivePath := archiveFile.Name()
	defer func() {
		_ = os.Remove(archivePath)
	}()

	if err := download(ctx, cfg.HTTPClient, p.Dist.URL, archiveFile); err != nil {
		_ = archiveFile.Close()
		return err
	}
	if err := archiveFile.Close(); err != nil {
		return err
	}

	if p.Dist.Shasum != "" {
		if err := verifySHA256(archivePath, p.Dist.Shasum); err != nil {
			return err
		}
	}

	extractDir, err := os.MkdirTemp(parent, "vendorsmith-extract-*")
	if err != nil {
		return err
	}
	defer func() {
		_ = os.RemoveAll(extractDir)
	}()

	if err := archive.Extract(archivePath, extractDir); err != nil {
		return fmt.Errorf("installer: extracting %s: %w", p.Name, err)
	}

	if err := store.Store(p.Dist.URL, extractDir); err != nil {
		return err
	}

	dest := filepath.Join(cfg.VendorDir, p.Name)
	return store.LinkInto(p.Dist.URL, dest)
}

// archiveSuffix extracts a recognizable extension from url's last path
// segment so the temp file archive.Extract reads still carries the hint
// it needs to pick a format (DetectFormat keys off the filename, not the
// content).
func archiveSuffix(rawURL string) string {
	name := rawURL
	if i := strings.LastIndexByte(rawURL, '/'); i >= 0 {
		name = rawURL[i+1:]
	}
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return ".tar.gz"
	case strings.HasSuffix(lower, ".tar"):
		return ".tar"
	default:
		return ".zip"
	}
}

func download(ctx context.Context, client *http.Client, url string, dst *os.File) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("installer: GET %s: HTTP %s", url, resp.Status)
	}
	_, err = dst.ReadFrom(resp.Body)
	return err
}

func verifySHA256(path, want string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	got := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(got, want) {
		return fmt.Errorf("installer: %s: sha256 mismatch: got %s, want %s", path, got, want)
	}
	return nil
}
