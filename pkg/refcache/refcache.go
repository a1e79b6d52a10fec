// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package refcache maintains bare Git mirrors of VCS source repositories,
// keyed by a canonicalized form of the repository URL, so that repeated
// installs across projects reuse one local mirror via shared-object
// (alternates) linking rather than re-cloning.
package refcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/datawire/dlib/dexec"
	"github.com/datawire/dlib/dlog"
)

// Cache manages bare Git mirrors under a root cache directory.
type Cache struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Cache rooted at dir.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("refcache: %w", err)
	}
	return &Cache{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

// CanonicalizeURL normalizes a VCS URL for cache-key purposes: scheme and
// host are lower-cased, a trailing ".git" and trailing slash are dropped,
// and default ports are stripped. Two URLs that name the same repository
// by cosmetic spelling differences canonicalize to the same string.
func CanonicalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimSuffix(strings.TrimSuffix(raw, "/"), ".git")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	switch {
	case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
		u.Host = strings.TrimSuffix(u.Host, ":443")
	case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	u.Path = strings.TrimSuffix(u.Path, ".git")
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.Fragment = ""
	u.RawQuery = ""
	return u.String()
}

// CacheKey derives the on-disk mirror directory name for a (canonicalized)
// repository URL.
func CacheKey(canonicalURL string) string {
	sum := sha256.Sum256([]byte(canonicalURL))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) lockFor(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	return l
}

// MirrorPath returns the on-disk path of the bare mirror for rawURL,
// creating or updating it first: `git clone --mirror` on first use,
// `git remote update` thereafter.
func (c *Cache) MirrorPath(ctx context.Context, rawURL string) (string, error) {
	canonical := CanonicalizeURL(rawURL)
	key := CacheKey(canonical)
	path := filepath.Join(c.dir, key)

	lock := c.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(filepath.Join(path, "HEAD")); err == nil {
		if err := c.update(ctx, path); err != nil {
			dlog.Warnf(ctx, "refcache: update mirror of %s failed, using stale copy: %v", canonical, err)
		}
		return path, nil
	}

	if err := c.clone(ctx, rawURL, path); err != nil {
		return "", err
	}
	return path, nil
}

func (c *Cache) clone(ctx context.Context, rawURL, path string) error {
	tmp := path + ".tmp"
	_ = os.RemoveAll(tmp)
	defer os.RemoveAll(tmp)

	cmd := dexec.CommandContext(ctx, "git", "clone", "--mirror", "--", rawURL, tmp)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("refcache: git clone --mirror %s: %w", rawURL, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("refcache: %w", err)
	}
	return nil
}

func (c *Cache) update(ctx context.Context, path string) error {
	cmd := dexec.CommandContext(ctx, "git", "--git-dir", path, "remote", "update", "--prune")
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("refcache: git remote update %s: %w", path, err)
	}
	return nil
}

// CloneWithAlternates performs a non-bare checkout of ref from the cached
// mirror into dst, using the mirror as an alternates object store so the
// checkout shares objects with the mirror instead of duplicating them.
func (c *Cache) CloneWithAlternates(ctx context.Context, rawURL, ref, dst string) error {
	mirror, err := c.MirrorPath(ctx, rawURL)
	if err != nil {
		return err
	}
	cmd := dexec.CommandContext(ctx, "git", "clone", "--reference", mirror, "--", rawURL, dst)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("refcache: git clone --reference: %w", err)
	}
	if ref != "" {
		cmd := dexec.CommandContext(ctx, "git", "-C", dst, "checkout", "--quiet", ref)
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("refcache: git checkout %s: %w", ref, err)
		}
	}
	return nil
}
