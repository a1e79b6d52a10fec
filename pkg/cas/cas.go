// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package cas implements the content-addressed archive store: a disk cache
// keyed by canonicalized archive URL whose entries are complete extracted
// directories, promoted atomically by temp-dir-then-rename. The promote
// idiom and the opener-function read path are the same ones
// pkg/squash and pkg/fsutil use for OCI layer bytes, generalized here from
// "layer tarball" to "extracted archive directory".
package cas

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Store is an on-disk content-addressed archive cache rooted at Root.
// Multiple processes may share one Root; writes are coordinated with a
// per-key lockfile, reads are lock-free.
type Store struct {
	Root string
}

// Open returns a Store rooted at root, creating it if necessary.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("cas: open %s: %w", root, err)
	}
	return &Store{Root: root}, nil
}

// CanonicalKey normalizes an archive URL for use as a cache key: the
// scheme and host are lower-cased, and GitHub's tarball codepath is
// rewritten from the api.github.com form to the codeload.github.com form
// those two endpoints serve byte-identical content. Any URL this can't
// parse is returned unchanged, so lookups degenerate to exact-match
// rather than failing outright.
func CanonicalKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if canon, ok := canonicalizeGitHubTarball(u); ok {
		return canon
	}
	return u.String()
}

// githubTarballPath matches /repos/OWNER/REPO/tarball[/REF].
var githubTarballPath = regexp.MustCompile(`^/repos/([^/]+)/([^/]+)/tarball(?:/(.+))?$`)

func canonicalizeGitHubTarball(u *url.URL) (string, bool) {
	if u.Host != "api.github.com" {
		return "", false
	}
	m := githubTarballPath.FindStringSubmatch(u.Path)
	if m == nil {
		return "", false
	}
	owner, repo, ref := m[1], m[2], m[3]
	if ref == "" {
		ref = "HEAD"
	}
	return fmt.Sprintf("https://codeload.github.com/%s/%s/legacy.tar.gz/%s", owner, repo, ref), true
}

// keyPath returns the on-disk location for a canonicalized key, following
// spec's <root>/archives/<hex-prefix>/<hex-rest> layout.
func (s *Store) keyPath(canonicalURL string) string {
	sum := sha256.Sum256([]byte(canonicalURL))
	h := hex.EncodeToString(sum[:])
	return filepath.Join(s.Root, "archives", h[:2], h[2:])
}

// Get returns the extracted directory for url, if present. A present
// entry is always a complete extraction: entries only ever become visible
// at their final path via Store's atomic rename, never incrementally.
func (s *Store) Get(rawURL string) (string, bool) {
	path := s.keyPath(CanonicalKey(rawURL))
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return path, true
	}
	return "", false
}

// LinkInto materializes the CAS entry for url into dest, which must not
// already exist. It tries a hardlink tree first, falling back to a
// recursive copy when links cross a filesystem boundary (or aren't
// supported, e.g. some network filesystems). It never modifies the CAS
// entry itself.
func (s *Store) LinkInto(rawURL, dest string) error {
	src, ok := s.Get(rawURL)
	if !ok {
		return fmt.Errorf("cas: no entry for %s", rawURL)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if err := linkTree(src, dest); err != nil {
		_ = os.RemoveAll(dest)
		return copyTree(src, dest)
	}
	return nil
}

func linkTree(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm())
		}
		if d.Type()&fs.ModeSymlink != 0 {
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		}
		return os.Link(path, target)
	})
}

func copyTree(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		if d.Type()&fs.ModeSymlink != 0 {
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dest string, mode os.FileMode) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if _err := in.Close(); _err != nil && err == nil {
			err = _err
		}
	}()
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer func() {
		if _err := out.Close(); _err != nil && err == nil {
			err = _err
		}
	}()
	_, err = io.Copy(out, in)
	return err
}

// Store atomically promotes sourceDir into the CAS under url's
// canonicalized key. Concurrent Store calls for the same key are
// serialized by a per-key lockfile; the first writer to complete wins,
// and later writers leave their own sourceDir untouched (they don't own
// it, so cleaning it up is the caller's job).
func (s *Store) Store(rawURL, sourceDir string) error {
	dest := s.keyPath(CanonicalKey(rawURL))
	if fi, err := os.Stat(dest); err == nil && fi.IsDir() {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	lockPath := dest + ".lock"
	lock, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			// Another writer is promoting this key right now, or a prior
			// one crashed mid-promote. Either way this call loses the
			// race; the caller's sourceDir is still theirs to discard.
			return nil
		}
		return err
	}
	defer func() {
		_ = lock.Close()
		_ = os.Remove(lockPath)
	}()

	if fi, err := os.Stat(dest); err == nil && fi.IsDir() {
		return nil
	}

	tmp := filepath.Join(s.Root, "tmp-"+uuid.NewString())
	if err := os.Rename(sourceDir, tmp); err != nil {
		return fmt.Errorf("cas: stage %s: %w", sourceDir, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.RemoveAll(tmp)
		return fmt.Errorf("cas: promote %s: %w", dest, err)
	}
	return nil
}
