// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package archive extracts zip and tar(.gz) dist archives into a
// destination directory, stripping the common top-level directory most
// source archives wrap their content in (the way a GitHub tarball wraps
// everything under a single "owner-repo-sha1/" prefix) and defending
// against zip-slip paths that would escape the destination. The member
// iteration and Unix-mode-preservation idioms are the same ones
// pkg/pep427's wheel reader and pkg/squash's tar walker use for their own
// archive formats, generalized here from OCI/wheel semantics to plain
// zip/tar(.gz) dist archives.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vendorsmith/vendorsmith/pkg/reproducible"
)

// Format identifies which archive reader Extract should use.
type Format int

const (
	FormatUnknown Format = iota
	FormatZip
	FormatTarGz
	FormatTar
)

// DetectFormat guesses a Format from an archive's filename.
func DetectFormat(name string) Format {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz
	case strings.HasSuffix(lower, ".tar"):
		return FormatTar
	default:
		return FormatUnknown
	}
}

// Extract unpacks the archive at path into destDir, which must already
// exist. The archive's common top-level directory, if it has one, is
// stripped so the dist's own files land directly in destDir.
func Extract(path, destDir string) error {
	switch DetectFormat(path) {
	case FormatZip:
		return extractZip(path, destDir)
	case FormatTarGz:
		return extractTarGz(path, destDir)
	case FormatTar:
		return extractTar(path, destDir)
	default:
		return fmt.Errorf("archive: %s: unrecognized archive format", path)
	}
}

// commonTopLevelDir returns the single top-level directory every name in
// names is nested under, or "" if there isn't one (names disagree, or any
// name is itself a root-level entry).
func commonTopLevelDir(names []string) string {
	if len(names) < 2 {
		// A single-entry archive gives nothing to corroborate a shared
		// wrapper directory against; treat its first segment as real
		// structure, not a wrapper to strip.
		return ""
	}
	prefix := ""
	have := false
	for _, name := range names {
		name = strings.TrimPrefix(name, "./")
		if name == "" {
			continue
		}
		parts := strings.SplitN(name, "/", 2)
		if len(parts) < 2 {
			return ""
		}
		if !have {
			prefix, have = parts[0], true
			continue
		}
		if parts[0] != prefix {
			return ""
		}
	}
	return prefix
}

// safeJoin resolves rel against destDir, confining it inside destDir
// (zip-slip defense-in-depth): rel is cleaned as if rooted at "/", so
// "../" components and absolute paths land under destDir instead of
// escaping it. Such members are extracted there, not rejected or skipped.
func safeJoin(destDir, rel string) (string, error) {
	rel = filepath.Clean("/" + rel)
	target := filepath.Join(destDir, rel)
	if target != destDir && !strings.HasPrefix(target, destDir+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive: member %q escapes destination", rel)
	}
	return target, nil
}

// stripPrefix removes prefix (and the slash following it) from name,
// reporting ok=false for the entry representing the prefix directory
// itself (nothing left to extract) or names that aren't under prefix.
func stripPrefix(name, prefix string) (rel string, ok bool) {
	name = strings.TrimPrefix(name, "./")
	if prefix == "" {
		return name, name != ""
	}
	rest := strings.TrimPrefix(name, prefix+"/")
	if rest == name {
		// name doesn't carry the prefix at all; fell out of the
		// single-top-level-dir case commonTopLevelDir already verified,
		// but guard anyway rather than extracting it somewhere wrong.
		return "", false
	}
	return rest, rest != ""
}

func extractZip(path, destDir string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	prefix := commonTopLevelDir(names)

	for _, f := range r.File {
		rel, ok := stripPrefix(f.Name, prefix)
		if !ok {
			continue
		}
		target, err := safeJoin(destDir, rel)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractZipFile(f, target); err != nil {
			return err
		}
		mtime := reproducible.Clamp(f.Modified)
		if err := os.Chtimes(target, mtime, mtime); err != nil {
			return err
		}
	}
	return nil
}

func extractZipFile(f *zip.File, target string) (err error) {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer func() {
		if _err := src.Close(); _err != nil && err == nil {
			err = _err
		}
	}()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer func() {
		if _err := dst.Close(); _err != nil && err == nil {
			err = _err
		}
	}()

	_, err = io.Copy(dst, src)
	return err
}

func extractTarGz(path, destDir string) error {
	return extractTarLike(path, destDir, true)
}

func extractTar(path, destDir string) error {
	return extractTarLike(path, destDir, false)
}

// extractTarLike makes two passes over the archive: the first collects
// member names to compute the common top-level directory, the second
// actually extracts. Unlike zip's central directory, tar offers no cheap
// way to list members without reading the whole stream, so both passes
// re-read the file from the start.
func extractTarLike(path, destDir string, gzipped bool) error {
	names, err := tarMemberNames(path, gzipped)
	if err != nil {
		return err
	}
	prefix := commonTopLevelDir(names)

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	tr, err := tarReader(f, gzipped)
	if err != nil {
		return err
	}

	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		rel, ok := stripPrefix(header.Name, prefix)
		if !ok {
			continue
		}
		target, err := safeJoin(destDir, rel)
		if err != nil {
			return err
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := extractTarFile(tr, target, header); err != nil {
				return err
			}
			mtime := reproducible.Clamp(header.ModTime)
			if err := os.Chtimes(target, mtime, mtime); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Symlink(header.Linkname, target); err != nil {
				return err
			}
		default:
			// Device nodes, FIFOs, etc. have no place in a vendor tree.
		}
	}
}

func extractTarFile(tr *tar.Reader, target string, header *tar.Header) (err error) {
	mode := os.FileMode(header.Mode).Perm()
	if mode == 0 {
		mode = 0o644
	}
	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer func() {
		if _err := dst.Close(); _err != nil && err == nil {
			err = _err
		}
	}()
	_, err = io.Copy(dst, tr)
	return err
}

func tarMemberNames(path string, gzipped bool) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tr, err := tarReader(f, gzipped)
	if err != nil {
		return nil, err
	}

	var names []string
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return names, nil
		}
		if err != nil {
			return nil, err
		}
		names = append(names, header.Name)
	}
}

func tarReader(f *os.File, gzipped bool) (*tar.Reader, error) {
	if !gzipped {
		return tar.NewReader(f), nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	return tar.NewReader(gz), nil
}
