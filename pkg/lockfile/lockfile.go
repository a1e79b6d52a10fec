// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package lockfile renders a resolve.Resolution into the canonical,
// fixed-key-order JSON document a project's lockfile is written as. The
// output is a pure function of the resolution and the supplied Config: the
// same inputs always marshal to the same bytes, so a lockfile committed to
// version control diffs cleanly and a second run against an unchanged
// manifest and repository snapshot reproduces it exactly.
package lockfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vendorsmith/vendorsmith/pkg/packagist"
	"github.com/vendorsmith/vendorsmith/pkg/resolve"
)

// readme is the same boilerplate Composer stamps atop every lockfile it
// writes; reproduced verbatim so output stays byte-compatible with tooling
// that greps a composer.lock for it.
var readme = []string{
	"This file locks the dependencies of your project to a known state",
	"Read more about it at https://getcomposer.org/doc/01-basic-usage.md#composer-lock-the-lock-file",
	"This file is @generated automatically",
}

// PackageEntry is one lockfile package record.
type PackageEntry struct {
	Name    string            `json:"name"`
	Version string            `json:"version"`
	Dist    *packagist.Dist   `json:"dist,omitempty"`
	Source  *packagist.Source `json:"source,omitempty"`
}

// Document is the full lockfile, with fields declared in the exact key
// order the format requires. encoding/json marshals struct fields in
// declaration order, so this struct IS the ordering guarantee: no custom
// MarshalJSON is needed, and none should be added.
type Document struct {
	ReadMe           []string          `json:"_readme"`
	ContentHash      string            `json:"content-hash"`
	Packages         []PackageEntry    `json:"packages"`
	PackagesDev      []PackageEntry    `json:"packages-dev"`
	Aliases          []struct{}        `json:"aliases"`
	MinimumStability string            `json:"minimum-stability"`
	StabilityFlags   map[string]string `json:"stability-flags"`
	PreferStable     bool              `json:"prefer-stable"`
	PreferLowest     bool              `json:"prefer-lowest"`
	Platform         map[string]string `json:"platform"`
	PlatformDev      map[string]string `json:"platform-dev"`
}

// Config supplies the lockfile fields a Resolution doesn't itself carry.
type Config struct {
	// ManifestHash is the content-hash of the normalized root manifest.
	// It is an opaque value computed by the manifest loader: the
	// lockfile writer never looks inside it, only stamps it.
	ManifestHash string

	MinimumStability string
	PreferStable     bool
	PreferLowest     bool
}

// Build renders res and cfg into a Document. Platform, platform-dev,
// stability-flags, and aliases are emitted as empty placeholders: nothing
// in the resolved core currently produces per-requirement platform
// constraints or package aliases to populate them with.
func Build(res *resolve.Resolution, cfg Config) *Document {
	doc := &Document{
		ReadMe:           readme,
		ContentHash:      cfg.ManifestHash,
		Aliases:          []struct{}{},
		MinimumStability: cfg.MinimumStability,
		StabilityFlags:   map[string]string{},
		PreferStable:     cfg.PreferStable,
		PreferLowest:     cfg.PreferLowest,
		Platform:         map[string]string{},
		PlatformDev:      map[string]string{},
	}
	doc.Packages = make([]PackageEntry, 0, len(res.Packages))
	doc.PackagesDev = make([]PackageEntry, 0)
	for _, p := range res.Packages {
		entry := PackageEntry{
			Name:    p.Name,
			Version: p.Version.String(),
			Dist:    p.Dist,
			Source:  p.Source,
		}
		if p.IsDev {
			doc.PackagesDev = append(doc.PackagesDev, entry)
		} else {
			doc.Packages = append(doc.Packages, entry)
		}
	}
	return doc
}

// Marshal renders doc as the indented JSON bytes a lockfile is written as:
// no HTML-escaping of dist/source URLs, four-space indent, trailing
// newline, matching Composer's own JSON_PRETTY_PRINT|JSON_UNESCAPED_SLASHES
// output style.
func Marshal(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("lockfile: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Write renders doc and writes it to path, replacing any existing lockfile
// atomically: a reader can never observe a partially written document.
func Write(path string, doc *Document) error {
	body, err := Marshal(doc)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".lockfile-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("lockfile: promote %s: %w", path, err)
	}
	return nil
}
