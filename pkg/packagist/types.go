// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package packagist implements a client for the Packagist-compatible
// repository wire protocol: the root `packages.json` descriptor, the
// per-package metadata endpoint, and the minifier decode scheme those
// endpoints use to shrink a version list on the wire.
package packagist

import "github.com/vendorsmith/vendorsmith/pkg/semver"

// RootDescriptor is the document served at `GET /packages.json`.
type RootDescriptor struct {
	MetadataURL     string   `json:"metadata-url"`
	Search          string   `json:"search,omitempty"`
	NotifyBatch     string   `json:"notify-batch,omitempty"`
	ProviderInclude []string `json:"provider-includes,omitempty"`
}

// Dist is the archive download descriptor attached to a VersionRecord.
type Dist struct {
	Type      string `json:"type"`
	URL       string `json:"url"`
	Reference string `json:"reference,omitempty"`
	Shasum    string `json:"shasum,omitempty"`
}

// Source is the VCS checkout descriptor attached to a VersionRecord.
type Source struct {
	Type      string `json:"type"`
	URL       string `json:"url"`
	Reference string `json:"reference"`
}

// VersionRecord is one entry of a per-package metadata response, in wire
// shape: fields a minified record omits are left at their Go zero value
// until the minified response has been expanded (see minify.go).
type VersionRecord struct {
	Name    string `json:"name"`
	Version string `json:"version"`

	Require    map[string]string `json:"require,omitempty"`
	RequireDev map[string]string `json:"require-dev,omitempty"`
	Replace    map[string]string `json:"replace,omitempty"`
	Provide    map[string]string `json:"provide,omitempty"`
	Conflict   map[string]string `json:"conflict,omitempty"`

	Dist   *Dist   `json:"dist,omitempty"`
	Source *Source `json:"source,omitempty"`

	// Cosmetic metadata: ignored by the solver, forwarded to the lockfile.
	Description string   `json:"description,omitempty"`
	Authors     []Author `json:"authors,omitempty"`
	License     []string `json:"license,omitempty"`
	Homepage    string   `json:"homepage,omitempty"`
	Type        string   `json:"type,omitempty"`
}

// Author is one entry of a VersionRecord's author list.
type Author struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// MetadataResponse is the document served at a package's templated
// metadata-url, keyed by package name to its (possibly minified) list of
// VersionRecord.
type MetadataResponse struct {
	Packages map[string][]VersionRecord `json:"packages"`
	Minified string                     `json:"minified,omitempty"`
}

// PackageVersion is the decoded, parsed form of a VersionRecord: the unit
// the rest of the core (fetcher, solver, resolution builder) operates on.
type PackageVersion struct {
	Name    string
	Version semver.Version

	Require    map[string]semver.Constraint
	RequireDev map[string]semver.Constraint
	Replace    map[string]semver.Constraint
	Provide    map[string]semver.Constraint
	Conflict   map[string]semver.Constraint

	Dist   *Dist
	Source *Source

	Description string
	Authors     []Author
	License     []string
	Homepage    string
}
