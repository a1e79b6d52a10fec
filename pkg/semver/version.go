// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package semver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Stability is the ordered maturity rank of a Version.  Composer orders
// stabilities `dev < alpha < beta < RC < stable`.
type Stability int

const (
	StabilityDev Stability = iota
	StabilityAlpha
	StabilityBeta
	StabilityRC
	StabilityStable
)

// String implements fmt.Stringer.
func (s Stability) String() string {
	switch s {
	case StabilityDev:
		return "dev"
	case StabilityAlpha:
		return "alpha"
	case StabilityBeta:
		return "beta"
	case StabilityRC:
		return "RC"
	case StabilityStable:
		return "stable"
	default:
		return fmt.Sprintf("Stability(%d)", int(s))
	}
}

var stabilityAliases = map[string]Stability{
	"dev":     StabilityDev,
	"alpha":   StabilityAlpha,
	"a":       StabilityAlpha,
	"beta":    StabilityBeta,
	"b":       StabilityBeta,
	"rc":      StabilityRC,
	"stable":  StabilityStable,
	"":        StabilityStable,
	"patch":   StabilityStable,
	"p":       StabilityStable,
}

// ParseStability parses one of the stability-flag tokens accepted after an
// `@` in a constraint, or a version's own suffix word. It is case-insensitive.
func ParseStability(s string) (Stability, error) {
	st, ok := stabilityAliases[strings.ToLower(s)]
	if !ok {
		return 0, &ParseError{Kind: "stability", Input: s}
	}
	return st, nil
}

// ParseError is returned by Parse functions in this package. It always
// carries the offending input string and a kind tag identifying what failed
// to parse, per spec.md's error-taxonomy requirement that parse errors carry
// the offending input.
type ParseError struct {
	Kind  string
	Input string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("semver: invalid %s: %q", e.Kind, e.Input)
}

// Version is a parsed Composer-flavored version: a numeric release core
// plus an optional stability suffix and its number.
//
// Version is immutable once constructed and safe to share across goroutines
// (per spec.md's data-model invariant that fetched versions are immutable
// and shared by reference across the pool, solver, and resolution builder).
type Version struct {
	// Release holds up to 4 numeric segments: major, minor, patch, extra.
	// Missing trailing segments are treated as zero when comparing.
	Release [4]int64

	Stab    Stability
	StabNum int64

	// IsBranchAlias marks a `dev-<name>` or `<name>-dev` branch alias.
	// Branch aliases always compare at StabilityDev and are ordered only
	// by Branch name relative to one another (never by Release).
	IsBranchAlias bool
	Branch        string

	raw string
}

var (
	// v, then up to 4 dot-separated numeric segments, then an optional
	// stability suffix (separated by '.', '-', or '_', or glued directly
	// as with "1.0RC1"), then an optional numeral for that suffix.
	reNumericVersion = regexp.MustCompile(
		`(?i)^[vV]?(\d+)(?:\.(\d+))?(?:\.(\d+))?(?:\.(\d+))?` +
			`(?:[._-]?(stable|dev|alpha|a|beta|b|rc|patch|p)[._-]?(\d*))?$`)

	reDevBranch = regexp.MustCompile(`^(?:dev-(.+)|(.+)-dev)$`)
)

// ParseVersion parses a Composer version string, normalizing a leading `v`
// and dev-branch aliases the way spec.md §3 requires. Unparseable input
// returns a *ParseError carrying the original string.
func ParseVersion(s string) (Version, error) {
	trimmed := strings.TrimSpace(s)

	if m := reDevBranch.FindStringSubmatch(trimmed); m != nil {
		name := m[1]
		if name == "" {
			name = m[2]
		}
		return Version{
			IsBranchAlias: true,
			Branch:        name,
			Stab:          StabilityDev,
			raw:           trimmed,
		}, nil
	}

	m := reNumericVersion.FindStringSubmatch(trimmed)
	if m == nil {
		return Version{}, &ParseError{Kind: "version", Input: s}
	}

	var v Version
	v.raw = trimmed
	for i := 0; i < 4; i++ {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.ParseInt(m[i+1], 10, 64)
		if err != nil {
			return Version{}, &ParseError{Kind: "version", Input: s}
		}
		v.Release[i] = n
	}

	if m[5] == "" {
		v.Stab = StabilityStable
		return v, nil
	}
	st, err := ParseStability(m[5])
	if err != nil {
		return Version{}, &ParseError{Kind: "version", Input: s}
	}
	v.Stab = st
	if m[6] != "" {
		n, err := strconv.ParseInt(m[6], 10, 64)
		if err != nil {
			return Version{}, &ParseError{Kind: "version", Input: s}
		}
		v.StabNum = n
	}
	return v, nil
}

// String implements fmt.Stringer. A parsed numeric Version renders as the
// text it was parsed from, minus any leading `v`; a Version built in code
// (such as a computed range bound) renders all four release segments plus
// any stability suffix.
func (v Version) String() string {
	if v.IsBranchAlias {
		return "dev-" + v.Branch
	}
	if v.raw != "" {
		return strings.TrimPrefix(strings.TrimPrefix(v.raw, "v"), "V")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d", v.Release[0])
	for _, seg := range v.Release[1:] {
		fmt.Fprintf(&b, ".%d", seg)
	}
	if v.Stab != StabilityStable {
		fmt.Fprintf(&b, "-%s%d", v.Stab, v.StabNum)
	}
	return b.String()
}

// IsStable reports whether v has no pre-release stability suffix.
func (v Version) IsStable() bool {
	return !v.IsBranchAlias && v.Stab == StabilityStable
}

// Cmp returns <0, 0, or >0 as v is less than, equal to, or greater than o.
//
// Two branch aliases compare equal only if their branch names are equal;
// otherwise they are ordered lexicographically by branch name, and always
// sort below any non-alias version (branch aliases are "dev" stability,
// which is the lowest rank, and carry no release segment to compare).
func (v Version) Cmp(o Version) int {
	switch {
	case v.IsBranchAlias && o.IsBranchAlias:
		return strings.Compare(v.Branch, o.Branch)
	case v.IsBranchAlias && !o.IsBranchAlias:
		return -1
	case !v.IsBranchAlias && o.IsBranchAlias:
		return 1
	}

	for i := range v.Release {
		if d := v.Release[i] - o.Release[i]; d != 0 {
			if d < 0 {
				return -1
			}
			return 1
		}
	}
	if v.Stab != o.Stab {
		if v.Stab < o.Stab {
			return -1
		}
		return 1
	}
	if v.StabNum != o.StabNum {
		if v.StabNum < o.StabNum {
			return -1
		}
		return 1
	}
	return 0
}

// Equal reports whether v and o compare equal under Cmp.
func (v Version) Equal(o Version) bool { return v.Cmp(o) == 0 }

// Less reports whether v sorts before o under Cmp.
func (v Version) Less(o Version) bool { return v.Cmp(o) < 0 }
