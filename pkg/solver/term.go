// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package solver implements a PubGrub-style CDCL version solver: given a
// pool of candidate package versions and a set of root requirements, it
// derives a consistent assignment of one version per package, or a
// structured explanation of why no such assignment exists.
package solver

import (
	"fmt"

	"github.com/vendorsmith/vendorsmith/pkg/semver"
)

// Term is one atomic claim a solver incompatibility is built from: either
// "Package must satisfy Constraint" (Positive) or "Package must not
// satisfy Constraint" (!Positive).
type Term struct {
	Package    string
	Positive   bool
	Constraint semver.Constraint
}

// Effective returns the set of versions this term actually asserts are
// acceptable for Package: Constraint itself if positive, its complement
// otherwise.
func (t Term) Effective() semver.Constraint {
	if t.Positive {
		return t.Constraint
	}
	return t.Constraint.Complement()
}

// Negate returns the logical negation of t.
func (t Term) Negate() Term {
	return Term{Package: t.Package, Positive: !t.Positive, Constraint: t.Constraint}
}

func (t Term) String() string {
	if t.Positive {
		return fmt.Sprintf("%s %s", t.Package, t.Constraint.String())
	}
	return fmt.Sprintf("not %s %s", t.Package, t.Constraint.String())
}

// exact returns a positive term asserting Package is exactly v.
func exact(pkg string, v semver.Version) Term {
	return Term{Package: pkg, Positive: true, Constraint: exactConstraint(v)}
}

func exactConstraint(v semver.Version) semver.Constraint {
	c, err := semver.ParseConstraint(v.String())
	if err != nil {
		// v.String() always reproduces a parseable exact version; a
		// failure here means Version.String's own round-trip invariant
		// (spec.md §3) has been broken elsewhere.
		panic(fmt.Sprintf("solver: version %q does not round-trip: %v", v, err))
	}
	return c
}
