// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package semver implements Composer's version and constraint grammar.
//
// A Composer version identifier is a dotted numeric core of one to four
// segments, optionally followed by a stability suffix:
//
//	1.2.3
//	1.2.3-alpha1
//	1.2.3-RC2
//	1.2.3-beta
//	2.1-dev
//	dev-master
//
// Stability suffixes are ordered `dev < alpha < beta < RC < <none>`, where
// "<none>" (a plain numeric core) denotes a stable release. A dev branch
// alias such as `dev-master` or `4.x-dev` compares as a fixed, maximally-low
// `dev` stability sentinel: branch aliases are never ordered against each
// other by anything but name, since there is no way to compare the relative
// maturity of two branches.
//
// Constraints combine these versions into ranges:
//
//	1.2.3          exact
//	^1.2.3         caret:  >=1.2.3 <2.0.0   (>=0.2.3 <0.3.0 if the major is 0)
//	~1.2.3         tilde:  >=1.2.3 <1.3.0
//	1.2.*          wildcard
//	>=1.0 <2.0     interval chain (space-separated, implicitly AND'd)
//	1.0 - 2.0      hyphen range
//	1.0 || 2.0     OR (double pipe)
//	1.0, 2.0       AND (comma)
//	^1.0@dev       stability flag: widen the floor for this clause only
//
// Internally every Constraint is a sorted, non-overlapping list of half-open
// intervals `[lo, hi)` over Version, so intersection, union and
// satisfiability are total operations — they never fail, though they may
// produce the empty constraint (no version matches).
package semver
