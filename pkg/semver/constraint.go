// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package semver

import (
	"sort"
	"strings"
)

// Constraint is a boolean combination of interval ranges over Version,
// represented internally as a sorted, non-overlapping list of half-open
// intervals (spec.md §4.1). The zero Constraint (nil) is unsatisfiable;
// use Any() for "matches everything".
type Constraint struct {
	intervals []interval
	// minStability is the widened floor this constraint requests via a
	// trailing `@stability` token, or nil if the constraint carries no
	// such token (the caller's global minimum-stability applies as-is).
	minStability *Stability
}

// Any returns a Constraint that matches every version.
func Any() Constraint {
	return Constraint{intervals: []interval{{lo: negInf(), hi: posInf()}}}
}

// None returns the unsatisfiable Constraint.
func None() Constraint {
	return Constraint{}
}

// IsAny reports whether c matches every version.
func (c Constraint) IsAny() bool {
	return len(c.intervals) == 1 && c.intervals[0].lo.infinite && c.intervals[0].hi.infinite
}

// IsSatisfiable reports whether any version at all matches c.
func (c Constraint) IsSatisfiable() bool {
	return len(c.intervals) > 0
}

// StabilityFloor returns the per-constraint stability widening requested by
// a trailing `@stability` token, and whether one was present.
func (c Constraint) StabilityFloor() (Stability, bool) {
	if c.minStability == nil {
		return StabilityStable, false
	}
	return *c.minStability, true
}

// Matches reports whether v satisfies c. Matches is total: every Constraint,
// including None(), answers every Version.
func (c Constraint) Matches(v Version) bool {
	for _, iv := range c.intervals {
		if iv.matches(v) {
			return true
		}
	}
	return false
}

// Intersect returns the constraint matching versions that satisfy both c and
// o. Intersect is closed: its result is always a valid Constraint, possibly
// None(). Per spec.md §8: (c.Intersect(o)).Matches(v) == c.Matches(v) &&
// o.Matches(v) for all v.
func (c Constraint) Intersect(o Constraint) Constraint {
	var out []interval
	for _, a := range c.intervals {
		for _, b := range o.intervals {
			if iv, ok := intersectOne(a, b); ok {
				out = append(out, iv)
			}
		}
	}
	out = normalize(out)

	floor := c.minStability
	if o.minStability != nil && (floor == nil || *o.minStability < *floor) {
		floor = o.minStability
	}
	return Constraint{intervals: out, minStability: floor}
}

// Complement returns the constraint matching every version c does not
// match. Complement ignores any `@stability` floor c carries: stability
// widening is a parse-time annotation, not part of the version-membership
// algebra that Complement inverts.
func (c Constraint) Complement() Constraint {
	if len(c.intervals) == 0 {
		return Any()
	}
	var out []interval
	if !c.intervals[0].lo.infinite {
		out = append(out, interval{
			lo: negInf(),
			hi: bound{v: c.intervals[0].lo.v, inclusive: !c.intervals[0].lo.inclusive},
		})
	}
	for i := 0; i+1 < len(c.intervals); i++ {
		out = append(out, interval{
			lo: bound{v: c.intervals[i].hi.v, inclusive: !c.intervals[i].hi.inclusive},
			hi: bound{v: c.intervals[i+1].lo.v, inclusive: !c.intervals[i+1].lo.inclusive},
		})
	}
	last := c.intervals[len(c.intervals)-1]
	if !last.hi.infinite {
		out = append(out, interval{
			lo: bound{v: last.hi.v, inclusive: !last.hi.inclusive},
			hi: posInf(),
		})
	}
	return Constraint{intervals: normalize(out)}
}

// IsSubsetOf reports whether every version c matches, o also matches.
func (c Constraint) IsSubsetOf(o Constraint) bool {
	return !c.Intersect(o.Complement()).IsSatisfiable()
}

// Union returns the constraint matching versions that satisfy either c or o
// (used internally to build up `||`-separated constraints during parsing).
func (c Constraint) Union(o Constraint) Constraint {
	all := append(append([]interval{}, c.intervals...), o.intervals...)
	sort.Slice(all, func(i, j int) bool {
		return boundLess(all[i].lo, all[j].lo)
	})
	var out []interval
	for _, iv := range all {
		if len(out) > 0 && overlapsOrAbuts(out[len(out)-1], iv) {
			out[len(out)-1] = mergeAdjacent(out[len(out)-1], iv)
			continue
		}
		out = append(out, iv)
	}
	return Constraint{intervals: out}
}

func boundLess(a, b bound) bool {
	if a.infinite != b.infinite {
		return a.infinite // -inf sorts first; since this is only used for
		// lower bounds in Union, a.infinite means -inf.
	}
	if a.infinite {
		return false
	}
	c := a.v.Cmp(b.v)
	if c != 0 {
		return c < 0
	}
	return a.inclusive && !b.inclusive
}

func overlapsOrAbuts(a, b interval) bool {
	return !intervalBefore(a, b)
}

func mergeAdjacent(a, b interval) interval {
	lo := a.lo
	if boundLess(b.lo, a.lo) {
		lo = b.lo
	}
	hi := a.hi
	if !a.hi.infinite && (b.hi.infinite || a.hi.v.Less(b.hi.v) ||
		(a.hi.v.Equal(b.hi.v) && b.hi.inclusive && !a.hi.inclusive)) {
		hi = b.hi
	}
	return interval{lo: lo, hi: hi}
}

// normalize sorts intervals by lower bound and merges any that touch or
// overlap, so Constraint always carries the minimal representation.
func normalize(ivs []interval) []interval {
	var nonEmpty []interval
	for _, iv := range ivs {
		if !iv.empty() {
			nonEmpty = append(nonEmpty, iv)
		}
	}
	if len(nonEmpty) == 0 {
		return nil
	}
	sort.Slice(nonEmpty, func(i, j int) bool {
		return boundLess(nonEmpty[i].lo, nonEmpty[j].lo)
	})
	out := nonEmpty[:1]
	for _, iv := range nonEmpty[1:] {
		last := &out[len(out)-1]
		if overlapsOrAbuts(*last, iv) {
			*last = mergeAdjacent(*last, iv)
			continue
		}
		out = append(out, iv)
	}
	return out
}

// ParseConstraint parses a Composer constraint expression. It accepts exact
// versions, caret (^), tilde (~), wildcards (1.2.*), interval chains
// (">=1.0 <2.0"), comma-conjunction, "||"-disjunction, hyphen ranges
// ("1.0 - 2.0"), and an optional trailing "@stability" token.
func ParseConstraint(s string) (Constraint, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return Any(), nil
	}

	base, stabilityTok, hasStability := cutStabilityToken(s)

	orParts := strings.Split(base, "||")
	result := None()
	for _, orPart := range orParts {
		c, err := parseConjunction(strings.TrimSpace(orPart))
		if err != nil {
			return Constraint{}, err
		}
		result = result.Union(c)
	}

	if hasStability {
		st, err := ParseStability(stabilityTok)
		if err != nil {
			return Constraint{}, err
		}
		result.minStability = &st
	}
	return result, nil
}

func cutStabilityToken(s string) (base, token string, has bool) {
	idx := strings.LastIndexByte(s, '@')
	if idx < 0 {
		return s, "", false
	}
	return strings.TrimSpace(s[:idx]), strings.TrimSpace(s[idx+1:]), true
}

// parseConjunction parses a comma- or whitespace-separated AND chain of
// clauses (each of which may itself be a hyphen range, caret, tilde,
// wildcard, exact version, or a single ">="/"<"/etc comparator clause).
func parseConjunction(s string) (Constraint, error) {
	clauses := splitConjunction(s)
	result := Any()
	for _, clause := range clauses {
		c, err := parseClause(clause)
		if err != nil {
			return Constraint{}, err
		}
		result = result.Intersect(c)
	}
	return result, nil
}

// splitConjunction tokenizes on commas and on whitespace, except that it
// keeps a hyphen-range's " - " together and keeps a comparator glued to its
// following version (">= 1.0" and ">=1.0" are both single tokens).
func splitConjunction(s string) []string {
	commaParts := strings.Split(s, ",")
	var fields []string
	for _, part := range commaParts {
		fields = append(fields, strings.Fields(part)...)
	}
	// Re-merge hyphen ranges: "1.0", "-", "2.0" => "1.0 - 2.0"
	var out []string
	for i := 0; i < len(fields); i++ {
		if i+2 < len(fields) && fields[i+1] == "-" {
			out = append(out, fields[i]+" - "+fields[i+2])
			i += 2
			continue
		}
		out = append(out, fields[i])
	}
	return out
}

func parseClause(s string) (Constraint, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return Any(), nil
	case strings.Contains(s, " - "):
		return parseHyphenRange(s)
	case strings.HasPrefix(s, "^"):
		return parseCaret(s[1:])
	case strings.HasPrefix(s, "~"):
		return parseTilde(s[1:])
	case strings.HasSuffix(s, "*") || strings.HasSuffix(s, ".x"):
		return parseWildcard(s)
	case strings.HasPrefix(s, ">="):
		return parseComparator(">=", s[2:])
	case strings.HasPrefix(s, "<="):
		return parseComparator("<=", s[2:])
	case strings.HasPrefix(s, ">"):
		return parseComparator(">", s[1:])
	case strings.HasPrefix(s, "<"):
		return parseComparator("<", s[1:])
	case strings.HasPrefix(s, "=="):
		return parseExact(s[2:])
	case strings.HasPrefix(s, "="):
		return parseExact(s[1:])
	default:
		return parseExact(s)
	}
}

func parseExact(s string) (Constraint, error) {
	v, err := ParseVersion(strings.TrimSpace(s))
	if err != nil {
		return Constraint{}, err
	}
	return Constraint{intervals: []interval{{
		lo: bound{v: v, inclusive: true},
		hi: bound{v: v, inclusive: true},
	}}}, nil
}

func parseComparator(op, rest string) (Constraint, error) {
	v, err := ParseVersion(strings.TrimSpace(rest))
	if err != nil {
		return Constraint{}, err
	}
	switch op {
	case ">=":
		return Constraint{intervals: []interval{{lo: bound{v: v, inclusive: true}, hi: posInf()}}}, nil
	case ">":
		return Constraint{intervals: []interval{{lo: bound{v: v, inclusive: false}, hi: posInf()}}}, nil
	case "<=":
		return Constraint{intervals: []interval{{lo: negInf(), hi: bound{v: v, inclusive: true}}}}, nil
	case "<":
		return Constraint{intervals: []interval{{lo: negInf(), hi: bound{v: v, inclusive: false}}}}, nil
	default:
		return Constraint{}, &ParseError{Kind: "constraint-operator", Input: op}
	}
}

// parseHyphenRange parses "A - B" as ">=A" up to an exclusive upper bound
// one step above B's last written segment, so B's missing segments act as
// wildcards: "1.0 - 2" means ">=1.0 <3.0" and "1.0 - 2.0" means
// ">=1.0 <2.1".
func parseHyphenRange(s string) (Constraint, error) {
	idx := strings.Index(s, " - ")
	loStr := strings.TrimSpace(s[:idx])
	hiStr := strings.TrimSpace(s[idx+3:])

	lo, err := ParseVersion(loStr)
	if err != nil {
		return Constraint{}, err
	}
	hiExact, err := ParseVersion(hiStr)
	if err != nil {
		return Constraint{}, err
	}
	segs := countSegments(hiStr)
	hi := bumpAtSegment(hiExact, segs)
	return Constraint{intervals: []interval{{
		lo: bound{v: lo, inclusive: true},
		hi: bound{v: hi, inclusive: false},
	}}}, nil
}

func countSegments(s string) int {
	core := s
	for _, sep := range []string{"-", "+"} {
		if i := strings.Index(core, sep); i >= 0 {
			core = core[:i]
		}
	}
	return len(strings.Split(core, "."))
}

// bumpAtSegment returns the version immediately above v's final explicit
// segment, with everything after that segment reset to zero: bumping at
// segment 2 ("1.5") yields "1.6.0.0"; at segment 3 ("1.5.2") yields
// "1.5.3.0".
func bumpAtSegment(v Version, segs int) Version {
	out := Version{Stab: StabilityStable}
	idx := segs - 1
	if idx < 0 {
		idx = 0
	}
	if idx > 3 {
		idx = 3
	}
	copy(out.Release[:], v.Release[:])
	out.Release[idx]++
	for i := idx + 1; i < 4; i++ {
		out.Release[i] = 0
	}
	return out
}

// parseCaret implements Composer's `^` operator: pins the leftmost
// non-zero segment, per spec.md §4.1's "0.y.z is pre-stable" rule — ^0.y.z
// pins the second segment rather than the first.
func parseCaret(s string) (Constraint, error) {
	v, err := ParseVersion(s)
	if err != nil {
		return Constraint{}, err
	}
	segs := countSegments(s)

	// A plain version's own pre-releases fall inside the range (1.0.0-RC1
	// satisfies ^1.0); a version written with a pre-release suffix keeps it.
	// The upper bound likewise excludes the next version's pre-releases.
	lo := v
	if lo.Stab == StabilityStable && !lo.IsBranchAlias {
		lo.Stab = StabilityDev
		lo.raw = ""
	}

	pinIdx := 0
	for pinIdx < segs-1 && v.Release[pinIdx] == 0 {
		pinIdx++
	}
	hi := Version{Stab: StabilityDev}
	copy(hi.Release[:], v.Release[:])
	hi.Release[pinIdx]++
	for i := pinIdx + 1; i < 4; i++ {
		hi.Release[i] = 0
	}
	return Constraint{intervals: []interval{{
		lo: bound{v: lo, inclusive: true},
		hi: bound{v: hi, inclusive: false},
	}}}, nil
}

// parseTilde implements Composer's `~` operator: allows changes in the
// rightmost explicitly-given segment only, pinning everything above it.
// `~1.2.3` => >=1.2.3 <1.3.0 (the patch may float, minor may not).
// `~1.2`   => >=1.2.0 <2.0.0 (the minor may float, major may not).
func parseTilde(s string) (Constraint, error) {
	v, err := ParseVersion(s)
	if err != nil {
		return Constraint{}, err
	}
	segs := countSegments(s)
	pinIdx := segs - 2
	if pinIdx < 0 {
		pinIdx = 0
	}
	hi := Version{Stab: StabilityStable}
	copy(hi.Release[:], v.Release[:])
	hi.Release[pinIdx]++
	for i := pinIdx + 1; i < 4; i++ {
		hi.Release[i] = 0
	}
	return Constraint{intervals: []interval{{
		lo: bound{v: v, inclusive: true},
		hi: bound{v: hi, inclusive: false},
	}}}, nil
}

// parseWildcard implements "1.2.*" / "1.2.x": the segment before the
// wildcard is the last one pinned, so "1.2.*" means >=1.2 <1.3 (the same
// range as "~1.2.0").
func parseWildcard(s string) (Constraint, error) {
	s = strings.TrimSuffix(s, "*")
	s = strings.TrimSuffix(s, ".x")
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return Any(), nil
	}
	v, err := ParseVersion(s)
	if err != nil {
		return Constraint{}, err
	}
	segs := countSegments(s)
	hi := Version{Stab: StabilityStable}
	copy(hi.Release[:], v.Release[:])
	hi.Release[segs-1]++
	for i := segs; i < 4; i++ {
		hi.Release[i] = 0
	}
	return Constraint{intervals: []interval{{
		lo: bound{v: v, inclusive: true},
		hi: bound{v: hi, inclusive: false},
	}}}, nil
}

// String renders c back to Composer-like syntax for diagnostics (conflict
// explanations, trace logging): intervals are joined with " || ", each
// rendered as a space-separated ">=A <B"-style pair (or a bare version for
// an exact match). It does not round-trip the original spelling: a caret,
// tilde or wildcard clause renders as its interval.
func (c Constraint) String() string {
	if len(c.intervals) == 0 {
		return "<none>"
	}
	if c.IsAny() {
		return "*"
	}
	parts := make([]string, 0, len(c.intervals))
	for _, iv := range c.intervals {
		parts = append(parts, intervalString(iv))
	}
	return strings.Join(parts, " || ")
}

func intervalString(iv interval) string {
	switch {
	case iv.lo.infinite && iv.hi.infinite:
		return "*"
	case iv.lo.infinite:
		op := "<"
		if iv.hi.inclusive {
			op = "<="
		}
		return op + iv.hi.v.String()
	case iv.hi.infinite:
		op := ">="
		if !iv.lo.inclusive {
			op = ">"
		}
		return op + iv.lo.v.String()
	case iv.lo.v.Equal(iv.hi.v) && iv.lo.inclusive && iv.hi.inclusive:
		return iv.lo.v.String()
	default:
		loOp := ">="
		if !iv.lo.inclusive {
			loOp = ">"
		}
		hiOp := "<"
		if iv.hi.inclusive {
			hiOp = "<="
		}
		return loOp + iv.lo.v.String() + " " + hiOp + iv.hi.v.String()
	}
}
