// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package solver

import (
	"context"
	"fmt"
	"sort"

	"github.com/vendorsmith/vendorsmith/pkg/packagist"
	"github.com/vendorsmith/vendorsmith/pkg/semver"
)

// Mode picks which candidate version wins among several that satisfy a
// package's accumulated constraint.
type Mode int

const (
	PreferHighest Mode = iota
	PreferLowest
	PreferStable
)

// Source is the fetched package universe the solver chooses versions from.
// *fetch.Pool satisfies this.
type Source interface {
	Names() []string
	Versions(name string) []packagist.PackageVersion
}

// Requirement is one root constraint: a name and the range the project (or
// its dev requirements, when included by the caller) demands of it.
type Requirement struct {
	Package    string
	Constraint semver.Constraint
}

// SolveParameters configures one Solve call.
type SolveParameters struct {
	Mode             Mode
	MinimumStability semver.Stability
	MaxIterations    int
	Trace            bool
}

// Solution is the version the solver chose for every package it decided on.
type Solution struct {
	Versions map[string]semver.Version
}

// providerRef is one package asserting (via `provide` or `replace`) that its
// presence satisfies a virtual capability.
type providerRef struct {
	Package    string
	Constraint semver.Constraint
}

type incompatStatus int

const (
	statusNone incompatStatus = iota
	statusAlmostSatisfied
	statusConflict
)

type solver struct {
	ctx    context.Context
	source Source
	params SolveParameters

	solution          *partialSolution
	incompatibilities []*Incompatibility
	providers         map[string][]providerRef

	// mentioned is every package name that has ever appeared in an
	// incompatibility's terms. A package becomes a decision candidate by
	// being mentioned, not merely by having an accumulated constraint in
	// the partial solution: a trivial "*" dependency (or an Any()
	// substitution from resolveVirtual) never derives anything through
	// propagation, so relying on the merged map alone would silently
	// drop such packages instead of deciding a version for them.
	mentioned map[string]bool

	iterations int
}

func (s *solver) addIncompat(i *Incompatibility) {
	s.incompatibilities = append(s.incompatibilities, i)
	for _, t := range i.Terms {
		s.mentioned[t.Package] = true
	}
}

// Solve runs the PubGrub-style engine to completion: it either returns a
// Solution assigning every transitively required package a single version,
// or an error describing why none exists (*ConflictError,
// *PackageNotFoundError, *NoMatchingVersionsError, *TooManyIterationsError).
func Solve(ctx context.Context, source Source, roots []Requirement, params SolveParameters) (*Solution, error) {
	s := &solver{
		ctx:       ctx,
		source:    source,
		params:    params,
		solution:  newPartialSolution(),
		mentioned: make(map[string]bool),
	}
	s.buildProviderIndex()

	var changed []string
	for _, r := range roots {
		target, constraint := s.resolveVirtual(r.Package, r.Constraint)
		s.addIncompat(&Incompatibility{
			Terms: []Term{{Package: target, Positive: false, Constraint: constraint}},
			Cause: RootCause{},
		})
		changed = append(changed, target)
	}

	for {
		s.iterations++
		if s.params.MaxIterations > 0 && s.iterations > s.params.MaxIterations {
			err := &TooManyIterationsError{MaxIterations: s.params.MaxIterations}
			s.logFinish(err)
			return nil, err
		}
		if err := s.propagate(changed); err != nil {
			s.logFinish(err)
			return nil, err
		}
		pkg, done, err := s.choosePackageVersion()
		if err != nil {
			s.logFinish(err)
			return nil, err
		}
		if done {
			s.logFinish(nil)
			versions := make(map[string]semver.Version, len(s.solution.decisions))
			for name, v := range s.solution.decisions {
				versions[name] = v
			}
			return &Solution{Versions: versions}, nil
		}
		changed = []string{pkg}
	}
}

// propagate runs unit propagation to a fixed point, starting from the
// packages listed in changed. It returns once no incompatibility mentioning
// a changed package can derive anything further, or an error once a
// conflict cannot be resolved by backtracking any further.
func (s *solver) propagate(changed []string) error {
	for len(changed) > 0 {
		pkg := changed[len(changed)-1]
		changed = changed[:len(changed)-1]

		for i := len(s.incompatibilities) - 1; i >= 0; i-- {
			incompat := s.incompatibilities[i]
			if !incompat.mentions(pkg) {
				continue
			}
			status, term := s.checkIncompat(incompat)
			switch status {
			case statusConflict:
				s.logConflict(incompat)
				learned, level, err := s.resolveConflict(incompat)
				if err != nil {
					return err
				}
				s.solution.backtrackTo(level)
				s.addIncompat(learned)
				status2, term2 := s.checkIncompat(learned)
				if status2 != statusAlmostSatisfied {
					return &ConflictError{Explanation: s.explain(learned)}
				}
				s.solution.derive(term2.Negate(), learned)
				s.logDerive(term2.Negate(), learned)
				changed = []string{term2.Package}
			case statusAlmostSatisfied:
				s.solution.derive(term.Negate(), incompat)
				s.logDerive(term.Negate(), incompat)
				changed = append(changed, term.Package)
			}
			if status == statusConflict {
				break
			}
		}
	}
	return nil
}

// checkIncompat classifies incompat against the current partial solution:
// conflict if every term is satisfied, almost-satisfied if exactly one term
// is inconclusive and the rest are satisfied (in which case term is the
// inconclusive one, whose negation can be derived), otherwise nothing to do.
func (s *solver) checkIncompat(incompat *Incompatibility) (incompatStatus, Term) {
	var unsatisfied Term
	count := 0
	for _, t := range incompat.Terms {
		switch s.solution.relate(t) {
		case relContradicted:
			return statusNone, Term{}
		case relInconclusive:
			count++
			unsatisfied = t
		}
	}
	switch count {
	case 0:
		return statusConflict, Term{}
	case 1:
		return statusAlmostSatisfied, unsatisfied
	default:
		return statusNone, Term{}
	}
}

// resolveConflict implements a deliberately simplified form of PubGrub's
// CDCL backjumping: rather than iteratively merging incompat with the cause
// of whichever term conflicts at the current decision level until a single
// term remains (full non-chronological backjumping with satisfier search),
// it treats incompat itself as the learned clause and backtracks one
// decision level below the highest one it touches. This sacrifices some
// solving efficiency (a pathological graph may re-derive the same
// incompatibility more than once before converging) but keeps the engine's
// correctness easy to reason about without ever executing it.
func (s *solver) resolveConflict(incompat *Incompatibility) (*Incompatibility, int, error) {
	level := s.solution.maxDecisionLevel(incompat)
	if level == 0 {
		return nil, 0, &ConflictError{Explanation: s.explain(incompat)}
	}
	learned := &Incompatibility{Terms: incompat.Terms, Cause: LearnedCause{From: incompat}}
	return learned, level - 1, nil
}

// choosePackageVersion picks the next undecided package (fewest matching
// versions first, per PubGrub's standard heuristic for minimizing future
// backtracking; ties broken by name), decides it, and adds the
// incompatibilities implied by its dependencies and conflicts. It reports
// done once every package the accumulated constraints mention is decided.
// When the chosen candidate turns out to have no matching version, it may
// instead backtrack and return with pkg == "" and err == nil, signaling
// Solve's loop to call it again rather than having decided anything.
func (s *solver) choosePackageVersion() (pkg string, done bool, err error) {
	var candidates []string
	for name := range s.mentioned {
		if _, decided := s.solution.decisions[name]; decided {
			continue
		}
		candidates = append(candidates, name)
	}
	if len(candidates) == 0 {
		return "", true, nil
	}
	sort.Strings(candidates)

	best := candidates[0]
	bestCount := len(s.matchingVersions(best))
	for _, name := range candidates[1:] {
		count := len(s.matchingVersions(name))
		if count < bestCount {
			best, bestCount = name, count
		}
	}

	if len(s.source.Versions(best)) == 0 {
		return "", false, &PackageNotFoundError{Name: best}
	}

	versions := s.matchingVersions(best)
	if len(versions) == 0 {
		// No fetched version of best satisfies its accumulated constraint.
		// That constraint may have been derived from a choice elsewhere in
		// the graph (e.g. a sibling package's highest version) that
		// backtracking can still undo in favor of one that doesn't require
		// a nonexistent version of best — so this is only a final failure
		// once it's unresolvable at decision level 0, same as any other
		// incompatibility. Resolve it exactly like propagate resolves a
		// conflict it discovers on its own, rather than returning outright.
		acc := s.solution.accumulated(best)
		learned := &Incompatibility{
			Terms: []Term{{Package: best, Positive: true, Constraint: acc}},
			Cause: NoVersionsCause{Package: best},
		}
		if s.solution.maxDecisionLevel(learned) == 0 {
			s.addIncompat(learned)
			return "", false, &NoMatchingVersionsError{Package: best, Constraint: acc}
		}
		s.addIncompat(learned)
		if err := s.propagate([]string{best}); err != nil {
			return "", false, err
		}
		return "", false, nil
	}

	chosen := s.pickVersion(versions)
	s.addDependencyIncompatibilities(best, chosen)
	s.solution.decide(best, chosen.Version)
	s.logDecide(best, chosen.Version)
	return best, false, nil
}

// matchingVersions returns the fetched versions of name that satisfy both
// its accumulated constraint and the minimum-stability floor.
func (s *solver) matchingVersions(name string) []packagist.PackageVersion {
	acc := s.solution.accumulated(name)
	var out []packagist.PackageVersion
	for _, v := range s.source.Versions(name) {
		if !acc.Matches(v.Version) {
			continue
		}
		if floor, ok := acc.StabilityFloor(); ok {
			if v.Version.Stab < floor {
				continue
			}
		} else if v.Version.Stab < s.params.MinimumStability {
			continue
		}
		out = append(out, v)
	}
	return out
}

// pickVersion applies Mode's tie-breaking rule to an already
// constraint-and-stability-filtered candidate list.
func (s *solver) pickVersion(versions []packagist.PackageVersion) packagist.PackageVersion {
	sorted := append([]packagist.PackageVersion(nil), versions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[j].Version.Less(sorted[i].Version) })
	switch s.params.Mode {
	case PreferLowest:
		return sorted[len(sorted)-1]
	case PreferStable:
		for _, v := range sorted {
			if v.Version.IsStable() {
				return v
			}
		}
		return sorted[0]
	default:
		return sorted[0]
	}
}

// addDependencyIncompatibilities adds one incompatibility per dependency and
// per conflict declaration of chosen, so the next propagate pass can derive
// or reject them.
func (s *solver) addDependencyIncompatibilities(pkg string, chosen packagist.PackageVersion) {
	pkgExact := exactConstraint(chosen.Version)

	for depName, constraint := range chosen.Require {
		target, targetConstraint := s.resolveVirtual(depName, constraint)
		s.addIncompat(&Incompatibility{
			Terms: []Term{
				{Package: pkg, Positive: true, Constraint: pkgExact},
				{Package: target, Positive: false, Constraint: targetConstraint},
			},
			Cause: DependencyCause{Package: pkg, Dependency: depName},
		})
	}
	for confName, constraint := range chosen.Conflict {
		s.addIncompat(&Incompatibility{
			Terms: []Term{
				{Package: pkg, Positive: true, Constraint: pkgExact},
				{Package: confName, Positive: true, Constraint: constraint},
			},
			Cause: ConflictDeclCause{Package: pkg, Conflict: confName},
		})
	}
}

// resolveVirtual substitutes a replace/provide target for a dependency name
// when name itself is never fetched as a real package: if exactly one
// known package provides or replaces the capability with an overlapping
// constraint, its presence (any version) is accepted in name's place. A
// missing or ambiguous (multiple-provider) capability is left as name,
// which then naturally fails as PackageNotFound or NoMatchingVersions —
// modeling replace/provide's true OR-across-providers semantics inside
// core unit propagation would require extending terms beyond single-package
// conjunctive clauses, so multi-provider capabilities are instead reconciled
// in the resolution builder's post-solve validation pass.
func (s *solver) resolveVirtual(name string, constraint semver.Constraint) (string, semver.Constraint) {
	if len(s.source.Versions(name)) > 0 {
		return name, constraint
	}
	refs := s.providers[name]
	if len(refs) != 1 {
		return name, constraint
	}
	if !refs[0].Constraint.Intersect(constraint).IsSatisfiable() {
		return name, constraint
	}
	return refs[0].Package, semver.Any()
}

// buildProviderIndex scans every fetched version of every package for
// replace/provide declarations, deduplicating multiple versions of the same
// provider down to one reference so the single-provider check in
// resolveVirtual sees "this package can provide it" rather than counting
// once per version.
func (s *solver) buildProviderIndex() {
	s.providers = make(map[string][]providerRef)
	for _, name := range s.source.Names() {
		for _, v := range s.source.Versions(name) {
			for capability, capConstraint := range v.Provide {
				s.providers[capability] = append(s.providers[capability], providerRef{Package: name, Constraint: capConstraint})
			}
			for capability, capConstraint := range v.Replace {
				s.providers[capability] = append(s.providers[capability], providerRef{Package: name, Constraint: capConstraint})
			}
		}
	}
	for capability, refs := range s.providers {
		seen := make(map[string]bool, len(refs))
		deduped := refs[:0]
		for _, r := range refs {
			if seen[r.Package] {
				continue
			}
			seen[r.Package] = true
			deduped = append(deduped, r)
		}
		s.providers[capability] = deduped
	}
}

func (s *solver) explain(incompat *Incompatibility) string {
	cause := incompat.Cause
	if lc, ok := cause.(LearnedCause); ok {
		return fmt.Sprintf("%s (%s, from %s)", incompat, cause.causeString(), lc.From)
	}
	return fmt.Sprintf("%s (%s)", incompat, cause.causeString())
}
