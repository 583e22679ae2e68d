package abireport

import (
	"fmt"
	"sort"
)

// Verdict is the per-node outcome of one resolution pass.
type Verdict int

const (
	VerdictUnchecked Verdict = iota
	VerdictFresh
	VerdictStale
	VerdictUnknownDependency
)

func (v Verdict) String() string {
	switch v {
	case VerdictFresh:
		return "fresh"
	case VerdictStale:
		return "stale"
	case VerdictUnknownDependency:
		return "unknown-dependency"
	default:
		return "unchecked"
	}
}

// UnknownPolicy decides how unresolvable dependencies and bootstrap
// UnknownHash snapshots count. Conservative treats both as rebuild triggers,
// because the system cannot prove ABI compatibility for them; optimistic
// assumes compatibility until a real mismatch shows up.
type UnknownPolicy int

const (
	UnknownConservative UnknownPolicy = iota
	UnknownOptimistic
)

// StaleReason explains one flagged dependency edge.
type StaleReason string

const (
	ReasonHashMismatch  StaleReason = "hash-mismatch"
	ReasonBootstrapHash StaleReason = "bootstrap-hash"
	ReasonUnresolvedDep StaleReason = "unresolved"
	ReasonKindChanged   StaleReason = "kind-changed"
)

// StaleDependency names one dependency edge that contributed to a non-fresh
// verdict.
type StaleDependency struct {
	Identity string
	Reason   StaleReason
}

// Resolution is the resolver output for one graph node.
type Resolution struct {
	Package PkgID
	Verdict Verdict
	// Stale lists the mismatching dependency identities, ordered, when the
	// verdict is Stale or UnknownDependency.
	Stale []StaleDependency
}

// Resolver walks AbiReports against the current index state and flags nodes
// whose recorded dependency fingerprints no longer match.
type Resolver struct {
	Index  *ReportIndex
	Policy UnknownPolicy
	// Recorded, when set, lets Explain fetch the capture a dependency was
	// built with for exact symbol deltas. Optional.
	Recorded RecordedCaptureLookup
}

// Resolve determines one node's verdict. The recorded hashes are frozen
// values, so no graph order is needed here; the index must already cover the
// node's dependencies for their current hashes to resolve.
func (rv *Resolver) Resolve(rep *AbiReport) Resolution {
	res := Resolution{Package: rep.Package, Verdict: VerdictUnchecked}

	var stale, unresolved []StaleDependency
	for _, dep := range rep.Depends {
		if dep.Recorded.IsUnknown() {
			// Bootstrap snapshot: its recorded kind is a placeholder, and
			// freshness is unprovable regardless of the dependency's current
			// state.
			if _, err := rv.Index.LookupIdentity(dep.Identity); err != nil {
				unresolved = append(unresolved, StaleDependency{dep.Identity, ReasonUnresolvedDep})
			} else if rv.Policy == UnknownConservative {
				stale = append(stale, StaleDependency{dep.Identity, ReasonBootstrapHash})
			}
			continue
		}
		cur, err := rv.Index.LookupArtifact(dep.Recorded.Kind, dep.Identity)
		if err != nil {
			// The exact artifact is gone; the identity surviving under a
			// different kind is a kind change, not an unresolvable edge.
			if _, idErr := rv.Index.LookupIdentity(dep.Identity); idErr == nil {
				stale = append(stale, StaleDependency{dep.Identity, ReasonKindChanged})
			} else {
				unresolved = append(unresolved, StaleDependency{dep.Identity, ReasonUnresolvedDep})
			}
			continue
		}
		if !dep.Recorded.Equal(cur.Hash) {
			stale = append(stale, StaleDependency{dep.Identity, ReasonHashMismatch})
		}
	}

	switch {
	case len(stale) > 0:
		res.Verdict = VerdictStale
		res.Stale = append(stale, unresolvedUnderPolicy(unresolved, rv.Policy)...)
	case len(unresolved) > 0 && rv.Policy == UnknownConservative:
		res.Verdict = VerdictUnknownDependency
		res.Stale = unresolved
	default:
		res.Verdict = VerdictFresh
	}
	return res
}

func unresolvedUnderPolicy(unresolved []StaleDependency, pol UnknownPolicy) []StaleDependency {
	if pol == UnknownConservative {
		return unresolved
	}
	return nil
}

// ResolveAll resolves every node of the set in dependency order, a dependency
// before its dependents. The order matters only for reading: each node's
// current-hash lookups assume its predecessors already contributed to the
// index, which BuildIndex guarantees for a finalized set, so this pass keeps
// the traversal deterministic rather than correct-by-order.
func (rv *Resolver) ResolveAll(set *ReportSet) []Resolution {
	order := dependencyOrder(set, rv.Index)
	out := make([]Resolution, 0, len(order))
	for _, rep := range order {
		out = append(out, rv.Resolve(rep))
	}
	return out
}

// dependencyOrder sorts reports so dependencies precede dependents. Cycles
// are tolerated the same way build planning tolerates them: a node already in
// progress is skipped, which breaks the loop and lets the outer call place it.
func dependencyOrder(set *ReportSet, ix *ReportIndex) []*AbiReport {
	var order []*AbiReport
	placed := make(map[PkgID]bool, set.Len())
	inProgress := make(map[PkgID]bool)

	var place func(r *AbiReport)
	place = func(r *AbiReport) {
		if placed[r.Package] || inProgress[r.Package] {
			return
		}
		inProgress[r.Package] = true
		defer delete(inProgress, r.Package)

		for _, dep := range r.Depends {
			a, err := ix.LookupSnapshot(dep)
			if err != nil {
				continue
			}
			place(a.Report)
		}
		placed[r.Package] = true
		order = append(order, r)
	}

	for _, r := range set.Reports() {
		place(r)
	}
	return order
}

// PrintResolutions renders a resolution pass for humans, stale edges first.
func PrintResolutions(resolutions []Resolution) {
	sorted := make([]Resolution, len(resolutions))
	copy(sorted, resolutions)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Verdict != sorted[j].Verdict {
			return sorted[i].Verdict > sorted[j].Verdict
		}
		return naturalLess(string(sorted[i].Package), string(sorted[j].Package))
	})

	for _, res := range sorted {
		colArrow.Print("-> ")
		switch res.Verdict {
		case VerdictFresh:
			colSuccess.Printf("%s: fresh\n", res.Package)
		case VerdictUnknownDependency:
			colWarn.Printf("%s: unknown dependency, rebuild recommended\n", res.Package)
		default:
			colError.Printf("%s: stale\n", res.Package)
		}
		for _, dep := range res.Stale {
			fmt.Printf("   %s (%s)\n", dep.Identity, dep.Reason)
		}
	}
}
