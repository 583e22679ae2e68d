package abireport

import (
	"fmt"
	"sort"

	"github.com/pmezard/go-difflib/difflib"
)

// SymbolDiff is the symbol-level rebuild evidence for one stale dependency
// edge. Removed drives rebuild necessity: symbols the dependent links against
// that the dependency no longer exports. Added is informational.
type SymbolDiff struct {
	Removed []string `json:"removed"`
	Added   []string `json:"added"`
}

func (d SymbolDiff) Empty() bool {
	return len(d.Removed) == 0 && len(d.Added) == 0
}

// RecordedCaptureLookup retrieves the capture persisted for a dependency's
// recorded build, keyed by its provenance. Backed by the record store when
// one is configured; the resolver works without it at reduced diff fidelity.
type RecordedCaptureLookup func(pkg PkgID, identity string) (AbiCapture, error)

// Explain computes the symbol delta that justifies rebuilding node against
// depIdentity. Pure and read-only; invoked lazily so a boolean-only resolution
// pass never pays the diff cost.
//
// With a recorded capture available, removed is exactly the node's linked
// imports the dependency exported at build time and no longer exports, and
// added is every newly exported symbol. Without one, removed falls back to
// the node's imports absent from the dependency's current exports and not
// satisfied by any other dependency in the node's scope, and added stays
// empty (no recorded export set to compare against).
func (rv *Resolver) Explain(node PkgID, depIdentity string) (SymbolDiff, error) {
	rep, err := rv.Index.LookupPackage(node)
	if err != nil {
		return SymbolDiff{}, err
	}
	// Resolve the edge the way the verdict did: through the node's own
	// snapshot, so a same-named artifact of another kind never shadows it.
	var dep Artifact
	if snap, ok := rep.Snapshot(depIdentity); ok {
		dep, err = rv.Index.LookupSnapshot(snap)
	} else {
		dep, err = rv.Index.LookupIdentity(depIdentity)
	}
	if err != nil {
		return SymbolDiff{}, err
	}

	nodeImports := rep.ImportedSymbols()
	currentExports := symbolSet(dep.Capture.Exported)

	if recorded, ok := rv.recordedExports(rep, depIdentity); ok {
		var removed, added []string
		for _, sym := range nodeImports {
			if _, was := recorded[sym]; !was {
				continue
			}
			if _, still := currentExports[sym]; !still {
				removed = append(removed, sym)
			}
		}
		for sym := range currentExports {
			if _, was := recorded[sym]; !was {
				added = append(added, sym)
			}
		}
		return SymbolDiff{Removed: dedupSymbols(removed), Added: dedupSymbols(added)}, nil
	}

	// No recorded capture: conservative approximation from current state only.
	scope := otherDependencyIdentities(rep, depIdentity)
	var removed []string
	for _, sym := range nodeImports {
		if _, still := currentExports[sym]; still {
			continue
		}
		if len(rv.Index.LookupExporters(sym, scope)) > 0 {
			continue
		}
		removed = append(removed, sym)
	}
	return SymbolDiff{Removed: dedupSymbols(removed)}, nil
}

func (rv *Resolver) recordedExports(rep *AbiReport, depIdentity string) (map[string]struct{}, bool) {
	if rv.Recorded == nil {
		return nil, false
	}
	snap, ok := rep.Snapshot(depIdentity)
	if !ok || snap.Package == "" {
		return nil, false
	}
	c, err := rv.Recorded(snap.Package, depIdentity)
	if err != nil {
		debugf("diff: no recorded capture for %s/%s: %v\n", snap.Package, depIdentity, err)
		return nil, false
	}
	return symbolSet(c.Exported), true
}

func otherDependencyIdentities(rep *AbiReport, exclude string) []string {
	var scope []string
	for _, snap := range rep.Depends {
		if snap.Identity != exclude {
			scope = append(scope, snap.Identity)
		}
	}
	if scope == nil {
		// A nil scope means global to LookupExporters; an empty one means
		// nothing may satisfy the symbol, which is what a single-dependency
		// node needs here.
		scope = []string{}
	}
	return scope
}

func symbolSet(syms []string) map[string]struct{} {
	set := make(map[string]struct{}, len(syms))
	for _, s := range syms {
		set[s] = struct{}{}
	}
	return set
}

// RenderDiff renders the export delta of one dependency as a unified diff
// over its lexicographically sorted export list, recorded state on the left.
func RenderDiff(depIdentity string, d SymbolDiff, currentExports []string) (string, error) {
	after := make([]string, len(currentExports))
	copy(after, currentExports)
	sort.Strings(after)

	beforeSet := symbolSet(after)
	for _, sym := range d.Added {
		delete(beforeSet, sym)
	}
	for _, sym := range d.Removed {
		beforeSet[sym] = struct{}{}
	}
	before := make([]string, 0, len(beforeSet))
	for sym := range beforeSet {
		before = append(before, sym)
	}
	sort.Strings(before)

	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        asDiffLines(before),
		B:        asDiffLines(after),
		FromFile: depIdentity + " (recorded exports)",
		ToFile:   depIdentity + " (current exports)",
		Context:  1,
	})
	if err != nil {
		return "", fmt.Errorf("rendering diff for %s: %w", depIdentity, err)
	}
	return text, nil
}

func asDiffLines(syms []string) []string {
	lines := make([]string, len(syms))
	for i, s := range syms {
		lines[i] = s + "\n"
	}
	return lines
}
