package abireport

import (
	"fmt"
	"sort"
)

// Artifact bundles the three views the index keeps per owned capture.
type Artifact struct {
	Report  *AbiReport
	Hash    AbiHash
	Capture AbiCapture
}

// artifactKey mirrors the assembler's identity space: one package may own an
// executable and a shared object under the same name, so identity alone does
// not address an artifact.
type artifactKey struct {
	kind     ObjectKind
	identity string
}

// ReportIndex answers forward lookups (symbol to exporters, artifact key to
// artifact) and reverse lookups (package to report) over one closed report
// set. It is a read-only snapshot: rebuilding is always a full replace, so
// the forward and reverse tables are mutually consistent at every observable
// instant. Publish a new index by swapping the pointer, never by mutation.
type ReportIndex struct {
	byArtifact map[artifactKey]Artifact
	bySymbol   map[string][]string
	byPackage  map[PkgID]*AbiReport
}

// BuildIndex derives the lookup tables from a finalized report set. A report
// whose dependency snapshot names an identity absent from the set does not
// fail the build; that identity is simply unresolvable at lookup time, which
// the resolver surfaces as an UnknownDependency verdict.
func BuildIndex(set *ReportSet) *ReportIndex {
	ix := &ReportIndex{
		byArtifact: make(map[artifactKey]Artifact),
		bySymbol:   make(map[string][]string),
		byPackage:  make(map[PkgID]*AbiReport, set.Len()),
	}

	for _, r := range set.Reports() {
		ix.byPackage[r.Package] = r
		for i, c := range r.Captures {
			if i >= len(r.Hashes) {
				// Guards against a hand-edited persisted report; assembled
				// reports always pair captures and hashes 1:1.
				debugf("index: report %s has %d captures but %d hashes\n",
					r.Package, len(r.Captures), len(r.Hashes))
				break
			}
			key := artifactKey{c.Kind, c.Identity}
			if prev, ok := ix.byArtifact[key]; ok {
				// The assembler rejects duplicate (kind, identity) pairs
				// within one report, so colliding packages differ. Reports
				// arrive in stable package order: the winner is deterministic.
				debugf("index: %s %q owned by both %s and %s, keeping %s\n",
					c.Kind, c.Identity, prev.Report.Package, r.Package, prev.Report.Package)
				continue
			}
			ix.byArtifact[key] = Artifact{Report: r, Hash: r.Hashes[i], Capture: c}
			for _, sym := range c.Exported {
				ix.bySymbol[sym] = append(ix.bySymbol[sym], c.Identity)
			}
		}
	}

	for sym := range ix.bySymbol {
		ix.bySymbol[sym] = sortedUnique(ix.bySymbol[sym])
	}
	return ix
}

// sortedUnique sorts identities lexicographically and drops duplicates, which
// arise when one identity exports a symbol under two object kinds.
func sortedUnique(ids []string) []string {
	sort.Strings(ids)
	out := ids[:0]
	for i, id := range ids {
		if i == 0 || id != ids[i-1] {
			out = append(out, id)
		}
	}
	return out
}

// LookupExporters returns the identities exporting sym. A non-nil scope
// restricts the answer to its members; identities outside the scope are
// never returned even when they export sym globally.
func (ix *ReportIndex) LookupExporters(sym string, scope []string) []string {
	exporters := ix.bySymbol[sym]
	if scope == nil {
		out := make([]string, len(exporters))
		copy(out, exporters)
		return out
	}
	inScope := make(map[string]struct{}, len(scope))
	for _, id := range scope {
		inScope[id] = struct{}{}
	}
	var out []string
	for _, id := range exporters {
		if _, ok := inScope[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// LookupArtifact resolves a (kind, identity) pair to its owning report,
// current hash and capture.
func (ix *ReportIndex) LookupArtifact(kind ObjectKind, identity string) (Artifact, error) {
	a, ok := ix.byArtifact[artifactKey{kind, identity}]
	if !ok {
		return Artifact{}, fmt.Errorf("%s %q: %w", kind, identity, ErrNotFound)
	}
	return a, nil
}

// LookupIdentity resolves an identity regardless of object kind, preferring
// shared objects. For callers that only hold a name: bootstrap snapshots
// whose recorded kind is a placeholder, and kind-change detection.
func (ix *ReportIndex) LookupIdentity(identity string) (Artifact, error) {
	for _, kind := range []ObjectKind{KindSharedObject, KindExecutable, KindUnknown} {
		if a, ok := ix.byArtifact[artifactKey{kind, identity}]; ok {
			return a, nil
		}
	}
	return Artifact{}, fmt.Errorf("artifact %q: %w", identity, ErrNotFound)
}

// LookupSnapshot resolves a dependency snapshot to the current artifact it
// points at: the recorded kind when that artifact still exists, any kind with
// the same identity otherwise.
func (ix *ReportIndex) LookupSnapshot(snap DependencySnapshot) (Artifact, error) {
	if !snap.Recorded.IsUnknown() {
		if a, err := ix.LookupArtifact(snap.Recorded.Kind, snap.Identity); err == nil {
			return a, nil
		}
	}
	return ix.LookupIdentity(snap.Identity)
}

// LookupPackage resolves a package id to its report.
func (ix *ReportIndex) LookupPackage(pkg PkgID) (*AbiReport, error) {
	r, ok := ix.byPackage[pkg]
	if !ok {
		return nil, fmt.Errorf("package %q: %w", pkg, ErrNotFound)
	}
	return r, nil
}

// Identities returns every indexed artifact identity in natural order,
// without kind duplicates.
func (ix *ReportIndex) Identities() []string {
	seen := make(map[string]struct{}, len(ix.byArtifact))
	out := make([]string, 0, len(ix.byArtifact))
	for key := range ix.byArtifact {
		if _, dup := seen[key.identity]; dup {
			continue
		}
		seen[key.identity] = struct{}{}
		out = append(out, key.identity)
	}
	sort.Slice(out, func(i, j int) bool { return naturalLess(out[i], out[j]) })
	return out
}
