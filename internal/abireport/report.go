package abireport

import (
	"fmt"
	"regexp"
	"sort"
)

// PkgID is the opaque package identity token of the shape
// name-version-sourcerelease-buildrelease[+origin]. The core compares it,
// never parses it.
type PkgID string

// Names may themselves contain hyphens, so the trailing release fields anchor
// the shape from the right.
var pkgIDShape = regexp.MustCompile(`^[A-Za-z0-9._-]+-[A-Za-z0-9._]+-[0-9]+-[0-9]+(\+[A-Za-z0-9._-]+)?$`)

// ValidPkgID reports whether s matches the recognized token shape. Used at
// the input edge only; the core accepts any non-empty token once assembled.
func ValidPkgID(s string) bool {
	return pkgIDShape.MatchString(s)
}

// DependencySnapshot freezes the fingerprint of one build-time dependency at
// the moment the owning package was built. Never updated retroactively.
type DependencySnapshot struct {
	Identity string  `json:"identity"`
	Recorded AbiHash `json:"recorded"`
	// Package is the optional provenance of the dependency's build.
	Package PkgID `json:"package,omitempty"`
}

// AbiReport snapshots one package build: the package's own captures and
// hashes plus the dependency fingerprints it was linked against. Created at
// build completion, persisted, never mutated; a rebuild supersedes it with a
// new report rather than editing it.
type AbiReport struct {
	Package  PkgID                `json:"package"`
	Captures []AbiCapture         `json:"captures"`
	Hashes   []AbiHash            `json:"hashes"`
	Depends  []DependencySnapshot `json:"depends"`
}

// AssembleReport combines a package's own captures with the hash snapshots of
// its build-time dependencies. Own hashes are derived here, one per capture,
// which keeps the capture/hash pairing an internal invariant. Packages that
// produce no ELF artifacts legally assemble with empty captures.
func AssembleReport(pkg PkgID, captures []AbiCapture, deps []DependencySnapshot, pol HashPolicy) (*AbiReport, error) {
	if pkg == "" {
		return nil, fmt.Errorf("report needs a package id: %w", ErrMissingIdentity)
	}

	owned := make([]AbiCapture, len(captures))
	copy(owned, captures)
	sort.Slice(owned, func(i, j int) bool {
		if owned[i].Identity != owned[j].Identity {
			return naturalLess(owned[i].Identity, owned[j].Identity)
		}
		return owned[i].Kind < owned[j].Kind
	})

	seen := make(map[string]struct{}, len(owned))
	hashes := make([]AbiHash, 0, len(owned))
	for _, c := range owned {
		key := string(c.Kind) + "\x00" + c.Identity
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("package %s owns two %s artifacts named %q: %w",
				pkg, c.Kind, c.Identity, ErrDuplicateIdentity)
		}
		seen[key] = struct{}{}
		hashes = append(hashes, ComputeHash(c, pol))
	}

	snaps := make([]DependencySnapshot, len(deps))
	copy(snaps, deps)
	sort.Slice(snaps, func(i, j int) bool {
		return naturalLess(snaps[i].Identity, snaps[j].Identity)
	})

	return &AbiReport{
		Package:  pkg,
		Captures: owned,
		Hashes:   hashes,
		Depends:  snaps,
	}, nil
}

// OwnedCapture returns the report's capture for one artifact identity.
func (r *AbiReport) OwnedCapture(identity string) (AbiCapture, bool) {
	for _, c := range r.Captures {
		if c.Identity == identity {
			return c, true
		}
	}
	return AbiCapture{}, false
}

// Snapshot returns the report's dependency snapshot for one identity.
func (r *AbiReport) Snapshot(identity string) (DependencySnapshot, bool) {
	for _, s := range r.Depends {
		if s.Identity == identity {
			return s, true
		}
	}
	return DependencySnapshot{}, false
}

// ImportedSymbols returns the union of all symbols the report's own artifacts
// import, deduplicated and natural-sorted.
func (r *AbiReport) ImportedSymbols() []string {
	var all []string
	for _, c := range r.Captures {
		all = append(all, c.Imported...)
	}
	return dedupSymbols(all)
}
