package abireport

import (
	"encoding/hex"
	"sort"

	"lukechampine.com/blake3"
)

// UnknownFingerprint is the bootstrap sentinel meaning "not introspected".
// Real fingerprints are lowercase hex, so the sentinel can never collide with
// one in memory or in any serialized form.
const UnknownFingerprint = "unknown"

// fingerprintSeparator joins sorted symbol names before digesting. NUL cannot
// appear inside an ELF symbol name.
const fingerprintSeparator = "\x00"

// AbiHash is the compact comparable fingerprint of one AbiCapture. It is
// derived from exactly one capture and never constructed independently,
// except for the UnknownHash bootstrap marker.
type AbiHash struct {
	Kind     ObjectKind `json:"kind"`
	Identity string     `json:"identity"`
	// Exports is the BLAKE3-256 digest (hex) over the lexicographically
	// sorted exported symbol set, or UnknownFingerprint.
	Exports string `json:"exports_b3"`
	// Imports is the digest over the imported symbol set. Only present when
	// HashPolicy.HashImports is enabled; the exported-only fingerprint is the
	// default staleness signal.
	Imports string `json:"imports_b3,omitempty"`
}

// HashPolicy selects which symbol channels participate in the fingerprint.
type HashPolicy struct {
	// HashImports additionally fingerprints the imported symbol set. The two
	// design iterations disagree on this; exported-only is the default.
	HashImports bool
}

// ComputeHash derives the fingerprint of a capture. Pure and total:
// captures with identical exported symbol sets, in any order and with any
// duplicate count, yield identical fingerprints.
func ComputeHash(c AbiCapture, pol HashPolicy) AbiHash {
	h := AbiHash{
		Kind:     c.Kind,
		Identity: c.Identity,
		Exports:  fingerprintSymbols(c.Exported),
	}
	if pol.HashImports {
		h.Imports = fingerprintSymbols(c.Imported)
	}
	return h
}

// UnknownHash returns the bootstrap marker for a dependency that has never
// been introspected. It participates in staleness decisions only under an
// explicit UnknownPolicy, never through plain equality.
func UnknownHash(kind ObjectKind, identity string) AbiHash {
	return AbiHash{Kind: kind, Identity: identity, Exports: UnknownFingerprint}
}

// IsUnknown reports whether h is the bootstrap marker.
func (h AbiHash) IsUnknown() bool {
	return h.Exports == UnknownFingerprint
}

// Equal is strict value equality over kind, identity and both fingerprint
// channels. Callers must check IsUnknown first: comparing an unknown hash
// through Equal is a policy decision, not a freshness proof.
func (h AbiHash) Equal(o AbiHash) bool {
	return h.Kind == o.Kind && h.Identity == o.Identity &&
		h.Exports == o.Exports && h.Imports == o.Imports
}

func fingerprintSymbols(syms []string) string {
	// Captures keep natural order for display; the fingerprint contract is
	// lexicographic, so sort a private copy here.
	sorted := make([]string, len(syms))
	copy(sorted, syms)
	sort.Strings(sorted)

	h := blake3.New(32, nil)
	for _, s := range sorted {
		h.Write([]byte(s))
		h.Write([]byte(fingerprintSeparator))
	}
	return hex.EncodeToString(h.Sum(nil))
}
