package abireport

import (
	"fmt"
	"sort"
)

// ObjectKind classifies the analyzed ELF artifact.
type ObjectKind string

const (
	KindSharedObject ObjectKind = "shared-object"
	KindExecutable   ObjectKind = "executable"
	KindUnknown      ObjectKind = "unknown"
)

// SymbolSource yields the dynamic-linking facts of one ELF artifact. The
// concrete reader (debug/elf, a test fake) lives behind this interface; the
// core never touches ELF bytes itself. Implementations may hold an open file,
// which is why BuildCapture copies everything out and never retains the source.
type SymbolSource interface {
	ObjectKind() ObjectKind
	// Identity is the DT_SONAME for shared objects and the executable name
	// otherwise. An empty identity fails the capture.
	Identity() string
	ExportedSymbols() []string
	ImportedSymbols() []string
}

// dynamicDetails is optionally implemented by sources that also expose the
// artifact's dynamic section entries beyond the symbol tables.
type dynamicDetails interface {
	NeededLibs() []string
	Rpath() string
	Runpath() string
}

// AbiCapture is the immutable dynamic-linking snapshot of one ELF artifact,
// fully detached from the originating file. Symbol lists are deduplicated and
// kept in natural sort order, so two captures built from files whose .dynsym
// lists the same symbols in different order compare equal.
type AbiCapture struct {
	Kind     ObjectKind `json:"kind"`
	Identity string     `json:"identity"`
	Exported []string   `json:"exported"`
	Imported []string   `json:"imported"`

	// Extra dynamic section facts, recorded for provenance and display.
	// They do not participate in the ABI fingerprint.
	NeededLibs []string `json:"needed,omitempty"`
	Rpath      string   `json:"rpath,omitempty"`
	Runpath    string   `json:"runpath,omitempty"`
}

// CapturePolicy gates the optional strictness of capture construction.
type CapturePolicy struct {
	// RequireSymbols rejects artifacts whose exported and imported tables are
	// both empty. Off by default: a pure static executable is legal.
	RequireSymbols bool
}

// BuildCapture reads src once and produces an immutable AbiCapture. The
// source is never retained; callers may close it as soon as this returns.
func BuildCapture(src SymbolSource, pol CapturePolicy) (AbiCapture, error) {
	kind := src.ObjectKind()
	identity := src.Identity()
	if identity == "" {
		switch kind {
		case KindSharedObject:
			return AbiCapture{}, fmt.Errorf("shared object has no DT_SONAME: %w", ErrMissingIdentity)
		default:
			return AbiCapture{}, fmt.Errorf("executable has no resolvable name: %w", ErrMissingIdentity)
		}
	}

	exported := dedupSymbols(src.ExportedSymbols())
	imported := dedupSymbols(src.ImportedSymbols())

	if pol.RequireSymbols && len(exported) == 0 && len(imported) == 0 {
		return AbiCapture{}, fmt.Errorf("%s: %w", identity, ErrEmptySymbolTable)
	}

	c := AbiCapture{
		Kind:     kind,
		Identity: identity,
		Exported: exported,
		Imported: imported,
	}
	if det, ok := src.(dynamicDetails); ok {
		c.NeededLibs = dedupSymbols(det.NeededLibs())
		c.Rpath = det.Rpath()
		c.Runpath = det.Runpath()
	}
	return c, nil
}

// Equal reports whether two captures describe the same ABI surface.
func (c AbiCapture) Equal(o AbiCapture) bool {
	return c.Kind == o.Kind && c.Identity == o.Identity &&
		equalStrings(c.Exported, o.Exported) && equalStrings(c.Imported, o.Imported)
}

// dedupSymbols copies, deduplicates and natural-sorts a symbol name list.
// The copy matters: the result must stay valid after the source is closed.
func dedupSymbols(syms []string) []string {
	if len(syms) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(syms))
	out := make([]string, 0, len(syms))
	for _, s := range syms {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Slice(out, func(i, j int) bool { return naturalLess(out[i], out[j]) })
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// naturalLess compares strings human-numerically: digit runs are compared by
// value, so "lib2" sorts before "lib10".
func naturalLess(a, b string) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		ca, cb := a[i], b[j]
		if isDigit(ca) && isDigit(cb) {
			// Compare whole digit runs numerically.
			ia, ja := i, j
			for ia < len(a) && isDigit(a[ia]) {
				ia++
			}
			for ja < len(b) && isDigit(b[ja]) {
				ja++
			}
			na, nb := trimZeros(a[i:ia]), trimZeros(b[j:ja])
			if len(na) != len(nb) {
				return len(na) < len(nb)
			}
			if na != nb {
				return na < nb
			}
			// Equal value but different zero padding must still order one
			// way, or the comparison is not a total order and sorted output
			// depends on input order.
			if ra, rb := a[i:ia], b[j:ja]; ra != rb {
				return ra < rb
			}
			i, j = ia, ja
			continue
		}
		if ca != cb {
			return ca < cb
		}
		i++
		j++
	}
	return len(a)-i < len(b)-j
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func trimZeros(s string) string {
	for len(s) > 1 && s[0] == '0' {
		s = s[1:]
	}
	return s
}
