// Package elfsym reads the dynamic-linking surface of ELF files. It is the
// concrete symbol source behind the abireport capture pipeline: the core only
// ever sees the extracted symbol lists, never the file.
package elfsym

import (
	"debug/elf"
	"fmt"
	"path/filepath"

	"abireport/internal/abireport"
)

// File holds the dynamic-linking facts of one opened ELF file. All facts are
// extracted at Open time; Close releases the underlying file handle.
type File struct {
	f *elf.File

	kind     abireport.ObjectKind
	identity string
	exported []string
	imported []string
	needed   []string
	rpath    string
	runpath  string
}

// Open parses the dynamic symbol surface of the ELF file at path. The file
// handle stays open until Close so the caller controls the borrow window,
// but every fact is already extracted and copied.
func Open(path string) (*File, error) {
	ef, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s as ELF: %w", path, err)
	}

	sf := &File{f: ef}
	if err := sf.extract(path); err != nil {
		ef.Close()
		return nil, err
	}
	return sf, nil
}

// Close releases the underlying file. The extracted facts remain valid.
func (sf *File) Close() error {
	if sf.f == nil {
		return nil
	}
	err := sf.f.Close()
	sf.f = nil
	return err
}

func (sf *File) extract(path string) error {
	soname, _ := sf.f.DynString(elf.DT_SONAME)

	// A DT_SONAME marks a shared object regardless of ELF type; ET_DYN
	// without one is a position-independent executable.
	switch {
	case len(soname) > 0 && soname[0] != "":
		sf.kind = abireport.KindSharedObject
		sf.identity = soname[0]
	case sf.f.Type == elf.ET_EXEC || sf.f.Type == elf.ET_DYN:
		sf.kind = abireport.KindExecutable
		sf.identity = filepath.Base(path)
	default:
		sf.kind = abireport.KindUnknown
		sf.identity = filepath.Base(path)
	}

	syms, err := sf.f.DynamicSymbols()
	if err != nil && err != elf.ErrNoSymbols {
		return fmt.Errorf("failed to read dynamic symbols of %s: %w", path, err)
	}
	for _, sym := range syms {
		if sym.Name == "" {
			continue
		}
		if sym.Section == elf.SHN_UNDEF {
			// Undefined symbols are the file's imports: what it relies on.
			sf.imported = append(sf.imported, sym.Name)
			continue
		}
		// Exported means defined with default visibility, so global and
		// weak (overridable) symbols count and hidden/internal ones do not.
		if elf.ST_VISIBILITY(sym.Other) == elf.STV_DEFAULT {
			sf.exported = append(sf.exported, sym.Name)
		}
	}

	sf.needed, _ = sf.f.ImportedLibraries()
	if rpath, err := sf.f.DynString(elf.DT_RPATH); err == nil && len(rpath) > 0 {
		sf.rpath = rpath[0]
	}
	if runpath, err := sf.f.DynString(elf.DT_RUNPATH); err == nil && len(runpath) > 0 {
		sf.runpath = runpath[0]
	}
	return nil
}

func (sf *File) ObjectKind() abireport.ObjectKind { return sf.kind }
func (sf *File) Identity() string                 { return sf.identity }
func (sf *File) ExportedSymbols() []string        { return sf.exported }
func (sf *File) ImportedSymbols() []string        { return sf.imported }
func (sf *File) NeededLibs() []string             { return sf.needed }
func (sf *File) Rpath() string                    { return sf.rpath }
func (sf *File) Runpath() string                  { return sf.runpath }

// Opener adapts Open to the batch capture contract.
func Opener(path string) (abireport.SymbolSource, func() error, error) {
	sf, err := Open(path)
	if err != nil {
		return nil, nil, err
	}
	return sf, sf.Close, nil
}
