package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/gookit/color"
	"github.com/schollz/progressbar/v3"

	"abireport/internal/abireport"
	"abireport/internal/elfsym"
)

var (
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
)

func usage() {
	fmt.Println(`Usage: abireport <command> [options]

Commands:
  capture [-v] [-require-symbols] <elf>...   dump the ABI surface of ELF files
  hash [-imports] <elf>...                   print ABI fingerprints
  report -pkg <pkgid> [-dep id[@pkgid]]... <elf>...
                                             assemble and store a build report
  resolve [-remote] [-explain]               flag packages stale against current ABI
  version                                    print build information`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	if os.Getenv("ABIREPORT_DEBUG") == "1" {
		abireport.Debug = true
	}

	cfg, err := abireport.LoadConfig(abireport.ConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	var cmdErr error
	switch os.Args[1] {
	case "capture":
		cmdErr = handleCapture(os.Args[2:], cfg)
	case "hash":
		cmdErr = handleHash(os.Args[2:], cfg)
	case "report":
		cmdErr = handleReport(os.Args[2:], cfg)
	case "resolve":
		cmdErr = handleResolve(os.Args[2:], cfg)
	case "version":
		v, date := abireport.Version()
		fmt.Printf("abireport %s (built %s)\n", v, date)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Println("Unknown command:", os.Args[1])
		usage()
		os.Exit(1)
	}

	if cmdErr != nil {
		colError.Printf("Error: %v\n", cmdErr)
		os.Exit(1)
	}
}

// captureBatch runs the parallel capture pass with a progress bar and
// reports per-file failures alongside the successes.
func captureBatch(paths []string, pol abireport.CapturePolicy) []abireport.CaptureResult {
	var bar *progressbar.ProgressBar
	if len(paths) > 1 && abireport.StdoutIsTerminal() {
		bar = progressbar.Default(int64(len(paths)), "capturing")
	}

	results := abireport.BuildCaptures(paths, func(path string) (abireport.SymbolSource, func() error, error) {
		if bar != nil {
			defer bar.Add(1)
		}
		return elfsym.Opener(path)
	}, pol)

	if bar != nil {
		_ = bar.Finish()
	}
	return results
}

func handleCapture(args []string, cfg *abireport.Config) error {
	fs := flag.NewFlagSet("capture", flag.ExitOnError)
	verbose := fs.Bool("v", false, "list every symbol, not only counts")
	requireSymbols := fs.Bool("require-symbols", false, "fail artifacts with empty symbol tables")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("capture needs at least one ELF file")
	}

	pol := cfg.CapturePolicy()
	if *requireSymbols {
		pol.RequireSymbols = true
	}

	var failed int
	for _, res := range captureBatch(fs.Args(), pol) {
		if res.Err != nil {
			colWarn.Printf("%s: %v\n", res.Path, res.Err)
			failed++
			continue
		}
		printCapture(res.Path, res.Capture, *verbose)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed to capture", failed, fs.NArg())
	}
	return nil
}

func printCapture(path string, c abireport.AbiCapture, verbose bool) {
	colArrow.Print("-> ")
	colSuccess.Printf("%s\n", path)
	fmt.Printf("   kind:     %s\n", c.Kind)
	fmt.Printf("   identity: %s\n", c.Identity)
	if len(c.NeededLibs) > 0 {
		fmt.Printf("   needed:   %s\n", strings.Join(c.NeededLibs, " "))
	}
	if c.Rpath != "" {
		fmt.Printf("   rpath:    %s\n", c.Rpath)
	}
	if c.Runpath != "" {
		fmt.Printf("   runpath:  %s\n", c.Runpath)
	}
	if verbose {
		for _, sym := range c.Exported {
			fmt.Printf("   exports %s\n", sym)
		}
		for _, sym := range c.Imported {
			fmt.Printf("   imports %s\n", sym)
		}
	} else {
		fmt.Printf("   exports:  %d symbols\n", len(c.Exported))
		fmt.Printf("   imports:  %d symbols\n", len(c.Imported))
	}
}

func handleHash(args []string, cfg *abireport.Config) error {
	fs := flag.NewFlagSet("hash", flag.ExitOnError)
	imports := fs.Bool("imports", false, "also fingerprint imported symbols")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("hash needs at least one ELF file")
	}

	pol := cfg.HashPolicy()
	if *imports {
		pol.HashImports = true
	}

	var failed int
	for _, res := range captureBatch(fs.Args(), cfg.CapturePolicy()) {
		if res.Err != nil {
			colWarn.Printf("%s: %v\n", res.Path, res.Err)
			failed++
			continue
		}
		h := abireport.ComputeHash(res.Capture, pol)
		fmt.Printf("%s  %s (%s)\n", h.Exports, h.Identity, h.Kind)
		if h.Imports != "" {
			fmt.Printf("%s  %s (imports)\n", h.Imports, h.Identity)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed to capture", failed, fs.NArg())
	}
	return nil
}

// depFlags collects repeated -dep identity[@pkgid] arguments.
type depFlags []string

func (d *depFlags) String() string { return strings.Join(*d, ",") }
func (d *depFlags) Set(v string) error {
	*d = append(*d, v)
	return nil
}

func handleReport(args []string, cfg *abireport.Config) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	pkgFlag := fs.String("pkg", "", "package id of this build (name-version-sourcerelease-buildrelease[+origin])")
	var deps depFlags
	fs.Var(&deps, "dep", "build-time dependency, identity[@pkgid]; repeatable")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pkgFlag == "" {
		return fmt.Errorf("report needs -pkg")
	}
	if !abireport.ValidPkgID(*pkgFlag) {
		return fmt.Errorf("package id %q does not match name-version-sourcerelease-buildrelease[+origin]", *pkgFlag)
	}
	pkg := abireport.PkgID(*pkgFlag)

	ctx := context.Background()
	store, err := abireport.NewLocalStore(cfg.StoreDir())
	if err != nil {
		return err
	}

	// Capture this build's own artifacts.
	var captures []abireport.AbiCapture
	for _, res := range captureBatch(fs.Args(), cfg.CapturePolicy()) {
		if res.Err != nil {
			return fmt.Errorf("failed to capture %s: %w", res.Path, res.Err)
		}
		captures = append(captures, res.Capture)
	}

	// Snapshot each dependency's current hash from the store; dependencies
	// without stored records get the bootstrap marker.
	snaps, err := snapshotDependencies(ctx, store, deps)
	if err != nil {
		return err
	}

	rep, err := abireport.AssembleReport(pkg, captures, snaps, cfg.HashPolicy())
	if err != nil {
		return err
	}
	if err := abireport.SaveReport(ctx, store, rep); err != nil {
		return err
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Stored report for %s (%d artifacts, %d dependencies)\n",
		pkg, len(rep.Captures), len(rep.Depends))
	return nil
}

func snapshotDependencies(ctx context.Context, store abireport.RecordStore, deps []string) ([]abireport.DependencySnapshot, error) {
	var snaps []abireport.DependencySnapshot
	for _, d := range deps {
		identity := d
		var provenance abireport.PkgID
		if at := strings.LastIndex(d, "@"); at >= 0 {
			identity = d[:at]
			provenance = abireport.PkgID(d[at+1:])
		}

		snap := abireport.DependencySnapshot{
			Identity: identity,
			Package:  provenance,
			Recorded: abireport.UnknownHash(abireport.KindSharedObject, identity),
		}
		if provenance != "" {
			h, err := abireport.LoadHash(ctx, store, provenance, identity)
			switch {
			case err == nil:
				snap.Recorded = h
			case errors.Is(err, abireport.ErrNotFound):
				colWarn.Printf("No stored hash for %s in %s, recording as unknown\n", identity, provenance)
			default:
				return nil, err
			}
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

func handleResolve(args []string, cfg *abireport.Config) error {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	remote := fs.Bool("remote", false, "resolve against the remote record store")
	explain := fs.Bool("explain", false, "print symbol-level rebuild evidence for stale edges")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()

	var store abireport.RecordStore
	var lister abireport.ReportLister
	if *remote {
		rs, err := abireport.NewRemoteStore(cfg)
		if err != nil {
			return err
		}
		store, lister = rs, rs
	} else {
		ls, err := abireport.NewLocalStore(cfg.StoreDir())
		if err != nil {
			return err
		}
		store, lister = ls, ls
	}

	set, err := abireport.LoadReportSet(ctx, store, lister)
	if err != nil {
		return err
	}
	if set.Len() == 0 {
		colWarn.Println("No stored reports to resolve")
		return nil
	}

	resolver := &abireport.Resolver{
		Index:    abireport.BuildIndex(set),
		Policy:   cfg.UnknownPolicy(),
		Recorded: abireport.StoreCaptureLookup(ctx, store),
	}

	resolutions := resolver.ResolveAll(set)
	abireport.PrintResolutions(resolutions)

	if *explain {
		printEvidence(resolver, resolutions)
	}
	return nil
}

func printEvidence(resolver *abireport.Resolver, resolutions []abireport.Resolution) {
	sorted := make([]abireport.Resolution, len(resolutions))
	copy(sorted, resolutions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Package < sorted[j].Package })

	for _, res := range sorted {
		if res.Verdict != abireport.VerdictStale {
			continue
		}
		rep, err := resolver.Index.LookupPackage(res.Package)
		if err != nil {
			continue
		}
		for _, dep := range res.Stale {
			if dep.Reason == abireport.ReasonUnresolvedDep {
				continue
			}
			diff, err := resolver.Explain(res.Package, dep.Identity)
			if err != nil {
				colWarn.Printf("Cannot explain %s -> %s: %v\n", res.Package, dep.Identity, err)
				continue
			}
			if diff.Empty() {
				continue
			}
			snap, ok := rep.Snapshot(dep.Identity)
			if !ok {
				continue
			}
			cur, err := resolver.Index.LookupSnapshot(snap)
			if err != nil {
				continue
			}
			text, err := abireport.RenderDiff(dep.Identity, diff, cur.Capture.Exported)
			if err != nil {
				colWarn.Printf("Cannot render diff for %s: %v\n", dep.Identity, err)
				continue
			}
			colArrow.Print("-> ")
			colSuccess.Printf("%s rebuild evidence against %s\n", res.Package, dep.Identity)
			fmt.Print(text)
		}
	}
}
