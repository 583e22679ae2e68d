package abireport

import (
	"runtime"
	"sort"
	"sync"
)

// CaptureBatch collects the AbiReports of one analysis run. The index builder
// only accepts the immutable ReportSet produced by Finalize, which is the
// completion barrier between the capture/hash/report phase and everything
// that reads the set: no partial or interleaved index construction.
type CaptureBatch struct {
	mu        sync.Mutex
	reports   []*AbiReport
	finalized bool
}

func NewCaptureBatch() *CaptureBatch {
	return &CaptureBatch{}
}

// Add contributes one assembled report. Safe for concurrent use; fails once
// the batch has been finalized.
func (b *CaptureBatch) Add(r *AbiReport) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finalized {
		return ErrBatchFinalized
	}
	b.reports = append(b.reports, r)
	return nil
}

// Finalize closes the batch and returns the immutable report set. Further
// Add calls fail; the returned set is safe for concurrent readers.
func (b *CaptureBatch) Finalize() *ReportSet {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finalized = true

	reports := make([]*AbiReport, len(b.reports))
	copy(reports, b.reports)
	sort.Slice(reports, func(i, j int) bool {
		return naturalLess(string(reports[i].Package), string(reports[j].Package))
	})
	return &ReportSet{reports: reports}
}

// ReportSet is a closed, consistent snapshot of AbiReports. It is the only
// input the index builder accepts.
type ReportSet struct {
	reports []*AbiReport
}

// NewReportSet wraps reports loaded from persistence into a closed set.
func NewReportSet(reports []*AbiReport) *ReportSet {
	b := NewCaptureBatch()
	for _, r := range reports {
		_ = b.Add(r) // fresh batch, cannot be finalized yet
	}
	return b.Finalize()
}

// Reports returns the set members in stable package order. Callers must not
// mutate the result.
func (s *ReportSet) Reports() []*AbiReport {
	return s.reports
}

func (s *ReportSet) Len() int { return len(s.reports) }

// CaptureResult carries one artifact's outcome out of a parallel batch run.
// Per-file failures are isolated and reported alongside successes; a single
// malformed artifact never aborts the batch.
type CaptureResult struct {
	Path    string
	Capture AbiCapture
	Err     error
}

// SourceOpener opens one ELF artifact as a SymbolSource. The returned close
// function releases the underlying file; BuildCapture has already copied
// everything out by the time it is called.
type SourceOpener func(path string) (SymbolSource, func() error, error)

// BuildCaptures captures an unordered batch of ELF files in parallel. There
// is no shared mutable state between files and no required ordering, so the
// pool is sized generously from the CPU count.
func BuildCaptures(paths []string, open SourceOpener, pol CapturePolicy) []CaptureResult {
	if len(paths) == 0 {
		return nil
	}

	numWorkers := runtime.NumCPU() * 2
	if len(paths) < numWorkers {
		numWorkers = len(paths)
	}

	jobs := make(chan int, len(paths))
	results := make([]CaptureResult, len(paths))
	var wg sync.WaitGroup

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				path := paths[i]
				results[i] = captureOne(path, open, pol)
			}
		}()
	}

	for i := range paths {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}

func captureOne(path string, open SourceOpener, pol CapturePolicy) CaptureResult {
	src, closeSrc, err := open(path)
	if err != nil {
		return CaptureResult{Path: path, Err: err}
	}
	// The source owns the file only for the duration of this call.
	defer closeSrc()

	c, err := BuildCapture(src, pol)
	if err != nil {
		return CaptureResult{Path: path, Err: err}
	}
	return CaptureResult{Path: path, Capture: c}
}
