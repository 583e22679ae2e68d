package abireport

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkReport(t *testing.T, pkg PkgID, captures []AbiCapture, deps ...DependencySnapshot) *AbiReport {
	t.Helper()
	rep, err := AssembleReport(pkg, captures, deps, HashPolicy{})
	require.NoError(t, err)
	return rep
}

func TestCaptureBatchBarrier(t *testing.T) {
	b := NewCaptureBatch()
	require.NoError(t, b.Add(mkReport(t, "foo-1.0-1-1", nil)))

	set := b.Finalize()
	assert.Equal(t, 1, set.Len())

	// The barrier is final: no report may join after the set is published.
	err := b.Add(mkReport(t, "bar-1.0-1-1", nil))
	require.ErrorIs(t, err, ErrBatchFinalized)
	assert.Equal(t, 1, set.Len())
}

func TestCaptureBatchConcurrentAdd(t *testing.T) {
	b := NewCaptureBatch()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pkg := PkgID(fmt.Sprintf("pkg%d-1.0-1-1", i))
			assert.NoError(t, b.Add(mkReport(t, pkg, nil)))
		}(i)
	}
	wg.Wait()

	set := b.Finalize()
	assert.Equal(t, 32, set.Len())

	// Finalize orders by package naturally, so pkg2 precedes pkg10.
	reports := set.Reports()
	var i2, i10 int
	for i, r := range reports {
		switch r.Package {
		case "pkg2-1.0-1-1":
			i2 = i
		case "pkg10-1.0-1-1":
			i10 = i
		}
	}
	assert.Less(t, i2, i10)
}

func TestBuildCapturesIsolatesFailures(t *testing.T) {
	paths := []string{"good-1", "broken", "good-2", "no-soname"}

	open := func(path string) (SymbolSource, func() error, error) {
		switch path {
		case "broken":
			return nil, nil, fmt.Errorf("not an ELF file")
		case "no-soname":
			return fakeSource{kind: KindSharedObject}, func() error { return nil }, nil
		default:
			return fakeSource{
				kind:     KindExecutable,
				identity: path,
				imported: []string{"malloc"},
			}, func() error { return nil }, nil
		}
	}

	results := BuildCaptures(paths, open, CapturePolicy{})
	require.Len(t, results, len(paths))

	byPath := make(map[string]CaptureResult, len(results))
	for _, res := range results {
		byPath[res.Path] = res
	}

	// One malformed artifact aborts only its own contribution.
	assert.NoError(t, byPath["good-1"].Err)
	assert.NoError(t, byPath["good-2"].Err)
	assert.Error(t, byPath["broken"].Err)
	assert.ErrorIs(t, byPath["no-soname"].Err, ErrMissingIdentity)

	assert.Equal(t, "good-1", byPath["good-1"].Capture.Identity)
}

func TestBuildCapturesClosesSources(t *testing.T) {
	var mu sync.Mutex
	closed := make(map[string]bool)

	open := func(path string) (SymbolSource, func() error, error) {
		return fakeSource{kind: KindExecutable, identity: path}, func() error {
			mu.Lock()
			defer mu.Unlock()
			closed[path] = true
			return nil
		}, nil
	}

	paths := []string{"a", "b", "c"}
	BuildCaptures(paths, open, CapturePolicy{})

	for _, p := range paths {
		assert.True(t, closed[p], "source for %s must be released after capture", p)
	}
}

func TestBuildCapturesEmpty(t *testing.T) {
	assert.Nil(t, BuildCaptures(nil, nil, CapturePolicy{}))
}
