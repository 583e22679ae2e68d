package abireport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tmpStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestLocalStoreRoundTrip(t *testing.T) {
	s := tmpStore(t)
	ctx := context.Background()

	key := CaptureKey("foo-1.0-1-1", "libfoo.so.1")
	require.NoError(t, s.Put(ctx, key, []byte("payload")))

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestLocalStoreMiss(t *testing.T) {
	s := tmpStore(t)
	_, err := s.Get(context.Background(), ReportKey("absent-1.0-1-1"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	s := tmpStore(t)
	ctx := context.Background()

	err := s.Put(ctx, "../escape", []byte("x"))
	require.Error(t, err)

	_, err = s.Get(ctx, "")
	require.Error(t, err)
}

func TestLocalStoreListReports(t *testing.T) {
	s := tmpStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, ReportKey("foo-1.0-1-1"), []byte("a")))
	require.NoError(t, s.Put(ctx, ReportKey("bar-2.0-1-3"), []byte("b")))
	// Capture records must not show up in the report listing.
	require.NoError(t, s.Put(ctx, CaptureKey("foo-1.0-1-1", "libfoo.so.1"), []byte("c")))

	pkgs, err := s.ListReports(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []PkgID{"foo-1.0-1-1", "bar-2.0-1-3"}, pkgs)
}

// Persisting a report and loading it back must reproduce the exact same
// captures, hashes and dependency snapshots.
func TestSaveLoadReport(t *testing.T) {
	s := tmpStore(t)
	ctx := context.Background()

	libB := mkCapture(t, KindSharedObject, "libb.so.1", []string{"foo", "bar"}, nil)
	rep := mkReport(t, "a-1.0-1-1",
		[]AbiCapture{
			mkCapture(t, KindSharedObject, "liba.so.2", []string{"alpha"}, []string{"foo"}),
			mkCapture(t, KindExecutable, "atool", nil, []string{"foo", "bar"}),
		},
		snapshotOf(libB, "b-1.0-1-1"))

	require.NoError(t, SaveReport(ctx, s, rep))

	got, err := LoadReport(ctx, s, "a-1.0-1-1")
	require.NoError(t, err)
	assert.Equal(t, rep.Package, got.Package)
	require.Len(t, got.Captures, 2)
	require.Len(t, got.Hashes, 2)
	for i := range rep.Captures {
		assert.True(t, rep.Captures[i].Equal(got.Captures[i]))
		assert.True(t, rep.Hashes[i].Equal(got.Hashes[i]))
	}
	assert.Equal(t, rep.Depends, got.Depends)

	// Members are independently retrievable.
	c, err := LoadCapture(ctx, s, "a-1.0-1-1", "atool")
	require.NoError(t, err)
	assert.Equal(t, KindExecutable, c.Kind)
	assert.Equal(t, []string{"foo", "bar"}, c.Imported)
}

func TestLoadHash(t *testing.T) {
	s := tmpStore(t)
	ctx := context.Background()

	c := mkCapture(t, KindSharedObject, "libb.so.1", []string{"foo", "bar"}, nil)
	rep := mkReport(t, "b-1.0-1-1", []AbiCapture{c})
	require.NoError(t, SaveReport(ctx, s, rep))

	h, err := LoadHash(ctx, s, "b-1.0-1-1", "libb.so.1")
	require.NoError(t, err)
	assert.True(t, rep.Hashes[0].Equal(h))
	assert.False(t, h.IsUnknown())

	_, err = LoadHash(ctx, s, "b-1.0-1-1", "libmissing.so.1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLoadReportRejectsMismatchedPairs(t *testing.T) {
	s := tmpStore(t)
	ctx := context.Background()

	rep := mkReport(t, "a-1.0-1-1",
		[]AbiCapture{mkCapture(t, KindSharedObject, "liba.so.2", []string{"alpha"}, nil)})
	rep.Hashes = nil

	data, err := encodeRecord(rep)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, ReportKey(rep.Package), data))

	_, err = LoadReport(ctx, s, rep.Package)
	require.Error(t, err)
}

func TestLoadReportSet(t *testing.T) {
	s := tmpStore(t)
	ctx := context.Background()

	for _, pkg := range []PkgID{"pkg10-1.0-1-1", "pkg2-1.0-1-1"} {
		rep := mkReport(t, pkg, nil)
		require.NoError(t, SaveReport(ctx, s, rep))
	}

	set, err := LoadReportSet(ctx, s, s)
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())

	reports := set.Reports()
	assert.Equal(t, PkgID("pkg2-1.0-1-1"), reports[0].Package)
	assert.Equal(t, PkgID("pkg10-1.0-1-1"), reports[1].Package)
}

func TestLoadReportSetFailsOnBrokenRecord(t *testing.T) {
	s := tmpStore(t)
	ctx := context.Background()

	require.NoError(t, SaveReport(ctx, s, mkReport(t, "good-1.0-1-1", nil)))
	require.NoError(t, s.Put(ctx, ReportKey("bad-1.0-1-1"), []byte("not zstd")))

	_, err := LoadReportSet(ctx, s, s)
	require.Error(t, err)
}

func TestStoreCaptureLookup(t *testing.T) {
	s := tmpStore(t)
	ctx := context.Background()

	c := mkCapture(t, KindSharedObject, "libb.so.1", []string{"foo"}, nil)
	rep := mkReport(t, "b-1.0-1-1", []AbiCapture{c})
	require.NoError(t, SaveReport(ctx, s, rep))

	lookup := StoreCaptureLookup(ctx, s)
	got, err := lookup("b-1.0-1-1", "libb.so.1")
	require.NoError(t, err)
	assert.True(t, c.Equal(got))

	_, err = lookup("b-1.0-1-1", "libmissing.so.1")
	require.ErrorIs(t, err, ErrNotFound)
}
