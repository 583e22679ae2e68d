package abireport

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sys/unix"
)

// RecordStore is the artifact repository the core persists into: a plain
// key to record store. Capture, hash and report records are independently
// retrievable; everything richer (indexing the repository, transport) lives
// behind this interface.
type RecordStore interface {
	Put(ctx context.Context, key string, record []byte) error
	// Get returns the record or an error wrapping ErrNotFound on a miss.
	Get(ctx context.Context, key string) ([]byte, error)
}

// Record keys, by (package build, artifact identity).

func CaptureKey(pkg PkgID, identity string) string {
	return fmt.Sprintf("captures/%s/%s.json.zst", pkg, identity)
}

func HashKey(pkg PkgID, identity string) string {
	return fmt.Sprintf("hashes/%s/%s.json.zst", pkg, identity)
}

func ReportKey(pkg PkgID) string {
	return fmt.Sprintf("reports/%s.json.zst", pkg)
}

// LocalStore is the filesystem-backed record store. Records are
// zstd-compressed JSON, written atomically (temp file + rename) under a
// shared advisory lock so concurrent readers never observe partial records.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, fmt.Errorf("local store needs a root directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store root: %w", err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) Put(ctx context.Context, key string, record []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.keyPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create record directory: %w", err)
	}

	return s.withLock(unix.LOCK_EX, func() error {
		tmp, err := os.CreateTemp(filepath.Dir(path), ".record-*")
		if err != nil {
			return err
		}
		if _, err := tmp.Write(record); err != nil {
			tmp.Close()
			_ = os.Remove(tmp.Name())
			return err
		}
		if err := tmp.Close(); err != nil {
			_ = os.Remove(tmp.Name())
			return err
		}
		return os.Rename(tmp.Name(), path)
	})
}

func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.keyPath(key)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = s.withLock(unix.LOCK_SH, func() error {
		var readErr error
		data, readErr = os.ReadFile(path)
		return readErr
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("record %q: %w", key, ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}

func (s *LocalStore) keyPath(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid record key %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

func (s *LocalStore) withLock(how int, fn func() error) error {
	lockPath := filepath.Join(s.root, ".lock")
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		return err
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return fn()
}

// ListReports returns the package ids of every report record in the store.
func (s *LocalStore) ListReports(ctx context.Context) ([]PkgID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(s.root, "reports", "*.json.zst"))
	if err != nil {
		return nil, err
	}
	pkgs := make([]PkgID, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSuffix(filepath.Base(m), ".json.zst")
		pkgs = append(pkgs, PkgID(name))
	}
	return pkgs, nil
}

// ReportLister is implemented by stores that can enumerate report records.
type ReportLister interface {
	ListReports(ctx context.Context) ([]PkgID, error)
}

// LoadReportSet loads every listed report into a closed set, ready for index
// construction. Per-report failures abort the load: a resolution run needs
// the complete snapshot or none of it.
func LoadReportSet(ctx context.Context, store RecordStore, lister ReportLister) (*ReportSet, error) {
	pkgs, err := lister.ListReports(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	reports := make([]*AbiReport, 0, len(pkgs))
	for _, pkg := range pkgs {
		r, err := LoadReport(ctx, store, pkg)
		if err != nil {
			return nil, fmt.Errorf("failed to load report %s: %w", pkg, err)
		}
		reports = append(reports, r)
	}
	return NewReportSet(reports), nil
}

// encodeRecord marshals v and compresses it for storage.
func encodeRecord(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

// decodeRecord decompresses and unmarshals a stored record into v.
func decodeRecord(data []byte, v any) error {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return err
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("failed to decompress record: %w", err)
	}
	return json.Unmarshal(raw, v)
}

// SaveReport persists a report plus each of its capture and hash records as
// independently retrievable entries. The report record is written last so a
// retrievable report always implies retrievable members.
func SaveReport(ctx context.Context, store RecordStore, r *AbiReport) error {
	for i, c := range r.Captures {
		data, err := encodeRecord(c)
		if err != nil {
			return fmt.Errorf("failed to encode capture %s: %w", c.Identity, err)
		}
		if err := store.Put(ctx, CaptureKey(r.Package, c.Identity), data); err != nil {
			return fmt.Errorf("failed to store capture %s: %w", c.Identity, err)
		}

		data, err = encodeRecord(r.Hashes[i])
		if err != nil {
			return fmt.Errorf("failed to encode hash %s: %w", c.Identity, err)
		}
		if err := store.Put(ctx, HashKey(r.Package, c.Identity), data); err != nil {
			return fmt.Errorf("failed to store hash %s: %w", c.Identity, err)
		}
	}

	data, err := encodeRecord(r)
	if err != nil {
		return fmt.Errorf("failed to encode report %s: %w", r.Package, err)
	}
	if err := store.Put(ctx, ReportKey(r.Package), data); err != nil {
		return fmt.Errorf("failed to store report %s: %w", r.Package, err)
	}
	return nil
}

// LoadReport retrieves one package's report.
func LoadReport(ctx context.Context, store RecordStore, pkg PkgID) (*AbiReport, error) {
	data, err := store.Get(ctx, ReportKey(pkg))
	if err != nil {
		return nil, err
	}
	var r AbiReport
	if err := decodeRecord(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", pkg, err)
	}
	if len(r.Captures) != len(r.Hashes) {
		return nil, fmt.Errorf("report %s pairs %d captures with %d hashes", pkg, len(r.Captures), len(r.Hashes))
	}
	return &r, nil
}

// LoadHash retrieves the fingerprint recorded for one artifact of one build.
func LoadHash(ctx context.Context, store RecordStore, pkg PkgID, identity string) (AbiHash, error) {
	data, err := store.Get(ctx, HashKey(pkg, identity))
	if err != nil {
		return AbiHash{}, err
	}
	var h AbiHash
	if err := decodeRecord(data, &h); err != nil {
		return AbiHash{}, fmt.Errorf("failed to decode hash %s/%s: %w", pkg, identity, err)
	}
	return h, nil
}

// LoadCapture retrieves the capture recorded for one artifact of one build.
func LoadCapture(ctx context.Context, store RecordStore, pkg PkgID, identity string) (AbiCapture, error) {
	data, err := store.Get(ctx, CaptureKey(pkg, identity))
	if err != nil {
		return AbiCapture{}, err
	}
	var c AbiCapture
	if err := decodeRecord(data, &c); err != nil {
		return AbiCapture{}, fmt.Errorf("failed to decode capture %s/%s: %w", pkg, identity, err)
	}
	return c, nil
}

// StoreCaptureLookup adapts a record store into the resolver's recorded
// capture lookup for exact rebuild diffs.
func StoreCaptureLookup(ctx context.Context, store RecordStore) RecordedCaptureLookup {
	return func(pkg PkgID, identity string) (AbiCapture, error) {
		return LoadCapture(ctx, store, pkg, identity)
	}
}
