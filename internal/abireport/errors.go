package abireport

import "errors"

// Error taxonomy. Every condition here is local and recoverable: a failed
// capture or lookup aborts only that artifact's contribution, never the batch.
var (
	// ErrMissingIdentity is returned when a shared object carries no DT_SONAME
	// or an executable has no resolvable name.
	ErrMissingIdentity = errors.New("missing identity")

	// ErrEmptySymbolTable is returned only under a policy that requires at
	// least one exported or imported symbol. Empty tables are legal by default.
	ErrEmptySymbolTable = errors.New("empty symbol table")

	// ErrDuplicateIdentity is returned when two owned captures of one report
	// share the same (object kind, identity) pair.
	ErrDuplicateIdentity = errors.New("duplicate identity")

	// ErrNotFound is returned on index, store and report lookup misses.
	ErrNotFound = errors.New("not found")

	// ErrBatchFinalized is returned when adding to a capture batch that has
	// already been handed to the index builder.
	ErrBatchFinalized = errors.New("capture batch already finalized")
)
