package biti

import (
	"github.com/pkg/errors"
)

// Sentinel causes for the failure modes of index construction and querying.
// Callers match them with errors.Cause.
var (
	// ErrUnsortedInput indicates the input header's sort order is not
	// "coordinate".
	ErrUnsortedInput = errors.New("input is not coordinate sorted")

	// ErrOutOfOrderInput indicates a record violated the ascending
	// coordinate order promised by the header.
	ErrOutOfOrderInput = errors.New("record out of coordinate order")

	// ErrCorruptIndex indicates an index archive that cannot be decoded,
	// or one whose fingerprint does not match the alignment file.
	ErrCorruptIndex = errors.New("corrupt interval index")

	// ErrInvalidArgument indicates a malformed query or sample request.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInternalInvariant indicates the stream walk found no record at or
	// after a candidate offset produced by the tree. It implies a bug or
	// an index built over a different file.
	ErrInternalInvariant = errors.New("internal invariant violation")
)
