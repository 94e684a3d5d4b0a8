// Package dnserr defines the typed error kinds shared by the RRset codec,
// the journal serializer and the response rate limiter. Callers should
// compare with errors.Is against these sentinels rather than switching on
// error strings.
package dnserr

import "errors"

var (
	// ErrInvalidArgs means the caller passed a malformed or out-of-range
	// argument (nil owner, zero-length buffer, unknown mode, ...).
	ErrInvalidArgs = errors.New("dnserr: invalid argument")

	// ErrNotFound means a lookup (RR index, bucket key, compression
	// target) did not match anything.
	ErrNotFound = errors.New("dnserr: not found")

	// ErrNoSpace means an encode operation ran out of room in the
	// destination buffer. Callers discard partial output for the
	// rejected unit of work.
	ErrNoSpace = errors.New("dnserr: no space")

	// ErrMalformed means wire or serialized input violates the format
	// it claims to be (truncated, bad pointer, length mismatch).
	ErrMalformed = errors.New("dnserr: malformed input")

	// ErrOutOfMemory is returned by allocation-guarded paths that impose
	// an explicit upper bound on growth (kept for parity with the
	// admission-style error set; Go's allocator does not require most
	// callers to check it).
	ErrOutOfMemory = errors.New("dnserr: out of memory")
)
