// Package wt is the module root: Connection/Session surface over the
// internal C1-C10 components, and the error taxonomy spec.md §7
// describes.
//
// Grounded on the teacher's typed-sentinel-plus-errors.Is convention
// (ErrTableAlreadyExists and friends in filodb_operations.go) generalized
// to spec.md §7's four severity classes, each surfaced as a Code()
// accessor so callers can switch on behavior instead of string-matching.
package wt

import (
	"errors"
	"fmt"
)

// ErrCode classifies an engine error by how the caller should react,
// per spec.md §7.
type ErrCode int

const (
	CodeUnknown ErrCode = iota
	CodeRollback
	CodePrepareConflict
	CodeCacheFull
	CodeBusy
	CodeNotFound
	CodeDuplicateKey
	CodeCorruptFile
	CodeDataCorruption
	CodePanic
)

func (c ErrCode) String() string {
	switch c {
	case CodeRollback:
		return "ROLLBACK"
	case CodePrepareConflict:
		return "PREPARE_CONFLICT"
	case CodeCacheFull:
		return "CACHE_FULL"
	case CodeBusy:
		return "BUSY"
	case CodeNotFound:
		return "NOTFOUND"
	case CodeDuplicateKey:
		return "DUPLICATE_KEY"
	case CodeCorruptFile:
		return "CORRUPT_FILE"
	case CodeDataCorruption:
		return "DATA_CORRUPTION"
	case CodePanic:
		return "PANIC"
	default:
		return "UNKNOWN"
	}
}

// codedError pairs a sentinel with its ErrCode, the way the teacher pairs
// ErrTableAlreadyExists with a fixed string but testable via errors.Is.
type codedError struct {
	code ErrCode
	msg  string
}

func (e *codedError) Error() string { return e.msg }
func (e *codedError) Code() ErrCode { return e.code }

// Is lets errors.Is(err, ErrRollback) match any wrapped codedError sharing
// the same code, not just the exact pointer.
func (e *codedError) Is(target error) bool {
	var ce *codedError
	if errors.As(target, &ce) {
		return ce.code == e.code
	}
	return false
}

// Sentinel errors for spec.md §7's taxonomy. Transient (retry by
// caller): ErrRollback, ErrPrepareConflict, ErrCacheFull, ErrBusy.
// Positional: ErrNotFound, ErrDuplicateKey. Integrity fatal:
// ErrCorruptFile, ErrDataCorruption. Fatal runtime: ErrPanic.
var (
	ErrRollback        error = &codedError{CodeRollback, "wt: rollback, MVCC conflict"}
	ErrPrepareConflict error = &codedError{CodePrepareConflict, "wt: prepare conflict"}
	ErrCacheFull       error = &codedError{CodeCacheFull, "wt: cache full"}
	ErrBusy            error = &codedError{CodeBusy, "wt: busy"}
	ErrNotFound        error = &codedError{CodeNotFound, "wt: not found"}
	ErrDuplicateKey    error = &codedError{CodeDuplicateKey, "wt: duplicate key"}
	ErrCorruptFile     error = &codedError{CodeCorruptFile, "wt: corrupt file"}
	ErrDataCorruption  error = &codedError{CodeDataCorruption, "wt: data corruption"}
	ErrPanic           error = &codedError{CodePanic, "wt: panic, connection poisoned"}
)

// Code extracts the ErrCode from err if it (or something it wraps)
// carries one, and CodeUnknown otherwise.
func Code(err error) ErrCode {
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	return CodeUnknown
}

// wrapf wraps err with msg while preserving err's Code() via Is/As.
func wrapf(err error, format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, err)...)
}
