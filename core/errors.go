package core

import (
	"errors"
	"fmt"
)

// ErrorKind discriminates the failure classes surfaced by the storage
// layer. Language bindings map these to exit codes or exceptions.
type ErrorKind int

const (
	// KindUnknown is the zero value and never constructed on purpose.
	KindUnknown ErrorKind = iota
	// KindInvalidPath covers bad, empty, overlong or non-canonicalisable paths.
	KindInvalidPath
	// KindContainment covers entities created or moved under the wrong kind of parent.
	KindContainment
	// KindNotFound covers expected entities that are missing on disk.
	KindNotFound
	// KindAlreadyExists covers create/move destinations that already exist.
	KindAlreadyExists
	// KindIO wraps an OS error together with the failing operation.
	KindIO
	// KindCorruptSchema covers empty or malformed schema blobs.
	KindCorruptSchema
	// KindCompression covers deflate/inflate failures.
	KindCompression
	// KindLock covers filelock acquisition failures and invalid lock types.
	KindLock
	// KindRegistryMissing covers a close on a path with no open-array entry.
	KindRegistryMissing
	// KindPartialConsolidation marks a consolidation that failed after the
	// new fragment became visible; the array is consistent and the
	// operation is safe to retry.
	KindPartialConsolidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidPath:
		return "invalid path"
	case KindContainment:
		return "containment violation"
	case KindNotFound:
		return "not found"
	case KindAlreadyExists:
		return "already exists"
	case KindIO:
		return "io error"
	case KindCorruptSchema:
		return "corrupt schema"
	case KindCompression:
		return "compression error"
	case KindLock:
		return "lock error"
	case KindRegistryMissing:
		return "unknown open array"
	case KindPartialConsolidation:
		return "partial consolidation"
	default:
		return "unknown error"
	}
}

// Error is the one error type returned by the storage layer. It carries
// enough context (operation, path) to identify the failure site.
type Error struct {
	Kind ErrorKind
	Op   string // the failing operation, e.g. "workspace create"
	Path string // the entity path involved, if any
	Msg  string // free-form detail
	Err  error  // wrapped cause, if any
}

func (e *Error) Error() string {
	s := e.Op
	if e.Path != "" {
		s += " " + e.Path
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an Error with a formatted detail message.
func Errorf(kind ErrorKind, op, path, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Msg: fmt.Sprintf(format, args...)}
}

// WrapError builds an Error around a cause, preserving it for errors.Is/As.
func WrapError(kind ErrorKind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// IsKind reports whether any error in err's chain is an *Error of kind k.
func IsKind(err error, k ErrorKind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == k
}

// IsNotFound reports whether err is a missing-entity error.
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

// IsContainment reports whether err is a containment violation.
func IsContainment(err error) bool { return IsKind(err, KindContainment) }

// IsAlreadyExists reports whether err is a destination-exists error.
func IsAlreadyExists(err error) bool { return IsKind(err, KindAlreadyExists) }

// IsCorruptSchema reports whether err is a malformed-schema error.
func IsCorruptSchema(err error) bool { return IsKind(err, KindCorruptSchema) }

// IsPartialConsolidation reports whether err marks a consolidation that
// stopped after the new fragment was published.
func IsPartialConsolidation(err error) bool { return IsKind(err, KindPartialConsolidation) }
