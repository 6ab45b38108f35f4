package state

import (
	"errors"
	"fmt"
)

// Reason classifies why an export document could not be imported.
type Reason string

const (
	ReasonUnsupportedVersion Reason = "unsupported_version"
	ReasonMalformed          Reason = "malformed"
	// ReasonSeedMismatch: the document belongs to a different seed.
	ReasonSeedMismatch Reason = "seed_mismatch"
	// ReasonConflict: the document would move a confirmed transaction back to pending.
	ReasonConflict Reason = "conflict"
)

var (
	ErrUnsupportedVersion = errors.New("unsupported export document version")
	ErrMalformed          = errors.New("malformed export document")
	ErrSeedMismatch       = errors.New("export document belongs to another seed")
	ErrConflict           = errors.New("export document conflicts with account state")
)

// ImportError reports a rejected export document. The account state is left
// untouched whenever one is returned.
type ImportError struct {
	Reason Reason
	Detail string
}

func importErr(reason Reason, format string, args ...any) *ImportError {
	return &ImportError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Malformed builds an ImportError with ReasonMalformed.
func Malformed(format string, args ...any) *ImportError {
	return importErr(ReasonMalformed, format, args...)
}

// Conflict builds an ImportError with ReasonConflict.
func Conflict(format string, args ...any) *ImportError {
	return importErr(ReasonConflict, format, args...)
}

// SeedMismatch builds an ImportError with ReasonSeedMismatch.
func SeedMismatch() *ImportError {
	return importErr(ReasonSeedMismatch, "seed does not match account")
}

func (e *ImportError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("import state: %s", e.Reason)
	}
	return fmt.Sprintf("import state: %s: %s", e.Reason, e.Detail)
}

// Is lets callers match with errors.Is against the package sentinels.
func (e *ImportError) Is(target error) bool {
	switch e.Reason {
	case ReasonUnsupportedVersion:
		return target == ErrUnsupportedVersion
	case ReasonMalformed:
		return target == ErrMalformed
	case ReasonSeedMismatch:
		return target == ErrSeedMismatch
	case ReasonConflict:
		return target == ErrConflict
	}
	return false
}
