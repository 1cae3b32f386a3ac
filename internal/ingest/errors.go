package ingest

import (
	"errors"
	"fmt"

	"github.com/dshills/gocontext-ingest/internal/storage"
)

var (
	// ErrStoreUnavailable marks a document store that failed its connectivity probe.
	ErrStoreUnavailable = errors.New("document store unavailable")

	// ErrCancelled is the terminal cause of a run stopped by CancelRun.
	ErrCancelled = errors.New("ingest cancelled")

	// ErrRunNotFound is returned for an unknown run id.
	ErrRunNotFound = errors.New("run not found")

	// ErrRootNotFound is returned when removing a root that was never ingested.
	ErrRootNotFound = errors.New("root not found")
)

// ValidationError rejects bad parameters before anything is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// BusyError is returned while another run or mutation holds the lock.
type BusyError struct {
	ActiveRunID string
}

func (e *BusyError) Error() string {
	if e.ActiveRunID == "" {
		return "ingest busy"
	}
	return "ingest busy: run " + e.ActiveRunID + " is active"
}

// ParseFailure is a per-file parse error. It is counted, never fatal.
type ParseFailure struct {
	RelPath string
	Err     error
}

func (e *ParseFailure) Error() string {
	return fmt.Sprintf("parse %s: %v", e.RelPath, e.Err)
}

func (e *ParseFailure) Unwrap() error {
	return e.Err
}

// UnhandledError wraps anything outside the per-file and per-store boundaries.
// It moves a run to the error state.
type UnhandledError struct {
	Err error
}

func (e *UnhandledError) Error() string {
	return "ingest failed: " + e.Err.Error()
}

func (e *UnhandledError) Unwrap() error {
	return e.Err
}

// IsBusy reports whether err is a BusyError.
func IsBusy(err error) bool {
	var be *BusyError
	return errors.As(err, &be)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err names an unknown run or root.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound) || errors.Is(err, ErrRootNotFound) || errors.Is(err, storage.ErrNotFound)
}
