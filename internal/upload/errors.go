package upload

import (
	"errors"
	"strings"
)

const (
	msgTransferFailed  = "Upload failed. Please try again."
	msgTransferTimeout = "Upload timed out"
)

var (
	ErrNoFiles      = errors.New("no files provided")
	ErrTooManyFiles = errors.New("too many files")
	ErrValidation   = errors.New("file validation failed")
	ErrFileNotFound = errors.New("file not found")
	ErrNotRetryable = errors.New("file is not in error state")
)

// CapacityError is returned when a submission would exceed MaxFiles.
type CapacityError struct {
	Max int
}

func (e *CapacityError) Error() string { return capacityMessage(e.Max) }

func (e *CapacityError) Unwrap() error { return ErrTooManyFiles }

// ValidationError carries one "<name>: <reason>" line per rejected file.
type ValidationError struct {
	Failures []string
}

func (e *ValidationError) Error() string { return strings.Join(e.Failures, "\n") }

func (e *ValidationError) Unwrap() error { return ErrValidation }
