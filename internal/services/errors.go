package services

import (
	"fmt"

	"gitlab.com/tozd/go/errors"
)

// ErrListingTruncated is returned when a remote listing is known to be incomplete.
var ErrListingTruncated = errors.Base("remote listing is truncated")

// TransferError reports a failed download of a remote archive.
type TransferError struct {
	Key string
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer of %q failed: %v", e.Key, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// ExtractionError reports a corrupt or unreadable archive.
type ExtractionError struct {
	Archive string
	Entry   string
	Err     error
}

func (e *ExtractionError) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("extracting %q from %q: %v", e.Entry, e.Archive, e.Err)
	}
	return fmt.Sprintf("extracting %q: %v", e.Archive, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// DuplicateDocumentError reports two archives in one batch carrying the same
// document base name.
type DuplicateDocumentError struct {
	Name     string
	First    string
	Conflict string
}

func (e *DuplicateDocumentError) Error() string {
	return fmt.Sprintf("document %q is present in both %q and %q", e.Name, e.First, e.Conflict)
}

// MalformedNameError reports a document name without a usable piece-count field.
type MalformedNameError struct {
	Name string
	Err  error
}

func (e *MalformedNameError) Error() string {
	return fmt.Sprintf("malformed document name %q: %v", e.Name, e.Err)
}

func (e *MalformedNameError) Unwrap() error { return e.Err }

// ContentReadError reports a document whose page count could not be computed.
type ContentReadError struct {
	Path string
	Err  error
}

func (e *ContentReadError) Error() string {
	return fmt.Sprintf("reading content of %q: %v", e.Path, e.Err)
}

func (e *ContentReadError) Unwrap() error { return e.Err }

// RelocationError reports a failed filesystem move. Moves are never retried.
type RelocationError struct {
	From string
	To   string
	Err  error
}

func (e *RelocationError) Error() string {
	return fmt.Sprintf("moving %q to %q: %v", e.From, e.To, e.Err)
}

func (e *RelocationError) Unwrap() error { return e.Err }

// StageError attaches the failing stage and item to a fatal error.
type StageError struct {
	Stage string
	Item  string
	Err   error
}

func (e *StageError) Error() string {
	if e.Item == "" {
		return fmt.Sprintf("[%s] %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Stage, e.Item, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageError(stage, item string, err error) error {
	return errors.WithStack(&StageError{Stage: stage, Item: item, Err: err})
}
