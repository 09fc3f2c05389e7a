package eventstore

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument indicates the caller violated a precondition, such as
// constructing a commit with a zero identifier or a revision below its
// sequence. It is returned before any persistence work happens.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrStreamNotFound is returned when a stream is opened with a minimum
// revision above zero and persistence holds no commits in the requested
// range. Opening with a minimum revision of zero never produces this error.
var ErrStreamNotFound = errors.New("stream not found")

// ErrConcurrency indicates another writer advanced the stream head first.
// The concrete error is always a *ConcurrencyError carrying the commits the
// losing writer has not yet seen; match with errors.Is(err, ErrConcurrency)
// and extract the payload with errors.As.
var ErrConcurrency = errors.New("optimistic concurrency conflict")

// ErrDuplicateCommit indicates a commit with the same identifier was already
// persisted for the stream. Retrying the same attempt is pointless; the
// write already happened.
var ErrDuplicateCommit = errors.New("duplicate commit")

// ErrStorageUnavailable indicates a transport-level persistence failure.
// The write may or may not have happened; callers may retry with backoff.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ErrStorage indicates a persistence fault that is neither a conflict nor a
// transport failure. The concrete error is a *StorageError wrapping the
// backend cause.
var ErrStorage = errors.New("storage failure")

// ErrStreamClosed is returned by operations on a stream, polling observer or
// in-memory engine that has already been closed, and by an asynchronous
// dispatch scheduler after Stop. Store itself does not check for Close.
var ErrStreamClosed = errors.New("stream is closed")

// ConcurrencyError reports that the stream head moved underneath an attempt.
// Commits holds the newly discovered commits, ordered by commit sequence, so
// the caller can rebase before retrying.
type ConcurrencyError struct {
	StreamID string
	Commits  []*Commit
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("optimistic concurrency conflict on stream %q: %d newer commit(s)", e.StreamID, len(e.Commits))
}

// Is reports membership in the concurrency error kind so that
// errors.Is(err, ErrConcurrency) matches.
func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrency
}

// StorageError wraps an unexpected backend fault.
type StorageError struct {
	Op    string
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure in %s: %v", e.Op, e.Cause)
}

func (e *StorageError) Unwrap() error { return e.Cause }

// Is reports membership in the storage error kind so that
// errors.Is(err, ErrStorage) matches.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}
