package eventstore

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Commit is a durable batch of one or more events persisted atomically
// against a stream's head.
//
// Commits are immutable: the stream object builds them, persistence appends
// them exactly once, and every later read hands back shared read-only data.
// Callers comparing commits should use (StreamID, CommitSequence) or
// CommitID; the struct itself defines no equality.
type Commit struct {
	// StreamID identifies the stream this commit belongs to. Opaque and
	// stable across revisions.
	StreamID string `json:"stream_id"`

	// StreamRevision is the 1-based count of events in the stream including
	// the events of this commit.
	StreamRevision int `json:"stream_revision"`

	// CommitID is the globally unique identifier used for idempotency.
	CommitID uuid.UUID `json:"commit_id"`

	// CommitSequence is the 1-based count of commits on this stream
	// including this one. Dense per stream: 1, 2, 3, ...
	CommitSequence int `json:"commit_sequence"`

	// CommitStamp is the UTC instant at which the attempt was built.
	CommitStamp time.Time `json:"commit_stamp"`

	// Headers carries commit-level metadata supplied by the caller.
	Headers map[string]any `json:"headers,omitempty"`

	// Events is the ordered, non-empty batch of events in this commit.
	Events []EventMessage `json:"events"`

	// Checkpoint is the process-wide monotonic position assigned by
	// persistence on append. Zero on attempts that have not been persisted.
	Checkpoint int64 `json:"checkpoint"`
}

// NewCommitID returns a fresh random commit identifier.
func NewCommitID() uuid.UUID { return uuid.New() }

// NewCommit builds a validated commit attempt. Headers and events are
// snapshot-copied so later caller mutation cannot leak into the attempt.
// The stamp is normalized to UTC.
func NewCommit(streamID string, streamRevision int, commitID uuid.UUID, commitSequence int, stamp time.Time, headers map[string]any, events []EventMessage) (*Commit, error) {
	c := &Commit{
		StreamID:       streamID,
		StreamRevision: streamRevision,
		CommitID:       commitID,
		CommitSequence: commitSequence,
		CommitStamp:    stamp.UTC(),
		Headers:        copyHeaders(headers),
		Events:         copyEvents(events),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the commit invariants and returns ErrInvalidArgument on
// the first violation.
func (c *Commit) Validate() error {
	switch {
	case c == nil:
		return fmt.Errorf("%w: commit is nil", ErrInvalidArgument)
	case c.StreamID == "":
		return fmt.Errorf("%w: stream id is empty", ErrInvalidArgument)
	case c.CommitID == uuid.Nil:
		return fmt.Errorf("%w: commit id is zero", ErrInvalidArgument)
	case c.CommitSequence < 1:
		return fmt.Errorf("%w: commit sequence %d below 1", ErrInvalidArgument, c.CommitSequence)
	case c.StreamRevision < 1:
		return fmt.Errorf("%w: stream revision %d below 1", ErrInvalidArgument, c.StreamRevision)
	case c.StreamRevision < c.CommitSequence:
		return fmt.Errorf("%w: stream revision %d below commit sequence %d", ErrInvalidArgument, c.StreamRevision, c.CommitSequence)
	case len(c.Events) == 0:
		return fmt.Errorf("%w: commit carries no events", ErrInvalidArgument)
	}
	return nil
}

// FirstRevision is the revision of the first event in this commit.
func (c *Commit) FirstRevision() int {
	return c.StreamRevision - len(c.Events) + 1
}
