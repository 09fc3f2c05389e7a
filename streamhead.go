package eventstore

import "fmt"

// StreamHead is the advisory record of where a stream currently ends and
// where its newest snapshot sits. Heads are updated on every persisted
// commit and on snapshot add; they are never a source of truth for reads.
//
// Equality is by StreamID alone.
type StreamHead struct {
	// StreamID identifies the stream.
	StreamID string `json:"stream_id"`

	// StreamName is an optional human-readable label.
	StreamName string `json:"stream_name,omitempty"`

	// HeadRevision is the latest persisted stream revision.
	HeadRevision int `json:"head_revision"`

	// SnapshotRevision is the revision of the newest snapshot, or zero if
	// the stream has never been snapshotted.
	SnapshotRevision int `json:"snapshot_revision"`
}

// NewStreamHead builds a validated stream head.
func NewStreamHead(streamID, streamName string, headRevision, snapshotRevision int) (*StreamHead, error) {
	switch {
	case streamID == "":
		return nil, fmt.Errorf("%w: stream id is empty", ErrInvalidArgument)
	case headRevision < 0 || snapshotRevision < 0:
		return nil, fmt.Errorf("%w: negative revision", ErrInvalidArgument)
	}
	return &StreamHead{StreamID: streamID, StreamName: streamName, HeadRevision: headRevision, SnapshotRevision: snapshotRevision}, nil
}

// Equal reports whether two heads refer to the same stream.
func (h *StreamHead) Equal(other *StreamHead) bool {
	return h != nil && other != nil && h.StreamID == other.StreamID
}

// UnsnapshottedEvents is the number of events persisted past the newest
// snapshot.
func (h *StreamHead) UnsnapshottedEvents() int {
	return h.HeadRevision - h.SnapshotRevision
}
