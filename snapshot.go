package eventstore

import "fmt"

// Snapshot materializes the state of a stream as of a given revision so
// that readers can bound replay. Snapshots are created out of band and never
// mutated; at most one exists per (StreamID, StreamRevision).
type Snapshot struct {
	// StreamID identifies the snapshotted stream.
	StreamID string `json:"stream_id"`

	// StreamRevision is the revision as of which Payload summarizes state.
	StreamRevision int `json:"stream_revision"`

	// Payload is the serialized or in-memory representation of the stream
	// state at StreamRevision.
	Payload any `json:"payload"`
}

// NewSnapshot builds a validated snapshot.
func NewSnapshot(streamID string, streamRevision int, payload any) (*Snapshot, error) {
	switch {
	case streamID == "":
		return nil, fmt.Errorf("%w: stream id is empty", ErrInvalidArgument)
	case streamRevision < 1:
		return nil, fmt.Errorf("%w: snapshot revision %d below 1", ErrInvalidArgument, streamRevision)
	}
	return &Snapshot{StreamID: streamID, StreamRevision: streamRevision, Payload: payload}, nil
}
