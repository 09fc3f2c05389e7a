// Package eventstore is an embedded event-sourcing commit store: it
// persists the mutating history of domain aggregates as an append-only
// sequence of commits, reads that history back, takes periodic snapshots,
// and delivers newly written commits to downstream consumers.
//
// Each aggregate is a stream identified by a stable id. Writes go through a
// per-stream working copy that enforces optimistic concurrency against the
// stream head, detects duplicate commits, and rebases automatically when
// another writer wins:
//
//	store, err := eventstore.New(engine)
//	...
//	stream, err := store.CreateStream("order-42")
//	_ = stream.Add(eventstore.EventMessage{Body: OrderPlaced{...}})
//	err = stream.CommitChanges(ctx, eventstore.NewCommitID())
//
// Storage is pluggable through the Persistence interface; the inmem and
// sqlstore subpackages provide conforming adapters. Pipeline hooks filter
// and observe commits around reads and writes, dispatch schedulers hand
// persisted commits to consumers, and the polling observer tails the
// global checkpoint sequence for projections.
package eventstore
