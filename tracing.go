package eventstore

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TracingHook is a pipeline hook that records each durably persisted commit
// as an OpenTelemetry span.
//
// Each span is named "eventstore.commit" and carries:
//   - eventstore.stream_id
//   - eventstore.stream_revision
//   - eventstore.commit_sequence
//   - eventstore.checkpoint
//   - eventstore.event_count
//
// The hook observes only the write path; Select and PreCommit pass through
// untouched so tracing never changes what callers read or write.
//
//	tracer := otel.Tracer("eventstore")
//	store, err := eventstore.New(engine,
//	    eventstore.WithHooks(eventstore.NewTracingHook(tracer)),
//	)
type TracingHook struct {
	NopHook
	tracer trace.Tracer
}

// NewTracingHook wraps a tracer obtained from the application's
// TracerProvider.
func NewTracingHook(tracer trace.Tracer) *TracingHook {
	return &TracingHook{tracer: tracer}
}

// PostCommit records the persisted commit as a completed span.
func (t *TracingHook) PostCommit(committed *Commit) {
	if t.tracer == nil {
		return
	}
	_, span := t.tracer.Start(context.Background(), "eventstore.commit",
		trace.WithTimestamp(committed.CommitStamp),
		trace.WithAttributes(
			attribute.String("eventstore.stream_id", committed.StreamID),
			attribute.Int("eventstore.stream_revision", committed.StreamRevision),
			attribute.Int("eventstore.commit_sequence", committed.CommitSequence),
			attribute.Int64("eventstore.checkpoint", committed.Checkpoint),
			attribute.Int("eventstore.event_count", len(committed.Events)),
		),
	)
	span.End()
}
