// Package redisq delivers persisted commits to a Redis stream.
//
// It implements the dispatcher side of the commit store: each commit the
// scheduler hands over is appended to a Redis stream entry that downstream
// consumers read with XREAD/XREADGROUP. Delivery from the schedulers is
// at-least-once, so the dispatcher guards each commit with an idempotency
// marker (SETNX with a TTL) and silently skips commits whose marker is
// already set. The marker is set before the publish, so a commit whose
// publish failed is also skipped until its marker expires.
package redisq

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	eventstore "github.com/neventstore/eventstore-go"
)

// Client abstracts the minimal Redis surface the dispatcher needs.
// *redis.Client, *redis.ClusterClient and anything else satisfying
// redis.Cmdable qualifies.
type Client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// NewGoRedisClient dials a single-node Redis at addr.
func NewGoRedisClient(addr string) Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

// Dispatcher publishes commits to a Redis stream. Implements
// eventstore.Dispatcher.
type Dispatcher struct {
	client     Client
	stream     string
	markerTTL  time.Duration
	serializer eventstore.Serializer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMarkerTTL bounds the lifetime of idempotency markers. Choose a
// duration comfortably larger than the maximum redelivery window; the
// default is 24 hours.
func WithMarkerTTL(ttl time.Duration) Option {
	return func(d *Dispatcher) {
		if ttl > 0 {
			d.markerTTL = ttl
		}
	}
}

// WithSerializer replaces the default JSON serializer for the published
// commit payload.
func WithSerializer(s eventstore.Serializer) Option {
	return func(d *Dispatcher) {
		if s != nil {
			d.serializer = s
		}
	}
}

// NewDispatcher publishes to the named Redis stream through client.
func NewDispatcher(client Client, stream string, opts ...Option) (*Dispatcher, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is nil", eventstore.ErrInvalidArgument)
	}
	if stream == "" {
		return nil, fmt.Errorf("%w: stream name is empty", eventstore.ErrInvalidArgument)
	}
	d := &Dispatcher{
		client:     client,
		stream:     stream,
		markerTTL:  24 * time.Hour,
		serializer: eventstore.NewJSONSerializer(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// markerKey is the idempotency marker for one commit.
func (d *Dispatcher) markerKey(commit *eventstore.Commit) string {
	return fmt.Sprintf("eventstore:dispatched:%s:%s", commit.StreamID, commit.CommitID)
}

// Dispatch publishes the commit unless its marker already exists. A commit
// seen before returns nil without touching the stream, which keeps
// scheduler retries and post-restart catch-up from double-publishing.
func (d *Dispatcher) Dispatch(ctx context.Context, commit *eventstore.Commit) error {
	set, err := d.client.SetNX(ctx, d.markerKey(commit), 1, d.markerTTL).Result()
	if err != nil {
		return fmt.Errorf("redis marker for commit %s: %w", commit.CommitID, err)
	}
	if !set {
		return nil
	}

	payload, err := d.serializer.Serialize(commit)
	if err != nil {
		return fmt.Errorf("serialize commit %s: %w", commit.CommitID, err)
	}
	err = d.client.XAdd(ctx, &redis.XAddArgs{
		Stream: d.stream,
		Values: map[string]any{
			"stream_id":       commit.StreamID,
			"commit_id":       commit.CommitID.String(),
			"commit_sequence": commit.CommitSequence,
			"stream_revision": commit.StreamRevision,
			"checkpoint":      commit.Checkpoint,
			"payload":         payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish commit %s: %w", commit.CommitID, err)
	}
	return nil
}
