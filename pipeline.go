package eventstore

import (
	"context"
	"time"
)

// hookedPersistence decorates a Persistence so that cross-stream reads run
// each yielded commit through the Select hook chain. Commits the chain
// drops never reach the caller.
//
// Commit is deliberately a plain pass-through: pre- and post-commit hooks
// are the store's responsibility, so duplicate and concurrency failures
// never fire hooks. Revision-ranged stream reads and checkpoint reads pass
// through untouched as well; Select applies to the instant surfaces only.
type hookedPersistence struct {
	Persistence
	hooks pipelineHooks
}

func newHookedPersistence(p Persistence, hooks pipelineHooks) *hookedPersistence {
	return &hookedPersistence{Persistence: p, hooks: hooks}
}

func (h *hookedPersistence) GetFromInstant(ctx context.Context, instant time.Time) (Cursor, error) {
	cur, err := h.Persistence.GetFromInstant(ctx, instant)
	if err != nil {
		return nil, err
	}
	return &selectCursor{inner: cur, hooks: h.hooks}, nil
}

func (h *hookedPersistence) GetFromTo(ctx context.Context, start, end time.Time) (Cursor, error) {
	cur, err := h.Persistence.GetFromTo(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return &selectCursor{inner: cur, hooks: h.hooks}, nil
}

// selectCursor filters an inner cursor through the Select chain, skipping
// commits the chain drops. Single-pass like the cursor it wraps.
type selectCursor struct {
	inner   Cursor
	hooks   pipelineHooks
	current *Commit
}

func (c *selectCursor) Next() bool {
	for c.inner.Next() {
		if selected := c.hooks.selectCommit(c.inner.Commit()); selected != nil {
			c.current = selected
			return true
		}
	}
	c.current = nil
	return false
}

func (c *selectCursor) Commit() *Commit { return c.current }

func (c *selectCursor) Err() error { return c.inner.Err() }

func (c *selectCursor) Close() error { return c.inner.Close() }
