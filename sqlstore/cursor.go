package sqlstore

import (
	"context"
	"database/sql"
	"time"

	eventstore "github.com/neventstore/eventstore-go"
)

// rowsCursor adapts sql.Rows to the commit cursor protocol: lazy,
// single-pass, closing the rows on every exit path.
type rowsCursor struct {
	rows    *sql.Rows
	engine  *Engine
	op      string
	current *eventstore.Commit
	err     error
}

func (c *rowsCursor) Next() bool {
	if c.err != nil {
		return false
	}
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			c.err = c.engine.translate(c.op, err)
		}
		return false
	}
	commit, err := c.scan()
	if err != nil {
		c.err = err
		return false
	}
	c.current = commit
	return true
}

func (c *rowsCursor) scan() (*eventstore.Commit, error) {
	var (
		checkpoint  int64
		streamID    string
		revision    int
		rawCommitID []byte
		sequence    int
		stampNanos  int64
		headersB    []byte
		eventsB     []byte
	)
	if err := c.rows.Scan(&checkpoint, &streamID, &revision, &rawCommitID, &sequence, &stampNanos, &headersB, &eventsB); err != nil {
		return nil, c.engine.translate(c.op, err)
	}
	commitID, err := c.engine.dialect.DecodeCommitID(rawCommitID)
	if err != nil {
		return nil, &eventstore.StorageError{Op: c.op, Cause: err}
	}
	var headers map[string]any
	if len(headersB) > 0 {
		if err := c.engine.serializer.Deserialize(headersB, &headers); err != nil {
			return nil, &eventstore.StorageError{Op: c.op, Cause: err}
		}
	}
	var events []eventstore.EventMessage
	if err := c.engine.serializer.Deserialize(eventsB, &events); err != nil {
		return nil, &eventstore.StorageError{Op: c.op, Cause: err}
	}
	return &eventstore.Commit{
		StreamID:       streamID,
		StreamRevision: revision,
		CommitID:       commitID,
		CommitSequence: sequence,
		CommitStamp:    time.Unix(0, stampNanos).UTC(),
		Headers:        headers,
		Events:         events,
		Checkpoint:     checkpoint,
	}, nil
}

func (c *rowsCursor) Commit() *eventstore.Commit { return c.current }

func (c *rowsCursor) Err() error { return c.err }

func (c *rowsCursor) Close() error { return c.rows.Close() }

// pagedCheckpointCursor pages checkpoint-ordered reads through the backend
// one LIMIT-bounded query at a time, resuming each page from the last
// checkpoint delivered. Still single-pass from the caller's side.
type pagedCheckpointCursor struct {
	ctx      context.Context
	engine   *Engine
	last     int64
	pageSize int

	buf    []*eventstore.Commit
	pos    int
	done   bool
	err    error
	closed bool
}

func (c *pagedCheckpointCursor) Next() bool {
	if c.err != nil || c.closed {
		return false
	}
	if c.pos >= len(c.buf) {
		if c.done {
			return false
		}
		if !c.fill() {
			return false
		}
	}
	c.last = c.buf[c.pos].Checkpoint
	c.pos++
	return true
}

// fill fetches the next page. A short page means the tail was reached.
func (c *pagedCheckpointCursor) fill() bool {
	stmt := c.engine.dialect.Paging(c.engine.dialect.GetCommitsFromCheckpoint())
	cur, err := c.engine.query(c.ctx, "get from checkpoint", stmt, c.last, c.pageSize)
	if err != nil {
		c.err = err
		return false
	}
	page, err := eventstore.ReadAll(cur)
	if err != nil {
		c.err = err
		return false
	}
	c.buf = page
	c.pos = 0
	if len(page) < c.pageSize {
		c.done = true
	}
	return len(page) > 0
}

func (c *pagedCheckpointCursor) Commit() *eventstore.Commit {
	if c.pos == 0 || c.pos > len(c.buf) {
		return nil
	}
	return c.buf[c.pos-1]
}

func (c *pagedCheckpointCursor) Err() error { return c.err }

func (c *pagedCheckpointCursor) Close() error {
	c.closed = true
	return nil
}
