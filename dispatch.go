package eventstore

import (
	"container/list"
	"context"
	"fmt"
	"sync"
)

// Dispatcher delivers a persisted commit to downstream consumers
// (projections, integrations, brokers). A nil error means the commit was
// consumed and may be marked as dispatched.
type Dispatcher interface {
	Dispatch(ctx context.Context, commit *Commit) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, commit *Commit) error

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(ctx context.Context, commit *Commit) error { return f(ctx, commit) }

// DispatchScheduler consumes each persisted commit exactly once and marks
// it dispatched on success. Both variants recover commits left undispatched
// by a previous process at construction time.
type DispatchScheduler interface {
	// ScheduleDispatch hands a freshly persisted commit to the scheduler.
	ScheduleDispatch(ctx context.Context, commit *Commit) error

	// Stop shuts the scheduler down, draining any queued work.
	Stop(ctx context.Context) error
}

// dispatchOne performs the dispatch-then-mark step both schedulers share.
func dispatchOne(ctx context.Context, p Persistence, d Dispatcher, commit *Commit) error {
	if err := d.Dispatch(ctx, commit); err != nil {
		return fmt.Errorf("dispatch commit %s: %w", commit.CommitID, err)
	}
	if err := p.MarkCommitAsDispatched(ctx, commit); err != nil {
		return fmt.Errorf("mark commit %s dispatched: %w", commit.CommitID, err)
	}
	return nil
}

// catchUp initializes persistence and replays every undispatched commit
// through the dispatcher, in checkpoint order. The cursor is drained before
// the first dispatch so mark writes never contend with an open read on
// single-connection backends.
func catchUp(ctx context.Context, p Persistence, d Dispatcher) error {
	if err := p.Initialize(ctx); err != nil {
		return err
	}
	cur, err := p.GetUndispatchedCommits(ctx)
	if err != nil {
		return err
	}
	pending, err := ReadAll(cur)
	if err != nil {
		return err
	}
	for _, commit := range pending {
		if err := dispatchOne(ctx, p, d, commit); err != nil {
			return err
		}
	}
	return nil
}

// SyncDispatchScheduler delivers commits on the caller's goroutine,
// immediately after Commit returns from persistence. A dispatch failure
// propagates to the Commit caller; the commit stays durable but unmarked,
// so the next startup retries it.
type SyncDispatchScheduler struct {
	persistence Persistence
	dispatcher  Dispatcher
}

// NewSyncDispatchScheduler builds the scheduler and immediately catches up
// on any commits marked undispatched by a previous process.
func NewSyncDispatchScheduler(ctx context.Context, p Persistence, d Dispatcher) (*SyncDispatchScheduler, error) {
	if p == nil || d == nil {
		return nil, fmt.Errorf("%w: persistence and dispatcher are required", ErrInvalidArgument)
	}
	if err := catchUp(ctx, p, d); err != nil {
		return nil, err
	}
	return &SyncDispatchScheduler{persistence: p, dispatcher: d}, nil
}

// ScheduleDispatch dispatches and marks the commit synchronously.
func (s *SyncDispatchScheduler) ScheduleDispatch(ctx context.Context, commit *Commit) error {
	return dispatchOne(ctx, s.persistence, s.dispatcher, commit)
}

// Stop is a no-op for the synchronous scheduler; there is nothing queued.
func (s *SyncDispatchScheduler) Stop(context.Context) error { return nil }

// AsyncDispatchScheduler owns a single background worker and an unbounded
// in-memory queue. ScheduleDispatch enqueues and returns immediately; the
// worker dequeues and performs dispatch-then-mark. Per-stream ordering is
// preserved because the store enqueues in commit order and the worker is
// single-threaded.
type AsyncDispatchScheduler struct {
	persistence Persistence
	dispatcher  Dispatcher
	logger      Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   *list.List
	stopped bool
	done    chan struct{}
}

// NewAsyncDispatchScheduler builds the scheduler, catches up on
// undispatched commits, and starts the worker.
func NewAsyncDispatchScheduler(ctx context.Context, p Persistence, d Dispatcher, logger Logger) (*AsyncDispatchScheduler, error) {
	if p == nil || d == nil {
		return nil, fmt.Errorf("%w: persistence and dispatcher are required", ErrInvalidArgument)
	}
	if logger == nil {
		logger = nopLogger
	}
	if err := catchUp(ctx, p, d); err != nil {
		return nil, err
	}
	s := &AsyncDispatchScheduler{
		persistence: p,
		dispatcher:  d,
		logger:      logger,
		queue:       list.New(),
		done:        make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.work()
	return s, nil
}

// ScheduleDispatch enqueues the commit for the worker. It only fails after
// Stop.
func (s *AsyncDispatchScheduler) ScheduleDispatch(_ context.Context, commit *Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStreamClosed
	}
	s.queue.PushBack(commit)
	s.cond.Signal()
	return nil
}

// work is the single worker loop: dequeue, dispatch, mark. A failed
// dispatch is logged and left unmarked for the next startup's catch-up; the
// worker moves on so one poisoned commit cannot wedge the queue.
func (s *AsyncDispatchScheduler) work() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for s.queue.Len() == 0 && !s.stopped {
			s.cond.Wait()
		}
		if s.queue.Len() == 0 && s.stopped {
			s.mu.Unlock()
			return
		}
		commit := s.queue.Remove(s.queue.Front()).(*Commit)
		s.mu.Unlock()

		if err := dispatchOne(context.Background(), s.persistence, s.dispatcher, commit); err != nil {
			s.logger("async dispatch: %v", err)
		}
	}
}

// Stop drains the queue and stops the worker. Subsequent ScheduleDispatch
// calls fail. Stop returns once the worker has exited or ctx is done.
func (s *AsyncDispatchScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.cond.Signal()
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
