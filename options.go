package eventstore

// Option configures a Store.
//
// Options follow the functional pattern so configuration stays chainable
// and optional:
//
//	store, err := eventstore.New(engine,
//	    eventstore.WithHooks(hook),
//	    eventstore.WithLogger(log.Printf),
//	)
type Option func(*config) error

type config struct {
	hooks     []PipelineHook
	scheduler DispatchScheduler
	logger    Logger
}

// WithHooks appends pipeline hooks in invocation order. Later WithHooks
// calls append after earlier ones.
func WithHooks(hooks ...PipelineHook) Option {
	return func(cfg *config) error {
		cfg.hooks = append(cfg.hooks, hooks...)
		return nil
	}
}

// WithDispatchScheduler wires a scheduler so every durably persisted commit
// is handed to downstream consumers. With the synchronous scheduler a
// dispatch failure propagates to the Commit caller; with the asynchronous
// one delivery happens on the scheduler's worker.
func WithDispatchScheduler(scheduler DispatchScheduler) Option {
	return func(cfg *config) error {
		cfg.scheduler = scheduler
		return nil
	}
}

// WithLogger sets the diagnostics sink for swallowed failures. The default
// discards them.
func WithLogger(logger Logger) Option {
	return func(cfg *config) error {
		if logger != nil {
			cfg.logger = logger
		}
		return nil
	}
}
