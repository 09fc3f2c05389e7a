package eventstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsHook is a pipeline hook exposing Prometheus metrics for the write
// and read paths, namespaced with "eventstore":
//
//   - commits_total (counter): commits durably persisted, by stream id.
//   - commit_vetoes_total (counter): attempts vetoed by a PreCommit hook.
//   - commit_events (histogram): events per persisted commit.
//   - selected_commits_dropped_total (counter): commits removed from read
//     sequences by this hook's filter (always zero unless a Filter is set).
//
// Register it against an injected prometheus.Registerer and list it among
// the store's hooks:
//
//	registry := prometheus.NewRegistry()
//	metrics := eventstore.NewMetricsHook(registry)
//	store, err := eventstore.New(engine, eventstore.WithHooks(metrics))
//
// Thread-safe; Prometheus collectors handle their own synchronization.
type MetricsHook struct {
	NopHook

	commits      *prometheus.CounterVec
	vetoes       prometheus.Counter
	commitEvents prometheus.Histogram
	dropped      prometheus.Counter

	// Filter optionally drops commits from read sequences; nil keeps all.
	Filter func(commit *Commit) bool
}

// NewMetricsHook creates and registers the collectors with registry (nil
// falls back to the default registerer).
func NewMetricsHook(registry prometheus.Registerer) *MetricsHook {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &MetricsHook{
		commits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventstore",
			Name:      "commits_total",
			Help:      "Commits durably persisted.",
		}, []string{"stream_id"}),
		vetoes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "eventstore",
			Name:      "commit_vetoes_total",
			Help:      "Commit attempts vetoed by a pre-commit hook.",
		}),
		commitEvents: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "eventstore",
			Name:      "commit_events",
			Help:      "Events carried per persisted commit.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
		}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "eventstore",
			Name:      "selected_commits_dropped_total",
			Help:      "Commits removed from read sequences by the metrics hook filter.",
		}),
	}
}

// Select applies the optional Filter, counting drops.
func (m *MetricsHook) Select(commit *Commit) *Commit {
	if m.Filter != nil && !m.Filter(commit) {
		m.dropped.Inc()
		return nil
	}
	return commit
}

// PreCommit approves the attempt. It never vetoes; the veto counter is
// advanced by RecordVeto from hooks that do.
func (m *MetricsHook) PreCommit(*Commit) bool { return true }

// PostCommit records the persisted commit.
func (m *MetricsHook) PostCommit(committed *Commit) {
	m.commits.WithLabelValues(committed.StreamID).Inc()
	m.commitEvents.Observe(float64(len(committed.Events)))
}

// RecordVeto advances the veto counter. Vetoing hooks call it so vetoed
// attempts stay visible even though PostCommit never fires for them.
func (m *MetricsHook) RecordVeto() { m.vetoes.Inc() }
