package eventstore

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsHook_CountsCommits(t *testing.T) {
	ctx := context.Background()
	registry := prometheus.NewRegistry()
	hook := NewMetricsHook(registry)
	fake := newFakePersistence()
	store := newTestStore(t, fake, WithHooks(hook))

	if _, err := store.Commit(ctx, mustCommit(t, "s1", 2, 1, EventMessage{Body: "a"}, EventMessage{Body: "b"})); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if _, err := store.Commit(ctx, mustCommit(t, "s1", 3, 2, EventMessage{Body: "c"})); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if got := testutil.ToFloat64(hook.commits.WithLabelValues("s1")); got != 2 {
		t.Errorf("commits_total{stream_id=s1} = %v, want 2", got)
	}
}

func TestMetricsHook_FilterCountsDrops(t *testing.T) {
	registry := prometheus.NewRegistry()
	hook := NewMetricsHook(registry)
	hook.Filter = func(commit *Commit) bool { return commit.StreamID != "noise" }

	kept := hook.Select(mustCommit(t, "signal", 1, 1, EventMessage{Body: "a"}))
	if kept == nil {
		t.Error("matching commit dropped")
	}
	dropped := hook.Select(mustCommit(t, "noise", 1, 1, EventMessage{Body: "a"}))
	if dropped != nil {
		t.Error("filtered commit survived")
	}
	if got := testutil.ToFloat64(hook.dropped); got != 1 {
		t.Errorf("selected_commits_dropped_total = %v, want 1", got)
	}
}

func TestMetricsHook_RecordVeto(t *testing.T) {
	registry := prometheus.NewRegistry()
	hook := NewMetricsHook(registry)

	hook.RecordVeto()
	hook.RecordVeto()
	if got := testutil.ToFloat64(hook.vetoes); got != 2 {
		t.Errorf("commit_vetoes_total = %v, want 2", got)
	}
}
