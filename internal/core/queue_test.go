package core

import (
	"testing"

	"evalgrid/pkg/domain"
)

func TestQueueMergeCoalesces(t *testing.T) {
	q := NewQueue()
	q.Merge(domain.PerspectiveSelf, "s1", "a", 1)
	q.Merge(domain.PerspectiveSelf, "s1", "b", 4)
	q.Merge(domain.PerspectiveSelf, "s1", "a", 2)

	snap := q.Snapshot()
	entries := snap[domain.PerspectiveSelf]
	if len(entries) != 1 {
		t.Fatalf("expected one staff entry, got %d", len(entries))
	}
	scores := entries[0].Scores()
	if scores["a"] != 2 || scores["b"] != 4 || len(scores) != 2 {
		t.Fatalf("unexpected coalesced scores %+v", scores)
	}
	if _, ok := snap[domain.PerspectiveManager]; ok {
		t.Fatalf("empty manager bucket should not be captured")
	}
}

func TestQueuePruneKeepsReplacedEntries(t *testing.T) {
	q := NewQueue()
	q.Merge(domain.PerspectiveManager, "s1", "a", 1)
	q.Merge(domain.PerspectiveManager, "s2", "a", 3)
	snap := q.Snapshot()

	// s1 is edited while the snapshot is "in flight".
	q.Merge(domain.PerspectiveManager, "s1", "a", 5)

	if removed := q.Prune(domain.PerspectiveManager, snap[domain.PerspectiveManager]); removed != 1 {
		t.Fatalf("expected one entry pruned, got %d", removed)
	}
	if q.Len(domain.PerspectiveManager) != 1 {
		t.Fatalf("expected s1 to survive")
	}
	left := q.Entries()[domain.PerspectiveManager]["s1"]
	if left["a"] != 5 {
		t.Fatalf("surviving entry should carry the newer value, got %+v", left)
	}
}

func TestQueueEvaluationsPayload(t *testing.T) {
	q := NewQueue()
	q.Merge(domain.PerspectiveSelf, "s2", "a", 1)
	q.Merge(domain.PerspectiveSelf, "s1", "b", 0)
	payload := Evaluations(q.Snapshot()[domain.PerspectiveSelf])
	if len(payload) != 2 || payload[0].StaffID != "s1" || payload[1].StaffID != "s2" {
		t.Fatalf("unexpected payload order %+v", payload)
	}
	payload[0].Scores["b"] = 9
	if q.Entries()[domain.PerspectiveSelf]["s1"]["b"] != 0 {
		t.Fatalf("payload must not alias queue storage")
	}
	q.Clear()
	if !q.Empty() {
		t.Fatalf("expected empty queue after Clear")
	}
}
