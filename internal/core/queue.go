package core

import (
	"sort"

	"evalgrid/pkg/domain"
)

// pendingScores is an immutable itemKey -> score map. Every merge replaces the
// staff entry with a new pointer so a flush can tell whether the entry it sent
// is still the live one.
type pendingScores struct {
	scores map[string]float64
}

// Queue holds unsaved score edits, one bucket per perspective, keyed by staff id.
// It is not safe for concurrent use; the Scheduler goroutine owns it.
type Queue struct {
	buckets map[domain.Perspective]map[string]*pendingScores
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	q := &Queue{buckets: make(map[domain.Perspective]map[string]*pendingScores, len(domain.Perspectives))}
	for _, p := range domain.Perspectives {
		q.buckets[p] = make(map[string]*pendingScores)
	}
	return q
}

// Merge records score for (p, staffID, itemKey), overwriting an earlier
// unsaved value for the same item.
func (q *Queue) Merge(p domain.Perspective, staffID, itemKey string, score float64) {
	bucket := q.buckets[p]
	next := &pendingScores{scores: map[string]float64{itemKey: score}}
	if prev, ok := bucket[staffID]; ok {
		next.scores = make(map[string]float64, len(prev.scores)+1)
		for k, v := range prev.scores {
			next.scores[k] = v
		}
		next.scores[itemKey] = score
	}
	bucket[staffID] = next
}

// SnapshotEntry is one staff entry captured at flush start.
type SnapshotEntry struct {
	StaffID string
	entry   *pendingScores
}

// Scores returns a copy of the captured item scores.
func (e SnapshotEntry) Scores() map[string]float64 {
	out := make(map[string]float64, len(e.entry.scores))
	for k, v := range e.entry.scores {
		out[k] = v
	}
	return out
}

// QueueSnapshot is the per-perspective capture taken when a flush starts.
type QueueSnapshot map[domain.Perspective][]SnapshotEntry

// Snapshot captures every non-empty bucket, staff ordered by id.
func (q *Queue) Snapshot() QueueSnapshot {
	snap := make(QueueSnapshot, len(q.buckets))
	for p, bucket := range q.buckets {
		if len(bucket) == 0 {
			continue
		}
		entries := make([]SnapshotEntry, 0, len(bucket))
		for staffID, entry := range bucket {
			entries = append(entries, SnapshotEntry{StaffID: staffID, entry: entry})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].StaffID < entries[j].StaffID })
		snap[p] = entries
	}
	return snap
}

// Evaluations converts captured entries into the batched write payload.
func Evaluations(entries []SnapshotEntry) []domain.StaffScores {
	out := make([]domain.StaffScores, 0, len(entries))
	for _, e := range entries {
		out = append(out, domain.StaffScores{StaffID: e.StaffID, Scores: e.Scores()})
	}
	return out
}

// Prune removes the captured entries of p that are still the live entry for
// their staff member. Entries replaced by a later Merge survive. It returns
// the number of entries removed.
func (q *Queue) Prune(p domain.Perspective, entries []SnapshotEntry) int {
	bucket := q.buckets[p]
	removed := 0
	for _, e := range entries {
		if live, ok := bucket[e.StaffID]; ok && live == e.entry {
			delete(bucket, e.StaffID)
			removed++
		}
	}
	return removed
}

// Len returns the number of staff entries queued for p.
func (q *Queue) Len(p domain.Perspective) int {
	return len(q.buckets[p])
}

// Empty reports whether nothing is queued.
func (q *Queue) Empty() bool {
	for _, bucket := range q.buckets {
		if len(bucket) > 0 {
			return false
		}
	}
	return true
}

// PendingScores is a copy of the queue contents: perspective -> staff -> item -> score.
type PendingScores map[domain.Perspective]map[string]map[string]float64

// Entries returns a deep copy of everything queued.
func (q *Queue) Entries() PendingScores {
	out := make(PendingScores, len(q.buckets))
	for p, bucket := range q.buckets {
		staff := make(map[string]map[string]float64, len(bucket))
		for staffID, entry := range bucket {
			scores := make(map[string]float64, len(entry.scores))
			for k, v := range entry.scores {
				scores[k] = v
			}
			staff[staffID] = scores
		}
		out[p] = staff
	}
	return out
}

// Clear drops every queued entry.
func (q *Queue) Clear() {
	for p := range q.buckets {
		q.buckets[p] = make(map[string]*pendingScores)
	}
}
