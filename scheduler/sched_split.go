package scheduler

import (
	"context"

	"go.opencensus.io/stats"

	"github.com/dualtree-project/dualtree/journal"
	"github.com/dualtree-project/dualtree/metrics"
	"github.com/dualtree-project/dualtree/tree"
)

// findSplitTarget scans for the unheld, non-leaf slot with pending work
// holding the most query points. Ties go to the lowest index. Callers hold
// q.lk.
func (q *TaskQueue) findSplitTarget() (int, bool) {
	best := -1
	bestCount := 0
	for i := range q.subtrees {
		if q.locks[i] || q.subtrees[i].IsLeaf() || q.tasks[i].Len() == 0 {
			continue
		}
		if c := q.subtrees[i].Count(); c > bestCount {
			best, bestCount = i, c
		}
	}
	return best, best >= 0
}

// splitSubtree rebinds slot k to the left child of its subtree, appends the
// right child as a new slot, and redistributes k's pending tasks across the
// two. A task against a leaf reference node is duplicated to both sides; a
// task against an internal reference node is expanded into its children on
// both sides. Every duplicate is covered by an extra cache reference, so
// the cache's count keeps matching the number of live tasks against the
// slot. Callers hold q.lk.
func (q *TaskQueue) splitSubtree(m tree.Metric, k int) {
	left := q.subtrees[k].Left()
	right := q.subtrees[k].Right()

	q.subtrees[k] = left
	q.subtrees = append(q.subtrees, right)
	q.locks = append(q.locks, false)
	q.tasks = append(q.tasks, &taskHeap{})
	kr := len(q.subtrees) - 1

	// Drain first: the pushes below must recompute priorities against the
	// refined bounds, and pushing while popping would interleave the heap.
	prev := make([]*Task, 0, q.tasks[k].Len())
	for q.tasks[k].Len() > 0 {
		t, _ := q.dequeueTask(k, false)
		prev = append(prev, t)
	}

	for _, t := range prev {
		if t.Ref.Node.IsLeaf() {
			q.pushTask(m, k, t.Ref)
			q.pushTask(m, kr, t.Ref)

			// one extra reference: only the query side was split
			q.cache.LockCache(t.Ref.CacheID, 1)
		} else {
			refLeft := ReferenceBinding{Table: t.Ref.Table, Node: t.Ref.Node.Left(), CacheID: t.Ref.CacheID}
			refRight := ReferenceBinding{Table: t.Ref.Table, Node: t.Ref.Node.Right(), CacheID: t.Ref.CacheID}

			q.pushTask(m, k, refLeft)
			q.pushTask(m, k, refRight)
			q.pushTask(m, kr, refLeft)
			q.pushTask(m, kr, refRight)

			// three extra references: the reference side was split too
			q.cache.LockCache(t.Ref.CacheID, 3)
		}
	}

	log.Debugw("split query subtree", "slot", k, "newSlot", kr, "moved", len(prev),
		"leftCount", left.Count(), "rightCount", right.Count())
	stats.Record(context.TODO(), metrics.SubtreeSplit.M(1))
	stats.Record(context.TODO(), metrics.QueueSlots.M(int64(len(q.subtrees))))

	journal.MaybeRecordEvent(journal.J, q.evtTypeSplit, func() interface{} {
		return SplitEvent{
			Slot:      k,
			NewSlot:   kr,
			Moved:     len(prev),
			LeftSize:  left.Count(),
			RightSize: right.Count(),
		}
	})
}
