package scheduler

import (
	"context"
	"sync"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"go.opencensus.io/stats"
	"golang.org/x/xerrors"

	"github.com/dualtree-project/dualtree/exchange"
	"github.com/dualtree-project/dualtree/journal"
	"github.com/dualtree-project/dualtree/metrics"
	"github.com/dualtree-project/dualtree/tree"
)

var log = logging.Logger("dualtree-sched")

// TaskQueue schedules (query subtree, reference subtree) pairs for one
// process of a distributed dual-tree traversal. The local query tree is
// broken into a registry of subtree slots; each slot carries a lock bit and
// a priority queue of pending tasks, and workers take a slot's lock along
// with its best task so partial results are never mutated concurrently.
//
// The queue itself is a serial data structure: one mutex makes every
// exported operation atomic with respect to the others. Workers execute
// dequeued tasks outside the queue and report back through Unlock.
type TaskQueue struct {
	lk sync.Mutex

	// Parallel slices indexed by query subtree number. Append-only: a
	// slot index handed out once stays valid for the life of the queue.
	subtrees []tree.Node
	locks    []bool
	tasks    []*taskHeap

	splitRequested bool
	remaining      int

	cache exchange.Cache

	nextSeq uint64

	evtTypeSplit journal.EventType
}

// SplitEvent is recorded in the journal when a query subtree is refined.
type SplitEvent struct {
	Slot      int
	NewSlot   int
	Moved     int
	LeftSize  int
	RightSize int
}

// NewTaskQueue breaks the local query table into frontier subtrees of at
// most maxSubtreeSize points and prepares an empty task list for each. The
// cache is borrowed; the queue only ever adds references to it, and only
// while splitting.
func NewTaskQueue(queryTable tree.Table, maxSubtreeSize int, cache exchange.Cache) (*TaskQueue, error) {
	if queryTable == nil {
		return nil, xerrors.New("nil query table")
	}
	if cache == nil {
		return nil, xerrors.New("nil cache")
	}
	if maxSubtreeSize < 1 {
		return nil, xerrors.Errorf("max query subtree size %d out of range", maxSubtreeSize)
	}

	roots := queryTable.FrontierNodes(maxSubtreeSize)
	if len(roots) == 0 {
		return nil, xerrors.New("query table produced an empty frontier")
	}
	q := &TaskQueue{
		subtrees: roots,
		locks:    make([]bool, len(roots)),
		tasks:    make([]*taskHeap, len(roots)),
		cache:    cache,

		evtTypeSplit: journal.J.RegisterEventType("sched", "subtree_split"),
	}
	for i := range q.tasks {
		q.tasks[i] = &taskHeap{}
	}

	log.Debugw("task queue initialized", "slots", len(roots), "maxSubtreeSize", maxSubtreeSize)
	stats.Record(context.TODO(), metrics.QueueSlots.M(int64(len(roots))))
	return q, nil
}

// Push enqueues the pairing of query subtree slot with the given reference
// binding. The caller must already hold a cache reference covering the new
// task. Pushing to a held slot is allowed.
func (q *TaskQueue) Push(m tree.Metric, slot int, ref ReferenceBinding) error {
	q.lk.Lock()
	defer q.lk.Unlock()

	if err := q.checkSlot(slot); err != nil {
		return xerrors.Errorf("push: %w", err)
	}
	if ref.Node == nil {
		return xerrors.New("push: nil reference node")
	}

	q.pushTask(m, slot, ref)
	return nil
}

// pushTask computes the priority of (subtrees[slot], ref) and enqueues.
// Callers hold q.lk.
func (q *TaskQueue) pushTask(m tree.Metric, slot int, ref ReferenceBinding) {
	distRange := q.subtrees[slot].Bound().RangeDistanceSq(m, ref.Node.Bound())

	t := &Task{
		Query:    q.subtrees[slot],
		Ref:      ref,
		Priority: -distRange.Mid(),
		SchedID:  uuid.New(),
		seq:      q.nextSeq,
	}
	q.nextSeq++

	q.tasks[slot].push(t)
	q.remaining++

	stats.Record(context.TODO(), metrics.TaskPushed.M(1))
	stats.Record(context.TODO(), metrics.TasksRemaining.M(int64(q.remaining)))
}

// Dequeue pops the best pending task bound to the given query subtree. It
// returns ok=false when the slot has no pending work or is already held by
// another worker; the caller is then expected to probe another slot or
// request a split. With lockOnTake the slot is handed out locked, and must
// be returned through Unlock once the task has been executed.
//
// The returned slot index equals the probed one and stays valid forever;
// pass it back to Unlock.
func (q *TaskQueue) Dequeue(slot int, lockOnTake bool) (*Task, int, bool, error) {
	q.lk.Lock()
	defer q.lk.Unlock()

	if err := q.checkSlot(slot); err != nil {
		return nil, -1, false, xerrors.Errorf("dequeue: %w", err)
	}

	t, ok := q.dequeueTask(slot, lockOnTake)
	if !ok {
		stats.Record(context.TODO(), metrics.DequeueMiss.M(1))
		return nil, -1, false, nil
	}

	stats.Record(context.TODO(), metrics.TaskDequeued.M(1))
	stats.Record(context.TODO(), metrics.TasksRemaining.M(int64(q.remaining)))
	return t, slot, true, nil
}

// dequeueTask pops the top task off an unheld, non-empty slot, optionally
// taking the slot's lock. Callers hold q.lk.
func (q *TaskQueue) dequeueTask(slot int, lock bool) (*Task, bool) {
	if q.tasks[slot].Len() == 0 {
		return nil, false
	}
	if q.locks[slot] {
		return nil, false
	}

	t := q.tasks[slot].pop()
	if lock {
		q.locks[slot] = true
	}
	q.remaining--
	return t, true
}

// Unlock releases the slot taken by a previous Dequeue. If a split was
// requested, the queue refines the largest eligible subtree before
// returning; the metric is needed because the moved tasks get their
// priorities recomputed against the refined bounds. The request flag is
// cleared whether or not an eligible subtree was found.
func (q *TaskQueue) Unlock(m tree.Metric, slot int) error {
	q.lk.Lock()
	defer q.lk.Unlock()

	if err := q.checkSlot(slot); err != nil {
		return xerrors.Errorf("unlock: %w", err)
	}
	if !q.locks[slot] {
		return xerrors.Errorf("unlock: slot %d is not held", slot)
	}

	q.locks[slot] = false

	if !q.splitRequested {
		return nil
	}

	if k, ok := q.findSplitTarget(); ok {
		q.splitSubtree(m, k)
	}
	q.splitRequested = false
	return nil
}

// RequestSplit asks the queue to refine its largest busy query subtree at
// the next Unlock, which is the moment an unlocked, non-empty slot is most
// likely to be available. Idempotent.
func (q *TaskQueue) RequestSplit() {
	q.lk.Lock()
	defer q.lk.Unlock()
	q.splitRequested = true
}

// Size returns the number of query subtree slots. It never decreases.
func (q *TaskQueue) Size() int {
	q.lk.Lock()
	defer q.lk.Unlock()
	return len(q.subtrees)
}

// IsEmpty reports whether no tasks remain in any slot.
func (q *TaskQueue) IsEmpty() bool {
	q.lk.Lock()
	defer q.lk.Unlock()
	return q.remaining == 0
}

// Pending returns the total number of queued tasks across all slots.
func (q *TaskQueue) Pending() int {
	q.lk.Lock()
	defer q.lk.Unlock()
	return q.remaining
}

// Subtree returns the query subtree currently bound to the given slot.
func (q *TaskQueue) Subtree(slot int) (tree.Node, error) {
	q.lk.Lock()
	defer q.lk.Unlock()

	if err := q.checkSlot(slot); err != nil {
		return nil, err
	}
	return q.subtrees[slot], nil
}

// DiagInfo is a point-in-time snapshot of queue state for logging and the
// simulator's status output.
type DiagInfo struct {
	Slots   int
	Pending int

	Held        []int
	SlotPending []int
}

func (q *TaskQueue) Diag() DiagInfo {
	q.lk.Lock()
	defer q.lk.Unlock()

	out := DiagInfo{
		Slots:       len(q.subtrees),
		Pending:     q.remaining,
		SlotPending: make([]int, len(q.tasks)),
	}
	for i, th := range q.tasks {
		out.SlotPending[i] = th.Len()
		if q.locks[i] {
			out.Held = append(out.Held, i)
		}
	}
	return out
}

func (q *TaskQueue) checkSlot(slot int) error {
	if slot < 0 || slot >= len(q.subtrees) {
		return xerrors.Errorf("slot %d out of range [0, %d)", slot, len(q.subtrees))
	}
	return nil
}
