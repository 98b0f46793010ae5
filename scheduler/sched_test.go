package scheduler

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dualtree-project/dualtree/tree"
)

type stubCache struct {
	lk    sync.Mutex
	added map[int]int
	calls int
}

func newStubCache() *stubCache {
	return &stubCache{added: map[int]int{}}
}

func (c *stubCache) LockCache(cacheID, count int) {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.added[cacheID] += count
	c.calls++
}

// stubNode lets tests place reference subtrees at exact coordinates.
type stubNode struct {
	leaf        bool
	left, right *stubNode
	begin       int
	count       int
	bound       *tree.HRect
}

var _ tree.Node = (*stubNode)(nil)

func (n *stubNode) IsLeaf() bool { return n.leaf }

func (n *stubNode) Left() tree.Node {
	if n.left == nil {
		return nil
	}
	return n.left
}

func (n *stubNode) Right() tree.Node {
	if n.right == nil {
		return nil
	}
	return n.right
}

func (n *stubNode) Begin() int         { return n.begin }
func (n *stubNode) Count() int         { return n.count }
func (n *stubNode) Bound() *tree.HRect { return n.bound }

func refLeafAt(x float64) *stubNode {
	return &stubNode{
		leaf:  true,
		count: 1,
		bound: &tree.HRect{Min: []float64{x}, Max: []float64{x}},
	}
}

func refInternalAt(lo, hi float64) *stubNode {
	return &stubNode{
		left:  refLeafAt(lo),
		right: refLeafAt(hi),
		count: 2,
		bound: &tree.HRect{Min: []float64{lo}, Max: []float64{hi}},
	}
}

// queryTable8 builds a balanced tree over the 1-D points 0..7 with leaves
// of two points, so FrontierNodes(4) yields two four-point subtrees.
func queryTable8(t *testing.T) *tree.MemTable {
	pts := make([][]float64, 8)
	for i := range pts {
		pts[i] = []float64{float64(i)}
	}
	tbl, err := tree.BuildMemTable(pts, 2)
	require.NoError(t, err)
	return tbl
}

func newQueue8(t *testing.T) (*TaskQueue, *stubCache) {
	cache := newStubCache()
	q, err := NewTaskQueue(queryTable8(t), 4, cache)
	require.NoError(t, err)
	require.Equal(t, 2, q.Size())
	return q, cache
}

var euclid = tree.EuclideanMetric{}

func TestNewTaskQueueChecksArgs(t *testing.T) {
	cache := newStubCache()
	tbl := queryTable8(t)

	_, err := NewTaskQueue(nil, 4, cache)
	require.Error(t, err)

	_, err = NewTaskQueue(tbl, 0, cache)
	require.Error(t, err)

	_, err = NewTaskQueue(tbl, 4, nil)
	require.Error(t, err)
}

func TestPushDequeueBestFirst(t *testing.T) {
	q, _ := newQueue8(t)

	// slot 0 covers [0, 3]; a reference at 9 is further than one at 5
	require.NoError(t, q.Push(euclid, 0, ReferenceBinding{Node: refLeafAt(9), CacheID: 1}))
	require.NoError(t, q.Push(euclid, 0, ReferenceBinding{Node: refLeafAt(5), CacheID: 2}))
	require.Equal(t, 2, q.Pending())

	task, slot, ok, err := q.Dequeue(0, true)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, slot)
	require.Equal(t, 2, task.Ref.CacheID, "nearer reference should come out first")
	require.Equal(t, 1, q.Pending())

	diag := q.Diag()
	require.Equal(t, []int{0}, diag.Held)
}

func TestLockBlocksDequeue(t *testing.T) {
	q, _ := newQueue8(t)

	require.NoError(t, q.Push(euclid, 0, ReferenceBinding{Node: refLeafAt(9), CacheID: 1}))
	require.NoError(t, q.Push(euclid, 0, ReferenceBinding{Node: refLeafAt(5), CacheID: 2}))

	_, _, ok, err := q.Dequeue(0, true)
	require.NoError(t, err)
	require.True(t, ok)

	// the slot is held now
	_, _, ok, err = q.Dequeue(0, true)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, q.Unlock(euclid, 0))

	task, _, ok, err := q.Dequeue(0, true)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, task.Ref.CacheID)
}

func TestPushWhileHeldAllowed(t *testing.T) {
	q, _ := newQueue8(t)

	require.NoError(t, q.Push(euclid, 0, ReferenceBinding{Node: refLeafAt(5), CacheID: 1}))
	_, _, ok, err := q.Dequeue(0, true)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, q.Push(euclid, 0, ReferenceBinding{Node: refLeafAt(6), CacheID: 2}))
	require.Equal(t, 1, q.Pending())
}

func TestSplitAfterUnlockLeafReferences(t *testing.T) {
	q, cache := newQueue8(t)

	require.NoError(t, q.Push(euclid, 0, ReferenceBinding{Node: refLeafAt(9), CacheID: 1}))
	require.NoError(t, q.Push(euclid, 0, ReferenceBinding{Node: refLeafAt(5), CacheID: 2}))

	// take the best task and hold the slot
	task, slot, ok, err := q.Dequeue(0, true)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, task.Ref.CacheID)

	// more work arrives while the slot is held
	require.NoError(t, q.Push(euclid, 0, ReferenceBinding{Node: refLeafAt(11), CacheID: 3}))

	q.RequestSplit()
	require.NoError(t, q.Unlock(euclid, slot))

	// slot 0 was rebound to its left half, the right half became slot 2
	require.Equal(t, 3, q.Size())

	sub0, err := q.Subtree(0)
	require.NoError(t, err)
	require.Equal(t, 2, sub0.Count())
	sub2, err := q.Subtree(2)
	require.NoError(t, err)
	require.Equal(t, 2, sub2.Count())

	// both pending tasks were duplicated to both sides
	diag := q.Diag()
	require.Equal(t, 4, diag.Pending)
	require.Equal(t, []int{2, 0, 2}, diag.SlotPending)

	// one extra cache reference per duplicated leaf task
	require.Equal(t, map[int]int{1: 1, 3: 1}, cache.added)
	require.Equal(t, 2, cache.calls)
}

func TestSplitExpandsInternalReference(t *testing.T) {
	q, cache := newQueue8(t)

	ref := refInternalAt(8, 12)
	require.NoError(t, q.Push(euclid, 0, ReferenceBinding{Node: ref, CacheID: 7}))

	// park a task on slot 1 so its unlock can service the request while
	// slot 0 stays free and eligible
	require.NoError(t, q.Push(euclid, 1, ReferenceBinding{Node: refLeafAt(9), CacheID: 8}))
	_, slot, ok, err := q.Dequeue(1, true)
	require.NoError(t, err)
	require.True(t, ok)

	q.RequestSplit()
	require.NoError(t, q.Unlock(euclid, slot))

	require.Equal(t, 3, q.Size())

	// one internal-reference task expands to four: both reference
	// children on both query halves
	diag := q.Diag()
	require.Equal(t, 4, diag.Pending)
	require.Equal(t, []int{2, 0, 2}, diag.SlotPending)

	require.Equal(t, map[int]int{7: 3}, cache.added)
	require.Equal(t, 1, cache.calls)
}

func TestSplitPicksLargestEligible(t *testing.T) {
	cache := newStubCache()
	q, err := NewTaskQueue(queryTable8(t), 8, cache) // single slot covering all 8
	require.NoError(t, err)
	require.Equal(t, 1, q.Size())

	require.NoError(t, q.Push(euclid, 0, ReferenceBinding{Node: refLeafAt(9), CacheID: 1}))

	// first split: 8 -> 4+4
	_, slot, ok, err := q.Dequeue(0, true)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, q.Push(euclid, 0, ReferenceBinding{Node: refLeafAt(9), CacheID: 1}))
	q.RequestSplit()
	require.NoError(t, q.Unlock(euclid, slot))
	require.Equal(t, 2, q.Size())

	// the split duplicated the leaf task, so both four-point halves are
	// eligible; the tie goes to the lowest index, so the next split must
	// pick slot 0 again
	q.RequestSplit()
	_, slot, ok, err = q.Dequeue(0, true)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, q.Push(euclid, 0, ReferenceBinding{Node: refLeafAt(9), CacheID: 1}))
	require.NoError(t, q.Unlock(euclid, slot))
	require.Equal(t, 3, q.Size())

	sub0, err := q.Subtree(0)
	require.NoError(t, err)
	require.Equal(t, 2, sub0.Count())
}

func TestNoEligibleSplitClearsRequest(t *testing.T) {
	cache := newStubCache()
	q, err := NewTaskQueue(queryTable8(t), 2, cache) // four leaf slots
	require.NoError(t, err)
	require.Equal(t, 4, q.Size())

	require.NoError(t, q.Push(euclid, 0, ReferenceBinding{Node: refLeafAt(9), CacheID: 1}))
	_, slot, ok, err := q.Dequeue(0, true)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, q.Push(euclid, 0, ReferenceBinding{Node: refLeafAt(9), CacheID: 1}))

	q.RequestSplit()
	require.NoError(t, q.Unlock(euclid, slot))

	// leaves are never split
	require.Equal(t, 4, q.Size())
	require.False(t, q.splitRequested, "the request is cleared even without a split")
	require.Equal(t, 0, cache.calls)
}

func TestTermination(t *testing.T) {
	q, _ := newQueue8(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Push(euclid, i%2, ReferenceBinding{Node: refLeafAt(float64(8 + i)), CacheID: i}))
	}
	require.False(t, q.IsEmpty())

	for slot := 0; slot < q.Size(); slot++ {
		for {
			_, taken, ok, err := q.Dequeue(slot, true)
			require.NoError(t, err)
			if !ok {
				break
			}
			require.NoError(t, q.Unlock(euclid, taken))
		}
	}

	require.True(t, q.IsEmpty())
	require.Equal(t, 0, q.Pending())

	for slot := 0; slot < q.Size(); slot++ {
		_, _, ok, err := q.Dequeue(slot, true)
		require.NoError(t, err)
		require.False(t, ok)
	}
}

func TestUsageErrors(t *testing.T) {
	q, _ := newQueue8(t)

	require.Error(t, q.Push(euclid, -1, ReferenceBinding{Node: refLeafAt(1), CacheID: 0}))
	require.Error(t, q.Push(euclid, 2, ReferenceBinding{Node: refLeafAt(1), CacheID: 0}))
	require.Error(t, q.Push(euclid, 0, ReferenceBinding{CacheID: 0}))

	_, _, _, err := q.Dequeue(17, true)
	require.Error(t, err)

	require.Error(t, q.Unlock(euclid, 5))
	require.Error(t, q.Unlock(euclid, 0), "unlock of a free slot")

	// none of the above corrupted state
	require.Equal(t, 2, q.Size())
	require.Equal(t, 0, q.Pending())
}

func TestPriorityOrderWithinSlot(t *testing.T) {
	q, _ := newQueue8(t)

	coords := []float64{20, 4.5, 30, 11, 4.5, 8, 4.5}
	for i, x := range coords {
		require.NoError(t, q.Push(euclid, 0, ReferenceBinding{Node: refLeafAt(x), CacheID: i}))
	}

	var prios []float64
	var seqs []uint64
	for {
		task, _, ok, err := q.Dequeue(0, false)
		require.NoError(t, err)
		if !ok {
			break
		}
		prios = append(prios, task.Priority)
		seqs = append(seqs, task.seq)
	}
	require.Len(t, prios, len(coords))

	for i := 1; i < len(prios); i++ {
		require.LessOrEqual(t, prios[i], prios[i-1], "priorities must be non-increasing")
		if prios[i] == prios[i-1] {
			require.Less(t, seqs[i-1], seqs[i], "equal priorities must come out in push order")
		}
	}
}

// TestInvariantsUnderRandomOps drives the queue with a random mix of
// operations and re-checks the structural invariants after each one.
func TestInvariantsUnderRandomOps(t *testing.T) {
	cache := newStubCache()
	tbl := queryTable8(t)
	q, err := NewTaskQueue(tbl, 4, cache)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))

	pushed := map[int]int{}   // cacheID -> tasks pushed by this test
	dequeued := map[int]int{} // cacheID -> tasks handed out
	nextCacheID := 0
	held := map[int]bool{}
	lastSize := q.Size()

	check := func() {
		t.Helper()

		require.Equal(t, len(q.subtrees), len(q.locks))
		require.Equal(t, len(q.subtrees), len(q.tasks))

		total := 0
		live := map[int]int{}
		for _, th := range q.tasks {
			total += th.Len()
			for _, task := range *th {
				live[task.Ref.CacheID]++
			}
		}
		require.Equal(t, q.remaining, total, "remaining must equal the sum of slot sizes")

		require.GreaterOrEqual(t, q.Size(), lastSize, "slot count never decreases")
		lastSize = q.Size()

		// every task beyond those pushed (minus those dequeued) must be
		// covered by a splitter-issued cache reference
		for id := 0; id < nextCacheID; id++ {
			require.Equal(t, pushed[id]-dequeued[id]+cache.added[id], live[id],
				"live tasks for cache slot %d must match push/dequeue/split accounting", id)
		}
	}

	for i := 0; i < 2000; i++ {
		switch rng.Intn(10) {
		case 0, 1, 2, 3: // push
			slot := rng.Intn(q.Size())
			var ref tree.Node
			if rng.Intn(3) == 0 {
				ref = refInternalAt(float64(rng.Intn(30)), float64(30+rng.Intn(30)))
			} else {
				ref = refLeafAt(float64(rng.Intn(50)))
			}
			require.NoError(t, q.Push(euclid, slot, ReferenceBinding{Node: ref, CacheID: nextCacheID}))
			pushed[nextCacheID]++
			nextCacheID++

		case 4, 5, 6: // dequeue
			slot := rng.Intn(q.Size())
			wasHeld := held[slot]
			task, taken, ok, err := q.Dequeue(slot, true)
			require.NoError(t, err)
			if wasHeld {
				require.False(t, ok, "dequeue must not succeed on a held slot")
			}
			if ok {
				held[taken] = true
				dequeued[task.Ref.CacheID]++
			}

		case 7, 8: // unlock
			for slot := range held {
				require.NoError(t, q.Unlock(euclid, slot))
				delete(held, slot)
				break
			}

		case 9:
			q.RequestSplit()
		}

		check()
	}
}
