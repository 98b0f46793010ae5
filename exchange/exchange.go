package exchange

import (
	"context"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"go.opencensus.io/stats"
	"golang.org/x/xerrors"

	"github.com/dualtree-project/dualtree/metrics"
	"github.com/dualtree-project/dualtree/tree"
)

var log = logging.Logger("dualtree-exchange")

// Cache is the reference side of the table exchange as seen by the task
// queue: the only thing the queue ever does against it is add references.
// Releasing is the task consumer's job.
type Cache interface {
	LockCache(cacheID int, count int)
}

// TableExchange holds reference subtrees imported from peer processes, one
// reference-counted slot per import. A slot stays resident while any task
// in the queue, or any dequeued-but-unfinished task, still refers to it;
// it is evicted when its reference count drops to zero.
type TableExchange struct {
	lk     sync.Mutex
	slots  map[int]*cacheSlot
	nextID int
}

type cacheSlot struct {
	table tree.Table
	node  tree.Node
	refs  int
}

func NewTableExchange() *TableExchange {
	return &TableExchange{slots: make(map[int]*cacheSlot)}
}

// Import registers a reference subtree and returns its cache id. The slot
// starts with refs references, one per task the caller is about to create
// against it.
func (x *TableExchange) Import(table tree.Table, node tree.Node, refs int) (int, error) {
	if node == nil {
		return 0, xerrors.New("import: nil reference node")
	}
	if refs < 1 {
		return 0, xerrors.Errorf("import: initial reference count %d out of range", refs)
	}

	x.lk.Lock()
	defer x.lk.Unlock()

	id := x.nextID
	x.nextID++
	x.slots[id] = &cacheSlot{table: table, node: node, refs: refs}

	stats.Record(context.TODO(), metrics.CacheSlots.M(int64(len(x.slots))))
	stats.Record(context.TODO(), metrics.CacheRefsAdded.M(int64(refs)))
	return id, nil
}

// LockCache adds count references to the given slot.
func (x *TableExchange) LockCache(cacheID, count int) {
	x.lk.Lock()
	defer x.lk.Unlock()

	s, ok := x.slots[cacheID]
	if !ok {
		log.Warnw("lock on unknown cache slot", "cacheID", cacheID, "count", count)
		return
	}
	s.refs += count
	stats.Record(context.TODO(), metrics.CacheRefsAdded.M(int64(count)))
}

// ReleaseCache drops count references from the given slot, evicting it when
// none remain.
func (x *TableExchange) ReleaseCache(cacheID, count int) error {
	x.lk.Lock()
	defer x.lk.Unlock()

	s, ok := x.slots[cacheID]
	if !ok {
		return xerrors.Errorf("release on unknown cache slot %d", cacheID)
	}
	if count > s.refs {
		return xerrors.Errorf("releasing %d references from cache slot %d holding %d", count, cacheID, s.refs)
	}
	s.refs -= count
	if s.refs == 0 {
		delete(x.slots, cacheID)
		log.Debugw("evicted cache slot", "cacheID", cacheID)
	}
	stats.Record(context.TODO(), metrics.CacheSlots.M(int64(len(x.slots))))
	return nil
}

// Slot returns the table and node held in the given slot.
func (x *TableExchange) Slot(cacheID int) (tree.Table, tree.Node, error) {
	x.lk.Lock()
	defer x.lk.Unlock()

	s, ok := x.slots[cacheID]
	if !ok {
		return nil, nil, xerrors.Errorf("unknown cache slot %d", cacheID)
	}
	return s.table, s.node, nil
}

// RefCount returns the reference count of the given slot, or zero if the
// slot is not resident.
func (x *TableExchange) RefCount(cacheID int) int {
	x.lk.Lock()
	defer x.lk.Unlock()

	s, ok := x.slots[cacheID]
	if !ok {
		return 0
	}
	return s.refs
}

// Len returns the number of resident slots.
func (x *TableExchange) Len() int {
	x.lk.Lock()
	defer x.lk.Unlock()
	return len(x.slots)
}
