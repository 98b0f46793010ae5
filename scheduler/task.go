package scheduler

import (
	"github.com/google/uuid"

	"github.com/dualtree-project/dualtree/tree"
)

// ReferenceBinding identifies a reference subtree resident in the exchange
// cache: the table it came from, the subtree root, and the cache slot to
// charge references against.
type ReferenceBinding struct {
	Table   tree.Table
	Node    tree.Node
	CacheID int
}

// Task pairs a query subtree with a reference binding. Tasks are immutable
// once pushed; higher priority (less negative) means a closer pair.
type Task struct {
	Query    tree.Node
	Ref      ReferenceBinding
	Priority float64

	SchedID uuid.UUID

	seq   uint64 // push order, breaks priority ties FIFO
	index int    // heap index
}
