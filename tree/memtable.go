package tree

import (
	"sort"

	"golang.org/x/xerrors"
)

// MemTable is an in-memory table of points indexed by a kd-style binary
// tree. Construction reorders the point slice so every node owns a
// contiguous [begin, begin+count) range; nodes are split at the median of
// their widest dimension.
type MemTable struct {
	points [][]float64
	root   *memNode
}

type memNode struct {
	begin int
	count int
	bound *HRect

	left  *memNode
	right *memNode
}

var _ Node = (*memNode)(nil)

func (n *memNode) IsLeaf() bool { return n.left == nil }

func (n *memNode) Left() Node {
	if n.left == nil {
		return nil
	}
	return n.left
}

func (n *memNode) Right() Node {
	if n.right == nil {
		return nil
	}
	return n.right
}

func (n *memNode) Begin() int    { return n.begin }
func (n *memNode) Count() int    { return n.count }
func (n *memNode) Bound() *HRect { return n.bound }

// BuildMemTable indexes the given points, copying the outer slice. Leaves
// hold at most leafSize points.
func BuildMemTable(points [][]float64, leafSize int) (*MemTable, error) {
	if len(points) == 0 {
		return nil, xerrors.New("cannot build a table over an empty point set")
	}
	if leafSize < 1 {
		return nil, xerrors.Errorf("leaf size %d out of range", leafSize)
	}
	dim := len(points[0])
	for i, pt := range points {
		if len(pt) != dim {
			return nil, xerrors.Errorf("point %d has dimension %d, want %d", i, len(pt), dim)
		}
	}

	t := &MemTable{points: make([][]float64, len(points))}
	copy(t.points, points)
	t.root = t.build(0, len(t.points), leafSize)
	return t, nil
}

func (t *MemTable) build(begin, count, leafSize int) *memNode {
	bound := NewHRect(len(t.points[begin]))
	for _, pt := range t.points[begin : begin+count] {
		bound.Extend(pt)
	}
	n := &memNode{begin: begin, count: count, bound: bound}
	if count <= leafSize {
		return n
	}

	// split the widest dimension at the median
	split := 0
	width := bound.Max[0] - bound.Min[0]
	for d := 1; d < bound.Dim(); d++ {
		if w := bound.Max[d] - bound.Min[d]; w > width {
			split, width = d, w
		}
	}
	part := t.points[begin : begin+count]
	sort.Slice(part, func(i, j int) bool {
		return part[i][split] < part[j][split]
	})

	half := count / 2
	n.left = t.build(begin, half, leafSize)
	n.right = t.build(begin+half, count-half, leafSize)
	return n
}

func (t *MemTable) Root() Node          { return t.root }
func (t *MemTable) Points() [][]float64 { return t.points }

func (t *MemTable) FrontierNodes(maxSize int) []Node {
	var out []Node
	var walk func(n *memNode)
	walk = func(n *memNode) {
		if n.count <= maxSize || n.IsLeaf() {
			out = append(out, n)
			return
		}
		walk(n.left)
		walk(n.right)
	}
	walk(t.root)
	return out
}
