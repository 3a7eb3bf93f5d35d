package partition

import (
	"github.com/aukilabs/spatialtree/geom"
)

// Adaptive Spatial Partition Tree
//
// A node covers a box of space. It is either a leaf holding a set of points
// or an internal node holding the 2^D children produced by splitting its box
// (4 for a quadtree, 8 for an octree). The particularities are:
//   - a leaf splits as soon as it holds more points than its capacity, so the
//     depth follows the local density of points; there is no balancing.
//   - boxes are half-open: a point on the upper face of a box belongs to the
//     neighbouring box.
//   - points cannot be removed. Cull only drops empty subtrees.
//
// Nodes are not safe for concurrent use.

const (
	// DefaultCapacity is the leaf capacity used when none is given.
	DefaultCapacity = 16

	// MaxDepth is the deepest level a split can create. Leaves at this level
	// keep growing past their capacity instead of splitting.
	MaxDepth = 32
)

type Node[P geom.Point[P]] struct {
	bounds   geom.Bounds[P]
	factors  P
	capacity int
	level    int
	children []*Node[P]
	points   pointSet[P]
}

// Quadtree is the two-dimensional tree.
type Quadtree = Node[geom.Vec2]

// Octree is the three-dimensional tree.
type Octree = Node[geom.Vec3]

// New returns an empty root node over bounds that splits its box at the
// midpoint of every axis. Capacities lower than 1 are raised to 1.
func New[P geom.Point[P]](bounds geom.Bounds[P], capacity int) *Node[P] {
	return NewWithFactors(bounds, capacity, geom.Fill[P](0.5))
}

// NewWithFactors returns an empty root node whose splits cut each axis at
// the given fraction of its extent. Children inherit the factors.
func NewWithFactors[P geom.Point[P]](bounds geom.Bounds[P], capacity int, factors P) *Node[P] {
	return newNode(bounds, capacity, 0, factors)
}

func NewQuadtree(bounds geom.Bounds[geom.Vec2], capacity int) *Quadtree {
	return New(bounds, capacity)
}

func NewOctree(bounds geom.Bounds[geom.Vec3], capacity int) *Octree {
	return New(bounds, capacity)
}

// FromPoints builds a tree whose bounds tightly enclose points and inserts
// all of them.
func FromPoints[P geom.Point[P]](points []P, capacity int) *Node[P] {
	n := New(geom.FromPoints(points), capacity)
	n.InsertAll(points...)
	return n
}

func newNode[P geom.Point[P]](bounds geom.Bounds[P], capacity, level int, factors P) *Node[P] {
	if capacity < 1 {
		capacity = 1
	}
	return &Node[P]{
		bounds:   bounds,
		factors:  factors,
		capacity: capacity,
		level:    level,
	}
}

func (n *Node[P]) Bounds() geom.Bounds[P] {
	return n.bounds
}

func (n *Node[P]) Capacity() int {
	return n.capacity
}

func (n *Node[P]) Level() int {
	return n.level
}

func (n *Node[P]) Factors() P {
	return n.factors
}

// IsLeaf reports whether the node has no children.
func (n *Node[P]) IsLeaf() bool {
	return len(n.children) == 0
}

// Children returns a copy of the child list.
func (n *Node[P]) Children() []*Node[P] {
	children := make([]*Node[P], len(n.children))
	copy(children, n.children)
	return children
}

// Points returns a copy of the points held directly by the node, in
// lexicographic order. Internal nodes hold no points.
func (n *Node[P]) Points() []P {
	return n.points.values()
}

// SetCapacity changes the capacity of the node. A leaf holding more points
// than the new capacity splits immediately, giving its children the new
// capacity. Capacities lower than 1 are ignored and false is returned.
func (n *Node[P]) SetCapacity(capacity int) bool {
	if capacity < 1 {
		return false
	}

	n.capacity = capacity
	if n.IsLeaf() && n.points.len() > capacity {
		n.split(capacity)
	}
	return true
}

// Insert adds p to the tree. It returns false, leaving the tree untouched,
// when p lies outside the node bounds.
func (n *Node[P]) Insert(p P) bool {
	if !n.bounds.Contains(p) {
		return false
	}

	if n.IsLeaf() {
		n.points.add(p)
		if n.points.len() > n.capacity {
			n.split(n.capacity)
		}
		return true
	}

	if n.insertIntoChildren(p) {
		return true
	}

	// The child covering p was culled: rebuild the children and retry.
	n.split(n.capacity)
	return n.insertIntoChildren(p)
}

// InsertAll inserts every point and reports whether all of them were inside
// the tree bounds. A rejected point does not stop the remaining insertions.
func (n *Node[P]) InsertAll(points ...P) bool {
	inserted := true
	for _, p := range points {
		if !n.Insert(p) {
			inserted = false
		}
	}
	return inserted
}

func (n *Node[P]) insertIntoChildren(p P) bool {
	for _, c := range n.children {
		if c.Insert(p) {
			return true
		}
	}
	return false
}

// split replaces the children of the node with a fresh set of 2^D children
// and moves every point stored under the node into them.
func (n *Node[P]) split(childCapacity int) {
	if n.level >= MaxDepth {
		return
	}

	pending := n.collect(nil)
	n.points.clear()

	regions := n.bounds.Split(n.factors)
	n.children = make([]*Node[P], len(regions))
	for i, r := range regions {
		n.children[i] = newNode(r, childCapacity, n.level+1, n.factors)
	}

	n.redistribute(pending)
}

// redistribute inserts points into the children. Neighbouring points tend
// to land in the same child, so the search starts with the child that
// accepted the previous point.
func (n *Node[P]) redistribute(points []P) {
	fanout := len(n.children)
	last := 0

	for _, p := range points {
		if n.children[last].Insert(p) {
			continue
		}

		for k := 1; k < fanout; k++ {
			i := (last + k) % fanout
			if n.children[i].Insert(p) {
				last = i
				break
			}
		}
	}
}

// collect appends every point stored under the node to dst.
func (n *Node[P]) collect(dst []P) []P {
	if n.IsLeaf() {
		return append(dst, n.points.items...)
	}
	for _, c := range n.children {
		dst = c.collect(dst)
	}
	return dst
}

// Subdivide splits every leaf under the node, iterations levels deep,
// whatever the number of points they hold. An empty quadtree subdivided
// twice has 16 leaves.
func (n *Node[P]) Subdivide(iterations, childCapacity int) {
	if iterations < 1 {
		return
	}

	if n.IsLeaf() {
		n.split(childCapacity)
	}
	for _, c := range n.children {
		c.Subdivide(iterations-1, childCapacity)
	}
}

// Cull removes the empty subtrees under the node and reports whether the
// node itself is now empty. It is meant to run once a batch of insertions
// is done.
func (n *Node[P]) Cull() bool {
	if !n.IsLeaf() {
		kept := n.children[:0]
		for _, c := range n.children {
			if !c.Cull() {
				kept = append(kept, c)
			}
		}
		for i := len(kept); i < len(n.children); i++ {
			n.children[i] = nil
		}

		n.children = kept
		if len(n.children) == 0 {
			n.children = nil
		}
	}
	return n.IsLeaf() && n.points.len() == 0
}
