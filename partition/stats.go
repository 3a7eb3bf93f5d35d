package partition

import (
	"github.com/aukilabs/spatialtree/geom"
)

// DebugInfo summarizes the shape of a tree.
type DebugInfo struct {
	Dims          int `json:"dims"`
	PointCount    int `json:"point_count"`
	LeafCount     int `json:"leaf_count"`
	MaxLevel      int `json:"max_level"`
	TotalCapacity int `json:"total_capacity"`

	// The number of points held by each leaf, in depth-first order.
	Occupancy []int `json:"occupancy"`
}

func (n *Node[P]) CountPoints() int {
	if n.IsLeaf() {
		return n.points.len()
	}

	var count int
	for _, c := range n.children {
		count += c.CountPoints()
	}
	return count
}

// CountLeaves returns the number of nodes without children. A root that
// never split counts as one leaf.
func (n *Node[P]) CountLeaves() int {
	if n.IsLeaf() {
		return 1
	}

	var count int
	for _, c := range n.children {
		count += c.CountLeaves()
	}
	return count
}

// MaxLevel returns the deepest level reached under the node, the node
// included.
func (n *Node[P]) MaxLevel() int {
	level := n.level
	for _, c := range n.children {
		level = max(level, c.MaxLevel())
	}
	return level
}

// TotalCapacity returns the sum of the capacities of the leaves.
func (n *Node[P]) TotalCapacity() int {
	if n.IsLeaf() {
		return n.capacity
	}

	var total int
	for _, c := range n.children {
		total += c.TotalCapacity()
	}
	return total
}

// CentersMean returns one representative point per leaf: the centroid of
// its points, or its single point. Empty leaves contribute the center of
// their bounds only when includeEmpty is set.
func (n *Node[P]) CentersMean(includeEmpty bool) []P {
	var centers []P
	n.eachLeaf(func(leaf *Node[P]) {
		switch leaf.points.len() {
		case 0:
			if includeEmpty {
				centers = append(centers, leaf.bounds.Center())
			}
		case 1:
			centers = append(centers, leaf.points.items[0])
		default:
			centers = append(centers, geom.Mean(leaf.points.items))
		}
	})
	return centers
}

func (n *Node[P]) DebugInfo() DebugInfo {
	info := DebugInfo{
		Dims:     geom.Dims[P](),
		MaxLevel: n.MaxLevel(),
	}

	n.eachLeaf(func(leaf *Node[P]) {
		count := leaf.points.len()
		info.PointCount += count
		info.LeafCount++
		info.TotalCapacity += leaf.capacity
		info.Occupancy = append(info.Occupancy, count)
	})
	return info
}

// Walk calls fn for the node and its descendants, depth first. Children of
// a node are skipped when fn returns false for it.
func (n *Node[P]) Walk(fn func(*Node[P]) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.children {
		c.Walk(fn)
	}
}

func (n *Node[P]) eachLeaf(fn func(*Node[P])) {
	n.Walk(func(node *Node[P]) bool {
		if node.IsLeaf() {
			fn(node)
		}
		return true
	})
}
