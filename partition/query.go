package partition

import (
	"github.com/aukilabs/spatialtree/geom"
)

// Query returns the points inside r, nearest to the center of r first. The
// distance is the Chebyshev distance.
func (n *Node[P]) Query(r geom.Bounds[P]) []P {
	var c collector[P]
	n.queryRange(r, r.Center(), &c)
	return c.values()
}

func (n *Node[P]) queryRange(r geom.Bounds[P], center P, c *collector[P]) {
	if !n.bounds.Intersects(r) {
		return
	}

	if n.IsLeaf() {
		for _, p := range n.points.items {
			if r.Contains(p) {
				c.add(geom.Chebyshev(p, center), p)
			}
		}
		return
	}

	for _, child := range n.children {
		child.queryRange(r, center, c)
	}
}

// QueryRadius returns the points strictly closer than radius to center,
// nearest first. Nothing is returned when radius is not positive.
func (n *Node[P]) QueryRadius(center P, radius float64) []P {
	var c collector[P]
	if !(radius > 0) {
		return c.values()
	}
	n.queryRadius(center, radius, radius*radius, &c)
	return c.values()
}

func (n *Node[P]) queryRadius(center P, radius, radiusSq float64, c *collector[P]) {
	if !n.bounds.IntersectsSphere(center, radius) {
		return
	}

	if n.IsLeaf() {
		for _, p := range n.points.items {
			if d := geom.DistSq(p, center); d < radiusSq {
				c.add(d, p)
			}
		}
		return
	}

	for _, child := range n.children {
		child.queryRadius(center, radius, radiusSq, c)
	}
}

// Contains reports whether p was inserted into the tree.
func (n *Node[P]) Contains(p P) bool {
	if !n.bounds.Contains(p) {
		return false
	}
	if n.IsLeaf() {
		return n.points.contains(p)
	}
	for _, c := range n.children {
		if c.Contains(p) {
			return true
		}
	}
	return false
}
