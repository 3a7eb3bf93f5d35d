package geom

import (
	"math"
)

// Bounds is an axis-aligned box. Containment is inclusive on Min and
// exclusive on Max so that adjacent boxes never share a point.
type Bounds[P Point[P]] struct {
	Min P `json:"min"`
	Max P `json:"max"`
}

func NewBounds[P Point[P]](min, max P) Bounds[P] {
	return Bounds[P]{Min: min, Max: max}
}

// FromPoints returns the smallest box enclosing points, padded by Epsilon
// on every side, or by one ulp where Epsilon is lost to rounding. The zero
// box is returned when points is empty.
func FromPoints[P Point[P]](points []P) Bounds[P] {
	if len(points) == 0 {
		return Bounds[P]{}
	}

	lo, hi := points[0], points[0]
	for _, p := range points[1:] {
		for i := 0; i < p.Dims(); i++ {
			lo = lo.WithAxis(i, math.Min(lo.Axis(i), p.Axis(i)))
			hi = hi.WithAxis(i, math.Max(hi.Axis(i), p.Axis(i)))
		}
	}

	for i := 0; i < lo.Dims(); i++ {
		l, h := lo.Axis(i), hi.Axis(i)
		lo = lo.WithAxis(i, math.Min(l-Epsilon, math.Nextafter(l, math.Inf(-1))))
		hi = hi.WithAxis(i, math.Max(h+Epsilon, math.Nextafter(h, math.Inf(1))))
	}
	return Bounds[P]{Min: lo, Max: hi}
}

// Contains reports whether min <= p < max on every axis.
func (b Bounds[P]) Contains(p P) bool {
	for i := 0; i < p.Dims(); i++ {
		v := p.Axis(i)
		if !(v >= b.Min.Axis(i) && v < b.Max.Axis(i)) {
			return false
		}
	}
	return true
}

func (b Bounds[P]) Center() P {
	c := b.Min
	for i := 0; i < c.Dims(); i++ {
		c = c.WithAxis(i, (b.Min.Axis(i)+b.Max.Axis(i))*0.5)
	}
	return c
}

func (b Bounds[P]) Size() P {
	s := b.Min
	for i := 0; i < s.Dims(); i++ {
		s = s.WithAxis(i, b.Max.Axis(i)-b.Min.Axis(i))
	}
	return s
}

// IsEmpty reports whether the box has no extent on at least one axis.
func (b Bounds[P]) IsEmpty() bool {
	for i := 0; i < b.Min.Dims(); i++ {
		if !(b.Min.Axis(i) < b.Max.Axis(i)) {
			return true
		}
	}
	return false
}

// Split partitions the box into 2^D boxes. factors holds, per axis, where
// the cut is placed between Min (0) and Max (1); it is clamped to
// [Epsilon, 1-Epsilon] and NaN means the midpoint.
//
// Box i takes the upper part of axis k when bit k of i is set, so for a
// quadtree the order is (low x, low y), (high x, low y), (low x, high y),
// (high x, high y).
func (b Bounds[P]) Split(factors P) []Bounds[P] {
	dims := b.Min.Dims()

	cut := b.Min
	for k := 0; k < dims; k++ {
		t := factors.Axis(k)
		if math.IsNaN(t) {
			t = 0.5
		}
		t = clamp(t, Epsilon, 1-Epsilon)
		lo, hi := b.Min.Axis(k), b.Max.Axis(k)
		cut = cut.WithAxis(k, lo+(hi-lo)*t)
	}

	children := make([]Bounds[P], 1<<dims)
	for i := range children {
		lo, hi := b.Min, b.Max
		for k := 0; k < dims; k++ {
			if i&(1<<k) != 0 {
				lo = lo.WithAxis(k, cut.Axis(k))
			} else {
				hi = hi.WithAxis(k, cut.Axis(k))
			}
		}
		children[i] = Bounds[P]{Min: lo, Max: hi}
	}
	return children
}

// Intersects reports whether b and o share any point under the half-open
// containment rule.
func (b Bounds[P]) Intersects(o Bounds[P]) bool {
	for i := 0; i < b.Min.Dims(); i++ {
		if !(b.Min.Axis(i) < o.Max.Axis(i) && o.Min.Axis(i) < b.Max.Axis(i)) {
			return false
		}
	}
	return true
}

// IntersectsSphere reports whether the sphere (or circle) of the given
// radius around center overlaps the box.
func (b Bounds[P]) IntersectsSphere(center P, radius float64) bool {
	var d float64
	for i := 0; i < center.Dims(); i++ {
		v := center.Axis(i)
		if lo := b.Min.Axis(i); v < lo {
			d += (lo - v) * (lo - v)
		} else if hi := b.Max.Axis(i); v > hi {
			d += (v - hi) * (v - hi)
		}
	}
	return d < radius*radius
}

func (b Bounds[P]) String() string {
	return "[" + Format(b.Min) + ", " + Format(b.Max) + ")"
}
