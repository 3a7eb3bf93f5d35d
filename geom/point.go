package geom

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/exp/constraints"
)

// Epsilon is the margin added around bounds computed from points so that
// points lying on the upper faces are still contained.
const Epsilon = 0.000001

// Point is the constraint satisfied by the fixed-size coordinate tuples the
// partition tree is built on. P is the implementing type itself.
type Point[P any] interface {
	comparable

	// Returns the number of axes.
	Dims() int

	// Returns the coordinate on axis i.
	Axis(i int) float64

	// Returns a copy of the point with the coordinate on axis i set to v.
	WithAxis(i int, v float64) P
}

// Vec2 is a point in the plane.
type Vec2 [2]float64

func NewVec2(x, y float64) Vec2 {
	return Vec2{x, y}
}

func (v Vec2) Dims() int          { return 2 }
func (v Vec2) Axis(i int) float64 { return v[i] }
func (v Vec2) X() float64         { return v[0] }
func (v Vec2) Y() float64         { return v[1] }
func (v Vec2) String() string     { return Format(v) }
func (v Vec2) WithAxis(i int, f float64) Vec2 {
	v[i] = f
	return v
}

// Vec3 is a point in space.
type Vec3 [3]float64

func NewVec3(x, y, z float64) Vec3 {
	return Vec3{x, y, z}
}

func (v Vec3) Dims() int          { return 3 }
func (v Vec3) Axis(i int) float64 { return v[i] }
func (v Vec3) X() float64         { return v[0] }
func (v Vec3) Y() float64         { return v[1] }
func (v Vec3) Z() float64         { return v[2] }
func (v Vec3) String() string     { return Format(v) }
func (v Vec3) WithAxis(i int, f float64) Vec3 {
	v[i] = f
	return v
}

// Dims returns the number of axes of P.
func Dims[P Point[P]]() int {
	var zero P
	return zero.Dims()
}

// Fill returns a point with every coordinate set to v.
func Fill[P Point[P]](v float64) P {
	var p P
	for i := 0; i < p.Dims(); i++ {
		p = p.WithAxis(i, v)
	}
	return p
}

// FromSlice converts coordinates into a point. It returns false when the
// number of coordinates does not match the dimension of P.
func FromSlice[P Point[P]](coords []float64) (P, bool) {
	var p P
	if len(coords) != p.Dims() {
		return p, false
	}
	for i, c := range coords {
		p = p.WithAxis(i, c)
	}
	return p, true
}

// ToSlice returns the coordinates of p.
func ToSlice[P Point[P]](p P) []float64 {
	coords := make([]float64, p.Dims())
	for i := range coords {
		coords[i] = p.Axis(i)
	}
	return coords
}

// Compare orders points lexicographically, axis 0 first.
func Compare[P Point[P]](a, b P) int {
	for i := 0; i < a.Dims(); i++ {
		switch x, y := a.Axis(i), b.Axis(i); {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}
	return 0
}

// DistSq returns the squared euclidean distance between a and b.
func DistSq[P Point[P]](a, b P) float64 {
	var d float64
	for i := 0; i < a.Dims(); i++ {
		diff := a.Axis(i) - b.Axis(i)
		d += diff * diff
	}
	return d
}

// Chebyshev returns the largest per-axis distance between a and b.
func Chebyshev[P Point[P]](a, b P) float64 {
	var d float64
	for i := 0; i < a.Dims(); i++ {
		d = max(d, math.Abs(a.Axis(i)-b.Axis(i)))
	}
	return d
}

// Mean returns the centroid of points. The zero point is returned when
// points is empty.
func Mean[P Point[P]](points []P) P {
	var sum P
	if len(points) == 0 {
		return sum
	}
	for _, p := range points {
		for i := 0; i < p.Dims(); i++ {
			sum = sum.WithAxis(i, sum.Axis(i)+p.Axis(i))
		}
	}
	n := float64(len(points))
	for i := 0; i < sum.Dims(); i++ {
		sum = sum.WithAxis(i, sum.Axis(i)/n)
	}
	return sum
}

// Format returns a "(x, y, ...)" representation of p.
func Format[P Point[P]](p P) string {
	var b strings.Builder
	b.WriteByte('(')
	for i := 0; i < p.Dims(); i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.FormatFloat(p.Axis(i), 'f', -1, 64))
	}
	b.WriteByte(')')
	return b.String()
}

func EqualWithEpsilon(a, b, epsilon float64) bool {
	return math.Abs(a-b) <= epsilon
}

// ApproxEqual reports whether every coordinate of a and b is within epsilon.
func ApproxEqual[P Point[P]](a, b P, epsilon float64) bool {
	for i := 0; i < a.Dims(); i++ {
		if !EqualWithEpsilon(a.Axis(i), b.Axis(i), epsilon) {
			return false
		}
	}
	return true
}

func clamp[T constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
