package partition

import (
	"github.com/aukilabs/spatialtree/geom"
)

type SpatialPartition[P geom.Point[P]] interface {
	Insert(p P) bool
	InsertAll(points ...P) bool
	Query(r geom.Bounds[P]) []P
	QueryRadius(center P, radius float64) []P
	Subdivide(iterations, childCapacity int)
	Cull() bool

	// debug stuff:
	DebugInfo() DebugInfo
}

var (
	_ SpatialPartition[geom.Vec2] = (*Quadtree)(nil)
	_ SpatialPartition[geom.Vec3] = (*Octree)(nil)
)
