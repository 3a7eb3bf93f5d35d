package partition

import (
	"math"
	"testing"

	"github.com/aukilabs/spatialtree/geom"
	"github.com/stretchr/testify/require"
)

func unitSquare() geom.Bounds[geom.Vec2] {
	return geom.NewBounds(geom.Vec2{0, 0}, geom.Vec2{1, 1})
}

func examplePoints() []geom.Vec2 {
	return []geom.Vec2{{0.1, 0.1}, {0.2, 0.2}, {0.8, 0.8}, {0.9, 0.1}}
}

func TestTreeCreation(t *testing.T) {
	tree := NewQuadtree(unitSquare(), 0)
	require.Equal(t, 1, tree.Capacity())
	require.Equal(t, 0, tree.Level())
	require.True(t, tree.IsLeaf())
	require.Equal(t, geom.Vec2{0.5, 0.5}, tree.Factors())
	require.Equal(t, 0, tree.CountPoints())
	require.Equal(t, 1, tree.CountLeaves())
	require.Equal(t, 0, tree.MaxLevel())
}

func TestTreeInsert(t *testing.T) {
	t.Run("Insert: example scenario", func(t *testing.T) {
		tree := NewQuadtree(unitSquare(), 2)

		require.True(t, tree.Insert(geom.Vec2{0.1, 0.1}))
		require.True(t, tree.Insert(geom.Vec2{0.2, 0.2}))
		require.True(t, tree.IsLeaf())

		require.True(t, tree.Insert(geom.Vec2{0.8, 0.8}))
		require.False(t, tree.IsLeaf())
		require.Len(t, tree.Children(), 4)
		require.Empty(t, tree.Points())

		require.True(t, tree.Insert(geom.Vec2{0.9, 0.1}))
		require.Equal(t, 4, tree.CountPoints())
		require.Equal(t, 4, tree.CountLeaves())
		require.Equal(t, 1, tree.MaxLevel())

		children := tree.Children()
		require.Equal(t, []geom.Vec2{{0.1, 0.1}, {0.2, 0.2}}, children[0].Points())
		require.Equal(t, []geom.Vec2{{0.9, 0.1}}, children[1].Points())
		require.Empty(t, children[2].Points())
		require.Equal(t, []geom.Vec2{{0.8, 0.8}}, children[3].Points())
		for _, c := range children {
			require.Equal(t, 1, c.Level())
			require.Equal(t, 2, c.Capacity())
		}
	})

	t.Run("Insert: out of bounds is rejected", func(t *testing.T) {
		tree := NewQuadtree(unitSquare(), 2)

		require.False(t, tree.Insert(geom.Vec2{1, 0.5}))
		require.False(t, tree.Insert(geom.Vec2{0.5, 1}))
		require.False(t, tree.Insert(geom.Vec2{-0.1, 0}))
		require.False(t, tree.Insert(geom.Vec2{math.NaN(), 0}))
		require.Equal(t, 0, tree.CountPoints())
		require.True(t, tree.IsLeaf())
	})

	t.Run("Insert: duplicates are stored once", func(t *testing.T) {
		tree := NewQuadtree(unitSquare(), 1)

		require.True(t, tree.Insert(geom.Vec2{0.3, 0.3}))
		require.True(t, tree.Insert(geom.Vec2{0.3, 0.3}))
		require.Equal(t, 1, tree.CountPoints())
		require.True(t, tree.IsLeaf())
	})

	t.Run("Insert: degenerate bounds accept nothing", func(t *testing.T) {
		tree := NewQuadtree(geom.NewBounds(geom.Vec2{0, 0}, geom.Vec2{1, 0}), 4)
		require.False(t, tree.Insert(geom.Vec2{0.5, 0}))
	})

	t.Run("Insert: points on a shared face go to one child", func(t *testing.T) {
		tree := NewQuadtree(unitSquare(), 1)
		tree.InsertAll(geom.Vec2{0.25, 0.25}, geom.Vec2{0.5, 0.5})

		var owners []int
		for i, c := range tree.Children() {
			if c.Contains(geom.Vec2{0.5, 0.5}) {
				owners = append(owners, i)
			}
		}
		require.Equal(t, []int{3}, owners)
	})

	t.Run("Insert: split stops at max depth", func(t *testing.T) {
		tree := NewQuadtree(unitSquare(), 1)
		next := math.Nextafter(0.5, 1)

		require.True(t, tree.Insert(geom.Vec2{0.5, 0.5}))
		require.True(t, tree.Insert(geom.Vec2{next, 0.5}))
		require.Equal(t, 2, tree.CountPoints())
		require.Equal(t, MaxDepth, tree.MaxLevel())
	})
}

func TestTreeInsertAll(t *testing.T) {
	tree := NewQuadtree(unitSquare(), 2)

	ok := tree.InsertAll(geom.Vec2{0.1, 0.1}, geom.Vec2{2, 2}, geom.Vec2{0.7, 0.7})
	require.False(t, ok)
	require.Equal(t, 2, tree.CountPoints(), "a rejected point does not stop the batch")

	require.True(t, tree.InsertAll(examplePoints()...))
	require.Equal(t, 5, tree.CountPoints())
}

func TestTreeSetCapacity(t *testing.T) {
	t.Run("SetCapacity: lowering below occupancy splits", func(t *testing.T) {
		tree := NewQuadtree(unitSquare(), 4)
		tree.InsertAll(examplePoints()...)
		require.True(t, tree.IsLeaf())

		require.True(t, tree.SetCapacity(2))
		require.False(t, tree.IsLeaf())
		require.Equal(t, 4, tree.CountPoints())
		for _, c := range tree.Children() {
			require.Equal(t, 2, c.Capacity())
		}
	})

	t.Run("SetCapacity: non positive values are ignored", func(t *testing.T) {
		tree := NewQuadtree(unitSquare(), 4)
		tree.InsertAll(examplePoints()...)

		require.False(t, tree.SetCapacity(0))
		require.False(t, tree.SetCapacity(-3))
		require.Equal(t, 4, tree.Capacity())
		require.True(t, tree.IsLeaf())
	})

	t.Run("SetCapacity: raising keeps the shape", func(t *testing.T) {
		tree := NewQuadtree(unitSquare(), 1)
		tree.InsertAll(examplePoints()...)
		leaves := tree.CountLeaves()

		require.True(t, tree.SetCapacity(10))
		require.Equal(t, leaves, tree.CountLeaves())
	})
}

func TestTreeSubdivide(t *testing.T) {
	t.Run("Subdivide: empty quadtree", func(t *testing.T) {
		tree := NewQuadtree(unitSquare(), 4)
		tree.Subdivide(2, 3)

		require.Equal(t, 16, tree.CountLeaves())
		require.Equal(t, 0, tree.CountPoints())
		require.Equal(t, 2, tree.MaxLevel())
		require.Equal(t, 16*3, tree.TotalCapacity())
	})

	t.Run("Subdivide: empty octree", func(t *testing.T) {
		tree := NewOctree(geom.NewBounds(geom.Vec3{0, 0, 0}, geom.Vec3{1, 1, 1}), 4)
		tree.Subdivide(2, 4)
		require.Equal(t, 64, tree.CountLeaves())
	})

	t.Run("Subdivide: no-op below one iteration", func(t *testing.T) {
		tree := NewQuadtree(unitSquare(), 4)
		tree.Subdivide(0, 4)
		tree.Subdivide(-1, 4)
		require.True(t, tree.IsLeaf())
	})

	t.Run("Subdivide: keeps points", func(t *testing.T) {
		tree := NewQuadtree(unitSquare(), 8)
		tree.InsertAll(examplePoints()...)
		tree.Subdivide(1, 8)

		require.Equal(t, 4, tree.CountLeaves())
		require.Equal(t, 4, tree.CountPoints())
		for _, p := range examplePoints() {
			require.True(t, tree.Contains(p))
		}
	})
}

func TestTreeCull(t *testing.T) {
	t.Run("Cull: empty root", func(t *testing.T) {
		tree := NewQuadtree(unitSquare(), 4)
		require.True(t, tree.Cull())
	})

	t.Run("Cull: removes empty subtrees", func(t *testing.T) {
		tree := NewQuadtree(unitSquare(), 4)
		tree.Subdivide(2, 4)
		tree.Insert(geom.Vec2{0.1, 0.1})

		require.False(t, tree.Cull())
		require.Equal(t, 1, tree.CountLeaves())
		require.Equal(t, 1, tree.CountPoints())
		require.Len(t, tree.Children(), 1)
		require.Equal(t, 2, tree.MaxLevel())
	})

	t.Run("Cull: idempotent", func(t *testing.T) {
		tree := NewQuadtree(unitSquare(), 1)
		tree.InsertAll(examplePoints()...)

		tree.Cull()
		shape := tree.String()
		tree.Cull()
		require.Equal(t, shape, tree.String())
	})

	t.Run("Cull: fully empty subtree turns back into a leaf", func(t *testing.T) {
		tree := NewQuadtree(unitSquare(), 4)
		tree.Subdivide(3, 4)

		require.True(t, tree.Cull())
		require.True(t, tree.IsLeaf())
		require.Equal(t, 1, tree.CountLeaves())
	})

	t.Run("Cull: insert into a culled region", func(t *testing.T) {
		tree := NewQuadtree(unitSquare(), 4)
		tree.Subdivide(2, 4)
		tree.Insert(geom.Vec2{0.1, 0.1})
		tree.Cull()

		require.True(t, tree.Insert(geom.Vec2{0.9, 0.9}))
		require.Equal(t, 2, tree.CountPoints())
		require.Len(t, tree.Children(), 4)
		require.True(t, tree.Contains(geom.Vec2{0.1, 0.1}))
		require.True(t, tree.Contains(geom.Vec2{0.9, 0.9}))
	})
}

func TestFromPoints(t *testing.T) {
	points := []geom.Vec3{{1, 2, 3}, {-1, 0, 5}, {4, 4, 4}, {0, 0, 0}, {2, 1, 1}}
	tree := FromPoints(points, 2)

	require.Equal(t, len(points), tree.CountPoints())
	for _, p := range points {
		require.True(t, tree.Contains(p))
	}
	require.Equal(t, geom.FromPoints(points), tree.Bounds())
}

func TestFromPointsLargeCoordinates(t *testing.T) {
	points := []geom.Vec2{{1e11, 1e11}, {2e11, 2e11}, {1.5e11, 1.2e11}}
	tree := FromPoints(points, 1)

	require.Equal(t, len(points), tree.CountPoints())
	for _, p := range points {
		require.True(t, tree.Contains(p))
	}
}

func TestNewWithFactors(t *testing.T) {
	tree := NewWithFactors(unitSquare(), 1, geom.Vec2{0.25, 0.25})
	tree.InsertAll(geom.Vec2{0.1, 0.1}, geom.Vec2{0.3, 0.3})

	children := tree.Children()
	require.Equal(t, geom.Vec2{0.25, 0.25}, children[0].Bounds().Max)
	require.Equal(t, []geom.Vec2{{0.1, 0.1}}, children[0].Points())
	require.Equal(t, []geom.Vec2{{0.3, 0.3}}, children[3].Points())
	require.Equal(t, geom.Vec2{0.25, 0.25}, children[3].Factors())
}
