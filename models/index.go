package models

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/spatialtree/geom"
	"github.com/aukilabs/spatialtree/partition"
)

type index interface {
	insert(points [][]float64) (InsertResult, error)
	queryRange(min, max []float64) ([][]float64, error)
	queryRadius(center []float64, radius float64) ([][]float64, error)
	cull() bool
	subdivide(iterations, childCapacity int)
	setCapacity(capacity int) bool
	centers(includeEmpty bool) [][]float64
	stats() Stats
	debugInfo() partition.DebugInfo
	dump() ([]byte, error)
	snapshot() ([]byte, error)
}

type typedIndex[P geom.Point[P]] struct {
	root *partition.Node[P]
}

func newTypedIndex[P geom.Point[P]](opts TreeOptions) (*typedIndex[P], error) {
	points, err := parsePoints[P](opts.Points)
	if err != nil {
		return nil, err
	}

	factors := geom.Fill[P](0.5)
	if len(opts.Factors) != 0 {
		if factors, err = parsePoint[P](opts.Factors); err != nil {
			return nil, errors.New("invalid split factors").
				WithType(ErrTypeInvalidPoint).
				Wrap(err)
		}
	}

	var bounds geom.Bounds[P]
	if len(opts.Min) == 0 && len(opts.Max) == 0 {
		if len(points) == 0 {
			return nil, errors.New("bounds or points are required").
				WithType(ErrTypeInvalidBounds)
		}
		bounds = geom.FromPoints(points)
	} else {
		if bounds, err = parseBounds[P](opts.Min, opts.Max); err != nil {
			return nil, err
		}
	}

	if bounds.IsEmpty() {
		// Every insertion into a zero-sized region fails.
		logs.WithTag("bounds", bounds.String()).
			WithTag("size", geom.Format(bounds.Size())).
			Warn("tree bounds are degenerate")
	}

	root := partition.NewWithFactors(bounds, opts.Capacity, factors)
	root.InsertAll(points...)
	return &typedIndex[P]{root: root}, nil
}

func loadTypedIndex[P geom.Point[P]](snapshot []byte) (*typedIndex[P], error) {
	var root partition.Node[P]
	if err := root.UnmarshalBinary(snapshot); err != nil {
		return nil, err
	}
	return &typedIndex[P]{root: &root}, nil
}

func (idx *typedIndex[P]) insert(coords [][]float64) (InsertResult, error) {
	points, err := parsePoints[P](coords)
	if err != nil {
		return InsertResult{}, err
	}

	res := InsertResult{AllInside: true}
	for _, p := range points {
		if idx.root.Insert(p) {
			res.Inserted++
		} else {
			res.AllInside = false
		}
	}
	return res, nil
}

func (idx *typedIndex[P]) queryRange(min, max []float64) ([][]float64, error) {
	bounds, err := parseBounds[P](min, max)
	if err != nil {
		return nil, err
	}
	return toSlices(idx.root.Query(bounds)), nil
}

func (idx *typedIndex[P]) queryRadius(center []float64, radius float64) ([][]float64, error) {
	c, err := parsePoint[P](center)
	if err != nil {
		return nil, err
	}
	return toSlices(idx.root.QueryRadius(c, radius)), nil
}

func (idx *typedIndex[P]) cull() bool {
	return idx.root.Cull()
}

func (idx *typedIndex[P]) subdivide(iterations, childCapacity int) {
	idx.root.Subdivide(iterations, childCapacity)
}

func (idx *typedIndex[P]) setCapacity(capacity int) bool {
	return idx.root.SetCapacity(capacity)
}

func (idx *typedIndex[P]) centers(includeEmpty bool) [][]float64 {
	return toSlices(idx.root.CentersMean(includeEmpty))
}

func (idx *typedIndex[P]) stats() Stats {
	bounds := idx.root.Bounds()
	info := idx.root.DebugInfo()

	return Stats{
		Min:           geom.ToSlice(bounds.Min),
		Max:           geom.ToSlice(bounds.Max),
		Capacity:      idx.root.Capacity(),
		Points:        info.PointCount,
		Leaves:        info.LeafCount,
		MaxLevel:      info.MaxLevel,
		TotalCapacity: info.TotalCapacity,
	}
}

func (idx *typedIndex[P]) debugInfo() partition.DebugInfo {
	return idx.root.DebugInfo()
}

func (idx *typedIndex[P]) dump() ([]byte, error) {
	return idx.root.MarshalJSON()
}

func (idx *typedIndex[P]) snapshot() ([]byte, error) {
	return idx.root.MarshalBinary()
}

func parsePoint[P geom.Point[P]](coords []float64) (P, error) {
	p, ok := geom.FromSlice[P](coords)
	if !ok {
		return p, errors.New("point has the wrong number of coordinates").
			WithType(ErrTypeInvalidPoint).
			WithTag("coordinates", len(coords)).
			WithTag("dims", geom.Dims[P]())
	}
	return p, nil
}

func parsePoints[P geom.Point[P]](coords [][]float64) ([]P, error) {
	points := make([]P, len(coords))
	for i, c := range coords {
		p, err := parsePoint[P](c)
		if err != nil {
			return nil, errors.New("invalid point").
				WithType(ErrTypeInvalidPoint).
				WithTag("index", i).
				Wrap(err)
		}
		points[i] = p
	}
	return points, nil
}

func parseBounds[P geom.Point[P]](min, max []float64) (geom.Bounds[P], error) {
	lo, err := parsePoint[P](min)
	if err != nil {
		return geom.Bounds[P]{}, errors.New("invalid bounds min").
			WithType(ErrTypeInvalidBounds).
			Wrap(err)
	}

	hi, err := parsePoint[P](max)
	if err != nil {
		return geom.Bounds[P]{}, errors.New("invalid bounds max").
			WithType(ErrTypeInvalidBounds).
			Wrap(err)
	}
	return geom.NewBounds(lo, hi), nil
}

func toSlices[P geom.Point[P]](points []P) [][]float64 {
	coords := make([][]float64, len(points))
	for i, p := range points {
		coords[i] = geom.ToSlice(p)
	}
	return coords
}
