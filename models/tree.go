package models

import (
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/spatialtree/geom"
	"github.com/aukilabs/spatialtree/partition"
)

const (
	ErrTypeTreeNotFound     = "tree_not_found"
	ErrTypeInvalidDimension = "invalid_dimension"
	ErrTypeInvalidPoint     = "invalid_point"
	ErrTypeInvalidBounds    = "invalid_bounds"
	ErrTypeStorage          = "storage"
)

// TreeOptions describes how a tree is created.
type TreeOptions struct {
	// The number of axes: 2 for a quadtree, 3 for an octree.
	Dims int

	// The root bounds. When both are empty, the bounds are computed from
	// Points.
	Min []float64
	Max []float64

	// Points inserted right after creation.
	Points [][]float64

	// The leaf capacity.
	Capacity int

	// Where splits cut each axis, between 0 and 1. Defaults to 0.5.
	Factors []float64
}

// Stats is a summary of a tree.
type Stats struct {
	ID            string    `json:"id"`
	Dims          int       `json:"dims"`
	Min           []float64 `json:"min"`
	Max           []float64 `json:"max"`
	Capacity      int       `json:"capacity"`
	Points        int       `json:"points"`
	Leaves        int       `json:"leaves"`
	MaxLevel      int       `json:"max_level"`
	TotalCapacity int       `json:"total_capacity"`
	CreatedAt     time.Time `json:"created_at"`
}

// InsertResult is the outcome of a batch insertion.
type InsertResult struct {
	Inserted  int  `json:"inserted"`
	AllInside bool `json:"all_inside"`
}

// Tree wraps a quadtree or an octree behind coordinates given as float
// slices. Writes are serialized and reads share a lock, which the
// underlying tree does not do by itself.
type Tree struct {
	ID        string
	Dims      int
	CreatedAt time.Time

	mutex sync.RWMutex
	index index
}

// NewTree creates a tree from the given options.
func NewTree(id string, opts TreeOptions) (*Tree, error) {
	var idx index
	var err error

	switch opts.Dims {
	case 2:
		idx, err = newTypedIndex[geom.Vec2](opts)
	case 3:
		idx, err = newTypedIndex[geom.Vec3](opts)
	default:
		err = errors.New("unsupported dimension").
			WithType(ErrTypeInvalidDimension).
			WithTag("dims", opts.Dims)
	}
	if err != nil {
		return nil, err
	}

	return &Tree{
		ID:        id,
		Dims:      opts.Dims,
		CreatedAt: time.Now(),
		index:     idx,
	}, nil
}

// LoadTree restores a tree from a snapshot produced by Tree.Snapshot.
func LoadTree(id string, dims int, snapshot []byte) (*Tree, error) {
	var idx index
	var err error

	switch dims {
	case 2:
		idx, err = loadTypedIndex[geom.Vec2](snapshot)
	case 3:
		idx, err = loadTypedIndex[geom.Vec3](snapshot)
	default:
		err = errors.New("unsupported dimension").
			WithType(ErrTypeInvalidDimension).
			WithTag("dims", dims)
	}
	if err != nil {
		return nil, errors.New("loading tree failed").
			WithType(errors.Type(err)).
			WithTag("tree_id", id).
			Wrap(err)
	}

	return &Tree{
		ID:        id,
		Dims:      dims,
		CreatedAt: time.Now(),
		index:     idx,
	}, nil
}

// Insert adds points to the tree. Points outside of the tree bounds are
// skipped. Nothing is inserted when a point has the wrong dimension.
func (t *Tree) Insert(points [][]float64) (InsertResult, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	res, err := t.index.insert(points)
	if err != nil {
		return InsertResult{}, err
	}

	instrumentInsert(t.Dims, res.Inserted, len(points)-res.Inserted)
	return res, nil
}

// QueryRange returns the points inside the [min, max) box, nearest to the
// box center first.
func (t *Tree) QueryRange(min, max []float64) ([][]float64, error) {
	defer instrumentQueryLatency(t.Dims, queryKindRange, time.Now())

	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.index.queryRange(min, max)
}

// QueryRadius returns the points closer than radius to center, nearest
// first.
func (t *Tree) QueryRadius(center []float64, radius float64) ([][]float64, error) {
	defer instrumentQueryLatency(t.Dims, queryKindRadius, time.Now())

	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.index.queryRadius(center, radius)
}

// Cull drops the empty subtrees. It returns true when the tree is empty.
func (t *Tree) Cull() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.index.cull()
}

func (t *Tree) Subdivide(iterations, childCapacity int) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.index.subdivide(iterations, childCapacity)
}

func (t *Tree) SetCapacity(capacity int) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.index.setCapacity(capacity)
}

// Centers returns one representative point per leaf.
func (t *Tree) Centers(includeEmpty bool) [][]float64 {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.index.centers(includeEmpty)
}

func (t *Tree) Stats() Stats {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	s := t.index.stats()
	s.ID = t.ID
	s.Dims = t.Dims
	s.CreatedAt = t.CreatedAt
	return s
}

func (t *Tree) DebugInfo() partition.DebugInfo {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.index.debugInfo()
}

// Dump returns the JSON debug form of the tree.
func (t *Tree) Dump() ([]byte, error) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.index.dump()
}

// Snapshot returns the binary form of the tree.
func (t *Tree) Snapshot() ([]byte, error) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.index.snapshot()
}
