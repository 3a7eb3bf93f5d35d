package partition

import (
	"github.com/aukilabs/spatialtree/geom"
	"golang.org/x/exp/slices"
)

// pointSet keeps distinct points sorted lexicographically, which makes the
// iteration order, and so the redistribution order on split, independent of
// the insertion order.
type pointSet[P geom.Point[P]] struct {
	items []P
}

func (s *pointSet[P]) add(p P) bool {
	i, found := slices.BinarySearchFunc(s.items, p, geom.Compare[P])
	if found {
		return false
	}
	s.items = slices.Insert(s.items, i, p)
	return true
}

func (s *pointSet[P]) contains(p P) bool {
	_, found := slices.BinarySearchFunc(s.items, p, geom.Compare[P])
	return found
}

func (s *pointSet[P]) len() int {
	return len(s.items)
}

func (s *pointSet[P]) clear() {
	s.items = nil
}

func (s *pointSet[P]) values() []P {
	return slices.Clone(s.items)
}
