package partition

import (
	"github.com/aukilabs/spatialtree/geom"
	"golang.org/x/exp/slices"
)

type match[P geom.Point[P]] struct {
	distance float64
	point    P
}

// collector gathers query matches and returns them nearest first. Matches at
// the same distance are all kept and ordered lexicographically.
type collector[P geom.Point[P]] struct {
	matches []match[P]
	seen    map[P]struct{}
}

func (c *collector[P]) add(distance float64, p P) {
	if c.seen == nil {
		c.seen = make(map[P]struct{})
	}
	if _, ok := c.seen[p]; ok {
		return
	}

	c.seen[p] = struct{}{}
	c.matches = append(c.matches, match[P]{distance: distance, point: p})
}

func (c *collector[P]) values() []P {
	slices.SortFunc(c.matches, func(a, b match[P]) int {
		switch {
		case a.distance < b.distance:
			return -1
		case a.distance > b.distance:
			return 1
		}
		return geom.Compare(a.point, b.point)
	})

	points := make([]P, len(c.matches))
	for i, m := range c.matches {
		points[i] = m.point
	}
	return points
}
