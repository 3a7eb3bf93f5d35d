package partition

import (
	"github.com/aukilabs/spatialtree/geom"
	"github.com/segmentio/encoding/json"
)

// nodeDump is the human readable form of a node: its bounds and capacity,
// then either its points or its children.
type nodeDump[P geom.Point[P]] struct {
	Bounds   geom.Bounds[P] `json:"bounds"`
	Capacity int            `json:"capacity"`
	Level    int            `json:"level"`
	Points   []P            `json:"points,omitempty"`
	Children []nodeDump[P]  `json:"children,omitempty"`
}

func (n *Node[P]) dump() nodeDump[P] {
	d := nodeDump[P]{
		Bounds:   n.bounds,
		Capacity: n.capacity,
		Level:    n.level,
		Points:   n.points.values(),
	}

	for _, c := range n.children {
		d.Children = append(d.Children, c.dump())
	}
	return d
}

func (n *Node[P]) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.dump())
}

// Indent returns the dump of the tree as indented JSON.
func (n *Node[P]) Indent() ([]byte, error) {
	return json.MarshalIndent(n.dump(), "", "  ")
}

func (n *Node[P]) String() string {
	b, err := n.MarshalJSON()
	if err != nil {
		return n.bounds.String()
	}
	return string(b)
}
