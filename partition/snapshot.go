package partition

import (
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/spatialtree/geom"
	"google.golang.org/protobuf/encoding/protowire"
)

// Snapshots use the protobuf wire format:
//
//	message Snapshot {
//	  uint64 dims = 1;
//	  Node   root = 2;
//	}
//
//	message Node {
//	  repeated double min      = 1 [packed = true];
//	  repeated double max      = 2 [packed = true];
//	  repeated double factors  = 3 [packed = true];
//	  uint64          capacity = 4;
//	  uint64          level    = 5;
//	  repeated Coords points   = 6; // packed doubles
//	  repeated Node   children = 7;
//	}

const (
	ErrTypeInvalidSnapshot = "invalid_snapshot"
)

const (
	snapshotDims protowire.Number = 1
	snapshotRoot protowire.Number = 2

	nodeMin      protowire.Number = 1
	nodeMax      protowire.Number = 2
	nodeFactors  protowire.Number = 3
	nodeCapacity protowire.Number = 4
	nodeLevel    protowire.Number = 5
	nodePoint    protowire.Number = 6
	nodeChild    protowire.Number = 7
)

// MarshalBinary encodes the tree, shape included, so that UnmarshalBinary
// restores it exactly.
func (n *Node[P]) MarshalBinary() ([]byte, error) {
	b := protowire.AppendTag(nil, snapshotDims, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(geom.Dims[P]()))
	b = protowire.AppendTag(b, snapshotRoot, protowire.BytesType)
	b = protowire.AppendBytes(b, appendNode(nil, n))
	return b, nil
}

// UnmarshalBinary replaces the node with the tree encoded in data.
func (n *Node[P]) UnmarshalBinary(data []byte) error {
	var dims uint64
	var root []byte

	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == snapshotDims && typ == protowire.VarintType:
			v, l := protowire.ConsumeVarint(b)
			dims = v
			return l, nil

		case num == snapshotRoot && typ == protowire.BytesType:
			v, l := protowire.ConsumeBytes(b)
			root = v
			return l, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return err
	}

	if want := geom.Dims[P](); dims != uint64(want) {
		return errors.New("snapshot dimension mismatch").
			WithType(ErrTypeInvalidSnapshot).
			WithTag("dims", dims).
			WithTag("expected_dims", want)
	}
	if root == nil {
		return errors.New("snapshot has no root").
			WithType(ErrTypeInvalidSnapshot)
	}

	decoded, err := decodeNode[P](root, 0)
	if err != nil {
		return err
	}

	*n = *decoded
	return nil
}

func appendNode[P geom.Point[P]](b []byte, n *Node[P]) []byte {
	b = appendCoords(b, nodeMin, n.bounds.Min)
	b = appendCoords(b, nodeMax, n.bounds.Max)
	b = appendCoords(b, nodeFactors, n.factors)
	b = protowire.AppendTag(b, nodeCapacity, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(n.capacity))
	b = protowire.AppendTag(b, nodeLevel, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(n.level))

	for _, p := range n.points.items {
		b = appendCoords(b, nodePoint, p)
	}
	for _, c := range n.children {
		b = protowire.AppendTag(b, nodeChild, protowire.BytesType)
		b = protowire.AppendBytes(b, appendNode(nil, c))
	}
	return b
}

func appendCoords[P geom.Point[P]](b []byte, num protowire.Number, p P) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(p.Dims()*8))
	for i := 0; i < p.Dims(); i++ {
		b = protowire.AppendFixed64(b, math.Float64bits(p.Axis(i)))
	}
	return b
}

func decodeNode[P geom.Point[P]](data []byte, level int) (*Node[P], error) {
	if level > MaxDepth {
		return nil, errors.New("snapshot is too deep").
			WithType(ErrTypeInvalidSnapshot).
			WithTag("level", level)
	}

	n := &Node[P]{level: level}
	var capacity, storedLevel uint64
	var points []P

	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ == protowire.VarintType && (num == nodeCapacity || num == nodeLevel) {
			v, l := protowire.ConsumeVarint(b)
			if num == nodeCapacity {
				capacity = v
			} else {
				storedLevel = v
			}
			return l, nil
		}

		if typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}

		v, l := protowire.ConsumeBytes(b)
		if l < 0 {
			return l, nil
		}

		switch num {
		case nodeMin, nodeMax, nodeFactors, nodePoint:
			p, err := decodeCoords[P](v)
			if err != nil {
				return l, err
			}
			switch num {
			case nodeMin:
				n.bounds.Min = p
			case nodeMax:
				n.bounds.Max = p
			case nodeFactors:
				n.factors = p
			case nodePoint:
				points = append(points, p)
			}

		case nodeChild:
			c, err := decodeNode[P](v, level+1)
			if err != nil {
				return l, err
			}
			n.children = append(n.children, c)
		}
		return l, nil
	})
	if err != nil {
		return nil, err
	}

	if storedLevel != uint64(level) {
		return nil, errors.New("snapshot node level mismatch").
			WithType(ErrTypeInvalidSnapshot).
			WithTag("level", storedLevel).
			WithTag("expected_level", level)
	}
	if len(points) != 0 && len(n.children) != 0 {
		return nil, errors.New("snapshot node has both points and children").
			WithType(ErrTypeInvalidSnapshot).
			WithTag("level", level)
	}
	if len(n.children) > 1<<geom.Dims[P]() {
		return nil, errors.New("snapshot node has too many children").
			WithType(ErrTypeInvalidSnapshot).
			WithTag("children", len(n.children))
	}

	n.capacity = max(int(capacity), 1)
	for _, p := range points {
		if !n.bounds.Contains(p) {
			return nil, errors.New("snapshot point is outside of its node").
				WithType(ErrTypeInvalidSnapshot).
				WithTag("point", geom.Format(p)).
				WithTag("bounds", n.bounds.String())
		}
		n.points.add(p)
	}
	return n, nil
}

func decodeCoords[P geom.Point[P]](b []byte) (P, error) {
	var p P
	if len(b) != p.Dims()*8 {
		return p, errors.New("snapshot coordinates have a bad length").
			WithType(ErrTypeInvalidSnapshot).
			WithTag("length", len(b))
	}

	for i := 0; i < p.Dims(); i++ {
		v, l := protowire.ConsumeFixed64(b)
		if l < 0 {
			return p, errors.New("decoding snapshot coordinate failed").
				WithType(ErrTypeInvalidSnapshot).
				Wrap(protowire.ParseError(l))
		}
		p = p.WithAxis(i, math.Float64frombits(v))
		b = b[l:]
	}
	return p, nil
}

// consumeFields walks the fields of a message. fn consumes the value of a
// field and returns its length, negative on a wire error.
func consumeFields(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, l := protowire.ConsumeTag(b)
		if l < 0 {
			return errors.New("decoding snapshot field tag failed").
				WithType(ErrTypeInvalidSnapshot).
				Wrap(protowire.ParseError(l))
		}
		b = b[l:]

		l, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if l < 0 {
			return errors.New("decoding snapshot field failed").
				WithType(ErrTypeInvalidSnapshot).
				WithTag("field", num).
				Wrap(protowire.ParseError(l))
		}
		b = b[l:]
	}
	return nil
}
