package block

import (
	"encoding/binary"
	"fmt"
)

// Pair is one separator/child entry of a node block. Child is the
// subtree holding keys <= Key.
type Pair struct {
	Key   uint64
	Child uint64
}

// EncodeNode packs pairs into a node block of the given size. The pairs
// must already be in ascending key order; the codec does not sort.
func EncodeNode(pairs []Pair, blockSize uint64) ([]byte, error) {
	if uint64(len(pairs)) > NodeCapacity(blockSize) {
		return nil, fmt.Errorf("%d pairs do not fit in a node block of %d bytes (capacity %d)",
			len(pairs), blockSize, NodeCapacity(blockSize))
	}

	buf := make([]byte, blockSize)
	buf[0] = byte(KindNode)
	binary.LittleEndian.PutUint64(buf[1:], uint64(len(pairs)))

	offset := 1 + NumberSize
	for _, pair := range pairs {
		binary.LittleEndian.PutUint64(buf[offset:], pair.Key)
		binary.LittleEndian.PutUint64(buf[offset+NumberSize:], pair.Child)
		offset += 2 * NumberSize
	}

	return buf, nil
}

// DecodeNode unpacks the separator/child pairs of a classified node
// block. A leaf body is rejected before any field is parsed.
func DecodeNode(tb Typed) ([]Pair, error) {
	if tb.Kind != KindNode {
		return nil, fmt.Errorf("non-node block (type %#x)", byte(tb.Kind))
	}

	count := binary.LittleEndian.Uint64(tb.Body[:NumberSize])
	capacity := (uint64(len(tb.Body)) - NumberSize) / (2 * NumberSize)
	if count > capacity {
		return nil, fmt.Errorf("node count %d exceeds block capacity %d", count, capacity)
	}

	pairs := make([]Pair, count)
	offset := uint64(NumberSize)
	for i := range pairs {
		pairs[i].Key = binary.LittleEndian.Uint64(tb.Body[offset:])
		pairs[i].Child = binary.LittleEndian.Uint64(tb.Body[offset+NumberSize:])
		offset += 2 * NumberSize
	}

	return pairs, nil
}
