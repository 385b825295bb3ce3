package block

import (
	"encoding/binary"
	"fmt"
)

// EncodeLeaf packs a leaf block: the next-leaf address, the key, and the
// payload, which must be exactly LeafPayloadSize(blockSize) bytes.
func EncodeLeaf(next, key uint64, payload []byte, blockSize uint64) ([]byte, error) {
	if uint64(len(payload)) != LeafPayloadSize(blockSize) {
		return nil, fmt.Errorf("payload size %d does not match leaf capacity %d",
			len(payload), LeafPayloadSize(blockSize))
	}

	buf := make([]byte, blockSize)
	buf[0] = byte(KindData)
	binary.LittleEndian.PutUint64(buf[1:], next)
	binary.LittleEndian.PutUint64(buf[1+NumberSize:], key)
	copy(buf[1+2*NumberSize:], payload)

	return buf, nil
}

// DecodeLeaf unpacks a classified leaf block into its payload, key and
// next-leaf address. A node body is rejected before any field is parsed.
func DecodeLeaf(tb Typed) (payload []byte, key, next uint64, err error) {
	if tb.Kind != KindData {
		return nil, 0, 0, fmt.Errorf("non-data block (type %#x)", byte(tb.Kind))
	}

	next = binary.LittleEndian.Uint64(tb.Body[:NumberSize])
	key = binary.LittleEndian.Uint64(tb.Body[NumberSize:])
	payload = append([]byte(nil), tb.Body[2*NumberSize:]...)
	return payload, key, next, nil
}
