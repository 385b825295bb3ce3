package bptree

import (
	"fmt"

	"github.com/dp-oram/b-plus-tree/block"
	"github.com/dp-oram/b-plus-tree/storage"
)

// minBlockSize is the smallest block size the engine accepts: a node
// block must hold its tag, its count, and at least two separator pairs.
const minBlockSize = 1 + block.NumberSize + 4*block.NumberSize

// Build bulk-loads a tree from records, which must be in ascending key
// order (duplicates allowed). It writes the leaf chain front to back,
// folds it into node layers until one block holds the whole layer, and
// anchors the root address in the metadata block. An empty input yields
// an empty tree.
func Build(store storage.Storage, records []Record) (*Tree, error) {
	blockSize := store.BlockSize()
	if blockSize < minBlockSize {
		return nil, fmt.Errorf("block size too small: %d bytes cannot hold two separator pairs (need %d)",
			blockSize, minBlockSize)
	}

	t := &Tree{
		store:             store,
		root:              store.Empty(),
		leftmostDataBlock: store.Empty(),
	}

	layer, err := t.writeDataLayer(records)
	if err != nil {
		return nil, err
	}

	if len(layer) > 0 {
		capacity := block.NodeCapacity(blockSize)
		for uint64(len(layer)) > capacity {
			if layer, err = t.pushLayer(layer); err != nil {
				return nil, err
			}
		}

		if t.root, err = t.createNodeBlock(layer); err != nil {
			return nil, err
		}
	}

	if err := store.Set(store.Meta(), block.EncodeMeta(t.root, blockSize)); err != nil {
		return nil, fmt.Errorf("failed to write meta block: %w", err)
	}

	return t, nil
}

// writeDataLayer writes one leaf block per record, chained in input
// order, and returns the (key, address) layer for folding.
func (t *Tree) writeDataLayer(records []Record) ([]block.Pair, error) {
	if len(records) == 0 {
		return nil, nil
	}

	blockSize := t.store.BlockSize()
	payloadSize := block.LeafPayloadSize(blockSize)

	addr, err := t.store.Malloc()
	if err != nil {
		return nil, err
	}
	t.leftmostDataBlock = addr

	layer := make([]block.Pair, len(records))
	for i, record := range records {
		if i > 0 && record.Key < records[i-1].Key {
			return nil, fmt.Errorf("input is not sorted: key %d after key %d", record.Key, records[i-1].Key)
		}
		if uint64(len(record.Payload)) != payloadSize {
			return nil, fmt.Errorf("record %d: payload size %d does not match leaf capacity %d",
				i, len(record.Payload), payloadSize)
		}

		next := t.store.Empty()
		if i+1 < len(records) {
			if next, err = t.store.Malloc(); err != nil {
				return nil, err
			}
		}

		buf, err := block.EncodeLeaf(next, record.Key, record.Payload, blockSize)
		if err != nil {
			return nil, err
		}
		if err := t.store.Set(addr, buf); err != nil {
			return nil, err
		}

		layer[i] = block.Pair{Key: record.Key, Child: addr}
		addr = next
	}

	return layer, nil
}

// pushLayer folds a layer into the next one up: greedy left-to-right
// chunks of at most the node capacity, one node block per chunk, each
// represented upwards by its maximum key.
func (t *Tree) pushLayer(layer []block.Pair) ([]block.Pair, error) {
	capacity := block.NodeCapacity(t.store.BlockSize())

	var next []block.Pair
	for len(layer) > 0 {
		chunk := layer
		if uint64(len(chunk)) > capacity {
			chunk = layer[:capacity]
		}
		layer = layer[len(chunk):]

		addr, err := t.createNodeBlock(chunk)
		if err != nil {
			return nil, err
		}
		next = append(next, block.Pair{Key: chunk[len(chunk)-1].Key, Child: addr})
	}

	return next, nil
}

// createNodeBlock allocates and writes one node block.
func (t *Tree) createNodeBlock(pairs []block.Pair) (uint64, error) {
	buf, err := block.EncodeNode(pairs, t.store.BlockSize())
	if err != nil {
		return 0, err
	}

	addr, err := t.store.Malloc()
	if err != nil {
		return 0, err
	}
	if err := t.store.Set(addr, buf); err != nil {
		return 0, err
	}

	return addr, nil
}
