// Package bptree provides a persistent, block-oriented B+ tree index
// mapping uint64 keys to fixed-length payloads.
//
// The tree is bulk-loaded bottom-up from a sorted key/payload sequence
// and is immutable afterwards: point lookups, range scans and a
// consistency check are the only operations. Duplicate keys are allowed
// and preserved in insertion order. Leaves form a singly linked list in
// ascending key order, which serves range queries.
//
// The index lives entirely in a storage.Storage block store and is
// recoverable from it alone: the metadata block anchors the root, so a
// tree built against a file-backed store in one process can be reopened
// in another.
//
// Example:
//
//	store, err := storage.NewFileStorage(256, "index.db", true)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	tree, err := bptree.Build(store, records) // records sorted by key
//	payloads, err := tree.Search(42)
//	all, err := tree.SearchRange(0, ^uint64(0))
package bptree

import (
	"fmt"

	"github.com/dp-oram/b-plus-tree/block"
	"github.com/dp-oram/b-plus-tree/storage"
)

// Record is one key/payload input to Build. The payload must be exactly
// block.LeafPayloadSize(store.BlockSize()) bytes.
type Record struct {
	Key     uint64
	Payload []byte
}

// Tree is a bulk-loaded B+ tree over a block store. It holds only
// addresses; the store owns all bytes.
type Tree struct {
	store             storage.Storage
	root              uint64
	leftmostDataBlock uint64
}

// Open re-anchors a tree on an existing store: reads the root address
// from the metadata block and descends to the leftmost leaf.
func Open(store storage.Storage) (*Tree, error) {
	buf, err := store.Get(store.Meta())
	if err != nil {
		return nil, fmt.Errorf("failed to read meta block: %w", err)
	}

	t := &Tree{
		store:             store,
		root:              block.DecodeMeta(buf),
		leftmostDataBlock: store.Empty(),
	}

	if t.root == store.Empty() {
		return t, nil
	}

	addr := t.root
	for {
		tb, err := t.checkType(addr)
		if err != nil {
			return nil, err
		}
		if tb.Kind == block.KindData {
			t.leftmostDataBlock = addr
			return t, nil
		}

		pairs, err := block.DecodeNode(tb)
		if err != nil {
			return nil, err
		}
		if len(pairs) == 0 {
			return nil, fmt.Errorf("node block %d is empty", addr)
		}
		addr = pairs[0].Child
	}
}

// Root returns the root block address, or the store's Empty sentinel for
// an empty tree.
func (t *Tree) Root() uint64 {
	return t.root
}

// LeftmostDataBlock returns the address of the first leaf in the chain,
// or the store's Empty sentinel for an empty tree.
func (t *Tree) LeftmostDataBlock() uint64 {
	return t.leftmostDataBlock
}

// Count returns the number of records by walking the leaf chain.
// This is an O(n) operation.
func (t *Tree) Count() (int, error) {
	count := 0
	addr := t.leftmostDataBlock
	for addr != t.store.Empty() {
		tb, err := t.checkType(addr)
		if err != nil {
			return 0, err
		}
		_, _, next, err := block.DecodeLeaf(tb)
		if err != nil {
			return 0, err
		}
		count++
		addr = next
	}
	return count, nil
}

// checkType reads the block at addr and classifies it.
func (t *Tree) checkType(addr uint64) (block.Typed, error) {
	buf, err := t.store.Get(addr)
	if err != nil {
		return block.Typed{}, err
	}
	tb, err := block.Classify(buf)
	if err != nil {
		return block.Typed{}, fmt.Errorf("block %d: %w", addr, err)
	}
	return tb, nil
}
