package bptree

import (
	"fmt"

	"github.com/dp-oram/b-plus-tree/block"
)

// CheckConsistency walks the whole tree and verifies its invariants:
// every reachable block is tagged for its use site, child kinds are
// uniform within each node, separators are ordered and equal their
// subtree's maximum key, and the leaf chain visits exactly the tree's
// leaves in ascending key order, terminating at Empty.
//
// The first violation found is returned; its message names the broken
// invariant (block type, data block pointer, or key order).
func (t *Tree) CheckConsistency() error {
	if t.root == t.store.Empty() {
		if t.leftmostDataBlock != t.store.Empty() {
			return fmt.Errorf("empty tree has a data block chain at %d", t.leftmostDataBlock)
		}
		return nil
	}

	tb, err := t.checkType(t.root)
	if err != nil {
		return err
	}
	if tb.Kind != block.KindNode {
		return fmt.Errorf("root %d has block type %#x, expected a node", t.root, byte(tb.Kind))
	}

	var leaves []uint64
	if _, err := t.checkSubtree(t.root, &leaves); err != nil {
		return err
	}

	return t.checkChain(leaves)
}

// checkSubtree verifies the node block at addr and all blocks below it,
// appending the leaf addresses in key order. Returns the subtree's
// maximum key.
func (t *Tree) checkSubtree(addr uint64, leaves *[]uint64) (uint64, error) {
	tb, err := t.checkType(addr)
	if err != nil {
		return 0, err
	}
	pairs, err := block.DecodeNode(tb)
	if err != nil {
		return 0, err
	}
	if len(pairs) == 0 {
		return 0, fmt.Errorf("node block %d is empty", addr)
	}

	var childKind block.Kind
	for i, pair := range pairs {
		if i > 0 && pair.Key < pairs[i-1].Key {
			return 0, fmt.Errorf("node %d: separator key %d after key %d", addr, pair.Key, pairs[i-1].Key)
		}

		child, err := t.checkType(pair.Child)
		if err != nil {
			return 0, err
		}
		if i == 0 {
			childKind = child.Kind
		} else if child.Kind != childKind {
			return 0, fmt.Errorf("node %d: mixed child block types %#x and %#x",
				addr, byte(childKind), byte(child.Kind))
		}

		var max uint64
		if child.Kind == block.KindData {
			_, key, _, err := block.DecodeLeaf(child)
			if err != nil {
				return 0, err
			}
			*leaves = append(*leaves, pair.Child)
			max = key
		} else {
			if max, err = t.checkSubtree(pair.Child, leaves); err != nil {
				return 0, err
			}
		}

		if max != pair.Key {
			return 0, fmt.Errorf("node %d: separator key %d does not match subtree maximum %d",
				addr, pair.Key, max)
		}
	}

	return pairs[len(pairs)-1].Key, nil
}

// checkChain follows next pointers from the leftmost leaf and verifies
// that the chain visits exactly the given leaves, in order, with
// non-decreasing keys, ending at Empty.
func (t *Tree) checkChain(leaves []uint64) error {
	if len(leaves) == 0 || leaves[0] != t.leftmostDataBlock {
		return fmt.Errorf("leftmost descent does not reach the first data block %d", t.leftmostDataBlock)
	}

	addr := t.leftmostDataBlock
	var prevKey uint64
	for i := 0; ; i++ {
		if addr == t.store.Empty() {
			if i != len(leaves) {
				return fmt.Errorf("data block chain ends after %d of %d blocks", i, len(leaves))
			}
			return nil
		}
		if i >= len(leaves) {
			return fmt.Errorf("data block chain continues past the tree's %d leaves", len(leaves))
		}
		if addr != leaves[i] {
			return fmt.Errorf("data block chain diverges from the tree at %d, expected %d", addr, leaves[i])
		}

		tb, err := t.checkType(addr)
		if err != nil {
			return err
		}
		_, key, next, err := block.DecodeLeaf(tb)
		if err != nil {
			return err
		}

		if i > 0 && key < prevKey {
			return fmt.Errorf("data block %d: key %d after key %d breaks the chain order", addr, key, prevKey)
		}
		prevKey = key
		addr = next
	}
}
