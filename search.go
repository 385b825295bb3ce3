package bptree

import (
	"fmt"
	"sort"

	"github.com/dp-oram/b-plus-tree/block"
)

// Search returns the payloads of every record with the given key, in
// insertion order. Absent keys yield an empty result.
func (t *Tree) Search(key uint64) ([][]byte, error) {
	return t.SearchRange(key, key)
}

// SearchRange returns the payloads of every record with lo <= key <= hi,
// in ascending key order with ties in insertion order.
func (t *Tree) SearchRange(lo, hi uint64) ([][]byte, error) {
	if lo > hi {
		return nil, fmt.Errorf("invalid range: %d > %d", lo, hi)
	}
	if t.root == t.store.Empty() {
		return nil, nil
	}

	addr, found, err := t.descend(lo)
	if err != nil || !found {
		return nil, err
	}

	// Walk the leaf chain from the first leaf with key >= lo. Any leaf
	// below lo met on the way is skipped, not returned.
	var results [][]byte
	for addr != t.store.Empty() {
		tb, err := t.checkType(addr)
		if err != nil {
			return nil, err
		}
		payload, key, next, err := block.DecodeLeaf(tb)
		if err != nil {
			return nil, err
		}

		if key > hi {
			break
		}
		if key >= lo {
			results = append(results, payload)
		}
		addr = next
	}

	return results, nil
}

// descend follows child pointers from the root towards the leaf layer,
// at each node taking the first pair whose separator is >= key. On equal
// separators the leftmost wins, so duplicates starting in an earlier
// subtree are not missed. Returns found=false when key exceeds every key
// in the tree.
func (t *Tree) descend(key uint64) (uint64, bool, error) {
	addr := t.root
	for {
		tb, err := t.checkType(addr)
		if err != nil {
			return 0, false, err
		}
		if tb.Kind == block.KindData {
			return addr, true, nil
		}

		pairs, err := block.DecodeNode(tb)
		if err != nil {
			return 0, false, err
		}

		idx := sort.Search(len(pairs), func(i int) bool {
			return pairs[i].Key >= key
		})
		if idx == len(pairs) {
			return 0, false, nil
		}
		addr = pairs[idx].Child
	}
}
