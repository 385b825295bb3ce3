// Inspect a B+ tree index file: print its metadata, walk the tree, and
// run the consistency checker.
//
// Usage: treedump <index-file> <block-size> [-keys]
package main

import (
	"fmt"
	"os"
	"strconv"

	bptree "github.com/dp-oram/b-plus-tree"
	"github.com/dp-oram/b-plus-tree/block"
	"github.com/dp-oram/b-plus-tree/storage"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s <index-file> <block-size> [-keys]\n", os.Args[0])
		os.Exit(1)
	}

	path := os.Args[1]
	blockSize, err := strconv.ParseUint(os.Args[2], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid block size %q: %v\n", os.Args[2], err)
		os.Exit(1)
	}
	dumpKeys := len(os.Args) > 3 && os.Args[3] == "-keys"

	if err := inspect(path, blockSize, dumpKeys); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func inspect(path string, blockSize uint64, dumpKeys bool) error {
	store, err := storage.NewFileStorage(blockSize, path, false)
	if err != nil {
		return err
	}
	defer store.Close()

	tree, err := bptree.Open(store)
	if err != nil {
		return err
	}

	fmt.Printf("file:        %s\n", path)
	fmt.Printf("block size:  %d\n", blockSize)
	fmt.Printf("payload:     %d bytes per record\n", block.LeafPayloadSize(blockSize))
	fmt.Printf("root:        %d\n", tree.Root())

	if tree.Root() == store.Empty() {
		fmt.Println("tree:        empty")
		return nil
	}

	height, nodes, err := measure(tree, store)
	if err != nil {
		return err
	}
	count, err := tree.Count()
	if err != nil {
		return err
	}

	fmt.Printf("height:      %d\n", height)
	fmt.Printf("node blocks: %d\n", nodes)
	fmt.Printf("records:     %d\n", count)

	if dumpKeys {
		if err := dumpChain(tree, store); err != nil {
			return err
		}
	}

	if err := tree.CheckConsistency(); err != nil {
		return fmt.Errorf("consistency check failed: %w", err)
	}
	fmt.Println("consistency: ok")
	return nil
}

// measure walks the node layers, returning the tree height (number of
// node layers above the leaves) and the total node block count.
func measure(tree *bptree.Tree, store storage.Storage) (height, nodes int, err error) {
	layer := []uint64{tree.Root()}
	for {
		nodes += len(layer)
		height++

		var next []uint64
		leaves := false
		for _, addr := range layer {
			buf, err := store.Get(addr)
			if err != nil {
				return 0, 0, err
			}
			tb, err := block.Classify(buf)
			if err != nil {
				return 0, 0, err
			}
			pairs, err := block.DecodeNode(tb)
			if err != nil {
				return 0, 0, err
			}

			for _, pair := range pairs {
				childBuf, err := store.Get(pair.Child)
				if err != nil {
					return 0, 0, err
				}
				child, err := block.Classify(childBuf)
				if err != nil {
					return 0, 0, err
				}
				if child.Kind == block.KindData {
					leaves = true
				} else {
					next = append(next, pair.Child)
				}
			}
		}

		if leaves {
			return height, nodes, nil
		}
		layer = next
	}
}

func dumpChain(tree *bptree.Tree, store storage.Storage) error {
	fmt.Println("leaf chain:")
	addr := tree.LeftmostDataBlock()
	for addr != store.Empty() {
		buf, err := store.Get(addr)
		if err != nil {
			return err
		}
		tb, err := block.Classify(buf)
		if err != nil {
			return err
		}
		_, key, next, err := block.DecodeLeaf(tb)
		if err != nil {
			return err
		}
		fmt.Printf("  block %d: key %d\n", addr, key)
		addr = next
	}
	return nil
}
