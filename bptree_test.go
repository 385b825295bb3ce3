package bptree_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	bptree "github.com/dp-oram/b-plus-tree"
	"github.com/dp-oram/b-plus-tree/block"
	"github.com/dp-oram/b-plus-tree/storage"
)

var blockSizes = []uint64{64, 128, 256}

// payloadFor builds a payload of the exact leaf capacity, derived from
// the key and the duplicate ordinal so that insertion order is
// observable.
func payloadFor(key uint64, seq int, blockSize uint64) []byte {
	word := fmt.Sprintf("%d-%d.", key, seq)
	payload := make([]byte, block.LeafPayloadSize(blockSize))
	for i := range payload {
		payload[i] = word[i%len(word)]
	}
	return payload
}

// makeRecords generates sorted records for keys from..to inclusive, each
// repeated duplicates times.
func makeRecords(from, to uint64, duplicates int, blockSize uint64) []bptree.Record {
	var records []bptree.Record
	for key := from; key <= to; key++ {
		for seq := 0; seq < duplicates; seq++ {
			records = append(records, bptree.Record{
				Key:     key,
				Payload: payloadFor(key, seq, blockSize),
			})
		}
	}
	return records
}

func payloadsOf(records []bptree.Record) [][]byte {
	payloads := make([][]byte, len(records))
	for i, record := range records {
		payloads[i] = record.Payload
	}
	return payloads
}

func forEachBlockSize(t *testing.T, fn func(t *testing.T, blockSize uint64)) {
	for _, blockSize := range blockSizes {
		t.Run(fmt.Sprint(blockSize), func(t *testing.T) {
			fn(t, blockSize)
		})
	}
}

func TestSearch(t *testing.T) {
	forEachBlockSize(t, func(t *testing.T, blockSize uint64) {
		store := storage.NewMemoryStorage(blockSize)
		records := makeRecords(5, 15, 1, blockSize)

		tree, err := bptree.Build(store, records)
		require.NoError(t, err)

		payloads, err := tree.Search(10)
		require.NoError(t, err)
		require.Len(t, payloads, 1)
		require.Equal(t, payloadFor(10, 0, blockSize), payloads[0])
	})
}

func TestSearchAbsentKey(t *testing.T) {
	forEachBlockSize(t, func(t *testing.T, blockSize uint64) {
		store := storage.NewMemoryStorage(blockSize)
		_, err := bptree.Build(store, makeRecords(5, 15, 1, blockSize))
		require.NoError(t, err)

		tree, err := bptree.Open(store)
		require.NoError(t, err)

		payloads, err := tree.Search(20)
		require.NoError(t, err)
		require.Empty(t, payloads)

		payloads, err = tree.Search(4)
		require.NoError(t, err)
		require.Empty(t, payloads)
	})
}

func TestSearchDuplicates(t *testing.T) {
	forEachBlockSize(t, func(t *testing.T, blockSize uint64) {
		store := storage.NewMemoryStorage(blockSize)
		tree, err := bptree.Build(store, makeRecords(5, 15, 3, blockSize))
		require.NoError(t, err)

		payloads, err := tree.Search(10)
		require.NoError(t, err)
		require.Len(t, payloads, 3)
		for seq := 0; seq < 3; seq++ {
			require.Equal(t, payloadFor(10, seq, blockSize), payloads[seq])
		}
	})
}

func TestSearchRangeDuplicates(t *testing.T) {
	forEachBlockSize(t, func(t *testing.T, blockSize uint64) {
		store := storage.NewMemoryStorage(blockSize)
		records := makeRecords(5, 15, 3, blockSize)
		tree, err := bptree.Build(store, records)
		require.NoError(t, err)

		payloads, err := tree.SearchRange(8, 11)
		require.NoError(t, err)

		var expected [][]byte
		for _, record := range records {
			if record.Key >= 8 && record.Key <= 11 {
				expected = append(expected, record.Payload)
			}
		}
		require.Equal(t, expected, payloads)
	})
}

func TestSearchRangeAll(t *testing.T) {
	forEachBlockSize(t, func(t *testing.T, blockSize uint64) {
		store := storage.NewMemoryStorage(blockSize)
		records := makeRecords(5, 15, 3, blockSize)
		tree, err := bptree.Build(store, records)
		require.NoError(t, err)

		payloads, err := tree.SearchRange(5, 15)
		require.NoError(t, err)
		require.Equal(t, payloadsOf(records), payloads)
	})
}

func TestSearchRangeInvalid(t *testing.T) {
	store := storage.NewMemoryStorage(128)
	tree, err := bptree.Build(store, makeRecords(5, 15, 1, 128))
	require.NoError(t, err)

	_, err = tree.SearchRange(11, 8)
	require.Error(t, err)
}

func TestEmptyInput(t *testing.T) {
	forEachBlockSize(t, func(t *testing.T, blockSize uint64) {
		store := storage.NewMemoryStorage(blockSize)
		tree, err := bptree.Build(store, nil)
		require.NoError(t, err)
		require.Equal(t, store.Empty(), tree.Root())
		require.Equal(t, store.Empty(), tree.LeftmostDataBlock())

		payloads, err := tree.Search(10)
		require.NoError(t, err)
		require.Empty(t, payloads)

		require.NoError(t, tree.CheckConsistency())

		count, err := tree.Count()
		require.NoError(t, err)
		require.Zero(t, count)

		// An empty tree reopens as an empty tree.
		reopened, err := bptree.Open(store)
		require.NoError(t, err)
		require.Equal(t, store.Empty(), reopened.Root())
	})
}

func TestSingleRecord(t *testing.T) {
	forEachBlockSize(t, func(t *testing.T, blockSize uint64) {
		store := storage.NewMemoryStorage(blockSize)
		tree, err := bptree.Build(store, makeRecords(7, 7, 1, blockSize))
		require.NoError(t, err)

		// The root is the sole node block, pointing at the one leaf.
		rootBuf, err := store.Get(tree.Root())
		require.NoError(t, err)
		tb, err := block.Classify(rootBuf)
		require.NoError(t, err)
		require.Equal(t, block.KindNode, tb.Kind)

		pairs, err := block.DecodeNode(tb)
		require.NoError(t, err)
		require.Len(t, pairs, 1)
		require.EqualValues(t, 7, pairs[0].Key)
		require.Equal(t, tree.LeftmostDataBlock(), pairs[0].Child)

		payloads, err := tree.Search(7)
		require.NoError(t, err)
		require.Len(t, payloads, 1)

		require.NoError(t, tree.CheckConsistency())
	})
}

func TestBlockSizeTooSmall(t *testing.T) {
	// 4 numbers do not hold even the node header plus two pairs.
	store := storage.NewMemoryStorage(4 * block.NumberSize)
	_, err := bptree.Build(store, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "block size too small")
}

func TestBlockSizeBoundary(t *testing.T) {
	// 1 + 8 + 4*8 = 41 is the smallest legal block size.
	store := storage.NewMemoryStorage(41)
	tree, err := bptree.Build(store, makeRecords(5, 15, 1, 41))
	require.NoError(t, err)
	require.NoError(t, tree.CheckConsistency())

	payloads, err := tree.SearchRange(5, 15)
	require.NoError(t, err)
	require.Len(t, payloads, 11)

	_, err = bptree.Build(storage.NewMemoryStorage(40), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "block size too small")
}

func TestUnsortedInput(t *testing.T) {
	store := storage.NewMemoryStorage(128)
	records := []bptree.Record{
		{Key: 9, Payload: payloadFor(9, 0, 128)},
		{Key: 5, Payload: payloadFor(5, 0, 128)},
	}
	_, err := bptree.Build(store, records)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not sorted")
}

func TestWrongPayloadSize(t *testing.T) {
	store := storage.NewMemoryStorage(128)
	_, err := bptree.Build(store, []bptree.Record{{Key: 1, Payload: []byte("short")}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "payload size")
}

func TestCount(t *testing.T) {
	store := storage.NewMemoryStorage(128)
	tree, err := bptree.Build(store, makeRecords(5, 15, 3, 128))
	require.NoError(t, err)

	count, err := tree.Count()
	require.NoError(t, err)
	require.Equal(t, 33, count)
}

func TestConsistency(t *testing.T) {
	forEachBlockSize(t, func(t *testing.T, blockSize uint64) {
		store := storage.NewMemoryStorage(blockSize)
		tree, err := bptree.Build(store, makeRecords(5, 15, 1, blockSize))
		require.NoError(t, err)
		require.NoError(t, tree.CheckConsistency())
	})
}

func TestConsistencyCorruptRootTag(t *testing.T) {
	forEachBlockSize(t, func(t *testing.T, blockSize uint64) {
		store := storage.NewMemoryStorage(blockSize)
		tree, err := bptree.Build(store, makeRecords(5, 15, 1, blockSize))
		require.NoError(t, err)

		buf, err := store.Get(tree.Root())
		require.NoError(t, err)
		buf[0] = 0xff
		require.NoError(t, store.Set(tree.Root(), buf))

		err = tree.CheckConsistency()
		require.Error(t, err)
		require.Contains(t, err.Error(), "block type")
	})
}

func TestConsistencyCorruptLeafKey(t *testing.T) {
	forEachBlockSize(t, func(t *testing.T, blockSize uint64) {
		store := storage.NewMemoryStorage(blockSize)
		tree, err := bptree.Build(store, makeRecords(5, 15, 1, blockSize))
		require.NoError(t, err)

		buf, err := store.Get(tree.LeftmostDataBlock())
		require.NoError(t, err)
		for i := 1 + block.NumberSize; i < 1+2*block.NumberSize; i++ {
			buf[i] = 0
		}
		require.NoError(t, store.Set(tree.LeftmostDataBlock(), buf))

		err = tree.CheckConsistency()
		require.Error(t, err)
		require.Contains(t, err.Error(), "key")
	})
}

func TestConsistencyBrokenChain(t *testing.T) {
	forEachBlockSize(t, func(t *testing.T, blockSize uint64) {
		store := storage.NewMemoryStorage(blockSize)
		tree, err := bptree.Build(store, makeRecords(5, 15, 1, blockSize))
		require.NoError(t, err)

		buf, err := store.Get(tree.LeftmostDataBlock())
		require.NoError(t, err)
		for i := 1; i < 1+block.NumberSize; i++ {
			buf[i] = 0 // next pointer -> EMPTY
		}
		require.NoError(t, store.Set(tree.LeftmostDataBlock(), buf))

		err = tree.CheckConsistency()
		require.Error(t, err)
		require.Contains(t, err.Error(), "data block")
	})
}

func TestReopen(t *testing.T) {
	variants := map[string]func(blockSize uint64, path string, override bool) (storage.Storage, error){
		"File": func(b uint64, p string, o bool) (storage.Storage, error) {
			return storage.NewFileStorage(b, p, o)
		},
		"Mmap": func(b uint64, p string, o bool) (storage.Storage, error) {
			return storage.NewMmapStorage(b, p, o)
		},
	}

	for name, open := range variants {
		t.Run(name, func(t *testing.T) {
			const blockSize = 128
			path := filepath.Join(t.TempDir(), "tree.bin")
			records := makeRecords(5, 15, 1, blockSize)

			store, err := open(blockSize, path, true)
			require.NoError(t, err)
			_, err = bptree.Build(store, records)
			require.NoError(t, err)
			require.NoError(t, store.Close())

			store, err = open(blockSize, path, false)
			require.NoError(t, err)
			defer store.Close()

			tree, err := bptree.Open(store)
			require.NoError(t, err)

			payloads, err := tree.SearchRange(5, 15)
			require.NoError(t, err)
			require.Equal(t, payloadsOf(records), payloads)

			require.NoError(t, tree.CheckConsistency())
		})
	}
}

func TestReopenCrossAdapter(t *testing.T) {
	// A tree built through the mmap adapter reads back through the
	// plain file adapter, behind a block cache.
	const blockSize = 128
	path := filepath.Join(t.TempDir(), "tree.bin")
	records := makeRecords(5, 15, 2, blockSize)

	store, err := storage.NewMmapStorage(blockSize, path, true)
	require.NoError(t, err)
	_, err = bptree.Build(store, records)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	file, err := storage.NewFileStorage(blockSize, path, false)
	require.NoError(t, err)
	cached, err := storage.NewCachedStorage(file, 64)
	require.NoError(t, err)
	defer cached.Close()

	tree, err := bptree.Open(cached)
	require.NoError(t, err)

	payloads, err := tree.SearchRange(5, 15)
	require.NoError(t, err)
	require.Equal(t, payloadsOf(records), payloads)

	// A second pass hits the cache and must agree.
	payloads, err = tree.SearchRange(5, 15)
	require.NoError(t, err)
	require.Equal(t, payloadsOf(records), payloads)
}

func TestSearchRangeDuplicatedSeparator(t *testing.T) {
	// With duplicates of the separator key, the descent takes the leftmost
	// matching separator, so a single-key range returns every duplicate
	// and no neighbouring key.
	const blockSize = 64
	store := storage.NewMemoryStorage(blockSize)
	records := makeRecords(5, 15, 3, blockSize)
	tree, err := bptree.Build(store, records)
	require.NoError(t, err)

	payloads, err := tree.SearchRange(10, 10)
	require.NoError(t, err)
	require.Len(t, payloads, 3)
	for seq := 0; seq < 3; seq++ {
		require.Equal(t, payloadFor(10, seq, blockSize), payloads[seq])
	}
}
