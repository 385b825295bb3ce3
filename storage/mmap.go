package storage

import (
	"fmt"

	"github.com/dp-oram/b-plus-tree/internal/mmap"
)

// MmapStorage is a file-backed block store using memory-mapped I/O. The
// file format and address discipline are identical to FileStorage; the two
// can reopen each other's files. The mapping is grown one slot per Malloc
// so the file size always equals the allocation counter.
type MmapStorage struct {
	m         *mmap.Map
	blockSize uint64
	counter   uint64
}

// NewMmapStorage opens a memory-mapped block store. The override flag has
// the same meaning as for NewFileStorage.
func NewMmapStorage(blockSize uint64, path string, override bool) (*MmapStorage, error) {
	if override {
		m, err := mmap.Create(path, int64(2*blockSize))
		if err != nil {
			return nil, fmt.Errorf("%w %s: %v", ErrCannotOpen, path, err)
		}
		return &MmapStorage{
			m:         m,
			blockSize: blockSize,
			counter:   2 * blockSize,
		}, nil
	}

	m, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrCannotOpen, path, err)
	}

	size := uint64(m.Size())
	if size < 2*blockSize || size%blockSize != 0 {
		m.Close()
		return nil, fmt.Errorf("%w %s: size %d is not a multiple of block size %d covering at least two blocks",
			ErrCannotOpen, path, size, blockSize)
	}

	return &MmapStorage{
		m:         m,
		blockSize: blockSize,
		counter:   size,
	}, nil
}

// Malloc allocates the next slot, growing the mapping over it.
func (s *MmapStorage) Malloc() (uint64, error) {
	addr := s.counter
	s.counter += s.blockSize
	if err := s.m.Grow(int64(s.counter)); err != nil {
		return 0, err
	}
	return addr, nil
}

// Get returns a copy of the block at addr.
func (s *MmapStorage) Get(addr uint64) ([]byte, error) {
	if err := s.checkAddress(addr); err != nil {
		return nil, err
	}

	slice := s.m.Slice(int64(addr), int64(s.blockSize))
	if slice == nil {
		return nil, fmt.Errorf("failed to read block %d: mmap is closed", addr)
	}
	return append([]byte(nil), slice...), nil
}

// Set copies data into the block at addr.
func (s *MmapStorage) Set(addr uint64, data []byte) error {
	if uint64(len(data)) != s.blockSize {
		return fmt.Errorf("%w: got %d, want %d", ErrSizeMismatch, len(data), s.blockSize)
	}
	if err := s.checkAddress(addr); err != nil {
		return err
	}

	slice := s.m.Slice(int64(addr), int64(s.blockSize))
	if slice == nil {
		return fmt.Errorf("failed to write block %d: mmap is closed", addr)
	}
	copy(slice, data)
	return nil
}

// Empty returns the "no block" sentinel.
func (s *MmapStorage) Empty() uint64 {
	return 0
}

// Meta returns the metadata block address (slot 1).
func (s *MmapStorage) Meta() uint64 {
	return s.blockSize
}

// BlockSize returns the block size in bytes.
func (s *MmapStorage) BlockSize() uint64 {
	return s.blockSize
}

// Close syncs, unmaps and closes the backing file.
func (s *MmapStorage) Close() error {
	return s.m.Close()
}

func (s *MmapStorage) checkAddress(addr uint64) error {
	if addr == 0 || addr%s.blockSize != 0 || addr+s.blockSize > s.counter {
		return fmt.Errorf("%w: %d was never allocated", ErrInvalidAddress, addr)
	}
	return nil
}
