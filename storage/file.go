package storage

import (
	"fmt"
	"os"
)

// FileStorage is a block store backed by a single file of block-aligned
// slots. Addresses are byte offsets: slot 0 corresponds to Empty and is
// never written, slot 1 (offset BlockSize) holds the metadata block, and
// Malloc hands out successive slots from offset 2*BlockSize. The
// allocation counter always equals the file size, which is how a reopened
// store recovers it.
type FileStorage struct {
	file      *os.File
	blockSize uint64
	counter   uint64
}

// NewFileStorage opens a file-backed block store.
//
// With override true the file is created or truncated and the metadata
// block is zeroed (root Empty). With override false the file must already
// exist and its size must be a positive multiple of blockSize, at least
// two blocks; previously written blocks are preserved and Malloc must not
// be called before the caller has re-anchored its metadata.
func NewFileStorage(blockSize uint64, path string, override bool) (*FileStorage, error) {
	if override {
		return createFileStorage(blockSize, path)
	}
	return reopenFileStorage(blockSize, path)
}

func createFileStorage(blockSize uint64, path string) (*FileStorage, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrCannotOpen, path, err)
	}

	s := &FileStorage{
		file:      file,
		blockSize: blockSize,
		counter:   2 * blockSize,
	}

	// Writing the zeroed meta block at slot 1 extends the file to two
	// slots; slot 0 stays zero and is never addressed.
	if err := s.Set(s.Meta(), make([]byte, blockSize)); err != nil {
		file.Close()
		return nil, err
	}

	return s, nil
}

func reopenFileStorage(blockSize uint64, path string) (*FileStorage, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrCannotOpen, path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w %s: %v", ErrCannotOpen, path, err)
	}

	size := uint64(info.Size())
	if size < 2*blockSize || size%blockSize != 0 {
		file.Close()
		return nil, fmt.Errorf("%w %s: size %d is not a multiple of block size %d covering at least two blocks",
			ErrCannotOpen, path, size, blockSize)
	}

	return &FileStorage{
		file:      file,
		blockSize: blockSize,
		counter:   size,
	}, nil
}

// Malloc allocates the next slot and zero-extends the file over it.
func (s *FileStorage) Malloc() (uint64, error) {
	if s.file == nil {
		return 0, fmt.Errorf("storage is closed")
	}

	addr := s.counter
	s.counter += s.blockSize
	if err := s.file.Truncate(int64(s.counter)); err != nil {
		return 0, fmt.Errorf("failed to extend file: %w", err)
	}
	return addr, nil
}

// Get reads the block at addr.
func (s *FileStorage) Get(addr uint64) ([]byte, error) {
	if s.file == nil {
		return nil, fmt.Errorf("storage is closed")
	}
	if err := s.checkAddress(addr); err != nil {
		return nil, err
	}

	buf := make([]byte, s.blockSize)
	if _, err := s.file.ReadAt(buf, int64(addr)); err != nil {
		return nil, fmt.Errorf("failed to read block %d: %w", addr, err)
	}
	return buf, nil
}

// Set writes data at addr.
func (s *FileStorage) Set(addr uint64, data []byte) error {
	if s.file == nil {
		return fmt.Errorf("storage is closed")
	}
	if uint64(len(data)) != s.blockSize {
		return fmt.Errorf("%w: got %d, want %d", ErrSizeMismatch, len(data), s.blockSize)
	}
	if err := s.checkAddress(addr); err != nil {
		return err
	}

	if _, err := s.file.WriteAt(data, int64(addr)); err != nil {
		return fmt.Errorf("failed to write block %d: %w", addr, err)
	}
	return nil
}

// Empty returns the "no block" sentinel.
func (s *FileStorage) Empty() uint64 {
	return 0
}

// Meta returns the metadata block address (slot 1).
func (s *FileStorage) Meta() uint64 {
	return s.blockSize
}

// BlockSize returns the block size in bytes.
func (s *FileStorage) BlockSize() uint64 {
	return s.blockSize
}

// Close syncs and closes the backing file. Close is idempotent.
func (s *FileStorage) Close() error {
	if s.file == nil {
		return nil
	}

	if err := s.file.Sync(); err != nil {
		s.file.Close()
		s.file = nil
		return fmt.Errorf("failed to sync before close: %w", err)
	}

	err := s.file.Close()
	s.file = nil
	return err
}

func (s *FileStorage) checkAddress(addr uint64) error {
	if addr == 0 || addr%s.blockSize != 0 || addr+s.blockSize > s.counter {
		return fmt.Errorf("%w: %d was never allocated", ErrInvalidAddress, addr)
	}
	return nil
}
