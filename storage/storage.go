// Package storage provides fixed-size block storage adapters.
//
// An adapter exposes a uniform address space of blocks, all of the same
// size. Two sentinel addresses exist: Empty, meaning "no such block", which
// is never a valid read or write target, and Meta, a well-known block that
// callers use to anchor their own metadata. Regular blocks are handed out
// by Malloc and are never freed.
//
// All multi-byte fields written by adapters are little-endian.
package storage

import "errors"

var (
	// ErrInvalidAddress is returned on access to an address that was
	// never allocated, or that is misaligned for the adapter.
	ErrInvalidAddress = errors.New("invalid block address")

	// ErrSizeMismatch is returned when a buffer's length does not equal
	// the adapter's block size.
	ErrSizeMismatch = errors.New("data size does not match block size")

	// ErrCannotOpen is returned when a file-backed adapter cannot create
	// or open its backing file, or when a reopened file's size is not a
	// multiple of the block size covering at least two blocks.
	ErrCannotOpen = errors.New("cannot open")
)

// Storage is a fixed-size block store.
//
// Implementations are not safe for concurrent use; the contract is a
// single caller with operations quiesced between calls.
type Storage interface {
	// Malloc allocates a fresh block and returns its address. The
	// address is distinct from Empty and Meta and from all previously
	// allocated addresses.
	Malloc() (uint64, error)

	// Get returns a copy of the block stored at addr.
	Get(addr uint64) ([]byte, error)

	// Set stores data at addr. len(data) must equal BlockSize. addr
	// must be Meta or a previously allocated address.
	Set(addr uint64, data []byte) error

	// Empty returns the sentinel address meaning "no block".
	Empty() uint64

	// Meta returns the address of the metadata block.
	Meta() uint64

	// BlockSize returns the size of every block in bytes.
	BlockSize() uint64

	// Close releases the adapter's backing. File-backed adapters flush
	// before closing. Close is idempotent.
	Close() error
}
