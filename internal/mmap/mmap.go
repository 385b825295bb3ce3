// Package mmap provides memory-mapped file I/O.
package mmap

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Map represents a memory-mapped file.
type Map struct {
	file *os.File
	data []byte
	size int64
}

// Create creates (or truncates) a file of the given size and maps it.
func Create(path string, size int64) (*Map, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	if err := file.Truncate(size); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to size file: %w", err)
	}

	return mapFile(file, size)
}

// Open maps an existing file at its current size.
// Fails if the file does not exist.
func Open(path string) (*Map, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	return mapFile(file, info.Size())
}

func mapFile(file *os.File, size int64) (*Map, error) {
	data, err := unix.Mmap(int(file.Fd()), 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to mmap: %w", err)
	}

	return &Map{
		file: file,
		data: data,
		size: size,
	}, nil
}

// Close syncs, unmaps and closes the file.
func (m *Map) Close() error {
	if m.data != nil {
		if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
			return fmt.Errorf("failed to msync: %w", err)
		}
		if err := unix.Munmap(m.data); err != nil {
			return fmt.Errorf("failed to munmap: %w", err)
		}
		m.data = nil
	}
	if m.file != nil {
		if err := m.file.Close(); err != nil {
			return fmt.Errorf("failed to close file: %w", err)
		}
		m.file = nil
	}
	return nil
}

// Sync flushes changes to disk.
func (m *Map) Sync() error {
	if m.data == nil {
		return fmt.Errorf("mmap is closed")
	}
	return unix.Msync(m.data, unix.MS_SYNC)
}

// Size returns the current mapped size.
func (m *Map) Size() int64 {
	return m.size
}

// Slice returns a slice of the mapped memory.
// Returns nil if the range is invalid.
func (m *Map) Slice(offset, length int64) []byte {
	if m.data == nil {
		return nil
	}
	if offset < 0 || length < 0 || offset+length > m.size {
		return nil
	}
	return m.data[offset : offset+length]
}

// Grow extends the file to newSize and remaps it.
// This invalidates any previously returned slices.
func (m *Map) Grow(newSize int64) error {
	if newSize <= m.size {
		return nil
	}

	if err := unix.Munmap(m.data); err != nil {
		return fmt.Errorf("failed to munmap during grow: %w", err)
	}

	if err := m.file.Truncate(newSize); err != nil {
		return fmt.Errorf("failed to extend file during grow: %w", err)
	}

	data, err := unix.Mmap(int(m.file.Fd()), 0, int(newSize),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("failed to remap during grow: %w", err)
	}

	m.data = data
	m.size = newSize
	return nil
}
