//go:build linux

package engine

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/hackerby888/qubic-core-lite/internal/hasher"
)

// linuxRegion backs an Engine's memory with a memfd-created, MAP_SHARED
// anonymous mapping. Shared (not private) mappings are required so that
// userfaultfd WRITE-PROTECT mode, which only applies to shared mappings on
// most kernels, can be armed over it.
type linuxRegion struct {
	fd   int
	size int
	data []byte
}

func newLinuxRegion(size int) (*linuxRegion, error) {
	fd, err := unix.MemfdCreate("stateengine-region", 0)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ftruncate: %w", err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &linuxRegion{fd: fd, size: size, data: data}, nil
}

func (r *linuxRegion) bytes() []byte {
	return r.data
}

func (r *linuxRegion) protectNone(offset, length int) error {
	offset, length = clampRange(offset, length, r.size)
	if length == 0 {
		return nil
	}
	if err := unix.Mprotect(r.data[offset:offset+length], unix.PROT_NONE); err != nil {
		return fmt.Errorf("mprotect(PROT_NONE): %w", err)
	}
	// MADV_DONTNEED drops the pages entirely so the next access refaults
	// through userfaultfd instead of silently succeeding against a stale
	// mapping the kernel happened to keep resident.
	if err := unix.Madvise(r.data[offset:offset+length], unix.MADV_DONTNEED); err != nil {
		return fmt.Errorf("madvise(MADV_DONTNEED): %w", err)
	}
	return nil
}

func (r *linuxRegion) protectReadOnly(offset, length int) error {
	offset, length = clampRange(offset, length, r.size)
	if length == 0 {
		return nil
	}
	if err := unix.Mprotect(r.data[offset:offset+length], unix.PROT_READ); err != nil {
		return fmt.Errorf("mprotect(PROT_READ): %w", err)
	}
	return nil
}

func (r *linuxRegion) protectReadWrite(offset, length int) error {
	offset, length = clampRange(offset, length, r.size)
	if length == 0 {
		return nil
	}
	if err := unix.Mprotect(r.data[offset:offset+length], unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("mprotect(PROT_READ|PROT_WRITE): %w", err)
	}
	return nil
}

func (r *linuxRegion) close() error {
	if r.data != nil {
		if err := unix.Munmap(r.data); err != nil {
			return fmt.Errorf("munmap: %w", err)
		}
		r.data = nil
	}
	return unix.Close(r.fd)
}

func clampRange(offset, length, size int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > size {
		offset = size
	}
	if offset+length > size {
		length = size - offset
	}
	if length < 0 {
		length = 0
	}
	return offset, length
}

func newBacking(size int) (backing, faultSource, error) {
	if page := pageSize(); hasher.ChunkSize%page != 0 {
		return nil, nil, fmt.Errorf("engine: chunk size %d is not a multiple of the host page size %d", hasher.ChunkSize, page)
	}
	r, err := newLinuxRegion(size)
	if err != nil {
		return nil, nil, err
	}
	fs, err := newUffdMonitor(r)
	if err != nil {
		r.close()
		return nil, nil, fmt.Errorf("starting fault monitor: %w", err)
	}
	return r, fs, nil
}

// pageSize reports the host's page size, used to validate chunk-size
// assumptions at startup.
func pageSize() int {
	return os.Getpagesize()
}
