//go:build linux

package engine

import (
	"encoding/binary"
	"fmt"
	"sync"
	"unsafe"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/hackerby888/qubic-core-lite/internal/hasher"
)

// UFFD ioctl numbers, derived the same way as Linux's _IOWR/_IOR macros
// (direction<<30 | size<<16 | type<<8 | nr, type 0xAA for userfaultfd).
const (
	_UFFDIO_API           = 0xc018aa3f // struct uffdio_api, 24 bytes
	_UFFDIO_REGISTER      = 0xc020aa00 // struct uffdio_register, 32 bytes
	_UFFDIO_WAKE          = 0x8010aa02 // struct uffdio_range, 16 bytes
	_UFFDIO_COPY          = 0xc028aa03 // struct uffdio_copy, 40 bytes
	_UFFDIO_ZEROPAGE      = 0xc020aa04 // struct uffdio_zeropage, 32 bytes
	_UFFDIO_WRITEPROTECT  = 0xc018aa06 // struct uffdio_writeprotect, 24 bytes
)

const (
	_UFFD_API = 0xaa

	_UFFDIO_REGISTER_MODE_MISSING = 1 << 0
	_UFFDIO_REGISTER_MODE_WP      = 1 << 1
	_UFFDIO_REGISTER_MODE_MINOR   = 1 << 2

	_UFFD_FEATURE_MISSING_SHMEM = 1 << 5
	_UFFD_FEATURE_MINOR_SHMEM   = 1 << 10
	_UFFD_FEATURE_PAGEFAULT_FLAG_WP = 1 << 0

	_UFFD_PAGEFAULT_FLAG_WRITE = 1 << 0
	_UFFD_PAGEFAULT_FLAG_WP    = 1 << 1
	_UFFD_PAGEFAULT_FLAG_MINOR = 1 << 2

	_UFFD_EVENT_PAGEFAULT = 0x12

	uffdMsgSize = 32
)

type uffdioAPI struct {
	api      uint64
	features uint64
	ioctls   uint64
}

type uffdioRegister struct {
	start  uint64
	len    uint64
	mode   uint64
	ioctls uint64
}

type uffdioRange struct {
	start uint64
	len   uint64
}

type uffdioCopy struct {
	dst  uint64
	src  uint64
	len  uint64
	mode uint64
	copy int64
}

type uffdioZeropage struct {
	start    uint64
	len      uint64
	mode     uint64
	zeropage int64
}

type uffdioWriteprotect struct {
	start uint64
	len   uint64
	mode  uint64
}

// ProbeUffd reports whether userfaultfd(2) is usable on this system. A
// common failure mode is vm.unprivileged_userfaultfd=0 without
// CAP_SYS_PTRACE.
func ProbeUffd() bool {
	fd, _, errno := unix.Syscall(unix.SYS_USERFAULTFD, unix.O_CLOEXEC|unix.O_NONBLOCK, 0, 0)
	if errno != 0 {
		return false
	}
	unix.Close(int(fd))
	return true
}

// uffdMonitor is the Linux implementation of faultSource: it registers a
// memory region with userfaultfd, classifies each incoming fault, and
// exposes them on a channel for the owning Engine to resolve.
type uffdMonitor struct {
	fd       int
	region   *linuxRegion
	base     uintptr
	wpArmed  bool
	minorOK  bool
	ch       chan Fault
	stopR    int
	stopW    int
	wg       sync.WaitGroup
	log      *log.Entry
}

func newUffdMonitor(r *linuxRegion) (*uffdMonitor, error) {
	fd, _, errno := unix.Syscall(unix.SYS_USERFAULTFD, unix.O_CLOEXEC|unix.O_NONBLOCK, 0, 0)
	if errno != 0 {
		return nil, fmt.Errorf("userfaultfd: %w", errno)
	}

	api := uffdioAPI{api: _UFFD_API}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(_UFFDIO_API), uintptr(unsafe.Pointer(&api))); errno != 0 {
		unix.Close(int(fd))
		return nil, fmt.Errorf("UFFDIO_API: %w", errno)
	}

	m := &uffdMonitor{
		fd:      int(fd),
		region:  r,
		base:    uintptr(unsafe.Pointer(&r.data[0])),
		minorOK: api.features&_UFFD_FEATURE_MINOR_SHMEM != 0,
		ch:      make(chan Fault, 64),
		log:     log.WithField("component", "uffd"),
	}

	mode := uint64(_UFFDIO_REGISTER_MODE_MISSING | _UFFDIO_REGISTER_MODE_WP)
	if m.minorOK {
		mode |= _UFFDIO_REGISTER_MODE_MINOR
	}
	reg := uffdioRegister{start: uint64(m.base), len: uint64(len(r.data)), mode: mode}
	_, _, errno = unix.Syscall(unix.SYS_IOCTL, uintptr(m.fd), uintptr(_UFFDIO_REGISTER), uintptr(unsafe.Pointer(&reg)))
	if errno != 0 {
		// Degrade: retry with MISSING only, logging the loss of WP/MINOR
		// support rather than failing the whole engine.
		m.log.WithError(errno).Warn("full UFFDIO_REGISTER failed, retrying MISSING-only")
		reg = uffdioRegister{start: uint64(m.base), len: uint64(len(r.data)), mode: _UFFDIO_REGISTER_MODE_MISSING}
		if _, _, errno = unix.Syscall(unix.SYS_IOCTL, uintptr(m.fd), uintptr(_UFFDIO_REGISTER), uintptr(unsafe.Pointer(&reg))); errno != 0 {
			unix.Close(m.fd)
			return nil, fmt.Errorf("UFFDIO_REGISTER: %w", errno)
		}
	} else {
		m.wpArmed = true
	}

	stopR, stopW, err := pipe2CloexecNonblock()
	if err != nil {
		unix.Close(m.fd)
		return nil, fmt.Errorf("pipe2: %w", err)
	}
	m.stopR, m.stopW = stopR, stopW

	m.wg.Add(1)
	go m.run()
	return m, nil
}

func pipe2CloexecNonblock() (int, int, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}

func (m *uffdMonitor) events() <-chan Fault {
	return m.ch
}

func (m *uffdMonitor) addrToChunk(addr uint64) int {
	off := int64(addr) - int64(m.base)
	if off < 0 {
		return -1
	}
	return int(off / int64(hasher.ChunkSize))
}

func (m *uffdMonitor) run() {
	defer m.wg.Done()
	var buf [uffdMsgSize * 16]byte

	for {
		fds := []unix.PollFd{
			{Fd: int32(m.fd), Events: unix.POLLIN},
			{Fd: int32(m.stopR), Events: unix.POLLIN},
		}
		n, err := unix.Poll(fds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			close(m.ch)
			return
		}
		if n == 0 {
			continue
		}
		if fds[1].Revents&unix.POLLIN != 0 {
			close(m.ch)
			return
		}
		if fds[0].Revents&unix.POLLIN == 0 {
			continue
		}

		nr, err := unix.Read(m.fd, buf[:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			close(m.ch)
			return
		}

		for i := 0; i+uffdMsgSize <= nr; i += uffdMsgSize {
			msg := buf[i : i+uffdMsgSize]
			if msg[0] != _UFFD_EVENT_PAGEFAULT {
				continue
			}
			flags := binary.LittleEndian.Uint64(msg[8:16])
			addr := binary.LittleEndian.Uint64(msg[16:24])

			class := FaultMissing
			switch {
			case flags&_UFFD_PAGEFAULT_FLAG_WP != 0:
				class = FaultWriteProtect
			case flags&_UFFD_PAGEFAULT_FLAG_MINOR != 0:
				class = FaultMinor
			}

			chunk := m.addrToChunk(addr)
			if chunk < 0 {
				continue
			}
			m.ch <- Fault{Chunk: chunk, Class: class}
		}
	}
}

func (m *uffdMonitor) chunkAddr(chunk int) uint64 {
	return uint64(m.base) + uint64(chunk)*uint64(hasher.ChunkSize)
}

func (m *uffdMonitor) respondMissing(chunk int, data []byte) error {
	cp := uffdioCopy{
		dst:  m.chunkAddr(chunk),
		src:  uint64(uintptr(unsafe.Pointer(&data[0]))),
		len:  uint64(len(data)),
		mode: 0,
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(m.fd), uintptr(_UFFDIO_COPY), uintptr(unsafe.Pointer(&cp)))
	if errno != 0 {
		return fmt.Errorf("UFFDIO_COPY: %w", errno)
	}
	return nil
}

func (m *uffdMonitor) respondWriteProtect(chunk int) error {
	if !m.wpArmed {
		return nil
	}
	wp := uffdioWriteprotect{
		start: m.chunkAddr(chunk),
		len:   uint64(hasher.ChunkSize),
		mode:  0, // clearing WP mode lifts the protection and wakes the faulting thread
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(m.fd), uintptr(_UFFDIO_WRITEPROTECT), uintptr(unsafe.Pointer(&wp)))
	if errno != 0 {
		return fmt.Errorf("UFFDIO_WRITEPROTECT: %w", errno)
	}
	return nil
}

func (m *uffdMonitor) close() error {
	unix.Write(m.stopW, []byte{0})
	m.wg.Wait()
	unix.Close(m.stopR)
	unix.Close(m.stopW)
	return unix.Close(m.fd)
}
