// Package engine implements the per-contract state engine: a page-faulted
// memory region backing a contract's working set, an incremental tree hash
// over that region, and the glue that evicts cold chunks to disk under a
// process-wide RAM budget.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/hackerby888/qubic-core-lite/internal/hasher"
	"github.com/hackerby888/qubic-core-lite/internal/lru"
	"github.com/hackerby888/qubic-core-lite/internal/pager"
)

// loadRetryCap is the maximum backoff between load-from-disk retries for a
// missing/minor fault. The mutator thread is blocked on the faulting
// instruction until the load succeeds, so this retries indefinitely rather
// than giving up.
const loadRetryCap = time.Second

// ErrClosed is returned by any operation on an Engine that has already been
// closed.
var ErrClosed = errors.New("engine: closed")

// Config describes the parameters of a single contract's memory region.
type Config struct {
	ContractIndex uint32
	ContractName  string
	NonPaddedSize int
	SecurityLevel int
}

// Engine owns one contract's memory region, its chunk hasher, and the
// residency bookkeeping needed to page chunks in and out under the process
// RAM budget.
type Engine struct {
	mu sync.Mutex

	contractIndex uint32
	nonPaddedSize int
	maxChunks     int

	backing backing
	faults  faultSource
	hasher  *hasher.ChunkHasher
	lru     *lru.Tracker
	pager   *pager.Pager

	resident map[int]bool
	closed   bool

	log *log.Entry
}

// backing abstracts the platform-specific memory region behind the engine.
// On Linux it is a memfd-backed MAP_SHARED mmap with mprotect-driven fault
// induction; elsewhere it degrades to a plain always-resident byte slice.
type backing interface {
	bytes() []byte
	protectNone(offset, length int) error
	protectReadOnly(offset, length int) error
	protectReadWrite(offset, length int) error
	close() error
}

// faultSource abstracts the platform-specific page-fault monitor. On
// non-Linux platforms it never produces events.
type faultSource interface {
	events() <-chan Fault
	respondMissing(chunk int, data []byte) error
	respondWriteProtect(chunk int) error
	close() error
}

// FaultClass distinguishes the three userfaultfd fault classes the engine
// reacts to.
type FaultClass int

const (
	// FaultMissing indicates the chunk has no backing page: a cold read.
	FaultMissing FaultClass = iota
	// FaultMinor indicates a page exists but is not yet mapped into this
	// process's page tables (shared-memory minor fault).
	FaultMinor
	// FaultWriteProtect indicates a write to a page previously mapped
	// read-only, i.e. the first write since the chunk was last digested.
	FaultWriteProtect
)

// Fault is a single page-fault event translated into chunk coordinates.
type Fault struct {
	Chunk int
	Class FaultClass
}

// New creates an Engine for a contract's memory region and registers it
// with the given LRU tracker and on-disk pager.
func New(cfg Config, tracker *lru.Tracker, pg *pager.Pager) (*Engine, error) {
	if cfg.NonPaddedSize < 0 {
		return nil, fmt.Errorf("engine: negative NonPaddedSize")
	}
	paddedSize := padToChunk(cfg.NonPaddedSize)

	b, fs, err := newBacking(paddedSize)
	if err != nil {
		return nil, fmt.Errorf("engine: allocating region: %w", err)
	}

	e := &Engine{
		contractIndex: cfg.ContractIndex,
		nonPaddedSize: cfg.NonPaddedSize,
		maxChunks:     (paddedSize + hasher.ChunkSize - 1) / hasher.ChunkSize,
		backing:       b,
		faults:        fs,
		hasher:        hasher.New(cfg.NonPaddedSize),
		lru:           tracker,
		pager:         pg,
		resident:      make(map[int]bool),
		log: log.WithFields(log.Fields{
			"component":     "engine",
			"contract":      cfg.ContractIndex,
			"contract_name": cfg.ContractName,
		}),
	}
	for i := 0; i < e.maxChunks; i++ {
		e.resident[i] = true
	}
	if tracker != nil {
		tracker.Register(cfg.ContractIndex, e.maxChunks)
	}
	go e.handleFaults()
	return e, nil
}

func padToChunk(n int) int {
	if n%hasher.ChunkSize == 0 {
		return n
	}
	return (n/hasher.ChunkSize + 1) * hasher.ChunkSize
}

// Bytes exposes the region's backing slice for direct read/write access by
// callers that already hold the engine's lock discipline (e.g. a higher
// level contract VM). Writes through this slice are only observed by the
// digest after the corresponding chunk is marked changed or a write-protect
// fault fires.
func (e *Engine) Bytes() []byte {
	return e.backing.bytes()
}

// Digest computes the tree hash of the region's first NonPaddedSize bytes.
func (e *Engine) Digest(out []byte, outLen int, useCache bool) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	touched, err := e.ensureAllResidentLocked()
	if err != nil {
		e.mu.Unlock()
		return err
	}
	err = e.hasher.Digest(e.backing.bytes(), out, outLen, useCache)
	e.mu.Unlock()
	e.touchChunks(touched)
	return err
}

// DigestAndReprotect computes the digest and then re-arms write protection
// across every chunk, so that the next write anywhere in the region surfaces
// as a fresh write-protect fault and marks its chunk dirty automatically.
func (e *Engine) DigestAndReprotect(out []byte, outLen int, useCache bool) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	touched, err := e.ensureAllResidentLocked()
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if err = e.hasher.Digest(e.backing.bytes(), out, outLen, useCache); err == nil {
		err = e.reprotectWritesLocked()
	}
	e.mu.Unlock()
	e.touchChunks(touched)
	return err
}

// MarkChunkChanged flags chunk i dirty in the underlying hasher, forcing it
// to be re-hashed on the next Digest call.
func (e *Engine) MarkChunkChanged(i int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hasher.MarkChunkChanged(i)
}

// ReprotectWrites write-protects the whole region so that the next write to
// any chunk produces a write-protect fault.
func (e *Engine) ReprotectWrites() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return e.reprotectWritesLocked()
}

// reprotectWritesLocked arms write-protection across the whole region. If
// the ioctl fails partway through, some chunks could be left unprotected
// with no way to tell which: a subsequent write to one of those chunks
// would never raise a write-protect fault and MarkChunkChanged would never
// fire for it, letting Digest return a stale result. So on any error here
// every chunk is conservatively marked dirty, forcing a full re-hash on the
// next Digest regardless of which chunks actually lost protection.
func (e *Engine) reprotectWritesLocked() error {
	err := e.backing.protectReadOnly(0, e.maxChunks*hasher.ChunkSize)
	if err != nil {
		e.log.WithError(err).Warn("write-protect arming failed, marking all chunks dirty")
		for i := 0; i < e.maxChunks; i++ {
			e.hasher.MarkChunkChanged(i)
		}
	}
	return err
}

// ReprotectReads unmaps every chunk's pages entirely, so that the next
// access of any kind (read or write) produces a missing-page fault. Used to
// force cold chunks out of the resident set without an explicit evict call.
func (e *Engine) ReprotectReads() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if err := e.backing.protectNone(0, e.maxChunks*hasher.ChunkSize); err != nil {
		return err
	}
	for i := range e.resident {
		delete(e.resident, i)
	}
	return nil
}

// SaveChunkToDisk persists chunk i's bytes via the pager and marks it
// non-resident, freeing it from the RAM budget.
func (e *Engine) SaveChunkToDisk(i int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return e.saveChunkToDiskLocked(i)
}

func (e *Engine) saveChunkToDiskLocked(i int) error {
	if i < 0 || i >= e.maxChunks {
		return fmt.Errorf("engine: chunk %d out of range", i)
	}
	if !e.resident[i] {
		return nil
	}
	chunk := e.chunkBytesLocked(i)
	if e.pager != nil {
		if err := e.pager.Save(e.contractIndex, uint32(i), chunk); err != nil {
			return fmt.Errorf("engine: saving chunk %d: %w", i, err)
		}
	}
	off := i * hasher.ChunkSize
	if err := e.backing.protectNone(off, hasher.ChunkSize); err != nil {
		return fmt.Errorf("engine: unmapping chunk %d: %w", i, err)
	}
	delete(e.resident, i)
	if e.lru != nil {
		e.lru.Remove(e.contractIndex, uint32(i))
	}
	return nil
}

// LoadChunkFromDisk reads chunk i back from the pager into the resident
// region and marks it resident again.
func (e *Engine) LoadChunkFromDisk(i int) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	loaded, err := e.loadChunkFromDiskLocked(i)
	e.mu.Unlock()
	if loaded {
		e.touchChunks([]int{i})
	}
	return err
}

// loadChunkFromDiskLocked maps and fills chunk i if it is not already
// resident. It must be called with e.mu held, and it never touches the LRU
// tracker itself: the caller is responsible for calling touchChunks after
// releasing e.mu, since the tracker may synchronously evict another chunk
// from this same engine and re-enter e.mu.
func (e *Engine) loadChunkFromDiskLocked(i int) (loaded bool, err error) {
	if i < 0 || i >= e.maxChunks {
		return false, fmt.Errorf("engine: chunk %d out of range", i)
	}
	if e.resident[i] {
		return false, nil
	}
	if err := e.backing.protectReadWrite(i*hasher.ChunkSize, hasher.ChunkSize); err != nil {
		return false, fmt.Errorf("engine: mapping chunk %d: %w", i, err)
	}
	if e.pager != nil {
		data, err := e.pager.Load(e.contractIndex, uint32(i))
		if err != nil {
			return false, fmt.Errorf("engine: loading chunk %d: %w", i, err)
		}
		copy(e.chunkBytesLocked(i), data)
	}
	e.resident[i] = true
	return true, nil
}

// touchChunks registers newly-loaded chunks with the LRU tracker. Must be
// called without e.mu held.
func (e *Engine) touchChunks(chunks []int) {
	if e.lru == nil {
		return
	}
	for _, i := range chunks {
		e.lru.Touch(e.contractIndex, uint32(i), hasher.ChunkSize, e.evictCallback)
	}
}

// FlushAll persists every resident chunk to disk. When changedOnly is true,
// only chunks that are currently marked dirty in the hasher are written.
func (e *Engine) FlushAll(changedOnly bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	for i := 0; i < e.maxChunks; i++ {
		if !e.resident[i] {
			continue
		}
		if changedOnly && !e.hasher.Dirty(i) {
			continue
		}
		chunk := e.chunkBytesLocked(i)
		if e.pager != nil {
			if err := e.pager.Save(e.contractIndex, uint32(i), chunk); err != nil {
				return fmt.Errorf("engine: flushing chunk %d: %w", i, err)
			}
		}
	}
	return nil
}

// TotalResidentBytes returns the number of bytes currently resident for
// this engine's region.
func (e *Engine) TotalResidentBytes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.resident) * hasher.ChunkSize
}

// GetMaxChunks returns the number of chunks in this contract's region.
func (e *Engine) GetMaxChunks() int {
	return e.maxChunks
}

func (e *Engine) chunkBytesLocked(i int) []byte {
	off := i * hasher.ChunkSize
	end := off + hasher.ChunkSize
	buf := e.backing.bytes()
	if end > len(buf) {
		end = len(buf)
	}
	return buf[off:end]
}

// ensureAllResidentLocked loads every non-resident chunk and returns the
// indices it loaded, deferring LRU bookkeeping to the caller (see
// loadChunkFromDiskLocked).
func (e *Engine) ensureAllResidentLocked() ([]int, error) {
	var touched []int
	for i := 0; i < e.maxChunks; i++ {
		if e.resident[i] {
			continue
		}
		loaded, err := e.loadChunkFromDiskLocked(i)
		if err != nil {
			return nil, err
		}
		if loaded {
			touched = append(touched, i)
		}
	}
	return touched, nil
}

// evictCallback is handed to the LRU tracker so it can ask this engine to
// page a specific chunk out when the global RAM budget is exceeded.
func (e *Engine) evictCallback(chunkIndex uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if err := e.saveChunkToDiskLocked(int(chunkIndex)); err != nil {
		e.log.WithError(err).Warn("eviction save failed, chunk stays resident")
	}
}

// resolveFaultWithRetry loads chunk from disk, retrying with exponential
// backoff capped at loadRetryCap until it succeeds or the engine is closed
// out from under it. A load failure here is an IOError: the fault must be
// resolved before the faulting instruction can resume, so there is nothing
// sensible to do but keep trying.
func (e *Engine) resolveFaultWithRetry(chunk int) (data []byte, ok bool) {
	backoff := 10 * time.Millisecond
	for {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return nil, false
		}
		loaded, err := e.loadChunkFromDiskLocked(chunk)
		if err == nil {
			data = e.chunkBytesLocked(chunk)
			e.mu.Unlock()
			if loaded {
				e.touchChunks([]int{chunk})
			}
			return data, true
		}
		e.mu.Unlock()

		e.log.WithError(err).WithField("chunk", chunk).Warn("load-from-disk failed, retrying")
		time.Sleep(backoff)
		if backoff *= 2; backoff > loadRetryCap {
			backoff = loadRetryCap
		}
	}
}

// handleFaults drains the platform fault source and resolves each fault by
// loading the corresponding chunk from disk (missing/minor) or marking it
// dirty (write-protect). On platforms with no fault source it returns
// immediately.
func (e *Engine) handleFaults() {
	if e.faults == nil {
		return
	}
	for f := range e.faults.events() {
		switch f.Class {
		case FaultMissing, FaultMinor:
			data, ok := e.resolveFaultWithRetry(f.Chunk)
			if !ok {
				continue
			}
			if err := e.faults.respondMissing(f.Chunk, data); err != nil {
				e.log.WithError(err).WithField("chunk", f.Chunk).Warn("failed to respond to fault")
			}
		case FaultWriteProtect:
			e.MarkChunkChanged(f.Chunk)
			e.touchChunks([]int{f.Chunk})
			if err := e.faults.respondWriteProtect(f.Chunk); err != nil {
				e.log.WithError(err).WithField("chunk", f.Chunk).Warn("failed to lift write protection")
			}
		}
	}
}

// Close releases the region, the fault monitor, and unregisters from the
// LRU tracker.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	var errs []error
	if e.faults != nil {
		if err := e.faults.close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.backing.close(); err != nil {
		errs = append(errs, err)
	}
	if e.lru != nil {
		e.lru.Unregister(e.contractIndex)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
