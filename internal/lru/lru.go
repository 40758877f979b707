// Package lru tracks global chunk residency across every contract engine
// and evicts the least-recently-touched chunks when the process RAM budget
// is exceeded.
package lru

import (
	"container/list"
	"sync"

	log "github.com/sirupsen/logrus"
)

// key packs a (contractIndex, chunkIndex) pair into a single comparable
// value for use as a map key.
type key uint64

func packKey(contractIndex, chunkIndex uint32) key {
	return key(uint64(contractIndex)<<32 | uint64(chunkIndex))
}

// EvictFunc is called with a chunk index when the tracker decides that
// chunk must be paged out. The owning engine supplies this at Touch time
// for every chunk it registers.
type EvictFunc func(chunkIndex uint32)

type entry struct {
	contractIndex uint32
	chunkIndex    uint32
	bytes         int
	evict         EvictFunc
}

// Tracker is the process-wide LRU accountant. A single Tracker is shared by
// every engine via the registry so that eviction decisions are made against
// one global RAM budget rather than per contract.
type Tracker struct {
	mu         sync.Mutex
	budget     uint64
	used       uint64
	order      *list.List
	index      map[key]*list.Element
	registered map[uint32]int // contractIndex -> chunk count; not read by eviction or Stats

	log *log.Entry
}

// NewTracker creates a Tracker enforcing the given RAM budget in bytes. A
// zero budget means unlimited (no eviction is ever triggered).
func NewTracker(budgetBytes uint64) *Tracker {
	return &Tracker{
		budget:     budgetBytes,
		order:      list.New(),
		index:      make(map[key]*list.Element),
		registered: make(map[uint32]int),
		log:        log.WithField("component", "lru"),
	}
}

// Register records that a contract's engine has maxChunks chunks. Purely
// informational bookkeeping: the count does not affect eviction and is not
// returned by Stats.
func (t *Tracker) Register(contractIndex uint32, maxChunks int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.registered[contractIndex] = maxChunks
}

// Unregister drops every entry belonging to a contract, e.g. when its
// engine is closed.
func (t *Tracker) Unregister(contractIndex uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.registered, contractIndex)
	for k, el := range t.index {
		e := el.Value.(*entry)
		if e.contractIndex != contractIndex {
			continue
		}
		t.used -= uint64(e.bytes)
		t.order.Remove(el)
		delete(t.index, k)
	}
}

// Touch marks (contractIndex, chunkIndex) as the most recently used chunk,
// accounting for its size against the RAM budget and evicting older chunks
// (via their registered EvictFunc) until the budget is satisfied again.
func (t *Tracker) Touch(contractIndex, chunkIndex uint32, size int, evict EvictFunc) {
	t.mu.Lock()
	k := packKey(contractIndex, chunkIndex)
	if el, ok := t.index[k]; ok {
		t.order.MoveToFront(el)
		t.mu.Unlock()
		return
	}
	el := t.order.PushFront(&entry{
		contractIndex: contractIndex,
		chunkIndex:    chunkIndex,
		bytes:         size,
		evict:         evict,
	})
	t.index[k] = el
	t.used += uint64(size)
	t.mu.Unlock()

	t.tryEvict()
}

// Remove drops a single chunk from the tracked set without invoking its
// evict callback, used when the owning engine has already paged it out
// itself (e.g. via an explicit SaveChunkToDisk call).
func (t *Tracker) Remove(contractIndex, chunkIndex uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := packKey(contractIndex, chunkIndex)
	el, ok := t.index[k]
	if !ok {
		return
	}
	e := el.Value.(*entry)
	t.used -= uint64(e.bytes)
	t.order.Remove(el)
	delete(t.index, k)
}

// tryEvict pops least-recently-used entries and invokes their EvictFunc
// until total accounted usage is back under budget.
func (t *Tracker) tryEvict() {
	if t.budget == 0 {
		return
	}
	for {
		t.mu.Lock()
		if t.used <= t.budget {
			t.mu.Unlock()
			return
		}
		el := t.order.Back()
		if el == nil {
			t.mu.Unlock()
			return
		}
		e := el.Value.(*entry)
		t.order.Remove(el)
		delete(t.index, packKey(e.contractIndex, e.chunkIndex))
		t.used -= uint64(e.bytes)
		t.mu.Unlock()

		if e.evict != nil {
			e.evict(e.chunkIndex)
		}
	}
}

// SumResidentBytes returns the total bytes currently accounted for across
// every tracked chunk.
func (t *Tracker) SumResidentBytes() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used
}

// SetRAMBudget changes the enforced budget, immediately triggering eviction
// if the new budget is lower than current usage.
func (t *Tracker) SetRAMBudget(budgetBytes uint64) {
	t.mu.Lock()
	t.budget = budgetBytes
	t.mu.Unlock()
	t.tryEvict()
}

// Snapshot describes the tracker-wide budget and accounted usage, in bytes,
// for reporting. It holds no per-contract breakdown.
type Snapshot struct {
	Budget uint64
	Used   uint64
}

// Stats returns a point-in-time snapshot of budget and usage, for the
// monitor CLI command.
func (t *Tracker) Stats() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{Budget: t.budget, Used: t.used}
}
