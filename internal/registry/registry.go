// Package registry holds every live contract engine for the current
// process, replacing what would otherwise be an implicit package-level map.
package registry

import (
	"fmt"
	"sync"

	"github.com/hackerby888/qubic-core-lite/internal/engine"
	"github.com/hackerby888/qubic-core-lite/internal/lru"
	"github.com/hackerby888/qubic-core-lite/internal/pager"
)

// Registry is the process-wide set of active contract engines, all sharing
// one LRU tracker and one on-disk pager.
type Registry struct {
	mu      sync.RWMutex
	engines map[uint32]*engine.Engine

	Tracker *lru.Tracker
	Pager   *pager.Pager
}

// New creates an empty Registry backed by the given RAM budget and
// persistence directory.
func New(ramBudgetBytes uint64, persistDir string, compress bool) *Registry {
	return &Registry{
		engines: make(map[uint32]*engine.Engine),
		Tracker: lru.NewTracker(ramBudgetBytes),
		Pager:   pager.New(persistDir, compress),
	}
}

// Create allocates a new engine for contractIndex and registers it. It is
// an error to create an engine for an index that already exists.
func (r *Registry) Create(contractIndex uint32, contractName string, nonPaddedSize, securityLevel int) (*engine.Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.engines[contractIndex]; exists {
		return nil, fmt.Errorf("registry: contract %d already exists", contractIndex)
	}
	e, err := engine.New(engine.Config{
		ContractIndex: contractIndex,
		ContractName:  contractName,
		NonPaddedSize: nonPaddedSize,
		SecurityLevel: securityLevel,
	}, r.Tracker, r.Pager)
	if err != nil {
		return nil, err
	}
	r.engines[contractIndex] = e
	return e, nil
}

// Get returns the engine for contractIndex, if any.
func (r *Registry) Get(contractIndex uint32) (*engine.Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[contractIndex]
	return e, ok
}

// Remove closes and forgets the engine for contractIndex.
func (r *Registry) Remove(contractIndex uint32) error {
	r.mu.Lock()
	e, ok := r.engines[contractIndex]
	if ok {
		delete(r.engines, contractIndex)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return e.Close()
}

// List returns every registered contract index.
func (r *Registry) List() []uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]uint32, 0, len(r.engines))
	for idx := range r.engines {
		out = append(out, idx)
	}
	return out
}

// CloseAll closes every engine in the registry, collecting the first error
// encountered but continuing through the rest.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	engines := make([]*engine.Engine, 0, len(r.engines))
	for _, e := range r.engines {
		engines = append(engines, e)
	}
	r.engines = make(map[uint32]*engine.Engine)
	r.mu.Unlock()

	var firstErr error
	for _, e := range engines {
		if err := e.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
