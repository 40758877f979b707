package lru

import "testing"

func TestTouch_NoEvictionUnderBudget(t *testing.T) {
	tr := NewTracker(1000)
	var evicted []uint32
	tr.Touch(1, 0, 100, func(c uint32) { evicted = append(evicted, c) })
	tr.Touch(1, 1, 100, func(c uint32) { evicted = append(evicted, c) })
	if len(evicted) != 0 {
		t.Errorf("unexpected eviction: %v", evicted)
	}
	if got := tr.SumResidentBytes(); got != 200 {
		t.Errorf("SumResidentBytes() = %d, want 200", got)
	}
}

func TestTouch_EvictsOldestWhenOverBudget(t *testing.T) {
	tr := NewTracker(150)
	var evicted []uint32
	evictFn := func(c uint32) { evicted = append(evicted, c) }

	tr.Touch(1, 0, 100, evictFn)
	tr.Touch(1, 1, 100, evictFn)

	if len(evicted) != 1 || evicted[0] != 0 {
		t.Fatalf("evicted = %v, want [0]", evicted)
	}
	if got := tr.SumResidentBytes(); got != 100 {
		t.Errorf("SumResidentBytes() = %d, want 100", got)
	}
}

func TestTouch_RecentlyTouchedSurvives(t *testing.T) {
	tr := NewTracker(150)
	var evicted []uint32
	evictFn := func(c uint32) { evicted = append(evicted, c) }

	tr.Touch(1, 0, 100, evictFn)
	tr.Touch(1, 1, 40, evictFn)
	tr.Touch(1, 0, 100, evictFn) // re-touch 0, making 1 the oldest
	tr.Touch(1, 2, 40, evictFn)

	for _, c := range evicted {
		if c == 0 {
			t.Errorf("chunk 0 was evicted despite being re-touched: %v", evicted)
		}
	}
}

func TestRemove_DropsWithoutCallingEvict(t *testing.T) {
	tr := NewTracker(0)
	called := false
	tr.Touch(2, 5, 64, func(c uint32) { called = true })
	tr.Remove(2, 5)
	if called {
		t.Error("Remove should not invoke the evict callback")
	}
	if got := tr.SumResidentBytes(); got != 0 {
		t.Errorf("SumResidentBytes() = %d, want 0", got)
	}
}

func TestUnregister_RemovesAllEntriesForContract(t *testing.T) {
	tr := NewTracker(0)
	tr.Touch(3, 0, 10, nil)
	tr.Touch(3, 1, 10, nil)
	tr.Touch(4, 0, 10, nil)

	tr.Unregister(3)
	if got := tr.SumResidentBytes(); got != 10 {
		t.Errorf("SumResidentBytes() = %d, want 10", got)
	}
}

func TestSetRAMBudget_TriggersEviction(t *testing.T) {
	tr := NewTracker(0)
	var evicted []uint32
	tr.Touch(1, 0, 100, func(c uint32) { evicted = append(evicted, c) })
	tr.Touch(1, 1, 100, func(c uint32) { evicted = append(evicted, c) })

	tr.SetRAMBudget(100)
	if len(evicted) != 1 || evicted[0] != 0 {
		t.Errorf("evicted = %v, want [0]", evicted)
	}
}
