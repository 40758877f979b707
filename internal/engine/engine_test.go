package engine

import (
	"errors"
	"io"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/hackerby888/qubic-core-lite/internal/hasher"
	"github.com/hackerby888/qubic-core-lite/internal/lru"
	"github.com/hackerby888/qubic-core-lite/internal/pager"
)

func nullLogEntry() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}

// failingBacking is a fake backing whose protectReadOnly always fails, used
// to exercise reprotectWritesLocked's dirty-all fallback without depending
// on userfaultfd or a real mmap region.
type failingBacking struct {
	buf []byte
}

func (b *failingBacking) bytes() []byte { return b.buf }

func (b *failingBacking) protectNone(offset, length int) error { return nil }

func (b *failingBacking) protectReadOnly(offset, length int) error {
	return errors.New("simulated ioctl failure")
}

func (b *failingBacking) protectReadWrite(offset, length int) error { return nil }

func (b *failingBacking) close() error { return nil }

func TestReprotectWritesLocked_FailureMarksAllChunksDirty(t *testing.T) {
	size := hasher.ChunkSize * 3
	e := &Engine{
		maxChunks: size / hasher.ChunkSize,
		backing:   &failingBacking{buf: make([]byte, size)},
		hasher:    hasher.New(size),
		resident:  make(map[int]bool),
		log:       nullLogEntry(),
	}

	if err := e.ReprotectWrites(); err == nil {
		t.Fatal("expected error from ReprotectWrites when protectReadOnly fails")
	}
	for i := 0; i < e.maxChunks; i++ {
		if !e.hasher.Dirty(i) {
			t.Errorf("chunk %d expected dirty after a failed reprotect", i)
		}
	}
}

func newTestEngine(t *testing.T, size int) *Engine {
	t.Helper()
	if !ProbeUffd() {
		t.Skip("userfaultfd not available in this environment")
	}
	tracker := lru.NewTracker(0)
	pg := pager.New(t.TempDir(), false)
	e, err := New(Config{ContractIndex: 1, NonPaddedSize: size, SecurityLevel: 128}, tracker, pg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestEngine_DigestMatchesManualHash(t *testing.T) {
	size := hasher.ChunkSize*2 + 100
	e := newTestEngine(t, size)

	data := e.Bytes()
	for i := range data[:size] {
		data[i] = byte(i)
	}

	out := make([]byte, 32)
	if err := e.Digest(out, 32, true); err != nil {
		t.Fatalf("Digest() error = %v", err)
	}

	want, err := hasher.OneShot(data[:size], 32)
	if err != nil {
		t.Fatalf("OneShot() error = %v", err)
	}
	for i := range out {
		if out[i] != want[i] {
			t.Fatalf("Digest mismatch at byte %d: got %x want %x", i, out, want)
		}
	}
}

func TestEngine_MaxChunks(t *testing.T) {
	e := newTestEngine(t, hasher.ChunkSize*3+1)
	if got, want := e.GetMaxChunks(), 4; got != want {
		t.Errorf("GetMaxChunks() = %d, want %d", got, want)
	}
}

func TestEngine_SaveAndLoadChunk(t *testing.T) {
	e := newTestEngine(t, hasher.ChunkSize*2)
	data := e.Bytes()
	for i := range data {
		data[i] = 0xab
	}

	if err := e.SaveChunkToDisk(0); err != nil {
		t.Fatalf("SaveChunkToDisk() error = %v", err)
	}
	if got := e.TotalResidentBytes(); got != hasher.ChunkSize {
		t.Errorf("TotalResidentBytes() = %d, want %d", got, hasher.ChunkSize)
	}

	if err := e.LoadChunkFromDisk(0); err != nil {
		t.Fatalf("LoadChunkFromDisk() error = %v", err)
	}
	if got := e.TotalResidentBytes(); got != hasher.ChunkSize*2 {
		t.Errorf("TotalResidentBytes() after reload = %d, want %d", got, hasher.ChunkSize*2)
	}
	reloaded := e.Bytes()
	for i := 0; i < hasher.ChunkSize; i++ {
		if reloaded[i] != 0xab {
			t.Fatalf("reloaded chunk byte %d = %x, want 0xab", i, reloaded[i])
		}
	}
}

func TestEngine_FlushAllChangedOnly(t *testing.T) {
	e := newTestEngine(t, hasher.ChunkSize*2)
	out := make([]byte, 32)
	if err := e.Digest(out, 32, true); err != nil {
		t.Fatalf("Digest() error = %v", err)
	}
	e.MarkChunkChanged(1)
	if err := e.FlushAll(true); err != nil {
		t.Fatalf("FlushAll() error = %v", err)
	}
}
