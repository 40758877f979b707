package pager

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/hackerby888/qubic-core-lite/internal/hasher"
)

func TestSaveAndLoad_Uncompressed(t *testing.T) {
	p := New(t.TempDir(), false)
	data := bytes.Repeat([]byte{0x42}, hasher.ChunkSize)

	if err := p.Save(1, 2, data); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := p.Load(1, 2)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("Load() did not round-trip Save() data")
	}
}

func TestSaveAndLoad_Compressed(t *testing.T) {
	p := New(t.TempDir(), true)
	data := bytes.Repeat([]byte{0x7, 0x0, 0x0, 0x0}, hasher.ChunkSize/4)

	if err := p.Save(5, 9, data); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := p.Load(5, 9)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("Load() did not round-trip compressed Save() data")
	}
}

func TestLoad_MissingChunkReturnsZeroes(t *testing.T) {
	p := New(t.TempDir(), false)
	got, err := p.Load(1, 1)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != hasher.ChunkSize {
		t.Fatalf("len(got) = %d, want %d", len(got), hasher.ChunkSize)
	}
	for _, b := range got {
		if b != 0 {
			t.Fatal("expected all-zero buffer for a missing chunk")
		}
	}
}

func TestLoad_CorruptChunkReturnsError(t *testing.T) {
	p := New(t.TempDir(), false)
	if err := p.Save(2, 4, bytes.Repeat([]byte{0x1}, hasher.ChunkSize)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	path, err := p.chunkPath(2, 4)
	if err != nil {
		t.Fatalf("chunkPath() error = %v", err)
	}
	if err := os.WriteFile(path, []byte("short"), 0o644); err != nil {
		t.Fatalf("truncating chunk file: %v", err)
	}

	_, err = p.Load(2, 4)
	if !errors.Is(err, ErrCorruptChunk) {
		t.Fatalf("Load() error = %v, want ErrCorruptChunk", err)
	}
}

func TestDelete_RemovesFile(t *testing.T) {
	p := New(t.TempDir(), false)
	if err := p.Save(1, 1, make([]byte, hasher.ChunkSize)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := p.Delete(1, 1); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	// Deleting again should be a no-op, not an error.
	if err := p.Delete(1, 1); err != nil {
		t.Fatalf("Delete() on already-deleted chunk error = %v", err)
	}
}
