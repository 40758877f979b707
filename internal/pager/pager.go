// Package pager persists evicted memory chunks to disk under a
// content-addressed filename and reloads them on demand.
package pager

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/s2"

	"github.com/hackerby888/qubic-core-lite/internal/hasher"
)

// ErrCorruptChunk is returned by Load when a decoded chunk's size does not
// match hasher.ChunkSize: the engine always pads a contract's region up to a
// whole number of chunks before ever saving one, so every chunk file this
// pager wrote is exactly hasher.ChunkSize bytes, and anything else means the
// file was truncated or corrupted on disk.
var ErrCorruptChunk = errors.New("pager: chunk file has wrong size")

// Pager writes and reads individual chunk files under a root directory,
// one subdirectory per contract. Compression is optional and only affects
// on-disk footprint; it has no bearing on the chunk hash, which is always
// computed over the uncompressed bytes.
type Pager struct {
	mu       sync.Mutex
	rootDir  string
	compress bool
}

// New creates a Pager rooted at dir. The directory is created lazily on
// first Save.
func New(dir string, compress bool) *Pager {
	return &Pager{rootDir: dir, compress: compress}
}

func (p *Pager) chunkPath(contractIndex, chunkIndex uint32) (string, error) {
	id, err := hasher.FileID(contractIndex, chunkIndex)
	if err != nil {
		return "", fmt.Errorf("pager: deriving chunk id: %w", err)
	}
	return filepath.Join(p.rootDir, fmt.Sprintf("contract_%d", contractIndex), id), nil
}

// Save writes data to the chunk file for (contractIndex, chunkIndex),
// compressing it first if the pager was configured to do so.
func (p *Pager) Save(contractIndex, chunkIndex uint32, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	path, err := p.chunkPath(contractIndex, chunkIndex)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("pager: creating contract dir: %w", err)
	}

	payload := data
	if p.compress {
		payload = s2.Encode(nil, data)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("pager: writing chunk file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("pager: committing chunk file: %w", err)
	}
	return nil
}

// Load reads back the chunk file for (contractIndex, chunkIndex),
// decompressing it if needed. A missing file is not an error: it returns a
// zero-filled buffer of chunkSize bytes, matching a chunk that was never
// written because every byte in it was already zero.
func (p *Pager) Load(contractIndex, chunkIndex uint32) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	path, err := p.chunkPath(contractIndex, chunkIndex)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make([]byte, hasher.ChunkSize), nil
		}
		return nil, fmt.Errorf("pager: reading chunk file: %w", err)
	}

	data := raw
	if p.compress {
		decoded, err := s2.Decode(nil, raw)
		if err != nil {
			return nil, fmt.Errorf("pager: decompressing chunk file: %w", err)
		}
		data = decoded
	}

	if len(data) != hasher.ChunkSize {
		return nil, fmt.Errorf("%w: contract %d chunk %d is %d bytes, want %d", ErrCorruptChunk, contractIndex, chunkIndex, len(data), hasher.ChunkSize)
	}
	return data, nil
}

// Delete removes a chunk file, if present. No other package calls it; the
// evict CLI command writes chunks out with SaveChunkToDisk instead.
func (p *Pager) Delete(contractIndex, chunkIndex uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	path, err := p.chunkPath(contractIndex, chunkIndex)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("pager: deleting chunk file: %w", err)
	}
	return nil
}
