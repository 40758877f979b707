//go:build !linux

package engine

// portableRegion is the non-Linux fallback backing: a plain always-resident
// byte slice. There is no page-fault interception outside Linux, so every
// chunk stays mapped read-write for the engine's lifetime and protect calls
// are no-ops.
type portableRegion struct {
	data []byte
}

func newBacking(size int) (backing, faultSource, error) {
	return &portableRegion{data: make([]byte, size)}, nil, nil
}

func (r *portableRegion) bytes() []byte { return r.data }

func (r *portableRegion) protectNone(offset, length int) error      { return nil }
func (r *portableRegion) protectReadOnly(offset, length int) error  { return nil }
func (r *portableRegion) protectReadWrite(offset, length int) error { return nil }

func (r *portableRegion) close() error { return nil }

// ProbeUffd always reports false outside Linux.
func ProbeUffd() bool { return false }
