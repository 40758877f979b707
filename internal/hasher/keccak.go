package hasher

// Keccak-p[1600,24] permutation operating on the 25-lane state used by the
// sponge in k12.go. This is the full 24-round permutation rather than the
// reduced round count some TurboSHAKE variants use; we only need internal
// consistency between Digest and OneShot, not interop with an external
// implementation, so the extra rounds cost nothing but a few cycles.

var rc = [24]uint64{
	0x0000000000000001, 0x0000000000008082, 0x800000000000808a, 0x8000000080008000,
	0x000000000000808b, 0x0000000080000001, 0x8000000080008081, 0x8000000000008009,
	0x000000000000008a, 0x0000000000000088, 0x0000000080008009, 0x000000008000000a,
	0x000000008000808b, 0x800000000000008b, 0x8000000000008089, 0x8000000000008003,
	0x8000000000008002, 0x8000000000000080, 0x000000000000800a, 0x800000008000000a,
	0x8000000080008081, 0x8000000000008080, 0x0000000080000001, 0x8000000080008008,
}

var rotc = [24]uint{
	1, 3, 6, 10, 15, 21, 28, 36, 45, 55, 2, 14,
	27, 41, 56, 8, 25, 43, 62, 18, 39, 61, 20, 44,
}

var piln = [24]uint{
	10, 7, 11, 17, 18, 3, 5, 16, 8, 21, 24, 4,
	15, 23, 19, 13, 12, 2, 20, 14, 22, 9, 6, 1,
}

func rotl64(x uint64, n uint) uint64 {
	return (x << n) | (x >> (64 - n))
}

// keccakF1600 runs the 24-round permutation in place over a 25-lane state
// laid out row-major (lane index = x + 5*y).
func keccakF1600(a *[25]uint64) {
	var bc [5]uint64
	for round := 0; round < 24; round++ {
		// theta
		for i := 0; i < 5; i++ {
			bc[i] = a[i] ^ a[i+5] ^ a[i+10] ^ a[i+15] ^ a[i+20]
		}
		for i := 0; i < 5; i++ {
			t := bc[(i+4)%5] ^ rotl64(bc[(i+1)%5], 1)
			for j := 0; j < 25; j += 5 {
				a[j+i] ^= t
			}
		}

		// rho + pi
		t := a[1]
		for i := 0; i < 24; i++ {
			j := piln[i]
			bc[0] = a[j]
			a[j] = rotl64(t, rotc[i])
			t = bc[0]
		}

		// chi
		for j := 0; j < 25; j += 5 {
			for i := 0; i < 5; i++ {
				bc[i] = a[j+i]
			}
			for i := 0; i < 5; i++ {
				a[j+i] ^= ^bc[(i+1)%5] & bc[(i+2)%5]
			}
		}

		// iota
		a[0] ^= rc[round]
	}
}

// sponge is a byte-addressable Keccak sponge with a fixed rate. Absorption
// and squeezing both operate a byte at a time against the little-endian
// view of the lane array, which is the conventional Keccak byte mapping.
type sponge struct {
	a          [25]uint64
	rate       int
	pos        int
	padPending bool
}

func newSponge(rate int) *sponge {
	return &sponge{rate: rate}
}

func (s *sponge) xorByte(index int, b byte) {
	lane := index / 8
	shift := uint(8 * (index % 8))
	s.a[lane] ^= uint64(b) << shift
}

func (s *sponge) readByte(index int) byte {
	lane := index / 8
	shift := uint(8 * (index % 8))
	return byte(s.a[lane] >> shift)
}

// absorb XORs p into the state, permuting on every completed rate-sized
// block. A block that exactly fills the rate is left unpermuted until more
// data arrives or the sponge is finalized, matching standard sponge
// absorb-on-demand behavior.
func (s *sponge) absorb(p []byte) {
	for len(p) > 0 {
		if s.pos == s.rate {
			keccakF1600(&s.a)
			s.pos = 0
		}
		n := len(p)
		if room := s.rate - s.pos; n > room {
			n = room
		}
		for i := 0; i < n; i++ {
			s.xorByte(s.pos+i, p[i])
		}
		s.pos += n
		p = p[n:]
	}
}

// absorbDomainSeparationByte XORs a suffix byte at the current absorb
// position. The final padding bit is deferred until the first squeeze call.
func (s *sponge) absorbDomainSeparationByte(b byte) {
	if s.pos == s.rate {
		keccakF1600(&s.a)
		s.pos = 0
	}
	s.xorByte(s.pos, b)
	s.padPending = true
}

// squeeze fills dst with output bytes, applying the pending final padding
// bit and permuting on the first call.
func (s *sponge) squeeze(dst []byte) {
	if s.padPending {
		s.xorByte(s.rate-1, 0x80)
		keccakF1600(&s.a)
		s.pos = 0
		s.padPending = false
	}
	for len(dst) > 0 {
		if s.pos == s.rate {
			keccakF1600(&s.a)
			s.pos = 0
		}
		n := len(dst)
		if room := s.rate - s.pos; n > room {
			n = room
		}
		for i := 0; i < n; i++ {
			dst[i] = s.readByte(s.pos + i)
		}
		s.pos += n
		dst = dst[n:]
	}
}
