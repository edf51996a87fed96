package content

// Linear congruential parameters (the msvcrt rand recurrence). Each output
// byte is the high 16 bits of the 32-bit state truncated to a byte.
const (
	lcgMul = 214013
	lcgAdd = 2531011
)

// Sequence is the pseudo-random generator state for address and window
// selection. It is threaded explicitly through every call that consumes
// randomness; it never touches block content, which is always the
// deterministic keystream. Given the same seed and the same sequence of
// calls the outputs are exactly reproducible.
type Sequence struct {
	state uint32
}

// NewSequence returns a generator seeded with seed. A zero seed is
// coerced to one so the recurrence does not start from the degenerate
// state.
func NewSequence(seed uint32) Sequence {
	if seed == 0 {
		seed = 1
	}
	return Sequence{state: seed}
}

func (s *Sequence) next() byte {
	if s.state == 0 {
		s.state = 1
	}
	s.state = s.state*lcgMul + lcgAdd
	return byte(s.state >> 16)
}

// Uint64 assembles eight generated bytes, most significant first.
func (s *Sequence) Uint64() uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(s.next())
	}
	return v
}

// Uint32 assembles four generated bytes, most significant first.
func (s *Sequence) Uint32() uint32 {
	var v uint32
	for i := 0; i < 4; i++ {
		v = v<<8 | uint32(s.next())
	}
	return v
}

// Bytes fills p with generated bytes in generation order.
func (s *Sequence) Bytes(p []byte) {
	for i := range p {
		p[i] = s.next()
	}
}
