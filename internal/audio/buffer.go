package audio

// Buffer accumulates captured PCM fragments in arrival order until they are
// drained as one chunk. It is not safe for concurrent use; the owner
// serialises access.
type Buffer struct {
	fragments [][]byte
	size      int
	max       int
}

// NewBuffer creates a buffer holding at most maxBytes. A zero limit means the
// buffer may grow without bound.
func NewBuffer(maxBytes int) *Buffer {
	return &Buffer{max: maxBytes}
}

// Append stores a copy of fragment. When the limit is exceeded the oldest
// whole fragments are discarded (never the one just appended) and the number
// of discarded bytes is returned.
func (b *Buffer) Append(fragment []byte) int {
	if len(fragment) == 0 {
		return 0
	}
	b.fragments = append(b.fragments, append([]byte(nil), fragment...))
	b.size += len(fragment)

	dropped := 0
	for b.max > 0 && b.size > b.max && len(b.fragments) > 1 {
		dropped += len(b.fragments[0])
		b.size -= len(b.fragments[0])
		b.fragments[0] = nil
		b.fragments = b.fragments[1:]
	}
	return dropped
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int { return b.size }

// Fragments returns the number of buffered fragments.
func (b *Buffer) Fragments() int { return len(b.fragments) }

// Drain concatenates every buffered fragment and empties the buffer.
func (b *Buffer) Drain() []byte {
	if b.size == 0 {
		b.fragments = nil
		return nil
	}
	out := make([]byte, 0, b.size)
	for _, f := range b.fragments {
		out = append(out, f...)
	}
	b.fragments = nil
	b.size = 0
	return out
}

// Reset discards buffered audio and reports how many bytes were dropped.
func (b *Buffer) Reset() int {
	n := b.size
	b.fragments = nil
	b.size = 0
	return n
}
