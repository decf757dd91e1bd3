package engine

import (
	"encoding/binary"
	"fmt"
)

// Block discriminants. Every block is exactly one of these at a time.
const (
	blockFree byte = iota
	blockSeat
	blockOrder
)

// Block layout: one byte discriminant, one byte color, a tree-node header of
// three 32-bit links, then the payload. Free blocks reuse the parent slot as
// the next-free link.
const (
	blockOffDiscriminant = 0
	blockOffColor        = 1
	blockOffParent       = 4
	blockOffLeft         = 8
	blockOffRight        = 12
	blockOffPayload      = 16

	payloadSize = BlockSize - blockOffPayload
)

// block returns the raw bytes of block idx.
func (m *Market) block(idx uint32) []byte {
	start := HeaderSize + int(idx)*BlockSize
	return m.buf[start : start+BlockSize]
}

// payload returns the payload bytes of block idx.
func (m *Market) payload(idx uint32) []byte {
	b := m.block(idx)
	return b[blockOffPayload:]
}

func (m *Market) discriminant(idx uint32) byte {
	return m.block(idx)[blockOffDiscriminant]
}

func (m *Market) setDiscriminant(idx uint32, d byte) {
	m.block(idx)[blockOffDiscriminant] = d
}

// alloc pops the free-list head and hands it to the caller zeroed, tagged
// with the given discriminant. Fails with ErrCapacity when the pool is dry;
// the caller decides whether that is fatal or an early stop.
func (m *Market) alloc(discriminant byte) (uint32, error) {
	head := m.header().freeHead()
	if head == NIL {
		return 0, ErrCapacity
	}
	b := m.block(head)
	next := binary.LittleEndian.Uint32(b[blockOffParent:])
	m.header().setFreeHead(next)
	for i := range b {
		b[i] = 0
	}
	b[blockOffDiscriminant] = discriminant
	return head, nil
}

// free pushes a block back on the free list. The caller passes the
// discriminant it believes the block has; a mismatch means a double free or
// a stale index and is an invariant violation, not a recoverable condition.
func (m *Market) free(idx uint32, discriminant byte) error {
	if idx >= m.header().numBlocks() {
		return fmt.Errorf("free of out-of-range block %d: %w", idx, ErrInvalidArgument)
	}
	b := m.block(idx)
	if b[blockOffDiscriminant] != discriminant {
		return fmt.Errorf("free of block %d: discriminant %d, expected %d: %w",
			idx, b[blockOffDiscriminant], discriminant, ErrInvalidArgument)
	}
	b[blockOffDiscriminant] = blockFree
	binary.LittleEndian.PutUint32(b[blockOffParent:], m.header().freeHead())
	m.header().setFreeHead(idx)
	return nil
}

// Expand appends n free blocks to the buffer and links them onto the free
// list. Returns the number appended. The buffer is reallocated, so callers
// holding sub-slices must not use them across an Expand.
func (m *Market) Expand(n uint32) uint32 {
	if n == 0 {
		return 0
	}
	h := m.header()
	old := h.numBlocks()
	m.buf = append(m.buf, make([]byte, int(n)*BlockSize)...)
	h = m.header() // buf may have moved
	h.setNumBlocks(old + n)
	for i := old; i < old+n; i++ {
		b := m.block(i)
		b[blockOffDiscriminant] = blockFree
		binary.LittleEndian.PutUint32(b[blockOffParent:], h.freeHead())
		h.setFreeHead(i)
	}
	return n
}

// freeBlockCount walks the free list. Used by tests and invariant checks.
func (m *Market) freeBlockCount() uint32 {
	var count uint32
	for idx := m.header().freeHead(); idx != NIL; {
		count++
		idx = binary.LittleEndian.Uint32(m.block(idx)[blockOffParent:])
	}
	return count
}
