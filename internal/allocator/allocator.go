// Package allocator implements the first-fit, coalescing free-list
// allocator that carves the segment's data region into byte-range
// leases. The free list and its node pool live in the segment's control
// region, never in the payload bytes, so the allocator never reads user
// data.
package allocator

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/shmpool/shmpool/internal/segment"
)

// ErrOutOfMemory is returned when no free range can satisfy a request.
var ErrOutOfMemory = errors.New("allocator: out of memory")

const nodeOffsetOffset = 0
const nodeLengthOffset = 8

// Allocator carves byte-range leases out of one segment's data region.
// It is not safe for concurrent use; callers serialize access through
// the control mutex, matching the spec's single-lock design.
type Allocator struct {
	seg        []byte
	header     segment.Header
	slotCount  uint32
	dataOffset uint64
	dataLength uint64
}

// New wraps the allocator state of an already-initialized segment.
func New(seg []byte, header segment.Header, slotCount uint32) *Allocator {
	return &Allocator{
		seg:        seg,
		header:     header,
		slotCount:  slotCount,
		dataOffset: header.DataRegionOffset(),
		dataLength: header.DataRegionLength(),
	}
}

// Init installs the single free range spanning the whole data region and
// chains the remaining slotCount node-pool entries onto the available
// stack. Called once, by Create.
func (a *Allocator) Init() {
	a.setNodeRange(0, a.dataOffset, a.dataLength)
	a.setNext(0, segment.EmptyIndex)
	a.header.SetFreeListHead(0)

	if a.slotCount == 0 {
		a.header.SetAvailableNodeHead(segment.EmptyIndex)
		return
	}

	for i := uint32(1); i <= a.slotCount; i++ {
		if i == a.slotCount {
			a.setNext(i, segment.EmptyIndex)
		} else {
			a.setNext(i, i+1)
		}
	}

	a.header.SetAvailableNodeHead(1)
}

func align8(n uint64) uint64 { return (n + 7) &^ 7 }

func (a *Allocator) nodeBytes(idx uint32) []byte {
	off := segment.FreeNodePoolOffset(a.slotCount) + uint64(idx)*segment.FreeNodeSize
	return a.seg[off : off+segment.FreeNodeSize]
}

func (a *Allocator) nodeRange(idx uint32) (offset, length uint64) {
	b := a.nodeBytes(idx)
	return binary.LittleEndian.Uint64(b[nodeOffsetOffset:]), binary.LittleEndian.Uint64(b[nodeLengthOffset:])
}

func (a *Allocator) setNodeRange(idx uint32, offset, length uint64) {
	b := a.nodeBytes(idx)
	binary.LittleEndian.PutUint64(b[nodeOffsetOffset:], offset)
	binary.LittleEndian.PutUint64(b[nodeLengthOffset:], length)
}

func (a *Allocator) nextBytes(idx uint32) []byte {
	off := segment.FreeNextOffset(a.slotCount) + uint64(idx)*4
	return a.seg[off : off+4]
}

func (a *Allocator) next(idx uint32) uint32 {
	return binary.LittleEndian.Uint32(a.nextBytes(idx))
}

func (a *Allocator) setNext(idx uint32, next uint32) {
	binary.LittleEndian.PutUint32(a.nextBytes(idx), next)
}

func (a *Allocator) popAvailableNode() (uint32, bool) {
	head := a.header.AvailableNodeHead()
	if head == segment.EmptyIndex {
		return 0, false
	}

	a.header.SetAvailableNodeHead(a.next(head))

	return head, true
}

func (a *Allocator) pushAvailableNode(idx uint32) {
	a.setNext(idx, a.header.AvailableNodeHead())
	a.header.SetAvailableNodeHead(idx)
}

// Alloc finds the first free range large enough to hold nbytes (rounded
// up to 8 bytes), splits off the low portion, and returns its offset.
func (a *Allocator) Alloc(nbytes uint64) (offset uint64, err error) {
	req := align8(nbytes)

	var prev uint32 = segment.EmptyIndex

	cur := a.header.FreeListHead()
	for cur != segment.EmptyIndex {
		off, length := a.nodeRange(cur)

		if length >= req {
			if length == req {
				next := a.next(cur)
				a.unlinkFreeNode(prev, cur, next)
				a.pushAvailableNode(cur)
			} else {
				a.setNodeRange(cur, off+req, length-req)
			}

			return off, nil
		}

		prev = cur
		cur = a.next(cur)
	}

	return 0, ErrOutOfMemory
}

func (a *Allocator) unlinkFreeNode(prev, cur, next uint32) {
	if prev == segment.EmptyIndex {
		a.header.SetFreeListHead(next)
	} else {
		a.setNext(prev, next)
	}
}

// Free returns a previously allocated [offset, offset+length) range to
// the free list, inserting it in offset order and coalescing with an
// abutting predecessor and/or successor.
func (a *Allocator) Free(offset, length uint64) error {
	var prev uint32 = segment.EmptyIndex

	cur := a.header.FreeListHead()
	for cur != segment.EmptyIndex {
		off, _ := a.nodeRange(cur)
		if off > offset {
			break
		}

		prev = cur
		cur = a.next(cur)
	}

	if prev != segment.EmptyIndex {
		pOff, pLen := a.nodeRange(prev)
		if pOff+pLen == offset {
			a.setNodeRange(prev, pOff, pLen+length)
			return a.coalesceForward(prev)
		}
	}

	idx, ok := a.popAvailableNode()
	if !ok {
		// Cannot happen if the invariant "at most N+1 disjoint free
		// ranges for N slots" holds; surfaced defensively as Corrupt
		// by the caller, which owns invariant validation.
		return errors.New("allocator: free-list node pool exhausted")
	}

	a.setNodeRange(idx, offset, length)

	if prev == segment.EmptyIndex {
		a.setNext(idx, a.header.FreeListHead())
		a.header.SetFreeListHead(idx)
	} else {
		a.setNext(idx, a.next(prev))
		a.setNext(prev, idx)
	}

	return a.coalesceForward(idx)
}

func (a *Allocator) coalesceForward(idx uint32) error {
	off, length := a.nodeRange(idx)

	next := a.next(idx)
	if next == segment.EmptyIndex {
		return nil
	}

	nOff, nLen := a.nodeRange(next)
	if off+length != nOff {
		return nil
	}

	a.setNodeRange(idx, off, length+nLen)
	a.setNext(idx, a.next(next))
	a.pushAvailableNode(next)

	return nil
}

// FreeRanges returns the current free list as (offset, length) pairs in
// offset order. It is intended for invariant checks and tests, not the
// hot path.
func (a *Allocator) FreeRanges() []Range {
	var out []Range

	cur := a.header.FreeListHead()
	for cur != segment.EmptyIndex {
		off, length := a.nodeRange(cur)
		out = append(out, Range{Offset: off, Length: length})
		cur = a.next(cur)
	}

	return out
}

// Range is a byte range within the data region.
type Range struct {
	Offset uint64
	Length uint64
}
