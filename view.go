package shmpool

import "sync/atomic"

// View is a per-process handle granting direct access to a lease's raw
// bytes. A View obtained from AddObject or AttachObject holds one
// refcount unit on the owning slot and must be released exactly once; a
// View obtained from MemviewOf holds none.
//
// Concurrent reads and writes to Bytes() by unrelated processes are
// permitted and unsynchronized by design; ordering of payload visibility
// is the caller's responsibility (see spec §5).
type View struct {
	pool     *Pool
	id       uint64
	b        []byte
	owned    bool
	released int32
}

// ID returns the object identifier this view was obtained for.
func (v *View) ID() uint64 { return v.id }

// Bytes returns the raw, mutable lease. It stays valid until Close is
// called, and is invalidated the moment the slot's refcount drops to
// zero in any process (including this one).
func (v *View) Bytes() []byte { return v.b }

// Len returns the lease's byte length.
func (v *View) Len() int { return len(v.b) }

// Close releases this view's refcount unit by calling detach_object.
// It is idempotent: a second Close is a no-op. Views borrow from the
// pool; there is no ownership cycle back from pool to view. A view
// obtained from MemviewOf owns no refcount unit, since memview_of never
// increments one; closing it is a no-op.
func (v *View) Close() error {
	if !v.owned {
		return nil
	}

	if !atomic.CompareAndSwapInt32(&v.released, 0, 1) {
		return nil
	}

	return v.pool.DetachObject(v.id)
}
