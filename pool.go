// Package shmpool implements the cross-process shared-memory object
// pool described by the accompanying specification: producers register
// large contiguous byte ranges, receive a small opaque identifier, and
// sibling processes reconstruct a zero-copy view over the same bytes by
// looking up that identifier. See errors.go for the error taxonomy and
// internal/segment, internal/slottable, internal/allocator, and
// internal/robustmutex for the wire layout, slot bookkeeping, free-space
// allocator, and cross-process locking respectively.
package shmpool

import (
	"context"
	"errors"
	"sort"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/shmpool/shmpool/internal/allocator"
	"github.com/shmpool/shmpool/internal/metrics"
	"github.com/shmpool/shmpool/internal/plog"
	"github.com/shmpool/shmpool/internal/rendezvous"
	"github.com/shmpool/shmpool/internal/robustmutex"
	"github.com/shmpool/shmpool/internal/segment"
	"github.com/shmpool/shmpool/internal/slottable"
)

var log = plog.Named("shmpool")

// Options configures a newly created pool.
type Options struct {
	// SlotCount is N, the fixed capacity of the slot table.
	SlotCount uint32

	// DataSize is the size in bytes of the data region leases are carved
	// from.
	DataSize uint64
}

// Pool is a per-process handle onto a shared-memory segment: the memory
// mapping, header pointers, and the add/attach/detach/memview API
// surface. A Pool is not safe for concurrent use by multiple goroutines:
// its control mutex is one file lock per handle, and a second goroutine
// locking through the same handle does not wait for the first. The
// control mutex does serialize against every other Pool handle over the
// same segment, in this process or another.
type Pool struct {
	seg      *segment.Segment
	header   segment.Header
	slots    *slottable.Table
	alloc    *allocator.Allocator
	mu       *robustmutex.Mutex
	linkPath string
}

func align8(n uint64) uint64 { return (n + 7) &^ 7 }

// Create creates a uniquely named shared segment sized for opts, writes
// its name to linkPath, and returns a handle to it. It fails with
// ErrAlreadyExists if linkPath already resolves to a live segment.
func Create(linkPath string, opts Options) (*Pool, error) {
	if existing, err := rendezvous.Read(linkPath); err == nil {
		if s, openErr := segment.Open(existing); openErr == nil {
			s.Close()
			return nil, pkgerrors.Wrapf(ErrAlreadyExists, "create pool at %v", linkPath)
		}
	}

	totalSize := segment.TotalSize(opts.SlotCount, opts.DataSize)

	seg, err := segment.Create(totalSize)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "create pool")
	}

	header := segment.NewHeader(seg.Bytes())
	header.SetMagic()
	header.SetVersion(segment.Version)
	header.SetSlotCount(opts.SlotCount)
	header.SetDataRegionOffset(segment.DataOffset(opts.SlotCount))
	header.SetDataRegionLength(opts.DataSize)

	slots := slottable.New(seg.Bytes(), opts.SlotCount)
	alloc := allocator.New(seg.Bytes(), header, opts.SlotCount)
	alloc.Init()

	p := &Pool{
		seg:      seg,
		header:   header,
		slots:    slots,
		alloc:    alloc,
		linkPath: linkPath,
	}
	p.mu = robustmutex.New(lockPathFor(linkPath), header, p.recover)

	if err := rendezvous.Write(linkPath, seg.Name()); err != nil {
		seg.Close()
		segment.Unlink(seg.Name())

		return nil, pkgerrors.Wrap(err, "create pool")
	}

	metrics.Register()
	log.Infow("pool created", "link", linkPath, "segment", seg.Name(), "slots", opts.SlotCount, "dataSize", opts.DataSize)

	return p, nil
}

// Open discovers the segment named at linkPath and maps it into this
// process.
func Open(linkPath string) (*Pool, error) {
	name, err := rendezvous.Read(linkPath)
	if err != nil {
		if errors.Is(err, rendezvous.ErrNotFound) {
			return nil, pkgerrors.Wrapf(ErrNotFound, "open pool at %v", linkPath)
		}

		return nil, pkgerrors.Wrap(err, "open pool")
	}

	seg, err := segment.Open(name)
	if err != nil {
		if errors.Is(err, segment.ErrNotFound) {
			return nil, pkgerrors.Wrapf(ErrNotFound, "open pool at %v", linkPath)
		}

		return nil, pkgerrors.Wrap(err, "open pool")
	}

	header := segment.NewHeader(seg.Bytes())

	if header.Magic() != segment.Magic {
		seg.Close()
		return nil, pkgerrors.Wrapf(ErrCorrupt, "open pool at %v: bad magic", linkPath)
	}

	if header.Version() != segment.Version {
		seg.Close()
		return nil, pkgerrors.Wrapf(ErrVersionMismatch, "open pool at %v", linkPath)
	}

	if header.Corrupt() {
		seg.Close()
		return nil, pkgerrors.Wrapf(ErrCorrupt, "open pool at %v", linkPath)
	}

	slotCount := header.SlotCount()

	p := &Pool{
		seg:      seg,
		header:   header,
		slots:    slottable.New(seg.Bytes(), slotCount),
		alloc:    allocator.New(seg.Bytes(), header, slotCount),
		linkPath: linkPath,
	}
	p.mu = robustmutex.New(lockPathFor(linkPath), header, p.recover)

	metrics.Register()
	log.Infow("pool opened", "link", linkPath, "segment", name)

	return p, nil
}

func lockPathFor(linkPath string) string { return linkPath + ".lock" }

// Close unmaps this process's view of the segment. It does not remove
// the segment or the link file; call Cleanup for that once no process
// needs the pool anymore.
func (p *Pool) Close() error {
	return pkgerrors.Wrap(p.seg.Close(), "close pool")
}

// withLock runs fn with the control mutex held, translating a corrupt or
// timed-out acquisition into the package's error kinds. If Lock itself
// reports corruption it still holds the OS-level lock (see
// robustmutex.Mutex.Lock), so withLock releases it before returning so
// other processes can observe the corrupt state rather than deadlock.
func (p *Pool) withLock(fn func() error) error {
	start := time.Now()
	lockErr := p.mu.Lock()
	metrics.MutexWaitSeconds.Observe(time.Since(start).Seconds())
	if lockErr != nil {
		if errors.Is(lockErr, robustmutex.ErrCorrupt) {
			p.mu.Unlock()
		}

		return translateMutexErr(lockErr)
	}

	defer p.mu.Unlock()

	return fn()
}

// withLockTimeout is the bounded variant backing the *Timeout operations.
func (p *Pool) withLockTimeout(ctx context.Context, fn func() error) error {
	start := time.Now()
	lockErr := p.mu.LockTimeout(ctx)
	metrics.MutexWaitSeconds.Observe(time.Since(start).Seconds())
	if lockErr != nil {
		if errors.Is(lockErr, robustmutex.ErrCorrupt) {
			p.mu.Unlock()
		}

		return translateMutexErr(lockErr)
	}

	defer p.mu.Unlock()

	return fn()
}

func translateMutexErr(err error) error {
	switch {
	case errors.Is(err, robustmutex.ErrCorrupt):
		return ErrCorrupt
	case errors.Is(err, robustmutex.ErrTimeout):
		return ErrTimeout
	default:
		return pkgerrors.Wrap(err, "control mutex")
	}
}

// recover validates slot-table and free-list invariants after an
// owner-died acquisition of the control mutex (spec §4.3, §7): occupied
// ranges must be pairwise disjoint with positive refcounts, and the
// lengths of the free and occupied ranges must sum to the data region's
// length. Ranges are not checked against the data region's bounds, and
// free ranges are not checked against occupied ones.
func (p *Pool) recover() error {
	type rng struct{ offset, length uint64 }

	var occupied []rng

	var validationErr error

	p.slots.ForEachOccupied(func(_ uint32, r slottable.Record) {
		if validationErr != nil {
			return
		}

		if r.Refcount() == 0 {
			validationErr = errors.New("recovery: occupied slot with zero refcount")
			return
		}

		occupied = append(occupied, rng{offset: r.Offset(), length: align8(r.Length())})
	})
	if validationErr != nil {
		return validationErr
	}

	sort.Slice(occupied, func(i, j int) bool { return occupied[i].offset < occupied[j].offset })

	for i := 1; i < len(occupied); i++ {
		if occupied[i-1].offset+occupied[i-1].length > occupied[i].offset {
			return errors.New("recovery: overlapping occupied ranges")
		}
	}

	var total uint64
	for _, o := range occupied {
		total += o.length
	}

	for _, f := range p.alloc.FreeRanges() {
		total += f.Length
	}

	if total != p.header.DataRegionLength() {
		return errors.New("recovery: free and occupied ranges do not cover the data region")
	}

	log.Warnw("recovered from dead control-mutex holder", "link", p.linkPath, "occupied", len(occupied))

	return nil
}

func (p *Pool) viewFor(id, offset, length uint64, owned bool) *View {
	data := p.seg.Bytes()
	return &View{pool: p, id: id, b: data[offset : offset+length], owned: owned}
}

// AddObject registers nbytes of fresh storage under id and returns a
// view over it with refcount 1. Fails with ErrDuplicateID if id already
// names an occupied slot, ErrOutOfMemory if the allocator cannot satisfy
// the request, or ErrOutOfSlots if every slot is occupied.
func (p *Pool) AddObject(id uint64, nbytes uint64) (*View, error) {
	var view *View

	err := p.withLock(func() error {
		v, err := p.addObjectLocked(id, nbytes)
		view = v

		return err
	})

	return view, err
}

// AttachObject increments the refcount of the slot bound to id and
// returns a view over its existing lease. It never allocates. Fails with
// ErrUnknownID if no occupied slot binds id.
func (p *Pool) AttachObject(id uint64) (*View, error) {
	var view *View

	err := p.withLock(func() error {
		idx, ok := p.slots.FindByID(id)
		if !ok {
			return pkgerrors.Wrapf(ErrUnknownID, "attach_object id=%d", id)
		}

		rec := p.slots.Record(idx)
		rec.SetRefcount(rec.Refcount() + 1)

		metrics.AttachObjectTotal.Inc()
		view = p.viewFor(id, rec.Offset(), rec.Length(), true)

		return nil
	})

	return view, err
}

// DetachObject decrements the refcount of the slot bound to id. When it
// reaches zero the lease returns to the free list, coalescing with
// adjacent free ranges, and the slot becomes empty. Detaching an unknown
// id is a hard error: it indicates a bookkeeping bug in the caller, not a
// benign no-op.
func (p *Pool) DetachObject(id uint64) error {
	return p.withLock(func() error {
		idx, ok := p.slots.FindByID(id)
		if !ok {
			return pkgerrors.Wrapf(ErrUnknownID, "detach_object id=%d", id)
		}

		rec := p.slots.Record(idx)

		rc := rec.Refcount()
		if rc == 0 {
			return pkgerrors.Wrapf(ErrUnknownID, "detach_object id=%d: already empty", id)
		}

		rc--
		if rc == 0 {
			if err := p.alloc.Free(rec.Offset(), align8(rec.Length())); err != nil {
				return pkgerrors.Wrapf(ErrCorrupt, "detach_object id=%d: %v", id, err)
			}

			rec.Clear()
		} else {
			rec.SetRefcount(rc)
		}

		metrics.DetachObjectTotal.Inc()

		return nil
	})
}

// MemviewOf looks up id without changing its refcount, returning the
// view and true if an occupied slot binds it. Producers use this to
// detect an already-registered identifier before calling AddObject. The
// returned view does not own a refcount unit: closing it is a no-op.
func (p *Pool) MemviewOf(id uint64) (*View, bool, error) {
	var (
		view  *View
		found bool
	)

	err := p.withLock(func() error {
		idx, ok := p.slots.FindByID(id)
		if !ok {
			return nil
		}

		rec := p.slots.Record(idx)
		view = p.viewFor(id, rec.Offset(), rec.Length(), false)
		found = true

		return nil
	})

	return view, found, err
}

// ObjectInfo describes one occupied slot, for Stats and ListOccupied.
type ObjectInfo struct {
	ID       uint64
	Offset   uint64
	Length   uint64
	Refcount uint32
}

// ListOccupied enumerates every occupied slot without changing any
// refcount. It supplements the core API for operators and leak-detecting
// façades (see SPEC_FULL.md's orphan-scan feature).
func (p *Pool) ListOccupied() ([]ObjectInfo, error) {
	var out []ObjectInfo

	err := p.withLock(func() error {
		p.slots.ForEachOccupied(func(_ uint32, r slottable.Record) {
			out = append(out, ObjectInfo{ID: r.ID(), Offset: r.Offset(), Length: r.Length(), Refcount: r.Refcount()})
		})

		return nil
	})

	return out, err
}

// Stats summarizes pool occupancy.
type Stats struct {
	SlotCount        uint32
	SlotsOccupied    uint32
	DataRegionLength uint64
	BytesAllocated   uint64
}

// Stats reports slot and byte occupancy, also updating the package's
// prometheus gauges.
func (p *Pool) Stats() (Stats, error) {
	var st Stats

	err := p.withLock(func() error {
		p.slots.ForEachOccupied(func(_ uint32, r slottable.Record) {
			st.SlotsOccupied++
			st.BytesAllocated += align8(r.Length())
		})

		st.SlotCount = p.slots.Count()
		st.DataRegionLength = p.header.DataRegionLength()

		metrics.SlotsOccupied.Set(float64(st.SlotsOccupied))
		metrics.BytesAllocated.Set(float64(st.BytesAllocated))

		return nil
	})

	return st, err
}

// AddObjectTimeout is AddObject bounded by ctx, returning ErrTimeout if
// the control mutex cannot be acquired before ctx is done.
func (p *Pool) AddObjectTimeout(ctx context.Context, id uint64, nbytes uint64) (*View, error) {
	var view *View

	err := p.withLockTimeout(ctx, func() error {
		v, err := p.addObjectLocked(id, nbytes)
		view = v

		return err
	})

	return view, err
}

func (p *Pool) addObjectLocked(id uint64, nbytes uint64) (*View, error) {
	if _, ok := p.slots.FindByID(id); ok {
		return nil, pkgerrors.Wrapf(ErrDuplicateID, "add_object id=%d", id)
	}

	idx, ok := p.slots.FindFree()
	if !ok {
		return nil, pkgerrors.Wrapf(ErrOutOfSlots, "add_object id=%d", id)
	}

	offset, err := p.alloc.Alloc(nbytes)
	if err != nil {
		return nil, pkgerrors.Wrapf(ErrOutOfMemory, "add_object id=%d nbytes=%d", id, nbytes)
	}

	rec := p.slots.Record(idx)
	rec.SetID(id)
	rec.SetOffset(offset)
	rec.SetLength(nbytes)
	rec.SetRefcount(1)
	rec.SetOccupied(true)
	metrics.AddObjectTotal.Inc()

	return p.viewFor(id, offset, nbytes, true), nil
}
