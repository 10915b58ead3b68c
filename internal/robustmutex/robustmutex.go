// Package robustmutex implements the single process-shared robust mutex
// that guards a segment's slot table and free-list metadata.
//
// The OS-level exclusion is an advisory file lock (flock(2) via
// github.com/gofrs/flock) on the sidecar path given to New: if the
// holding process dies, the kernel releases the lock automatically, so
// the next Lock() call is never blocked forever by a dead holder. That
// alone isn't enough to know whether the previous holder died *mid
// mutation* versus cleanly between operations, so a "held" bit lives in
// the segment header (segment.HeldFlag): a holder sets it immediately
// after acquiring the OS lock and clears it immediately before
// releasing. A Lock() call that finds the bit already set knows its
// predecessor died with the invariants potentially half-written, and
// must run the supplied recovery routine before any caller is allowed to
// proceed.
package robustmutex

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gofrs/flock"
	"github.com/pkg/errors"

	"github.com/shmpool/shmpool/internal/segment"
)

// ErrCorrupt is returned once the segment has been marked corrupt,
// either by a prior failed recovery or by a fresh one run during this
// call.
var ErrCorrupt = errors.New("robustmutex: segment is corrupt")

// ErrTimeout is returned by LockTimeout when the bound is exceeded.
var ErrTimeout = errors.New("robustmutex: lock wait timed out")

// RecoveryFunc validates slot-table and free-list invariants after an
// owner-died acquisition. It must return an error if it finds the
// segment irrecoverably inconsistent.
type RecoveryFunc func() error

// Mutex is the control-region lock for one segment.
type Mutex struct {
	fl       *flock.Flock
	header   segment.Header
	recovery RecoveryFunc
}

// New creates a Mutex backed by an flock file at lockPath, guarding the
// control region described by header. recovery is invoked exactly once
// per ownerless acquisition, i.e. per Lock() call that observes the held
// bit already set.
func New(lockPath string, header segment.Header, recovery RecoveryFunc) *Mutex {
	return &Mutex{
		fl:       flock.New(lockPath),
		header:   header,
		recovery: recovery,
	}
}

// Lock blocks, uninterruptibly, until the control mutex is acquired,
// runs recovery if the previous holder died mid-mutation, and returns
// with the mutex held. If recovery fails, or the segment was already
// marked corrupt, it returns ErrCorrupt and does not release the lock;
// callers must call Unlock regardless to let other processes observe the
// corrupt state.
func (m *Mutex) Lock() error {
	if err := m.fl.Lock(); err != nil {
		return errors.Wrap(err, "acquire control mutex")
	}

	return m.afterAcquire()
}

// LockTimeout is the optional bounded variant: it retries acquisition
// with backoff until ctx is done, returning ErrTimeout if the deadline
// elapses before the lock is obtained.
func (m *Mutex) LockTimeout(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 50 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		ok, lockErr := m.fl.TryLock()
		if lockErr != nil {
			return struct{}{}, backoff.Permanent(errors.Wrap(lockErr, "acquire control mutex"))
		}

		if !ok {
			return struct{}{}, errors.New("lock held")
		}

		return struct{}{}, nil
	}, backoff.WithBackOff(b))
	if err != nil {
		if ctx.Err() != nil {
			return ErrTimeout
		}

		return err
	}

	return m.afterAcquire()
}

func (m *Mutex) afterAcquire() error {
	m.header.SetMutexEpoch(m.header.MutexEpoch() + 1)

	if m.header.Corrupt() {
		return ErrCorrupt
	}

	if m.header.Held() {
		if err := m.recovery(); err != nil {
			m.header.MarkCorrupt()
			m.header.SetHeld(false)

			return ErrCorrupt
		}
	}

	m.header.SetHeld(true)

	return nil
}

// Unlock clears the held bit and releases the OS-level lock. It is safe
// to call after a Lock() that returned ErrCorrupt; the segment stays
// marked corrupt for the next acquirer.
func (m *Mutex) Unlock() error {
	m.header.SetHeld(false)
	return errors.Wrap(m.fl.Unlock(), "release control mutex")
}
