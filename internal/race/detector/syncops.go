package detector

import (
	"fmt"

	"github.com/kolkov/shadowrace/internal/race/report"
	"github.com/kolkov/shadowrace/internal/race/synctab"
	"github.com/kolkov/shadowrace/internal/race/thread"
	"github.com/kolkov/shadowrace/internal/race/trace"
)

// syncProlog is common to every synchronization operation: bump the
// epoch, record the trace event, and refresh the thread's own vector
// clock entry (invariant: VC[self] == epoch).
func (c *Context) syncProlog(thr *thread.State, pc uintptr, typ trace.EventType) {
	c.incrementEpoch(thr)
	thr.Trace.AddEvent(thr.Epoch(), typ, pc, thr.ShadowStack)
	thr.Clock.Set(thr.Tid, thr.Epoch())
	thr.Stats.SyncOps++
}

// syncEpilog marks the sync point for the access engine's same-info
// short-circuit.
func (c *Context) syncEpilog(thr *thread.State) {
	thr.FastSynchEpoch = thr.Epoch()
}

// MutexCreate registers a mutex at addr. Creating an already-live mutex is
// reported as double initialization.
func (c *Context) MutexCreate(thr *thread.State, pc, addr uintptr, rw, recursive bool) {
	c.syncProlog(thr, pc, trace.EventLock)
	v := c.Syncs.GetAndLock(addr, true)
	if v.CreationStack != nil {
		v.Unlock()
		c.reportMisuse(report.TypeDoubleMutexInit, thr,
			fmt.Sprintf("mutex at 0x%x initialized twice by thread T%d", addr, thr.Tid))
		c.syncEpilog(thr)
		return
	}
	v.IsRW = rw
	v.IsRecursive = recursive
	v.CreationTid = thr.Tid
	v.CreationStack = append(append([]uintptr(nil), thr.ShadowStack...), pc)
	v.Unlock()
	c.syncEpilog(thr)
}

// MutexDestroy removes the mutex at addr. Destroying an absent or held
// mutex is reported, not fatal.
func (c *Context) MutexDestroy(thr *thread.State, pc, addr uintptr) {
	c.syncProlog(thr, pc, trace.EventUnlock)
	v := c.Syncs.GetAndRemove(addr)
	if v == nil {
		c.reportMisuse(report.TypeDoubleMutexInit, thr,
			fmt.Sprintf("destroy of unknown mutex at 0x%x by thread T%d", addr, thr.Tid))
		c.syncEpilog(thr)
		return
	}
	if v.Owner != synctab.NoOwner {
		c.reportMisuse(report.TypeDestroyHeldMutex, thr,
			fmt.Sprintf("mutex at 0x%x destroyed while held by thread T%d", addr, v.Owner))
	}
	c.Syncs.Recycle(v)
	c.syncEpilog(thr)
}

// MutexLock is a write lock: the locker acquires the time released by the
// previous unlock. A lock on a never-created address implicitly creates
// the sync variable (the platform's permissive default for uninitialized
// mutexes).
func (c *Context) MutexLock(thr *thread.State, pc, addr uintptr) {
	c.syncProlog(thr, pc, trace.EventLock)
	v := c.Syncs.GetAndLock(addr, true)
	if v.Owner == int64(thr.Tid) && v.IsRecursive {
		v.Recursion++
		v.Unlock()
		c.syncEpilog(thr)
		return
	}
	v.Owner = int64(thr.Tid)
	v.Recursion = 1
	if v.Clock != nil {
		thr.Clock.Acquire(v.Clock)
	}
	v.Unlock()
	thr.HeldMutexes = append(thr.HeldMutexes, addr)
	c.syncEpilog(thr)
}

// MutexUnlock releases a write lock: the holder's full time overwrites the
// mutex clock. Unlock by a non-holder is reported and has no clock effect.
func (c *Context) MutexUnlock(thr *thread.State, pc, addr uintptr) {
	c.syncProlog(thr, pc, trace.EventUnlock)
	v := c.Syncs.GetAndLock(addr, true)
	if v.Owner != int64(thr.Tid) {
		v.Unlock()
		c.reportMisuse(report.TypeUnlockOfUnheldMutex, thr,
			fmt.Sprintf("unlock of mutex at 0x%x not held by thread T%d", addr, thr.Tid))
		c.syncEpilog(thr)
		return
	}
	v.Recursion--
	if v.Recursion == 0 {
		v.Owner = synctab.NoOwner
		thr.Clock.ReleaseStore(v.EnsureClock())
		c.dropHeldMutex(thr, addr)
	}
	v.Unlock()
	c.syncEpilog(thr)
}

// MutexReadLock acquires the write-release clock only: earlier read
// critical sections need not happen-before a new reader.
func (c *Context) MutexReadLock(thr *thread.State, pc, addr uintptr) {
	c.syncProlog(thr, pc, trace.EventRLock)
	v := c.Syncs.GetAndLock(addr, true)
	if v.Clock != nil {
		thr.Clock.Acquire(v.Clock)
	}
	v.Unlock()
	c.syncEpilog(thr)
}

// MutexReadUnlock merges the reader's time into the read clock. No lock
// operation acquires the read clock: MutexLock joins only the
// write-release clock, so read unlocks create no edge to a later writer.
func (c *Context) MutexReadUnlock(thr *thread.State, pc, addr uintptr) {
	c.syncProlog(thr, pc, trace.EventRUnlock)
	v := c.Syncs.GetAndLock(addr, true)
	thr.Clock.ReleaseMerge(v.EnsureReadClock())
	v.Unlock()
	c.syncEpilog(thr)
}

// MutexReadOrWriteUnlock handles unlock calls that do not distinguish the
// lock mode: if the calling thread write-holds the mutex this is a write
// unlock, otherwise a read unlock.
func (c *Context) MutexReadOrWriteUnlock(thr *thread.State, pc, addr uintptr) {
	v := c.Syncs.GetAndLock(addr, true)
	wrote := v.Owner == int64(thr.Tid)
	v.Unlock()
	if wrote {
		c.MutexUnlock(thr, pc, addr)
		return
	}
	c.MutexReadUnlock(thr, pc, addr)
}

// Acquire establishes the acquire half of a one-way edge on an arbitrary
// address (file descriptors, once guards, atomics).
func (c *Context) Acquire(thr *thread.State, pc, addr uintptr) {
	c.syncProlog(thr, pc, trace.EventLock)
	v := c.Syncs.GetAndLock(addr, true)
	if v.Clock != nil {
		thr.Clock.Acquire(v.Clock)
	}
	v.Unlock()
	c.syncEpilog(thr)
}

// Release establishes the release half of a one-way edge: the releasing
// thread's time is merged (not copied) so that multiple releasers
// accumulate.
func (c *Context) Release(thr *thread.State, pc, addr uintptr) {
	c.syncProlog(thr, pc, trace.EventUnlock)
	v := c.Syncs.GetAndLock(addr, true)
	thr.Clock.ReleaseMerge(v.EnsureClock())
	v.Unlock()
	c.syncEpilog(thr)
}

// ReleaseStore destructively overwrites the object's clock with the
// releasing thread's time. Used by one-time initializers.
func (c *Context) ReleaseStore(thr *thread.State, pc, addr uintptr) {
	c.syncProlog(thr, pc, trace.EventUnlock)
	v := c.Syncs.GetAndLock(addr, true)
	thr.Clock.ReleaseStore(v.EnsureClock())
	v.Unlock()
	c.syncEpilog(thr)
}

// SemPost is a semaphore post: a merging release on the semaphore address.
func (c *Context) SemPost(thr *thread.State, pc, addr uintptr) {
	c.Release(thr, pc, addr)
}

// SemWait is a semaphore wait: an acquire on the semaphore address.
func (c *Context) SemWait(thr *thread.State, pc, addr uintptr) {
	c.Acquire(thr, pc, addr)
}

// OnceDone is called by the thread that ran the once-initializer body.
func (c *Context) OnceDone(thr *thread.State, pc, addr uintptr) {
	c.ReleaseStore(thr, pc, addr)
}

// OnceAcquire is called by every thread that observes the initializer as
// already done.
func (c *Context) OnceAcquire(thr *thread.State, pc, addr uintptr) {
	c.Acquire(thr, pc, addr)
}

// BarrierWaitBefore releases the arriving thread's time into the barrier's
// shared clock.
func (c *Context) BarrierWaitBefore(thr *thread.State, pc, addr uintptr) {
	c.Release(thr, pc, addr)
}

// BarrierWaitAfter acquires the accumulated time of all arrivals once the
// barrier opens.
func (c *Context) BarrierWaitAfter(thr *thread.State, pc, addr uintptr) {
	c.Acquire(thr, pc, addr)
}

// CondSignal releases the signaler's time into the condition variable.
func (c *Context) CondSignal(thr *thread.State, pc, addr uintptr) {
	c.Release(thr, pc, addr)
}

// CondWaitBefore models the atomic mutex release at the start of a
// condition wait.
func (c *Context) CondWaitBefore(thr *thread.State, pc, cond, mutex uintptr) {
	c.MutexUnlock(thr, pc, mutex)
}

// CondWaitAfter models the wakeup: acquire from the condition variable
// (the signaler's edge), then reacquire the mutex.
func (c *Context) CondWaitAfter(thr *thread.State, pc, cond, mutex uintptr) {
	c.Acquire(thr, pc, cond)
	c.MutexLock(thr, pc, mutex)
}

func (c *Context) dropHeldMutex(thr *thread.State, addr uintptr) {
	for i := len(thr.HeldMutexes) - 1; i >= 0; i-- {
		if thr.HeldMutexes[i] == addr {
			thr.HeldMutexes = append(thr.HeldMutexes[:i], thr.HeldMutexes[i+1:]...)
			return
		}
	}
}
