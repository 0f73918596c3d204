package detector

import (
	"fmt"

	"github.com/kolkov/shadowrace/internal/race/shadow"
	"github.com/kolkov/shadowrace/internal/race/thread"
	"github.com/kolkov/shadowrace/internal/race/trace"
)

// incrementEpoch advances the thread's logical time by one event. Epoch
// overflow would corrupt the shadow word's tid field, so it is fatal.
func (c *Context) incrementEpoch(thr *thread.State) {
	if thr.Epoch() >= shadow.ClkMask {
		fatalf("epoch overflow on thread %d", thr.Tid)
	}
	thr.Fast.IncrementEpoch()
}

// MemoryAccess is the per-access entry point: size is 1<<sizeLog bytes at
// addr, within a single 8-byte cell (addr&7 + size <= 8). The
// instrumentation front-end guarantees the alignment contract; range
// accesses are decomposed by MemoryAccessRange.
//
// The scan dispatches every occupied slot into four categories: same info
// (return without storing), replace, candidate and race. Only a same-info
// hit or a reported race stops the scan early: any other slot may still
// hold a conflicting access by another thread, so resolving against one
// slot keeps scanning the rest.
func (c *Context) MemoryAccess(thr *thread.State, pc, addr uintptr, sizeLog uint64, isWrite bool) {
	if isWrite {
		if thr.IgnoreWrites > 0 {
			return
		}
	} else if thr.IgnoreReads > 0 {
		return
	}
	if !c.ignores.Empty() && c.ignores.ContainsAddr(addr) {
		return
	}

	thr.Stats.Mops++
	if isWrite {
		thr.Stats.MopsWrite++
	} else {
		thr.Stats.MopsRead++
	}

	c.incrementEpoch(thr)
	thr.Trace.AddEvent(thr.Epoch(), trace.EventMop, pc, thr.ShadowStack)

	cur := shadow.NewWord(thr.Fast, uint64(addr&7), sizeLog, isWrite)
	cell := c.Mem.CellFor(addr)

	// storePending holds cur until it lands in a slot; zero afterwards.
	storePending := cur
	off := cur.SearchOffset()
	for i := uint64(0); i < shadow.ShadowCnt; i++ {
		idx := (i + off) % shadow.ShadowCnt
		old := cell.Load(idx)

		if old.IsZero() {
			if storePending != 0 {
				cell.Store(idx, storePending)
				storePending = 0
			}
			continue
		}

		if shadow.Addr0AndSizeEqual(cur, old) {
			if shadow.TidsEqual(cur, old) {
				if old.Epoch() >= thr.FastSynchEpoch {
					if old.IsWrite() || !isWrite {
						// Same tid, same bytes, no synchronization in
						// between and no read-to-write upgrade: the slot
						// already holds this access's information.
						thr.Stats.SameInfo++
						return
					}
					// Read upgraded to write past the last sync point.
					// Keep scanning: other slots may hold conflicting
					// accesses by other threads.
					if storePending != 0 {
						cell.Store(idx, storePending)
						storePending = 0
					}
					continue
				}
				if !old.IsWrite() && isWrite {
					if storePending != 0 {
						cell.Store(idx, storePending)
						storePending = 0
					}
				}
				continue
			}
			// Different thread. Happens-before established?
			if thr.Clock.Get(uint32(old.Tid())) >= old.Epoch() {
				if storePending != 0 {
					cell.Store(idx, storePending)
					storePending = 0
				}
				continue
			}
			if !old.IsWrite() && !isWrite {
				continue
			}
			c.reportRace(thr, addr, cur, old)
			return
		}

		if shadow.TwoRangesIntersect(cur, old) {
			if shadow.TidsEqual(cur, old) {
				continue
			}
			if thr.Clock.Get(uint32(old.Tid())) >= old.Epoch() {
				continue
			}
			if !old.IsWrite() && !isWrite {
				continue
			}
			c.reportRace(thr, addr, cur, old)
			return
		}
		// Non-intersecting ranges: unrelated history, keep scanning.
	}

	if storePending != 0 {
		// All slots occupied by other live history: evict the
		// epoch-selected victim. This is the engine's only deliberate
		// loss of history.
		cell.Store(thr.Epoch()%shadow.ShadowCnt, storePending)
		thr.Stats.Replaced++
	}
}

// MemoryAccessRange decomposes an arbitrary [addr, addr+size) access into
// byte accesses for the unaligned prefix and suffix and 8-byte accesses
// for the aligned middle, preserving per-cell scan semantics without a
// byte loop in the common case.
func (c *Context) MemoryAccessRange(thr *thread.State, pc, addr uintptr, size uintptr, isWrite bool) {
	for ; addr%8 != 0 && size > 0; addr, size = addr+1, size-1 {
		c.MemoryAccess(thr, pc, addr, 0, isWrite)
	}
	for ; size >= 8; addr, size = addr+8, size-8 {
		c.MemoryAccess(thr, pc, addr, 3, isWrite)
	}
	for ; size > 0; addr, size = addr+1, size-1 {
		c.MemoryAccess(thr, pc, addr, 0, isWrite)
	}
}

// MemoryResetRange forgets the access history of [addr, addr+size), e.g.
// for freshly mapped or reinitialized memory.
func (c *Context) MemoryResetRange(addr, size uintptr) {
	c.Mem.ResetRange(addr, size)
}

// MemoryRangeFreed marks [addr, addr+size) as freed. The synthetic write
// range races with any live readers first; then every overlapped cell is
// stamped with the freed sentinel so later accesses race against it.
func (c *Context) MemoryRangeFreed(thr *thread.State, pc, addr, size uintptr) {
	c.MemoryAccessRange(thr, pc, addr, size, true)
	c.Mem.FillRange(addr, size, shadow.Freed)
}

// FuncEntry records a call boundary: the return address goes into the
// trace, and the return address minus 1 (the form trace replay pushes)
// onto the shadow stack.
func (c *Context) FuncEntry(thr *thread.State, pc uintptr) {
	c.incrementEpoch(thr)
	thr.Trace.AddEvent(thr.Epoch(), trace.EventFuncEnter, pc, thr.ShadowStack)
	thr.ShadowStack = append(thr.ShadowStack, pc-1)
}

// FuncExit records a return. An exit without a matching entry is an
// instrumentation mismatch: a no-op, mentioned only at high verbosity.
func (c *Context) FuncExit(thr *thread.State) {
	c.incrementEpoch(thr)
	thr.Trace.AddEvent(thr.Epoch(), trace.EventFuncExit, 0, thr.ShadowStack)
	n := len(thr.ShadowStack)
	if n == 0 {
		if c.opts.Verbosity >= 3 {
			fmt.Fprintf(c.opts.Output, "shadowrace: thread T%d: func_exit without func_enter\n", thr.Tid)
		}
		return
	}
	thr.ShadowStack = thr.ShadowStack[:n-1]
}

// IgnoreCtl adjusts the thread's ignore counters. Matched nesting is the
// caller's obligation; imbalances surface as a warning at thread finish.
func (c *Context) IgnoreCtl(thr *thread.State, writes, begin bool) {
	p := &thr.IgnoreReads
	if writes {
		p = &thr.IgnoreWrites
	}
	if begin {
		*p++
	} else {
		*p--
	}
}
