package detector

import "github.com/kolkov/shadowrace/internal/race/thread"

// Program-source annotations. These mirror the dynamic-annotation macros
// of the original runtime: declarations compiled into the tested program
// that tune detection rather than describe memory accesses.

// AnnotateBenignRace declares races on [addr, addr+size) as intended.
// Matching reports are dropped before dedup and rate accounting.
func (c *Context) AnnotateBenignRace(addr, size uintptr) {
	if size == 0 {
		size = 1
	}
	c.annMu.Lock()
	c.benign = append(c.benign, annRange{lo: addr, hi: addr + size - 1})
	c.annMu.Unlock()
}

// AnnotateExpectRace declares that a race on [addr, addr+size) is expected
// (self-test support). Matching races are counted but not printed; an
// expectation that never fires is itself reported at Fini.
func (c *Context) AnnotateExpectRace(addr, size uintptr, desc string) {
	if size == 0 {
		size = 1
	}
	c.annMu.Lock()
	c.expects = append(c.expects, &expectation{
		annRange: annRange{lo: addr, hi: addr + size - 1},
		desc:     desc,
	})
	c.annMu.Unlock()
}

// AnnotateHappensBefore declares the release half of a manual
// happens-before arc on an arbitrary address.
func (c *Context) AnnotateHappensBefore(thr *thread.State, pc, addr uintptr) {
	c.Release(thr, pc, addr)
}

// AnnotateHappensAfter declares the acquire half of a manual
// happens-before arc.
func (c *Context) AnnotateHappensAfter(thr *thread.State, pc, addr uintptr) {
	c.Acquire(thr, pc, addr)
}

// PCQCreate registers a producer-consumer queue at addr.
func (c *Context) PCQCreate(thr *thread.State, pc, addr uintptr) {
	c.MutexCreate(thr, pc, addr, false, false)
}

// PCQPut records a put: the producer's time is released into the queue.
func (c *Context) PCQPut(thr *thread.State, pc, addr uintptr) {
	c.Release(thr, pc, addr)
}

// PCQGet records a get: the consumer acquires the producers' accumulated
// time.
func (c *Context) PCQGet(thr *thread.State, pc, addr uintptr) {
	c.Acquire(thr, pc, addr)
}

// PCQDestroy removes the queue's sync state.
func (c *Context) PCQDestroy(thr *thread.State, pc, addr uintptr) {
	c.MutexDestroy(thr, pc, addr)
}

// matchBenign reports whether [lo, hi] intersects a benign-race range.
func (c *Context) matchBenign(lo, hi uintptr) bool {
	c.annMu.Lock()
	defer c.annMu.Unlock()
	for _, r := range c.benign {
		if lo <= r.hi && r.lo <= hi {
			return true
		}
	}
	return false
}

// matchExpect consumes an expected-race declaration covering [lo, hi].
func (c *Context) matchExpect(lo, hi uintptr) bool {
	c.annMu.Lock()
	defer c.annMu.Unlock()
	for _, e := range c.expects {
		if lo <= e.hi && e.lo <= hi {
			e.hits++
			return true
		}
	}
	return false
}
