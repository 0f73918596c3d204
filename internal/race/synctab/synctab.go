// Package synctab implements the table mapping application addresses to
// their synchronization variables.
//
// A sync variable mirrors one application-level synchronization object
// (mutex, rwlock, or any address used with acquire/release edges) and
// carries the vector clocks that establish happens-before across it. The
// table hands variables out locked; the variable's own mutex is strictly
// finer than any global lock.
//
// Removed variables are recycled through a sync.Pool slab so that
// create/destroy churn does not allocate on every operation.
package synctab

import (
	"sync"

	"github.com/kolkov/shadowrace/internal/race/vectorclock"
)

// NoOwner marks a variable not write-held by any thread.
const NoOwner = int64(-1)

// Var is the engine's mirror of one application sync object.
//
// Clock holds the time released into the object by write-unlocks and
// generic releases; ReadClock accumulates read-unlock releases. Both are
// nil until first used (a clock is 512KB; most mutexes are never
// contended cross-thread before their first release).
type Var struct {
	mu sync.Mutex

	Addr          uintptr
	CreationTid   uint32
	CreationStack []uintptr
	IsRW          bool
	IsRecursive   bool
	Recursion     int
	Owner         int64 // tid of the write holder, or NoOwner
	Clock         *vectorclock.VectorClock
	ReadClock     *vectorclock.VectorClock
}

// Lock acquires the variable's own mutex.
func (v *Var) Lock() { v.mu.Lock() }

// Unlock releases the variable's own mutex.
func (v *Var) Unlock() { v.mu.Unlock() }

// EnsureClock allocates Clock from the pool on first use.
func (v *Var) EnsureClock() *vectorclock.VectorClock {
	if v.Clock == nil {
		v.Clock = vectorclock.NewFromPool()
	}
	return v.Clock
}

// EnsureReadClock allocates ReadClock from the pool on first use.
func (v *Var) EnsureReadClock() *vectorclock.VectorClock {
	if v.ReadClock == nil {
		v.ReadClock = vectorclock.NewFromPool()
	}
	return v.ReadClock
}

// reset returns the variable to its zero state, releasing clocks to the
// pool. Called with no other references outstanding.
func (v *Var) reset() {
	if v.Clock != nil {
		v.Clock.Release()
	}
	if v.ReadClock != nil {
		v.ReadClock.Release()
	}
	v.Addr = 0
	v.CreationTid = 0
	v.CreationStack = nil
	v.IsRW = false
	v.IsRecursive = false
	v.Recursion = 0
	v.Owner = NoOwner
	v.Clock = nil
	v.ReadClock = nil
}

// Table maps application addresses to sync variables.
type Table struct {
	vars sync.Map // uintptr -> *Var
	slab sync.Pool
}

// New creates an empty table.
func New() *Table {
	t := &Table{}
	t.slab.New = func() any { return &Var{Owner: NoOwner} }
	return t
}

// GetAndLock returns the variable for addr with its mutex held. With
// create=false it returns nil when no variable exists (the caller treats
// that as the Absent state). With create=true a missing variable is
// allocated from the slab, modeling the platform's permissive default of
// lock operations on never-initialized objects.
func (t *Table) GetAndLock(addr uintptr, create bool) *Var {
	for {
		if got, ok := t.vars.Load(addr); ok {
			v := got.(*Var)
			v.Lock()
			if v.Addr == addr {
				return v
			}
			// Recycled between Load and Lock; retry.
			v.Unlock()
			continue
		}
		if !create {
			return nil
		}
		v := t.slab.Get().(*Var)
		v.Addr = addr
		v.Lock()
		if got, raced := t.vars.LoadOrStore(addr, v); raced {
			v.Unlock()
			v.Addr = 0
			t.slab.Put(v)
			w := got.(*Var)
			w.Lock()
			if w.Addr == addr {
				return w
			}
			w.Unlock()
			continue
		}
		return v
	}
}

// GetAndRemove detaches and returns the variable for addr, or nil. The
// returned variable is not locked and no longer reachable through the
// table; the caller inspects it and passes it to Recycle.
func (t *Table) GetAndRemove(addr uintptr) *Var {
	got, ok := t.vars.LoadAndDelete(addr)
	if !ok {
		return nil
	}
	return got.(*Var)
}

// Recycle resets a removed variable and returns it to the slab.
func (t *Table) Recycle(v *Var) {
	v.Lock()
	v.reset()
	v.Unlock()
	t.slab.Put(v)
}
