// Package thread implements the thread registry: per-thread detection
// state, thread lifecycle, TID reuse and the dead list.
package thread

import (
	"github.com/kolkov/shadowrace/internal/race/shadow"
	"github.com/kolkov/shadowrace/internal/race/trace"
	"github.com/kolkov/shadowrace/internal/race/vectorclock"
)

// Status is the lifecycle state of a thread slot.
type Status int32

const (
	// StatusInvalid is an unallocated slot.
	StatusInvalid Status = iota
	// StatusCreated means the parent has created the thread but it has not
	// started executing.
	StatusCreated
	// StatusRunning means the thread is executing and owns its State.
	StatusRunning
	// StatusFinished means the thread has finished; its final clock and
	// trace are retained for a join.
	StatusFinished
	// StatusDead means the thread was joined or reaped; the slot may be
	// revived for a new thread.
	StatusDead
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusInvalid:
		return "Invalid"
	case StatusCreated:
		return "Created"
	case StatusRunning:
		return "Running"
	case StatusFinished:
		return "Finished"
	case StatusDead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// Stats are per-thread event counters, flushed into the context at thread
// finish and printed at high verbosity.
type Stats struct {
	Mops      uint64
	MopsRead  uint64
	MopsWrite uint64
	SameInfo  uint64
	Replaced  uint64
	SyncOps   uint64
	Races     uint64
}

// Add accumulates other into s.
func (s *Stats) Add(other *Stats) {
	s.Mops += other.Mops
	s.MopsRead += other.MopsRead
	s.MopsWrite += other.MopsWrite
	s.SameInfo += other.SameInfo
	s.Replaced += other.Replaced
	s.SyncOps += other.SyncOps
	s.Races += other.Races
}

// State is the per-thread detection state. Each running OS thread (or
// goroutine) holds exactly one; every engine entry point takes it as the
// first argument. Nothing in State is shared: only the owning thread
// mutates it, except that the report builder reads the trace under the
// trace's own lock.
type State struct {
	// Fast is the packed (tid, epoch) pair; the hot path builds the
	// current access's shadow word directly from it.
	Fast shadow.FastState

	// FastSynchEpoch is the thread's epoch at its most recent
	// synchronization operation. Accesses recorded at or after it by the
	// same thread carry no new happens-before information, which lets the
	// access engine short-circuit without touching the vector clock.
	FastSynchEpoch uint64

	// IgnoreReads and IgnoreWrites are the nesting counters for ignore
	// regions. Positive means accesses of that kind are not tracked.
	IgnoreReads  int
	IgnoreWrites int

	// InRTL counts nested entries into the runtime; interceptor-induced
	// recursion is skipped when it exceeds 1.
	InRTL int

	Tid   uint32
	Clock *vectorclock.VectorClock

	// ShadowStack mirrors the thread's call stack as return addresses
	// minus 1 (the form trace replay uses); snapshotted into trace part
	// headers.
	ShadowStack []uintptr

	// HeldMutexes lists the addresses of write-held mutexes, innermost
	// last. Race reports attach them as context.
	HeldMutexes []uintptr

	Trace *trace.Trace

	// RacyAddr and RacyState carry the two conflicting shadow words from
	// the access engine to the report builder.
	RacyAddr  uintptr
	RacyState [2]shadow.Word

	Stats Stats
}

// Epoch returns the thread's current epoch.
//
//go:nosplit
func (s *State) Epoch() uint64 { return s.Fast.Epoch() }

// Context is the registry's record of one thread slot. The registry owns
// all contexts; a running thread holds a borrowed pointer to its State,
// never to the Context.
type Context struct {
	Tid        uint32
	ReuseCount uint32
	Status     Status
	Detached   bool
	UserHandle uintptr

	CreatorTid    uint32
	ParentEpoch   uint64
	Epoch0        uint64
	CreationStack []uintptr

	// Thr is the live state while Running.
	Thr *State

	// startClock is the parent's clock snapshot taken at create; the
	// child acquires it at start (the create -> child-entry edge).
	startClock *vectorclock.VectorClock

	// FinalClock and DeadTrace survive Finish so that a later join can
	// still acquire the thread's time and reconstruct its stacks.
	FinalClock *vectorclock.VectorClock
	DeadTrace  *trace.Trace

	Stats Stats

	deadNext *Context
}
