// Package api binds the detection engine to real goroutines and exposes
// the runtime entry points called by instrumented code.
//
// The engine itself (internal/race/detector) is thread-agnostic: every
// entry point takes an explicit thread State. This package supplies that
// State per goroutine, keyed by goroutine id, and guards re-entrancy so
// that nested runtime entries from interceptor-like paths skip
// instrumentation instead of recursing.
package api

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/kolkov/shadowrace/internal/race/config"
	"github.com/kolkov/shadowrace/internal/race/detector"
	"github.com/kolkov/shadowrace/internal/race/thread"
)

var (
	initMu  sync.Mutex
	ctx     *detector.Context
	enabled atomic.Bool

	// states maps goroutine id -> *thread.State.
	states sync.Map

	mainState *thread.State

	// pending maps a GoCreate handle to the created TID until GoStart
	// claims it.
	pending sync.Map

	handleSeq atomic.Uintptr

	// autoRegMu serializes auto-registration of goroutines that were
	// never announced with GoCreate/GoStart.
	autoRegMu sync.Mutex
)

// Init initializes the runtime: configuration from SHADOWRACE_OPTS, the
// engine context, and thread 0 bound to the calling goroutine. Safe to
// call multiple times; only the first call does anything.
func Init() {
	opts, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "shadowrace: %v (using defaults)\n", err)
		opts = config.Default()
	}
	InitWithOptions(opts)
}

// InitWithOptions initializes the runtime with explicit options. Used by
// embedders and tests that need a captured output or tuned limits.
func InitWithOptions(opts config.Options) {
	initMu.Lock()
	defer initMu.Unlock()
	if ctx != nil {
		return
	}
	c, err := detector.New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shadowrace: %v (detector disabled)\n", err)
		return
	}
	ctx = c
	tid, err := ctx.ThreadCreate(nil, 0, 0, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shadowrace: %v (detector disabled)\n", err)
		ctx = nil
		return
	}
	mainState = ctx.ThreadStart(tid)
	states.Store(goroutineID(), mainState)
	enabled.Store(true)
}

// Fini finalizes the run and returns the process exit status: the
// configured exit_status_on_race when any report (race or misuse warning)
// was printed or an expected race never fired, else 0.
func Fini() int {
	initMu.Lock()
	defer initMu.Unlock()
	if ctx == nil {
		return 0
	}
	enabled.Store(false)
	return ctx.Fini()
}

// Enable turns detection back on after Disable.
func Enable() {
	if ctx != nil {
		enabled.Store(true)
	}
}

// Disable pauses detection; entry points become no-ops.
func Disable() {
	enabled.Store(false)
}

// RacesDetected returns the number of reports printed so far: unique races
// plus API-misuse warnings.
func RacesDetected() int64 {
	if ctx == nil {
		return 0
	}
	return ctx.RacesReported()
}

// Reset tears down the runtime so a test can Init from scratch. Not safe
// while instrumented goroutines are running.
func Reset() {
	initMu.Lock()
	defer initMu.Unlock()
	enabled.Store(false)
	ctx = nil
	mainState = nil
	states = sync.Map{}
	pending = sync.Map{}
}

// enter resolves the calling goroutine's state and takes the re-entrancy
// guard. Callers must pair it with exit when ok.
func enter() (*thread.State, bool) {
	if !enabled.Load() {
		return nil, false
	}
	thr := currentState()
	if thr == nil {
		return nil, false
	}
	thr.InRTL++
	if thr.InRTL > 1 {
		thr.InRTL--
		return nil, false
	}
	return thr, true
}

func exit(thr *thread.State) {
	thr.InRTL--
}

// currentState returns the calling goroutine's State, auto-registering
// unannounced goroutines as children of thread 0. Auto-registration is a
// fallback: goroutines announced with GoCreate/GoStart get a precise
// create edge from their real parent.
func currentState() *thread.State {
	gid := goroutineID()
	if v, ok := states.Load(gid); ok {
		return v.(*thread.State)
	}
	if mainState == nil {
		return nil
	}
	autoRegMu.Lock()
	defer autoRegMu.Unlock()
	if v, ok := states.Load(gid); ok {
		return v.(*thread.State)
	}
	tid, err := ctx.ThreadCreate(mainState, 0, 0, true)
	if err != nil {
		return nil
	}
	thr := ctx.ThreadStart(tid)
	states.Store(gid, thr)
	return thr
}

// CallerPC returns the pc of the caller skip frames above the caller of
// CallerPC. Used by the public wrappers so reports point at user code.
func CallerPC(skip int) uintptr {
	pc, _, _, ok := runtime.Caller(skip + 1)
	if !ok {
		return 0
	}
	return pc
}

// === Memory accesses ===

// Read1 records a 1-byte read at addr from pc.
func Read1(pc, addr uintptr) { access(pc, addr, 0, false) }

// Read2 records a 2-byte read.
func Read2(pc, addr uintptr) { access(pc, addr, 1, false) }

// Read4 records a 4-byte read.
func Read4(pc, addr uintptr) { access(pc, addr, 2, false) }

// Read8 records an 8-byte read.
func Read8(pc, addr uintptr) { access(pc, addr, 3, false) }

// Write1 records a 1-byte write.
func Write1(pc, addr uintptr) { access(pc, addr, 0, true) }

// Write2 records a 2-byte write.
func Write2(pc, addr uintptr) { access(pc, addr, 1, true) }

// Write4 records a 4-byte write.
func Write4(pc, addr uintptr) { access(pc, addr, 2, true) }

// Write8 records an 8-byte write.
func Write8(pc, addr uintptr) { access(pc, addr, 3, true) }

func access(pc, addr uintptr, sizeLog uint64, isWrite bool) {
	thr, ok := enter()
	if !ok {
		return
	}
	ctx.MemoryAccess(thr, pc, addr, sizeLog, isWrite)
	exit(thr)
}

// ReadRange records a read of size bytes at addr.
func ReadRange(pc, addr, size uintptr) {
	thr, ok := enter()
	if !ok {
		return
	}
	ctx.MemoryAccessRange(thr, pc, addr, size, false)
	exit(thr)
}

// WriteRange records a write of size bytes at addr.
func WriteRange(pc, addr, size uintptr) {
	thr, ok := enter()
	if !ok {
		return
	}
	ctx.MemoryAccessRange(thr, pc, addr, size, true)
	exit(thr)
}

// ResetRange forgets the access history of [addr, addr+size).
func ResetRange(addr, size uintptr) {
	thr, ok := enter()
	if !ok {
		return
	}
	ctx.MemoryResetRange(addr, size)
	exit(thr)
}

// RangeFreed marks [addr, addr+size) as freed memory.
func RangeFreed(pc, addr, size uintptr) {
	thr, ok := enter()
	if !ok {
		return
	}
	ctx.MemoryRangeFreed(thr, pc, addr, size)
	exit(thr)
}

// === Call boundaries ===

// FuncEnter records entry into a function; pc is the call return address.
func FuncEnter(pc uintptr) {
	thr, ok := enter()
	if !ok {
		return
	}
	ctx.FuncEntry(thr, pc)
	exit(thr)
}

// FuncExit records return from the current function.
func FuncExit() {
	thr, ok := enter()
	if !ok {
		return
	}
	ctx.FuncExit(thr)
	exit(thr)
}

// === Goroutine lifecycle ===

// GoCreate announces a goroutine about to be spawned by the caller and
// returns its handle. Pass the handle to GoStart inside the new
// goroutine.
func GoCreate(pc uintptr) uintptr {
	thr, ok := enter()
	if !ok {
		return 0
	}
	defer exit(thr)
	h := handleSeq.Add(1)
	tid, err := ctx.ThreadCreate(thr, pc, h, false)
	if err != nil {
		return 0
	}
	pending.Store(h, tid)
	return h
}

// GoStart binds the calling goroutine to the thread announced by
// GoCreate.
func GoStart(h uintptr) {
	if !enabled.Load() || h == 0 {
		return
	}
	v, ok := pending.LoadAndDelete(h)
	if !ok {
		return
	}
	thr := ctx.ThreadStart(v.(uint32))
	states.Store(goroutineID(), thr)
}

// GoFinish ends the calling goroutine's thread. Call it before the
// goroutine returns; the instrumenter does not insert this call.
func GoFinish() {
	thr, ok := enter()
	if !ok {
		return
	}
	states.Delete(goroutineID())
	ctx.ThreadFinish(thr)
	exit(thr)
}

// Join waits for the goroutine with the given handle and acquires its
// final time.
func Join(pc, h uintptr) {
	thr, ok := enter()
	if !ok {
		return
	}
	ctx.ThreadJoin(thr, pc, h)
	exit(thr)
}

// Detach marks the goroutine with the given handle as never-joined.
func Detach(pc, h uintptr) {
	thr, ok := enter()
	if !ok {
		return
	}
	ctx.ThreadDetach(thr, pc, h)
	exit(thr)
}

// === Synchronization ===

func syncOp(f func(*thread.State)) {
	thr, ok := enter()
	if !ok {
		return
	}
	f(thr)
	exit(thr)
}

// MutexCreate registers a mutex.
func MutexCreate(pc, addr uintptr, rw, recursive bool) {
	syncOp(func(thr *thread.State) { ctx.MutexCreate(thr, pc, addr, rw, recursive) })
}

// MutexDestroy removes a mutex.
func MutexDestroy(pc, addr uintptr) {
	syncOp(func(thr *thread.State) { ctx.MutexDestroy(thr, pc, addr) })
}

// MutexLock records a write-lock acquisition.
func MutexLock(pc, addr uintptr) {
	syncOp(func(thr *thread.State) { ctx.MutexLock(thr, pc, addr) })
}

// MutexUnlock records a write-lock release.
func MutexUnlock(pc, addr uintptr) {
	syncOp(func(thr *thread.State) { ctx.MutexUnlock(thr, pc, addr) })
}

// MutexRLock records a read-lock acquisition.
func MutexRLock(pc, addr uintptr) {
	syncOp(func(thr *thread.State) { ctx.MutexReadLock(thr, pc, addr) })
}

// MutexRUnlock records a read-lock release.
func MutexRUnlock(pc, addr uintptr) {
	syncOp(func(thr *thread.State) { ctx.MutexReadUnlock(thr, pc, addr) })
}

// MutexRWUnlock records an unlock whose mode is unknown to the caller.
func MutexRWUnlock(pc, addr uintptr) {
	syncOp(func(thr *thread.State) { ctx.MutexReadOrWriteUnlock(thr, pc, addr) })
}

// Acquire records the acquire half of an edge on addr.
func Acquire(pc, addr uintptr) {
	syncOp(func(thr *thread.State) { ctx.Acquire(thr, pc, addr) })
}

// Release records the merging release half of an edge on addr.
func Release(pc, addr uintptr) {
	syncOp(func(thr *thread.State) { ctx.Release(thr, pc, addr) })
}

// ReleaseStore records a destructive release on addr.
func ReleaseStore(pc, addr uintptr) {
	syncOp(func(thr *thread.State) { ctx.ReleaseStore(thr, pc, addr) })
}

// SemPost records a semaphore post.
func SemPost(pc, addr uintptr) {
	syncOp(func(thr *thread.State) { ctx.SemPost(thr, pc, addr) })
}

// SemWait records a semaphore wait completion.
func SemWait(pc, addr uintptr) {
	syncOp(func(thr *thread.State) { ctx.SemWait(thr, pc, addr) })
}

// OnceDone records completion of a once-initializer body.
func OnceDone(pc, addr uintptr) {
	syncOp(func(thr *thread.State) { ctx.OnceDone(thr, pc, addr) })
}

// OnceAcquire records observation of a completed once-initializer.
func OnceAcquire(pc, addr uintptr) {
	syncOp(func(thr *thread.State) { ctx.OnceAcquire(thr, pc, addr) })
}

// BarrierWaitBefore records arrival at a barrier.
func BarrierWaitBefore(pc, addr uintptr) {
	syncOp(func(thr *thread.State) { ctx.BarrierWaitBefore(thr, pc, addr) })
}

// BarrierWaitAfter records departure from a barrier.
func BarrierWaitAfter(pc, addr uintptr) {
	syncOp(func(thr *thread.State) { ctx.BarrierWaitAfter(thr, pc, addr) })
}

// CondSignal records a condition-variable signal or broadcast.
func CondSignal(pc, addr uintptr) {
	syncOp(func(thr *thread.State) { ctx.CondSignal(thr, pc, addr) })
}

// CondWaitBefore records the start of a condition wait (mutex release).
func CondWaitBefore(pc, cond, mutex uintptr) {
	syncOp(func(thr *thread.State) { ctx.CondWaitBefore(thr, pc, cond, mutex) })
}

// CondWaitAfter records the wakeup from a condition wait.
func CondWaitAfter(pc, cond, mutex uintptr) {
	syncOp(func(thr *thread.State) { ctx.CondWaitAfter(thr, pc, cond, mutex) })
}

// === Ignore regions ===

// IgnoreReadsBegin suspends read tracking for the calling goroutine.
func IgnoreReadsBegin() {
	syncIgnore(false, true)
}

// IgnoreReadsEnd resumes read tracking.
func IgnoreReadsEnd() {
	syncIgnore(false, false)
}

// IgnoreWritesBegin suspends write tracking for the calling goroutine.
func IgnoreWritesBegin() {
	syncIgnore(true, true)
}

// IgnoreWritesEnd resumes write tracking.
func IgnoreWritesEnd() {
	syncIgnore(true, false)
}

func syncIgnore(writes, begin bool) {
	thr, ok := enter()
	if !ok {
		return
	}
	ctx.IgnoreCtl(thr, writes, begin)
	exit(thr)
}

// === Annotations ===

// BenignRace declares races on [addr, addr+size) as intended.
func BenignRace(addr, size uintptr) {
	if !enabled.Load() {
		return
	}
	ctx.AnnotateBenignRace(addr, size)
}

// ExpectRace declares an expected race for self-tests.
func ExpectRace(addr, size uintptr, desc string) {
	if !enabled.Load() {
		return
	}
	ctx.AnnotateExpectRace(addr, size, desc)
}

// HappensBefore declares the release half of a manual arc on addr.
func HappensBefore(pc, addr uintptr) {
	syncOp(func(thr *thread.State) { ctx.AnnotateHappensBefore(thr, pc, addr) })
}

// HappensAfter declares the acquire half of a manual arc on addr.
func HappensAfter(pc, addr uintptr) {
	syncOp(func(thr *thread.State) { ctx.AnnotateHappensAfter(thr, pc, addr) })
}

// PCQCreate declares a producer-consumer queue.
func PCQCreate(pc, addr uintptr) {
	syncOp(func(thr *thread.State) { ctx.PCQCreate(thr, pc, addr) })
}

// PCQPut records a queue put.
func PCQPut(pc, addr uintptr) {
	syncOp(func(thr *thread.State) { ctx.PCQPut(thr, pc, addr) })
}

// PCQGet records a queue get.
func PCQGet(pc, addr uintptr) {
	syncOp(func(thr *thread.State) { ctx.PCQGet(thr, pc, addr) })
}

// PCQDestroy removes a queue's sync state.
func PCQDestroy(pc, addr uintptr) {
	syncOp(func(thr *thread.State) { ctx.PCQDestroy(thr, pc, addr) })
}
