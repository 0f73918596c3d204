package race

import internal "github.com/kolkov/shadowrace/internal/race/api"

// Init initializes the race detector runtime. The shadowrace tool adds an
// init function that calls it to each instrumented file; manual users call
// it before any other entry point. Safe to call multiple times.
func Init() {
	internal.Init()
}

// Fini finalizes the detector, prints unmet race expectations and the
// summary, and returns the process exit status: exit_status_on_race when
// any report (race or misuse warning) was printed or an expected race never
// fired, 0 otherwise. Use with os.Exit at the end of main.
func Fini() int {
	return internal.Fini()
}

// Enable resumes detection after Disable.
func Enable() {
	internal.Enable()
}

// Disable pauses detection; all entry points become no-ops until Enable.
func Disable() {
	internal.Disable()
}

// RacesDetected returns the number of reports printed so far: unique races
// plus API-misuse warnings.
func RacesDetected() int64 {
	return internal.RacesDetected()
}

// Read records a read of size bytes (1, 2, 4 or 8; other sizes take the
// range path) at addr by the calling goroutine.
func Read(addr uintptr, size int) {
	pc := internal.CallerPC(1)
	switch size {
	case 1:
		internal.Read1(pc, addr)
	case 2:
		internal.Read2(pc, addr)
	case 4:
		internal.Read4(pc, addr)
	case 8:
		internal.Read8(pc, addr)
	default:
		internal.ReadRange(pc, addr, uintptr(size))
	}
}

// Write records a write of size bytes at addr by the calling goroutine.
func Write(addr uintptr, size int) {
	pc := internal.CallerPC(1)
	switch size {
	case 1:
		internal.Write1(pc, addr)
	case 2:
		internal.Write2(pc, addr)
	case 4:
		internal.Write4(pc, addr)
	case 8:
		internal.Write8(pc, addr)
	default:
		internal.WriteRange(pc, addr, uintptr(size))
	}
}

// ReadRange records a read of size bytes starting at addr.
func ReadRange(addr uintptr, size int) {
	internal.ReadRange(internal.CallerPC(1), addr, uintptr(size))
}

// WriteRange records a write of size bytes starting at addr.
func WriteRange(addr uintptr, size int) {
	internal.WriteRange(internal.CallerPC(1), addr, uintptr(size))
}

// Free marks [addr, addr+size) as freed: later unsynchronized accesses
// report use-after-free races.
func Free(addr uintptr, size int) {
	internal.RangeFreed(internal.CallerPC(1), addr, uintptr(size))
}

// ResetRange forgets all recorded accesses to [addr, addr+size), e.g.
// when memory is recycled by an allocator.
func ResetRange(addr uintptr, size int) {
	internal.ResetRange(addr, uintptr(size))
}

// FuncEnter records entry into the calling function.
func FuncEnter() {
	internal.FuncEnter(internal.CallerPC(1))
}

// FuncExit records return from the calling function; pair with FuncEnter
// via defer.
func FuncExit() {
	internal.FuncExit()
}

// GoCreate announces a goroutine the caller is about to spawn and returns
// a handle for GoStart/Join.
func GoCreate() uintptr {
	return internal.GoCreate(internal.CallerPC(1))
}

// GoStart binds the calling goroutine to a handle from GoCreate. Call it
// first thing inside the new goroutine.
func GoStart(h uintptr) {
	internal.GoStart(h)
}

// GoFinish ends the calling goroutine's detection state. Defer it at the
// top of the goroutine body.
func GoFinish() {
	internal.GoFinish()
}

// Join records that the caller waited for the goroutine with the given
// handle; the joined goroutine's writes become visible without reports.
func Join(h uintptr) {
	internal.Join(internal.CallerPC(1), h)
}

// Detach marks the goroutine with the given handle as never-joined.
func Detach(h uintptr) {
	internal.Detach(internal.CallerPC(1), h)
}

// MutexCreate registers a mutex at addr; rw marks rwlocks, recursive
// marks recursive mutexes.
func MutexCreate(addr uintptr, rw, recursive bool) {
	internal.MutexCreate(internal.CallerPC(1), addr, rw, recursive)
}

// MutexDestroy removes the mutex at addr.
func MutexDestroy(addr uintptr) {
	internal.MutexDestroy(internal.CallerPC(1), addr)
}

// MutexLock records a write-lock of the mutex at addr, after the real
// lock is held.
func MutexLock(addr uintptr) {
	internal.MutexLock(internal.CallerPC(1), addr)
}

// MutexUnlock records a write-unlock of the mutex at addr, before the
// real unlock.
func MutexUnlock(addr uintptr) {
	internal.MutexUnlock(internal.CallerPC(1), addr)
}

// MutexRLock records a read-lock of the rwlock at addr.
func MutexRLock(addr uintptr) {
	internal.MutexRLock(internal.CallerPC(1), addr)
}

// MutexRUnlock records a read-unlock of the rwlock at addr.
func MutexRUnlock(addr uintptr) {
	internal.MutexRUnlock(internal.CallerPC(1), addr)
}

// Acquire records the acquire half of a happens-before edge on addr.
func Acquire(addr uintptr) {
	internal.Acquire(internal.CallerPC(1), addr)
}

// Release records the release half of a happens-before edge on addr;
// multiple releasers accumulate.
func Release(addr uintptr) {
	internal.Release(internal.CallerPC(1), addr)
}

// ReleaseStore records a destructive release on addr (one-time
// initializers).
func ReleaseStore(addr uintptr) {
	internal.ReleaseStore(internal.CallerPC(1), addr)
}

// IgnoreReadsBegin suspends read tracking for the calling goroutine until
// IgnoreReadsEnd. Nesting must balance by goroutine finish.
func IgnoreReadsBegin() { internal.IgnoreReadsBegin() }

// IgnoreReadsEnd resumes read tracking.
func IgnoreReadsEnd() { internal.IgnoreReadsEnd() }

// IgnoreWritesBegin suspends write tracking for the calling goroutine.
func IgnoreWritesBegin() { internal.IgnoreWritesBegin() }

// IgnoreWritesEnd resumes write tracking.
func IgnoreWritesEnd() { internal.IgnoreWritesEnd() }

// BenignRace declares races on [addr, addr+size) as intended; matching
// reports are dropped.
func BenignRace(addr uintptr, size int) {
	internal.BenignRace(addr, uintptr(size))
}

// ExpectRace declares that a race on [addr, addr+size) is expected
// (self-test support); a run where it never fires fails at Fini.
func ExpectRace(addr uintptr, size int, desc string) {
	internal.ExpectRace(addr, uintptr(size), desc)
}

// HappensBefore declares the release half of a manual happens-before arc.
func HappensBefore(addr uintptr) {
	internal.HappensBefore(internal.CallerPC(1), addr)
}

// HappensAfter declares the acquire half of a manual happens-before arc.
func HappensAfter(addr uintptr) {
	internal.HappensAfter(internal.CallerPC(1), addr)
}
