// Package detector implements the core of the race detection engine: the
// per-access algorithm over shadow memory, the range operations, the
// synchronization-operation semantics over vector clocks, thread lifecycle
// entry points, ignore regions, annotations and race-report construction.
//
// # Architecture
//
// A single Context owns the shadow memory, the sync-variable table, the
// thread registry and the reporting state. Every entry point takes the
// calling thread's State as its first argument; the engine has no implicit
// thread-local state and no scheduler. The instrumentation front-end (an
// external collaborator) calls MemoryAccess on every load/store, FuncEntry
// and FuncExit on call boundaries, and the sync-op entry points on every
// synchronization event.
//
// # The access hot path
//
// MemoryAccess performs no locking: it reads and writes 64-bit shadow
// words with atomic loads/stores, consults only the calling thread's own
// vector clock, and appends to the calling thread's own trace. Races on
// shadow cells are benign by design; a lost shadow update costs one entry
// of history, the same as the cell's normal replacement policy.
//
// # Error handling
//
// Races and API misuse by the instrumented program produce reports and
// never abort. Engine invariant violations (epoch overflow, status-machine
// violations) print a diagnostic and abort via panic. Resource exhaustion
// is fatal for the affected thread, and for the process when it hits
// thread 0.
package detector
