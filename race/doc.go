// Package race provides the public runtime API for the shadowrace
// detector: a pure-Go dynamic data race detector that needs no CGO and no
// custom toolchain.
//
// # Quick start
//
// The shadowrace tool instruments programs automatically:
//
//	$ shadowrace build -o myprogram myprogram.go
//	$ ./myprogram
//
// For manual instrumentation:
//
//	package main
//
//	import (
//		"unsafe"
//
//		"github.com/kolkov/shadowrace/race"
//	)
//
//	var counter int32
//
//	func main() {
//		race.Init()
//		defer race.Fini()
//
//		race.Write(uintptr(unsafe.Pointer(&counter)), 4)
//		counter = 42
//	}
//
// # How it works
//
// Every instrumented load and store updates a shadow cell recording the
// most recent accesses to that 8-byte region, and is checked against the
// cell's history using per-thread vector clocks: two accesses to
// overlapping bytes, from different goroutines, at least one a write, with
// no happens-before edge between them, are a data race. Synchronization
// entry points (mutexes, release/acquire edges, goroutine create/join)
// establish the happens-before edges. When a race is found the engine
// replays the per-goroutine event traces to rebuild both stacks and prints
// a report.
//
// # Configuration
//
// The SHADOWRACE_OPTS environment variable holds comma-separated
// key=value options: verbosity, history_size, max_reported_races,
// suppressions, track_lock_orders, ignore_regions, exit_status_on_race.
package race
