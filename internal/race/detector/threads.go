package detector

import (
	"errors"
	"fmt"

	"github.com/kolkov/shadowrace/internal/race/report"
	"github.com/kolkov/shadowrace/internal/race/thread"
	"github.com/kolkov/shadowrace/internal/race/trace"
)

// ThreadCreate allocates a TID for a child of parent. The parent's current
// time is snapshotted as the child's start clock, forming the
// happens-before edge from create to the child's first event. parent is
// nil only for thread 0.
//
// Thread-table exhaustion is fatal for the creating thread; when thread 0
// cannot even be created there is no program to detect, so that aborts.
func (c *Context) ThreadCreate(parent *thread.State, pc, userHandle uintptr, detached bool) (uint32, error) {
	if parent != nil {
		c.incrementEpoch(parent)
		parent.Trace.AddEvent(parent.Epoch(), trace.EventUnlock, pc, parent.ShadowStack)
		parent.Clock.Set(parent.Tid, parent.Epoch())
	}
	tid, err := c.Threads.Create(parent, pc, userHandle, detached)
	if err != nil {
		if parent == nil {
			fatalf("cannot create thread 0: %v", err)
		}
		return 0, err
	}
	return tid, nil
}

// ThreadStart binds the calling execution to the slot created for tid and
// returns its State.
func (c *Context) ThreadStart(tid uint32) *thread.State {
	thr, err := c.Threads.Start(tid)
	if err != nil {
		fatalf("thread %d start: %v", tid, err)
	}
	return thr
}

// ThreadFinish ends the calling thread. Unbalanced ignore regions are
// reported here, where the whole thread's nesting is known.
func (c *Context) ThreadFinish(thr *thread.State) {
	// Fold the final epoch into the thread's clock so the join edge
	// covers every access the thread made.
	c.incrementEpoch(thr)
	thr.Trace.AddEvent(thr.Epoch(), trace.EventUnlock, 0, thr.ShadowStack)
	thr.Clock.Set(thr.Tid, thr.Epoch())
	if thr.IgnoreReads != 0 || thr.IgnoreWrites != 0 {
		c.reportMisuse(report.TypeUnbalancedIgnore, thr,
			fmt.Sprintf("thread T%d finished with ignore counters reads=%d writes=%d",
				thr.Tid, thr.IgnoreReads, thr.IgnoreWrites))
	}
	c.flushStats(&thr.Stats)
	if err := c.Threads.Finish(thr); err != nil {
		fatalf("thread %d finish: %v", thr.Tid, err)
	}
}

// ThreadJoin waits for the thread registered under userHandle, acquires
// its final time into joiner, and reaps the slot. Joining an unknown or
// already-reaped thread is instrumented-program misuse, not an engine
// failure.
func (c *Context) ThreadJoin(joiner *thread.State, pc, userHandle uintptr) {
	c.syncProlog(joiner, pc, trace.EventLock)
	err := c.Threads.Join(joiner, userHandle)
	switch {
	case err == nil:
	case errors.Is(err, thread.ErrUnknownHandle), errors.Is(err, thread.ErrAlreadyDead):
		c.reportMisuse(report.TypeInvalidJoin, joiner,
			fmt.Sprintf("join of invalid thread handle 0x%x: %v", userHandle, err))
	default:
		fatalf("join: %v", err)
	}
	c.syncEpilog(joiner)
}

// ThreadDetach marks the thread under userHandle as detached.
func (c *Context) ThreadDetach(thr *thread.State, pc, userHandle uintptr) {
	if err := c.Threads.Detach(userHandle); err != nil {
		c.reportMisuse(report.TypeInvalidJoin, thr,
			fmt.Sprintf("detach of invalid thread handle 0x%x: %v", userHandle, err))
	}
}
