package thread

import (
	"testing"

	"github.com/kolkov/shadowrace/internal/race/trace"
)

func startThread0(t *testing.T, r *Registry) *State {
	t.Helper()
	tid, err := r.Create(nil, 0, 0, false)
	if err != nil {
		t.Fatalf("Create(thread 0) error: %v", err)
	}
	if tid != 0 {
		t.Fatalf("first Create = tid %d, want 0", tid)
	}
	thr, err := r.Start(tid)
	if err != nil {
		t.Fatalf("Start(0) error: %v", err)
	}
	return thr
}

// TestLifecycle walks Invalid -> Created -> Running -> Finished -> Dead.
func TestLifecycle(t *testing.T) {
	r := NewRegistry(2)
	main := startThread0(t, r)

	tid, err := r.Create(main, 0x10, 0x1000, false)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if got := r.Context(tid).Status; got != StatusCreated {
		t.Errorf("status after create = %v, want Created", got)
	}

	child, err := r.Start(tid)
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if got := r.Context(tid).Status; got != StatusRunning {
		t.Errorf("status after start = %v, want Running", got)
	}
	if child.Epoch() != 1 {
		t.Errorf("child epoch at start = %d, want 1", child.Epoch())
	}
	if got := child.Clock.Get(tid); got != 1 {
		t.Errorf("child Clock[self] = %d, want 1 (invariant VC[self] == epoch)", got)
	}

	if err := r.Finish(child); err != nil {
		t.Fatalf("Finish error: %v", err)
	}
	if got := r.Context(tid).Status; got != StatusFinished {
		t.Errorf("status after finish = %v, want Finished", got)
	}

	if err := r.Join(main, 0x1000); err != nil {
		t.Fatalf("Join error: %v", err)
	}
	if got := r.Context(tid).Status; got != StatusDead {
		t.Errorf("status after join = %v, want Dead", got)
	}
}

// TestCreateStartEdge: the child's clock includes the parent's time at
// create, so parent work before create happens-before the child.
func TestCreateStartEdge(t *testing.T) {
	r := NewRegistry(2)
	main := startThread0(t, r)

	// Advance the parent and keep its own clock entry current.
	for i := 0; i < 10; i++ {
		main.Fast.IncrementEpoch()
	}
	main.Clock.Set(main.Tid, main.Epoch())

	tid, err := r.Create(main, 0x10, 0x2000, false)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if got := r.Context(tid).ParentEpoch; got != main.Epoch() {
		t.Errorf("ParentEpoch = %d, want %d", got, main.Epoch())
	}
	child, err := r.Start(tid)
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if got := child.Clock.Get(main.Tid); got < main.Epoch() {
		t.Errorf("child.Clock[parent] = %d, want >= %d", got, main.Epoch())
	}
}

// TestJoinAcquiresFinalClock: the joiner observes the joined thread's
// final time.
func TestJoinAcquiresFinalClock(t *testing.T) {
	r := NewRegistry(2)
	main := startThread0(t, r)

	tid, _ := r.Create(main, 0, 0x3000, false)
	child, _ := r.Start(tid)
	for i := 0; i < 42; i++ {
		child.Fast.IncrementEpoch()
	}
	child.Clock.Set(tid, child.Epoch())
	final := child.Epoch()
	if err := r.Finish(child); err != nil {
		t.Fatalf("Finish error: %v", err)
	}
	if err := r.Join(main, 0x3000); err != nil {
		t.Fatalf("Join error: %v", err)
	}
	if got := main.Clock.Get(tid); got != final {
		t.Errorf("joiner.Clock[child] = %d, want %d", got, final)
	}
}

// TestJoinBlocksUntilFinish: a join issued before finish completes once
// the thread finishes.
func TestJoinBlocksUntilFinish(t *testing.T) {
	r := NewRegistry(2)
	main := startThread0(t, r)

	tid, _ := r.Create(main, 0, 0x4000, false)
	child, _ := r.Start(tid)

	joined := make(chan error)
	go func() {
		joined <- r.Join(main, 0x4000)
	}()
	if err := r.Finish(child); err != nil {
		t.Fatalf("Finish error: %v", err)
	}
	if err := <-joined; err != nil {
		t.Fatalf("Join error: %v", err)
	}
}

// TestDetachedFinishGoesStraightToDead.
func TestDetachedFinishGoesStraightToDead(t *testing.T) {
	r := NewRegistry(2)
	main := startThread0(t, r)

	tid, _ := r.Create(main, 0, 0x5000, true)
	child, _ := r.Start(tid)
	if err := r.Finish(child); err != nil {
		t.Fatalf("Finish error: %v", err)
	}
	if got := r.Context(tid).Status; got != StatusDead {
		t.Errorf("detached thread status after finish = %v, want Dead", got)
	}
	if err := r.Join(main, 0x5000); err == nil {
		t.Error("Join of detached dead thread succeeded, want error")
	}
}

// TestDetachAfterFinishReaps.
func TestDetachAfterFinishReaps(t *testing.T) {
	r := NewRegistry(2)
	main := startThread0(t, r)

	tid, _ := r.Create(main, 0, 0x6000, false)
	child, _ := r.Start(tid)
	if err := r.Finish(child); err != nil {
		t.Fatalf("Finish error: %v", err)
	}
	if err := r.Detach(0x6000); err != nil {
		t.Fatalf("Detach error: %v", err)
	}
	if got := r.Context(tid).Status; got != StatusDead {
		t.Errorf("status after detach of finished thread = %v, want Dead", got)
	}
}

// TestJoinUnknownHandle is a misuse error, not a hang.
func TestJoinUnknownHandle(t *testing.T) {
	r := NewRegistry(2)
	main := startThread0(t, r)
	if err := r.Join(main, 0xdead); err != ErrUnknownHandle {
		t.Errorf("Join(unknown) error = %v, want ErrUnknownHandle", err)
	}
}

// TestDeadThreadStackRestorable: a finished thread's stacks remain
// reconstructable for a late join window.
func TestDeadThreadStackRestorable(t *testing.T) {
	r := NewRegistry(2)
	main := startThread0(t, r)

	tid, _ := r.Create(main, 0, 0x7000, false)
	child, _ := r.Start(tid)
	child.Fast.IncrementEpoch()
	child.Trace.AddEvent(child.Epoch(), trace.EventMop, 0x1234, child.ShadowStack)
	epoch := child.Epoch()
	if err := r.Finish(child); err != nil {
		t.Fatalf("Finish error: %v", err)
	}

	got := r.RestoreStack(tid, epoch)
	if len(got) != 1 || got[0] != 0x1234 {
		t.Errorf("RestoreStack after finish = %#x, want [0x1234]", got)
	}
}

// TestDeadListEviction: overflowing the dead list frees the oldest
// context's trace and recycles its TID with a bumped reuse count.
func TestDeadListEviction(t *testing.T) {
	r := NewRegistry(1)
	main := startThread0(t, r)

	firstTid, _ := r.Create(main, 0, 0x10000, true)
	first, _ := r.Start(firstTid)
	if err := r.Finish(first); err != nil {
		t.Fatalf("Finish error: %v", err)
	}

	// Push DeadListLimit more dead threads to evict the first one.
	for i := 0; i < DeadListLimit; i++ {
		h := uintptr(0x20000 + i)
		tid, err := r.Create(main, 0, h, true)
		if err != nil {
			t.Fatalf("Create %d error: %v", i, err)
		}
		thr, err := r.Start(tid)
		if err != nil {
			t.Fatalf("Start %d error: %v", i, err)
		}
		if err := r.Finish(thr); err != nil {
			t.Fatalf("Finish %d error: %v", i, err)
		}
	}

	if got := r.RestoreStack(firstTid, 1); got != nil {
		t.Errorf("evicted thread's stack restored = %#x, want nil", got)
	}

	// The evicted slot is revived before fresh TIDs.
	tid, err := r.Create(main, 0, 0x30000, false)
	if err != nil {
		t.Fatalf("Create after eviction error: %v", err)
	}
	if tid != firstTid {
		t.Errorf("revived tid = %d, want %d", tid, firstTid)
	}
	if got := r.Context(tid).ReuseCount; got != 1 {
		t.Errorf("ReuseCount = %d, want 1", got)
	}
}
