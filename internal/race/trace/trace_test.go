package trace

import "testing"

// TestEventRoundTrip packs and unpacks (type, pc) pairs.
func TestEventRoundTrip(t *testing.T) {
	types := []EventType{EventMop, EventFuncEnter, EventFuncExit, EventLock,
		EventUnlock, EventRLock, EventRUnlock}
	pcs := []uintptr{0, 1, 0xdeadbeef, uintptr(1)<<61 - 1}
	for _, typ := range types {
		for _, pc := range pcs {
			ev := NewEvent(typ, pc)
			if ev.Type() != typ {
				t.Errorf("Type() = %d, want %d", ev.Type(), typ)
			}
			if ev.PC() != pc {
				t.Errorf("PC() = %#x, want %#x", ev.PC(), pc)
			}
		}
	}
}

// run replays a scripted event sequence through a trace starting at epoch
// and returns the final epoch.
func run(tr *Trace, epoch uint64, evs []struct {
	typ EventType
	pc  uintptr
}, stack *[]uintptr) uint64 {
	for _, e := range evs {
		epoch++
		tr.AddEvent(epoch, e.typ, e.pc, *stack)
		switch e.typ {
		case EventFuncEnter:
			*stack = append(*stack, e.pc-1)
		case EventFuncExit:
			if n := len(*stack); n > 0 {
				*stack = (*stack)[:n-1]
			}
		}
	}
	return epoch
}

// TestRestoreStackBasic: enter two functions, perform an access, and
// reconstruct the stack at the access's epoch.
func TestRestoreStackBasic(t *testing.T) {
	tr := New(2)
	var stack []uintptr
	script := []struct {
		typ EventType
		pc  uintptr
	}{
		{EventFuncEnter, 0x100},
		{EventFuncEnter, 0x200},
		{EventMop, 0x250},
	}
	epoch := run(tr, 0, script, &stack)

	got := tr.RestoreStack(epoch)
	want := []uintptr{0x100 - 1, 0x200 - 1, 0x250}
	if len(got) != len(want) {
		t.Fatalf("RestoreStack depth = %d (%#x), want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d = %#x, want %#x", i, got[i], want[i])
		}
	}
}

// TestRestoreStackFuncExit: returning pops the frame; the caller's return
// address becomes the current pc.
func TestRestoreStackFuncExit(t *testing.T) {
	tr := New(2)
	var stack []uintptr
	script := []struct {
		typ EventType
		pc  uintptr
	}{
		{EventFuncEnter, 0x100},
		{EventFuncEnter, 0x200},
		{EventMop, 0x250},
		{EventFuncExit, 0},
	}
	epoch := run(tr, 0, script, &stack)

	got := tr.RestoreStack(epoch)
	// After the exit we are back in the outer function and the current pc
	// is the popped return address 0x1ff.
	want := []uintptr{0x100 - 1, 0x200 - 1}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("RestoreStack = %#x, want %#x", got, want)
	}
}

// TestRestoreStackMopReplacesCurrentPC: consecutive accesses only move the
// top-of-stack pc, not the depth.
func TestRestoreStackMopReplacesCurrentPC(t *testing.T) {
	tr := New(2)
	var stack []uintptr
	script := []struct {
		typ EventType
		pc  uintptr
	}{
		{EventFuncEnter, 0x100},
		{EventMop, 0x110},
		{EventMop, 0x120},
		{EventMop, 0x130},
	}
	epoch := run(tr, 0, script, &stack)

	got := tr.RestoreStack(epoch)
	if len(got) != 2 {
		t.Fatalf("depth = %d (%#x), want 2", len(got), got)
	}
	if got[1] != 0x130 {
		t.Errorf("top pc = %#x, want 0x130", got[1])
	}

	// The intermediate epoch restores the intermediate pc.
	mid := tr.RestoreStack(epoch - 1)
	if len(mid) != 2 || mid[1] != 0x120 {
		t.Errorf("RestoreStack(epoch-1) = %#x, want [..., 0x120]", mid)
	}
}

// TestRestoreStackUnmatchedExit: FuncExit on an empty stack is a no-op.
func TestRestoreStackUnmatchedExit(t *testing.T) {
	tr := New(2)
	var stack []uintptr
	script := []struct {
		typ EventType
		pc  uintptr
	}{
		{EventFuncExit, 0},
		{EventFuncExit, 0},
		{EventMop, 0x50},
	}
	epoch := run(tr, 0, script, &stack)
	got := tr.RestoreStack(epoch)
	if len(got) != 1 || got[0] != 0x50 {
		t.Errorf("RestoreStack = %#x, want [0x50]", got)
	}
}

// TestRestoreStackUsesHeaderStack: an access in a later part starts from
// the stack snapshot taken at the part boundary.
func TestRestoreStackUsesHeaderStack(t *testing.T) {
	tr := New(4)
	var stack []uintptr
	epoch := run(tr, 0, []struct {
		typ EventType
		pc  uintptr
	}{
		{EventFuncEnter, 0x100},
		{EventFuncEnter, 0x200},
	}, &stack)

	// Fill the rest of the first part with accesses, then one more in the
	// second part.
	for epoch < PartSize {
		epoch++
		tr.AddEvent(epoch, EventMop, 0x300, stack)
	}
	epoch++
	tr.AddEvent(epoch, EventMop, 0x400, stack)

	got := tr.RestoreStack(epoch)
	want := []uintptr{0x100 - 1, 0x200 - 1, 0x400}
	if len(got) != len(want) {
		t.Fatalf("depth = %d (%#x), want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d = %#x, want %#x", i, got[i], want[i])
		}
	}
}

// TestRestoreStackExpiredWindow: epochs overwritten by a later ring cycle
// return nil.
func TestRestoreStackExpiredWindow(t *testing.T) {
	parts := 2
	tr := New(parts)
	var stack []uintptr
	total := uint64(parts)*PartSize + 10
	var epoch uint64
	for epoch < total {
		epoch++
		tr.AddEvent(epoch, EventMop, uintptr(epoch), stack)
	}
	// Epoch 5 was overwritten when the ring wrapped.
	if got := tr.RestoreStack(5); got != nil {
		t.Errorf("RestoreStack(5) = %#x, want nil (window expired)", got)
	}
	// The newest epoch is still live.
	if got := tr.RestoreStack(epoch); len(got) != 1 || got[0] != uintptr(epoch) {
		t.Errorf("RestoreStack(newest) = %#x, want [%#x]", got, epoch)
	}
}

// TestNetDepthProperty: depth equals the header stack depth plus the net
// FuncEnter-FuncExit count since the part began.
func TestNetDepthProperty(t *testing.T) {
	tr := New(2)
	var stack []uintptr
	script := []struct {
		typ EventType
		pc  uintptr
	}{
		{EventFuncEnter, 0x10},
		{EventFuncEnter, 0x20},
		{EventFuncExit, 0},
		{EventFuncEnter, 0x30},
		{EventFuncEnter, 0x40},
		{EventFuncExit, 0},
		{EventMop, 0x99},
	}
	epoch := run(tr, 0, script, &stack)
	got := tr.RestoreStack(epoch)
	// Net enters: 4 - 2 = 2, plus the access pc on top.
	if len(got) != 3 {
		t.Fatalf("depth = %d (%#x), want 3", len(got), got)
	}
	if got[2] != 0x99 {
		t.Errorf("top pc = %#x, want 0x99", got[2])
	}
}
