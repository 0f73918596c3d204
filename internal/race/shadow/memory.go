package shadow

import (
	"sync"
	"sync/atomic"
)

// maxRangeCells bounds the number of cells touched by a single range
// operation. Some programs map hundreds of gigabytes and use a sliver;
// cells past the cap are left as they were (a reset keeps their stale
// history, a possible false positive) rather than stalling the program
// walking shadow for the whole mapping.
const maxRangeCells = 1 << 24

// Cell holds the ShadowCnt most recent access records for one aligned
// 8-byte application region. Slots are read and written with relaxed
// (plain atomic) 64-bit operations and no lock; see the package comment
// for why the resulting races are benign.
type Cell struct {
	slots [ShadowCnt]atomic.Uint64
}

// Load returns the word in slot i.
//
//go:nosplit
func (c *Cell) Load(i uint64) Word {
	return Word(c.slots[i%ShadowCnt].Load())
}

// Store writes w into slot i.
//
//go:nosplit
func (c *Cell) Store(i uint64, w Word) {
	c.slots[i%ShadowCnt].Store(uint64(w))
}

// Fill writes w into every slot.
func (c *Cell) Fill(w Word) {
	for i := range c.slots {
		c.slots[i].Store(uint64(w))
	}
}

// Memory maps application addresses to shadow cells.
//
// Cells are keyed by the aligned address addr &^ 7 and allocated on first
// access. sync.Map fits the workload: the set of hot cells is read-mostly
// (one LoadOrStore miss per cell lifetime, then lock-free loads on every
// access to that region).
type Memory struct {
	cells sync.Map // uintptr (aligned addr) -> *Cell
}

// NewMemory creates an empty shadow memory.
func NewMemory() *Memory {
	return &Memory{}
}

// CellAddr returns the cell key for an application address.
//
//go:nosplit
func CellAddr(addr uintptr) uintptr { return addr &^ 7 }

// CellFor returns the cell covering addr, allocating it if needed. If
// several threads race to create the same cell, all of them get the one
// instance that won LoadOrStore.
//
//go:nosplit
func (m *Memory) CellFor(addr uintptr) *Cell {
	key := CellAddr(addr)
	if v, ok := m.cells.Load(key); ok {
		return v.(*Cell)
	}
	v, _ := m.cells.LoadOrStore(key, &Cell{})
	return v.(*Cell)
}

// Peek returns the cell covering addr if one exists, else nil. Used by
// range operations and tests; the access path always uses CellFor.
func (m *Memory) Peek(addr uintptr) *Cell {
	if v, ok := m.cells.Load(CellAddr(addr)); ok {
		return v.(*Cell)
	}
	return nil
}

// ResetRange forgets all recorded accesses to [addr, addr+size). Dropping
// the cell entirely is equivalent to zeroing every slot and returns the
// memory to the runtime.
func (m *Memory) ResetRange(addr, size uintptr) {
	m.rangeCells(addr, size, func(key uintptr) {
		m.cells.Delete(key)
	})
}

// FillRange stamps every cell overlapping [addr, addr+size) with w in all
// slots, allocating cells that do not exist yet. Used to mark freed memory.
func (m *Memory) FillRange(addr, size uintptr, w Word) {
	m.rangeCells(addr, size, func(key uintptr) {
		m.CellFor(key).Fill(w)
	})
}

func (m *Memory) rangeCells(addr, size uintptr, f func(key uintptr)) {
	if size == 0 {
		return
	}
	first := CellAddr(addr)
	last := CellAddr(addr + size - 1)
	n := 0
	for key := first; ; key += 8 {
		f(key)
		n++
		if key == last || n >= maxRangeCells {
			return
		}
	}
}
