package detector

import (
	"github.com/kolkov/shadowrace/internal/race/report"
	"github.com/kolkov/shadowrace/internal/race/shadow"
	"github.com/kolkov/shadowrace/internal/race/thread"
)

// creatorChainDepth bounds how far up the creator chain a report walks.
const creatorChainDepth = 4

// reportRace turns a pair of conflicting shadow words into a race report:
// rebuild both stacks from the traces, attach thread lineage and held
// mutexes, then run annotations, dedup, the rate cap and suppressions
// before printing.
func (c *Context) reportRace(thr *thread.State, addr uintptr, cur, old shadow.Word) {
	thr.RacyAddr = addr
	thr.RacyState[0] = cur
	thr.RacyState[1] = old
	thr.Stats.Races++

	cellAddr := shadow.CellAddr(addr)
	lo := cellAddr + uintptr(cur.Addr0())
	hi := cellAddr + uintptr(cur.Addr0()+cur.Size()) - 1
	if !old.IsFreed() {
		if a := cellAddr + uintptr(old.Addr0()); a < lo {
			lo = a
		}
		if a := cellAddr + uintptr(old.Addr0()+old.Size()) - 1; a > hi {
			hi = a
		}
	}
	if c.matchBenign(lo, hi) || c.matchExpect(lo, hi) {
		return
	}

	typ := report.TypeRace
	if old.IsFreed() {
		typ = report.TypeUseAfterFree
	}
	if c.dedup.Seen(report.Key(typ, cellAddr, uint32(cur.Tid()), uint32(old.Tid()))) {
		return
	}

	c.reportMu.Lock()
	defer c.reportMu.Unlock()
	if c.opts.MaxReportedRaces > 0 && c.reported >= int64(c.opts.MaxReportedRaces) {
		c.dropped++
		return
	}

	rep := &report.Report{Typ: typ}
	words := []shadow.Word{cur, old}
	if old.IsFreed() {
		// The freed sentinel carries no real thread; report the access
		// against freed memory as a single mop.
		words = words[:1]
	}
	for _, w := range words {
		rep.Mops = append(rep.Mops, report.Mop{
			Tid:   uint32(w.Tid()),
			Addr:  cellAddr + uintptr(w.Addr0()),
			Size:  int(w.Size()),
			Write: w.IsWrite(),
			Stack: c.Threads.RestoreStack(uint32(w.Tid()), w.Epoch()),
		})
		rep.Threads = append(rep.Threads, c.creatorChain(uint32(w.Tid()))...)
	}
	for _, maddr := range thr.HeldMutexes {
		mi := report.MutexInfo{Addr: maddr}
		if v := c.Syncs.GetAndLock(maddr, false); v != nil {
			mi.Stack = v.CreationStack
			v.Unlock()
		}
		rep.Mutexes = append(rep.Mutexes, mi)
	}

	if c.suppressed(rep) {
		return
	}
	c.printer.Print(rep)
	c.reported++
}

// creatorChain walks tid's ancestry (creator_tid links) up to a fixed
// depth, yielding one ThreadInfo per link with its creation stack.
func (c *Context) creatorChain(tid uint32) []report.ThreadInfo {
	var chain []report.ThreadInfo
	for depth := 0; depth < creatorChainDepth; depth++ {
		ctx := c.Threads.Context(tid)
		if ctx == nil || tid == 0 {
			break
		}
		chain = append(chain, report.ThreadInfo{
			Tid:        ctx.Tid,
			ReuseCount: ctx.ReuseCount,
			Status:     statusName(ctx),
			CreatorTid: ctx.CreatorTid,
			Stack:      ctx.CreationStack,
		})
		tid = ctx.CreatorTid
	}
	return chain
}

func statusName(ctx *thread.Context) string {
	switch ctx.Status {
	case thread.StatusRunning:
		return "running"
	case thread.StatusFinished:
		return "finished"
	case thread.StatusDead:
		return "dead"
	default:
		return "created"
	}
}

// suppressed checks every mop stack against the suppression patterns.
func (c *Context) suppressed(rep *report.Report) bool {
	if c.supp.Empty() {
		return false
	}
	for _, mop := range rep.Mops {
		if c.supp.MatchFrames(c.printer.SymbolizeStack(mop.Stack)) {
			return true
		}
	}
	return false
}

// reportMisuse emits a typed warning about instrumented-program misuse
// (unlock of unheld mutex, double init, unbalanced ignores). Never fatal,
// counted against the same report cap.
func (c *Context) reportMisuse(typ report.Type, thr *thread.State, desc string) {
	c.reportMu.Lock()
	defer c.reportMu.Unlock()
	if c.opts.MaxReportedRaces > 0 && c.reported >= int64(c.opts.MaxReportedRaces) {
		c.dropped++
		return
	}
	rep := &report.Report{Typ: typ, Desc: desc}
	if thr != nil {
		rep.Threads = c.creatorChain(thr.Tid)
	}
	c.printer.Print(rep)
	c.reported++
}
