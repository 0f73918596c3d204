package thread

import (
	"errors"
	"sync"

	"github.com/kolkov/shadowrace/internal/race/shadow"
	"github.com/kolkov/shadowrace/internal/race/trace"
	"github.com/kolkov/shadowrace/internal/race/vectorclock"
)

// DeadListLimit caps how many dead contexts keep their trace and final
// clock. The oldest evicted context loses both (its stacks become
// unreconstructable) and its TID becomes available for reuse.
const DeadListLimit = 1024

// startEpoch is a new thread's first epoch. Starting at 1 keeps epoch 0
// distinguishable as "never ran" in clocks and shadow words.
const startEpoch = 1

// Registry lifecycle errors. Status-machine violations are engine
// invariant violations (the caller aborts); the misuse errors are
// surfaced as warning reports.
var (
	ErrThreadTableFull = errors.New("thread table full")
	ErrBadStatus       = errors.New("thread status machine violation")
	ErrUnknownHandle   = errors.New("join/detach of unknown thread handle")
	ErrAlreadyDead     = errors.New("thread already joined or reaped")
)

// Registry owns all thread contexts. All mutations take the registry
// mutex; critical sections are short.
type Registry struct {
	mu   sync.Mutex
	cond *sync.Cond

	traceParts int

	threads  map[uint32]*Context
	byHandle map[uintptr]uint32
	seq      uint32

	deadHead *Context
	deadTail *Context
	deadSize int

	// freeList holds contexts evicted from the dead list; their TIDs are
	// revived before fresh TIDs run out.
	freeList []*Context
}

// NewRegistry creates an empty registry. traceParts sizes new threads'
// traces (history_size).
func NewRegistry(traceParts int) *Registry {
	r := &Registry{
		traceParts: traceParts,
		threads:    make(map[uint32]*Context),
		byHandle:   make(map[uintptr]uint32),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Create allocates a slot for a new thread. parent may be nil only for
// thread 0. The parent's clock is snapshotted here: it is the time the
// child will acquire when it starts (the create -> child-entry
// happens-before edge). Returns the new TID.
func (r *Registry) Create(parent *State, pc uintptr, userHandle uintptr, detached bool) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, err := r.allocSlot()
	if err != nil {
		return 0, err
	}
	ctx.Status = StatusCreated
	ctx.Detached = detached
	ctx.UserHandle = userHandle
	if userHandle != 0 {
		r.byHandle[userHandle] = ctx.Tid
	}
	if parent != nil {
		ctx.CreatorTid = parent.Tid
		ctx.ParentEpoch = parent.Epoch()
		ctx.CreationStack = append(append([]uintptr(nil), parent.ShadowStack...), pc)
		ctx.startClock = parent.Clock.Clone()
	}
	return ctx.Tid, nil
}

// allocSlot prefers a context evicted from the dead list, then a fresh TID,
// then the oldest dead context (whose trace is dropped). Contexts in
// the dead list keep their traces as long as possible so late joins can
// still reconstruct stacks.
func (r *Registry) allocSlot() (*Context, error) {
	if n := len(r.freeList); n > 0 {
		ctx := r.freeList[n-1]
		r.freeList = r.freeList[:n-1]
		r.revive(ctx)
		return ctx, nil
	}
	if r.seq < shadow.MaxThreads {
		ctx := &Context{Tid: r.seq}
		r.seq++
		r.threads[ctx.Tid] = ctx
		return ctx, nil
	}
	if ctx := r.popDead(); ctx != nil {
		r.dropDeadInfo(ctx)
		r.revive(ctx)
		return ctx, nil
	}
	return nil, ErrThreadTableFull
}

// revive prepares a Dead context for reuse, bumping the reuse counter so
// stale references to the old incarnation are detectable.
func (r *Registry) revive(ctx *Context) {
	if ctx.UserHandle != 0 && r.byHandle[ctx.UserHandle] == ctx.Tid {
		delete(r.byHandle, ctx.UserHandle)
	}
	ctx.ReuseCount++
	ctx.Status = StatusInvalid
	ctx.Detached = false
	ctx.UserHandle = 0
	ctx.CreatorTid = 0
	ctx.ParentEpoch = 0
	ctx.Epoch0 = 0
	ctx.CreationStack = nil
	ctx.Thr = nil
	ctx.deadNext = nil
}

// Start binds the calling execution to the slot created for tid and
// returns its State. The child acquires the parent's snapshotted clock:
// everything the parent did before create happens-before everything the
// child does.
func (r *Registry) Start(tid uint32) (*State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx := r.threads[tid]
	if ctx == nil || ctx.Status != StatusCreated {
		return nil, ErrBadStatus
	}
	thr := &State{
		Tid:            tid,
		Fast:           shadow.NewFastState(uint64(tid), startEpoch),
		FastSynchEpoch: startEpoch,
		Clock:          vectorclock.NewFromPool(),
		Trace:          trace.New(r.traceParts),
		ShadowStack:    make([]uintptr, 0, 64),
	}
	thr.Clock.Set(tid, startEpoch)
	if ctx.startClock != nil {
		thr.Clock.Acquire(ctx.startClock)
		ctx.startClock.Release()
		ctx.startClock = nil
	}
	ctx.Epoch0 = startEpoch
	ctx.Thr = thr
	ctx.Status = StatusRunning
	return thr, nil
}

// Finish transitions the calling thread to Finished, moving its clock and
// trace into the context for a later join. A detached thread goes straight
// to Dead.
func (r *Registry) Finish(thr *State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx := r.threads[thr.Tid]
	if ctx == nil || ctx.Status != StatusRunning || ctx.Thr != thr {
		return ErrBadStatus
	}
	ctx.FinalClock = thr.Clock
	ctx.DeadTrace = thr.Trace
	ctx.Stats.Add(&thr.Stats)
	ctx.Thr = nil
	ctx.Status = StatusFinished
	if ctx.Detached {
		ctx.Status = StatusDead
		r.pushDead(ctx)
	}
	r.cond.Broadcast()
	return nil
}

// Join blocks until the thread registered under userHandle finishes, then
// acquires its final clock into joiner (everything the joined thread did
// happens-before everything the joiner does next) and reaps the slot.
func (r *Registry) Join(joiner *State, userHandle uintptr) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tid, ok := r.byHandle[userHandle]
	if !ok {
		return ErrUnknownHandle
	}
	ctx := r.threads[tid]
	for ctx.Status == StatusCreated || ctx.Status == StatusRunning {
		r.cond.Wait()
	}
	if ctx.Status != StatusFinished {
		return ErrAlreadyDead
	}
	if ctx.FinalClock != nil {
		joiner.Clock.Acquire(ctx.FinalClock)
	}
	delete(r.byHandle, userHandle)
	ctx.Status = StatusDead
	r.pushDead(ctx)
	return nil
}

// Detach marks the thread as detached; if it has already finished it is
// reaped immediately.
func (r *Registry) Detach(userHandle uintptr) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tid, ok := r.byHandle[userHandle]
	if !ok {
		return ErrUnknownHandle
	}
	ctx := r.threads[tid]
	switch ctx.Status {
	case StatusCreated, StatusRunning:
		ctx.Detached = true
	case StatusFinished:
		delete(r.byHandle, userHandle)
		ctx.Status = StatusDead
		r.pushDead(ctx)
	default:
		return ErrAlreadyDead
	}
	return nil
}

// Context returns the registry's record for tid, or nil.
func (r *Registry) Context(tid uint32) *Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.threads[tid]
}

// RestoreStack rebuilds the stack of thread tid at epoch, reading either
// the live trace (Running) or the retained one (Finished/Dead). Returns
// nil when the thread is unknown, the slot was revived for a newer
// incarnation's trace window, or the epoch slid out of the window.
func (r *Registry) RestoreStack(tid uint32, epoch uint64) []uintptr {
	r.mu.Lock()
	var tr *trace.Trace
	if ctx := r.threads[tid]; ctx != nil {
		switch ctx.Status {
		case StatusRunning:
			tr = ctx.Thr.Trace
		case StatusFinished, StatusDead:
			tr = ctx.DeadTrace
		}
	}
	r.mu.Unlock()
	if tr == nil {
		return nil
	}
	return tr.RestoreStack(epoch)
}

// ForEach calls f for every context under the registry lock. Finalization
// and tests only.
func (r *Registry) ForEach(f func(*Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ctx := range r.threads {
		f(ctx)
	}
}

func (r *Registry) pushDead(ctx *Context) {
	ctx.deadNext = nil
	if r.deadTail != nil {
		r.deadTail.deadNext = ctx
	} else {
		r.deadHead = ctx
	}
	r.deadTail = ctx
	r.deadSize++
	if r.deadSize > DeadListLimit {
		evicted := r.popDead()
		r.dropDeadInfo(evicted)
		r.freeList = append(r.freeList, evicted)
	}
}

func (r *Registry) popDead() *Context {
	ctx := r.deadHead
	if ctx == nil {
		return nil
	}
	r.deadHead = ctx.deadNext
	if r.deadHead == nil {
		r.deadTail = nil
	}
	ctx.deadNext = nil
	r.deadSize--
	return ctx
}

// dropDeadInfo releases the retained clock and trace of an evicted
// context. Its stacks are no longer reconstructable, which is the dead
// list's bounded-memory tradeoff.
func (r *Registry) dropDeadInfo(ctx *Context) {
	if ctx.FinalClock != nil {
		ctx.FinalClock.Release()
		ctx.FinalClock = nil
	}
	ctx.DeadTrace = nil
}
