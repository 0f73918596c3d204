package shadow

// FastState is the per-thread (tid, epoch) pair packed the same way as the
// high bits of a shadow word, so that building the current access's word is
// a couple of OR instructions on the hot path.
//
// The low 6 bits (addr0, size_log, is_write) are always zero in a fast
// state; NewWord fills them in per access.
type FastState struct {
	raw uint64
}

// NewFastState packs a tid and epoch. tid must be below MaxThreads and
// epoch below 1<<ClkBits.
//
//go:nosplit
func NewFastState(tid, epoch uint64) FastState {
	return FastState{raw: tid<<tidShift | epoch<<epochShift}
}

// Tid returns the thread id.
//
//go:nosplit
func (fs FastState) Tid() uint64 { return fs.raw >> tidShift }

// Epoch returns the thread's current epoch.
//
//go:nosplit
func (fs FastState) Epoch() uint64 { return (fs.raw >> epochShift) & ClkMask }

// IncrementEpoch advances the epoch by one. The caller is responsible for
// checking for epoch overflow (Epoch() == ClkMask is the last usable value;
// incrementing past it would corrupt the tid field).
//
//go:nosplit
func (fs *FastState) IncrementEpoch() {
	fs.raw += 1 << epochShift
}
