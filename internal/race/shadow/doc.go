// Package shadow implements the shadow-memory representation used by the
// race detection engine.
//
// Every aligned 8-byte region of application memory maps to a shadow cell
// of ShadowCnt 64-bit shadow words. A shadow word records a single past
// access to some bytes of that region: which thread, at which epoch, which
// bytes, and whether it was a write. The access engine compares the current
// access against the words in the cell to decide between "same info",
// "replace", "no conflict" and "race".
//
// # Shadow word layout
//
// A word packs five fields into 64 bits, low to high:
//
//	addr0    : 3 bits  - offset of the first accessed byte within the cell
//	size_log : 2 bits  - 0,1,2,3 => 1,2,4,8 bytes
//	is_write : 1 bit
//	epoch    : ClkBits - the accessing thread's epoch
//	tid      : TidBits - the accessing thread's id
//
// The all-zero word is an empty slot. The all-ones-except-addr0 word
// (Freed) marks deallocated memory and races with any concurrent access.
//
// # Concurrency
//
// Shadow words are read and written with atomic 64-bit loads and stores
// and no locking. Races on shadow state are benign: the engine only ever
// observes consistent single words, and a lost update merely degrades the
// recorded history by one entry - the same effect as the cell's normal
// replacement policy.
package shadow
