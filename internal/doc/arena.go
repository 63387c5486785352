package doc

import "sync"

// Arena is a reusable byte-buffer pool backing the scratch allocations a
// MemTable needs while sorting and serializing documents for spill --
// the Go-idiomatic analogue of the teacher's bump-allocator arena
// (original_source crates/doc/src/bump_vec.rs), minus its unsafe pointer
// tricks: Go values are garbage collected, so the arena here exists only
// to amortize buffer churn across transactions, not to own node memory.
type Arena struct {
	pool sync.Pool
}

// NewArena returns a fresh Arena.
func NewArena() *Arena {
	return &Arena{pool: sync.Pool{New: func() any { return make([]byte, 0, 4096) }}}
}

// Alloc returns a []byte with at least capacity n, reused from the pool
// when possible.
func (a *Arena) Alloc(n int) []byte {
	var b = a.pool.Get().([]byte)
	if cap(b) < n {
		b = make([]byte, 0, n)
	}
	return b[:0]
}

// Release returns b to the pool for reuse.
func (a *Arena) Release(b []byte) {
	a.pool.Put(b)
}
