package protocol

import (
	"sync"
	"sync/atomic"
)

// MIDIEventSlicePool is a sync.Pool of reusable []MIDIEventBuf slices
// with atomic diagnostic counters. ReadSendMIDIData does not draw from
// it; that function allocates its own []codec.MIDIEvent on every call.
// Mirrors the teacher's per-type sync.Pool-plus-atomic-diagnostics shape
// (one pool per concrete type; gets counts every Get, allocations and
// misses count only slices the pool had to create).
type MIDIEventSlicePool struct {
	pool sync.Pool

	totalAllocations uint64
	gets             uint64
	misses           uint64
}

// NewMIDIEventSlicePool creates a pool whose slices start at the given capacity.
func NewMIDIEventSlicePool(defaultCap int) *MIDIEventSlicePool {
	p := &MIDIEventSlicePool{}
	p.pool.New = func() interface{} {
		atomic.AddUint64(&p.totalAllocations, 1)
		atomic.AddUint64(&p.misses, 1)
		s := make([]MIDIEventBuf, 0, defaultCap)
		return &s
	}
	return p
}

// MIDIEventBuf is a pooled, reusable element; callers overwrite every
// field before use rather than relying on any zero value.
type MIDIEventBuf struct {
	Bytes       [3]byte
	FrameOffset int32
}

// Get returns a zero-length slice with capacity retained from a prior Put.
func (p *MIDIEventSlicePool) Get() *[]MIDIEventBuf {
	atomic.AddUint64(&p.gets, 1)
	s := p.pool.Get().(*[]MIDIEventBuf)
	*s = (*s)[:0]
	return s
}

// Put returns s to the pool for reuse.
func (p *MIDIEventSlicePool) Put(s *[]MIDIEventBuf) {
	p.pool.Put(s)
}

// Diagnostics reports the pool's allocation, get and miss counters.
func (p *MIDIEventSlicePool) Diagnostics() (allocations, gets, misses uint64) {
	return atomic.LoadUint64(&p.totalAllocations),
		atomic.LoadUint64(&p.gets),
		atomic.LoadUint64(&p.misses)
}
