// Package ring implements the lock-free single-producer/single-consumer
// byte ring that carries every real-time message (§3, §4.1). It lives at
// a fixed offset inside the shared control region (§6) so both the
// client and the server map the exact same bytes; head/tail are updated
// with atomic loads/stores so the cross-process visibility the spec
// requires holds without a lock.
//
// The lock-free SPSC shape (writer owns its write cursor, reader owns
// its read cursor, availability computed via modular arithmetic on the
// two) follows the same design as other_examples' buffer.RingBuffer
// (le-bot-team/leBotChatClient, pkg/buffer/ring.go) — cumulative
// monotonic counters there, a fixed head/tail/written/invalidateCommit
// quad here because the spec's wire layout (§6) is bit-exact and shared
// across a process boundary rather than private to one address space.
package ring

import (
	"errors"
	"sync/atomic"
	"unsafe"

	"github.com/gainstage/rplugin/pkg/codec"
)

// HeaderSize is the number of bytes occupied by head, tail, written,
// invalidateCommit, and padding before the ring's byte buffer begins (§6).
const HeaderSize = 16

// DefaultCapacity is the ring capacity C named in §3.
const DefaultCapacity = 2048

// ErrConnectionLost is raised when a read asks for more bytes than are
// readable (§4.1, §7): the caller is expected to have checked Readable()
// first, so this indicates the peer died mid-message or the channel is
// otherwise no longer trustworthy. WriteN also returns it when a write
// does not fit in the writable space.
var ErrConnectionLost = errors.New("ring: connection lost (short read)")

// ErrRingTooSmall is returned by New when the backing slice cannot hold
// at least the header plus one data byte.
var ErrRingTooSmall = errors.New("ring: backing memory smaller than header")

// SharedRing is a view over a caller-owned byte slice (typically a
// window into a shared-memory mapping) laid out as:
//
//	offset 0:  head             (i32, writer-committed read boundary)
//	offset 4:  tail             (i32, reader position)
//	offset 8:  written           (i32, writer's speculative position)
//	offset 12: invalidateCommit (i8 + 3 bytes padding)
//	offset 16: buf[cap]
//
// Exactly one goroutine/process may call the Write* methods and exactly
// one may call the Read* methods; SharedRing enforces no locking beyond
// what that single-writer/single-reader discipline requires.
type SharedRing struct {
	mem  []byte
	buf  []byte
	cap  int32
	head *int32
	tail *int32
	writ *int32
	inv  *byte
}

// New wraps mem (len(mem) must be >= HeaderSize+1) as a SharedRing. The
// caller owns mem's lifetime (typically an mmap'd region, §4.3).
func New(mem []byte) (*SharedRing, error) {
	if len(mem) < HeaderSize+1 {
		return nil, ErrRingTooSmall
	}
	r := &SharedRing{
		mem:  mem,
		buf:  mem[HeaderSize:],
		cap:  int32(len(mem) - HeaderSize),
		head: (*int32)(unsafe.Pointer(&mem[0])),
		tail: (*int32)(unsafe.Pointer(&mem[4])),
		writ: (*int32)(unsafe.Pointer(&mem[8])),
		inv:  &mem[12],
	}
	return r, nil
}

// Reset zeroes head, tail, written, and invalidateCommit. Only safe
// before either side has begun using the ring (construction time).
func (r *SharedRing) Reset() {
	atomic.StoreInt32(r.head, 0)
	atomic.StoreInt32(r.tail, 0)
	atomic.StoreInt32(r.writ, 0)
	*r.inv = 0
}

// Capacity returns C, the fixed ring size in bytes.
func (r *SharedRing) Capacity() int32 {
	return r.cap
}

// Readable returns the number of bytes available to the reader: (head -
// tail) mod C (§3).
func (r *SharedRing) Readable() int32 {
	head := atomic.LoadInt32(r.head)
	tail := atomic.LoadInt32(r.tail)
	return mod(head-tail, r.cap)
}

// writable returns the number of bytes the writer may still stage before
// committing: (C-1) - (written - tail) mod C (§3); one slot is always
// left empty so head==tail is unambiguously "empty".
func (r *SharedRing) writable() int32 {
	tail := atomic.LoadInt32(r.tail)
	written := atomic.LoadInt32(r.writ)
	return (r.cap - 1) - mod(written-tail, r.cap)
}

func mod(v, m int32) int32 {
	v %= m
	if v < 0 {
		v += m
	}
	return v
}

// WriteN stages len(p) bytes starting at the current speculative write
// position. If there is insufficient writable space it sets
// invalidateCommit and returns an error without writing any bytes — the
// reader can never observe a partial message (§4.1, §8).
func (r *SharedRing) WriteN(p []byte) error {
	if int32(len(p)) > r.writable() {
		*r.inv = 1
		return ErrConnectionLost
	}
	written := atomic.LoadInt32(r.writ)
	pos := written
	for _, b := range p {
		r.buf[pos] = b
		pos++
		if pos == r.cap {
			pos = 0
		}
	}
	atomic.StoreInt32(r.writ, mod(written+int32(len(p)), r.cap))
	return nil
}

// Commit publishes every byte staged since the last Commit/rewind by
// advancing head to the current written position — unless
// invalidateCommit is set, in which case written is rewound back to
// head and nothing is published (§4.1).
func (r *SharedRing) Commit() {
	if *r.inv != 0 {
		atomic.StoreInt32(r.writ, atomic.LoadInt32(r.head))
		*r.inv = 0
		return
	}
	atomic.StoreInt32(r.head, atomic.LoadInt32(r.writ))
}

// ReadN reads exactly n committed bytes, advancing tail. Returns
// ErrConnectionLost if fewer than n bytes are currently readable;
// callers must check Readable() first and never call ReadN speculatively.
func (r *SharedRing) ReadN(n int) ([]byte, error) {
	if int32(n) > r.Readable() {
		return nil, ErrConnectionLost
	}
	out := make([]byte, n)
	tail := atomic.LoadInt32(r.tail)
	pos := tail
	for i := 0; i < n; i++ {
		out[i] = r.buf[pos]
		pos++
		if pos == r.cap {
			pos = 0
		}
	}
	atomic.StoreInt32(r.tail, mod(tail+int32(n), r.cap))
	return out, nil
}

// The following typed helpers are thin wrappers over pkg/codec so call
// sites in pkg/client and pkg/server read directly against spec.md's
// vocabulary (writeOpcode, writeInt, writeFloat, writeString,
// writeMIDIBatch, writeBlob and their read counterparts, §4.1).

func (r *SharedRing) WriteOpcode(opcode int32) error           { return codec.WriteOpcode(r, opcode) }
func (r *SharedRing) ReadOpcode() (int32, error)                { return codec.ReadOpcode(r) }
func (r *SharedRing) WriteInt(v int32) error                    { return codec.WriteInt32(r, v) }
func (r *SharedRing) ReadInt() (int32, error)                   { return codec.ReadInt32(r) }
func (r *SharedRing) WriteFloat(v float32) error                { return codec.WriteFloat32(r, v) }
func (r *SharedRing) ReadFloat() (float32, error)                { return codec.ReadFloat32(r) }
func (r *SharedRing) WriteString(s string) error                { return codec.WriteString(r, s) }
func (r *SharedRing) ReadString() (string, error)                { return codec.ReadString(r) }
func (r *SharedRing) WriteMIDIBatch(e []codec.MIDIEvent) error   { return codec.WriteMIDIBatch(r, e) }
func (r *SharedRing) ReadMIDIBatch() ([]codec.MIDIEvent, error)  { return codec.ReadMIDIBatch(r) }
func (r *SharedRing) WriteBlob(b []byte) error                   { return codec.WriteBlob(r, b) }
func (r *SharedRing) ReadBlob() ([]byte, error)                  { return codec.ReadBlob(r) }
