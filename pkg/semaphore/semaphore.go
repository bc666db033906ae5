// Package semaphore wraps the two process-shared POSIX semaphores that
// signal "server has work" / "client has a reply" across the control
// region (§4.1, §6). There is no pure-Go equivalent of a
// PTHREAD_PROCESS_SHARED semaphore embedded in shared memory — channels
// and sync.Cond are both confined to a single address space — so this
// stays in cgo the way the teacher reaches every C API it needs, rather
// than faking the synchronization with a spin loop.
package semaphore

// #include <semaphore.h>
// #include <time.h>
// #include <errno.h>
// #include <string.h>
import "C"

import (
	"errors"
	"fmt"
	"syscall"
	"time"
	"unsafe"
)

// Size is sizeof(sem_t) on the platforms this module targets. glibc's
// sem_t is 32 bytes on 64-bit Linux; the control region pads each
// semaphore slot to this size regardless (§6).
const Size = 32

// ErrTimeout is returned by Wait when the deadline elapses before the
// semaphore is posted (§5, §7 — the server's dispatch loop treats this as
// an idle tick, the client as a lost connection; neither treats it as a
// protocol error).
var ErrTimeout = errors.New("semaphore: wait timed out")

// Semaphore is a view over a Size-byte window of shared memory holding
// one sem_t, process-shared between exactly two peers.
type Semaphore struct {
	sem *C.sem_t
}

// Init constructs a process-shared semaphore with the given initial
// count inside mem (len(mem) must be >= Size). Called once by whichever
// side creates the shared-memory region (§4.3).
func Init(mem []byte, initialCount uint) (*Semaphore, error) {
	if len(mem) < Size {
		return nil, fmt.Errorf("semaphore: backing memory too small (%d < %d)", len(mem), Size)
	}
	sem := (*C.sem_t)(unsafe.Pointer(&mem[0]))
	if ret, err := C.sem_init(sem, 1 /* pshared */, C.uint(initialCount)); ret != 0 {
		return nil, fmt.Errorf("semaphore: sem_init: %w", err)
	}
	return &Semaphore{sem: sem}, nil
}

// Open wraps an existing process-shared semaphore the peer already
// initialized, at the same offset within the mapped region.
func Open(mem []byte) (*Semaphore, error) {
	if len(mem) < Size {
		return nil, fmt.Errorf("semaphore: backing memory too small (%d < %d)", len(mem), Size)
	}
	return &Semaphore{sem: (*C.sem_t)(unsafe.Pointer(&mem[0]))}, nil
}

// Post increments the semaphore, waking one waiter (§4.1: the producer
// side of either the "server has work" or "client has a reply" signal).
func (s *Semaphore) Post() error {
	if ret, err := C.sem_post(s.sem); ret != 0 {
		return fmt.Errorf("semaphore: sem_post: %w", err)
	}
	return nil
}

// Wait blocks until the semaphore is posted or the deadline elapses. A
// zero or negative deadline waits forever, matching sem_wait; this
// module's callers always pass a positive bound per the tunable
// SemaphoreTimeout (§5).
func (s *Semaphore) Wait(timeout time.Duration) error {
	if timeout <= 0 {
		if ret, err := C.sem_wait(s.sem); ret != 0 {
			return fmt.Errorf("semaphore: sem_wait: %w", err)
		}
		return nil
	}

	var ts C.struct_timespec
	if ret, err := C.clock_gettime(C.CLOCK_REALTIME, &ts); ret != 0 {
		return fmt.Errorf("semaphore: clock_gettime: %w", err)
	}
	deadline := ts.tv_sec*1_000_000_000 + C.long(ts.tv_nsec) + C.long(timeout.Nanoseconds())
	ts.tv_sec = deadline / 1_000_000_000
	ts.tv_nsec = deadline % 1_000_000_000

	ret, err := C.sem_timedwait(s.sem, &ts)
	if ret != 0 {
		if errno, ok := err.(syscall.Errno); ok && errno == syscall.ETIMEDOUT {
			return ErrTimeout
		}
		return fmt.Errorf("semaphore: sem_timedwait: %w", err)
	}
	return nil
}

// TryWait attempts a non-blocking acquire, reporting false when the
// count is zero.
func (s *Semaphore) TryWait() (bool, error) {
	ret, err := C.sem_trywait(s.sem)
	if ret == 0 {
		return true, nil
	}
	if errno, ok := err.(syscall.Errno); ok && errno == syscall.EAGAIN {
		return false, nil
	}
	return false, fmt.Errorf("semaphore: sem_trywait: %w", err)
}

// Destroy releases the semaphore's kernel-side resources. Only the side
// that called Init should call Destroy, and only after both peers are
// known to be done using it.
func (s *Semaphore) Destroy() error {
	if ret, err := C.sem_destroy(s.sem); ret != 0 {
		return fmt.Errorf("semaphore: sem_destroy: %w", err)
	}
	return nil
}
