// Package shm maps the POSIX shared-memory segment that backs the audio
// I/O region and the control region (semaphores + SharedRing, §4.1, §6).
// Linux's shm_open is a thin wrapper over an O_CREAT|O_RDWR open against
// /dev/shm, so regular file and mmap syscalls work against it directly;
// we still go through shm_open/shm_unlink rather than hand-building the
// /dev/shm path so the name resolves the same way on any POSIX mmap
// implementation the helper might run under.
//
// Like the teacher's src/goclap C shims, this package keeps a thin cgo
// surface (mmap/munmap/mremap, shm_open/shm_unlink/ftruncate) and does
// all the bookkeeping — size tracking, lazy remap on growth — in Go.
package shm

// #define _GNU_SOURCE
// #include <sys/mman.h>
// #include <sys/stat.h>
// #include <stdlib.h>
// #include <fcntl.h>
// #include <unistd.h>
// #include <errno.h>
// #include <string.h>
//
// static int shm_open_rw(const char *name, int create) {
//     int flags = O_RDWR;
//     if (create) flags |= O_CREAT | O_EXCL;
//     return shm_open(name, flags, 0600);
// }
//
// static void *mremap_maymove(void *addr, size_t old_size, size_t new_size) {
//     return mremap(addr, old_size, new_size, MREMAP_MAYMOVE);
// }
import "C"

import (
	"fmt"
	"unsafe"
)

// Region is a single POSIX shared-memory object mapped into this
// process's address space.
type Region struct {
	name  string
	fd    int
	size  int
	addr  unsafe.Pointer
	owner bool
}

// Create allocates a new shared-memory object of the given size. Its name
// stays in place so the peer can Open it, and is removed when the
// creating side's Region is closed.
func Create(name string, size int) (*Region, error) {
	return open(name, size, true)
}

// Open maps an existing shared-memory object created by the peer.
func Open(name string, size int) (*Region, error) {
	return open(name, size, false)
}

func open(name string, size int, create bool) (*Region, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	cfd, openErr := C.shm_open_rw(cname, boolToC(create))
	fd := int(cfd)
	if fd < 0 {
		return nil, fmt.Errorf("shm: shm_open(%s, create=%v): %w", name, create, openErr)
	}

	if create {
		// shm_open'd objects start at zero length; the region only becomes
		// usable once sized.
		if ret, truncErr := C.ftruncate(C.int(fd), C.off_t(size)); ret < 0 {
			C.close(C.int(fd))
			return nil, fmt.Errorf("shm: ftruncate(%s, %d): %w", name, size, truncErr)
		}
	}

	addr, mmapErr := C.mmap(nil, C.size_t(size), C.PROT_READ|C.PROT_WRITE, C.MAP_SHARED, C.int(fd), 0)
	if addr == C.MAP_FAILED {
		C.close(C.int(fd))
		return nil, fmt.Errorf("shm: mmap(%s, %d): %w", name, size, mmapErr)
	}

	return &Region{name: name, fd: fd, size: size, addr: addr, owner: create}, nil
}

// Bytes returns a Go byte slice viewing the entire mapped region. The
// slice is only valid for the Region's lifetime; callers must not retain
// it past Close.
func (r *Region) Bytes() []byte {
	return unsafe.Slice((*byte)(r.addr), r.size)
}

// Slice returns a sub-view [offset, offset+length) of the mapped region,
// used to hand pkg/ring and pkg/semaphore their fixed-offset windows
// into the control region (§6).
func (r *Region) Slice(offset, length int) []byte {
	return r.Bytes()[offset : offset+length]
}

// Size returns the mapped region's length in bytes.
func (r *Region) Size() int {
	return r.size
}

// Grow unmaps and remaps the region at a larger size via mremap,
// preserving contents (§4.3's lazy remap-on-resize for the audio I/O
// region when channel/block-size negotiation increases its footprint).
func (r *Region) Grow(newSize int) error {
	if newSize <= r.size {
		return nil
	}
	if r.fd >= 0 {
		if ret, truncErr := C.ftruncate(C.int(r.fd), C.off_t(newSize)); ret < 0 {
			return fmt.Errorf("shm: ftruncate grow %s to %d: %w", r.name, newSize, truncErr)
		}
	}
	addr, mremapErr := C.mremap_maymove(r.addr, C.size_t(r.size), C.size_t(newSize))
	if addr == C.MAP_FAILED {
		return fmt.Errorf("shm: mremap(%s, %d -> %d): %w", r.name, r.size, newSize, mremapErr)
	}
	r.addr = addr
	r.size = newSize
	return nil
}

// Close unmaps the region and closes the backing descriptor. On the side
// that created the object it also removes the shared-memory name.
func (r *Region) Close() error {
	if r.addr != nil {
		C.munmap(r.addr, C.size_t(r.size))
		r.addr = nil
	}
	if r.fd >= 0 {
		C.close(C.int(r.fd))
		r.fd = -1
	}
	if r.owner {
		cname := C.CString(r.name)
		C.shm_unlink(cname)
		C.free(unsafe.Pointer(cname))
		r.owner = false
	}
	return nil
}

func boolToC(b bool) C.int {
	if b {
		return 1
	}
	return 0
}
