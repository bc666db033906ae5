// Package pipes implements the cold control path: a pair of named pipes
// (FIFOs) carrying Query and Lifecycle class messages that do not need
// the ring's lock-free hot-path guarantees (§3, §4.1, §4.3). Unlike
// pkg/ring, both ends may simply block: a request blocks until the
// server answers, a response blocks until the client is ready to read
// it, and there is exactly one writer and one reader for each of the
// two FIFOs.
//
// Pipe creation (mkfifo) and non-blocking write-side opens under x/sys/unix follow
// the same low-level-syscall style the teacher reaches for elsewhere
// (golang.org/x/sys/unix ioctls in doismellburning-samoyed/src/ptt.go),
// adapted here to FIFOs instead of TTY line control.
package pipes

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/gainstage/rplugin/pkg/codec"
)

// ErrOpenTimeout is returned when a FIFO does not acquire its peer
// within the startup grace period (§4.3).
var ErrOpenTimeout = errors.New("pipes: open timed out waiting for peer")

// Pair owns the request FIFO (client -> server) and the response FIFO
// (server -> client); exactly one of the two processes is the creator.
type Pair struct {
	requestPath  string
	responsePath string

	request  *os.File
	response *os.File
}

// Create makes both FIFO nodes at the given paths. Called once, by
// whichever side spawns the transport (§4.3).
func Create(requestPath, responsePath string) error {
	for _, p := range []string{requestPath, responsePath} {
		if err := unix.Mkfifo(p, 0600); err != nil && !errors.Is(err, unix.EEXIST) {
			return fmt.Errorf("pipes: mkfifo %s: %w", p, err)
		}
	}
	return nil
}

// OpenAsClient opens the request FIFO for writing, retrying with backoff
// until the peer has opened its read end or the deadline elapses (§4.3 —
// the client's non-blocking open loop while the helper is spawning), then
// opens the response FIFO for reading, blocking until the peer has opened
// its write end.
func OpenAsClient(requestPath, responsePath string, deadline time.Duration) (*Pair, error) {
	req, err := openWithRetry(requestPath, os.O_WRONLY, deadline)
	if err != nil {
		return nil, fmt.Errorf("pipes: opening request pipe as client: %w", err)
	}
	resp, err := openWithRetry(responsePath, os.O_RDONLY, deadline)
	if err != nil {
		req.Close()
		return nil, fmt.Errorf("pipes: opening response pipe as client: %w", err)
	}
	return &Pair{requestPath: requestPath, responsePath: responsePath, request: req, response: resp}, nil
}

// OpenAsServer opens the request FIFO for reading and the response FIFO
// for writing — the mirror image of OpenAsClient, performed by the
// helper process during handshake (§4.3).
func OpenAsServer(requestPath, responsePath string, deadline time.Duration) (*Pair, error) {
	req, err := openWithRetry(requestPath, os.O_RDONLY, deadline)
	if err != nil {
		return nil, fmt.Errorf("pipes: opening request pipe as server: %w", err)
	}
	resp, err := openWithRetry(responsePath, os.O_WRONLY, deadline)
	if err != nil {
		req.Close()
		return nil, fmt.Errorf("pipes: opening response pipe as server: %w", err)
	}
	return &Pair{requestPath: requestPath, responsePath: responsePath, request: req, response: resp}, nil
}

// openWithRetry opens a write end with O_NONBLOCK, retrying on ENXIO
// (no reader yet) until deadline. A read end is opened blocking: it
// returns once a writer opens the FIFO, and a reader waiting here already
// counts as present for the peer's non-blocking write-side open.
func openWithRetry(path string, flag int, deadline time.Duration) (*os.File, error) {
	if flag == os.O_RDONLY {
		return os.OpenFile(path, flag, 0)
	}
	cutoff := time.Now().Add(deadline)
	backoff := 5 * time.Millisecond
	for {
		f, err := os.OpenFile(path, flag|unix.O_NONBLOCK, 0)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, unix.ENXIO) && !errors.Is(err, unix.EINTR) {
			return nil, err
		}
		if time.Now().After(cutoff) {
			return nil, ErrOpenTimeout
		}
		time.Sleep(backoff)
		if backoff < 100*time.Millisecond {
			backoff *= 2
		}
	}
}

// WriteN blocks until all of p has been written to the outgoing FIFO.
// Control-path writers write one full message per syscall, matching the
// spec's requirement that a pipe write either lands whole or not at all.
func (p *Pair) WriteN(data []byte) error {
	n, err := p.response.Write(data)
	if err != nil {
		return fmt.Errorf("pipes: write: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("pipes: short write (%d of %d bytes)", n, len(data))
	}
	return nil
}

// WriteRequest is the client-side write, symmetric to WriteN but against
// the request FIFO.
func (p *Pair) WriteRequest(data []byte) error {
	n, err := p.request.Write(data)
	if err != nil {
		return fmt.Errorf("pipes: write request: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("pipes: short request write (%d of %d bytes)", n, len(data))
	}
	return nil
}

// ReadN blocks until exactly n bytes have been read from the incoming FIFO.
func (p *Pair) ReadN(n int) ([]byte, error) {
	return readFull(p.request, n)
}

// ReadResponse is the client-side read, symmetric to ReadN but against
// the response FIFO.
func (p *Pair) ReadResponse(n int) ([]byte, error) {
	return readFull(p.response, n)
}

// TryReadOpcode polls the request FIFO for one opcode tag, returning
// (0, false, nil) if nothing arrives within timeout rather than blocking
// indefinitely (§4.5's dispatchControl poll). A deadline found exceeded
// is not a connection-lost condition; any other read error is. The
// request FIFO's blocking payload reads that follow a true result use
// ReadN as usual, with no deadline — once the opcode tag has landed the
// rest of the message is assumed to follow promptly.
func (p *Pair) TryReadOpcode(timeout time.Duration) (int32, bool, error) {
	if err := p.request.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, false, fmt.Errorf("pipes: setting read deadline: %w", err)
	}
	defer p.request.SetReadDeadline(time.Time{})

	buf, err := readFull(p.request, 4)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return codec.Int32(buf), true, nil
}

func readFull(f *os.File, n int) ([]byte, error) {
	buf := make([]byte, n)
	total := 0
	for total < n {
		got, err := f.Read(buf[total:])
		if got > 0 {
			total += got
		}
		if err != nil {
			return nil, fmt.Errorf("pipes: read: %w", err)
		}
		if got == 0 {
			return nil, fmt.Errorf("pipes: read returned 0 bytes with no error")
		}
	}
	return buf, nil
}

// Close closes both FIFO file descriptors. The FIFO nodes themselves are
// removed by whichever side called Create, during transport teardown.
func (p *Pair) Close() error {
	var firstErr error
	if p.request != nil {
		if err := p.request.Close(); err != nil {
			firstErr = err
		}
	}
	if p.response != nil {
		if err := p.response.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Remove deletes both FIFO nodes from the filesystem (§4.6 teardown).
func Remove(requestPath, responsePath string) {
	os.Remove(requestPath)
	os.Remove(responsePath)
}
