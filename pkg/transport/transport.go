// Package transport owns the four IPC primitives a single plugin
// instance uses to talk to its helper process: the shared-memory
// control region (two semaphores + the SharedRing), the shared audio
// I/O region, and the request/response FIFO pair (§4.1, §4.3, §6).
//
// A Transport is identified by a random suffix generated once per
// instance and embedded in every shared-memory and FIFO name, so
// multiple plugin instances (and multiple restarts of the same
// instance) never collide. google/uuid (adopted from capns-go) supplies
// that suffix instead of hand-rolled randomness.
package transport

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gainstage/rplugin/pkg/pipes"
	"github.com/gainstage/rplugin/pkg/ring"
	"github.com/gainstage/rplugin/pkg/semaphore"
	"github.com/gainstage/rplugin/pkg/shm"
)

// Layout offsets within the control region (§6): the two process-shared
// semaphores come first, each padded to a fixed slot, followed by the
// SharedRing header and buffer.
const (
	runServerOffset = 0
	runClientOffset = 32
	ringOffset      = 64
)

// ControlRegionSize returns the total control-region size for a given
// ring capacity.
func ControlRegionSize(ringCapacity int) int {
	return ringOffset + ring.HeaderSize + ringCapacity
}

// Suffix generates a new per-instance transport identifier.
func Suffix() string {
	return uuid.NewString()
}

// Names holds the filesystem/shared-memory names derived from a suffix,
// all under a common namespace so stale entries are easy to spot and
// clean up (§4.3).
type Names struct {
	ControlRegion string
	AudioRegion   string
	RequestPipe   string
	ResponsePipe  string
}

// NewNames derives the four resource names from a transport suffix.
func NewNames(runDir, suffix string) Names {
	return Names{
		ControlRegion: fmt.Sprintf("/rplugin-ctrl-%s", suffix),
		AudioRegion:   fmt.Sprintf("/rplugin-audio-%s", suffix),
		RequestPipe:   fmt.Sprintf("%s/rplugin-req-%s.fifo", runDir, suffix),
		ResponsePipe:  fmt.Sprintf("%s/rplugin-resp-%s.fifo", runDir, suffix),
	}
}

// namesSeparator joins the four resource names into the single
// command-line argument the helper process receives. §6 describes this
// as the concatenation of four fixed 6-character suffixes; this module's
// names are uuid-derived rather than fixed-width, so the four full paths
// are joined instead, in the same request/response/control/audio order.
const namesSeparator = "|"

// EncodeNames serialises names into the single string passed on the
// helper's command line (§4.6, §6).
func EncodeNames(names Names) string {
	return strings.Join([]string{
		names.RequestPipe,
		names.ResponsePipe,
		names.ControlRegion,
		names.AudioRegion,
	}, namesSeparator)
}

// DecodeNames reverses EncodeNames; the helper calls this on its single
// argument to recover the four transport endpoints.
func DecodeNames(s string) (Names, error) {
	parts := strings.Split(s, namesSeparator)
	if len(parts) != 4 {
		return Names{}, fmt.Errorf("transport: malformed transport argument %q", s)
	}
	return Names{
		RequestPipe:   parts[0],
		ResponsePipe:  parts[1],
		ControlRegion: parts[2],
		AudioRegion:   parts[3],
	}, nil
}

// Transport bundles every channel a client or server endpoint needs
// once a helper process is up (§4.1).
type Transport struct {
	Names Names

	Control *shm.Region
	Audio   *shm.Region

	RunServer *semaphore.Semaphore // posted by the client, waited on by the server
	RunClient *semaphore.Semaphore // posted by the server, waited on by the client

	Ring *ring.SharedRing

	Pipes *pipes.Pair
}

// CreateOwner allocates the shared-memory regions and initializes both
// semaphores and the ring. Called by the side that spawns the transport
// (the client, per §4.3) before the helper process is started.
func CreateOwner(names Names, ringCapacity, audioRegionSize int) (*Transport, error) {
	control, err := shm.Create(names.ControlRegion, ControlRegionSize(ringCapacity))
	if err != nil {
		return nil, fmt.Errorf("transport: creating control region: %w", err)
	}
	audio, err := shm.Create(names.AudioRegion, audioRegionSize)
	if err != nil {
		control.Close()
		return nil, fmt.Errorf("transport: creating audio region: %w", err)
	}

	runServer, err := semaphore.Init(control.Slice(runServerOffset, semaphore.Size), 0)
	if err != nil {
		return nil, fmt.Errorf("transport: initializing runServer semaphore: %w", err)
	}
	runClient, err := semaphore.Init(control.Slice(runClientOffset, semaphore.Size), 0)
	if err != nil {
		return nil, fmt.Errorf("transport: initializing runClient semaphore: %w", err)
	}

	r, err := ring.New(control.Slice(ringOffset, ring.HeaderSize+ringCapacity))
	if err != nil {
		return nil, fmt.Errorf("transport: constructing ring: %w", err)
	}
	r.Reset()

	if err := pipes.Create(names.RequestPipe, names.ResponsePipe); err != nil {
		return nil, fmt.Errorf("transport: creating FIFOs: %w", err)
	}

	return &Transport{
		Names:     names,
		Control:   control,
		Audio:     audio,
		RunServer: runServer,
		RunClient: runClient,
		Ring:      r,
	}, nil
}

// OpenPeer maps the already-created shared-memory regions and opens the
// already-created FIFOs. Called by the helper process during handshake
// (§4.3); ringCapacity and audioRegionSize must match what CreateOwner used.
func OpenPeer(names Names, ringCapacity, audioRegionSize int, pipeDeadline time.Duration, asServer bool) (*Transport, error) {
	control, err := shm.Open(names.ControlRegion, ControlRegionSize(ringCapacity))
	if err != nil {
		return nil, fmt.Errorf("transport: opening control region: %w", err)
	}
	audio, err := shm.Open(names.AudioRegion, audioRegionSize)
	if err != nil {
		control.Close()
		return nil, fmt.Errorf("transport: opening audio region: %w", err)
	}

	runServer, err := semaphore.Open(control.Slice(runServerOffset, semaphore.Size))
	if err != nil {
		return nil, fmt.Errorf("transport: opening runServer semaphore: %w", err)
	}
	runClient, err := semaphore.Open(control.Slice(runClientOffset, semaphore.Size))
	if err != nil {
		return nil, fmt.Errorf("transport: opening runClient semaphore: %w", err)
	}

	r, err := ring.New(control.Slice(ringOffset, ring.HeaderSize+ringCapacity))
	if err != nil {
		return nil, fmt.Errorf("transport: opening ring: %w", err)
	}

	var pp *pipes.Pair
	if asServer {
		pp, err = pipes.OpenAsServer(names.RequestPipe, names.ResponsePipe, pipeDeadline)
	} else {
		pp, err = pipes.OpenAsClient(names.RequestPipe, names.ResponsePipe, pipeDeadline)
	}
	if err != nil {
		return nil, fmt.Errorf("transport: opening FIFOs: %w", err)
	}

	return &Transport{
		Names:     names,
		Control:   control,
		Audio:     audio,
		RunServer: runServer,
		RunClient: runClient,
		Ring:      r,
		Pipes:     pp,
	}, nil
}

// Close releases every resource this Transport holds. Destroying the
// semaphores is the owner's responsibility and happens separately via
// Teardown, since a non-owning peer must not destroy shared kernel state
// the other side still references.
func (t *Transport) Close() error {
	var firstErr error
	if t.Pipes != nil {
		if err := t.Pipes.Close(); err != nil {
			firstErr = err
		}
	}
	if t.Audio != nil {
		if err := t.Audio.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if t.Control != nil {
		if err := t.Control.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Teardown destroys both semaphores and removes the FIFO nodes. Only
// the owning side (the client that called CreateOwner) should call this,
// and only after the helper process has been reaped (§4.6).
func (t *Transport) Teardown() {
	if t.RunServer != nil {
		t.RunServer.Destroy()
	}
	if t.RunClient != nil {
		t.RunClient.Destroy()
	}
	pipes.Remove(t.Names.RequestPipe, t.Names.ResponsePipe)
}
