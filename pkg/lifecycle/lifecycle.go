// Package lifecycle implements HelperLifecycle: locating and spawning the
// helper process, carrying it through its handshake, and reaping it on
// shutdown (§4.6). Spawn strategy and process bookkeeping follow the
// fork/exec-and-handshake shape filegrind-capns-go's PluginHost uses for
// its on-demand plugin subprocesses (spawnPluginLocked, handlePluginDeath),
// adapted from stdin/stdout pipes to this module's named-pipe-plus-shared-
// memory transport.
package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gainstage/rplugin/internal/config"
	"github.com/gainstage/rplugin/internal/rlog"
	"github.com/gainstage/rplugin/pkg/client"
	"github.com/gainstage/rplugin/pkg/pipes"
	"github.com/gainstage/rplugin/pkg/transport"
)

// State is one position in the helper process state machine (§4.6).
type State int32

const (
	StateSpawning State = iota
	StateHandshaking
	StateReady
	StateDraining
	StateReaped
)

func (s State) String() string {
	switch s {
	case StateSpawning:
		return "spawning"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateReaped:
		return "reaped"
	default:
		return "unknown"
	}
}

// ErrNoExecutable is returned when no executable file named pluginName is
// found anywhere on the search path.
var ErrNoExecutable = errors.New("lifecycle: no executable found on plugin search path")

// ErrStartupFailed is returned when the helper reports a 0 byte on the
// response pipe instead of the expected readiness byte (§6 handshake).
var ErrStartupFailed = errors.New("lifecycle: helper reported startup failure")

// InitialAudioRegionSize is the placeholder audio region size a freshly
// spawned transport is created with, before the client knows the hosted
// plugin's channel counts or block size. SetBufferSize grows the region
// once those are known (§3, §4.4); mmap requires a nonzero length so
// CreateOwner cannot simply pass 0. cmd/helper's OpenPeer call must use
// the same value, since CreateOwner and OpenPeer must agree on region size.
const InitialAudioRegionSize = 2 * 512 * 4

// HelperLifecycle owns one helper subprocess: the exec.Cmd that launched
// it, the transport it communicates over, and the state machine §4.6
// describes.
type HelperLifecycle struct {
	cmd       *exec.Cmd
	transport *transport.Transport
	names     transport.Names
	tunables  *config.Tunables
	log       *rlog.Logger

	state  int32 // atomic State
	reaped int32 // atomic bool
}

// FindExecutable searches each colon-separated directory in searchPath,
// in order, for a file named pluginName with any execute bit set (§4.6).
func FindExecutable(searchPath, pluginName string) (string, error) {
	for _, dir := range strings.Split(searchPath, ":") {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, pluginName)
		info, err := os.Stat(candidate)
		if err != nil {
			continue
		}
		if info.Mode().IsRegular() && info.Mode()&0111 != 0 {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s (search path %q)", ErrNoExecutable, pluginName, searchPath)
}

// Spawn locates the helper executable, creates a fresh transport, forks
// and execs the helper with its single "{pluginName},{transportId}"
// argument (with a leading "-g " flag when showGUI is set), and blocks
// in syncStartup until the helper reports readiness or tunables'
// StartupTimeout elapses (§4.6).
func Spawn(pluginName string, showGUI bool, tunables *config.Tunables, log *rlog.Logger) (*HelperLifecycle, error) {
	tunables = config.OrDefaults(tunables)

	searchPath := os.Getenv("RPLUGIN_PATH")
	if searchPath == "" {
		searchPath = tunables.PluginSearchPath
	}
	execPath, err := FindExecutable(searchPath, pluginName)
	if err != nil {
		return nil, err
	}

	suffix := transport.Suffix()
	names := transport.NewNames(os.TempDir(), suffix)

	owner, err := transport.CreateOwner(names, tunables.RingCapacity, InitialAudioRegionSize)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: creating transport: %w", err)
	}

	h := &HelperLifecycle{
		transport: owner,
		names:     names,
		tunables:  tunables,
		log:       log,
	}
	h.setState(StateSpawning)

	arg := fmt.Sprintf("%s,%s", pluginName, transport.EncodeNames(names))
	args := []string{arg}
	if showGUI {
		args = []string{"-g", arg}
	}

	h.cmd = exec.Command(execPath, args...)
	h.cmd.Stdout = os.Stderr
	h.cmd.Stderr = os.Stderr
	if err := h.cmd.Start(); err != nil {
		owner.Teardown()
		owner.Close()
		return nil, fmt.Errorf("lifecycle: starting helper %s: %w", execPath, err)
	}

	h.setState(StateHandshaking)
	if err := h.syncStartup(); err != nil {
		h.cmd.Process.Kill()
		owner.Teardown()
		owner.Close()
		return nil, err
	}

	h.setState(StateReady)
	if level, ok := os.LookupEnv("RPLUGIN_DEBUG_LEVEL"); ok {
		if err := h.sendDebugLevel(level); err != nil {
			h.log.Warnf("lifecycle: forwarding RPLUGIN_DEBUG_LEVEL=%s: %v", level, err)
		}
	}
	return h, nil
}

// sendDebugLevel parses level and sends it to the freshly handshaken
// helper via a transient client.Endpoint, once, during Spawn (§3's
// recovered "RPLUGIN_DEBUG_LEVEL forwarded as SetDebugLevel" behavior).
func (h *HelperLifecycle) sendDebugLevel(level string) error {
	n, err := strconv.Atoi(level)
	if err != nil {
		return fmt.Errorf("parsing RPLUGIN_DEBUG_LEVEL: %w", err)
	}
	return client.New(h.transport, h.tunables, h.log).SetDebugLevel(int32(n))
}

// syncStartup opens the client side of the FIFO pair (the peer opens its
// side while this blocks) and reads the single readiness byte the helper
// writes once its own handshake finishes (§6).
func (h *HelperLifecycle) syncStartup() error {
	pp, err := pipes.OpenAsClient(h.names.RequestPipe, h.names.ResponsePipe, h.tunables.StartupTimeout)
	if err != nil {
		return fmt.Errorf("lifecycle: opening transport pipes: %w", err)
	}
	h.transport.Pipes = pp

	ready, err := pp.ReadResponse(1)
	if err != nil {
		return fmt.Errorf("lifecycle: reading readiness byte: %w", err)
	}
	if ready[0] != 1 {
		return ErrStartupFailed
	}
	return nil
}

// ParseHelperArg splits the single "{pluginName},{transportId}" command-line
// argument the helper process receives (§4.6, §6) back into the plugin
// name and the decoded transport Names.
func ParseHelperArg(arg string) (pluginName string, names transport.Names, err error) {
	i := strings.IndexByte(arg, ',')
	if i < 0 {
		return "", transport.Names{}, fmt.Errorf("lifecycle: malformed helper argument %q", arg)
	}
	pluginName = arg[:i]
	names, err = transport.DecodeNames(arg[i+1:])
	if err != nil {
		return "", transport.Names{}, err
	}
	return pluginName, names, nil
}

// Transport returns the handshaken transport, ready for pkg/client.New.
func (h *HelperLifecycle) Transport() *transport.Transport {
	return h.transport
}

// State reports the current lifecycle state.
func (h *HelperLifecycle) State() State {
	return State(atomic.LoadInt32(&h.state))
}

func (h *HelperLifecycle) setState(s State) {
	atomic.StoreInt32(&h.state, int32(s))
}

// Drain marks the lifecycle as draining; callers observe this after
// sending Terminate, or after a watchdog trip is reported back through
// the client (§4.6's "Draining" state).
func (h *HelperLifecycle) Drain() {
	h.setState(StateDraining)
}

// Reap waits, non-blocking beyond ReapTimeout, for the helper's child
// process to exit, then tears down the transport's owned resources
// (§4.6's destructor behavior: "waits non-blocking, up to 3s, for any
// child processes to be reaped"). Safe to call more than once.
func (h *HelperLifecycle) Reap() error {
	if !atomic.CompareAndSwapInt32(&h.reaped, 0, 1) {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- h.cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-time.After(h.tunables.ReapTimeout):
		h.log.Warnf("lifecycle: helper did not exit within %s, killing", h.tunables.ReapTimeout)
		if h.cmd.Process != nil {
			h.cmd.Process.Kill()
		}
		waitErr = <-done
	}

	h.setState(StateReaped)
	h.transport.Teardown()
	if closeErr := h.transport.Close(); closeErr != nil && waitErr == nil {
		waitErr = closeErr
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		h.log.Warnf("lifecycle: helper exited with %v", exitErr)
		return nil
	}
	return waitErr
}
