// Package server implements ServerEndpoint, the helper-side dispatcher
// that drains the ring buffer on audio events, services the control
// pipe on queries, and invokes the abstract plugin methods (§4.5). It is
// a single-threaded event loop with two entry points —
// DispatchControl and DispatchProcess — meant to run on the two
// threads §5 describes, plus a third watchdog thread guarding against a
// wedged plugin callback.
package server

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gainstage/rplugin/internal/config"
	"github.com/gainstage/rplugin/internal/metrics"
	"github.com/gainstage/rplugin/internal/rlog"
	"github.com/gainstage/rplugin/pkg/paramstate"
	"github.com/gainstage/rplugin/pkg/pluginapi"
	"github.com/gainstage/rplugin/pkg/transport"
)

// Server is one plugin instance's helper-side dispatcher (§4.5).
type Server struct {
	plugin    pluginapi.Plugin
	params    *paramstate.Manager
	transport *transport.Transport
	tunables  *config.Tunables
	log       *rlog.Logger
	metrics   *metrics.Registry

	// pluginMu guards every call into plugin. The audio-dispatch thread
	// takes it non-blockingly (§5: "if the audio thread fails to acquire
	// it non-blockingly it zeroes the output block and returns"); the
	// control thread always blocks for it.
	pluginMu sync.Mutex

	// liveness is set at the top of every DispatchProcess cycle and
	// cleared by the watchdog after each check (§4.5).
	liveness int32

	// exiting is raised once Terminate is received or the watchdog trips;
	// both dispatch loops stop doing work once it is set.
	exiting int32

	// audio region sizing, cached from SetBufferSize/SetSampleRate and
	// mapped lazily on the first Process (§4.5 "Lazy sizing").
	sizeMu      sync.Mutex
	blockSize   int32
	inputCount  int32
	outputCount int32
	sampleRate  int32
	audioMapped bool

	currentProgram int32

	// editBatch tracks the hosted plugin's begin/end-edit gesture state
	// (§3's "edit-batch state (None/Started/Finished)"), driven by
	// onEditGesture and consumed by MonitorEdits.
	editBatch int32 // atomic pluginapi.EditBatchState

	// notifications is the fixed-length SPSC ring of pending parameter
	// change notifications destined for the UI side-channel (§3, §5);
	// overflow silently drops the oldest entry.
	notifications *notificationRing

	// processCtx is passed to every plugin.Process call; processCancel is
	// invoked by Watchdog on a trip so a plugin that honors ctx.Done() can
	// unwind. Go has no thread-kill primitive, so a plugin that ignores
	// the context still wedges its goroutine — exitFunc is Watchdog's
	// backstop for that case (§4.5, §8's watchdog-termination property).
	processCtx    context.Context
	processCancel context.CancelFunc
	exitFunc      func(code int)
}

// New constructs a Server around an already-activated plugin instance
// and an already-handshaken transport. paramInfos seeds the parameter
// cache from the plugin's declared metadata (§3's "cached default
// parameter values").
func New(plugin pluginapi.Plugin, paramInfos []paramstate.Info, t *transport.Transport, tunables *config.Tunables, log *rlog.Logger, reg *metrics.Registry) (*Server, error) {
	tunables = config.OrDefaults(tunables)

	processCtx, processCancel := context.WithCancel(context.Background())
	s := &Server{
		plugin:        plugin,
		transport:     t,
		tunables:      tunables,
		log:           log,
		metrics:       reg,
		blockSize:     -1,
		inputCount:    int32(plugin.InputCount()),
		outputCount:   int32(plugin.OutputCount()),
		sampleRate:    -1,
		processCtx:    processCtx,
		processCancel: processCancel,
		exitFunc:      os.Exit,
	}
	s.notifications = newNotificationRing(tunables.NotificationRingSize)
	s.params = paramstate.NewManager(s.onParamChange)
	if err := s.params.RegisterAll(paramInfos...); err != nil {
		return nil, err
	}
	plugin.EditGestureCallback(s.onEditGesture)
	return s, nil
}

// onEditGesture is the plugin-invoked half of the edit-batch state
// machine: Started opens a batch, Finished marks it for one more
// MonitorEdits pass before resetting to None (§3, mirroring the
// original's startEdit/endEdit).
func (s *Server) onEditGesture(started bool) {
	if started {
		atomic.StoreInt32(&s.editBatch, int32(pluginapi.EditBatchStarted))
		return
	}
	atomic.StoreInt32(&s.editBatch, int32(pluginapi.EditBatchFinished))
}

// EditBatch reports the current edit-batch state.
func (s *Server) EditBatch() pluginapi.EditBatchState {
	return pluginapi.EditBatchState(atomic.LoadInt32(&s.editBatch))
}

// onParamChange feeds the UI notification ring whenever a parameter
// value actually moves, whether by SetParameter from the client or the
// hosted plugin's own automation (§3, §5).
func (s *Server) onParamChange(index int32, _, newValue float32) {
	if s.notifications.Push(pluginapi.ParamChangeNotification{Index: index, Value: newValue}) {
		return
	}
	if s.metrics != nil {
		s.metrics.NotificationDrops.Inc()
	}
}

// IsExiting reports whether Terminate or the watchdog has already raised
// the exit flag; cmd/helper's run loop checks this between iterations.
func (s *Server) IsExiting() bool {
	return atomic.LoadInt32(&s.exiting) != 0
}

func (s *Server) markExiting() {
	atomic.StoreInt32(&s.exiting, 1)
}

// Params exposes the parameter cache for cmd/helper's metrics wiring and tests.
func (s *Server) Params() *paramstate.Manager {
	return s.params
}

// notificationRing is a fixed-capacity SPSC queue of pending parameter
// change notifications; Push silently drops the oldest entry on
// overflow rather than blocking the thread that produced the change
// (§5's ≈200-entry UI notification ring).
type notificationRing struct {
	mu      sync.Mutex
	entries []pluginapi.ParamChangeNotification
	head    int
	count   int
}

func newNotificationRing(capacity int) *notificationRing {
	if capacity <= 0 {
		capacity = 200
	}
	return &notificationRing{entries: make([]pluginapi.ParamChangeNotification, capacity)}
}

// Push enqueues n, dropping the oldest entry and returning false if full.
func (r *notificationRing) Push(n pluginapi.ParamChangeNotification) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cap := len(r.entries)
	dropped := r.count == cap
	if dropped {
		r.head = (r.head + 1) % cap
		r.count--
	}
	tail := (r.head + r.count) % cap
	r.entries[tail] = n
	r.count++
	return !dropped
}

// Drain removes and returns every pending notification, oldest first.
func (r *notificationRing) Drain() []pluginapi.ParamChangeNotification {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]pluginapi.ParamChangeNotification, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.entries[(r.head+i)%len(r.entries)])
	}
	r.head = 0
	r.count = 0
	return out
}
