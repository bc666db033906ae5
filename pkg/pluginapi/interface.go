// Package pluginapi defines the abstract surface ServerEndpoint drives
// against a hosted plugin instance (§3 "Plugin instance state", §4.5).
// The actual foreign-ABI adapter that implements Plugin against a real
// hosted plugin is out of scope (spec §1); this package only fixes the
// boundary so pkg/server can be written and tested against a fake
// implementation.
//
// The shape (explicit context.Context on the blocking Process call,
// errors instead of bool returns, plugin state exchanged as a raw byte
// slice through GetState/SetState) follows the teacher's PluginV2/ProcessorV2
// generalization of its original CLAP-bound Plugin interface.
package pluginapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/gainstage/rplugin/pkg/codec"
)

// Plugin is the abstract foreign-hosted plugin instance. Every method
// that returns an error may return ErrPluginRejected (wrapped with a RejectionReason) when the
// underlying plugin refuses an otherwise well-formed request (§7).
type Plugin interface {
	Init() error
	Destroy() error
	Activate(sampleRate float64, blockSize int) error
	Deactivate() error
	Reset() error

	Name() string
	Maker() string
	Version() string
	InputCount() int
	OutputCount() int
	HasMIDIInput() bool

	ParameterCount() int
	ParameterName(index int32) (string, error)
	ParameterDefault(index int32) (float32, error)
	GetParameter(index int32) (float32, error)
	SetParameter(index int32, value float32) error

	ProgramCount() int
	ProgramName(index int32) (string, error)
	SetCurrentProgram(index int32) error

	SendMIDI(events []codec.MIDIEvent) error

	// Process runs exactly one audio block. in/out are [channel][sample]
	// views into the shared audio region (§3); the plugin must not retain
	// either slice past the call.
	Process(ctx context.Context, in, out [][]float32) error

	GetState() ([]byte, error)
	SetState(data []byte) error

	ShowGUI() error
	HideGUI() error

	// EditGestureCallback registers fn to be invoked by the plugin
	// whenever its own editor begins or ends a user edit gesture
	// (VST's audioMasterBeginEdit/audioMasterEndEdit), bypassing the
	// normal SetParameter path. fn(true) starts the edit batch,
	// fn(false) finishes it; a plugin with no editor of its own never
	// calls fn. Exactly one callback is registered, at construction.
	EditGestureCallback(fn func(started bool))
}

// RejectionReason classifies why a plugin refused an operation
// (SPEC_FULL.md FEATURES, recovered from the original's rejection
// paths that the distilled spec collapsed into one generic case).
type RejectionReason int

const (
	RejectionUnspecified RejectionReason = iota
	RejectionOutOfRange
	RejectionUnsupported
	RejectionPluginRefused
)

func (r RejectionReason) String() string {
	switch r {
	case RejectionOutOfRange:
		return "out of range"
	case RejectionUnsupported:
		return "unsupported"
	case RejectionPluginRefused:
		return "plugin refused"
	default:
		return "unspecified"
	}
}

// ErrPluginRejected is the sentinel underlying every plugin-rejection
// error (§7, class 3): logged with a warning, never escapes to the
// caller as anything but a safe default return.
var ErrPluginRejected = errors.New("pluginapi: plugin rejected operation")

// RejectionError wraps ErrPluginRejected with the reason and the
// operation that was refused.
type RejectionError struct {
	Op     string
	Reason RejectionReason
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("pluginapi: %s rejected (%s)", e.Op, e.Reason)
}

func (e *RejectionError) Unwrap() error {
	return ErrPluginRejected
}

// Reject constructs a RejectionError for the given operation and reason.
func Reject(op string, reason RejectionReason) error {
	return &RejectionError{Op: op, Reason: reason}
}

// ParamChangeNotification is one entry in the server-side SPSC
// notification ring destined for the UI side-channel (§3, §5) — emitted
// whenever a cached parameter value moves, whether by SetParameter from
// the client or by the hosted plugin's own editor.
type ParamChangeNotification struct {
	Index int32
	Value float32
}

// EditBatchState tracks the hosted plugin's begin/end-edit gesture state
// (§3's "edit-batch state (None/Started/Finished)").
type EditBatchState int

const (
	EditBatchNone EditBatchState = iota
	EditBatchStarted
	EditBatchFinished
)
