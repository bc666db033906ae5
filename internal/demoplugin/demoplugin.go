// Package demoplugin is a minimal stereo gain plugin implementing
// pkg/pluginapi.Plugin directly in Go, modelled on the teacher's
// examples/gain-with-gui GainPlugin (one "Gain" parameter, unity default,
// multiply-per-sample Process). The real foreign-ABI adapter that would
// load an actual hosted CLAP/VST binary is out of scope (pkg/pluginapi's
// package doc); this stand-in gives cmd/helper a
// concrete Plugin to drive so the rest of the proxy is exercised
// end-to-end rather than left untestable behind an interface.
package demoplugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/gainstage/rplugin/pkg/codec"
	"github.com/gainstage/rplugin/pkg/paramstate"
	"github.com/gainstage/rplugin/pkg/pluginapi"
)

const gainParamIndex int32 = 0

// Plugin is a unity-gain-by-default stereo passthrough.
type Plugin struct {
	mu          sync.Mutex
	gain        float32
	active      bool
	program     int32
	editGesture func(started bool)
}

// New constructs a Plugin with its gain parameter at 0 dB (1.0).
func New() *Plugin {
	return &Plugin{gain: 1.0}
}

// ParamInfos returns the declared metadata pkg/server.New seeds its
// paramstate.Manager from.
func (p *Plugin) ParamInfos() []paramstate.Info {
	return []paramstate.Info{
		{Index: gainParamIndex, Name: "Gain", MinValue: 0, MaxValue: 2, DefaultValue: 1},
	}
}

func (p *Plugin) Init() error    { return nil }
func (p *Plugin) Destroy() error { return nil }

func (p *Plugin) Activate(sampleRate float64, blockSize int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = true
	return nil
}

func (p *Plugin) Deactivate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = false
	return nil
}

func (p *Plugin) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gain = 1.0
	return nil
}

func (p *Plugin) Name() string    { return "Gainstage Demo Gain" }
func (p *Plugin) Maker() string   { return "Gainstage" }
func (p *Plugin) Version() string { return "1.0" }

func (p *Plugin) InputCount() int    { return 2 }
func (p *Plugin) OutputCount() int   { return 2 }
func (p *Plugin) HasMIDIInput() bool { return false }

func (p *Plugin) ParameterCount() int { return 1 }

func (p *Plugin) ParameterName(index int32) (string, error) {
	if index != gainParamIndex {
		return "", pluginapi.Reject("ParameterName", pluginapi.RejectionOutOfRange)
	}
	return "Gain", nil
}

func (p *Plugin) ParameterDefault(index int32) (float32, error) {
	if index != gainParamIndex {
		return 0, pluginapi.Reject("ParameterDefault", pluginapi.RejectionOutOfRange)
	}
	return 1.0, nil
}

func (p *Plugin) GetParameter(index int32) (float32, error) {
	if index != gainParamIndex {
		return 0, pluginapi.Reject("GetParameter", pluginapi.RejectionOutOfRange)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gain, nil
}

func (p *Plugin) SetParameter(index int32, value float32) error {
	if index != gainParamIndex {
		return pluginapi.Reject("SetParameter", pluginapi.RejectionOutOfRange)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gain = value
	return nil
}

func (p *Plugin) ProgramCount() int { return 1 }

func (p *Plugin) ProgramName(index int32) (string, error) {
	if index != 0 {
		return "", pluginapi.Reject("ProgramName", pluginapi.RejectionOutOfRange)
	}
	return "Default", nil
}

func (p *Plugin) SetCurrentProgram(index int32) error {
	if index != 0 {
		return pluginapi.Reject("SetCurrentProgram", pluginapi.RejectionOutOfRange)
	}
	p.mu.Lock()
	p.program = index
	p.mu.Unlock()
	return nil
}

// SendMIDI rejects every batch as unsupported: this plugin declares
// HasMIDIInput false.
func (p *Plugin) SendMIDI(events []codec.MIDIEvent) error {
	return pluginapi.Reject("SendMIDI", pluginapi.RejectionUnsupported)
}

// Process multiplies every input sample by the current gain, matching
// the teacher's gain-with-gui example's per-sample loop.
func (p *Plugin) Process(ctx context.Context, in, out [][]float32) error {
	p.mu.Lock()
	gain := p.gain
	p.mu.Unlock()

	n := len(in)
	if len(out) < n {
		n = len(out)
	}
	for ch := 0; ch < n; ch++ {
		src, dst := in[ch], out[ch]
		m := len(src)
		if len(dst) < m {
			m = len(dst)
		}
		for i := 0; i < m; i++ {
			dst[i] = src[i] * gain
		}
	}
	return nil
}

func (p *Plugin) GetState() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf := make([]byte, codec.Float32Size)
	codec.PutFloat32(buf, p.gain)
	return buf, nil
}

func (p *Plugin) SetState(data []byte) error {
	if len(data) < codec.Float32Size {
		return fmt.Errorf("demoplugin: state blob too short (%d bytes)", len(data))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gain = codec.Float32(data)
	return nil
}

// ShowGUI/HideGUI are acknowledged no-ops; this plugin draws nothing (§3's
// GUI opcodes are kept as real wire messages regardless of renderer).
func (p *Plugin) ShowGUI() error { return nil }
func (p *Plugin) HideGUI() error { return nil }

// EditGestureCallback stores fn; this plugin has no editor of its own to
// generate begin/end-edit gestures, so fn is never invoked.
func (p *Plugin) EditGestureCallback(fn func(started bool)) {
	p.mu.Lock()
	p.editGesture = fn
	p.mu.Unlock()
}
