package server

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gainstage/rplugin/pkg/codec"
	"github.com/gainstage/rplugin/pkg/pluginapi"
	"github.com/gainstage/rplugin/pkg/protocol"
)

// ErrProtocolViolation marks a message malformed or arriving on the
// wrong channel (§7, class 2): logged, discarded, the channel continues.
var ErrProtocolViolation = errors.New("server: protocol violation")

// DispatchControl polls the request pipe for up to timeout; if an
// opcode arrives it is serviced and the response written before
// DispatchControl returns. It reports whether a message was handled
// this call (§4.5).
func (s *Server) DispatchControl(timeout time.Duration) (bool, error) {
	if s.IsExiting() {
		return false, nil
	}

	raw, ok, err := s.transport.Pipes.TryReadOpcode(timeout)
	if err != nil {
		s.markExiting()
		if s.metrics != nil {
			s.metrics.ConnectionLost.Inc()
		}
		return false, fmt.Errorf("server: control pipe lost: %w", err)
	}
	if !ok {
		s.MonitorEdits()
		return false, nil
	}

	op := protocol.Opcode(raw)
	if !protocol.LegalOnPipe(op) {
		s.log.Warnf("server: opcode %s is not legal on the control pipe, discarding", op)
		if s.metrics != nil {
			s.metrics.ProtocolViolations.Inc()
		}
		s.MonitorEdits()
		return true, nil
	}

	if err := s.handleControlOpcode(op); err != nil {
		s.log.Errorf("server: handling %s: %v", op, err)
		if errors.Is(err, ErrProtocolViolation) && s.metrics != nil {
			s.metrics.ProtocolViolations.Inc()
		}
	}
	s.MonitorEdits()
	return true, nil
}

// MonitorEdits scans every parameter for drift against its cached value
// whenever an edit batch is open, surfacing changes the hosted plugin's
// own editor made outside the normal SetParameter path (VST's
// audioMasterBeginEdit/EndEdit). A Finished batch gets one more scan
// before resetting to None, matching the original's monitorEdits, which
// runs once per control-loop iteration regardless of whether an opcode
// arrived that tick.
func (s *Server) MonitorEdits() {
	state := s.EditBatch()
	if state == pluginapi.EditBatchNone {
		return
	}
	if state == pluginapi.EditBatchFinished {
		atomic.StoreInt32(&s.editBatch, int32(pluginapi.EditBatchNone))
	}

	for _, p := range s.params.All() {
		actual, err := withPluginLocked(s, func() (float32, error) { return s.plugin.GetParameter(p.Info.Index) })
		if err != nil {
			continue
		}
		if actual != p.Value() {
			s.params.Set(p.Info.Index, actual)
		}
	}
}

func (s *Server) handleControlOpcode(op protocol.Opcode) error {
	r := s.transport.Pipes
	w := s.transport.Pipes

	switch op {
	case protocol.OpGetVersion:
		return codec.WriteString(w, s.plugin.Version())
	case protocol.OpGetName:
		return codec.WriteString(w, s.plugin.Name())
	case protocol.OpGetMaker:
		return codec.WriteString(w, s.plugin.Maker())
	case protocol.OpGetInputCount:
		return codec.WriteInt32(w, int32(s.plugin.InputCount()))
	case protocol.OpGetOutputCount:
		return codec.WriteInt32(w, int32(s.plugin.OutputCount()))
	case protocol.OpHasMIDIInput:
		return codec.WriteInt32(w, boolToInt32(s.plugin.HasMIDIInput()))
	case protocol.OpIsReady:
		return codec.WriteInt32(w, 1)

	case protocol.OpGetParameterCount:
		return codec.WriteInt32(w, s.params.Count())

	case protocol.OpGetParameterName:
		index, err := protocol.ReadIndexQuery(r)
		if err != nil {
			return fmt.Errorf("%w: reading GetParameterName index: %v", ErrProtocolViolation, err)
		}
		info, err := s.params.Info(index)
		if err != nil {
			return codec.WriteString(w, "")
		}
		return codec.WriteString(w, info.Name)

	case protocol.OpGetParameter:
		index, err := protocol.ReadIndexQuery(r)
		if err != nil {
			return fmt.Errorf("%w: reading GetParameter index: %v", ErrProtocolViolation, err)
		}
		value, err := s.params.Get(index)
		if err != nil {
			return codec.WriteFloat32(w, 0)
		}
		return codec.WriteFloat32(w, value)

	case protocol.OpGetParameterDefault:
		index, err := protocol.ReadIndexQuery(r)
		if err != nil {
			return fmt.Errorf("%w: reading GetParameterDefault index: %v", ErrProtocolViolation, err)
		}
		info, err := s.params.Info(index)
		if err != nil {
			return codec.WriteFloat32(w, 0)
		}
		return codec.WriteFloat32(w, info.DefaultValue)

	case protocol.OpGetParameters:
		all := s.params.All()
		values := make([]protocol.ParameterValue, len(all))
		for i, p := range all {
			values[i] = protocol.ParameterValue{Index: p.Info.Index, Value: p.Value()}
		}
		return protocol.WriteParameterValues(w, values)

	case protocol.OpGetProgramCount:
		return codec.WriteInt32(w, int32(s.plugin.ProgramCount()))

	case protocol.OpGetProgramName:
		index, err := protocol.ReadIndexQuery(r)
		if err != nil {
			return fmt.Errorf("%w: reading GetProgramName index: %v", ErrProtocolViolation, err)
		}
		name, err := withPluginLocked(s, func() (string, error) { return s.plugin.ProgramName(index) })
		if err != nil {
			s.logRejection("GetProgramName", err)
			return codec.WriteString(w, "")
		}
		return codec.WriteString(w, name)

	case protocol.OpWarn:
		msg, err := protocol.ReadWarn(r)
		if err != nil {
			return fmt.Errorf("%w: reading Warn payload: %v", ErrProtocolViolation, err)
		}
		s.log.Warnf("server: plugin/host warning: %s", msg)
		return codec.WriteInt32(w, 1)

	case protocol.OpGetBlob:
		data, err := withPluginLocked(s, func() ([]byte, error) { return s.plugin.GetState() })
		if err != nil {
			s.logRejection("GetBlob", err)
			data = nil
		}
		return codec.WriteBlob(w, data)

	case protocol.OpSetBlob:
		data, err := protocol.ReadSetBlob(r)
		if err != nil {
			return fmt.Errorf("%w: reading SetBlob payload: %v", ErrProtocolViolation, err)
		}
		if err := withPluginLockedErr(s, func() error { return s.plugin.SetState(data) }); err != nil {
			s.logRejection("SetBlob", err)
		}
		return codec.WriteInt32(w, 1)

	case protocol.OpShowGUI:
		if err := withPluginLockedErr(s, s.plugin.ShowGUI); err != nil {
			s.logRejection("ShowGUI", err)
		}
		return codec.WriteInt32(w, 1)

	case protocol.OpHideGUI:
		if err := withPluginLockedErr(s, s.plugin.HideGUI); err != nil {
			s.logRejection("HideGUI", err)
		}
		return codec.WriteInt32(w, 1)

	case protocol.OpSetDebugLevel:
		level, err := protocol.ReadSetDebugLevel(r)
		if err != nil {
			return fmt.Errorf("%w: reading SetDebugLevel payload: %v", ErrProtocolViolation, err)
		}
		s.log.SetLevel(level)
		return codec.WriteInt32(w, 1)

	case protocol.OpReset:
		if err := withPluginLockedErr(s, s.plugin.Reset); err != nil {
			s.logRejection("Reset", err)
		}
		s.params.ResetToDefaults()
		return codec.WriteInt32(w, 1)

	case protocol.OpTerminate:
		s.markExiting()
		return codec.WriteInt32(w, 1)

	default:
		return fmt.Errorf("%w: opcode %s has no control handler", ErrProtocolViolation, op)
	}
}

// withPluginLocked serialises a control-thread plugin call against the
// audio-dispatch thread's non-blocking attempt (§5). Control calls
// always block for the mutex; they are not on the real-time path.
func withPluginLocked[T any](s *Server, fn func() (T, error)) (T, error) {
	s.pluginMu.Lock()
	defer s.pluginMu.Unlock()
	return fn()
}

// withPluginLockedErr is withPluginLocked for plugin calls that return
// only an error.
func withPluginLockedErr(s *Server, fn func() error) error {
	s.pluginMu.Lock()
	defer s.pluginMu.Unlock()
	return fn()
}

func (s *Server) logRejection(op string, err error) {
	var rejErr *pluginapi.RejectionError
	if errors.As(err, &rejErr) {
		s.log.Warnf("server: %s rejected: %v", op, rejErr)
		if s.metrics != nil {
			s.metrics.PluginRejections.Inc()
		}
		return
	}
	s.log.Errorf("server: %s failed: %v", op, err)
}

func boolToInt32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
