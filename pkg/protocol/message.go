package protocol

import (
	"github.com/gainstage/rplugin/pkg/codec"
)

// Every Write*/Read* pair below encodes exactly one opcode's payload
// per the wire formats fixed in §6. Callers write the opcode tag first
// via codec.WriteOpcode/ReadOpcode, then the matching payload helper.

// SetParameter: {index:i32, value:f32}.
func WriteSetParameter(w codec.ByteWriter, index int32, value float32) error {
	if err := codec.WriteInt32(w, index); err != nil {
		return err
	}
	return codec.WriteFloat32(w, value)
}

func ReadSetParameter(r codec.ByteReader) (index int32, value float32, err error) {
	if index, err = codec.ReadInt32(r); err != nil {
		return 0, 0, err
	}
	value, err = codec.ReadFloat32(r)
	return index, value, err
}

// SetCurrentProgram: {index:i32}.
func WriteSetCurrentProgram(w codec.ByteWriter, index int32) error {
	return codec.WriteInt32(w, index)
}

func ReadSetCurrentProgram(r codec.ByteReader) (int32, error) {
	return codec.ReadInt32(r)
}

// SetBufferSize / SetSampleRate: {value:i32}.
func WriteIntValue(w codec.ByteWriter, value int32) error {
	return codec.WriteInt32(w, value)
}

func ReadIntValue(r codec.ByteReader) (int32, error) {
	return codec.ReadInt32(r)
}

// SendMIDIData: {nEvents:i32, bytes[3*nEvents], frameOffsets:i32[nEvents]}.
func WriteSendMIDIData(w codec.ByteWriter, events []codec.MIDIEvent) error {
	return codec.WriteMIDIBatch(w, events)
}

func ReadSendMIDIData(r codec.ByteReader) ([]codec.MIDIEvent, error) {
	return codec.ReadMIDIBatch(r)
}

// Index-only query requests: GetParameterName, GetParameter,
// GetParameterDefault, GetProgramName all request by {index:i32}.
func WriteIndexQuery(w codec.ByteWriter, index int32) error {
	return codec.WriteInt32(w, index)
}

func ReadIndexQuery(r codec.ByteReader) (int32, error) {
	return codec.ReadInt32(r)
}

// Warn carries a single human-readable string. pkg/client sends it to
// the helper; the helper does not send Warn to the client.
func WriteWarn(w codec.ByteWriter, message string) error {
	return codec.WriteString(w, message)
}

func ReadWarn(r codec.ByteReader) (string, error) {
	return codec.ReadString(r)
}

// SetDebugLevel: {level:i32}, propagated to the helper's own severity
// threshold at handshake time (SPEC_FULL.md FEATURES).
func WriteSetDebugLevel(w codec.ByteWriter, level int32) error {
	return codec.WriteInt32(w, level)
}

func ReadSetDebugLevel(r codec.ByteReader) (int32, error) {
	return codec.ReadInt32(r)
}

// SetBlob: an opaque, DEFLATE-compressed plugin state blob (§6).
func WriteSetBlob(w codec.ByteWriter, data []byte) error {
	return codec.WriteBlob(w, data)
}

func ReadSetBlob(r codec.ByteReader) ([]byte, error) {
	return codec.ReadBlob(r)
}

// ParameterValue is one entry of a GetParameters bulk-fetch response
// (SPEC_FULL.md FEATURES: recovered from the original's
// RemotePluginGetParameters path, used during program change so the UI
// side-channel can refresh every control in one round trip instead of N).
type ParameterValue struct {
	Index int32
	Value float32
}

// WriteParameterValues writes {n:i32, (index:i32,value:f32)[n]}.
func WriteParameterValues(w codec.ByteWriter, values []ParameterValue) error {
	if err := codec.WriteInt32(w, int32(len(values))); err != nil {
		return err
	}
	for _, v := range values {
		if err := codec.WriteInt32(w, v.Index); err != nil {
			return err
		}
		if err := codec.WriteFloat32(w, v.Value); err != nil {
			return err
		}
	}
	return nil
}

// ReadParameterValues reads a payload written by WriteParameterValues.
func ReadParameterValues(r codec.ByteReader) ([]ParameterValue, error) {
	n, err := codec.ReadInt32(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]ParameterValue, n)
	for i := range out {
		idx, err := codec.ReadInt32(r)
		if err != nil {
			return nil, err
		}
		val, err := codec.ReadFloat32(r)
		if err != nil {
			return nil, err
		}
		out[i] = ParameterValue{Index: idx, Value: val}
	}
	return out, nil
}
