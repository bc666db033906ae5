// Package protocol defines the opcode vocabulary carried over the ring
// and control pipes, the per-opcode payload shapes, and which channel
// each opcode is legal on (§3, §6). Dispatch is by eager typed parse:
// each opcode's payload is decoded by its matching Read* helper into
// typed values immediately after the opcode tag, rather than handled as an untyped byte stream
// further down the call chain (§9's "Dispatch by opcode" design note).
package protocol

import "fmt"

// Opcode is the 32-bit wire tag identifying a message's kind (§3).
type Opcode int32

const (
	// Query-class opcodes: control channel only, always get a response.
	OpGetVersion Opcode = iota + 1
	OpGetName
	OpGetMaker
	OpGetInputCount
	OpGetOutputCount
	OpGetParameterCount
	OpGetParameterName
	OpGetParameter
	OpGetParameterDefault
	OpGetParameters
	OpGetProgramCount
	OpGetProgramName
	OpHasMIDIInput
	OpIsReady
	OpWarn
	OpGetBlob
	OpSetBlob

	// Realtime-class opcodes: ring channel only, no response.
	OpProcess
	OpSetParameter
	OpSetCurrentProgram
	OpSendMIDIData
	OpSetBufferSize
	OpSetSampleRate

	// Lifecycle-class opcodes: legal on either channel, context-dependent.
	OpReset
	OpTerminate
	OpShowGUI
	OpHideGUI
	OpSetDebugLevel
)

// Class partitions opcodes by which channel(s) may legally carry them (§3).
type Class int

const (
	ClassQuery Class = iota
	ClassRealtime
	ClassLifecycle
)

var classOf = map[Opcode]Class{
	OpGetVersion:          ClassQuery,
	OpGetName:             ClassQuery,
	OpGetMaker:            ClassQuery,
	OpGetInputCount:       ClassQuery,
	OpGetOutputCount:      ClassQuery,
	OpGetParameterCount:   ClassQuery,
	OpGetParameterName:    ClassQuery,
	OpGetParameter:        ClassQuery,
	OpGetParameterDefault: ClassQuery,
	OpGetParameters:       ClassQuery,
	OpGetProgramCount:     ClassQuery,
	OpGetProgramName:      ClassQuery,
	OpHasMIDIInput:        ClassQuery,
	OpIsReady:             ClassQuery,
	OpWarn:                ClassQuery,
	OpGetBlob:             ClassQuery,
	OpSetBlob:             ClassQuery,

	OpProcess:           ClassRealtime,
	OpSetParameter:      ClassRealtime,
	OpSetCurrentProgram: ClassRealtime,
	OpSendMIDIData:      ClassRealtime,
	OpSetBufferSize:     ClassRealtime,
	OpSetSampleRate:     ClassRealtime,

	OpReset:         ClassLifecycle,
	OpTerminate:     ClassLifecycle,
	OpShowGUI:       ClassLifecycle,
	OpHideGUI:       ClassLifecycle,
	OpSetDebugLevel: ClassLifecycle,
}

// ClassOf reports which class an opcode belongs to.
func ClassOf(op Opcode) (Class, bool) {
	c, ok := classOf[op]
	return c, ok
}

// LegalOnRing reports whether op may appear on the SharedRing. Realtime
// opcodes always are; Lifecycle opcodes may be (e.g. Terminate can be
// sent urgently alongside a Process epoch); Query opcodes never are —
// they carry a synchronous response the ring has no channel for (§3, §4.1).
func LegalOnRing(op Opcode) bool {
	c, ok := classOf[op]
	if !ok {
		return false
	}
	return c == ClassRealtime || c == ClassLifecycle
}

// LegalOnPipe reports whether op may appear on the control pipes.
// Realtime opcodes never are — the pipe's blocking request/response
// protocol cannot keep up with the audio path (§4.2).
func LegalOnPipe(op Opcode) bool {
	c, ok := classOf[op]
	if !ok {
		return false
	}
	return c == ClassQuery || c == ClassLifecycle
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("Opcode(%d)", int32(op))
}

var opcodeNames = map[Opcode]string{
	OpGetVersion:          "GetVersion",
	OpGetName:             "GetName",
	OpGetMaker:            "GetMaker",
	OpGetInputCount:       "GetInputCount",
	OpGetOutputCount:      "GetOutputCount",
	OpGetParameterCount:   "GetParameterCount",
	OpGetParameterName:    "GetParameterName",
	OpGetParameter:        "GetParameter",
	OpGetParameterDefault: "GetParameterDefault",
	OpGetParameters:       "GetParameters",
	OpGetProgramCount:     "GetProgramCount",
	OpGetProgramName:      "GetProgramName",
	OpHasMIDIInput:        "HasMIDIInput",
	OpIsReady:             "IsReady",
	OpWarn:                "Warn",
	OpGetBlob:             "GetBlob",
	OpSetBlob:             "SetBlob",
	OpProcess:             "Process",
	OpSetParameter:        "SetParameter",
	OpSetCurrentProgram:   "SetCurrentProgram",
	OpSendMIDIData:        "SendMIDIData",
	OpSetBufferSize:       "SetBufferSize",
	OpSetSampleRate:       "SetSampleRate",
	OpReset:               "Reset",
	OpTerminate:           "Terminate",
	OpShowGUI:             "ShowGUI",
	OpHideGUI:             "HideGUI",
	OpSetDebugLevel:       "SetDebugLevel",
}
