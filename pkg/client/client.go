// Package client implements ClientEndpoint, the in-host facing API for
// one hosted plugin instance (§4.4). Every public method translates
// directly into a protocol message on the channel §4.4's table assigns
// it — control queries over the pipe pair, realtime opcodes over the
// ring — and every method is a safe no-op once the instance has been
// marked invalid by a lost connection (§7's propagation policy).
package client

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gainstage/rplugin/internal/config"
	"github.com/gainstage/rplugin/internal/rlog"
	"github.com/gainstage/rplugin/pkg/codec"
	"github.com/gainstage/rplugin/pkg/protocol"
	"github.com/gainstage/rplugin/pkg/ring"
	"github.com/gainstage/rplugin/pkg/semaphore"
	"github.com/gainstage/rplugin/pkg/transport"
)

// ErrInstanceInvalid is returned by every public method once the
// instance has observed a connection-lost condition (§7).
var ErrInstanceInvalid = errors.New("client: instance invalidated by lost connection")

// Endpoint is one plugin instance's in-host facing API. It is not safe
// for concurrent control calls; the outer host is expected to serialise
// them (§4.4), though a single process() call may run concurrently with
// control calls since the channels are independent.
type Endpoint struct {
	transport *transport.Transport
	tunables  *config.Tunables
	log       *rlog.Logger

	invalid int32 // atomic bool; once set, every method is a no-op

	blockSize   int32
	inputCount  int32
	outputCount int32
}

// New wraps an already-constructed Transport (created by the caller via
// transport.CreateOwner and handshaken through pkg/lifecycle) as a
// ClientEndpoint. blockSize/inputCount/outputCount start unset (-1) per
// §4.4's "fail fast if buffer size, input count, or output count is
// unset" rule.
func New(t *transport.Transport, tunables *config.Tunables, log *rlog.Logger) *Endpoint {
	return &Endpoint{
		transport:   t,
		tunables:    config.OrDefaults(tunables),
		log:         log,
		blockSize:   -1,
		inputCount:  -1,
		outputCount: -1,
	}
}

func (e *Endpoint) isInvalid() bool {
	return atomic.LoadInt32(&e.invalid) != 0
}

func (e *Endpoint) invalidate(cause error) {
	if atomic.CompareAndSwapInt32(&e.invalid, 0, 1) {
		e.log.Warnf("client: instance invalidated: %v", cause)
	}
}

// requestAdapter lets the per-opcode codec helpers in pkg/protocol write
// against the client's request/response pipe pair, which exposes
// WriteRequest/ReadResponse rather than the plain WriteN/ReadN that
// codec.ByteWriter/ByteReader expect (pkg/pipes.Pair is asymmetric by
// design: its WriteN/ReadN are the server's view).
type requestAdapter struct {
	t *transport.Transport
}

func (a requestAdapter) WriteN(p []byte) error      { return a.t.Pipes.WriteRequest(p) }
func (a requestAdapter) ReadN(n int) ([]byte, error) { return a.t.Pipes.ReadResponse(n) }

// query writes opcode plus a caller-supplied payload to the request pipe
// and returns a requestAdapter for reading the response. Any error is
// treated as connection-lost per §4.2/§7.
func (e *Endpoint) query(opcode protocol.Opcode, writePayload func(codec.ByteWriter) error) (requestAdapter, error) {
	a := requestAdapter{t: e.transport}
	if err := codec.WriteOpcode(a, int32(opcode)); err != nil {
		e.invalidate(err)
		return a, err
	}
	if writePayload != nil {
		if err := writePayload(a); err != nil {
			e.invalidate(err)
			return a, err
		}
	}
	return a, nil
}

// --- Query-class operations (control channel, response expected) ---

func (e *Endpoint) GetVersion() (string, error) {
	if e.isInvalid() {
		return "", ErrInstanceInvalid
	}
	a, err := e.query(protocol.OpGetVersion, nil)
	if err != nil {
		return "", err
	}
	s, err := codec.ReadString(a)
	if err != nil {
		e.invalidate(err)
		return "", err
	}
	return s, nil
}

func (e *Endpoint) GetName() (string, error) {
	if e.isInvalid() {
		return "", ErrInstanceInvalid
	}
	a, err := e.query(protocol.OpGetName, nil)
	if err != nil {
		return "", err
	}
	s, err := codec.ReadString(a)
	if err != nil {
		e.invalidate(err)
		return "", err
	}
	return s, nil
}

func (e *Endpoint) GetMaker() (string, error) {
	if e.isInvalid() {
		return "", ErrInstanceInvalid
	}
	a, err := e.query(protocol.OpGetMaker, nil)
	if err != nil {
		return "", err
	}
	s, err := codec.ReadString(a)
	if err != nil {
		e.invalidate(err)
		return "", err
	}
	return s, nil
}

func (e *Endpoint) GetInputCount() (int32, error) {
	if e.isInvalid() {
		return 0, ErrInstanceInvalid
	}
	a, err := e.query(protocol.OpGetInputCount, nil)
	if err != nil {
		return 0, err
	}
	n, err := codec.ReadInt32(a)
	if err != nil {
		e.invalidate(err)
		return 0, err
	}
	e.inputCount = n
	return n, nil
}

func (e *Endpoint) GetOutputCount() (int32, error) {
	if e.isInvalid() {
		return 0, ErrInstanceInvalid
	}
	a, err := e.query(protocol.OpGetOutputCount, nil)
	if err != nil {
		return 0, err
	}
	n, err := codec.ReadInt32(a)
	if err != nil {
		e.invalidate(err)
		return 0, err
	}
	e.outputCount = n
	return n, nil
}

func (e *Endpoint) HasMIDIInput() (bool, error) {
	if e.isInvalid() {
		return false, ErrInstanceInvalid
	}
	a, err := e.query(protocol.OpHasMIDIInput, nil)
	if err != nil {
		return false, err
	}
	n, err := codec.ReadInt32(a)
	if err != nil {
		e.invalidate(err)
		return false, err
	}
	return n != 0, nil
}

func (e *Endpoint) GetParameterCount() (int32, error) {
	if e.isInvalid() {
		return 0, ErrInstanceInvalid
	}
	a, err := e.query(protocol.OpGetParameterCount, nil)
	if err != nil {
		return 0, err
	}
	n, err := codec.ReadInt32(a)
	if err != nil {
		e.invalidate(err)
		return 0, err
	}
	return n, nil
}

func (e *Endpoint) GetParameterName(index int32) (string, error) {
	if e.isInvalid() {
		return "", ErrInstanceInvalid
	}
	a, err := e.query(protocol.OpGetParameterName, func(w codec.ByteWriter) error {
		return protocol.WriteIndexQuery(w, index)
	})
	if err != nil {
		return "", err
	}
	s, err := codec.ReadString(a)
	if err != nil {
		e.invalidate(err)
		return "", err
	}
	return s, nil
}

func (e *Endpoint) GetParameter(index int32) (float32, error) {
	if e.isInvalid() {
		return 0, ErrInstanceInvalid
	}
	a, err := e.query(protocol.OpGetParameter, func(w codec.ByteWriter) error {
		return protocol.WriteIndexQuery(w, index)
	})
	if err != nil {
		return 0, err
	}
	v, err := codec.ReadFloat32(a)
	if err != nil {
		e.invalidate(err)
		return 0, err
	}
	return v, nil
}

func (e *Endpoint) GetParameterDefault(index int32) (float32, error) {
	if e.isInvalid() {
		return 0, ErrInstanceInvalid
	}
	a, err := e.query(protocol.OpGetParameterDefault, func(w codec.ByteWriter) error {
		return protocol.WriteIndexQuery(w, index)
	})
	if err != nil {
		return 0, err
	}
	v, err := codec.ReadFloat32(a)
	if err != nil {
		e.invalidate(err)
		return 0, err
	}
	return v, nil
}

// GetParameters bulk-fetches every parameter's value in one round trip
// (SPEC_FULL.md FEATURES, recovered from the original's
// remotePluginGetParameters, used after a program change).
func (e *Endpoint) GetParameters() ([]protocol.ParameterValue, error) {
	if e.isInvalid() {
		return nil, ErrInstanceInvalid
	}
	a, err := e.query(protocol.OpGetParameters, nil)
	if err != nil {
		return nil, err
	}
	values, err := protocol.ReadParameterValues(a)
	if err != nil {
		e.invalidate(err)
		return nil, err
	}
	return values, nil
}

func (e *Endpoint) GetProgramCount() (int32, error) {
	if e.isInvalid() {
		return 0, ErrInstanceInvalid
	}
	a, err := e.query(protocol.OpGetProgramCount, nil)
	if err != nil {
		return 0, err
	}
	n, err := codec.ReadInt32(a)
	if err != nil {
		e.invalidate(err)
		return 0, err
	}
	return n, nil
}

func (e *Endpoint) GetProgramName(index int32) (string, error) {
	if e.isInvalid() {
		return "", ErrInstanceInvalid
	}
	a, err := e.query(protocol.OpGetProgramName, func(w codec.ByteWriter) error {
		return protocol.WriteIndexQuery(w, index)
	})
	if err != nil {
		return "", err
	}
	s, err := codec.ReadString(a)
	if err != nil {
		e.invalidate(err)
		return "", err
	}
	return s, nil
}

// Warn sends a diagnostic string to the helper's log, surfacing host-side
// context in the helper's own log stream. Only this client-to-helper
// direction exists; the client has no path for receiving a Warn.
func (e *Endpoint) Warn(message string) error {
	if e.isInvalid() {
		return ErrInstanceInvalid
	}
	return e.queryAck(protocol.OpWarn, func(w codec.ByteWriter) error {
		return protocol.WriteWarn(w, message)
	})
}

// GetBlob/SetBlob round-trip the plugin's opaque state (§4.1, §6).
func (e *Endpoint) GetBlob() ([]byte, error) {
	if e.isInvalid() {
		return nil, ErrInstanceInvalid
	}
	a, err := e.query(protocol.OpGetBlob, nil)
	if err != nil {
		return nil, err
	}
	b, err := codec.ReadBlob(a)
	if err != nil {
		e.invalidate(err)
		return nil, err
	}
	return b, nil
}

func (e *Endpoint) SetBlob(data []byte) error {
	if e.isInvalid() {
		return ErrInstanceInvalid
	}
	return e.queryAck(protocol.OpSetBlob, func(w codec.ByteWriter) error {
		return protocol.WriteSetBlob(w, data)
	})
}

// --- Control-channel operations the caller does not need a value from ---
//
// §4.2 pairs every pipe request with a response regardless of whether
// the caller cares about its payload, so these still read and discard a
// one-word ack rather than leaving it for the next request to
// mis-interpret as its own response.

func (e *Endpoint) ShowGUI() error {
	if e.isInvalid() {
		return ErrInstanceInvalid
	}
	return e.queryAck(protocol.OpShowGUI, nil)
}

func (e *Endpoint) HideGUI() error {
	if e.isInvalid() {
		return ErrInstanceInvalid
	}
	return e.queryAck(protocol.OpHideGUI, nil)
}

func (e *Endpoint) SetDebugLevel(level int32) error {
	if e.isInvalid() {
		return ErrInstanceInvalid
	}
	return e.queryAck(protocol.OpSetDebugLevel, func(w codec.ByteWriter) error {
		return protocol.WriteSetDebugLevel(w, level)
	})
}

func (e *Endpoint) Reset() error {
	if e.isInvalid() {
		return ErrInstanceInvalid
	}
	return e.queryAck(protocol.OpReset, nil)
}

// Terminate signals the helper to drain and exit (§4.6); the transport's
// resources are released by the caller's Transport.Teardown afterward.
func (e *Endpoint) Terminate() error {
	if e.isInvalid() {
		return nil
	}
	err := e.queryAck(protocol.OpTerminate, nil)
	atomic.StoreInt32(&e.invalid, 1)
	return err
}

// queryAck sends opcode plus payload and reads back a single int32 ack,
// discarding its value.
func (e *Endpoint) queryAck(opcode protocol.Opcode, writePayload func(codec.ByteWriter) error) error {
	a, err := e.query(opcode, writePayload)
	if err != nil {
		return err
	}
	if _, err := codec.ReadInt32(a); err != nil {
		e.invalidate(err)
		return err
	}
	return nil
}

// --- Ring-channel operations, synchronous round trip ---

// SetBufferSize resizes the shared audio region and informs the server
// of the new block size (§4.4). The client resizes first; the server
// remaps lazily on its next Process (§3, §4.5).
func (e *Endpoint) SetBufferSize(blockSize int32) error {
	if e.isInvalid() {
		return ErrInstanceInvalid
	}
	if e.inputCount >= 0 && e.outputCount >= 0 {
		required := int(e.inputCount+e.outputCount) * int(blockSize) * 4
		if e.transport.Audio.Size() < required {
			if err := e.transport.Audio.Grow(required); err != nil {
				return e.failRing(fmt.Errorf("client: resizing audio region: %w", err))
			}
		}
	}
	if err := e.writeRingOpcodeAndRun(protocol.OpSetBufferSize, func(w codec.ByteWriter) error {
		return protocol.WriteIntValue(w, blockSize)
	}); err != nil {
		return err
	}
	e.blockSize = blockSize
	return nil
}

func (e *Endpoint) SetSampleRate(sampleRate int32) error {
	if e.isInvalid() {
		return ErrInstanceInvalid
	}
	return e.writeRingOpcodeAndRun(protocol.OpSetSampleRate, func(w codec.ByteWriter) error {
		return protocol.WriteIntValue(w, sampleRate)
	})
}

// --- Ring-channel operations, no response ---

func (e *Endpoint) SetParameter(index int32, value float32) error {
	if e.isInvalid() {
		return ErrInstanceInvalid
	}
	r := e.transport.Ring
	if err := codec.WriteOpcode(r, int32(protocol.OpSetParameter)); err != nil {
		return e.failRing(err)
	}
	if err := protocol.WriteSetParameter(r, index, value); err != nil {
		return e.failRing(err)
	}
	r.Commit()
	return nil
}

func (e *Endpoint) SetCurrentProgram(index int32) error {
	if e.isInvalid() {
		return ErrInstanceInvalid
	}
	r := e.transport.Ring
	if err := codec.WriteOpcode(r, int32(protocol.OpSetCurrentProgram)); err != nil {
		return e.failRing(err)
	}
	if err := protocol.WriteSetCurrentProgram(r, index); err != nil {
		return e.failRing(err)
	}
	r.Commit()
	return nil
}

func (e *Endpoint) SendMIDIData(events []codec.MIDIEvent) error {
	if e.isInvalid() {
		return ErrInstanceInvalid
	}
	r := e.transport.Ring
	if err := codec.WriteOpcode(r, int32(protocol.OpSendMIDIData)); err != nil {
		return e.failRing(err)
	}
	if err := protocol.WriteSendMIDIData(r, events); err != nil {
		return e.failRing(err)
	}
	r.Commit()
	return nil
}

// writeRingOpcodeAndRun writes opcode plus payload on the ring, commits,
// and performs the full synchronous semaphore round trip (§4.4's
// "synchronous (semaphore round-trip)" row, shared by setBufferSize and
// setSampleRate).
func (e *Endpoint) writeRingOpcodeAndRun(opcode protocol.Opcode, writePayload func(codec.ByteWriter) error) error {
	r := e.transport.Ring
	if err := codec.WriteOpcode(r, int32(opcode)); err != nil {
		return e.failRing(err)
	}
	if writePayload != nil {
		if err := writePayload(r); err != nil {
			return e.failRing(err)
		}
	}
	r.Commit()
	return e.runServerAndWait()
}

func (e *Endpoint) runServerAndWait() error {
	if err := e.transport.RunServer.Post(); err != nil {
		return e.failRing(fmt.Errorf("client: posting runServer: %w", err))
	}
	if err := e.transport.RunClient.Wait(e.tunables.SemaphoreTimeout); err != nil {
		if errors.Is(err, semaphore.ErrTimeout) {
			return e.failRing(fmt.Errorf("client: %w: runClient wait timed out", ring.ErrConnectionLost))
		}
		return e.failRing(err)
	}
	return nil
}

func (e *Endpoint) failRing(err error) error {
	e.invalidate(err)
	return err
}

// Process runs one audio block through the hosted plugin (§4.4).
// inputs/outputs are [channel][sample] slices; Process copies inputs
// into the shared audio region, signals the server, waits for the
// reply, then copies the server's outputs back out.
func (e *Endpoint) Process(inputs, outputs [][]float32) error {
	if e.isInvalid() {
		return ErrInstanceInvalid
	}
	if e.blockSize < 0 || e.inputCount < 0 || e.outputCount < 0 {
		return e.failRing(fmt.Errorf("client: process called before buffer size/input/output count set"))
	}
	if int32(len(inputs)) != e.inputCount || int32(len(outputs)) != e.outputCount {
		return e.failRing(fmt.Errorf("client: process channel count mismatch (want %d in/%d out)", e.inputCount, e.outputCount))
	}

	region := e.transport.Audio.Bytes()
	blockBytes := int(e.blockSize) * 4
	for i, ch := range inputs {
		if len(ch) != int(e.blockSize) {
			return e.failRing(fmt.Errorf("client: process input channel %d has %d samples, want %d", i, len(ch), e.blockSize))
		}
		dst := region[i*blockBytes : (i+1)*blockBytes]
		for s, v := range ch {
			codec.PutFloat32(dst[s*4:], v)
		}
	}

	r := e.transport.Ring
	if err := codec.WriteOpcode(r, int32(protocol.OpProcess)); err != nil {
		return e.failRing(err)
	}
	r.Commit()

	if err := e.runServerAndWait(); err != nil {
		return err
	}

	outputBase := int(e.inputCount) * blockBytes
	for i, ch := range outputs {
		if len(ch) != int(e.blockSize) {
			return e.failRing(fmt.Errorf("client: process output channel %d has %d samples, want %d", i, len(ch), e.blockSize))
		}
		src := region[outputBase+i*blockBytes : outputBase+(i+1)*blockBytes]
		for s := range ch {
			ch[s] = codec.Float32(src[s*4:])
		}
	}
	return nil
}
