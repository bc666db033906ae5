// Package codec implements the wire primitives shared by both IPC
// channels: opcodes, integers, floats, length-prefixed strings, MIDI
// batches, and DEFLATE-compressed blobs (spec §4.1, §6). All integer and
// float fields are native-endian, because both endpoints run on the same
// machine with the same native width by construction (§4.1) — there is
// no cross-machine byte order to normalize, unlike a typical network
// protocol.
//
// Both pkg/ring and pkg/pipes implement ByteReader/ByteWriter and get
// the typed encode/decode helpers below for free. The sticky-error
// pattern (first error short-circuits every subsequent call) is carried
// over from the teacher's state-stream helpers: once a read or write
// fails, the rest of the same message's fields are not attempted.
package codec

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"
	"unsafe"
)

// ByteReader reads exactly n bytes or reports an error. Implementations
// decide their own blocking semantics: pkg/pipes blocks and retries on
// EAGAIN, pkg/ring never blocks and fails fast if the bytes are not yet
// committed.
type ByteReader interface {
	ReadN(n int) ([]byte, error)
}

// ByteWriter writes p in its entirety or reports an error. pkg/ring
// writers that would overrun the buffer return an error without
// publishing any bytes (§4.1's invalidateCommit); pkg/pipes writers
// require the single underlying syscall to consume all of p.
type ByteWriter interface {
	WriteN(p []byte) error
}

var nativeEndianIsLittle = func() bool {
	var x uint16 = 1
	return *(*byte)(unsafe.Pointer(&x)) == 1
}()

// PutInt32 encodes v into buf (len(buf) must be >= 4) in native byte order.
func PutInt32(buf []byte, v int32) {
	u := uint32(v)
	if nativeEndianIsLittle {
		buf[0], buf[1], buf[2], buf[3] = byte(u), byte(u>>8), byte(u>>16), byte(u>>24)
	} else {
		buf[3], buf[2], buf[1], buf[0] = byte(u), byte(u>>8), byte(u>>16), byte(u>>24)
	}
}

// Int32 decodes a native-byte-order int32 from buf (len(buf) must be >= 4).
func Int32(buf []byte) int32 {
	if nativeEndianIsLittle {
		return int32(uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24)
	}
	return int32(uint32(buf[3]) | uint32(buf[2])<<8 | uint32(buf[1])<<16 | uint32(buf[0])<<24)
}

// PutFloat32 encodes v into buf (len(buf) must be >= 4) in native byte order.
func PutFloat32(buf []byte, v float32) {
	PutInt32(buf, int32(*(*uint32)(unsafe.Pointer(&v))))
}

// Float32 decodes a native-byte-order float32 from buf (len(buf) must be >= 4).
func Float32(buf []byte) float32 {
	bits := uint32(Int32(buf))
	return *(*float32)(unsafe.Pointer(&bits))
}

const (
	Int32Size   = 4
	Float32Size = 4
)

// WriteOpcode writes a bare 32-bit opcode tag with no payload.
func WriteOpcode(w ByteWriter, opcode int32) error {
	var buf [Int32Size]byte
	PutInt32(buf[:], opcode)
	return w.WriteN(buf[:])
}

// ReadOpcode reads a bare 32-bit opcode tag.
func ReadOpcode(r ByteReader) (int32, error) {
	b, err := r.ReadN(Int32Size)
	if err != nil {
		return 0, err
	}
	return Int32(b), nil
}

// WriteInt32 writes a single int32 field.
func WriteInt32(w ByteWriter, v int32) error {
	var buf [Int32Size]byte
	PutInt32(buf[:], v)
	return w.WriteN(buf[:])
}

// ReadInt32 reads a single int32 field.
func ReadInt32(r ByteReader) (int32, error) {
	b, err := r.ReadN(Int32Size)
	if err != nil {
		return 0, err
	}
	return Int32(b), nil
}

// WriteFloat32 writes a single float32 field.
func WriteFloat32(w ByteWriter, v float32) error {
	var buf [Float32Size]byte
	PutFloat32(buf[:], v)
	return w.WriteN(buf[:])
}

// ReadFloat32 reads a single float32 field.
func ReadFloat32(r ByteReader) (float32, error) {
	b, err := r.ReadN(Float32Size)
	if err != nil {
		return 0, err
	}
	return Float32(b), nil
}

// WriteString writes a {len:i32, bytes[len]} payload. The wire bytes are
// not NUL-terminated (§6).
func WriteString(w ByteWriter, s string) error {
	if err := WriteInt32(w, int32(len(s))); err != nil {
		return err
	}
	if len(s) == 0 {
		return nil
	}
	return w.WriteN([]byte(s))
}

// ReadString reads a {len:i32, bytes[len]} payload, returning an owned copy.
func ReadString(r ByteReader) (string, error) {
	n, err := ReadInt32(r)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	if n < 0 {
		return "", fmt.Errorf("codec: negative string length %d", n)
	}
	b, err := r.ReadN(int(n))
	if err != nil {
		return "", err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return string(out), nil
}

// MIDIEvent is one raw 3-byte MIDI message plus the sample-frame offset
// within the current block at which it applies (§4.1).
type MIDIEvent struct {
	Bytes       [3]byte
	FrameOffset int32
}

// WriteMIDIBatch writes {nEvents:i32, bytes[3*nEvents], frameOffsets:i32[nEvents]}.
func WriteMIDIBatch(w ByteWriter, events []MIDIEvent) error {
	if err := WriteInt32(w, int32(len(events))); err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	raw := make([]byte, 3*len(events))
	for i, e := range events {
		copy(raw[i*3:i*3+3], e.Bytes[:])
	}
	if err := w.WriteN(raw); err != nil {
		return err
	}
	offsets := make([]byte, Int32Size*len(events))
	for i, e := range events {
		PutInt32(offsets[i*Int32Size:], e.FrameOffset)
	}
	return w.WriteN(offsets)
}

// ReadMIDIBatch reads a MIDI batch written by WriteMIDIBatch.
func ReadMIDIBatch(r ByteReader) ([]MIDIEvent, error) {
	n, err := ReadInt32(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if n < 0 {
		return nil, fmt.Errorf("codec: negative MIDI event count %d", n)
	}
	raw, err := r.ReadN(3 * int(n))
	if err != nil {
		return nil, err
	}
	rawCopy := make([]byte, len(raw))
	copy(rawCopy, raw)

	offsets, err := r.ReadN(Int32Size * int(n))
	if err != nil {
		return nil, err
	}

	events := make([]MIDIEvent, n)
	for i := range events {
		copy(events[i].Bytes[:], rawCopy[i*3:i*3+3])
		events[i].FrameOffset = Int32(offsets[i*Int32Size:])
	}
	return events, nil
}

// WriteBlob DEFLATE-compresses data and writes
// {compressedLen:i32, rawLen:i32, compressed[compressedLen]} (§4.1).
func WriteBlob(w ByteWriter, data []byte) error {
	var compressed bytes.Buffer
	fw, err := flate.NewWriter(&compressed, flate.DefaultCompression)
	if err != nil {
		return fmt.Errorf("codec: creating deflate writer: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("codec: compressing blob: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("codec: flushing deflate writer: %w", err)
	}

	if err := WriteInt32(w, int32(compressed.Len())); err != nil {
		return err
	}
	if err := WriteInt32(w, int32(len(data))); err != nil {
		return err
	}
	if compressed.Len() == 0 {
		return nil
	}
	return w.WriteN(compressed.Bytes())
}

// ErrBlobLengthMismatch is returned by ReadBlob when the decompressed
// length disagrees with the raw-length prefix; per §4.1 and §7 this is a
// connection-lost condition, not a protocol violation, since it implies
// the stream itself is no longer trustworthy.
var ErrBlobLengthMismatch = fmt.Errorf("codec: decompressed blob length does not match raw length prefix")

// ReadBlob reads and decompresses a blob written by WriteBlob, verifying
// both length prefixes.
func ReadBlob(r ByteReader) ([]byte, error) {
	compLen, err := ReadInt32(r)
	if err != nil {
		return nil, err
	}
	rawLen, err := ReadInt32(r)
	if err != nil {
		return nil, err
	}
	if compLen < 0 || rawLen < 0 {
		return nil, fmt.Errorf("codec: negative blob length (comp=%d raw=%d)", compLen, rawLen)
	}

	var compressed []byte
	if compLen > 0 {
		b, err := r.ReadN(int(compLen))
		if err != nil {
			return nil, err
		}
		compressed = make([]byte, len(b))
		copy(compressed, b)
	}

	fr := flate.NewReader(bytes.NewReader(compressed))
	defer fr.Close()

	out := make([]byte, 0, rawLen)
	buf := make([]byte, 32*1024)
	for {
		n, rerr := fr.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, fmt.Errorf("%w: %v", ErrBlobLengthMismatch, rerr)
		}
	}

	if int32(len(out)) != rawLen {
		return nil, ErrBlobLengthMismatch
	}
	return out, nil
}
