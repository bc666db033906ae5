package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gainstage/rplugin/pkg/codec"
)

// memBuf adapts a bytes.Buffer to codec.ByteReader/ByteWriter for tests
// that don't need pkg/ring or pkg/pipes' blocking semantics.
type memBuf struct {
	bytes.Buffer
}

func (b *memBuf) ReadN(n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := b.Read(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *memBuf) WriteN(p []byte) error {
	_, err := b.Write(p)
	return err
}

func TestSetParameter_RoundTrip(t *testing.T) {
	var buf memBuf
	require.NoError(t, WriteSetParameter(&buf, 3, 0.75))
	idx, val, err := ReadSetParameter(&buf)
	require.NoError(t, err)
	require.EqualValues(t, 3, idx)
	require.InDelta(t, 0.75, val, 1e-6)
}

func TestSendMIDIData_RoundTrip(t *testing.T) {
	var buf memBuf
	events := []codec.MIDIEvent{
		{Bytes: [3]byte{0x90, 60, 100}, FrameOffset: 0},
		{Bytes: [3]byte{0x80, 60, 0}, FrameOffset: 128},
	}
	require.NoError(t, WriteSendMIDIData(&buf, events))
	got, err := ReadSendMIDIData(&buf)
	require.NoError(t, err)
	require.Equal(t, events, got)
}

func TestParameterValues_RoundTrip(t *testing.T) {
	var buf memBuf
	values := []ParameterValue{{Index: 0, Value: 0.1}, {Index: 2, Value: 0.9}}
	require.NoError(t, WriteParameterValues(&buf, values))
	got, err := ReadParameterValues(&buf)
	require.NoError(t, err)
	require.Equal(t, values, got)
}

func TestOpcodeClassPartition(t *testing.T) {
	require.True(t, LegalOnPipe(OpGetVersion))
	require.False(t, LegalOnRing(OpGetVersion))

	require.True(t, LegalOnRing(OpProcess))
	require.False(t, LegalOnPipe(OpProcess))

	require.True(t, LegalOnRing(OpTerminate))
	require.True(t, LegalOnPipe(OpTerminate))
}
