package codec

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// bufChannel adapts a bytes.Buffer to ByteReader/ByteWriter, matching the
// readerAdapter/writerAdapter shim pkg/catalog uses over its own io.Reader/
// io.Writer.
type bufChannel struct {
	buf *bytes.Buffer
}

func (c bufChannel) WriteN(p []byte) error {
	_, err := c.buf.Write(p)
	return err
}

func (c bufChannel) ReadN(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(c.buf, b); err != nil {
		return nil, err
	}
	return b, nil
}

func TestBlob_WriteReadRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	c := bufChannel{&buf}

	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 200)
	require.NoError(t, WriteBlob(c, data))

	got, err := ReadBlob(c)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestBlob_EmptyRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	c := bufChannel{&buf}

	require.NoError(t, WriteBlob(c, nil))

	got, err := ReadBlob(c)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestReadBlob_RejectsTruncatedRawLength(t *testing.T) {
	var buf bytes.Buffer
	c := bufChannel{&buf}

	require.NoError(t, WriteBlob(c, []byte("large blob payload")))

	// Corrupt the rawLen prefix (the second i32 field) so it disagrees with
	// what the compressed stream actually decompresses to.
	raw := buf.Bytes()
	PutInt32(raw[Int32Size:2*Int32Size], 1)

	_, err := ReadBlob(c)
	require.ErrorIs(t, err, ErrBlobLengthMismatch)
}

func TestReadBlob_RejectsTruncatedCompressedPayload(t *testing.T) {
	var buf bytes.Buffer
	c := bufChannel{&buf}

	// High-entropy data compresses close to 1:1, so the compressed payload
	// is comfortably larger than the handful of trailing bytes trimmed
	// below, guaranteeing the truncation lands inside the payload rather
	// than the two length-prefix fields ahead of it.
	data := make([]byte, 4096)
	rand.New(rand.NewSource(1)).Read(data)
	require.NoError(t, WriteBlob(c, data))

	raw := buf.Bytes()
	buf2 := bytes.NewBuffer(raw[:len(raw)-16]) // drop the tail of the compressed payload
	c2 := bufChannel{buf2}

	_, err := ReadBlob(c2)
	require.Error(t, err)
}
