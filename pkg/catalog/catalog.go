// Package catalog consumes the scanner cache format (§6, collaborator
// interface): a binary stream produced by an out-of-scope scanning tool
// that walks the plugin search path once and records every discoverable
// plugin's static metadata, so the host does not have to spawn and query
// a helper for every plugin on every startup. Reading follows the same
// sticky fixed-field binary-stream shape as the teacher's
// pkg/state.InputStream (encoding/binary over an io.Reader), adapted to
// this module's own codec package instead of encoding/binary since the
// rest of the wire protocol already goes through codec.ByteReader.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/gainstage/rplugin/pkg/codec"
)

// fixedStringSize is the width of the dll/name/vendor fields (§6).
const fixedStringSize = 64

// ErrUnsupportedVersion is returned when the cache's leading version
// field does not match a version this package knows how to read.
var ErrUnsupportedVersion = errors.New("catalog: unsupported cache version")

// Version is the only cache format version this package reads or writes.
const Version int32 = 1

// Record is one plugin's statically-scanned metadata.
type Record struct {
	DLLPath   string
	Name      string
	Vendor    string
	IsSynth   bool
	HasEditor bool
	Params    []string
	Programs  []string
}

// Cache is the decoded scanner cache: a version tag plus every scanned
// plugin's Record, in scan order.
type Cache struct {
	Version int32
	Records []Record
}

// readerAdapter lets catalog use codec's ByteReader/ByteWriter helpers
// against a plain io.Reader/io.Writer, the way pkg/client's
// requestAdapter does for the pipe pair.
type readerAdapter struct {
	r io.Reader
}

func (a readerAdapter) ReadN(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(a.r, buf); err != nil {
		return nil, fmt.Errorf("catalog: read: %w", err)
	}
	return buf, nil
}

type writerAdapter struct {
	w io.Writer
}

func (a writerAdapter) WriteN(p []byte) error {
	_, err := a.w.Write(p)
	if err != nil {
		return fmt.Errorf("catalog: write: %w", err)
	}
	return nil
}

// ReadCache decodes a full scanner cache from r.
func ReadCache(r io.Reader) (*Cache, error) {
	a := readerAdapter{r: r}

	version, err := codec.ReadInt32(a)
	if err != nil {
		return nil, fmt.Errorf("catalog: reading version: %w", err)
	}
	if version != Version {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, version, Version)
	}

	var records []Record
	for {
		rec, err := readRecord(a)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		records = append(records, rec)
	}

	return &Cache{Version: version, Records: records}, nil
}

func readRecord(a readerAdapter) (Record, error) {
	dll, err := readFixedString(a)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("catalog: reading dll path: %w", err)
	}
	name, err := readFixedString(a)
	if err != nil {
		return Record{}, fmt.Errorf("catalog: reading name: %w", err)
	}
	vendor, err := readFixedString(a)
	if err != nil {
		return Record{}, fmt.Errorf("catalog: reading vendor: %w", err)
	}
	isSynth, err := readBool(a)
	if err != nil {
		return Record{}, fmt.Errorf("catalog: reading isSynth: %w", err)
	}
	hasEditor, err := readBool(a)
	if err != nil {
		return Record{}, fmt.Errorf("catalog: reading hasEditor: %w", err)
	}
	params, err := readStringArray(a)
	if err != nil {
		return Record{}, fmt.Errorf("catalog: reading parameter names: %w", err)
	}
	programs, err := readStringArray(a)
	if err != nil {
		return Record{}, fmt.Errorf("catalog: reading program names: %w", err)
	}

	return Record{
		DLLPath:   dll,
		Name:      name,
		Vendor:    vendor,
		IsSynth:   isSynth,
		HasEditor: hasEditor,
		Params:    params,
		Programs:  programs,
	}, nil
}

// WriteCache encodes a full scanner cache to w. The scanning tool itself
// that populates a Cache from a plugin-search-path sweep is out of scope
// (§1); WriteCache exists so this package's own round trip is testable
// and so a future scanner has somewhere to write to.
func WriteCache(w io.Writer, c *Cache) error {
	a := writerAdapter{w: w}
	if err := codec.WriteInt32(a, c.Version); err != nil {
		return fmt.Errorf("catalog: writing version: %w", err)
	}
	for i, rec := range c.Records {
		if err := writeRecord(a, rec); err != nil {
			return fmt.Errorf("catalog: writing record %d: %w", i, err)
		}
	}
	return nil
}

func writeRecord(a writerAdapter, rec Record) error {
	if err := writeFixedString(a, rec.DLLPath); err != nil {
		return err
	}
	if err := writeFixedString(a, rec.Name); err != nil {
		return err
	}
	if err := writeFixedString(a, rec.Vendor); err != nil {
		return err
	}
	if err := writeBool(a, rec.IsSynth); err != nil {
		return err
	}
	if err := writeBool(a, rec.HasEditor); err != nil {
		return err
	}
	if err := writeStringArray(a, rec.Params); err != nil {
		return err
	}
	return writeStringArray(a, rec.Programs)
}

// readFixedString reads a fixedStringSize-byte field, trimming trailing
// NUL padding (§6's "fixed-size 64-byte strings").
func readFixedString(a readerAdapter) (string, error) {
	buf, err := a.ReadN(fixedStringSize)
	if err != nil {
		return "", err
	}
	end := bytes.IndexByte(buf, 0)
	if end < 0 {
		end = len(buf)
	}
	return string(buf[:end]), nil
}

// writeFixedString writes s NUL-padded or truncated to fixedStringSize bytes.
func writeFixedString(a writerAdapter, s string) error {
	buf := make([]byte, fixedStringSize)
	copy(buf, s)
	return a.WriteN(buf)
}

func readBool(a readerAdapter) (bool, error) {
	v, err := codec.ReadInt32(a)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func writeBool(a writerAdapter, b bool) error {
	var v int32
	if b {
		v = 1
	}
	return codec.WriteInt32(a, v)
}

func readStringArray(a readerAdapter) ([]string, error) {
	n, err := codec.ReadInt32(a)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("catalog: negative array length %d", n)
	}
	out := make([]string, n)
	for i := range out {
		s, err := codec.ReadString(a)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func writeStringArray(a writerAdapter, items []string) error {
	if err := codec.WriteInt32(a, int32(len(items))); err != nil {
		return err
	}
	for _, s := range items {
		if err := codec.WriteString(a, s); err != nil {
			return err
		}
	}
	return nil
}
