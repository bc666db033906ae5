package catalog

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCache_WriteReadRoundTrips(t *testing.T) {
	c := &Cache{
		Version: Version,
		Records: []Record{
			{
				DLLPath:   "/usr/lib/rplugin/analog-delay.so",
				Name:      "Analog Delay",
				Vendor:    "Gainstage",
				IsSynth:   false,
				HasEditor: true,
				Params:    []string{"time", "feedback", "mix"},
				Programs:  []string{"init", "slapback", "dub"},
			},
			{
				DLLPath:  "/usr/lib/rplugin/poly-synth.so",
				Name:     "Poly Synth",
				Vendor:   "Gainstage",
				IsSynth:  true,
				Params:   []string{"cutoff"},
				Programs: nil,
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCache(&buf, c))

	got, err := ReadCache(&buf)
	require.NoError(t, err)
	require.Equal(t, c.Version, got.Version)
	require.Len(t, got.Records, 2)
	require.Equal(t, c.Records[0].Name, got.Records[0].Name)
	require.Equal(t, c.Records[0].Params, got.Records[0].Params)
	require.True(t, got.Records[0].HasEditor)
	require.True(t, got.Records[1].IsSynth)
	require.Empty(t, got.Records[1].Programs)
}

func TestReadCache_RejectsUnsupportedVersion(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCache(&buf, &Cache{Version: 999}))

	_, err := ReadCache(&buf)
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestCache_EmptyRecordsRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCache(&buf, &Cache{Version: Version}))

	got, err := ReadCache(&buf)
	require.NoError(t, err)
	require.Empty(t, got.Records)
}
