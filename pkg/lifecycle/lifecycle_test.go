package lifecycle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gainstage/rplugin/pkg/transport"
)

func TestParseHelperArg_RoundTrips(t *testing.T) {
	names := transport.NewNames("/tmp", transport.Suffix())
	arg := "com.gainstage.demo-gain," + transport.EncodeNames(names)

	pluginName, decoded, err := ParseHelperArg(arg)
	require.NoError(t, err)
	require.Equal(t, "com.gainstage.demo-gain", pluginName)
	require.Equal(t, names, decoded)
}

func TestParseHelperArg_RejectsMissingComma(t *testing.T) {
	_, _, err := ParseHelperArg("no-comma-here")
	require.Error(t, err)
}

func TestState_String(t *testing.T) {
	require.Equal(t, "spawning", StateSpawning.String())
	require.Equal(t, "handshaking", StateHandshaking.String())
	require.Equal(t, "ready", StateReady.String())
	require.Equal(t, "draining", StateDraining.String())
	require.Equal(t, "reaped", StateReaped.String())
}

func TestFindExecutable_LocatesFirstMatchOnSearchPath(t *testing.T) {
	empty := t.TempDir()
	withPlugin := t.TempDir()

	path := filepath.Join(withPlugin, "demo-plugin")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0755))

	searchPath := empty + ":" + withPlugin
	found, err := FindExecutable(searchPath, "demo-plugin")
	require.NoError(t, err)
	require.Equal(t, path, found)
}

func TestFindExecutable_SkipsNonExecutableFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "demo-plugin")
	require.NoError(t, os.WriteFile(path, []byte("not executable"), 0644))

	_, err := FindExecutable(dir, "demo-plugin")
	require.ErrorIs(t, err, ErrNoExecutable)
}

func TestFindExecutable_NotFoundAnywhere(t *testing.T) {
	_, err := FindExecutable(t.TempDir(), "nonexistent-plugin")
	require.ErrorIs(t, err, ErrNoExecutable)
}
