package server

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gainstage/rplugin/internal/config"
	"github.com/gainstage/rplugin/internal/rlog"
	"github.com/gainstage/rplugin/pkg/codec"
	"github.com/gainstage/rplugin/pkg/paramstate"
	"github.com/gainstage/rplugin/pkg/pluginapi"
	"github.com/gainstage/rplugin/pkg/protocol"
	"github.com/gainstage/rplugin/pkg/transport"
)

// fakePlugin is the minimal pluginapi.Plugin a dispatch test needs; it
// records the last SetParameter call so ordering tests can assert on it.
type fakePlugin struct {
	name, maker, version string
	inputs, outputs      int
	lastParamIndex       int32
	lastParamValue       float32
	editGesture          func(started bool)
}

func (p *fakePlugin) Init() error                                       { return nil }
func (p *fakePlugin) Destroy() error                                    { return nil }
func (p *fakePlugin) Activate(sampleRate float64, blockSize int) error   { return nil }
func (p *fakePlugin) Deactivate() error                                 { return nil }
func (p *fakePlugin) Reset() error                                      { return nil }
func (p *fakePlugin) Name() string                                      { return p.name }
func (p *fakePlugin) Maker() string                                     { return p.maker }
func (p *fakePlugin) Version() string                                   { return p.version }
func (p *fakePlugin) InputCount() int                                   { return p.inputs }
func (p *fakePlugin) OutputCount() int                                  { return p.outputs }
func (p *fakePlugin) HasMIDIInput() bool                                { return true }
func (p *fakePlugin) ParameterCount() int                               { return 1 }
func (p *fakePlugin) ParameterName(index int32) (string, error)         { return "gain", nil }
func (p *fakePlugin) ParameterDefault(index int32) (float32, error)     { return 0.5, nil }
func (p *fakePlugin) GetParameter(index int32) (float32, error)         { return p.lastParamValue, nil }
func (p *fakePlugin) SetParameter(index int32, value float32) error {
	p.lastParamIndex, p.lastParamValue = index, value
	return nil
}
func (p *fakePlugin) ProgramCount() int                        { return 1 }
func (p *fakePlugin) ProgramName(index int32) (string, error)  { return "init", nil }
func (p *fakePlugin) SetCurrentProgram(index int32) error      { return nil }
func (p *fakePlugin) SendMIDI(events []codec.MIDIEvent) error  { return nil }
func (p *fakePlugin) Process(ctx context.Context, in, out [][]float32) error {
	for ch := range out {
		copy(out[ch], in[ch])
	}
	return nil
}
func (p *fakePlugin) GetState() ([]byte, error)  { return []byte("state"), nil }
func (p *fakePlugin) SetState(data []byte) error { return nil }
func (p *fakePlugin) ShowGUI() error             { return nil }
func (p *fakePlugin) HideGUI() error             { return nil }
func (p *fakePlugin) EditGestureCallback(fn func(started bool)) {
	p.editGesture = fn
}

func newLoopbackTransport(t *testing.T) (*transport.Transport, transport.Names) {
	t.Helper()
	suffix := transport.Suffix()
	names := transport.NewNames(os.TempDir(), suffix)

	owner, err := transport.CreateOwner(names, 2048, 4*256*4)
	require.NoError(t, err)
	t.Cleanup(func() {
		owner.Close()
		owner.Teardown()
	})
	return owner, names
}

func TestNotificationRing_OverflowDropsOldest(t *testing.T) {
	r := newNotificationRing(2)
	require.True(t, r.Push(pluginapi.ParamChangeNotification{Index: 0, Value: 0.1}))
	require.True(t, r.Push(pluginapi.ParamChangeNotification{Index: 1, Value: 0.2}))
	require.False(t, r.Push(pluginapi.ParamChangeNotification{Index: 2, Value: 0.3})) // overflow drops index 0

	drained := r.Drain()
	require.Len(t, drained, 2)
	require.EqualValues(t, 1, drained[0].Index)
	require.EqualValues(t, 2, drained[1].Index)
}

func TestServer_GetVersionOverControlPipe(t *testing.T) {
	_, names := newLoopbackTransport(t)

	// Opening the request/response FIFO pair blocks each side until the
	// other has opened its matching end, so both peers must open
	// concurrently, mirroring the real client-spawns-helper sequence (§4.3).
	var clientSide, serverSide *transport.Transport
	var clientErr, serverErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		clientSide, clientErr = transport.OpenPeer(names, 2048, 4*256*4, 2*time.Second, false)
	}()
	go func() {
		defer wg.Done()
		serverSide, serverErr = transport.OpenPeer(names, 2048, 4*256*4, 2*time.Second, true)
	}()
	wg.Wait()
	require.NoError(t, clientErr)
	require.NoError(t, serverErr)
	t.Cleanup(func() { clientSide.Close() })
	t.Cleanup(func() { serverSide.Close() })

	plugin := &fakePlugin{name: "Loopback", maker: "Test", version: "1.0", inputs: 2, outputs: 2}
	srv, err := New(plugin, []paramstate.Info{{Index: 0, Name: "gain", MinValue: 0, MaxValue: 1, DefaultValue: 0.5}},
		serverSide, config.Defaults(), rlog.New("test-server"), nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := srv.DispatchControl(2 * time.Second)
		done <- err
	}()

	require.NoError(t, codec.WriteOpcode(clientRequest{clientSide}, int32(protocol.OpGetVersion)))
	got, err := codec.ReadString(clientRequest{clientSide})
	require.NoError(t, err)
	require.Equal(t, "1.0", got)
	require.NoError(t, <-done)
}

// clientRequest adapts Transport.Pipes' client-side WriteRequest/ReadResponse
// to codec.ByteWriter/ByteReader for this test, matching pkg/client's own
// requestAdapter shim.
type clientRequest struct {
	t *transport.Transport
}

func (c clientRequest) WriteN(p []byte) error       { return c.t.Pipes.WriteRequest(p) }
func (c clientRequest) ReadN(n int) ([]byte, error) { return c.t.Pipes.ReadResponse(n) }

func TestWatchdog_TripCancelsProcessContextAndInvokesExitFunc(t *testing.T) {
	owner, _ := newLoopbackTransport(t)

	plugin := &fakePlugin{name: "Watched", maker: "Test", version: "1.0", inputs: 1, outputs: 1}
	tunables := config.Defaults()
	tunables.WatchdogPeriod = 5 * time.Millisecond
	tunables.WatchdogThreshold = 2

	srv, err := New(plugin, []paramstate.Info{{Index: 0, Name: "gain", MinValue: 0, MaxValue: 1, DefaultValue: 0.5}},
		owner, tunables, rlog.New("test-watchdog"), nil)
	require.NoError(t, err)

	exited := make(chan int, 1)
	srv.exitFunc = func(code int) { exited <- code }

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go srv.Watchdog(ctx)

	select {
	case code := <-exited:
		require.Equal(t, 1, code)
	case <-time.After(time.Second):
		t.Fatal("watchdog did not trip in time")
	}

	require.True(t, srv.IsExiting())
	require.Error(t, srv.processCtx.Err())
}

func TestMonitorEdits_DetectsPluginDrivenParameterChange(t *testing.T) {
	owner, _ := newLoopbackTransport(t)

	plugin := &fakePlugin{name: "Edited", maker: "Test", version: "1.0", inputs: 1, outputs: 1, lastParamValue: 0.5}
	srv, err := New(plugin, []paramstate.Info{{Index: 0, Name: "gain", MinValue: 0, MaxValue: 1, DefaultValue: 0.5}},
		owner, config.Defaults(), rlog.New("test-monitor-edits"), nil)
	require.NoError(t, err)
	require.NotNil(t, plugin.editGesture)
	require.Equal(t, pluginapi.EditBatchNone, srv.EditBatch())

	plugin.editGesture(true)
	plugin.lastParamValue = 0.9 // the plugin's own editor moved the value, bypassing SetParameter
	srv.MonitorEdits()

	drained := srv.notifications.Drain()
	require.Len(t, drained, 1)
	require.EqualValues(t, 0, drained[0].Index)
	require.Equal(t, float32(0.9), drained[0].Value)

	plugin.editGesture(false)
	srv.MonitorEdits() // one more scan while Finished...
	srv.MonitorEdits() // ...then back to None
	require.Equal(t, pluginapi.EditBatchNone, srv.EditBatch())
}
