package client

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEndpoint_UnsetSizingFailsProcessFast(t *testing.T) {
	e := &Endpoint{blockSize: -1, inputCount: -1, outputCount: -1}
	err := e.Process(nil, nil)
	require.Error(t, err)
}

func TestEndpoint_InvalidInstanceShortCircuitsEveryMethod(t *testing.T) {
	e := &Endpoint{}
	e.invalidate(ErrInstanceInvalid)

	_, err := e.GetVersion()
	require.ErrorIs(t, err, ErrInstanceInvalid)

	require.ErrorIs(t, e.SetParameter(0, 0), ErrInstanceInvalid)
	require.ErrorIs(t, e.Process(nil, nil), ErrInstanceInvalid)
	require.NoError(t, e.Terminate()) // already invalid: Terminate is a no-op, not an error
}
