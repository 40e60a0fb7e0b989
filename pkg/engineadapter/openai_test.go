package engineadapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelgateway/inference-gateway/pkg/gwtypes"
)

func TestOpenAICompatibleLoadUnloadTracksBookkeeping(t *testing.T) {
	a := NewOpenAICompatible(nil, "http://127.0.0.1:0", "", nil)

	loaded, err := a.ListLoaded(t.Context())
	require.NoError(t, err)
	require.Empty(t, loaded)

	require.NoError(t, a.Load(t.Context(), "m1", LoadParams{}))
	loaded, err = a.ListLoaded(t.Context())
	require.NoError(t, err)
	require.Contains(t, loaded, "m1")
	require.Len(t, loaded, 1)

	require.NoError(t, a.Unload(t.Context(), "m1"))
	loaded, err = a.ListLoaded(t.Context())
	require.NoError(t, err)
	require.Empty(t, loaded)
}

func TestOpenAICompatibleNameReportsBackendKind(t *testing.T) {
	a := NewOpenAICompatible(nil, "http://127.0.0.1:0", "", nil)
	require.Equal(t, "openai-compatible", a.Name())
}

func TestClassifyHTTPErrMapsDeadlineExceededToTimeout(t *testing.T) {
	err := classifyHTTPErr(context.DeadlineExceeded)
	require.NotNil(t, err)
	require.Equal(t, gwtypes.EngineErrorTimeout, err.Kind)
}

func TestClassifyHTTPErrNilIsNil(t *testing.T) {
	require.Nil(t, classifyHTTPErr(nil))
}

func TestClassifyHTTPErrDefaultsToUnreachable(t *testing.T) {
	err := classifyHTTPErr(errors.New("connection reset"))
	require.NotNil(t, err)
	require.Equal(t, gwtypes.EngineErrorUnreachable, err.Kind)
}
