package clip

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrySharesEngine(t *testing.T) {
	rt := newFakeRuntime()
	reg := NewRegistry(testDeps(rt))
	defer reg.Close()
	opts := testOptions(modelDir(t))

	h1, err := reg.Acquire(context.Background(), opts)
	require.NoError(t, err)
	h2, err := reg.Acquire(context.Background(), opts)
	require.NoError(t, err)

	assert.Same(t, h1.Engine(), h2.Engine())
	assert.Equal(t, 1, rt.openCount())

	h1.Release()
	h1.Release()
	h2.Release()
	assert.Equal(t, 0, rt.closedCount())
}

func TestRegistryReplacesOnOptionChange(t *testing.T) {
	rt := newFakeRuntime()
	reg := NewRegistry(testDeps(rt))
	opts := testOptions(modelDir(t))

	old, err := reg.Acquire(context.Background(), opts)
	require.NoError(t, err)

	opts.PoolSize = 2
	next, err := reg.Acquire(context.Background(), opts)
	require.NoError(t, err)
	assert.NotSame(t, old.Engine(), next.Engine())
	assert.Equal(t, 3, rt.openCount())

	// The retired engine stays usable until its holder releases it.
	_, err = old.Engine().Classify(context.Background(), pixelsFor(0, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 0, rt.closedCount())

	old.Release()
	assert.Equal(t, 1, rt.closedCount())

	next.Release()
	reg.Close()
	assert.Equal(t, 3, rt.closedCount())

	_, err = reg.Acquire(context.Background(), opts)
	assert.ErrorIs(t, err, ErrRegistryClosed)
}

func TestRegistryKeepsEngineOnBuildFailure(t *testing.T) {
	rt := newFakeRuntime()
	reg := NewRegistry(testDeps(rt))
	defer reg.Close()
	opts := testOptions(modelDir(t))

	h, err := reg.Acquire(context.Background(), opts)
	require.NoError(t, err)
	defer h.Release()

	bad := opts
	bad.ModelFile = "onnx/absent.onnx"
	_, err = reg.Acquire(context.Background(), bad)
	require.Error(t, err)

	again, err := reg.Acquire(context.Background(), opts)
	require.NoError(t, err)
	defer again.Release()
	assert.Same(t, h.Engine(), again.Engine())
}
