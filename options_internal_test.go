package fspool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_ApplyPoolOptions_Defaults_Threads_When_Unset(t *testing.T) {
	t.Parallel()

	cfg := applyPoolOptions(nil)
	require.Equal(t, DefaultThreads, cfg.threads)
	require.Nil(t, cfg.executor)

	cfg = applyPoolOptions([]PoolOption{WithThreads(-3)})
	require.Equal(t, DefaultThreads, cfg.threads)

	cfg = applyPoolOptions([]PoolOption{WithThreads(9)})
	require.Equal(t, 9, cfg.threads)
}

func Test_ApplyWriteOptions_Defaults_To_Create_Write(t *testing.T) {
	t.Parallel()

	cfg := applyWriteOptions(nil)

	require.False(t, cfg.truncate)
	require.False(t, cfg.append)
	require.False(t, cfg.noCreate)
	require.EqualValues(t, 0o666, cfg.perm)
}

func Test_ApplyWriteOptions_Applies_All_Flags(t *testing.T) {
	t.Parallel()

	cfg := applyWriteOptions([]WriteOption{
		WithTruncate(),
		WithAppend(),
		WithNoCreate(),
		WithPerm(0o640),
	})

	require.True(t, cfg.truncate)
	require.True(t, cfg.append)
	require.True(t, cfg.noCreate)
	require.EqualValues(t, 0o640, cfg.perm)
}

func Test_ApplyReadOptions_Ignores_Nil_Options(t *testing.T) {
	t.Parallel()

	cfg := applyReadOptions([]ReadOption{nil, WithBufferSize(4096), nil, WithOwnedChunks()})

	require.Equal(t, 4096, cfg.bufferSize)
	require.True(t, cfg.ownedChunks)
}
