package database

import (
	"testing"

	"netfuzz/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestFramesValueScan(t *testing.T) {
	frames := Frames{"in main main.c:1", "0x55cf04 (bin+0x55cf04)"}
	v, err := frames.Value()
	require.NoError(t, err)

	var got Frames
	require.NoError(t, got.Scan(v))
	assert.Equal(t, frames, got)

	require.NoError(t, got.Scan(`["a"]`))
	assert.Equal(t, Frames{"a"}, got)

	require.NoError(t, got.Scan(nil))
	assert.Nil(t, got)

	assert.Error(t, got.Scan(42))

	v, err = Frames(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestNewCrash(t *testing.T) {
	c := NewCrash("run", "0-17", "radamsa", "/bin/client", "HeapBufferOverflow", 0x60200000eed8, 6, "/out/0-17.ffw", []string{"in main"})
	assert.Equal(t, "0x60200000eed8", c.FaultAddress)
	assert.Equal(t, Frames{"in main"}, c.Backtrace)
	assert.False(t, c.CreatedAt.IsZero())
}

func TestOptionalBackends(t *testing.T) {
	cfg := config.Default()
	logger := zaptest.NewLogger(t)

	assert.Nil(t, NewDBConnection(cfg, logger))

	client, err := NewRedisClient(RedisParams{Config: cfg, Logger: logger})
	require.NoError(t, err)
	assert.Nil(t, client)
}
