package watchdog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWatchNewFiles(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan string, 16)
	wd, err := NewWatchDogFactory(zaptest.NewLogger(t)).New(ctx, ch, func(path string) bool {
		return strings.HasSuffix(path, ".ffw")
	})
	require.NoError(t, err)
	require.NoError(t, wd.AddDir(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "1.txt"), []byte("x"), 0644))
	tmp := filepath.Join(dir, ".1.ffw.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("x"), 0644))
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, "1.ffw")))

	select {
	case got := <-ch:
		assert.Equal(t, "1.ffw", filepath.Base(got))
	case <-time.After(10 * time.Second):
		t.Fatal("no notification")
	}

	cancel()
	for range ch {
		// drained until the watcher closes the channel
	}
}

func TestAddMissingDir(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wd, err := NewWatchDogFactory(zaptest.NewLogger(t)).New(ctx, make(chan string), nil)
	require.NoError(t, err)
	assert.Error(t, wd.AddDir(filepath.Join(t.TempDir(), "missing")))
}
