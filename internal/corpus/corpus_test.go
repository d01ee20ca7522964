package corpus

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"netfuzz/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeInputs(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeInputs(t, dir, map[string]string{
		"b.bin":          "bbb",
		"a.bin":          "aaa",
		"sub/c.bin":      "ccc",
		".hidden":        "nope",
		".git/objects/x": "nope",
	})

	c, err := Load(context.Background(), dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Equal(t, 3, c.Len())
	assert.Equal(t, Input{"a.bin", []byte("aaa")}, c.Get(0))
	assert.Equal(t, "b.bin", c.Get(1).Name)
	assert.Equal(t, "sub/c.bin", c.Get(2).Name)
}

func TestLoadEmpty(t *testing.T) {
	dir := t.TempDir()
	writeInputs(t, dir, map[string]string{".only-hidden": "x"})

	_, err := Load(context.Background(), dir, zaptest.NewLogger(t))
	require.ErrorIs(t, err, ErrEmptyCorpus)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope"), zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestLoadTarGz(t *testing.T) {
	src := t.TempDir()
	writeInputs(t, src, map[string]string{"one": "1", "two": "22"})
	archive := filepath.Join(t.TempDir(), "seeds.tar.gz")
	require.NoError(t, utils.CompressTarGz(context.Background(), src, archive))
	require.True(t, utils.IsTarGz(archive))

	c, err := Load(context.Background(), archive, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())
	assert.Equal(t, []byte("22"), c.Get(1).Data)
}

func TestLoadPlainFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.bin")
	require.NoError(t, os.WriteFile(path, []byte("plain"), 0644))

	_, err := Load(context.Background(), path, zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestPickDeterministic(t *testing.T) {
	inputs := make([]Input, 10)
	for i := range inputs {
		inputs[i] = Input{Name: string(rune('a' + i))}
	}
	c, err := New(inputs)
	require.NoError(t, err)

	pick := func(seed int64) []string {
		rng := rand.New(rand.NewSource(seed))
		var names []string
		for range 20 {
			names = append(names, c.Pick(rng).Name)
		}
		return names
	}
	assert.Equal(t, pick(7), pick(7))
	assert.NotEqual(t, pick(7), pick(8))
}
