package filex

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) func() {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	return func() { _ = os.Chdir(old) }
}

func TestEnsureDir_RelativeResolvesAgainstCWD(t *testing.T) {
	tmp := t.TempDir()
	defer chdir(t, tmp)()

	got, err := EnsureDir("spool")
	require.NoError(t, err)

	want := filepath.Join(tmp, "spool")
	require.Equal(t, want, got)

	fi, err := os.Stat(want)
	require.NoError(t, err)
	require.True(t, fi.IsDir(), "should create a directory")

	if runtime.GOOS != "windows" {
		perm := fi.Mode().Perm()
		require.Equal(t, os.FileMode(0o700), perm&0o700)
	}
}

func TestEnsureDir_AbsoluteAndIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")

	first, err := EnsureDir(dir)
	require.NoError(t, err)
	second, err := EnsureDir(dir)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestEnsureDir_FailsIfFileWithSameNameExists(t *testing.T) {
	tmp := t.TempDir()
	defer chdir(t, tmp)()

	require.NoError(t, os.WriteFile("spool", []byte("x"), 0o660))

	_, err := EnsureDir("spool")
	require.Error(t, err, "should fail when a file exists with the same name")
}

func TestSpoolCopy(t *testing.T) {
	spool := t.TempDir()
	src := filepath.Join(t.TempDir(), "Photo.JPG")
	require.NoError(t, os.WriteFile(src, []byte("jpeg bytes"), 0o644))

	a, err := SpoolCopy(spool, src)
	require.NoError(t, err)
	b, err := SpoolCopy(spool, src)
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "each copy gets its own name")
	assert.Equal(t, spool, filepath.Dir(a))
	assert.Equal(t, ".jpg", filepath.Ext(a))

	data, err := os.ReadFile(a)
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(data))

	// source is untouched
	_, err = os.Stat(src)
	require.NoError(t, err)
}

func TestSpoolCopy_MissingSource(t *testing.T) {
	spool := t.TempDir()
	_, err := SpoolCopy(spool, filepath.Join(spool, "nope.jpg"))
	require.Error(t, err)

	entries, err := os.ReadDir(spool)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDigest(t *testing.T) {
	p := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(p, []byte("abc"), 0o600))

	d1, err := Digest(p)
	require.NoError(t, err)
	assert.Len(t, d1, 64)

	require.NoError(t, os.WriteFile(p, []byte("abd"), 0o600))
	d2, err := Digest(p)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d2)

	_, err = Digest(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestRemoveIfExists(t *testing.T) {
	p := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(p, nil, 0o600))

	require.NoError(t, RemoveIfExists(p))
	require.NoError(t, RemoveIfExists(p))

	_, err := os.Stat(p)
	assert.True(t, os.IsNotExist(err))
}
