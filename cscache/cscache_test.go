package cscache

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreThenOpenRoundTrips(t *testing.T) {
	c, err := Open(t.TempDir())
	require.NoError(t, err)

	require.False(t, c.Has("group/pkg-1.0"))
	require.NoError(t, c.Store("group/pkg-1.0", strings.NewReader("changeset payload")))
	require.True(t, c.Has("group/pkg-1.0"))

	rc, err := c.Open("group/pkg-1.0")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "changeset payload", string(data))
}

func TestStoreSanitizesIdentifierForPath(t *testing.T) {
	c, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, c.Store("a/b", strings.NewReader("x")))
	require.NotContains(t, filepath.Base(c.Path("a/b")), "/")
}

func TestOpenDetectsCorruption(t *testing.T) {
	c, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, c.Store("pkg", strings.NewReader("original")))

	// Flip a byte in the payload without updating the CRC header.
	data, err := os.ReadFile(c.Path("pkg"))
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(c.Path("pkg"), data, 0644))

	_, err = c.Open("pkg")
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestStoreOverwritesExistingEntry(t *testing.T) {
	c, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, c.Store("pkg", strings.NewReader("first")))
	require.NoError(t, c.Store("pkg", strings.NewReader("second, longer payload")))

	rc, err := c.Open("pkg")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "second, longer payload", string(data))
}
