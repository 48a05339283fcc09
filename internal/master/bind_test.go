package master

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindFreshSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "t.sock")
	l, err := bind(sock)
	require.NoError(t, err)
	defer l.Close()
	assert.FileExists(t, sock)
}

func TestBindStaleSocketReclaimed(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "stale.sock")
	require.NoError(t, os.WriteFile(sock, []byte("not a socket"), 0o644))

	l, err := bind(sock)
	require.NoError(t, err)
	defer l.Close()
}

func TestBindLiveSocketRefused(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "live.sock")
	l1, err := bind(sock)
	require.NoError(t, err)
	defer l1.Close()

	_, err = bind(sock)
	assert.Error(t, err)
}
