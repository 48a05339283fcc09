package main

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ianremillard/duach/internal/config"
	"github.com/ianremillard/duach/internal/wire"
)

func writeRC(t *testing.T, content string) {
	t.Helper()
	homedir.DisableCache = true // re-read $HOME on every LoadRC call
	home := t.TempDir()
	t.Setenv("HOME", home)
	require.NoError(t, os.WriteFile(filepath.Join(home, ".duachrc"), []byte(content), 0o644))
}

func TestApplyRCFillsUnsetDefaults(t *testing.T) {
	writeRC(t, "detach_char: \"^]\"\nredraw_method: winch\ndefault_command: \"/bin/cat\"\n")

	opts := cliOptions{
		mode:         modeCreate,
		detachChar:   config.DefaultDetachChar,
		redrawMethod: wire.RedrawUnspecified,
	}
	require.NoError(t, applyRC(&opts))

	assert.Equal(t, 0x1D, opts.detachChar) // ^]
	assert.Equal(t, wire.RedrawWinch, opts.redrawMethod)
	assert.Equal(t, []string{"/bin/cat"}, opts.argv)
}

func TestApplyRCFlagsWinOverRC(t *testing.T) {
	writeRC(t, "detach_char: \"^]\"\nredraw_method: winch\n")

	opts := cliOptions{
		mode:               modeCreate,
		detachChar:         'x',
		detachCharExplicit: true,
		redrawMethod:       wire.RedrawNone,
		argv:               []string{"/bin/bash"},
	}
	require.NoError(t, applyRC(&opts))

	assert.Equal(t, int('x'), opts.detachChar)
	assert.Equal(t, wire.RedrawNone, opts.redrawMethod)
	assert.Equal(t, []string{"/bin/bash"}, opts.argv)
}

func TestApplyRCNoFileLeavesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	opts := cliOptions{
		mode:         modeNoAttach,
		detachChar:   config.DefaultDetachChar,
		redrawMethod: wire.RedrawUnspecified,
	}
	require.NoError(t, applyRC(&opts))

	assert.Equal(t, config.DefaultDetachChar, opts.detachChar)
	assert.Equal(t, wire.RedrawUnspecified, opts.redrawMethod)
	assert.Empty(t, opts.argv)
}

func TestRequireNewSocketAllowsAbsentSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "nope.sock")
	assert.NoError(t, requireNewSocket(sock))
}

func TestRequireNewSocketRejectsLiveSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "live.sock")
	l, err := net.Listen("unix", sock)
	require.NoError(t, err)
	defer l.Close()

	assert.Error(t, requireNewSocket(sock))
}
