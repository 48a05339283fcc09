package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ianremillard/duach/internal/config"
	"github.com/ianremillard/duach/internal/wire"
)

func TestParseArgsAttach(t *testing.T) {
	opts, err := parseArgs([]string{"-a", "/tmp/t.sock"})
	require.NoError(t, err)
	assert.Equal(t, modeAttach, opts.mode)
	assert.Equal(t, "/tmp/t.sock", opts.socket)
	assert.Equal(t, config.DefaultDetachChar, opts.detachChar)
}

func TestParseArgsCreateWithCommand(t *testing.T) {
	opts, err := parseArgs([]string{"-c", "/tmp/t.sock", "/bin/bash", "-l"})
	require.NoError(t, err)
	assert.Equal(t, modeCreate, opts.mode)
	assert.Equal(t, []string{"/bin/bash", "-l"}, opts.argv)
}

func TestParseArgsOptionsBeforeCommand(t *testing.T) {
	opts, err := parseArgs([]string{"-n", "/tmp/t.sock", "-e", "^X", "-r", "winch", "-z", "/bin/cat"})
	require.NoError(t, err)
	assert.Equal(t, int('X'&0x1F), opts.detachChar)
	assert.Equal(t, wire.RedrawWinch, opts.redrawMethod)
	assert.True(t, opts.noSuspend)
	assert.Equal(t, []string{"/bin/cat"}, opts.argv)
}

func TestParseArgsDisableDetach(t *testing.T) {
	opts, err := parseArgs([]string{"-c", "/tmp/t.sock", "-E", "/bin/cat"})
	require.NoError(t, err)
	assert.Equal(t, config.NoDetachChar, opts.detachChar)
}

func TestParseArgsMissingMode(t *testing.T) {
	_, err := parseArgs([]string{})
	assert.Error(t, err)
}

func TestParseArgsMissingCommand(t *testing.T) {
	// Not a parse error by itself: ~/.duachrc may supply default_command.
	// run() is responsible for failing if neither flags nor rc supply one.
	opts, err := parseArgs([]string{"-c", "/tmp/t.sock"})
	require.NoError(t, err)
	assert.Empty(t, opts.argv)
}

func TestParseArgsHelpAndVersion(t *testing.T) {
	opts, err := parseArgs([]string{"--help"})
	require.NoError(t, err)
	assert.True(t, opts.help)

	opts, err = parseArgs([]string{"--version"})
	require.NoError(t, err)
	assert.True(t, opts.version)
}
