package ptyctl

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ianremillard/duach/internal/ptyctl/termios"
)

func TestOpenEmptyArgv(t *testing.T) {
	_, err := Open(nil, Winsize{Rows: 24, Cols: 80}, termios.State{})
	assert.Error(t, err)
}

func TestOpenWriteReadWait(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not on PATH")
	}
	raw := termios.Raw(termios.State{})
	child, err := Open([]string{"cat"}, Winsize{Rows: 24, Cols: 80}, raw)
	require.NoError(t, err)
	require.NotZero(t, child.Pid())

	_, err = child.Write([]byte("ping\n"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	done := make(chan struct{})
	var n int
	var readErr error
	go func() {
		n, readErr = child.ReadFrom(buf)
		close(done)
	}()

	select {
	case <-done:
		require.NoError(t, readErr)
		assert.Equal(t, "ping\n", string(buf[:n]))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for child echo")
	}

	// Closing stdin (by killing cat) should make Wait return promptly.
	child.Kill()
	code := child.Wait()
	assert.NotEqual(t, 0, code) // killed, not a clean exit
}

func TestSetWinsize(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not on PATH")
	}
	raw := termios.Raw(termios.State{})
	child, err := Open([]string{"cat"}, Winsize{Rows: 24, Cols: 80}, raw)
	require.NoError(t, err)
	defer child.Kill()

	require.NoError(t, child.SetWinsize(Winsize{Rows: 50, Cols: 120}))
}
