package attach

import (
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ianremillard/duach/internal/config"
	"github.com/ianremillard/duach/internal/wire"
)

func TestResolveDefaultRedraw(t *testing.T) {
	old := os.Getenv("TERM")
	defer os.Setenv("TERM", old)

	os.Setenv("TERM", "xterm-256color")
	assert.Equal(t, wire.RedrawCtrlL, resolveDefaultRedraw())

	os.Setenv("TERM", "screen-256color")
	assert.Equal(t, wire.RedrawWinch, resolveDefaultRedraw())

	os.Setenv("TERM", "tmux-256color")
	assert.Equal(t, wire.RedrawWinch, resolveDefaultRedraw())
}

func TestHandleStdinForwardsAndDetects(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	l := &loop{
		conn: client,
		cfg:  config.AttachConfig{DetachChar: 0x1C},
	}

	readCh := make(chan struct {
		typ     byte
		payload []byte
	}, 4)
	go func() {
		for {
			typ, payload, err := wire.ReadFrame(server)
			if err != nil {
				return
			}
			readCh <- struct {
				typ     byte
				payload []byte
			}{typ, payload}
		}
	}()

	done, code := l.handleStdin([]byte("hi"))
	assert.False(t, done)
	assert.Equal(t, 0, code)
	got := <-readCh
	assert.Equal(t, wire.FrameData, got.typ)
	assert.Equal(t, []byte("hi"), got.payload)

	done, code = l.handleStdin([]byte{0x1C})
	require.True(t, done)
	assert.Equal(t, 0, code)
	got = <-readCh
	assert.Equal(t, wire.FrameDetach, got.typ)
}
