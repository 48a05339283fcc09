package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachPacketRoundTrip(t *testing.T) {
	p := AttachPacket{
		ProtocolVersion: ProtocolVersion,
		RedrawMethod:    RedrawCtrlL,
		Rows:            24,
		Cols:            80,
		XPixels:         640,
		YPixels:         480,
	}

	var buf bytes.Buffer
	require.NoError(t, WriteAttachPacket(&buf, p))

	got, err := ReadAttachPacket(&buf)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestWinsizeRoundTrip(t *testing.T) {
	ws := Winsize{Rows: 50, Cols: 132, XPixels: 0, YPixels: 0}
	payload := EncodeWinsize(ws)
	got, err := DecodeWinsize(payload)
	require.NoError(t, err)
	assert.Equal(t, ws, got)
}

func TestDecodeWinsizeBadLength(t *testing.T) {
	_, err := DecodeWinsize([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, FrameData, []byte("hello\n")))
	require.NoError(t, WriteFrame(&buf, FrameDetach, nil))

	typ, payload, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, FrameData, typ)
	assert.Equal(t, []byte("hello\n"), payload)

	typ, payload, err = ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, FrameDetach, typ)
	assert.Nil(t, payload)
}

func TestReadFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	hdr := []byte{FrameData, 0xFF, 0xFF, 0xFF, 0xFF}
	buf.Write(hdr)
	_, _, err := ReadFrame(&buf)
	assert.Error(t, err)
}
