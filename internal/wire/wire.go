// Package wire implements the framed protocol spoken between an attach
// client and the master over the session's Unix domain socket.
//
// After a client connects, it sends exactly one AttachPacket. From then on,
// client -> master traffic is framed ([1 byte type][4 byte big-endian
// length][payload]); master -> client traffic is an unframed byte stream
// (raw pty output), since the client never needs to find message
// boundaries in the child's own output. See DESIGN.md for why a framed
// handshake was chosen over an implicit one.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Redraw methods, wire-encoded as a single byte in AttachPacket.
const (
	RedrawNone        byte = 0
	RedrawCtrlL       byte = 1
	RedrawWinch       byte = 2
	RedrawUnspecified byte = 3
)

// ProtocolVersion is bumped whenever AttachPacket's wire layout changes.
const ProtocolVersion byte = 1

// Frame type discriminants for client -> master traffic.
const (
	FrameData    byte = 0x00
	FrameWinsize byte = 0x01
	FrameDetach  byte = 0x02
	// FrameRedraw carries no payload. A client sends it after resuming from
	// suspend, on SIGCONT, to ask the master to re-apply this connection's
	// redraw method without going through a full re-attach.
	FrameRedraw byte = 0x03
)

// maxFramePayload bounds a single frame's payload so a corrupt or hostile
// peer can't make ReadFrame allocate unbounded memory.
const maxFramePayload = 1 << 20

// AttachPacket is the first message an attach client sends, stating its
// window size and desired redraw policy.
type AttachPacket struct {
	ProtocolVersion byte
	RedrawMethod    byte
	Rows            uint16
	Cols            uint16
	XPixels         uint16
	YPixels         uint16
}

// attachPacketLen is the encoded size of AttachPacket: 2 header bytes + 4
// uint16 fields.
const attachPacketLen = 2 + 4*2

// WriteAttachPacket writes the handshake packet to w.
func WriteAttachPacket(w io.Writer, p AttachPacket) error {
	buf := make([]byte, attachPacketLen)
	buf[0] = p.ProtocolVersion
	buf[1] = p.RedrawMethod
	binary.BigEndian.PutUint16(buf[2:4], p.Rows)
	binary.BigEndian.PutUint16(buf[4:6], p.Cols)
	binary.BigEndian.PutUint16(buf[6:8], p.XPixels)
	binary.BigEndian.PutUint16(buf[8:10], p.YPixels)
	_, err := w.Write(buf)
	return err
}

// ReadAttachPacket reads the handshake packet from r.
func ReadAttachPacket(r io.Reader) (AttachPacket, error) {
	buf := make([]byte, attachPacketLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return AttachPacket{}, err
	}
	return AttachPacket{
		ProtocolVersion: buf[0],
		RedrawMethod:    buf[1],
		Rows:            binary.BigEndian.Uint16(buf[2:4]),
		Cols:            binary.BigEndian.Uint16(buf[4:6]),
		XPixels:         binary.BigEndian.Uint16(buf[6:8]),
		YPixels:         binary.BigEndian.Uint16(buf[8:10]),
	}, nil
}

// Winsize is carried inside a FrameWinsize frame's payload.
type Winsize struct {
	Rows    uint16
	Cols    uint16
	XPixels uint16
	YPixels uint16
}

// EncodeWinsize serializes a Winsize to a FrameWinsize payload.
func EncodeWinsize(ws Winsize) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint16(buf[0:2], ws.Rows)
	binary.BigEndian.PutUint16(buf[2:4], ws.Cols)
	binary.BigEndian.PutUint16(buf[4:6], ws.XPixels)
	binary.BigEndian.PutUint16(buf[6:8], ws.YPixels)
	return buf
}

// DecodeWinsize parses a FrameWinsize payload.
func DecodeWinsize(payload []byte) (Winsize, error) {
	if len(payload) != 8 {
		return Winsize{}, fmt.Errorf("wire: bad winsize payload length %d", len(payload))
	}
	return Winsize{
		Rows:    binary.BigEndian.Uint16(payload[0:2]),
		Cols:    binary.BigEndian.Uint16(payload[2:4]),
		XPixels: binary.BigEndian.Uint16(payload[4:6]),
		YPixels: binary.BigEndian.Uint16(payload[6:8]),
	}, nil
}

// WriteFrame writes a single framed client->master message to w.
func WriteFrame(w io.Writer, frameType byte, payload []byte) error {
	hdr := make([]byte, 5)
	hdr[0] = frameType
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if len(payload) > 0 {
		_, err := w.Write(payload)
		return err
	}
	return nil
}

// ReadFrame reads a single framed client->master message from r.
func ReadFrame(r io.Reader) (byte, []byte, error) {
	hdr := make([]byte, 5)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return 0, nil, err
	}
	frameType := hdr[0]
	n := binary.BigEndian.Uint32(hdr[1:])
	if n > maxFramePayload {
		return 0, nil, fmt.Errorf("wire: frame too large: %d bytes", n)
	}
	if n == 0 {
		return frameType, nil, nil
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return frameType, payload, nil
}
