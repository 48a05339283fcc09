// Package attach is the Attach Client: it connects to a running master over
// the session socket and becomes the interactive front-end for the child,
// until the user detaches, the session ends, or a fatal signal arrives.
//
// The copy loop is realized the same way internal/master's dispatcher is:
// one goroutine owns the terminal/socket state and a handful of worker
// goroutines (a stdin reader, a socket reader, signal delivery) only ever
// talk to it over channels. Those channels are this package's self-pipe.
package attach

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"github.com/ianremillard/duach/internal/config"
	"github.com/ianremillard/duach/internal/errs"
	"github.com/ianremillard/duach/internal/ptyctl/termios"
	"github.com/ianremillard/duach/internal/wire"
)

// Run implements attach_main: connect, hand off the terminal, run the copy
// loop until detach or end-of-session, and always restore the caller's
// terminal settings before returning.
func Run(cfg config.AttachConfig) (int, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return 1, errs.NoTerminal
	}

	orig, err := termios.Capture(int(os.Stdin.Fd()))
	if err != nil {
		return 1, fmt.Errorf("capturing terminal state: %w", err)
	}

	conn, err := net.Dial("unix", cfg.SocketPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 1, fmt.Errorf("%s: %w", cfg.SocketPath, errs.SocketMissing)
		}
		if isConnRefused(err) {
			return 1, fmt.Errorf("%s: %w", cfg.SocketPath, errs.SocketRefused)
		}
		return 1, err
	}
	defer conn.Close()

	redraw := cfg.RedrawMethod
	if redraw == wire.RedrawUnspecified {
		redraw = resolveDefaultRedraw()
	}

	// term.GetSize reports (width, height); AttachPacket wants (rows, cols).
	cols, rows, err := term.GetSize(int(os.Stdin.Fd()))
	if err != nil {
		rows, cols = 24, 80
	}
	pkt := wire.AttachPacket{
		ProtocolVersion: wire.ProtocolVersion,
		RedrawMethod:    redraw,
		Rows:            uint16(rows),
		Cols:            uint16(cols),
	}
	if err := wire.WriteAttachPacket(conn, pkt); err != nil {
		return 1, err
	}

	raw := termios.Raw(orig)
	if err := termios.Apply(int(os.Stdin.Fd()), raw); err != nil {
		return 1, fmt.Errorf("entering raw mode: %w", err)
	}
	defer termios.Apply(int(os.Stdin.Fd()), orig)

	l := newLoop(conn, cfg, orig)
	return l.run()
}

func resolveDefaultRedraw() byte {
	term := os.Getenv("TERM")
	if strings.HasPrefix(term, "screen") || strings.HasPrefix(term, "tmux") {
		return wire.RedrawWinch
	}
	return wire.RedrawCtrlL
}

func isConnRefused(err error) bool {
	return strings.Contains(err.Error(), "connection refused")
}

// loop owns the copy-loop state: the only goroutine that touches it is run.
type loop struct {
	conn   net.Conn
	cfg    config.AttachConfig
	orig   termios.State
	raw    termios.State
	stdin  chan []byte
	sock   chan sockEvent
	sigCh  chan os.Signal
	resume chan struct{}
}

type sockEvent struct {
	data []byte
	err  error
}

func newLoop(conn net.Conn, cfg config.AttachConfig, orig termios.State) *loop {
	return &loop{
		conn:   conn,
		cfg:    cfg,
		orig:   orig,
		raw:    termios.Raw(orig),
		stdin:  make(chan []byte, 8),
		sock:   make(chan sockEvent, 8),
		sigCh:  make(chan os.Signal, 8),
		resume: make(chan struct{}, 1),
	}
}

func (l *loop) run() int {
	signal.Notify(l.sigCh, syscall.SIGWINCH, syscall.SIGINT, syscall.SIGHUP,
		syscall.SIGTERM, syscall.SIGCONT, syscall.SIGTSTP)
	defer signal.Stop(l.sigCh)

	go l.readStdin()
	go l.readSocket()

	for {
		select {
		case chunk := <-l.stdin:
			if done, code := l.handleStdin(chunk); done {
				return code
			}

		case ev := <-l.sock:
			if ev.err != nil {
				return 0 // end of session; no exit-status framing on this path
			}
			os.Stdout.Write(ev.data)

		case sig := <-l.sigCh:
			if done, code := l.handleSignal(sig); done {
				return code
			}
		}
	}
}

func (l *loop) readStdin() {
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			l.stdin <- chunk
		}
		if err != nil {
			return
		}
	}
}

func (l *loop) readSocket() {
	buf := make([]byte, 4096)
	for {
		n, err := l.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			l.sock <- sockEvent{data: chunk}
		}
		if err != nil {
			l.sock <- sockEvent{err: err}
			return
		}
	}
}

// handleStdin scans one chunk for the detach/suspend control bytes, splits
// at the first one found, forwards the rest, and acts on the control byte.
func (l *loop) handleStdin(chunk []byte) (done bool, code int) {
	detach := l.cfg.DetachChar
	suspend := -1
	if !l.cfg.NoSuspend {
		suspend = int(suspendChar)
	}

	start := 0
	for i, b := range chunk {
		ib := int(b)
		if ib == detach || ib == suspend {
			if i > start {
				l.send(chunk[start:i])
			}
			if ib == detach {
				wire.WriteFrame(l.conn, wire.FrameDetach, nil)
				termios.Apply(int(os.Stdin.Fd()), l.orig)
				return true, 0
			}
			l.doSuspend()
			start = i + 1
		}
	}
	if start < len(chunk) {
		l.send(chunk[start:])
	}
	return false, 0
}

func (l *loop) send(b []byte) {
	wire.WriteFrame(l.conn, wire.FrameData, b)
}

// doSuspend restores the caller's original terminal settings, stops this
// process, and re-enters raw mode once a SIGCONT wakes it back up.
func (l *loop) doSuspend() {
	termios.Apply(int(os.Stdin.Fd()), l.orig)
	syscall.Kill(os.Getpid(), syscall.SIGSTOP)
	termios.Apply(int(os.Stdin.Fd()), l.raw)
	l.sendWinsize()
	wire.WriteFrame(l.conn, wire.FrameRedraw, nil)
}

func (l *loop) handleSignal(sig os.Signal) (done bool, code int) {
	switch sig {
	case syscall.SIGWINCH:
		l.sendWinsize()

	case syscall.SIGINT:
		// Passthrough: raw mode already forwards ^C as a byte to the child
		// via its own line discipline; a process-level SIGINT here is a
		// no-op so it isn't treated as anything special.

	case syscall.SIGHUP, syscall.SIGTERM:
		wire.WriteFrame(l.conn, wire.FrameDetach, nil)
		termios.Apply(int(os.Stdin.Fd()), l.orig)
		return true, 0

	case syscall.SIGCONT:
		// Only meaningful after an external SIGTSTP stopped the process
		// outside of doSuspend's own SIGCONT wait; re-sync state the same
		// way doSuspend does on resume.
		termios.Apply(int(os.Stdin.Fd()), l.raw)
		l.sendWinsize()
		wire.WriteFrame(l.conn, wire.FrameRedraw, nil)

	case syscall.SIGTSTP:
		if !l.cfg.NoSuspend {
			l.doSuspend()
		}
	}
	return false, 0
}

func (l *loop) sendWinsize() {
	cols, rows, err := term.GetSize(int(os.Stdin.Fd()))
	if err != nil {
		return
	}
	payload := wire.EncodeWinsize(wire.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	wire.WriteFrame(l.conn, wire.FrameWinsize, payload)
}

// suspendChar is stty's conventional susp character, ^Z.
const suspendChar = 0x1A
