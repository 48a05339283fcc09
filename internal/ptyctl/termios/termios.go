// Package termios is a thin OS abstraction over a terminal's line
// discipline: acquiring the pty slave as a controlling terminal requires
// reading and restoring termios state directly, which isn't portable
// boilerplate and benefits from sitting behind a small, unit-testable
// surface rather than scattered ioctl calls.
//
// Capture, Apply and Raw are the only operations the rest of the module
// needs. The platform-specific ioctl request numbers live in
// termios_linux.go / termios_darwin.go.
package termios

import "golang.org/x/sys/unix"

// State is an opaque snapshot of a terminal's line discipline, suitable for
// Capture-ing from the controlling terminal at startup and Apply-ing to a
// freshly opened pty slave before the child execs, so the child inherits
// the original terminal's settings rather than the kernel's pty defaults.
type State struct {
	termios unix.Termios
	valid   bool
}

// Capture reads the current termios of fd. If fd is not a terminal, it
// returns a zero State with Valid() == false — the caller applies a zeroed
// termios in that case (a detached start with no controlling terminal).
func Capture(fd int) (State, error) {
	t, err := getTermios(fd)
	if err != nil {
		return State{}, err
	}
	return State{termios: *t, valid: true}, nil
}

// Valid reports whether this State was actually captured from a terminal.
func (s State) Valid() bool { return s.valid }

// Apply sets fd's termios to s. If s is the zero value (not captured from a
// real terminal), Apply sets a zeroed termios, matching dtach's own
// behavior when started without a controlling terminal.
func Apply(fd int, s State) error {
	return setTermios(fd, &s.termios)
}

// Raw mutates a copy of s into the "raw" mode the attach client's stdin
// needs: no canonical mode, no echo, no signal generation, no input
// translation, VMIN=1/VTIME=0, 8-bit clean. Returns only the new state to
// Apply; s itself is left unchanged, so the caller keeps it to restore later.
func Raw(s State) State {
	t := s.termios
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	return State{termios: t, valid: true}
}
