// Package ptyctl manages the pty pair and child process for one session:
// allocation, forking the child onto the pty slave as its controlling
// terminal, propagating window size, and reaping the child.
//
// Generalized from a hardcoded agent process to an arbitrary argv, and
// extended with explicit initial-termios handling: the original terminal's
// settings need to be applied to the slave before the child execs, which
// pty.Start's own convenience wrapper doesn't allow for.
package ptyctl

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"

	"github.com/ianremillard/duach/internal/errs"
	"github.com/ianremillard/duach/internal/ptyctl/termios"
)

// Winsize mirrors pty.Winsize so callers outside this package don't need to
// import creack/pty directly.
type Winsize = pty.Winsize

// Child owns the pty master end and the spawned process. All methods are
// safe to call from the single goroutine that owns a Session; Child does
// not lock internally.
type Child struct {
	ptm *os.File
	cmd *exec.Cmd
}

// Open allocates a pty pair, applies initialTerm (or a zeroed termios if
// !initialTerm.Valid(), matching a detached start with no controlling
// terminal) and initialSize to the slave/master, spawns argv on the slave
// as its controlling terminal, and closes the slave in this process.
//
// An empty argv returns an error wrapping errs.UsageError; any other failure
// wraps errs.PtyUnavailable (pty setup) or errs.ExecFailed (starting argv).
func Open(argv []string, initialSize Winsize, initialTerm termios.State) (*Child, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: empty argv", errs.UsageError)
	}

	ptm, pts, err := pty.Open()
	if err != nil {
		return nil, errs.Fatal(errs.PtyUnavailable, "pty.Open")
	}

	if err := termios.Apply(int(pts.Fd()), initialTerm); err != nil {
		ptm.Close()
		pts.Close()
		return nil, errs.Fatal(errs.PtyUnavailable, "applying initial termios")
	}
	if err := pty.Setsize(ptm, &initialSize); err != nil {
		ptm.Close()
		pts.Close()
		return nil, errs.Fatal(errs.PtyUnavailable, "setting initial winsize")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = pts
	cmd.Stdout = pts
	cmd.Stderr = pts
	// New session + acquire the slave as controlling terminal (Ctty indexes
	// into {Stdin,Stdout,Stderr,ExtraFiles}; 0 selects Stdin, which is pts).
	// This is the dtach-specific half of what pty.Start does automatically;
	// spelled out here because Open applies termios before Start, which
	// pty.Start's own convenience wrapper doesn't allow for.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
		Ctty:    0,
	}

	if err := cmd.Start(); err != nil {
		ptm.Close()
		pts.Close()
		// Go's os/exec synchronizes a fork/exec failure back to the parent
		// before Start returns, so there is no separate child process to
		// write a stderr diagnostic and exit 127 the way dtach's C child
		// does; the caller (master_main) observes the same net effect —
		// startup fails and the socket is unlinked.
		return nil, errs.Fatal(errs.ExecFailed, "starting %v", argv)
	}
	pts.Close() // parent no longer needs the slave end

	return &Child{ptm: ptm, cmd: cmd}, nil
}

// SetWinsize applies a new size to the pty master, which delivers SIGWINCH
// to the child's foreground process group.
func (c *Child) SetWinsize(ws Winsize) error {
	return pty.Setsize(c.ptm, &ws)
}

// ReadFrom reads up to len(buf) bytes from the pty master. EOF or EIO
// indicates the slave side closed (the child exited) and is treated as
// end-of-session.
func (c *Child) ReadFrom(buf []byte) (int, error) {
	n, err := c.ptm.Read(buf)
	if err != nil && err != io.EOF {
		if pathErr, ok := err.(*os.PathError); ok && pathErr.Err == syscall.EIO {
			return n, io.EOF
		}
	}
	return n, err
}

// Write writes to the pty master (client keystrokes bound for the child).
func (c *Child) Write(p []byte) (int, error) {
	return c.ptm.Write(p)
}

// Wait reaps the child, blocking until it exits. Returns the process exit
// code, or -1 if the process was killed by a signal without a translatable
// exit code.
func (c *Child) Wait() int {
	err := c.cmd.Wait()
	c.ptm.Close()
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

// Kill terminates the child's entire process group (it is its own session
// leader after Setsid, so pid == pgid) and closes the pty master. Safe to
// call more than once.
func (c *Child) Kill() {
	if c.cmd.Process != nil {
		pgid, err := syscall.Getpgid(c.cmd.Process.Pid)
		if err == nil && pgid > 0 {
			syscall.Kill(-pgid, syscall.SIGKILL)
		} else {
			c.cmd.Process.Kill()
		}
	}
	c.ptm.Close()
}

// Pid returns the child's process ID.
func (c *Child) Pid() int {
	if c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}
