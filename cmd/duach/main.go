// Command duach is a minimal terminal session detacher: a long-lived
// master process runs a child program under a pty, and one or more attach
// clients connect over a local Unix-domain socket to become its interactive
// front-end.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"github.com/ianremillard/duach/internal/attach"
	"github.com/ianremillard/duach/internal/config"
	"github.com/ianremillard/duach/internal/errs"
	"github.com/ianremillard/duach/internal/master"
	"github.com/ianremillard/duach/internal/ptyctl"
	"github.com/ianremillard/duach/internal/ptyctl/termios"
	"github.com/ianremillard/duach/internal/wire"
)

const progName = "duach"

// masterEnv is the hidden internal flag a re-exec'd copy of this binary
// looks for to become the detached master instead of parsing argv as a
// normal CLI invocation, turning a single binary into both a CLI and its
// own daemon.
const masterEnv = "DUACH_MASTER_SOCKET"

// masterTTYEnv marks that fd 3 of the re-exec'd master is a duplicate of
// the invoking terminal, inherited via exec.Cmd.ExtraFiles so the detached
// process can still capture the original termios/winsize to pass to the
// child, even though its own stdio is redirected to /dev/null.
const masterTTYEnv = "DUACH_MASTER_TTY"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if sock := os.Getenv(masterEnv); sock != "" {
		return runMasterProcess(sock)
	}

	opts, err := parseArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progName, err)
		fmt.Fprintf(os.Stderr, "Try '%s --help' for more information.\n", progName)
		return 1
	}
	if opts.help {
		printUsage(os.Stdout)
		return 0
	}
	if opts.version {
		fmt.Println(progName + " - version 1.0")
		return 0
	}

	sockPath, err := config.ResolveSocketPath(opts.socket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progName, err)
		return 1
	}

	if err := applyRC(&opts); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progName, err)
		return 1
	}
	if opts.mode != modeAttach && len(opts.argv) == 0 {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progName, fmt.Errorf("%w: no command was specified", errs.UsageError))
		fmt.Fprintf(os.Stderr, "Try '%s --help' for more information.\n", progName)
		return 1
	}

	switch opts.mode {
	case modeAttach:
		return doAttach(sockPath, opts, false)

	case modeCreate:
		if err := requireNewSocket(sockPath); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", progName, err)
			return errs.ExitCode(err)
		}
		return doCreate(sockPath, opts)

	case modeNoAttach:
		if err := requireNewSocket(sockPath); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", progName, err)
			return errs.ExitCode(err)
		}
		code, err := spawnDetachedMaster(sockPath, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", progName, err)
			return errs.ExitCode(err)
		}
		return code

	case modeAttachOrCreate:
		code := doAttach(sockPath, opts, true)
		if code != attachRetryCode {
			return code
		}
		return doCreate(sockPath, opts)
	}

	return 1
}

// attachRetryCode is returned internally by doAttach(..., recoverable=true)
// to tell the caller the socket was missing or refused and mode -A should
// fall back to creating a new master.
const attachRetryCode = -1

// applyRC loads ~/.duachrc (a missing file is not an error) and layers its
// defaults under whatever the CLI flags already set: flags always win.
// detachChar and redrawMethod use the "not explicitly given" signal left by
// parseArgs (detachCharExplicit, and the RedrawUnspecified sentinel) to
// decide whether rc gets to supply a value; an omitted command falls back
// to rc's default_command.
func applyRC(opts *cliOptions) error {
	rc, err := config.LoadRC()
	if err != nil {
		return err
	}

	if !opts.detachCharExplicit {
		if rc.DisableDetach {
			opts.detachChar = config.NoDetachChar
		} else if rc.DetachChar != "" {
			dc, err := config.ParseDetachChar(rc.DetachChar)
			if err != nil {
				return fmt.Errorf("~/.duachrc: %w", err)
			}
			opts.detachChar = dc
		}
	}

	if opts.redrawMethod == wire.RedrawUnspecified && rc.RedrawMethod != "" {
		rm, err := config.ParseRedrawMethod(rc.RedrawMethod)
		if err != nil {
			return fmt.Errorf("~/.duachrc: %w", err)
		}
		opts.redrawMethod = rm
	}

	if rc.NoSuspend {
		opts.noSuspend = true
	}

	if opts.mode != modeAttach && len(opts.argv) == 0 {
		opts.argv = rc.DefaultArgv()
	}

	return nil
}

func doAttach(sockPath string, opts cliOptions, recoverable bool) int {
	cfg := config.AttachConfig{
		SocketPath:       sockPath,
		DetachChar:       opts.detachChar,
		RedrawMethod:     opts.redrawMethod,
		NoSuspend:        opts.noSuspend,
		NoErrorIfMissing: recoverable,
	}
	code, err := attach.Run(cfg)
	if err != nil {
		if recoverable && (isErr(err, errs.SocketMissing) || isErr(err, errs.SocketRefused)) {
			if isErr(err, errs.SocketRefused) {
				os.Remove(sockPath) // stale socket; safe to unlink before recreating
			}
			return attachRetryCode
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", progName, err)
		return errs.ExitCode(err)
	}
	return code
}

func doCreate(sockPath string, opts cliOptions) int {
	code, err := spawnDetachedMaster(sockPath, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progName, err)
		return errs.ExitCode(err)
	}
	return doAttach(sockPath, opts, false)
}

// requireNewSocket enforces I1 ahead of spawning: -c and -n both demand a
// new master (unlike -A, which is explicitly allowed to join an existing
// one). The re-exec'd master's own bind() would eventually reject a live
// socket with SocketInUse too, but that process's stderr is /dev/null
// (spawnDetachedMaster) and pingUntilReady only checks whether *some*
// master answers, so without this check -c/-n would silently attach to (or
// report success for) a session the caller didn't ask to join.
func requireNewSocket(sockPath string) error {
	if probeDial(sockPath) {
		return fmt.Errorf("%w: %s", errs.SocketInUse, sockPath)
	}
	return nil
}

// spawnDetachedMaster re-execs this binary with masterEnv set, waits for the
// socket to come up (ensureDaemon's poll-until-ready loop), and returns.
// The caller attaches separately (-c/-A) or, for -n, not at all.
func spawnDetachedMaster(sockPath string, opts cliOptions) (int, error) {
	self, err := os.Executable()
	if err != nil {
		return 1, err
	}

	cmd := exec.Command(self, opts.argv...)
	env := append(os.Environ(), masterEnv+"="+sockPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 1, err
	}
	defer devnull.Close()
	cmd.Stdin = devnull
	cmd.Stdout = devnull
	cmd.Stderr = devnull

	if isatty.IsTerminal(os.Stdin.Fd()) {
		cmd.ExtraFiles = []*os.File{os.Stdin}
		env = append(env, masterTTYEnv+"=1")
	}
	cmd.Env = env

	if err := cmd.Start(); err != nil {
		return 1, errs.Fatal(errs.ForkFailed, "re-exec for detached master")
	}
	cmd.Process.Release()

	if !pingUntilReady(sockPath, 2*time.Second) {
		return 1, fmt.Errorf("%w: master did not come up at %s", errs.SocketRefused, sockPath)
	}
	return 0, nil
}

// pingUntilReady polls sockPath for a dialable listener.
func pingUntilReady(sockPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if probeDial(sockPath) {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// runMasterProcess is the body of the re-exec'd detached process: it never
// returns to the original argv parsing, it only ever runs the master.
func runMasterProcess(sockPath string) int {
	argv := os.Args[1:]
	if len(argv) == 0 {
		return 1
	}

	initSize := ptyctl.Winsize{Rows: 24, Cols: 80}
	var initTerm termios.State
	if os.Getenv(masterTTYEnv) == "1" {
		// fd 3 is the invoking terminal, inherited via ExtraFiles; capture
		// its termios/winsize so the child sees the caller's real settings
		// even though this process's own stdio is /dev/null.
		const callerTTYFd = 3
		if t, err := termios.Capture(callerTTYFd); err == nil {
			initTerm = t
		}
		if cols, rows, err := term.GetSize(callerTTYFd); err == nil {
			initSize = ptyctl.Winsize{Rows: uint16(rows), Cols: uint16(cols)}
		}
	}

	replayBytes := config.DefaultReplayBytes
	queueBound := config.DefaultQueueBound
	// The master is a re-exec'd process (see masterEnv above), so it reloads
	// ~/.duachrc itself rather than having these threaded through the
	// environment from the parent's already-loaded copy.
	if rc, err := config.LoadRC(); err == nil {
		if rc.ReplayBytes > 0 {
			replayBytes = rc.ReplayBytes
		}
		if rc.QueueBound > 0 {
			queueBound = rc.QueueBound
		}
	}

	cfg := config.MasterConfig{
		SocketPath:   sockPath,
		Argv:         argv,
		ReplayBytes:  replayBytes,
		QueueBound:   queueBound,
		FinalFlushMS: config.DefaultFinalFlushMS,
	}

	code, err := master.Run(cfg, initSize, initTerm)
	if err != nil {
		return errs.ExitCode(err)
	}
	return code
}

func isErr(err, target error) bool {
	return errors.Is(err, target)
}
