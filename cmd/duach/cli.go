package main

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/ianremillard/duach/internal/config"
	"github.com/ianremillard/duach/internal/errs"
	"github.com/ianremillard/duach/internal/wire"
)

type mode int

const (
	modeAttach mode = iota
	modeAttachOrCreate
	modeCreate
	modeNoAttach
)

type cliOptions struct {
	help    bool
	version bool

	mode   mode
	socket string
	argv   []string

	detachChar         int
	detachCharExplicit bool // true once -e/-E was seen, so rc defaults don't clobber it
	redrawMethod       byte
	noSuspend          bool
}

// parseArgs implements the short-mode-flag CLI, plus the --help/--version
// long forms carried over from the original dtach.
func parseArgs(args []string) (cliOptions, error) {
	opts := cliOptions{
		detachChar:   config.DefaultDetachChar,
		redrawMethod: wire.RedrawUnspecified,
	}

	// Mirrors the original dtach's own argument order exactly: mode flag,
	// then socket name, then -e/-E/-r/-z options, then (for every mode but
	// -a) the command and its arguments.
	if len(args) == 0 {
		return opts, fmt.Errorf("%w: no mode was specified", errs.UsageError)
	}
	switch args[0] {
	case "--help", "-h":
		opts.help = true
		return opts, nil
	case "--version":
		opts.version = true
		return opts, nil
	case "-a":
		opts.mode = modeAttach
	case "-A":
		opts.mode = modeAttachOrCreate
	case "-c":
		opts.mode = modeCreate
	case "-n":
		opts.mode = modeNoAttach
	default:
		return opts, fmt.Errorf("%w: invalid mode %q", errs.UsageError, args[0])
	}
	args = args[1:]

	if len(args) == 0 {
		return opts, fmt.Errorf("%w: no socket was specified", errs.UsageError)
	}
	opts.socket = args[0]
	args = args[1:]

	for len(args) > 0 && len(args[0]) > 0 && args[0][0] == '-' && args[0] != "-" {
		switch args[0] {
		case "-e":
			args = args[1:]
			if len(args) == 0 {
				return opts, fmt.Errorf("%w: -e requires an argument", errs.UsageError)
			}
			dc, err := config.ParseDetachChar(args[0])
			if err != nil {
				return opts, err
			}
			opts.detachChar = dc
			opts.detachCharExplicit = true
			args = args[1:]

		case "-E":
			opts.detachChar = config.NoDetachChar
			opts.detachCharExplicit = true
			args = args[1:]

		case "-r":
			args = args[1:]
			if len(args) == 0 {
				return opts, fmt.Errorf("%w: -r requires an argument", errs.UsageError)
			}
			rm, err := config.ParseRedrawMethod(args[0])
			if err != nil {
				return opts, err
			}
			opts.redrawMethod = rm
			args = args[1:]

		case "-z":
			opts.noSuspend = true
			args = args[1:]

		default:
			return opts, fmt.Errorf("%w: invalid option %q", errs.UsageError, args[0])
		}
	}

	// A missing command is not an error here: ~/.duachrc may supply a
	// default_command fallback, checked once rc is loaded in run().
	if opts.mode != modeAttach && len(args) > 0 {
		opts.argv = args
	}
	return opts, nil
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `Usage: %s -a <socket>
       %s -A <socket> <command...>
       %s -c <socket> <command...>
       %s -n <socket> <command...>

Options:
  -e <char>          detach character (default ^\)
  -E                 disable the detach character
  -r none|ctrl_l|winch  redraw method on attach
  -z                 disable the suspend key passthrough
  --help             show this message
  --version          show version information
`, progName, progName, progName, progName)
}

// probeDial reports whether a Unix socket at path currently accepts
// connections, closing the probe connection immediately.
func probeDial(path string) bool {
	conn, err := net.DialTimeout("unix", path, 200*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
