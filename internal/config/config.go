// Package config holds the value-typed configuration records built once at
// startup and passed by reference into the master and attach client,
// replacing the global mutable state (program name, socket name, detach
// char, redraw method, original termios) the underlying design otherwise
// relies on, plus the optional ~/.duachrc defaults layer.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/ianremillard/duach/internal/errs"
	"github.com/ianremillard/duach/internal/wire"
)

// Defaults matching dtach's own: detach char ^\ (0x1C), replay buffer one
// screenful, client queue bound generous enough to absorb a burst without
// being so large a stuck client never gets noticed.
const (
	DefaultDetachChar   = 0x1C // ^\
	DefaultReplayBytes  = 4 * 1024
	DefaultQueueBound   = 64 * 1024
	NoDetachChar        = -1
	DefaultFinalFlushMS = 1000
)

// RC is the parsed contents of ~/.duachrc. Every field is optional; zero
// values mean "use the built-in default."
type RC struct {
	DetachChar     string   `yaml:"detach_char"`
	DisableDetach  bool     `yaml:"disable_detach"`
	RedrawMethod   string   `yaml:"redraw_method"`
	NoSuspend      bool     `yaml:"no_suspend"`
	ReplayBytes    int      `yaml:"replay_bytes"`
	QueueBound     int      `yaml:"queue_bound"`
	DefaultCommand string   `yaml:"default_command"`
	defaultArgv    []string
}

// LoadRC reads ~/.duachrc if present. A missing file is not an error.
func LoadRC() (RC, error) {
	home, err := homedir.Dir()
	if err != nil {
		return RC{}, nil // no home directory resolvable; fall back to built-ins
	}
	path := filepath.Join(home, ".duachrc")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return RC{}, nil
	}
	if err != nil {
		return RC{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var rc RC
	if err := yaml.Unmarshal(data, &rc); err != nil {
		return RC{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if rc.DefaultCommand != "" {
		argv, err := shellquote.Split(rc.DefaultCommand)
		if err != nil {
			return RC{}, fmt.Errorf("parsing default_command in %s: %w", path, err)
		}
		rc.defaultArgv = argv
	}
	return rc, nil
}

// DefaultArgv returns the shell-split default_command, or nil if unset.
func (rc RC) DefaultArgv() []string { return rc.defaultArgv }

// MasterConfig is built once by cmd/duach and passed by reference into the
// master server. It never mutates after construction.
type MasterConfig struct {
	SocketPath   string
	Argv         []string
	ReplayBytes  int
	QueueBound   int
	FinalFlushMS int
	// DetachChar/RedrawMethod aren't consumed by the master itself (they are
	// attach-side concerns). cmd/duach leaves them unset; its attach step
	// builds a separate AttachConfig from the parsed flags.
	DetachChar   int
	RedrawMethod byte
}

// AttachConfig is built once by cmd/duach and passed by reference into the
// attach client.
type AttachConfig struct {
	SocketPath       string
	DetachChar       int // NoDetachChar disables detaching entirely
	RedrawMethod     byte
	NoSuspend        bool
	NoErrorIfMissing bool
}

// ParseDetachChar implements the -e <char> grammar: a literal byte, "^X"
// meaning X & 0x1F, or "^?" meaning DEL (0x7F).
func ParseDetachChar(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty detach character", errs.UsageError)
	}
	if s[0] == '^' && len(s) > 1 {
		if s[1] == '?' {
			return 0x7F, nil
		}
		return int(s[1] & 0x1F), nil
	}
	return int(s[0]), nil
}

// ParseRedrawMethod implements the -r none|ctrl_l|winch grammar.
func ParseRedrawMethod(s string) (byte, error) {
	switch s {
	case "none":
		return wire.RedrawNone, nil
	case "ctrl_l":
		return wire.RedrawCtrlL, nil
	case "winch":
		return wire.RedrawWinch, nil
	default:
		return 0, fmt.Errorf("%w: invalid redraw method %q", errs.UsageError, s)
	}
}

// ResolveSocketPath implements the $DTACH redirection rule: if $DTACH is
// set and the socket name is relative, doesn't start with "./", and
// doesn't contain "..", the effective path is $DTACH/<name>, and $DTACH is
// created as a 0755 directory if it doesn't exist yet. Absolute paths,
// "./"-prefixed paths, and paths containing ".." are used verbatim
// regardless of $DTACH. Mirrors the original dtach's stat-then-mkdir
// ordering exactly.
func ResolveSocketPath(name string) (string, error) {
	dtachDir := os.Getenv("DTACH")
	if dtachDir == "" {
		return name, nil
	}

	notAbs := !strings.HasPrefix(name, "/")
	notCWD := !strings.HasPrefix(name, "./")
	notTraversal := !strings.Contains(name, "..")
	if !(notAbs && notCWD && notTraversal) {
		return name, nil
	}

	info, err := os.Stat(dtachDir)
	if err == nil {
		if !info.IsDir() {
			return "", fmt.Errorf("%w: %s", errs.DtachEnvInvalid, dtachDir)
		}
	} else if os.IsNotExist(err) {
		if err := os.MkdirAll(dtachDir, 0o755); err != nil {
			return "", fmt.Errorf("creating $DTACH dir %s: %w", dtachDir, err)
		}
	} else {
		return "", fmt.Errorf("stat $DTACH %s: %w", dtachDir, err)
	}

	return filepath.Join(dtachDir, name), nil
}
