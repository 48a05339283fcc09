// Package errs defines the sentinel error kinds surfaced to the user.
package errs

import (
	"errors"
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// Sentinel kinds. Test with errors.Is; wrapped errors carry extra context
// via fmt.Errorf("...: %w", Kind).
var (
	UsageError      = errors.New("usage error")
	NoTerminal      = errors.New("stdin is not a terminal")
	SocketMissing   = errors.New("socket does not exist")
	SocketRefused   = errors.New("connection refused")
	SocketInUse     = errors.New("socket already has a live master")
	BindFailed      = errors.New("could not bind socket")
	PtyUnavailable  = errors.New("no pty available")
	ForkFailed      = errors.New("fork failed")
	ExecFailed      = errors.New("exec failed")
	DtachEnvInvalid = errors.New("$DTACH exists and is not a directory")

	// ClientDropped is internal-only: logged, never surfaced to a user.
	ClientDropped = errors.New("client dropped: outbound queue overflow")
)

// Fatal wraps one of the low-level startup sentinels (BindFailed,
// PtyUnavailable, ForkFailed, ExecFailed) with a captured stack trace
// recording where the OS call actually failed. The one-line stderr
// diagnostic printed by cmd/duach never shows the stack; it only shows
// Error().
func Fatal(kind error, format string, args ...interface{}) error {
	wrapped := fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), kind)
	return goerrors.Wrap(wrapped, 1)
}

// ExitCode maps an error returned from master/attach startup to a process
// exit code. Steady-state errors (not returned from startup) don't go
// through here.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
