package master

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ianremillard/duach/internal/errs"
)

// bind enforces at most one live master per socket path: if the listen
// fails with "address in use", probe whether the socket is actually live by
// connecting to it. If the connect succeeds, another master really is
// running — SocketInUse. If it fails (ECONNREFUSED/ENOENT-shaped), the file
// is stale: unlink it and retry the bind exactly once.
func bind(socketPath string) (net.Listener, error) {
	l, err := net.Listen("unix", socketPath)
	if err == nil {
		return l, nil
	}
	if !isAddrInUse(err) {
		return nil, errs.Fatal(errs.BindFailed, "bind %s: %v", socketPath, err)
	}

	if probeLive(socketPath) {
		return nil, fmt.Errorf("%w: %s", errs.SocketInUse, socketPath)
	}

	// Stale socket file: reclaim it and retry once.
	os.Remove(socketPath)
	l, err = net.Listen("unix", socketPath)
	if err != nil {
		return nil, errs.Fatal(errs.BindFailed, "bind %s after reclaiming stale socket: %v", socketPath, err)
	}
	return l, nil
}

func isAddrInUse(err error) bool {
	opErr, ok := err.(*net.OpError)
	if !ok {
		return false
	}
	return os.IsExist(opErr.Err) || opErr.Err.Error() == "address already in use" ||
		opErr.Err.Error() == "bind: address already in use"
}

// probeLive dials the socket briefly to see whether a master is actually
// listening there, as opposed to a stale file left behind by a crash.
func probeLive(socketPath string) bool {
	conn, err := net.DialTimeout("unix", socketPath, 200*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
