// Package master implements the detached session server: it owns the bound
// socket, the pty/child, the replay buffer, and the set of attached
// clients, and brokers bytes and window-size negotiation between them until
// the child exits.
//
// A single-threaded, level-triggered event loop is realized the idiomatic
// Go way rather than literally: one dispatcher goroutine (Session.run) is
// the only goroutine that ever mutates Session state; the pty reader, accept
// loop, handshake readers and per-client readers only ever communicate with
// it over a channel, and each per-client writer drains its own lock-guarded
// outbound queue (see client.go). Channels are this module's self-pipe.
package master

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ianremillard/duach/internal/config"
	"github.com/ianremillard/duach/internal/ptyctl"
	"github.com/ianremillard/duach/internal/ptyctl/termios"
	"github.com/ianremillard/duach/internal/wire"
)

// Session is the singleton state for one master process: a bound socket,
// one child, a replay buffer, and the set of currently attached clients.
type Session struct {
	cfg      config.MasterConfig
	listener net.Listener
	child    *ptyctl.Child
	replay   *replayRing
	clients  map[*client]struct{}

	// currentWinsize is the most recently applied window size, tracked so
	// the "winch" redraw policy can re-apply it verbatim (alongside an
	// explicit SIGWINCH) without changing the actual size.
	currentWinsize ptyctl.Winsize

	acceptCh chan net.Conn
	readyCh  chan *pendingClient
	frameCh  chan clientFrame
	ptyCh    chan ptyEvent
	childCh  chan int
}

type pendingClient struct {
	conn net.Conn
	pkt  wire.AttachPacket
}

type ptyEvent struct {
	data []byte
	err  error
}

// Run binds the session socket (failing if another master already holds
// it), allocates the pty, spawns the child, then runs the event loop until
// the child exits. Returns the exit code to propagate to the process (the
// child's), and unlinks the socket before returning on every path after a
// successful bind; a failed bind leaves the existing socket file alone.
func Run(cfg config.MasterConfig, initialSize ptyctl.Winsize, initialTerm termios.State) (int, error) {
	l, err := bind(cfg.SocketPath)
	if err != nil {
		return 1, err
	}

	child, err := ptyctl.Open(cfg.Argv, initialSize, initialTerm)
	if err != nil {
		l.Close()
		os.Remove(cfg.SocketPath)
		return 1, err
	}

	s := &Session{
		cfg:      cfg,
		listener: l,
		child:    child,
		replay:   newReplayRing(cfg.ReplayBytes),
		clients:  make(map[*client]struct{}),
		acceptCh: make(chan net.Conn),
		readyCh:  make(chan *pendingClient),
		frameCh:  make(chan clientFrame, 64),
		ptyCh:    make(chan ptyEvent, 8),
		childCh:  make(chan int, 1),
	}

	go s.acceptLoop()
	go s.ptyReadLoop()
	go func() { s.childCh <- s.child.Wait() }()

	doneCh := make(chan struct{})
	go s.killOnSignal(doneCh)

	exitCode := s.run()
	close(doneCh)

	l.Close()
	os.Remove(cfg.SocketPath)
	return exitCode, nil
}

// killOnSignal terminates the child's process group if the master itself
// receives SIGTERM/SIGINT (e.g. system shutdown), so the session ends
// cleanly (socket unlinked, replay/queues torn down) instead of leaving the
// child running under an orphaned pty with nothing left to reap it on a
// normal schedule. Exits once doneCh closes, i.e. once the session has
// already ended through the ordinary child-exit path.
func (s *Session) killOnSignal(doneCh <-chan struct{}) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Printf("duach: master pid %d received %s, killing child pid %d", os.Getpid(), sig, s.child.Pid())
		s.child.Kill()
	case <-doneCh:
	}
}

// acceptLoop accepts connections and hands them to the dispatcher. The only
// expected Accept error is the listener closing on shutdown, which ends the
// loop silently.
func (s *Session) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return // listener closed; session is shutting down
		}
		s.acceptCh <- conn
	}
}

// readHandshake reads one AttachPacket off conn and forwards it to the
// dispatcher. Runs in its own goroutine per pending connection so a slow or
// silent client stuck in AwaitingHeader never blocks the dispatcher loop.
func (s *Session) readHandshake(conn net.Conn) {
	pkt, err := wire.ReadAttachPacket(conn)
	if err != nil {
		conn.Close()
		return
	}
	s.readyCh <- &pendingClient{conn: conn, pkt: pkt}
}

// ptyReadLoop reads from the pty master and forwards chunks to the
// dispatcher. Sends exactly one ptyEvent with a non-nil err (EOF on slave
// closure) and then exits.
func (s *Session) ptyReadLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := s.child.ReadFrom(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.ptyCh <- ptyEvent{data: chunk}
		}
		if err != nil {
			s.ptyCh <- ptyEvent{err: err}
			return
		}
	}
}

// run is the dispatcher: the only goroutine that ever mutates Session or
// client state. It returns the exit code once the child has exited and
// every client has been flushed/closed.
func (s *Session) run() int {
	childExitCode := 0
	childDone := false

	for {
		select {
		case conn := <-s.acceptCh:
			go s.readHandshake(conn)

		case pc := <-s.readyCh:
			s.activate(pc)

		case cf := <-s.frameCh:
			s.handleFrame(cf)

		case ev := <-s.ptyCh:
			s.handlePty(ev)

		case code := <-s.childCh:
			childExitCode = code
			childDone = true
		}

		if childDone {
			// child.Wait() can report the exit before the pty reader
			// goroutine's last chunk (and its terminal EOF event) has made
			// it through ptyCh; drain whatever is already queued so clients
			// still receive exactly what the child produced, including its
			// final bytes.
		drain:
			for {
				select {
				case ev := <-s.ptyCh:
					s.handlePty(ev)
				default:
					break drain
				}
			}
			s.finalFlushAndClose()
			return childExitCode
		}
	}
}

// activate completes a connection's attach handshake: record the reported
// window size, apply it to the pty if it differs, send the replay buffer,
// apply the redraw policy, and start forwarding.
func (s *Session) activate(pc *pendingClient) {
	c := newClient(pc.conn, s.cfg.QueueBound)
	c.redrawMethod = pc.pkt.RedrawMethod
	c.state = stateActive
	s.clients[c] = struct{}{}

	ws := ptyctl.Winsize{Rows: pc.pkt.Rows, Cols: pc.pkt.Cols, X: pc.pkt.XPixels, Y: pc.pkt.YPixels}
	if ws.Rows != 0 && ws.Cols != 0 && ws != s.currentWinsize {
		s.child.SetWinsize(ws)
		s.currentWinsize = ws
	}

	replay := s.replay.Snapshot()
	if len(replay) > 0 {
		if _, err := pc.conn.Write(replay); err != nil {
			c.Close()
			delete(s.clients, c)
			return
		}
	}

	s.applyRedraw(c)

	go c.writerLoop()
	go c.readerLoop(s.frameCh)
}

// applyRedraw executes the redraw policy a client asked for at attach time,
// on behalf of a client that just attached or resumed from suspend.
func (s *Session) applyRedraw(c *client) {
	switch c.redrawMethod {
	case wire.RedrawNone:
	case wire.RedrawWinch:
		s.child.SetWinsize(s.currentWinsize)
		// The kernel raises SIGWINCH only when the size actually changes,
		// so signal the child's process group directly as well.
		if pid := s.child.Pid(); pid > 0 {
			syscall.Kill(-pid, syscall.SIGWINCH)
		}
	default: // RedrawCtrlL, or RedrawUnspecified from a buggy client
		s.child.Write([]byte{0x0C})
	}
}

// handleFrame processes one client->master frame from an active client.
func (s *Session) handleFrame(cf clientFrame) {
	if _, ok := s.clients[cf.client]; !ok {
		return // already removed (e.g. dropped for queue overflow)
	}
	if cf.err != nil {
		s.removeClient(cf.client)
		return
	}

	switch cf.typ {
	case wire.FrameData:
		s.child.Write(cf.payload)

	case wire.FrameWinsize:
		ws, err := wire.DecodeWinsize(cf.payload)
		if err == nil {
			s.currentWinsize = ptyctl.Winsize{Rows: ws.Rows, Cols: ws.Cols, X: ws.XPixels, Y: ws.YPixels}
			s.child.SetWinsize(s.currentWinsize)
		}

	case wire.FrameRedraw:
		s.applyRedraw(cf.client)

	case wire.FrameDetach:
		s.removeClient(cf.client)
	}
}

// handlePty processes one pty event: readable data gets appended to the
// replay buffer and fanned out, an error means the child side has closed.
func (s *Session) handlePty(ev ptyEvent) {
	if ev.err != nil {
		return // child has exited; s.childCh will deliver the exit code
	}
	s.replay.Append(ev.data)
	for c := range s.clients {
		if c.state != stateActive {
			continue
		}
		if !c.enqueue(ev.data) {
			log.Printf("duach: dropping slow client %s (queue exceeded %s)",
				c.id, humanize.IBytes(uint64(s.cfg.QueueBound)))
			s.removeClient(c)
		}
	}
}

func (s *Session) removeClient(c *client) {
	delete(s.clients, c)
	c.Close()
}

// finalFlushAndClose runs once the child has exited: flush each client's
// outbound queue with a short deadline, then close every client.
func (s *Session) finalFlushAndClose() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.FinalFlushMS)*time.Millisecond)
	defer cancel()

	for c := range s.clients {
		waitDrained(ctx, c)
		c.Close()
	}
}

// waitDrained blocks until c's outbound queue empties or ctx expires,
// giving a final best-effort flush before the session tears the client
// down.
func waitDrained(ctx context.Context, c *client) {
	for {
		c.mu.Lock()
		empty := len(c.queue) == 0
		c.mu.Unlock()
		if empty {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}
