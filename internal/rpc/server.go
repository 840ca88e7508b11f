package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"esdmd/internal/security"
)

// readTimeout bounds every socket read so an abandoned or slow-loris
// connection releases its fixed buffers quickly.
const readTimeout = 2 * time.Second

// protoFailLimit is how many protocol errors one connection may produce
// before it is closed.
const protoFailLimit = 2

// Socket permissions of the two tiers.
const (
	PrivSocketMode   os.FileMode = 0o600
	UnprivSocketMode os.FileMode = 0o666
)

// ErrNotSocket is returned when a non-socket file occupies a socket path.
var ErrNotSocket = errors.New("rpc: path exists and is not a socket")

// Server runs the two accept loops and the per-connection handlers.
type Server struct {
	svc        *Service
	privPath   string
	unprivPath string
	log        *slog.Logger

	// isPrivileged decides whether a peer uid may call privileged
	// methods. Defaults to uid 0. Tests inject their own.
	isPrivileged func(uid int) bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	exit   atomic.Bool

	privLn   net.Listener
	unprivLn net.Listener

	// gate holds the accept loops until privileges have been dropped.
	gate     chan struct{}
	gateOnce sync.Once

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// NewServer creates a server for the given service and socket paths.
func NewServer(svc *Service, privPath, unprivPath string, log *slog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		svc:          svc,
		privPath:     privPath,
		unprivPath:   unprivPath,
		log:          log,
		isPrivileged: func(uid int) bool { return uid == 0 },
		ctx:          ctx,
		cancel:       cancel,
		gate:         make(chan struct{}),
		conns:        make(map[net.Conn]struct{}),
	}
}

// SetPrivilegeCheck overrides the peer uid policy. Test hook.
func (s *Server) SetPrivilegeCheck(fn func(uid int) bool) {
	s.isPrivileged = fn
}

// Listen binds a Unix socket at path with the given permissions, removing
// a stale socket first. A foreign non-socket file at the path is a fatal
// error, as is a socket that still has a listener behind it.
func Listen(path string, mode os.FileMode) (net.Listener, error) {
	if err := removeStaleSocket(path); err != nil {
		return nil, err
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("rpc: listen %s: %w", path, err)
	}
	if err := os.Chmod(path, mode); err != nil {
		ln.Close()
		return nil, fmt.Errorf("rpc: chmod %s: %w", path, err)
	}
	return ln, nil
}

// removeStaleSocket unlinks a leftover socket nobody is listening on.
func removeStaleSocket(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if fi.Mode().Type() != os.ModeSocket {
		return fmt.Errorf("%w: %s", ErrNotSocket, path)
	}

	conn, err := net.DialTimeout("unix", path, 100*time.Millisecond)
	if err == nil {
		conn.Close()
		return fmt.Errorf("rpc: socket %s already has a listener", path)
	}

	return os.Remove(path)
}

// Start binds both sockets and spawns the accept loops. The loops do not
// accept until SignalReady has been called; the daemon calls it after the
// permanent privilege drop. A pre-bound privileged listener (inherited
// from the parent process) may be passed in; nil makes Start bind it.
func (s *Server) Start(privLn net.Listener) error {
	var err error

	if privLn == nil {
		privLn, err = Listen(s.privPath, PrivSocketMode)
		if err != nil {
			return err
		}
	}
	s.privLn = privLn

	s.unprivLn, err = Listen(s.unprivPath, UnprivSocketMode)
	if err != nil {
		s.privLn.Close()
		return err
	}

	s.wg.Add(2)
	go s.acceptLoop(s.privLn, "priv")
	go s.acceptLoop(s.unprivLn, "unpriv")

	s.log.Info("RPC sockets bound",
		"priv", s.privPath, "unpriv", s.unprivPath)
	return nil
}

// SignalReady opens the accept gate. Idempotent.
func (s *Server) SignalReady() {
	s.gateOnce.Do(func() { close(s.gate) })
}

// Stop initiates cooperative shutdown: the exit flag stops new work, the
// listeners and all connections are closed, the gate is broadcast so a
// never-released accept loop wakes, and all handlers are awaited.
func (s *Server) Stop() {
	if !s.exit.CompareAndSwap(false, true) {
		return
	}
	s.cancel()
	s.SignalReady()

	if s.privLn != nil {
		s.privLn.Close()
	}
	if s.unprivLn != nil {
		s.unprivLn.Close()
	}

	s.connMu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	s.log.Info("RPC server stopped")
}

func (s *Server) exiting() bool { return s.exit.Load() }

func (s *Server) acceptLoop(ln net.Listener, tier string) {
	defer s.wg.Done()

	select {
	case <-s.gate:
	case <-s.ctx.Done():
		return
	}
	if s.exiting() {
		return
	}
	s.log.Info("accepting connections", "tier", tier)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.exiting() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept failed", "tier", tier, "err", err)
			continue
		}

		c := newConnState(conn)
		s.connMu.Lock()
		s.conns[conn] = struct{}{}
		s.connMu.Unlock()

		s.wg.Add(1)
		go s.handleConn(c, tier)
	}
}

// connState is the fixed per-connection record: the socket, the request
// read buffer, the response assembly buffer and the decode arena. Nothing
// else is allocated while the connection serves requests.
type connState struct {
	conn    net.Conn
	readBuf []byte
	respBuf []byte
	arena   *Arena
}

func newConnState(conn net.Conn) *connState {
	return &connState{
		conn:    conn,
		readBuf: make([]byte, HeaderSize+MaxMsgSize),
		respBuf: make([]byte, 0, HeaderSize+MaxMsgSize+64),
		arena:   NewArena(MaxMsgSize + 128),
	}
}

// respBody returns the empty response body slice positioned after the
// header; handlers append their marshalled message to it.
func (c *connState) respBody() []byte {
	return c.respBuf[:HeaderSize][HeaderSize:HeaderSize]
}

// wipe zeroizes everything a request may have touched.
func (c *connState) wipe() {
	security.Wipe(c.readBuf)
	security.Wipe(c.respBuf[:cap(c.respBuf)])
	c.arena.Reset()
}

func (s *Server) handleConn(c *connState, tier string) {
	defer s.wg.Done()
	defer func() {
		c.wipe()
		c.conn.Close()
		s.connMu.Lock()
		delete(s.conns, c.conn)
		s.connMu.Unlock()
	}()

	protoFails := 0

	for !s.exiting() {
		// Header first. The deadline bounds how long the fixed buffers
		// stay tied to an idle peer.
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		if _, err := io.ReadFull(c.conn, c.readBuf[:HeaderSize]); err != nil {
			return
		}
		hdr, err := DecodeHeader(c.readBuf[:HeaderSize])
		if err != nil {
			return
		}

		body := c.readBuf[HeaderSize : HeaderSize+int(hdr.MsgLen)]
		if hdr.MsgLen > 0 {
			c.conn.SetReadDeadline(time.Now().Add(readTimeout))
			if _, err := io.ReadFull(c.conn, body); err != nil {
				return
			}
		}

		protoOK, writeOK := s.dispatch(c, hdr, body, tier)

		// Between requests the same buffers are reused; wipe first.
		security.Wipe(c.readBuf[:HeaderSize+int(hdr.MsgLen)])
		c.arena.Reset()

		if !writeOK {
			return
		}
		if !protoOK {
			protoFails++
			if protoFails >= protoFailLimit {
				return
			}
			continue
		}
		protoFails = 0
	}
}

// dispatch runs one request and writes the response. protoOK reports
// whether the request was well-formed and permitted; writeOK reports
// whether the response reached the peer.
func (s *Server) dispatch(c *connState, hdr Header, body []byte, tier string) (protoOK, writeOK bool) {
	if int(hdr.Method) >= len(methodTable) {
		s.log.Debug("unknown method", "tier", tier, "method", hdr.Method)
		return false, s.respond(c, hdr, StatusServiceFailed, nil)
	}
	m := &methodTable[hdr.Method]

	if m.Privileged {
		uid, err := peerUID(c.conn)
		if err != nil || !s.isPrivileged(uid) {
			// A failed credentials query is treated as unprivileged.
			s.log.Warn("privileged method denied",
				"method", m.Name, "uid", uid, "err", err)
			return false, s.respond(c, hdr, StatusServiceFailed, nil)
		}
	}

	respBody, err := m.Handle(s.ctx, s.svc, c, body)
	if err != nil {
		s.log.Debug("method failed", "method", m.Name, "err", err)
		return false, s.respond(c, hdr, StatusServiceFailed, nil)
	}
	return true, s.respond(c, hdr, StatusSuccess, respBody)
}

// respond frames and writes a response re-using the connection's response
// buffer. The buffer is wiped after the write; it may hold DRNG output.
func (s *Server) respond(c *connState, req Header, status uint32, body []byte) bool {
	n := len(body)
	resp := Header{
		Status:    status,
		Method:    req.Method,
		MsgLen:    uint32(n),
		RequestID: req.RequestID,
	}

	frame := c.respBuf[:HeaderSize+n]
	resp.Encode(frame[:HeaderSize])

	err := writeFull(c.conn, frame)
	security.Wipe(frame)
	if err != nil {
		s.log.Debug("response write failed", "err", err)
		return false
	}
	return true
}
