/*
NAME
  server.go

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package server implements the line-oriented TCP broadcast protocol
// described by the specification: clients connect, issue commands, and
// optionally subscribe to push updates driven by the sensor pipeline's
// wakeup signal. Every command and every catalog mutation is executed on
// a single goroutine (the "server thread"), which also owns the client
// list; per-connection reader/writer goroutines only ever move bytes, so
// a slow or stuck client can never stall that thread.
package server

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ausocean/utils/logging"
	"github.com/google/uuid"

	"github.com/nitrogenlogic/knd/internal/zone"
)

// DefaultPort is the listener's default TCP port.
const DefaultPort = 14308

// appVersion is reported by the "ver" command.
const appVersion = 2

// outboxSize is how many queued outbound lines/blobs a client tolerates
// before it's judged to have overflowed and is disconnected.
const outboxSize = 256

// Pipeline is the narrow view of the sensor pipeline the server needs:
// current FPS, motor tilt, the depth/video frame buffers, and the
// video_requested flag.
type Pipeline interface {
	FPS() int
	Tilt() int
	SetTilt(degrees int) error
	RequestVideo(want bool)
	LastDepthFrame() (frame []byte, ts time.Time, ok bool)
	LastVideoFrame() (frame []byte, ts time.Time, ok bool)
}

// Server is the broadcast server's single event loop plus the listener
// that feeds it new connections.
type Server struct {
	log logging.Logger
	cat *zone.Catalog
	pl  Pipeline

	ln net.Listener

	wakeup chan byte

	register   chan *client
	unregister chan *client
	cmds       chan cmdMsg

	clients map[string]*client

	stop chan struct{}
	wg   sync.WaitGroup
}

// cmdMsg pairs a parsed command line with the client goroutine that read
// it.
type cmdMsg struct {
	c    *client
	line string
}

// New creates a Server bound to addr (e.g. ":14308") but does not yet
// accept connections into the worker goroutines — per the orchestrator's
// startup order, the listener goes up early but the event loop starts
// later, once the watchdog and pipeline exist.
func New(log logging.Logger, cat *zone.Catalog, pl Pipeline, wakeup chan byte, addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("server: listen %s: %w", addr, err)
	}
	return &Server{
		log:        log,
		cat:        cat,
		pl:         pl,
		ln:         ln,
		wakeup:     wakeup,
		register:   make(chan *client),
		unregister: make(chan *client),
		cmds:       make(chan cmdMsg, 64),
		clients:    make(map[string]*client),
		stop:       make(chan struct{}),
	}, nil
}

// Addr returns the listener's bound address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Run starts the accept loop and the event loop. It returns immediately;
// call Stop to shut down.
func (s *Server) Run() {
	s.wg.Add(2)
	go s.acceptLoop()
	go s.eventLoop()
}

// Stop closes the listener, signals the event loop to exit, and waits
// for both loops to finish.
func (s *Server) Stop() {
	s.ln.Close()
	close(s.stop)
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.stop:
				return
			default:
				s.log.Warning("accept failed", "error", err.Error())
				return
			}
		}
		c := newClient(conn)
		s.log.Debug("client connected", "addr", clientAddrString(conn))
		s.register <- c
		s.wg.Add(2)
		go s.readLoop(c)
		go s.writeLoop(c)
	}
}

// readLoop scans CR- or LF-terminated lines from one connection and
// forwards them to the event loop. A line that never terminates within
// the scanner's buffer is reported as a buffer overflow.
func (s *Server) readLoop(c *client) {
	defer s.wg.Done()
	sc := bufio.NewScanner(c.conn)
	sc.Buffer(make([]byte, 4096), 4096)
	sc.Split(scanCRorLF)

	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		select {
		case s.cmds <- cmdMsg{c: c, line: line}:
		case <-c.closed:
			return
		}
	}
	if err := sc.Err(); err == bufio.ErrTooLong {
		c.overflowed = true
		select {
		case s.cmds <- cmdMsg{c: c, line: ""}:
		case <-c.closed:
		}
		return
	}
	s.unregister <- c
}

// scanCRorLF is a bufio.SplitFunc that terminates a line on either a
// lone CR or LF, per the protocol's "CR or LF" line terminator rule.
func scanCRorLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// writeLoop drains a client's outbox to its connection. Because this
// runs on its own goroutine, a slow reader on the far end never blocks
// the event loop; only the channel send in queue (below) can observe
// back-pressure, and that's treated as overflow.
func (s *Server) writeLoop(c *client) {
	defer s.wg.Done()
	for {
		select {
		case b, ok := <-c.outbox:
			if !ok {
				c.conn.Close()
				return
			}
			if _, err := c.conn.Write(b); err != nil {
				c.conn.Close()
				return
			}
		case <-c.closed:
			c.conn.Close()
			return
		}
	}
}

func (s *Server) eventLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			s.shutdownAll()
			return
		case c := <-s.register:
			s.clients[c.id] = c
		case c := <-s.unregister:
			s.dropClient(c)
		case m := <-s.cmds:
			if m.c.overflowed {
				s.overflowClient(m.c)
				continue
			}
			s.dispatch(m.c, m.line)
		case code := <-s.wakeup:
			s.drainWakeup(code)
		}
	}
}

// drainWakeup handles one or more queued wakeup bytes without blocking
// the rest of the event loop: it keeps consuming immediately-available
// codes from the channel (mirroring the spec's "drain the wakeup pipe,
// counting Z and V events" step) before acting.
func (s *Server) drainWakeup(first byte) {
	sawZ := first == 'Z'
	sawV := first == 'V'
	if first == 'K' {
		return
	}
drain:
	for {
		select {
		case code := <-s.wakeup:
			switch code {
			case 'Z':
				sawZ = true
			case 'V':
				sawV = true
			case 'K':
				return
			}
		default:
			break drain
		}
	}

	if sawZ {
		s.handleDepthWakeup()
	}
	if sawV {
		s.handleVideoWakeup()
	}
}

func (s *Server) handleDepthWakeup() {
	var changed []*zone.Zone
	s.cat.Iterate(func(z *zone.Zone) {
		if z.LastPop != z.Pop || z.LastOccupied != z.Occupied || z.NewZone {
			changed = append(changed, z)
		}
	})

	for _, c := range s.clients {
		if !c.subGlobal {
			continue
		}
		for _, z := range changed {
			if z.NewZone {
				c.send("SUB - " + z.FormatFull() + "\n")
			} else {
				c.send("SUB - " + z.FormatShort() + "\n")
			}
		}
	}

	frame, _, ok := s.pl.LastDepthFrame()
	if ok {
		for _, c := range s.clients {
			if c.depthBudget == 0 {
				continue
			}
			c.send(fmt.Sprintf("DEPTH - %d bytes follow\n", len(frame)))
			c.sendBinary(frame)
			if c.depthBudget > 0 {
				c.depthBudget--
			}
		}
	}

	s.cat.Touch()
}

func (s *Server) handleVideoWakeup() {
	for _, c := range s.clients {
		if c.brightSub {
			s.cat.Iterate(func(z *zone.Zone) {
				c.send(fmt.Sprintf("BRIGHT - name=%q bright=%d\n", z.Name, z.Bright))
			})
			c.brightSub = false
		}
	}

	frame, _, ok := s.pl.LastVideoFrame()
	if ok {
		for _, c := range s.clients {
			if !c.videoSub {
				continue
			}
			c.send(fmt.Sprintf("VIDEO - %d bytes follow\n", len(frame)))
			c.sendBinary(frame)
			c.videoSub = false
		}
	}

	for _, c := range s.clients {
		if c.videoSub || c.brightSub {
			return
		}
	}
	s.pl.RequestVideo(false)
}

// overflowClient handles a client whose inbound line never terminated:
// emit the three-line banner, request shutdown, and let the write-drain
// path close the connection.
func (s *Server) overflowClient(c *client) {
	c.send("ERR - Buffer overflow\n")
	c.send("ERR - input line exceeded maximum length\n")
	c.send("ERR - connection will be closed\n")
	s.requestShutdown(c)
}

func (s *Server) requestShutdown(c *client) {
	c.shutdownRequested = true
	close(c.outbox)
}

func (s *Server) dropClient(c *client) {
	delete(s.clients, c.id)
	close(c.closed)
}

func (s *Server) shutdownAll() {
	for _, c := range s.clients {
		c.conn.Close()
	}
}

// send queues one line of output without ever blocking the event loop.
// If the client's outbox is full, the line is dropped and the client is
// marked overflowed; the event loop sends the overflow banner and shuts
// the connection down when it next handles a command line from that
// client.
func (c *client) send(line string) {
	c.queue([]byte(line))
}

func (c *client) sendBinary(b []byte) {
	cp := make([]byte, len(b))
	copy(cp, b)
	c.queue(cp)
}

func (c *client) queue(b []byte) {
	if c.shutdownRequested {
		return
	}
	select {
	case c.outbox <- b:
	default:
		c.overflowed = true
	}
}

// client is one connected TCP client's server-thread-owned state.
type client struct {
	id   string
	conn net.Conn

	outbox chan []byte
	closed chan struct{}

	subGlobal         bool
	depthBudget       int // 0 = not subscribed, >0 = remaining frames, -1 = unlimited.
	videoSub          bool
	brightSub         bool
	overflowed        bool
	shutdownRequested bool
}

func newClient(conn net.Conn) *client {
	return &client{
		id:     uuid.New().String(),
		conn:   conn,
		outbox: make(chan []byte, outboxSize),
		closed: make(chan struct{}),
	}
}

// clientAddrString renders conn's remote address the way the
// specification wants IPv4-mapped IPv6 addresses logged: as a plain
// dotted quad rather than the ::ffff: form.
func clientAddrString(conn net.Conn) string {
	host, port, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	ip := net.ParseIP(host)
	if ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return net.JoinHostPort(v4.String(), port)
		}
	}
	return net.JoinHostPort(host, port)
}

// parseTiltArg parses the optional "tilt" command argument.
func parseTiltArg(arg string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		return 0, fmt.Errorf("bad tilt argument %q: %w", arg, err)
	}
	return v, nil
}
