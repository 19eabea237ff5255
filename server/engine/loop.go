// the event loop: owns the poller, the listeners and the connection
// table. single-threaded by design, the only place control yields is
// Poller.Wait.
package engine

import (
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kfcemployee/webserv/server/protocol"
)

// read buffer for one readable event; partial requests stay in the parser
const readChunk = 8 << 10

// DefaultTimeout is the idle deadline when the config doesn't set one.
const DefaultTimeout = 30 * time.Second

// Handler turns one parsed request into a response. it must not block the
// loop and must not touch the connection or the poller. perr is non-nil
// for a synthetic error request (parse failure); req then holds whatever
// was parsed before the failure.
type Handler interface {
	Serve(req *protocol.Request, perr *protocol.Error, bindAddr string, bindPort uint16) *protocol.Response
}

type listener struct {
	fd   int
	addr string
	port uint16
}

// Loop multiplexes every listener and client socket through one poller.
type Loop struct {
	poller    *Poller
	handler   Handler
	listeners map[int]*listener
	conns     map[int]*Conn

	timeout time.Duration
	maxBody int64
	log     *slog.Logger

	rbuf [readChunk]byte
	stop atomic.Bool
}

func NewLoop(h Handler, timeout time.Duration, maxBody int64, log *slog.Logger) (*Loop, error) {
	p, err := NewPoller()
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		poller:    p,
		handler:   h,
		listeners: make(map[int]*listener),
		conns:     make(map[int]*Conn),
		timeout:   timeout,
		maxBody:   maxBody,
		log:       log,
	}, nil
}

// AddListener binds addr:port and registers it for read readiness.
func (l *Loop) AddListener(addr string, port uint16) error {
	fd, err := Listen(addr, port)
	if err != nil {
		return err
	}
	if err := l.poller.Add(fd, Read); err != nil {
		unix.Close(fd)
		return err
	}
	l.listeners[fd] = &listener{fd: fd, addr: addr, port: port}
	return nil
}

// Stop asks Run to return. effective within one wait timeout tick.
func (l *Loop) Stop() { l.stop.Store(true) }

// Run drives the loop until Stop. a failure inside one connection never
// terminates it.
func (l *Loop) Run() error {
	defer l.shutdown()
	for !l.stop.Load() {
		evs, err := l.poller.Wait(l.waitTimeout())
		if err != nil {
			if err == ErrInterrupted {
				continue
			}
			return err
		}
		for _, ev := range evs {
			if _, ok := l.listeners[ev.FD]; ok {
				l.accept(ev.FD)
				continue
			}
			c, ok := l.conns[ev.FD]
			if !ok {
				continue // closed earlier in this batch
			}
			if ev.Err && !ev.Readable && !ev.Writable {
				l.closeConn(c)
				continue
			}
			if ev.Readable && c.state == StateReading {
				l.read(c)
			}
			if ev.Writable && c.state == StateWriting {
				l.write(c)
			}
		}
		l.sweep(time.Now())
	}
	return nil
}

// waitTimeout bounds Wait by the nearest connection deadline, max 1s so
// Stop stays responsive.
func (l *Loop) waitTimeout() int {
	const maxWait = 1000
	if len(l.conns) == 0 {
		return maxWait
	}
	now := time.Now()
	wait := time.Duration(maxWait) * time.Millisecond
	for _, c := range l.conns {
		left := l.timeout - now.Sub(c.last)
		if left < wait {
			wait = left
		}
	}
	if wait < 0 {
		return 0
	}
	return int(wait / time.Millisecond)
}

// accept takes one connection; the next readiness re-triggers for the
// rest of the backlog.
func (l *Loop) accept(lfd int) {
	ls := l.listeners[lfd]
	nfd, peer, err := acceptOne(lfd)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		// out of descriptors: evict the idlest connection instead of
		// crashing, next readiness retries the accept
		if err == unix.EMFILE || err == unix.ENFILE {
			l.evictIdlest()
			return
		}
		l.log.Warn("accept failed", "listener", ls.addr, "port", ls.port, "err", err)
		return
	}

	c := newConn(nfd, peer, ls.addr, ls.port, l.maxBody)
	if err := l.poller.Add(nfd, Read); err != nil {
		l.log.Warn("register failed", "fd", nfd, "err", err)
		unix.Close(nfd)
		return
	}
	l.conns[nfd] = c
	l.log.Debug("accepted", "fd", nfd, "peer", peer)
}

// read performs exactly one read syscall for this readable event.
func (l *Loop) read(c *Conn) {
	n, err := unix.Read(c.fd, l.rbuf[:])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		l.closeConn(c)
		return
	}
	if n == 0 {
		// peer EOF; a clean close between requests and a mid-request one
		// are both silent, only the log tells them apart
		if !c.parser.Empty() {
			l.log.Debug("eof mid-request", "fd", c.fd, "peer", c.peer)
		}
		l.closeConn(c)
		return
	}
	c.touch()
	l.advance(c, c.parser.Feed(l.rbuf[:n]))
}

func (l *Loop) advance(c *Conn, st protocol.Status) {
	switch st {
	case protocol.Ready:
		l.process(c, nil)
	case protocol.Failed:
		l.process(c, c.parser.Err())
	}
}

// process runs dispatch synchronously and arms the connection for write.
func (l *Loop) process(c *Conn, perr *protocol.Error) {
	c.state = StateProcessing

	req := c.parser.Request()
	req.Peer = c.peer

	resp := l.handler.Serve(req, perr, c.bindAddr, c.bindPort)

	keepAlive := perr == nil && req.KeepAlive() && !protocol.CloseAfter(resp.Status)

	wire, serr := protocol.Serialize(resp, keepAlive)
	if serr != nil {
		l.log.Warn("unserializable response", "fd", c.fd, "err", serr)
		keepAlive = false
		wire, _ = protocol.Serialize(&protocol.Response{Status: protocol.StatusInternalServerError}, false)
	}

	c.queue(wire, keepAlive)
	if err := l.poller.Modify(c.fd, Write); err != nil {
		l.closeConn(c)
	}
}

// write performs exactly one write syscall for this writable event,
// best-effort draining the pending buffer.
func (l *Loop) write(c *Conn) {
	n, err := unix.Write(c.fd, c.pending())
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		l.closeConn(c)
		return
	}
	if n > 0 {
		c.cursor += n
		c.touch()
	}
	if c.cursor < len(c.out) {
		return
	}

	if !c.keepAlive {
		l.closeConn(c)
		return
	}

	// keep-alive: same socket, fresh parser, back to read interest
	c.nextRequest()
	if err := l.poller.Modify(c.fd, Read); err != nil {
		l.closeConn(c)
		return
	}
	// bytes of the next request may already sit in the parser; drive it
	// before waiting for more readiness
	l.advance(c, c.parser.Feed(nil))
}

// sweep closes every connection whose idle deadline elapsed. pending
// write bytes are dropped.
func (l *Loop) sweep(now time.Time) {
	for _, c := range l.conns {
		if c.expired(now, l.timeout) {
			l.log.Debug("deadline expired", "fd", c.fd, "peer", c.peer, "state", c.state.String())
			l.closeConn(c)
		}
	}
}

// evictIdlest drops the connection closest to its deadline to free a
// descriptor for accept.
func (l *Loop) evictIdlest() {
	var victim *Conn
	for _, c := range l.conns {
		if victim == nil || c.last.Before(victim.last) {
			victim = c
		}
	}
	if victim != nil {
		l.log.Warn("descriptor pressure, evicting", "fd", victim.fd, "peer", victim.peer)
		l.closeConn(victim)
	}
}

func (l *Loop) closeConn(c *Conn) {
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	l.poller.Remove(c.fd)
	unix.Close(c.fd)
	delete(l.conns, c.fd)
	l.log.Debug("closed", "fd", c.fd, "peer", c.peer)
}

func (l *Loop) shutdown() {
	for _, c := range l.conns {
		l.closeConn(c)
	}
	for fd := range l.listeners {
		l.poller.Remove(fd)
		unix.Close(fd)
	}
	l.poller.Close()
}
