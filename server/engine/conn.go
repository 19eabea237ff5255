// per-socket connection state
package engine

import (
	"time"

	"github.com/kfcemployee/webserv/server/protocol"
)

// State is the connection lifecycle position. transitions are driven only
// by the loop.
type State uint8

const (
	StateReading State = iota
	StateProcessing
	StateWriting
	StateKeepAlive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateReading:
		return "reading"
	case StateProcessing:
		return "processing"
	case StateWriting:
		return "writing"
	case StateKeepAlive:
		return "keep-alive"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Conn owns exactly one accepted socket plus its parser and pending write
// bytes. it exists in the loop's table iff its fd is registered with the
// poller.
type Conn struct {
	fd    int
	state State

	out    []byte // serialized response
	cursor int    // first unsent byte in out

	parser *protocol.Parser

	peer     string // client address
	bindAddr string // listener address this conn arrived on
	bindPort uint16

	last      time.Time // last successful read or write
	keepAlive bool      // decision for the response in flight
}

func newConn(fd int, peer, bindAddr string, bindPort uint16, maxBody int64) *Conn {
	return &Conn{
		fd:       fd,
		state:    StateReading,
		parser:   protocol.NewParser(maxBody),
		peer:     peer,
		bindAddr: bindAddr,
		bindPort: bindPort,
		last:     time.Now(),
	}
}

func (c *Conn) touch() { c.last = time.Now() }

func (c *Conn) expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(c.last) > timeout
}

// pending reports unsent response bytes.
func (c *Conn) pending() []byte { return c.out[c.cursor:] }

// queue arms a response for writing.
func (c *Conn) queue(wire []byte, keepAlive bool) {
	c.out = wire
	c.cursor = 0
	c.keepAlive = keepAlive
	c.state = StateWriting
}

// nextRequest rolls the connection back to Reading for the next request
// on the same socket.
func (c *Conn) nextRequest() {
	c.out = nil
	c.cursor = 0
	c.parser.Reset()
	c.state = StateReading
	c.touch()
}
