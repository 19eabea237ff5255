// incremental HTTP/1.1 request parser, one instance per connection.
// Feed consumes complete prefixes of the stream; an unfinished line is
// scanned again when more bytes arrive.
package protocol

import (
	"bytes"
	"strconv"
	"strings"
)

// Status is what one Feed call produced.
type Status uint8

const (
	NeedMore Status = iota // keep the connection in Reading
	Ready                  // Request() is complete
	Failed                 // Err() holds the wire status, close after replying
)

// parser phases
type phase uint8

const (
	phaseRequestLine phase = iota
	phaseHeaders
	phaseBodyLength
	phaseBodyChunked
	phaseTrailer
	phaseComplete
	phaseError
)

const (
	// cap on request line + headers together
	maxHeaderBytes = 8 << 10
	// chunk size line won't reasonably exceed this
	maxChunkLine = 128
)

// Parser accumulates raw bytes and assembles one Request. once it reports
// Failed it stays failed until Reset; the loop must close the connection
// after a best-effort error response.
type Parser struct {
	phase   phase
	buf     []byte // unconsumed tail of the stream
	req     *Request
	maxBody int64

	headerBytes int   // running request-line + header byte count
	bodyLen     int64 // declared Content-Length
	bodyGot     int64 // body bytes accepted so far
	chunkRem    int64 // -1: expecting a size line, else data bytes left
	err         *Error
}

func NewParser(maxBody int64) *Parser {
	return &Parser{
		maxBody:  maxBody,
		chunkRem: -1,
		req:      &Request{},
	}
}

// Reset prepares the parser for the next request on a keep-alive
// connection. the body cap survives, everything else is cleared.
// bytes already buffered past the previous request stay queued.
func (p *Parser) Reset() {
	p.phase = phaseRequestLine
	p.req = &Request{}
	p.headerBytes = 0
	p.bodyLen = 0
	p.bodyGot = 0
	p.chunkRem = -1
	p.err = nil
}

// Request returns the assembled request after Ready. on Failed it returns
// whatever was parsed so far (may be an empty Request).
func (p *Parser) Request() *Request { return p.req }

// Err returns the failure after Failed, nil otherwise.
func (p *Parser) Err() *Error { return p.err }

// Empty reports that no bytes of the next request have arrived. the loop
// uses it to tell a clean peer EOF from a mid-request one.
func (p *Parser) Empty() bool {
	return p.phase == phaseRequestLine && len(p.buf) == 0
}

// Feed appends b and advances as far as the data allows.
func (p *Parser) Feed(b []byte) Status {
	if p.phase == phaseError {
		return Failed
	}
	if p.phase == phaseComplete {
		// no parsing until Reset; new bytes are only queued for the next
		// request (the loop never reads here anyway)
		p.buf = append(p.buf, b...)
		return Ready
	}
	p.buf = append(p.buf, b...)

	for {
		switch p.phase {
		case phaseRequestLine:
			st := p.parseRequestLine()
			if st != more {
				return p.done(st)
			}
		case phaseHeaders:
			st := p.parseHeaderLine()
			if st != more {
				return p.done(st)
			}
		case phaseBodyLength:
			st := p.parseBodyLength()
			if st != more {
				return p.done(st)
			}
		case phaseBodyChunked:
			st := p.parseChunk()
			if st != more {
				return p.done(st)
			}
		case phaseTrailer:
			st := p.parseTrailerLine()
			if st != more {
				return p.done(st)
			}
		case phaseComplete:
			return Ready
		}
	}
}

// internal step results: more means run the loop again, the others map to
// the public Status
type step uint8

const (
	more step = iota
	need
	ready
	failed
)

func (p *Parser) done(st step) Status {
	switch st {
	case ready:
		p.phase = phaseComplete
		return Ready
	case failed:
		p.phase = phaseError
		return Failed
	default:
		return NeedMore
	}
}

func (p *Parser) fail(e *Error) step {
	p.err = e
	return failed
}

// takeLine pops one line off buf. lone LF is tolerated, the returned line
// never includes the terminator.
func (p *Parser) takeLine() (line []byte, ok bool) {
	i := bytes.IndexByte(p.buf, '\n')
	if i < 0 {
		return nil, false
	}
	line = p.buf[:i]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	p.buf = p.buf[i+1:]
	return line, true
}

func (p *Parser) parseRequestLine() step {
	for {
		line, ok := p.takeLine()
		if !ok {
			if len(p.buf) > maxHeaderBytes {
				return p.fail(&Error{Status: StatusHeadersTooLarge, Msg: "request line too long"})
			}
			return need
		}
		// robustness: tolerate empty line(s) before the request line
		if len(line) == 0 {
			continue
		}
		p.headerBytes += len(line) + 2

		parts := strings.Split(string(line), " ")
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return p.fail(errBadRequest("malformed request line"))
		}
		if !strings.HasPrefix(parts[2], "HTTP/") {
			return p.fail(errBadRequest("malformed protocol version"))
		}

		p.req.Method = parts[0]
		p.req.Proto = parts[2]

		// split target on the first '?', query stays raw
		if q := strings.IndexByte(parts[1], '?'); q >= 0 {
			p.req.Path = parts[1][:q]
			p.req.RawQuery = parts[1][q+1:]
		} else {
			p.req.Path = parts[1]
		}

		p.phase = phaseHeaders
		return more
	}
}

func (p *Parser) parseHeaderLine() step {
	line, ok := p.takeLine()
	if !ok {
		if p.headerBytes+len(p.buf) > maxHeaderBytes {
			return p.fail(&Error{Status: StatusHeadersTooLarge, Msg: "headers too large"})
		}
		return need
	}
	p.headerBytes += len(line) + 2
	if p.headerBytes > maxHeaderBytes {
		return p.fail(&Error{Status: StatusHeadersTooLarge, Msg: "headers too large"})
	}

	if len(line) == 0 {
		return p.finishHeaders()
	}

	// obsolete line folding is rejected outright
	if line[0] == ' ' || line[0] == '\t' {
		return p.fail(errBadRequest("obsolete line folding"))
	}

	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return p.fail(errBadRequest("malformed header line"))
	}
	name := line[:colon]
	// no whitespace allowed between field name and colon
	if c := name[len(name)-1]; c == ' ' || c == '\t' {
		return p.fail(errBadRequest("whitespace before colon"))
	}
	val := bytes.Trim(line[colon+1:], " \t")

	p.req.Headers.Add(strings.ToLower(string(name)), string(val))
	return more
}

// finishHeaders validates the header set and decides how the body is
// framed.
func (p *Parser) finishHeaders() step {
	h := &p.req.Headers

	if p.req.Proto == "HTTP/1.1" && !h.Has("host") {
		return p.fail(errBadRequest("missing Host header"))
	}

	// Transfer-Encoding: chunked wins over Content-Length when both are
	// present, per RFC 7230 3.3.3
	chunked := false
	for _, te := range h.Values("transfer-encoding") {
		if hasToken(strings.ToLower(te), "chunked") {
			chunked = true
		}
	}

	cls := h.Values("content-length")
	var clen int64
	if len(cls) > 0 {
		first := strings.TrimSpace(cls[0])
		for _, v := range cls {
			if strings.TrimSpace(v) != first {
				return p.fail(errBadRequest("conflicting Content-Length"))
			}
		}
		n, err := strconv.ParseInt(first, 10, 64)
		if err != nil || n < 0 {
			return p.fail(errBadRequest("malformed Content-Length"))
		}
		clen = n
	}

	if chunked {
		p.phase = phaseBodyChunked
		p.chunkRem = -1
		return more
	}
	if clen > 0 {
		if clen > p.maxBody {
			return p.fail(errTooLarge("declared body exceeds limit"))
		}
		p.bodyLen = clen
		p.phase = phaseBodyLength
		return more
	}
	return ready
}

func (p *Parser) parseBodyLength() step {
	want := p.bodyLen - p.bodyGot
	take := int64(len(p.buf))
	if take > want {
		take = want
	}
	if take > 0 {
		p.req.Body = append(p.req.Body, p.buf[:take]...)
		p.buf = p.buf[take:]
		p.bodyGot += take
	}
	if p.bodyGot == p.bodyLen {
		return ready
	}
	return need
}

func (p *Parser) parseChunk() step {
	if p.chunkRem < 0 {
		// expecting a size line
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			if len(p.buf) > maxChunkLine {
				return p.fail(errBadRequest("chunk size line too long"))
			}
			return need
		}
		line, _ := p.takeLine()
		// chunk extensions after ';' are ignored
		if sc := bytes.IndexByte(line, ';'); sc >= 0 {
			line = line[:sc]
		}
		line = bytes.Trim(line, " \t")
		size, err := strconv.ParseInt(string(line), 16, 64)
		if err != nil || size < 0 {
			return p.fail(errBadRequest("malformed chunk size"))
		}
		if size == 0 {
			p.phase = phaseTrailer
			return more
		}
		if p.bodyGot+size > p.maxBody {
			return p.fail(errTooLarge("chunked body exceeds limit"))
		}
		p.chunkRem = size
		return more
	}

	// chunk data plus its trailing CRLF must be complete before we take it
	if int64(len(p.buf)) < p.chunkRem+2 {
		return need
	}
	data := p.buf[:p.chunkRem]
	if p.buf[p.chunkRem] != '\r' || p.buf[p.chunkRem+1] != '\n' {
		return p.fail(errBadRequest("missing CRLF after chunk"))
	}
	p.req.Body = append(p.req.Body, data...)
	p.bodyGot += p.chunkRem
	p.buf = p.buf[p.chunkRem+2:]
	p.chunkRem = -1
	return more
}

// trailer section after the zero chunk: lines until an empty one, all
// discarded.
func (p *Parser) parseTrailerLine() step {
	line, ok := p.takeLine()
	if !ok {
		if len(p.buf) > maxHeaderBytes {
			return p.fail(errBadRequest("trailer section too large"))
		}
		return need
	}
	if len(line) == 0 {
		return ready
	}
	return more
}
