// response serialization: status line, headers, CRLF discipline
package protocol

import (
	"strconv"
	"time"
)

// lookup table for status lines
// flat list instead of a map bc codes are fixed
var statusTable = [512][]byte{
	// 1xx
	100: []byte("100 Continue"),
	101: []byte("101 Switching Protocols"),

	// 2xx
	200: []byte("200 OK"),
	201: []byte("201 Created"),
	202: []byte("202 Accepted"),
	204: []byte("204 No Content"),

	// 3xx
	301: []byte("301 Moved Permanently"),
	302: []byte("302 Found"),
	304: []byte("304 Not Modified"),

	// 4xx
	400: []byte("400 Bad Request"),
	401: []byte("401 Unauthorized"),
	403: []byte("403 Forbidden"),
	404: []byte("404 Not Found"),
	405: []byte("405 Method Not Allowed"),
	408: []byte("408 Request Timeout"),
	409: []byte("409 Conflict"),
	411: []byte("411 Length Required"),
	413: []byte("413 Payload Too Large"),
	414: []byte("414 URI Too Long"),
	431: []byte("431 Request Header Fields Too Large"),

	// 5xx
	500: []byte("500 Internal Server Error"),
	501: []byte("501 Not Implemented"),
	502: []byte("502 Bad Gateway"),
	503: []byte("503 Service Unavailable"),
	504: []byte("504 Gateway Timeout"),
	505: []byte("505 HTTP Version Not Supported"),
}

// Reason returns the reason phrase for code, or "" if it is not in the
// table.
func Reason(code int) string {
	if code < 0 || code >= len(statusTable) || statusTable[code] == nil {
		return ""
	}
	return string(statusTable[code][4:])
}

const (
	proto      = "HTTP/1.1 "
	crlf       = "\r\n"
	serverName = "webserv"

	// RFC 7231 7.1.1.2 IMF-fixdate
	dateLayout = "Mon, 02 Jan 2006 15:04:05 GMT"
)

// Serialize encodes resp. keepAlive is the loop's decision and lands in
// the Connection header unless the handler already set one.
//
// guarantees: exactly one of Content-Length / Transfer-Encoding: chunked;
// Date and Server inserted when absent; control chars in any header value
// reject the whole Response (caller substitutes a 500).
func Serialize(resp *Response, keepAlive bool) ([]byte, *Error) {
	st := statusLine(resp.Status)

	bad := false
	resp.Headers.Each(func(k, v string) {
		if !cleanValue(v) || !cleanName(k) {
			bad = true
		}
	})
	if bad {
		return nil, &Error{Status: StatusInternalServerError, Msg: "control characters in header"}
	}

	noBody := resp.Status == StatusNoContent || resp.Status == StatusNotModified
	if noBody {
		resp.Body = nil
		resp.Chunked = false
	}

	if resp.Chunked {
		resp.Headers.Del("Content-Length")
		resp.Headers.Set("Transfer-Encoding", "chunked")
	} else {
		resp.Headers.Del("Transfer-Encoding")
		resp.Headers.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	}
	if !resp.Headers.Has("Date") {
		resp.Headers.Add("Date", time.Now().UTC().Format(dateLayout))
	}
	if !resp.Headers.Has("Server") {
		resp.Headers.Add("Server", serverName)
	}
	if !resp.Headers.Has("Connection") {
		if keepAlive {
			resp.Headers.Add("Connection", "keep-alive")
		} else {
			resp.Headers.Add("Connection", "close")
		}
	}

	size := len(proto) + len(st) + 2 + 2 + len(resp.Body) + 32
	resp.Headers.Each(func(k, v string) { size += len(k) + len(v) + 4 })
	out := make([]byte, 0, size)

	out = append(out, proto...)
	out = append(out, st...)
	out = append(out, crlf...)
	resp.Headers.Each(func(k, v string) {
		out = append(out, k...)
		out = append(out, ": "...)
		out = append(out, v...)
		out = append(out, crlf...)
	})
	out = append(out, crlf...)

	if resp.HeadOnly {
		return out, nil
	}
	if resp.Chunked {
		if len(resp.Body) > 0 {
			out = append(out, strconv.FormatInt(int64(len(resp.Body)), 16)...)
			out = append(out, crlf...)
			out = append(out, resp.Body...)
			out = append(out, crlf...)
		}
		out = append(out, '0')
		out = append(out, crlf...)
		out = append(out, crlf...)
		return out, nil
	}
	out = append(out, resp.Body...)
	return out, nil
}

func statusLine(code int) []byte {
	if code < 0 || code >= len(statusTable) || statusTable[code] == nil {
		return statusTable[500]
	}
	return statusTable[code]
}

// header values may hold visible chars, space and tab only
func cleanValue(v string) bool {
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c == '\t' {
			continue
		}
		if c < 0x20 || c == 0x7f {
			return false
		}
	}
	return true
}

// header names: printable, no space, no colon
func cleanName(k string) bool {
	if len(k) == 0 {
		return false
	}
	for i := 0; i < len(k); i++ {
		c := k[i]
		if c <= 0x20 || c >= 0x7f || c == ':' {
			return false
		}
	}
	return true
}
