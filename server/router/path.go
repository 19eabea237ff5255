// path validation and decoding. validation runs before AND after
// percent-decoding so an encoded "%2e%2e" can't sneak past the guard.
package router

import (
	"strings"

	"github.com/kfcemployee/webserv/server/protocol"
)

// CleanPath validates the raw request path and returns the decoded form.
// any traversal component, NUL or backslash is a 400 before route match.
func CleanPath(raw string) (string, *protocol.Error) {
	if raw == "" || raw[0] != '/' {
		return "", &protocol.Error{Status: protocol.StatusBadRequest, Msg: "target must be absolute"}
	}
	if err := checkPath(raw); err != nil {
		return "", err
	}
	decoded, ok := pctDecode(raw)
	if !ok {
		return "", &protocol.Error{Status: protocol.StatusBadRequest, Msg: "malformed percent encoding"}
	}
	if err := checkPath(decoded); err != nil {
		return "", err
	}
	return decoded, nil
}

func checkPath(p string) *protocol.Error {
	if strings.IndexByte(p, 0) >= 0 || strings.IndexByte(p, '\\') >= 0 {
		return &protocol.Error{Status: protocol.StatusBadRequest, Msg: "forbidden byte in path"}
	}
	for seg := range strings.SplitSeq(p, "/") {
		if seg == ".." {
			return &protocol.Error{Status: protocol.StatusBadRequest, Msg: "directory traversal"}
		}
	}
	return nil
}

func pctDecode(s string) (string, bool) {
	if strings.IndexByte(s, '%') < 0 {
		return s, true
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			b.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", false
		}
		hi, ok1 := unhex(s[i+1])
		lo, ok2 := unhex(s[i+2])
		if !ok1 || !ok2 {
			return "", false
		}
		b.WriteByte(hi<<4 | lo)
		i += 2
	}
	return b.String(), true
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
