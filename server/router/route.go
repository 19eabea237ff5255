// virtual host and route model, immutable after config load
package router

import (
	"strconv"
	"strings"
)

// Route binds a path prefix to handler configuration. prefixes are
// normalized: no trailing '/' except the root route.
type Route struct {
	Prefix      string
	Methods     []string // allowed method tokens, uppercased
	Directory   string   // filesystem root override for this route
	DefaultFile string
	Listing     bool
	Redirect    string
	RedirectTo  int // 301 or 302, 0 when Redirect is unset
	UploadDir   string
	CGIExt      string // ".py" etc
}

// Allows reports if method may hit this route.
func (r *Route) Allows(method string) bool {
	for _, m := range r.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// VirtualHost is one server identity on a listener, selected by the Host
// header.
type VirtualHost struct {
	Name        string // server_name, lowercased
	Root        string
	AdminAccess bool
	Routes      []*Route
	ErrorPages  map[int]string    // status -> filename
	CGI         map[string]string // ".ext" -> interpreter path
}

// Match selects the route whose prefix is the longest boundary-respecting
// prefix of path, plus the suffix after it. prefix P matches Q iff Q == P
// or Q starts with P + "/", so "/ap" never matches "/apple".
func (v *VirtualHost) Match(path string) (*Route, string) {
	var best *Route
	for _, rt := range v.Routes {
		if !prefixMatch(rt.Prefix, path) {
			continue
		}
		if best == nil || len(rt.Prefix) > len(best.Prefix) {
			best = rt
		}
	}
	if best == nil {
		return nil, ""
	}
	if best.Prefix == "/" {
		return best, strings.TrimPrefix(path, "/")
	}
	return best, strings.TrimPrefix(path[len(best.Prefix):], "/")
}

func prefixMatch(prefix, path string) bool {
	if prefix == "/" {
		return strings.HasPrefix(path, "/")
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

// Table maps (address, port) to its ordered virtual hosts; the first one
// is the default when no Host matches.
type Table struct {
	hosts map[string][]*VirtualHost
}

func NewTable() *Table {
	return &Table{hosts: make(map[string][]*VirtualHost)}
}

func bindKey(addr string, port uint16) string {
	return addr + ":" + strconv.Itoa(int(port))
}

// AddHost appends vh to the (addr, port) list. returns false when the
// same server_name is already bound there.
func (t *Table) AddHost(addr string, port uint16, vh *VirtualHost) bool {
	key := bindKey(addr, port)
	for _, have := range t.hosts[key] {
		if have.Name == vh.Name {
			return false
		}
	}
	t.hosts[key] = append(t.hosts[key], vh)
	return true
}

// Hosts returns the vhost list for a bind, nil when nothing listens there.
func (t *Table) Hosts(addr string, port uint16) []*VirtualHost {
	return t.hosts[bindKey(addr, port)]
}

// Binds lists every (addr, port) with at least one vhost.
func (t *Table) Binds() []string {
	keys := make([]string, 0, len(t.hosts))
	for k := range t.hosts {
		keys = append(keys, k)
	}
	return keys
}

// SelectHost picks the vhost for a Host header value: port stripped,
// case-insensitive, first entry when nothing matches.
func SelectHost(hosts []*VirtualHost, hostHeader string) *VirtualHost {
	if len(hosts) == 0 {
		return nil
	}
	name := strings.ToLower(hostHeader)
	if i := strings.LastIndexByte(name, ':'); i >= 0 {
		name = name[:i]
	}
	for _, vh := range hosts {
		if vh.Name == name {
			return vh
		}
	}
	return hosts[0]
}
