// request -> (virtual host, route) resolution
package router

import (
	"strings"

	"github.com/kfcemployee/webserv/server/protocol"
)

// Resolved is everything a handler needs from routing.
type Resolved struct {
	Host   *VirtualHost
	Route  *Route
	Path   string // normalized, decoded request path
	Suffix string // path after the matched prefix, no leading '/'
	Allow  string // populated on 405
}

// Resolve runs vhost selection, the traversal guard and the longest-prefix
// match for one request. errors carry the wire status (400/404/405, or
// 500 when no virtual host is bound).
func Resolve(hosts []*VirtualHost, req *protocol.Request) (*Resolved, *protocol.Error) {
	vh := SelectHost(hosts, req.Headers.Get("host"))
	if vh == nil {
		return nil, &protocol.Error{Status: protocol.StatusInternalServerError, Msg: "no virtual host bound"}
	}

	path, perr := CleanPath(req.Path)
	if perr != nil {
		return &Resolved{Host: vh}, perr
	}

	rt, suffix := vh.Match(path)
	if rt == nil {
		return &Resolved{Host: vh, Path: path},
			&protocol.Error{Status: protocol.StatusNotFound, Msg: "no route for " + path}
	}

	res := &Resolved{Host: vh, Route: rt, Path: path, Suffix: suffix}
	if !rt.Allows(req.Method) {
		res.Allow = strings.Join(rt.Methods, ", ")
		return res, &protocol.Error{Status: protocol.StatusMethodNotAllowed, Msg: req.Method + " not allowed"}
	}
	return res, nil
}
