// the dispatch pipeline: pick a handler for a resolved request, map
// failures to error-page responses. pure given its inputs, all side
// effects live in the individual handlers.
package handler

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/kfcemployee/webserv/server/cgi"
	"github.com/kfcemployee/webserv/server/protocol"
	"github.com/kfcemployee/webserv/server/router"
)

// DefaultCGITimeout bounds a CGI child before it is killed for a 504.
const DefaultCGITimeout = 10 * time.Second

// RouteContext is the borrowed routing view handlers work against.
type RouteContext struct {
	Host       *router.VirtualHost
	Route      *router.Route
	Path       string // decoded request path
	Suffix     string // after the matched prefix
	Peer       string
	ServerPort uint16
}

// baseDir is where the route's suffix paths live: the configured
// directory when set, otherwise the vhost root extended by the route
// prefix (so a plain route maps the full request path under root).
func (c *RouteContext) baseDir() string {
	dir := c.Route.Directory
	if dir == "" {
		if c.Route.Prefix == "/" {
			return c.Host.Root
		}
		return filepath.Join(c.Host.Root, filepath.FromSlash(c.Route.Prefix[1:]))
	}
	if !filepath.IsAbs(dir) && !strings.HasPrefix(dir, "./") {
		dir = filepath.Join(c.Host.Root, dir)
	}
	return dir
}

// FSPath resolves the filesystem target for the request.
func (c *RouteContext) FSPath() string {
	base := c.baseDir()
	if c.Suffix == "" {
		return base
	}
	return filepath.Join(base, filepath.FromSlash(c.Suffix))
}

// Dispatcher implements engine.Handler over the routing table.
type Dispatcher struct {
	table      *router.Table
	cgiTimeout time.Duration
	log        *slog.Logger
}

func New(table *router.Table, cgiTimeout time.Duration, log *slog.Logger) *Dispatcher {
	if cgiTimeout <= 0 {
		cgiTimeout = DefaultCGITimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{table: table, cgiTimeout: cgiTimeout, log: log}
}

// Serve turns one request (or parse failure) into a response.
func (d *Dispatcher) Serve(req *protocol.Request, perr *protocol.Error, bindAddr string, bindPort uint16) *protocol.Response {
	hosts := d.table.Hosts(bindAddr, bindPort)
	vh := router.SelectHost(hosts, req.Headers.Get("host"))

	if perr != nil {
		return d.errorResponse(perr.Status, vh)
	}
	if req.Proto != "HTTP/1.1" {
		return d.errorResponse(protocol.StatusVersionNotSupported, vh)
	}

	res, rerr := router.Resolve(hosts, req)
	if rerr != nil {
		resp := d.errorResponse(rerr.Status, vh)
		if rerr.Status == protocol.StatusMethodNotAllowed && res != nil && res.Allow != "" {
			resp.Headers.Set("Allow", res.Allow)
		}
		return resp
	}

	ctx := &RouteContext{
		Host:       res.Host,
		Route:      res.Route,
		Path:       res.Path,
		Suffix:     res.Suffix,
		Peer:       req.Peer,
		ServerPort: bindPort,
	}

	resp, err := d.invoke(req, ctx)
	if err != nil {
		status := statusFor(err)
		d.log.Warn("handler failed", "method", req.Method, "path", req.Path, "status", status, "err", err)
		resp = d.errorResponse(status, ctx.Host)
	}
	if req.Method == protocol.MethodHead {
		resp.HeadOnly = true
	}
	return resp
}

// invoke applies the dispatch precedence, first match wins.
func (d *Dispatcher) invoke(req *protocol.Request, ctx *RouteContext) (*protocol.Response, error) {
	rt := ctx.Route

	if rt.Redirect != "" {
		return redirect(rt), nil
	}
	if req.Method == protocol.MethodDelete {
		return deleteFile(ctx)
	}
	if rt.UploadDir != "" && req.Method == protocol.MethodPost {
		return upload(req, ctx)
	}
	if script := d.findScript(ctx); script != nil {
		return cgi.Execute(req, script, ctx.Host.Root, ctx.Host.Name, ctx.ServerPort, d.cgiTimeout)
	}

	target := ctx.FSPath()
	info, err := os.Stat(target)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		if rt.DefaultFile != "" {
			def := filepath.Join(target, rt.DefaultFile)
			if fi, err := os.Stat(def); err == nil && !fi.IsDir() {
				return serveFile(def)
			}
		}
		if rt.Listing {
			return listing(target, ctx.Path)
		}
		return nil, fs.ErrPermission
	}
	return serveFile(target)
}

// findScript walks the suffix for the first component with the route's
// CGI extension. SCRIPT_NAME is the prefix up to and including the script
// component, PATH_INFO whatever follows it.
func (d *Dispatcher) findScript(ctx *RouteContext) *cgi.Script {
	if ctx.Route.CGIExt == "" || ctx.Suffix == "" {
		return nil
	}
	segs := strings.Split(ctx.Suffix, "/")
	for i, seg := range segs {
		if path.Ext(seg) != ctx.Route.CGIExt {
			continue
		}
		interp := ctx.Host.CGI[ctx.Route.CGIExt]
		if interp == "" {
			return nil
		}
		name := ctx.Route.Prefix
		if name == "/" {
			name = ""
		}
		name = name + "/" + strings.Join(segs[:i+1], "/")
		info := ""
		if i+1 < len(segs) {
			info = "/" + strings.Join(segs[i+1:], "/")
		}
		return &cgi.Script{
			Path:        filepath.Join(ctx.baseDir(), filepath.FromSlash(strings.Join(segs[:i+1], "/"))),
			Name:        name,
			PathInfo:    info,
			Interpreter: interp,
		}
	}
	return nil
}

// statusFor maps handler I/O failures to wire statuses.
func statusFor(err error) int {
	var perr *protocol.Error
	if errors.As(err, &perr) {
		return perr.Status
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return protocol.StatusNotFound
	case errors.Is(err, fs.ErrPermission):
		return protocol.StatusForbidden
	}
	return protocol.StatusInternalServerError
}
