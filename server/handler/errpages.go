// error responses: vhost-configured pages with a built-in fallback
package handler

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kfcemployee/webserv/server/protocol"
	"github.com/kfcemployee/webserv/server/router"
)

// errorResponse builds the response body for status: the vhost's mapped
// page when present and readable, the minimal built-in page otherwise.
func (d *Dispatcher) errorResponse(status int, vh *router.VirtualHost) *protocol.Response {
	if vh != nil {
		if page, ok := vh.ErrorPages[status]; ok {
			path := page
			if !filepath.IsAbs(path) && !strings.HasPrefix(path, "./") {
				path = filepath.Join(vh.Root, path)
			}
			if body, err := os.ReadFile(path); err == nil {
				return protocol.NewResponse(status, "text/html", body)
			}
			d.log.Debug("error page unreadable, using builtin", "status", status, "page", page)
		}
	}
	return protocol.NewResponse(status, "text/html", builtinPage(status))
}

func builtinPage(status int) []byte {
	reason := protocol.Reason(status)
	if reason == "" {
		reason = "Error"
	}
	line := strconv.Itoa(status) + " " + reason
	return []byte("<html><head><title>" + line + "</title></head><body><h1>" +
		line + "</h1><hr><p>webserv</p></body></html>\n")
}
