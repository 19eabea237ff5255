// configured redirects
package handler

import (
	"html"

	"github.com/kfcemployee/webserv/server/protocol"
	"github.com/kfcemployee/webserv/server/router"
)

func redirect(rt *router.Route) *protocol.Response {
	body := "<html><body><a href=\"" + html.EscapeString(rt.Redirect) + "\">" +
		protocol.Reason(rt.RedirectTo) + "</a></body></html>\n"
	resp := protocol.NewResponse(rt.RedirectTo, "text/html", []byte(body))
	resp.Headers.Set("Location", rt.Redirect)
	return resp
}
