// directory listing HTML
package handler

import (
	"html"
	"os"
	"sort"
	"strings"

	"github.com/kfcemployee/webserv/server/protocol"
)

// listing renders an index page for dirPath. directories sort first, then
// files, name order inside each group.
func listing(dirPath, reqPath string) (*protocol.Response, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		di, dj := entries[i].IsDir(), entries[j].IsDir()
		if di != dj {
			return di
		}
		return entries[i].Name() < entries[j].Name()
	})

	esc := html.EscapeString(reqPath)
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><head><title>Index of ")
	b.WriteString(esc)
	b.WriteString("</title></head><body><h1>Index of ")
	b.WriteString(esc)
	b.WriteString("</h1><hr><pre>")

	if reqPath != "/" {
		parent := "/"
		if i := strings.LastIndexByte(strings.TrimSuffix(reqPath, "/"), '/'); i > 0 {
			parent = reqPath[:i]
		}
		b.WriteString("<a href=\"" + html.EscapeString(parent) + "\">../</a>\n")
	}

	base := reqPath
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		b.WriteString("<a href=\"" + html.EscapeString(base+e.Name()) + "\">" + html.EscapeString(name) + "</a>\n")
	}
	b.WriteString("</pre><hr></body></html>\n")

	return protocol.NewResponse(protocol.StatusOK, "text/html", []byte(b.String())), nil
}
