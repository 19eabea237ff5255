// static file serving
package handler

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/kfcemployee/webserv/server/protocol"
)

// extension -> content type. a fixed table instead of the mime package so
// answers don't depend on the host's /etc/mime.types.
var mimeTypes = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".xml":  "application/xml",
}

func mimeType(path string) string {
	if t, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return t
	}
	return "application/octet-stream"
}

func serveFile(path string) (*protocol.Response, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return protocol.NewResponse(protocol.StatusOK, mimeType(path), body), nil
}
