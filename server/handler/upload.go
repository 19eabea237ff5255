// POST body upload
package handler

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kfcemployee/webserv/server/protocol"
)

// upload stores the request body under the route's upload_dir and answers
// 201 with the saved name.
func upload(req *protocol.Request, ctx *RouteContext) (*protocol.Response, error) {
	if len(req.Body) == 0 {
		return nil, &protocol.Error{Status: protocol.StatusBadRequest, Msg: "no file data provided"}
	}

	dir := ctx.Route.UploadDir
	if !filepath.IsAbs(dir) && !strings.HasPrefix(dir, "./") {
		dir = filepath.Join(ctx.Host.Root, dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	name := uploadName(req)
	target := filepath.Join(dir, name)
	if err := os.WriteFile(target, req.Body, 0o644); err != nil {
		return nil, err
	}

	body := fmt.Sprintf(`{"status": "success", "message": "File uploaded successfully", "filename": %q}`, name)
	return protocol.NewResponse(protocol.StatusCreated, "application/json", []byte(body)), nil
}

// uploadName keeps the client's filename extension when one came in via
// Content-Disposition, otherwise generates upload_<ts>_<hash>.
func uploadName(req *protocol.Request) string {
	h := fnv.New64a()
	h.Write(req.Body)
	gen := fmt.Sprintf("upload_%d_%x", time.Now().Unix(), h.Sum64()&0xffff)

	cd := req.Headers.Get("content-disposition")
	if i := strings.Index(cd, "filename="); i >= 0 {
		name := cd[i+len("filename="):]
		if j := strings.IndexByte(name, ';'); j >= 0 {
			name = name[:j]
		}
		name = strings.Trim(strings.TrimSpace(name), `"'`)
		// only the base name, and only its extension
		if ext := filepath.Ext(filepath.Base(name)); ext != "" && ext != "." {
			return gen + ext
		}
	}
	return gen
}
