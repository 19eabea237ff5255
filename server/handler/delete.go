// DELETE handler
package handler

import (
	"io/fs"
	"os"

	"github.com/kfcemployee/webserv/server/protocol"
)

// deleteFile removes the resolved target. directories are refused.
func deleteFile(ctx *RouteContext) (*protocol.Response, error) {
	target := ctx.FSPath()

	info, err := os.Stat(target)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fs.ErrPermission
	}
	if err := os.Remove(target); err != nil {
		return nil, err
	}
	return protocol.NewResponse(protocol.StatusOK, "text/plain", []byte("File deleted successfully")), nil
}
