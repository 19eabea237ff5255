// CGI/1.1 execution: spawn the configured interpreter with the script,
// body on stdin, response parsed off stdout. a context deadline bounds
// the child; on expiry it is killed and the caller gets a 504.
//
// the loop stalls while a child runs, for at most the timeout plus the
// one-second WaitDelay grace for its pipes. that is the
// documented bounded stall for CGI, every other handler is plain
// filesystem work.
package cgi

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kfcemployee/webserv/server/protocol"
)

// Script is the resolved CGI target.
type Script struct {
	Path        string // filesystem path of the script
	Name        string // SCRIPT_NAME: route prefix + script component
	PathInfo    string // request path after the script component
	Interpreter string
}

// Execute runs the script and parses its output into a Response.
func Execute(req *protocol.Request, s *Script, root, serverName string, port uint16, timeout time.Duration) (*protocol.Response, error) {
	info, err := os.Stat(s.Path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, &protocol.Error{Status: protocol.StatusForbidden, Msg: "script is a directory"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.Interpreter, s.Path)
	cmd.Dir = filepath.Dir(s.Path)
	cmd.Env = buildEnv(req, s, root, serverName, port)
	cmd.Stdin = bytes.NewReader(req.Body)
	// don't hang on pipes held open by the script's own children
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &protocol.Error{Status: protocol.StatusGatewayTimeout, Msg: "cgi timeout"}
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, &protocol.Error{Status: protocol.StatusInternalServerError, Msg: "cgi: " + msg}
	}

	return parseOutput(stdout.Bytes())
}

// buildEnv assembles the CGI/1.1 environment.
func buildEnv(req *protocol.Request, s *Script, root, serverName string, port uint16) []string {
	uri := req.Path
	if req.RawQuery != "" {
		uri += "?" + req.RawQuery
	}
	peer := req.Peer
	if i := strings.LastIndexByte(peer, ':'); i >= 0 {
		peer = peer[:i]
	}

	env := []string{
		"GATEWAY_INTERFACE=CGI/1.1",
		"REQUEST_METHOD=" + req.Method,
		"REQUEST_URI=" + uri,
		"QUERY_STRING=" + req.RawQuery,
		"SERVER_PROTOCOL=HTTP/1.1",
		"SCRIPT_NAME=" + s.Name,
		"SCRIPT_FILENAME=" + s.Path,
		"PATH_INFO=" + s.PathInfo,
		"PATH_TRANSLATED=" + pathTranslated(root, s.PathInfo),
		"DOCUMENT_ROOT=" + root,
		"REMOTE_ADDR=" + peer,
		"SERVER_NAME=" + serverName,
		"SERVER_PORT=" + strconv.Itoa(int(port)),
		"SERVER_SOFTWARE=webserv",
	}
	if len(req.Body) > 0 {
		env = append(env, "CONTENT_LENGTH="+strconv.Itoa(len(req.Body)))
	}
	if ct := req.Headers.Get("content-type"); ct != "" {
		env = append(env, "CONTENT_TYPE="+ct)
	}

	// every request header X-Y-Z becomes HTTP_X_Y_Z
	req.Headers.Each(func(k, v string) {
		name := "HTTP_" + strings.ReplaceAll(strings.ToUpper(k), "-", "_")
		env = append(env, name+"="+v)
	})
	return env
}

// PATH_TRANSLATED is the document root extended by PATH_INFO; with no
// extra path segments it is the root itself.
func pathTranslated(root, pathInfo string) string {
	if pathInfo == "" {
		return root
	}
	return filepath.Join(root, filepath.FromSlash(pathInfo))
}

// parseOutput splits CGI output into headers and body. a Status: header
// overrides the default 200.
func parseOutput(out []byte) (*protocol.Response, error) {
	head, body, ok := splitHead(out)
	if !ok {
		return nil, &protocol.Error{Status: protocol.StatusBadGateway, Msg: "cgi output has no header section"}
	}

	resp := &protocol.Response{Status: protocol.StatusOK, Body: body}
	for line := range strings.SplitSeq(head, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		name, val, found := strings.Cut(line, ":")
		if !found {
			return nil, &protocol.Error{Status: protocol.StatusBadGateway, Msg: "malformed cgi header"}
		}
		val = strings.TrimSpace(val)
		if strings.EqualFold(name, "Status") {
			fields := strings.Fields(val)
			if len(fields) == 0 {
				return nil, &protocol.Error{Status: protocol.StatusBadGateway, Msg: "malformed cgi Status"}
			}
			code, err := strconv.Atoi(fields[0])
			if err != nil {
				return nil, &protocol.Error{Status: protocol.StatusBadGateway, Msg: "malformed cgi Status"}
			}
			resp.Status = code
			continue
		}
		resp.Headers.Add(name, val)
	}
	if !resp.Headers.Has("Content-Type") {
		resp.Headers.Add("Content-Type", "text/html")
	}
	return resp, nil
}

// splitHead finds the blank line ending the header section, accepting
// CRLF and bare LF framing.
func splitHead(out []byte) (head string, body []byte, ok bool) {
	if i := bytes.Index(out, []byte("\r\n\r\n")); i >= 0 {
		return string(out[:i]), out[i+4:], true
	}
	if i := bytes.Index(out, []byte("\n\n")); i >= 0 {
		return string(out[:i]), out[i+2:], true
	}
	return "", nil, false
}
