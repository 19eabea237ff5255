package cgi

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kfcemployee/webserv/server/protocol"
)

func writeScript(t *testing.T, body string) *Script {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.cgi")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	return &Script{
		Path:        path,
		Name:        "/cgi-bin/test.cgi",
		PathInfo:    "",
		Interpreter: "/bin/sh",
	}
}

func testRequest() *protocol.Request {
	r := &protocol.Request{Method: "GET", Path: "/cgi-bin/test.cgi", Proto: "HTTP/1.1", Peer: "10.0.0.7:5123"}
	r.Headers.Add("host", "localhost")
	r.Headers.Add("x-custom-token", "abc")
	return r
}

func TestExecuteBasic(t *testing.T) {
	s := writeScript(t, "echo \"Content-Type: text/plain\"\necho\necho hello\n")
	resp, err := Execute(testRequest(), s, "/srv", "localhost", 8080, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != protocol.StatusOK {
		t.Errorf("status = %d", resp.Status)
	}
	if ct := resp.Headers.Get("Content-Type"); ct != "text/plain" {
		t.Errorf("content-type = %q", ct)
	}
	if strings.TrimSpace(string(resp.Body)) != "hello" {
		t.Errorf("body = %q", resp.Body)
	}
}

func TestExecuteStatusHeader(t *testing.T) {
	s := writeScript(t, "printf 'Status: 404 Not Found\\r\\nContent-Type: text/plain\\r\\n\\r\\nmissing'\n")
	resp, err := Execute(testRequest(), s, "/srv", "localhost", 8080, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != protocol.StatusNotFound {
		t.Errorf("status = %d", resp.Status)
	}
	if string(resp.Body) != "missing" {
		t.Errorf("body = %q", resp.Body)
	}
}

func TestExecuteEnvironment(t *testing.T) {
	s := writeScript(t, "echo \"Content-Type: text/plain\"\necho\n"+
		"echo \"$REQUEST_METHOD|$QUERY_STRING|$SERVER_PROTOCOL|$REMOTE_ADDR|$HTTP_X_CUSTOM_TOKEN|$SERVER_PORT|$PATH_TRANSLATED\"\n")
	req := testRequest()
	req.RawQuery = "a=1&b=2"
	resp, err := Execute(req, s, "/srv", "localhost", 8080, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	got := strings.TrimSpace(string(resp.Body))
	// empty PATH_INFO still translates to the document root
	want := "GET|a=1&b=2|HTTP/1.1|10.0.0.7|abc|8080|/srv"
	if got != want {
		t.Errorf("env line = %q, want %q", got, want)
	}
}

func TestExecutePathInfo(t *testing.T) {
	s := writeScript(t, "echo \"Content-Type: text/plain\"\necho\n"+
		"echo \"$SCRIPT_NAME|$PATH_INFO|$PATH_TRANSLATED\"\n")
	s.Name = "/cgi-bin/test.cgi"
	s.PathInfo = "/extra/bits"
	resp, err := Execute(testRequest(), s, "/srv", "localhost", 8080, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	got := strings.TrimSpace(string(resp.Body))
	want := "/cgi-bin/test.cgi|/extra/bits|/srv/extra/bits"
	if got != want {
		t.Errorf("env line = %q, want %q", got, want)
	}
}

func TestExecuteStdinBody(t *testing.T) {
	s := writeScript(t, "echo \"Content-Type: text/plain\"\necho\ncat\n")
	req := testRequest()
	req.Method = "POST"
	req.Body = []byte("posted data")
	resp, err := Execute(req, s, "/srv", "localhost", 8080, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if string(resp.Body) != "posted data" {
		t.Errorf("body = %q", resp.Body)
	}
}

func TestExecuteTimeout(t *testing.T) {
	s := writeScript(t, "exec sleep 5\n")
	_, err := Execute(testRequest(), s, "/srv", "localhost", 8080, 100*time.Millisecond)
	var perr *protocol.Error
	if !errors.As(err, &perr) || perr.Status != protocol.StatusGatewayTimeout {
		t.Fatalf("err = %v, want 504", err)
	}
}

func TestExecuteMissingScript(t *testing.T) {
	s := &Script{Path: "/nonexistent/x.cgi", Interpreter: "/bin/sh"}
	_, err := Execute(testRequest(), s, "/srv", "localhost", 8080, time.Second)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want not-exist", err)
	}
}

func TestExecuteBadOutput(t *testing.T) {
	s := writeScript(t, "printf 'no header section at all'\n")
	_, err := Execute(testRequest(), s, "/srv", "localhost", 8080, time.Second)
	var perr *protocol.Error
	if !errors.As(err, &perr) || perr.Status != protocol.StatusBadGateway {
		t.Fatalf("err = %v, want 502", err)
	}
}
