package server

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kfcemployee/webserv/server/config"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// a full instance: two vhosts on one port, default first
func startServer(t *testing.T, port int) (defRoot, fooRoot string) {
	t.Helper()
	defRoot = t.TempDir()
	fooRoot = t.TempDir()
	os.WriteFile(filepath.Join(defRoot, "index.html"), []byte("hi"), 0o644)
	os.WriteFile(filepath.Join(fooRoot, "index.html"), []byte("foo site"), 0o644)

	doc := fmt.Sprintf(`
client_timeout_secs = 5
client_max_body_size = 100

[[servers]]
server_address = "127.0.0.1"
ports = [%d]
server_name = "default.local"
root = %q

[servers.routes."/"]
methods = ["GET", "HEAD", "DELETE", "POST"]
default_file = "index.html"

[[servers]]
server_address = "127.0.0.1"
ports = [%d]
server_name = "foo.example"
root = %q

[servers.routes."/"]
methods = ["GET"]
default_file = "index.html"
`, port, defRoot, port, fooRoot)

	cfg, err := config.Parse(doc, quiet())
	if err != nil {
		t.Fatal(err)
	}
	srv, err := New(cfg, quiet())
	if err != nil {
		t.Fatal(err)
	}
	go srv.Run()
	t.Cleanup(srv.Stop)
	return defRoot, fooRoot
}

func dial(t *testing.T, port int) net.Conn {
	t.Helper()
	target := fmt.Sprintf("127.0.0.1:%d", port)
	var conn net.Conn
	var err error
	for range 20 {
		conn, err = net.DialTimeout("tcp", target, 100*time.Millisecond)
		if err == nil {
			t.Cleanup(func() { conn.Close() })
			return conn
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("server never came up: %v", err)
	return nil
}

func get(t *testing.T, conn net.Conn, br *bufio.Reader, raw string) (*http.Response, string) {
	t.Helper()
	if _, err := conn.Write([]byte(raw)); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestServeIndex(t *testing.T) {
	startServer(t, 18461)
	conn := dial(t, 18461)
	br := bufio.NewReader(conn)

	resp, body := get(t, conn, br, "GET / HTTP/1.1\r\nHost: localhost\r\n\r\n")
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/html" {
		t.Errorf("content-type = %q", ct)
	}
	if cl := resp.Header.Get("Content-Length"); cl != "2" {
		t.Errorf("content-length = %q", cl)
	}
	if body != "hi" {
		t.Errorf("body = %q", body)
	}
}

func TestTraversalRejected(t *testing.T) {
	startServer(t, 18462)
	conn := dial(t, 18462)
	br := bufio.NewReader(conn)

	resp, _ := get(t, conn, br, "GET /../etc/passwd HTTP/1.1\r\nHost: localhost\r\n\r\n")
	if resp.StatusCode != 400 {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestBodyOverLimit(t *testing.T) {
	startServer(t, 18463)
	conn := dial(t, 18463)
	br := bufio.NewReader(conn)

	resp, _ := get(t, conn, br, "POST / HTTP/1.1\r\nHost: localhost\r\nContent-Length: 101\r\n\r\n")
	if resp.StatusCode != 413 {
		t.Fatalf("status = %d, want 413", resp.StatusCode)
	}
	// and the connection goes down
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := br.ReadByte(); err != io.EOF {
		t.Errorf("expected close after 413, got %v", err)
	}
}

func TestDeleteThenGone(t *testing.T) {
	defRoot, _ := startServer(t, 18464)
	os.WriteFile(filepath.Join(defRoot, "file.txt"), []byte("bye"), 0o644)

	conn := dial(t, 18464)
	br := bufio.NewReader(conn)

	resp, _ := get(t, conn, br, "DELETE /file.txt HTTP/1.1\r\nHost: localhost\r\n\r\n")
	if resp.StatusCode != 200 {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp, _ = get(t, conn, br, "GET /file.txt HTTP/1.1\r\nHost: localhost\r\n\r\n")
	if resp.StatusCode != 404 {
		t.Errorf("get after delete = %d", resp.StatusCode)
	}
}

// two requests on one connection: a hit then a miss, both answered before
// the connection closes
func TestKeepAliveHitThenMiss(t *testing.T) {
	startServer(t, 18465)
	conn := dial(t, 18465)
	br := bufio.NewReader(conn)

	resp, body := get(t, conn, br, "GET / HTTP/1.1\r\nHost: localhost\r\nConnection: keep-alive\r\n\r\n")
	if resp.StatusCode != 200 || body != "hi" {
		t.Fatalf("first = %d %q", resp.StatusCode, body)
	}
	resp, _ = get(t, conn, br, "GET /x.html HTTP/1.1\r\nHost: localhost\r\n\r\n")
	if resp.StatusCode != 404 {
		t.Errorf("second = %d", resp.StatusCode)
	}
}

// a 505 answers the request without tearing the connection down when the
// client asked to keep it
func TestVersionNotSupportedKeepsAlive(t *testing.T) {
	startServer(t, 18467)
	conn := dial(t, 18467)
	br := bufio.NewReader(conn)

	resp, _ := get(t, conn, br, "GET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n")
	if resp.StatusCode != 505 {
		t.Fatalf("status = %d, want 505", resp.StatusCode)
	}
	if got := resp.Header.Get("Connection"); got != "keep-alive" {
		t.Errorf("connection = %q, want keep-alive", got)
	}
	// the same connection still serves a proper request
	resp, body := get(t, conn, br, "GET / HTTP/1.1\r\nHost: localhost\r\n\r\n")
	if resp.StatusCode != 200 || body != "hi" {
		t.Errorf("follow-up = %d %q", resp.StatusCode, body)
	}
}

func TestVirtualHostSelection(t *testing.T) {
	startServer(t, 18466)

	cases := []struct {
		host string
		body string
	}{
		{"foo.example", "foo site"},
		{"FOO.EXAMPLE:18466", "foo site"},
		{"bar.example", "hi"}, // no match falls back to the first vhost
	}
	for _, tc := range cases {
		conn := dial(t, 18466)
		br := bufio.NewReader(conn)
		_, body := get(t, conn, br, "GET / HTTP/1.1\r\nHost: "+tc.host+"\r\n\r\n")
		if body != tc.body {
			t.Errorf("Host %q: body = %q, want %q", tc.host, body, tc.body)
		}
		conn.Close()
	}
}
