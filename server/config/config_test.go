package config

import (
	"io"
	"log/slog"
	"testing"

	"github.com/kfcemployee/webserv/server/protocol"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const baseDoc = `
client_timeout_secs = 5
client_max_body_size = 1048576

[[servers]]
server_address = "127.0.0.1"
ports = [8080, 8081]
server_name = "localhost"
root = "/var/www"

[servers.routes."/"]
methods = ["GET", "HEAD"]
default_file = "index.html"

[servers.routes."/upload/"]
methods = ["POST"]
upload_dir = "uploads"

[servers.routes."/old"]
methods = ["GET"]
redirect = "/new"
redirect_type = "301"

[servers.errors."404"]
filename = "404.html"

[servers.cgi_handlers]
".py" = "/usr/bin/python3"
`

func TestParseBasic(t *testing.T) {
	cfg, err := Parse(baseDoc, quiet())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TimeoutSecs != 5 || cfg.MaxBodySize != 1048576 {
		t.Errorf("limits = %d/%d", cfg.TimeoutSecs, cfg.MaxBodySize)
	}
	if len(cfg.Binds) != 2 {
		t.Fatalf("binds = %v", cfg.Binds)
	}

	hosts := cfg.Table.Hosts("127.0.0.1", 8080)
	if len(hosts) != 1 {
		t.Fatalf("hosts = %d", len(hosts))
	}
	vh := hosts[0]
	if vh.Name != "localhost" || vh.Root != "/var/www" {
		t.Errorf("vh = %+v", vh)
	}
	if vh.ErrorPages[404] != "404.html" {
		t.Errorf("error pages = %v", vh.ErrorPages)
	}
	if vh.CGI[".py"] != "/usr/bin/python3" {
		t.Errorf("cgi = %v", vh.CGI)
	}

	// trailing slash got normalized away
	rt, suffix := vh.Match("/upload/pic.png")
	if rt == nil || rt.Prefix != "/upload" || suffix != "pic.png" {
		t.Errorf("match = %+v %q", rt, suffix)
	}
	if rt.UploadDir != "uploads" {
		t.Errorf("upload_dir = %q", rt.UploadDir)
	}

	old, _ := vh.Match("/old")
	if old.Redirect != "/new" || old.RedirectTo != protocol.StatusMovedPermanently {
		t.Errorf("redirect = %+v", old)
	}
}

func TestParseDefaults(t *testing.T) {
	doc := `
[[servers]]
server_address = "127.0.0.1"
ports = [8080]
server_name = "a"
root = "/srv"

[servers.routes."/"]
methods = ["GET"]
`
	cfg, err := Parse(doc, quiet())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TimeoutSecs != DefaultTimeoutSecs {
		t.Errorf("timeout = %d", cfg.TimeoutSecs)
	}
	if cfg.MaxBodySize != DefaultMaxBodySize {
		t.Errorf("max body = %d", cfg.MaxBodySize)
	}
}

// a broken entry is skipped, the valid one still starts
func TestParsePartialStart(t *testing.T) {
	doc := `
[[servers]]
server_address = "not-an-ip"
ports = [8080]
server_name = "broken"
root = "/srv"

[servers.routes."/"]
methods = ["GET"]

[[servers]]
server_address = "127.0.0.1"
ports = [8080]
server_name = "ok"
root = "/srv"

[servers.routes."/"]
methods = ["GET"]
`
	cfg, err := Parse(doc, quiet())
	if err != nil {
		t.Fatal(err)
	}
	hosts := cfg.Table.Hosts("127.0.0.1", 8080)
	if len(hosts) != 1 || hosts[0].Name != "ok" {
		t.Errorf("hosts = %+v", hosts)
	}
}

func TestParseZeroValidServersFatal(t *testing.T) {
	doc := `
[[servers]]
server_address = "999.0.0.1"
ports = [8080]
server_name = "broken"
root = "/srv"

[servers.routes."/"]
methods = ["GET"]
`
	if _, err := Parse(doc, quiet()); err == nil {
		t.Fatal("expected fatal config error")
	}
}

// same (address, port) with distinct names is virtual hosting; a repeated
// name on the same bind drops the later entry
func TestParseDuplicateVirtualHost(t *testing.T) {
	doc := `
[[servers]]
server_address = "127.0.0.1"
ports = [8080]
server_name = "site"
root = "/srv/a"

[servers.routes."/"]
methods = ["GET"]

[[servers]]
server_address = "127.0.0.1"
ports = [8080]
server_name = "other"
root = "/srv/b"

[servers.routes."/"]
methods = ["GET"]

[[servers]]
server_address = "127.0.0.1"
ports = [8080]
server_name = "site"
root = "/srv/c"

[servers.routes."/"]
methods = ["GET"]
`
	cfg, err := Parse(doc, quiet())
	if err != nil {
		t.Fatal(err)
	}
	hosts := cfg.Table.Hosts("127.0.0.1", 8080)
	if len(hosts) != 2 {
		t.Fatalf("hosts = %d, want 2", len(hosts))
	}
	if hosts[0].Root != "/srv/a" {
		t.Errorf("first entry root = %q", hosts[0].Root)
	}
}

func TestParseRejectsBadRoutes(t *testing.T) {
	bad := []string{
		// unknown method
		`[[servers]]
server_address = "127.0.0.1"
ports = [1]
server_name = "a"
root = "/srv"
[servers.routes."/"]
methods = ["FETCH"]`,
		// redirect_type without redirect
		`[[servers]]
server_address = "127.0.0.1"
ports = [1]
server_name = "a"
root = "/srv"
[servers.routes."/"]
methods = ["GET"]
redirect_type = "301"`,
		// bad redirect_type
		`[[servers]]
server_address = "127.0.0.1"
ports = [1]
server_name = "a"
root = "/srv"
[servers.routes."/"]
methods = ["GET"]
redirect = "/x"
redirect_type = "307"`,
		// cgi extension without dot
		`[[servers]]
server_address = "127.0.0.1"
ports = [1]
server_name = "a"
root = "/srv"
[servers.routes."/"]
methods = ["GET"]
cgi_extension = "py"`,
		// error page for unknown status
		`[[servers]]
server_address = "127.0.0.1"
ports = [1]
server_name = "a"
root = "/srv"
[servers.errors."299"]
filename = "x.html"
[servers.routes."/"]
methods = ["GET"]`,
	}
	for i, doc := range bad {
		if _, err := Parse(doc, quiet()); err == nil {
			t.Errorf("case %d accepted", i)
		}
	}
}
