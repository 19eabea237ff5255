// TOML configuration loading and validation. a broken server entry is
// skipped so the rest can still start; zero valid servers is fatal.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/kfcemployee/webserv/server/protocol"
	"github.com/kfcemployee/webserv/server/router"
)

const (
	DefaultTimeoutSecs = 30
	DefaultMaxBodySize = 10 << 20
)

// File mirrors the TOML document.
type File struct {
	ClientTimeoutSecs uint         `toml:"client_timeout_secs"`
	ClientMaxBodySize uint64       `toml:"client_max_body_size"`
	Servers           []ServerConf `toml:"servers"`
}

type ServerConf struct {
	ServerAddress string               `toml:"server_address"`
	Ports         []uint16             `toml:"ports"`
	ServerName    string               `toml:"server_name"`
	Root          string               `toml:"root"`
	AdminAccess   bool                 `toml:"admin_access"`
	CGIHandlers   map[string]string    `toml:"cgi_handlers"`
	Routes        map[string]RouteConf `toml:"routes"`
	Errors        map[string]ErrorPage `toml:"errors"`
}

type RouteConf struct {
	Methods          []string `toml:"methods"`
	Directory        string   `toml:"directory"`
	DefaultFile      string   `toml:"default_file"`
	DirectoryListing bool     `toml:"directory_listing"`
	Redirect         string   `toml:"redirect"`
	RedirectType     string   `toml:"redirect_type"`
	UploadDir        string   `toml:"upload_dir"`
	CGIExtension     string   `toml:"cgi_extension"`
}

type ErrorPage struct {
	Filename string `toml:"filename"`
}

// Config is the validated result: the routing table plus the listener set
// and global limits.
type Config struct {
	TimeoutSecs uint
	MaxBodySize int64
	Table       *router.Table
	Binds       []Bind
}

type Bind struct {
	Addr string
	Port uint16
}

// Load reads and validates path.
func Load(path string, log *slog.Logger) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(string(raw), log)
}

// Parse validates a TOML document.
func Parse(doc string, log *slog.Logger) (*Config, error) {
	if log == nil {
		log = slog.Default()
	}
	var f File
	if _, err := toml.Decode(doc, &f); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if f.ClientTimeoutSecs == 0 {
		f.ClientTimeoutSecs = DefaultTimeoutSecs
	}
	if f.ClientMaxBodySize == 0 {
		f.ClientMaxBodySize = DefaultMaxBodySize
	}

	cfg := &Config{
		TimeoutSecs: f.ClientTimeoutSecs,
		MaxBodySize: int64(f.ClientMaxBodySize),
		Table:       router.NewTable(),
	}

	seen := make(map[Bind]bool)
	valid := 0
	for i := range f.Servers {
		sc := &f.Servers[i]
		vh, err := buildHost(sc)
		if err != nil {
			log.Error("skipping server entry", "server_name", sc.ServerName, "err", err)
			continue
		}
		// same (address, port, server_name) twice is a hard error for the
		// whole entry, checked before any port is registered
		dup := false
		for _, port := range sc.Ports {
			for _, have := range cfg.Table.Hosts(sc.ServerAddress, port) {
				if have.Name == vh.Name {
					dup = true
				}
			}
		}
		if dup {
			log.Error("skipping server entry: duplicate virtual host",
				"server_name", sc.ServerName, "addr", sc.ServerAddress)
			continue
		}
		for _, port := range sc.Ports {
			cfg.Table.AddHost(sc.ServerAddress, port, vh)
			b := Bind{Addr: sc.ServerAddress, Port: port}
			if !seen[b] {
				seen[b] = true
				cfg.Binds = append(cfg.Binds, b)
			}
		}
		valid++
	}
	if valid == 0 {
		return nil, fmt.Errorf("config: no valid server entries")
	}
	return cfg, nil
}

func buildHost(sc *ServerConf) (*router.VirtualHost, error) {
	ip := net.ParseIP(sc.ServerAddress)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("server_address %q is not IPv4", sc.ServerAddress)
	}
	if len(sc.Ports) == 0 {
		return nil, fmt.Errorf("at least one port required")
	}
	for _, p := range sc.Ports {
		if p == 0 {
			return nil, fmt.Errorf("port 0 is not bindable")
		}
	}
	if sc.ServerName == "" {
		return nil, fmt.Errorf("server_name required")
	}
	if sc.Root == "" {
		return nil, fmt.Errorf("root required")
	}

	vh := &router.VirtualHost{
		Name:        strings.ToLower(sc.ServerName),
		Root:        sc.Root,
		AdminAccess: sc.AdminAccess,
		ErrorPages:  make(map[int]string),
		CGI:         make(map[string]string),
	}

	for ext, interp := range sc.CGIHandlers {
		if !strings.HasPrefix(ext, ".") {
			return nil, fmt.Errorf("cgi handler key %q must start with '.'", ext)
		}
		vh.CGI[ext] = interp
	}

	for code, page := range sc.Errors {
		n, err := strconv.Atoi(code)
		if err != nil || protocol.Reason(n) == "" {
			return nil, fmt.Errorf("error page for unknown status %q", code)
		}
		vh.ErrorPages[n] = page.Filename
	}

	prefixes := make(map[string]bool)
	for prefix, rc := range sc.Routes {
		rt, err := buildRoute(prefix, &rc)
		if err != nil {
			return nil, err
		}
		if prefixes[rt.Prefix] {
			return nil, fmt.Errorf("duplicate route prefix %q", rt.Prefix)
		}
		prefixes[rt.Prefix] = true
		vh.Routes = append(vh.Routes, rt)
	}
	if len(vh.Routes) == 0 {
		return nil, fmt.Errorf("at least one route required")
	}
	return vh, nil
}

func buildRoute(prefix string, rc *RouteConf) (*router.Route, error) {
	if prefix == "" || prefix[0] != '/' {
		return nil, fmt.Errorf("route prefix %q must start with '/'", prefix)
	}
	// normalized form: no trailing '/' except the root route
	for len(prefix) > 1 && strings.HasSuffix(prefix, "/") {
		prefix = prefix[:len(prefix)-1]
	}

	rt := &router.Route{
		Prefix:      prefix,
		Directory:   rc.Directory,
		DefaultFile: rc.DefaultFile,
		Listing:     rc.DirectoryListing,
		Redirect:    rc.Redirect,
		UploadDir:   rc.UploadDir,
		CGIExt:      rc.CGIExtension,
	}

	if len(rc.Methods) == 0 {
		return nil, fmt.Errorf("route %q: methods required", prefix)
	}
	for _, m := range rc.Methods {
		m = strings.ToUpper(m)
		if !protocol.KnownMethod(m) {
			return nil, fmt.Errorf("route %q: unknown method %q", prefix, m)
		}
		rt.Methods = append(rt.Methods, m)
	}

	if rc.Redirect != "" {
		switch rc.RedirectType {
		case "", "302":
			rt.RedirectTo = protocol.StatusFound
		case "301":
			rt.RedirectTo = protocol.StatusMovedPermanently
		default:
			return nil, fmt.Errorf("route %q: redirect_type must be 301 or 302", prefix)
		}
	} else if rc.RedirectType != "" {
		return nil, fmt.Errorf("route %q: redirect_type without redirect", prefix)
	}

	if rc.CGIExtension != "" && !strings.HasPrefix(rc.CGIExtension, ".") {
		return nil, fmt.Errorf("route %q: cgi_extension must start with '.'", prefix)
	}
	return rt, nil
}
