// Package server wires configuration, routing and the event loop into one
// runnable instance.
package server

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kfcemployee/webserv/server/config"
	"github.com/kfcemployee/webserv/server/engine"
	"github.com/kfcemployee/webserv/server/handler"
	"github.com/kfcemployee/webserv/server/router"
)

type Server struct {
	cfg  *config.Config
	loop *engine.Loop
	log  *slog.Logger
}

// New builds a server from a validated config. listeners are bound here
// so a bind failure surfaces before Run.
func New(cfg *config.Config, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}

	d := handler.New(cfg.Table, handler.DefaultCGITimeout, log)
	loop, err := engine.NewLoop(d, time.Duration(cfg.TimeoutSecs)*time.Second, cfg.MaxBodySize, log)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	bound := 0
	for _, b := range cfg.Binds {
		if err := loop.AddListener(b.Addr, b.Port); err != nil {
			log.Error("bind failed", "addr", b.Addr, "port", b.Port, "err", err)
			continue
		}
		bound++
		for _, vh := range cfg.Table.Hosts(b.Addr, b.Port) {
			log.Info("listening", "addr", b.Addr, "port", b.Port, "server_name", vh.Name, "root", vh.Root)
		}
	}
	if bound == 0 {
		loop.Stop()
		return nil, fmt.Errorf("server: no listener could bind")
	}

	return &Server{cfg: cfg, loop: loop, log: log}, nil
}

// Run blocks in the event loop until Stop.
func (s *Server) Run() error {
	return s.loop.Run()
}

func (s *Server) Stop() {
	s.loop.Stop()
}

// Hosts exposes the routing table, read-only after startup.
func (s *Server) Hosts(addr string, port uint16) []*router.VirtualHost {
	return s.cfg.Table.Hosts(addr, port)
}
