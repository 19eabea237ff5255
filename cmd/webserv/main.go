package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kfcemployee/webserv/server"
	"github.com/kfcemployee/webserv/server/config"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <config.toml>\n", os.Args[0])
		os.Exit(2)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(os.Args[1], log)
	if err != nil {
		log.Error("configuration failed", "err", err)
		os.Exit(1)
	}

	srv, err := server.New(cfg, log)
	if err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("shutting down")
		srv.Stop()
	}()

	if err := srv.Run(); err != nil {
		log.Error("event loop failed", "err", err)
		os.Exit(1)
	}
}
