// Echobackend is a TCP echo server used as a backend when testing the load
// balancer by hand or with the loadtest tool.
//
// Usage:
//
//	go run ./scripts/echobackend --port 9001 --name backend-1
//
// Each connection first receives the server name followed by a newline, then
// every byte the client sends is written back unchanged.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"

	"github.com/spf13/pflag"

	"github.com/angeloszaimis/tcp-load-balancer/pkg/logger"
)

func main() {
	port := pflag.IntP("port", "p", 9001, "port to listen on")
	name := pflag.StringP("name", "n", "", "banner sent to each client (default: the listen address)")
	quiet := pflag.BoolP("quiet", "q", false, "do not log individual connections")
	pflag.Parse()

	log := logger.New("debug", false, "dev")

	addr := fmt.Sprintf(":%d", *port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("listen failed", slog.String("address", addr), slog.Any("err", err))
		os.Exit(1)
	}

	banner := *name
	if banner == "" {
		banner = ln.Addr().String()
	}

	log.Info("starting echo backend", slog.String("address", ln.Addr().String()), slog.String("name", banner))

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Error("accept failed", slog.Any("err", err))
			os.Exit(1)
		}

		go serve(conn, banner, log, *quiet)
	}
}

func serve(conn net.Conn, banner string, log *slog.Logger, quiet bool) {
	defer conn.Close()

	if _, err := io.WriteString(conn, banner+"\n"); err != nil {
		return
	}

	n, err := io.Copy(conn, conn)
	if quiet {
		return
	}

	attrs := []any{slog.String("client", conn.RemoteAddr().String()), slog.Int64("bytes", n)}
	if err != nil {
		log.Warn("connection failed", append(attrs, slog.Any("err", err))...)
		return
	}
	log.Info("connection closed", attrs...)
}
